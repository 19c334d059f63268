// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Program iclient provides a command-line wrapper around package iclientpkg APIs.
//
// The program requires a single argument that is a path to a YAML formatted
// configuration to load (see package iclientpkg for a sample). Every volume
// listed under Mounts is mounted at its VMP and, if FUSEEnabled, the one
// named by FUSEVMP is presented via FUSE until SIGINT or SIGTERM is received.
// SIGHUP triggers log rotation.
//
package main

import (
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/iclient/iclientpkg"
)

func main() {
	var (
		config         *iclientpkg.ConfigStruct
		err            error
		fissionErrChan chan error
		signalChan     chan os.Signal
		signalReceived os.Signal
	)

	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "no config file specified\n")
		os.Exit(1)
	}

	config, err = iclientpkg.LoadConfigFile(os.Args[1])
	if nil != err {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Start

	fissionErrChan = make(chan error, 1)

	err = iclientpkg.Start(config, fissionErrChan)
	if nil != err {
		fmt.Fprintf(os.Stderr, "iclientpkg.Start(config, fissionErrChan) failed: %v\n", err)
		os.Exit(1)
	}

	// Arm signal handler used to indicate termination & wait on it
	//
	// Note: signal'd chan must be buffered to avoid race with window between
	// arming handler and blocking on the chan read

	signalChan = make(chan os.Signal, 1)

	signal.Notify(signalChan, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)

	for {
		select {
		case signalReceived = <-signalChan:
			if unix.SIGHUP == signalReceived {
				err = iclientpkg.Signal()
				if nil != err {
					iclientpkg.LogWarnf("iclientpkg.Signal() failed: %v", err)
				}
				continue
			}

			iclientpkg.LogInfof("signal %v received", signalReceived)
		case err = <-fissionErrChan:
			iclientpkg.LogWarnf("FUSE session ended unexpectedly: %v", err)
		}

		break
	}

	// Stop

	err = iclientpkg.Stop()
	if nil != err {
		fmt.Fprintf(os.Stderr, "iclientpkg.Stop() failed: %v\n", err)
		os.Exit(1)
	}
}
