// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/blunder"
)

func start(config *ConfigStruct, fissionErrChan chan error) (err error) {
	globals.Lock()
	defer globals.Unlock()

	if globals.started {
		err = blunder.NewError(unix.EBUSY, "already started")
		return
	}

	err = initializeGlobals(config)
	if nil != err {
		return
	}

	globals.fissionErrChan = fissionErrChan

	for _, mountConfig := range globals.config.Mounts {
		err = mount(mountConfig.VMP, &InitParamsStruct{
			SpecFile:      mountConfig.SpecFile,
			VolumeName:    mountConfig.VolumeName,
			LogFile:       mountConfig.LogFile,
			LogLevel:      mountConfig.LogLevel,
			LookupTimeout: mountConfig.LookupTimeout,
			StatTimeout:   mountConfig.StatTimeout,
		})
		if nil != err {
			err = fmt.Errorf("mount of Mounts[] entry \"%s\" failed: %v", mountConfig.VMP, err)
			_ = unmountAll()
			_ = uninitializeGlobals()
			return
		}
	}

	if globals.config.FUSEEnabled {
		err = performMountFUSE()
		if nil != err {
			_ = unmountAll()
			_ = uninitializeGlobals()
			return
		}
	}

	err = startHTTPServer()
	if nil != err {
		_ = performUnmountFUSE()
		_ = unmountAll()
		_ = uninitializeGlobals()
		return
	}

	globals.started = true

	return
}

func stop() (err error) {
	globals.Lock()
	defer globals.Unlock()

	if !globals.started {
		err = blunder.NewError(unix.EINVAL, "not started")
		return
	}

	err = stopHTTPServer()
	if nil != err {
		return
	}

	err = performUnmountFUSE()
	if nil != err {
		return
	}

	fuseForgetAll()

	for _, fdNum := range globals.fdTable.fdNums() {
		closeErr := closeFD(fdNum)
		if nil != closeErr {
			logWarnf("close of fd %d during stop failed: %v", fdNum, closeErr)
		}
	}

	err = unmountAll()
	if nil != err {
		logErrorf("unmountAll() during stop failed: %v", err)
	}

	err = uninitializeGlobals()

	globals.fissionErrChan = nil
	globals.started = false

	return
}

func signal() (err error) {
	logSIGHUP()

	err = nil
	return
}
