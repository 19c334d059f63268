// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/blunder"
	"github.com/NVIDIA/xlclient/xlator"
)

func setCWD(cwd string) {
	globals.cwdLock.Lock()
	globals.cwd = vmpTerminate(cwd)
	globals.cwdLock.Unlock()
}

func chdir(path string) (err error) {
	var (
		attr     *xlator.StatStruct
		resolved string
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("chdir", startTime, err)
	}()

	resolved, err = realpath(resolvePathLight(prependCWD(path)))
	if nil != err {
		return
	}

	attr, err = stat(resolved, true)
	if nil != err {
		return
	}
	if !attr.IsDir() {
		err = blunder.NewError(unix.ENOTDIR, "\"%s\" is not a directory", resolved)
		return
	}

	setCWD(resolved)

	return
}

func fchdir(fdNum int) (err error) {
	var (
		fd *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("fchdir", startTime, err)
	}()

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}
	if !fd.isDir {
		err = blunder.NewError(unix.ENOTDIR, "fd %d is not a directory", fdNum)
		return
	}

	setCWD(strings.TrimSuffix(fd.client.vmp, "/") + fd.vpath)

	return
}

// getcwd returns the current directory provided it (plus a terminating
// NUL) fits in size bytes. A size of 0 imposes no limit.
//
func getcwd(size int) (cwd string, err error) {
	globals.cwdLock.Lock()
	cwd = globals.cwd
	globals.cwdLock.Unlock()

	if "" == cwd {
		cwd = "/"
	}
	if "/" != cwd {
		cwd = strings.TrimSuffix(cwd, "/")
	}

	if (0 != size) && (len(cwd)+1 > size) {
		err = blunder.NewError(unix.ERANGE, "cwd \"%s\" does not fit in %d bytes", cwd, size)
		cwd = ""
	}

	return
}
