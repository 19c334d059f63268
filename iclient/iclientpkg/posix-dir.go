// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"time"

	"github.com/NVIDIA/cstruct"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/blunder"
	"github.com/NVIDIA/xlclient/xlator"
)

// DirentStruct is one directory entry as returned by Readdir(). Off is the
// cookie that, passed to Seekdir(), resumes reading after this entry.
//
type DirentStruct struct {
	Ino  uint64
	Off  int64
	Type uint8 // DT_*
	Name string
}

// dirent64HeaderStruct is the fixed portion of a struct linux_dirent64.
// The NUL terminated name follows, padded to a multiple of 8 bytes.
//
type dirent64HeaderStruct struct {
	Ino    uint64
	Off    int64
	Reclen uint16
	Type   uint8
}

const (
	dirent64HeaderSize = 8 + 8 + 2 + 1
	dirent64Alignment  = 8
)

func dirent64Reclen(name string) int {
	reclen := dirent64HeaderSize + len(name) + 1
	return (reclen + dirent64Alignment - 1) &^ (dirent64Alignment - 1)
}

func (client *clientStruct) opendir(vpath string) (fd *fdStruct, err error) {
	fd, err = client.open(vpath, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	return
}

// readdirLocked returns the entry at fd.offset, first from the dcache and
// failing that via a readdirp refill. A nil entry (with nil err) signals
// the end of the directory. Caller holds fd's lock.
//
func (fd *fdStruct) readdirLocked() (entry *xlator.DirEntryStruct, err error) {
	var (
		ok bool
	)

	if !fd.isDir {
		err = blunder.NewError(unix.ENOTDIR, "fd %d is not a directory", fd.fd)
		return
	}

	entry, ok = fd.dcache.readdir(&fd.offset)
	if ok {
		return
	}

	reply := fd.client.windSync(&xlator.RequestStruct{
		Op:     xlator.OpReadDirP,
		Ino:    fd.inode.Ino(),
		FH:     fd.fh,
		Path:   fd.vpath,
		Offset: fd.offset,
		Size:   globals.config.ReaddirBlockSize,
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpReadDirP, reply)
		return
	}

	if 0 == len(reply.Entries) {
		entry = nil
		return
	}

	fd.dcache.update(reply.Entries)

	entry, ok = fd.dcache.readdir(&fd.offset)
	if !ok {
		entry = nil
	}

	return
}

func (fd *fdStruct) readdir() (dirent *DirentStruct, err error) {
	var (
		entry *xlator.DirEntryStruct
	)

	fd.Lock()
	defer fd.Unlock()

	entry, err = fd.readdirLocked()
	if (nil != err) || (nil == entry) {
		return
	}

	dirent = &DirentStruct{
		Ino:  entry.Ino,
		Off:  entry.Off,
		Type: entry.Type,
		Name: entry.Name,
	}

	return
}

// getdents packs as many whole linux_dirent64 records as fit into buf.
//
func (fd *fdStruct) getdents(buf []byte) (n int, err error) {
	var (
		entry      *xlator.DirEntryStruct
		header     []byte
		priorOff   int64
		reclen     int
		recordSize int
	)

	fd.Lock()
	defer fd.Unlock()

	for {
		priorOff = fd.offset

		entry, err = fd.readdirLocked()
		if (nil != err) || (nil == entry) {
			return
		}

		reclen = dirent64Reclen(entry.Name)

		if n+reclen > len(buf) {
			// Leave this entry to be returned by the next call
			fd.offset = priorOff
			if 0 == n {
				err = blunder.NewError(unix.EINVAL, "buffer too small for \"%s\"", entry.Name)
			}
			return
		}

		header, err = cstruct.Pack(&dirent64HeaderStruct{
			Ino:    entry.Ino,
			Off:    entry.Off,
			Reclen: uint16(reclen),
			Type:   entry.Type,
		}, cstruct.LittleEndian)
		if nil != err {
			err = blunder.AddError(err, unix.EIO)
			return
		}

		recordSize = copy(buf[n:], header)
		recordSize += copy(buf[n+recordSize:], entry.Name)

		for recordSize < reclen {
			buf[n+recordSize] = 0
			recordSize++
		}

		n += reclen
	}
}

func (fd *fdStruct) seekdir(offset int64) (err error) {
	if !fd.isDir {
		err = blunder.NewError(unix.ENOTDIR, "fd %d is not a directory", fd.fd)
		return
	}

	fd.Lock()
	fd.offset = offset
	fd.Unlock()

	return
}

func (fd *fdStruct) telldir() (offset int64, err error) {
	if !fd.isDir {
		err = blunder.NewError(unix.ENOTDIR, "fd %d is not a directory", fd.fd)
		return
	}

	fd.Lock()
	offset = fd.offset
	fd.Unlock()

	return
}

func opendir(path string) (fdNum int, err error) {
	var (
		client *clientStruct
		fd     *fdStruct
		vpath  string
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("opendir", startTime, err)
	}()

	fdNum = -1

	client, vpath, err = resolvedPathHandle(path)
	if nil != err {
		return
	}

	fd, err = client.opendir(vpath)
	if nil != err {
		return
	}

	fdNum = fd.fd

	return
}

func readdir(fdNum int) (dirent *DirentStruct, err error) {
	var (
		fd *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("readdir", startTime, err)
	}()

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	dirent, err = fd.readdir()

	return
}

// readdirR fills in entry, returning it or, at the end of the directory,
// nil.
//
func readdirR(fdNum int, entry *DirentStruct) (result *DirentStruct, err error) {
	var (
		dirent *DirentStruct
	)

	if nil == entry {
		err = blunder.NewError(unix.EINVAL, "missing entry")
		return
	}

	dirent, err = readdir(fdNum)
	if (nil != err) || (nil == dirent) {
		return
	}

	*entry = *dirent
	result = entry

	return
}

func getdents(fdNum int, buf []byte) (n int, err error) {
	var (
		fd *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("getdents", startTime, err)
	}()

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	n, err = fd.getdents(buf)

	return
}

func closedir(fdNum int) (err error) {
	var (
		fd *fdStruct
	)

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}
	if !fd.isDir {
		err = blunder.NewError(unix.ENOTDIR, "fd %d is not a directory", fdNum)
		return
	}

	err = closeFD(fdNum)

	return
}

func seekdir(fdNum int, offset int64) (err error) {
	var (
		fd *fdStruct
	)

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	err = fd.seekdir(offset)

	return
}

func telldir(fdNum int) (offset int64, err error) {
	var (
		fd *fdStruct
	)

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	offset, err = fd.telldir()

	return
}

func rewinddir(fdNum int) (err error) {
	err = seekdir(fdNum, 0)
	return
}
