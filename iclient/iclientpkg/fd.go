// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"sync"

	"github.com/google/btree"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/blunder"
	"github.com/NVIDIA/xlclient/itable"
)

const fdTableBTreeDegree = 32

// fdStruct is an open file or directory. The embedded Mutex protects
// offset and dcache.
//
type fdStruct struct {
	sync.Mutex
	fd     int
	client *clientStruct
	inode  *itable.InodeStruct // reference owned by the fdStruct
	fh     uint64              // backend handle
	flags  int
	offset int64
	isDir  bool
	vpath  string        // directories only; '/' terminated
	dcache *dcacheStruct // directories only
}

func (fd *fdStruct) Less(than btree.Item) bool {
	return fd.fd < than.(*fdStruct).fd
}

func (fd *fdStruct) readable() bool {
	return unix.O_WRONLY != (fd.flags & unix.O_ACCMODE)
}

func (fd *fdStruct) writable() bool {
	accMode := fd.flags & unix.O_ACCMODE
	return (unix.O_WRONLY == accMode) || (unix.O_RDWR == accMode)
}

// fdTableStruct holds every open fdStruct ordered by descriptor number.
//
type fdTableStruct struct {
	sync.Mutex
	tree *btree.BTree
}

func newFDTable() (fdTable *fdTableStruct) {
	fdTable = &fdTableStruct{
		tree: btree.New(fdTableBTreeDegree),
	}
	return
}

// insert assigns fd the lowest free descriptor number >= FDBase.
//
func (fdTable *fdTableStruct) insert(fd *fdStruct) {
	fdTable.Lock()

	candidate := globals.config.FDBase

	fdTable.tree.AscendGreaterOrEqual(&fdStruct{fd: candidate}, func(item btree.Item) bool {
		if item.(*fdStruct).fd != candidate {
			return false
		}
		candidate++
		return true
	})

	fd.fd = candidate

	_ = fdTable.tree.ReplaceOrInsert(fd)

	fdTable.Unlock()
}

func (fdTable *fdTableStruct) fetch(fdNum int) (fd *fdStruct) {
	fdTable.Lock()
	item := fdTable.tree.Get(&fdStruct{fd: fdNum})
	fdTable.Unlock()

	if nil != item {
		fd = item.(*fdStruct)
	}

	return
}

func (fdTable *fdTableStruct) remove(fdNum int) (fd *fdStruct) {
	fdTable.Lock()
	item := fdTable.tree.Delete(&fdStruct{fd: fdNum})
	fdTable.Unlock()

	if nil != item {
		fd = item.(*fdStruct)
	}

	return
}

func (fdTable *fdTableStruct) len() (numFDs int) {
	fdTable.Lock()
	numFDs = fdTable.tree.Len()
	fdTable.Unlock()
	return
}

// fdNums returns every open descriptor number in ascending order.
//
func (fdTable *fdTableStruct) fdNums() (fdNums []int) {
	fdTable.Lock()
	fdNums = make([]int, 0, fdTable.tree.Len())
	fdTable.tree.Ascend(func(item btree.Item) bool {
		fdNums = append(fdNums, item.(*fdStruct).fd)
		return true
	})
	fdTable.Unlock()
	return
}

// fdAlloc installs a new fdStruct taking ownership of the caller's inode
// reference.
//
func fdAlloc(client *clientStruct, inode *itable.InodeStruct, fh uint64, flags int, isDir bool) (fd *fdStruct) {
	fd = &fdStruct{
		client: client,
		inode:  inode,
		fh:     fh,
		flags:  flags,
		isDir:  isDir,
	}

	if isDir {
		fd.dcache = newDCache()
	}

	globals.fdTable.insert(fd)

	return
}

func fdFetch(fdNum int) (fd *fdStruct, err error) {
	if nil == globals.fdTable {
		err = blunder.NewError(unix.EBADF, "client not started")
		return
	}

	fd = globals.fdTable.fetch(fdNum)
	if nil == fd {
		err = blunder.NewError(unix.EBADF, "fd %d not open", fdNum)
	}

	return
}

// fdRelease removes fd from the table and drops its inode reference.
//
func fdRelease(fd *fdStruct) {
	_ = globals.fdTable.remove(fd.fd)

	fd.Lock()
	if nil != fd.dcache {
		fd.dcache.invalidate()
		fd.dcache = nil
	}
	if nil != fd.inode {
		fd.inode.Unref()
		fd.inode = nil
	}
	fd.Unlock()
}
