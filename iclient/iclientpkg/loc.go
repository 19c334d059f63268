// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"strings"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/blunder"
	"github.com/NVIDIA/xlclient/itable"
)

// locStruct names an object by virtual path and, once resolved, by inode.
// A locStruct owns one reference on each of parent and inode (when not nil).
//
type locStruct struct {
	path   string
	name   string
	ino    uint64
	parent *itable.InodeStruct
	inode  *itable.InodeStruct
}

// release drops the references held by loc but retains its path.
//
func (loc *locStruct) release() {
	if nil != loc.parent {
		loc.parent.Unref()
		loc.parent = nil
	}
	if nil != loc.inode {
		loc.inode.Unref()
		loc.inode = nil
	}
}

// wipe releases loc's references and clears it. Safe to call repeatedly.
//
func (loc *locStruct) wipe() {
	loc.release()
	loc.path = ""
	loc.name = ""
	loc.ino = 0
}

func (loc *locStruct) setParent(parent *itable.InodeStruct) {
	if nil != loc.parent {
		loc.parent.Unref()
	}
	loc.parent = parent
}

func (loc *locStruct) setInode(inode *itable.InodeStruct) {
	if nil != loc.inode {
		loc.inode.Unref()
	}
	loc.inode = inode
}

// locFill completes whatever of loc is missing using only the inode table:
// the inode (by ino, else by parIno/name), a parent, the path, and the name.
// Every object other than the root must end up with a parent.
//
func (client *clientStruct) locFill(loc *locStruct, ino uint64, parIno uint64, name string) (err error) {
	var (
		slashIndex int
	)

	if nil == loc.inode {
		if 0 != ino {
			loc.inode = client.itable.Search(ino, "")
		}
		if (nil == loc.inode) && (0 != parIno) && ("" != name) {
			loc.inode = client.itable.Search(parIno, name)
		}
	}

	if nil == loc.parent {
		if nil != loc.inode {
			loc.parent = client.itable.Parent(loc.inode, parIno, name)
		} else if 0 != parIno {
			loc.parent = client.itable.Search(parIno, "")
		}
	}

	if "" == loc.path {
		if nil != loc.inode {
			loc.path, err = client.itable.Path(loc.inode, "")
		} else if nil != loc.parent {
			loc.path, err = client.itable.Path(loc.parent, name)
		}
		if nil != err {
			client.logger.Errorf("unable to construct path (ino %d parent %d name \"%s\"): %v", ino, parIno, name, err)
			return
		}
	}

	slashIndex = strings.LastIndexByte(loc.path, '/')
	if slashIndex >= 0 {
		loc.name = loc.path[slashIndex+1:]
	} else {
		loc.name = loc.path
	}

	if nil != loc.inode {
		loc.ino = loc.inode.Ino()
	} else {
		loc.ino = ino
	}

	if (itable.RootIno != loc.ino) && (nil == loc.parent) {
		client.logCriticalf("parent not found for \"%s\" (ino %d parent %d)", loc.path, ino, parIno)
		err = blunder.NewError(unix.EINVAL, "parent not found for \"%s\"", loc.path)
		return
	}

	return
}
