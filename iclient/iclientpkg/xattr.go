// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/blunder"
	"github.com/NVIDIA/xlclient/xlator"
)

// xattrValue copies value into dest. A zero length dest merely asks for
// the size of value.
//
func xattrValue(name string, value []byte, dest []byte) (size int, err error) {
	size = len(value)

	if 0 == len(dest) {
		return
	}

	if len(dest) < size {
		err = blunder.NewError(unix.ERANGE, "buffer too small for xattr \"%s\" (%d < %d)", name, len(dest), size)
		size = -1
		return
	}

	_ = copy(dest, value)

	return
}

func validateSetXAttr(name string, flags int) (err error) {
	if "" == name {
		err = blunder.NewError(unix.EINVAL, "empty xattr name")
		return
	}

	switch flags {
	case 0, unix.XATTR_CREATE, unix.XATTR_REPLACE:
	default:
		err = blunder.NewError(unix.EINVAL, "invalid xattr flags 0x%X", flags)
	}

	return
}

func (client *clientStruct) getxattr(vpath string, follow bool, name string, dest []byte) (size int, err error) {
	loc := &locStruct{}
	defer loc.wipe()

	if "" == name {
		err = blunder.NewError(unix.EINVAL, "empty xattr name")
		return
	}

	if follow {
		err = client.resolveLocFollow(loc, vpath)
	} else {
		err = client.resolveLoc(loc, vpath, true)
	}
	if nil != err {
		return
	}

	reply := client.windSync(&xlator.RequestStruct{
		Op:        xlator.OpGetXAttr,
		Ino:       loc.inode.Ino(),
		Path:      loc.path,
		XAttrName: name,
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpGetXAttr, reply)
		return
	}

	size, err = xattrValue(name, reply.Data, dest)

	return
}

func (client *clientStruct) setxattr(vpath string, follow bool, name string, value []byte, flags int) (err error) {
	loc := &locStruct{}
	defer loc.wipe()

	err = validateSetXAttr(name, flags)
	if nil != err {
		return
	}

	if follow {
		err = client.resolveLocFollow(loc, vpath)
	} else {
		err = client.resolveLoc(loc, vpath, true)
	}
	if nil != err {
		return
	}

	reply := client.windSync(&xlator.RequestStruct{
		Op:        xlator.OpSetXAttr,
		Ino:       loc.inode.Ino(),
		Path:      loc.path,
		XAttrName: name,
		Data:      value,
		Flags:     uint32(flags),
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpSetXAttr, reply)
	}

	return
}

func (fd *fdStruct) fgetxattr(name string, dest []byte) (size int, err error) {
	if "" == name {
		err = blunder.NewError(unix.EINVAL, "empty xattr name")
		return
	}

	reply := fd.client.windSync(&xlator.RequestStruct{
		Op:        xlator.OpFGetXAttr,
		Ino:       fd.inode.Ino(),
		FH:        fd.fh,
		XAttrName: name,
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpFGetXAttr, reply)
		return
	}

	size, err = xattrValue(name, reply.Data, dest)

	return
}

func (fd *fdStruct) fsetxattr(name string, value []byte, flags int) (err error) {
	err = validateSetXAttr(name, flags)
	if nil != err {
		return
	}

	reply := fd.client.windSync(&xlator.RequestStruct{
		Op:        xlator.OpFSetXAttr,
		Ino:       fd.inode.Ino(),
		FH:        fd.fh,
		XAttrName: name,
		Data:      value,
		Flags:     uint32(flags),
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpFSetXAttr, reply)
	}

	return
}

func getxattr(op string, path string, follow bool, name string, dest []byte) (size int, err error) {
	var (
		client *clientStruct
		vpath  string
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone(op, startTime, err)
	}()

	size = -1

	client, vpath, err = resolvedPathHandle(path)
	if nil != err {
		return
	}

	size, err = client.getxattr(vpath, follow, name, dest)
	if nil != err {
		size = -1
	}

	return
}

func setxattr(op string, path string, follow bool, name string, value []byte, flags int) (err error) {
	var (
		client *clientStruct
		vpath  string
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone(op, startTime, err)
	}()

	client, vpath, err = resolvedPathHandle(path)
	if nil != err {
		return
	}

	err = client.setxattr(vpath, follow, name, value, flags)

	return
}

func fgetxattr(fdNum int, name string, dest []byte) (size int, err error) {
	var (
		fd *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("fgetxattr", startTime, err)
	}()

	size = -1

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	size, err = fd.fgetxattr(name, dest)
	if nil != err {
		size = -1
	}

	return
}

func fsetxattr(fdNum int, name string, value []byte, flags int) (err error) {
	var (
		fd *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("fsetxattr", startTime, err)
	}()

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	err = fd.fsetxattr(name, value, flags)

	return
}

func xattrNotSupported(op string) (err error) {
	err = blunder.NewError(unix.ENOSYS, "%s not supported", op)
	globals.stats.apiDone(op, time.Now(), err)
	return
}
