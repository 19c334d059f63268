// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/blunder"
	"github.com/NVIDIA/xlclient/itable"
	"github.com/NVIDIA/xlclient/xlator"
)

func inodeIsDir(inode *itable.InodeStruct) bool {
	return unix.S_IFDIR == inode.Mode()
}

func inodeIsLnk(inode *itable.InodeStruct) bool {
	return unix.S_IFLNK == inode.Mode()
}

// linkNewEntry records an object just created under loc.parent/loc.name,
// caching its attributes, and makes it loc.inode.
//
func (client *clientStruct) linkNewEntry(loc *locStruct, stat *xlator.StatStruct) {
	linked := client.itable.Link(loc.inode, loc.parent, loc.name, stat.Ino)

	linked.SetMode(stat.Mode)
	client.transformIAttr(linked, stat)
	linked.Lookup()
	client.updateIAttrCache(linked, iattrAll, stat)

	loc.setInode(linked)
	loc.ino = linked.Ino()
}

// resolveLocFollow is resolveLoc(loc, vpath, true) but, should vpath name a
// symlink, loc is instead resolved to wherever the link ultimately points.
//
func (client *clientStruct) resolveLocFollow(loc *locStruct, vpath string) (err error) {
	var (
		realPath string
	)

	err = client.resolveLoc(loc, vpath, true)
	if nil != err {
		return
	}

	if !inodeIsLnk(loc.inode) {
		return
	}

	realPath, err = client.realpath(vpath)
	if nil != err {
		loc.wipe()
		return
	}

	loc.wipe()

	err = client.resolveLoc(loc, realPath, true)

	return
}

// locFromInode builds a loc for an inode already held (e.g. by an open fd).
//
func (client *clientStruct) locFromInode(loc *locStruct, inode *itable.InodeStruct) (err error) {
	loc.inode = inode.Ref()
	err = client.locFill(loc, inode.Ino(), 0, "")
	return
}

// statLoc returns the attributes of loc.inode, from the cache if valid.
//
func (client *clientStruct) statLoc(loc *locStruct, statOut *xlator.StatStruct) (err error) {
	if client.isIAttrCacheValid(loc.inode, statOut, iattrStat) {
		return
	}

	reply := client.windSync(&xlator.RequestStruct{
		Op:   xlator.OpStat,
		Ino:  loc.inode.Ino(),
		Path: loc.path,
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpStat, reply)
		return
	}

	client.transformIAttr(loc.inode, &reply.Stat)
	client.updateIAttrCache(loc.inode, iattrStat, &reply.Stat)

	*statOut = reply.Stat

	return
}

func (client *clientStruct) stat(vpath string, follow bool) (stat *xlator.StatStruct, err error) {
	loc := &locStruct{}
	defer loc.wipe()

	if follow {
		err = client.resolveLocFollow(loc, vpath)
	} else {
		err = client.resolveLoc(loc, vpath, true)
	}
	if nil != err {
		return
	}

	stat = &xlator.StatStruct{}

	err = client.statLoc(loc, stat)
	if nil != err {
		stat = nil
	}

	return
}

func (client *clientStruct) mkdir(vpath string, mode uint32) (err error) {
	loc := &locStruct{path: vpath}
	defer loc.wipe()

	err = client.pathLookup(loc, true)
	if nil == err {
		err = blunder.NewError(unix.EEXIST, "\"%s\" exists", vpath)
		return
	}

	loc.wipe()

	err = client.resolveLoc(loc, vpath, false)
	if nil != err {
		return
	}

	loc.setInode(client.itable.NewInode())

	reply := client.windSync(&xlator.RequestStruct{
		Op:        xlator.OpMkDir,
		ParentIno: loc.parent.Ino(),
		Name:      loc.name,
		Path:      loc.path,
		Mode:      mode,
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpMkDir, reply)
		return
	}

	client.linkNewEntry(loc, &reply.Stat)
	client.invalidateIAttrCache(loc.parent, iattrStat)

	return
}

// removeEntry removes the directory entry named by loc (via OpRmDir or
// OpUnlink) and forgets the dentry locally.
//
func (client *clientStruct) removeEntry(loc *locStruct, op xlator.OpType) (err error) {
	reply := client.windSync(&xlator.RequestStruct{
		Op:        op,
		Ino:       loc.inode.Ino(),
		ParentIno: loc.parent.Ino(),
		Name:      loc.name,
		Path:      loc.path,
	})
	if 0 > reply.OpRet {
		err = replyError(op, reply)
		return
	}

	client.itable.Unlink(loc.inode, loc.parent, loc.name)
	client.invalidateIAttrCache(loc.parent, iattrStat)
	client.invalidateIAttrCache(loc.inode, iattrAll)

	return
}

func (client *clientStruct) rmdir(vpath string) (err error) {
	loc := &locStruct{}
	defer loc.wipe()

	err = client.resolveLocWithParent(loc, vpath, true)
	if nil == err {
		err = client.removeEntry(loc, xlator.OpRmDir)
	}

	return
}

func (client *clientStruct) unlink(vpath string) (err error) {
	loc := &locStruct{}
	defer loc.wipe()

	err = client.resolveLocWithParent(loc, vpath, true)
	if nil == err {
		err = client.removeEntry(loc, xlator.OpUnlink)
	}

	return
}

func (client *clientStruct) remove(vpath string) (err error) {
	loc := &locStruct{}
	defer loc.wipe()

	err = client.resolveLocWithParent(loc, vpath, true)
	if nil != err {
		return
	}

	if inodeIsDir(loc.inode) {
		err = client.removeEntry(loc, xlator.OpRmDir)
	} else {
		err = client.removeEntry(loc, xlator.OpUnlink)
	}

	return
}

func (client *clientStruct) rename(oldVPath string, newVPath string) (err error) {
	oldLoc := &locStruct{}
	defer oldLoc.wipe()
	newLoc := &locStruct{}
	defer newLoc.wipe()

	err = client.resolveLocWithParent(oldLoc, oldVPath, true)
	if nil != err {
		return
	}
	err = client.resolveLocWithParent(newLoc, newVPath, false)
	if nil != err {
		return
	}

	reply := client.windSync(&xlator.RequestStruct{
		Op:           xlator.OpRename,
		Ino:          oldLoc.inode.Ino(),
		ParentIno:    oldLoc.parent.Ino(),
		Name:         oldLoc.name,
		Path:         oldLoc.path,
		NewParentIno: newLoc.parent.Ino(),
		NewName:      newLoc.name,
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpRename, reply)
		return
	}

	if nil != newLoc.inode {
		client.invalidateIAttrCache(newLoc.inode, iattrAll)
	}

	client.itable.Rename(oldLoc.inode, oldLoc.parent, oldLoc.name, newLoc.parent, newLoc.name)

	client.transformIAttr(oldLoc.inode, &reply.Stat)
	client.updateIAttrCache(oldLoc.inode, iattrStat, &reply.Stat)
	client.invalidateIAttrCache(oldLoc.parent, iattrStat)
	client.invalidateIAttrCache(newLoc.parent, iattrStat)

	return
}

// checkAbsent resolves vpath expecting it not to exist and leaves loc
// ready for the creation of a new entry there.
//
func (client *clientStruct) checkAbsent(loc *locStruct, vpath string) (err error) {
	loc.path = vpath

	err = client.pathLookup(loc, true)
	if nil == err {
		err = blunder.NewError(unix.EEXIST, "\"%s\" exists", vpath)
		return
	}

	loc.wipe()

	err = client.resolveLocWithParent(loc, vpath, false)
	if nil != err {
		return
	}

	loc.setInode(client.itable.NewInode())

	return
}

func (client *clientStruct) link(oldVPath string, newVPath string) (err error) {
	oldLoc := &locStruct{}
	defer oldLoc.wipe()
	newLoc := &locStruct{}
	defer newLoc.wipe()

	err = client.resolveLoc(oldLoc, oldVPath, true)
	if nil != err {
		return
	}
	err = client.checkAbsent(newLoc, newVPath)
	if nil != err {
		return
	}

	reply := client.windSync(&xlator.RequestStruct{
		Op:           xlator.OpLink,
		Ino:          oldLoc.inode.Ino(),
		Path:         oldLoc.path,
		NewParentIno: newLoc.parent.Ino(),
		NewName:      newLoc.name,
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpLink, reply)
		return
	}

	newLoc.setInode(oldLoc.inode.Ref())
	client.linkNewEntry(newLoc, &reply.Stat)
	client.invalidateIAttrCache(newLoc.parent, iattrStat)

	return
}

func (client *clientStruct) symlink(target string, linkVPath string) (err error) {
	loc := &locStruct{}
	defer loc.wipe()

	err = client.checkAbsent(loc, linkVPath)
	if nil != err {
		return
	}

	reply := client.windSync(&xlator.RequestStruct{
		Op:        xlator.OpSymLink,
		ParentIno: loc.parent.Ino(),
		Name:      loc.name,
		Path:      loc.path,
		Target:    target,
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpSymLink, reply)
		return
	}

	client.linkNewEntry(loc, &reply.Stat)
	client.invalidateIAttrCache(loc.parent, iattrStat)

	return
}

func (client *clientStruct) mknod(vpath string, mode uint32, dev uint64) (err error) {
	loc := &locStruct{}
	defer loc.wipe()

	err = client.checkAbsent(loc, vpath)
	if nil != err {
		return
	}

	reply := client.windSync(&xlator.RequestStruct{
		Op:        xlator.OpMkNod,
		ParentIno: loc.parent.Ino(),
		Name:      loc.name,
		Path:      loc.path,
		Mode:      mode,
		RDev:      dev,
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpMkNod, reply)
		return
	}

	client.linkNewEntry(loc, &reply.Stat)
	client.invalidateIAttrCache(loc.parent, iattrStat)

	return
}

func (client *clientStruct) readlink(vpath string) (target string, err error) {
	loc := &locStruct{}
	defer loc.wipe()

	err = client.resolveLoc(loc, vpath, true)
	if nil != err {
		return
	}

	if !inodeIsLnk(loc.inode) {
		err = blunder.NewError(unix.EINVAL, "\"%s\" is not a symlink", vpath)
		return
	}

	reply := client.windSync(&xlator.RequestStruct{
		Op:   xlator.OpReadLink,
		Ino:  loc.inode.Ino(),
		Path: loc.path,
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpReadLink, reply)
		return
	}

	target = string(reply.Data)

	return
}

// realpath expands every symlink along vpath (an absolute, compacted
// virtual path) returning the canonical virtual path of its target.
//
func (client *clientStruct) realpath(vpath string) (resolved string, err error) {
	var (
		numLinks uint32
	)

	resolved, err = client.realpathWalk(vpath, &numLinks)

	return
}

func (client *clientStruct) realpathWalk(vpath string, numLinks *uint32) (resolved string, err error) {
	var (
		candidate string
		component string
		iterator  *pathComponentIteratorStruct
		ok        bool
		stat      *xlator.StatStruct
		target    string
	)

	resolved = "/"

	iterator = newPathComponentIterator(vpath)

	for {
		component, ok = iterator.next()
		if !ok {
			return
		}

		switch component {
		case ".":
			continue
		case "..":
			resolved = pathDirname(resolved)
			continue
		}

		if "/" == resolved {
			candidate = "/" + component
		} else {
			candidate = resolved + "/" + component
		}

		stat, err = client.stat(candidate, false)
		if nil != err {
			return
		}

		if stat.IsLnk() {
			*numLinks++
			if *numLinks > globals.config.MaxSymlinks {
				err = blunder.NewError(unix.ELOOP, "too many symlinks resolving \"%s\"", vpath)
				return
			}

			target, err = client.readlink(candidate)
			if nil != err {
				return
			}

			if !strings.HasPrefix(target, "/") {
				target = resolvePathLight(pathDirname(candidate) + "/" + target)
			}

			resolved, err = client.realpathWalk(target, numLinks)
			if nil != err {
				return
			}

			continue
		}

		if !stat.IsDir() && iterator.remaining() {
			err = blunder.NewError(unix.ENOTDIR, "\"%s\" is not a directory", candidate)
			return
		}

		resolved = candidate
	}
}

// setattr applies the valid fields of attr to vpath (following a final
// symlink if follow).
//
func (client *clientStruct) setattr(vpath string, follow bool, valid uint32, attr *xlator.StatStruct) (err error) {
	loc := &locStruct{}
	defer loc.wipe()

	if follow {
		err = client.resolveLocFollow(loc, vpath)
	} else {
		err = client.resolveLoc(loc, vpath, true)
	}
	if nil != err {
		return
	}

	reply := client.windSync(&xlator.RequestStruct{
		Op:           xlator.OpSetAttr,
		Ino:          loc.inode.Ino(),
		Path:         loc.path,
		SetAttrValid: valid,
		Attr:         *attr,
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpSetAttr, reply)
		return
	}

	client.transformIAttr(loc.inode, &reply.Stat)
	client.updateIAttrCache(loc.inode, iattrStat, &reply.Stat)

	return
}

func chownValid(uid int, gid int) (valid uint32, attr *xlator.StatStruct) {
	attr = &xlator.StatStruct{}
	if 0 <= uid {
		valid |= xlator.SetAttrUID
		attr.UID = uint32(uid)
	}
	if 0 <= gid {
		valid |= xlator.SetAttrGID
		attr.GID = uint32(gid)
	}
	return
}

func (client *clientStruct) truncate(vpath string, length int64) (err error) {
	loc := &locStruct{}
	defer loc.wipe()

	err = client.resolveLocFollow(loc, vpath)
	if nil != err {
		return
	}

	reply := client.windSync(&xlator.RequestStruct{
		Op:     xlator.OpTruncate,
		Ino:    loc.inode.Ino(),
		Path:   loc.path,
		Offset: length,
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpTruncate, reply)
		return
	}

	client.transformIAttr(loc.inode, &reply.Stat)
	client.updateIAttrCache(loc.inode, iattrStat, &reply.Stat)

	return
}

func (client *clientStruct) statfs(vpath string) (statFS *xlator.StatFSStruct, err error) {
	loc := &locStruct{}
	defer loc.wipe()

	err = client.resolveLoc(loc, vpath, true)
	if nil != err {
		return
	}

	reply := client.windSync(&xlator.RequestStruct{
		Op:   xlator.OpStatFS,
		Ino:  loc.inode.Ino(),
		Path: loc.path,
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpStatFS, reply)
		return
	}

	statFS = &reply.StatFS
	statFS.FSID = client.fakeFSID

	return
}

// The following are the process-wide (VMP resolving) entry points.

func stat(path string, follow bool) (stat *xlator.StatStruct, err error) {
	var (
		client *clientStruct
		vpath  string
	)

	startTime := time.Now()
	defer func() {
		if follow {
			globals.stats.apiDone("stat", startTime, err)
		} else {
			globals.stats.apiDone("lstat", startTime, err)
		}
	}()

	client, vpath, err = resolvedPathHandle(path)
	if nil != err {
		return
	}

	stat, err = client.stat(vpath, follow)

	return
}

func mkdir(path string, mode uint32) (err error) {
	var (
		client *clientStruct
		vpath  string
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("mkdir", startTime, err)
	}()

	client, vpath, err = resolvedPathHandle(path)
	if nil != err {
		return
	}

	err = client.mkdir(vpath, mode)

	return
}

func rmdir(path string) (err error) {
	var (
		client *clientStruct
		vpath  string
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("rmdir", startTime, err)
	}()

	client, vpath, err = resolvedPathHandle(path)
	if nil != err {
		return
	}

	err = client.rmdir(vpath)

	return
}

func unlink(path string) (err error) {
	var (
		client *clientStruct
		vpath  string
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("unlink", startTime, err)
	}()

	client, vpath, err = resolvedPathHandle(path)
	if nil != err {
		return
	}

	err = client.unlink(vpath)

	return
}

func remove(path string) (err error) {
	var (
		client *clientStruct
		vpath  string
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("remove", startTime, err)
	}()

	client, vpath, err = resolvedPathHandle(path)
	if nil != err {
		return
	}

	err = client.remove(vpath)

	return
}

// resolvedPathHandles resolves a pair of paths that must both be served by
// the same client.
//
func resolvedPathHandles(oldPath string, newPath string) (client *clientStruct, oldVPath string, newVPath string, err error) {
	var (
		newClient *clientStruct
	)

	client, oldVPath, err = resolvedPathHandle(oldPath)
	if nil != err {
		return
	}
	newClient, newVPath, err = resolvedPathHandle(newPath)
	if nil != err {
		return
	}

	if client != newClient {
		err = blunder.NewError(unix.EXDEV, "\"%s\" and \"%s\" are on different VMPs", oldPath, newPath)
	}

	return
}

func rename(oldPath string, newPath string) (err error) {
	var (
		client   *clientStruct
		oldVPath string
		newVPath string
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("rename", startTime, err)
	}()

	client, oldVPath, newVPath, err = resolvedPathHandles(oldPath, newPath)
	if nil != err {
		return
	}

	err = client.rename(oldVPath, newVPath)

	return
}

func link(oldPath string, newPath string) (err error) {
	var (
		client   *clientStruct
		oldVPath string
		newVPath string
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("link", startTime, err)
	}()

	client, oldVPath, newVPath, err = resolvedPathHandles(oldPath, newPath)
	if nil != err {
		return
	}

	err = client.link(oldVPath, newVPath)

	return
}

func symlink(target string, linkPath string) (err error) {
	var (
		client *clientStruct
		vpath  string
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("symlink", startTime, err)
	}()

	client, vpath, err = resolvedPathHandle(linkPath)
	if nil != err {
		return
	}

	err = client.symlink(target, vpath)

	return
}

func readlink(path string) (target string, err error) {
	var (
		client *clientStruct
		vpath  string
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("readlink", startTime, err)
	}()

	client, vpath, err = resolvedPathHandle(path)
	if nil != err {
		return
	}

	target, err = client.readlink(vpath)

	return
}

func realpath(path string) (resolved string, err error) {
	var (
		client *clientStruct
		vpath  string
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("realpath", startTime, err)
	}()

	client, vpath, err = resolvedPathHandle(path)
	if nil != err {
		return
	}

	resolved, err = client.realpath(vpath)
	if nil != err {
		return
	}

	if "/" == resolved {
		resolved = strings.TrimSuffix(client.vmp, "/")
		if "" == resolved {
			resolved = "/"
		}
	} else {
		resolved = strings.TrimSuffix(client.vmp, "/") + resolved
	}

	return
}

func setattr(op string, path string, follow bool, valid uint32, attr *xlator.StatStruct) (err error) {
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

	err = client.setattr(vpath, follow, valid, attr)

	return
}

func chmod(path string, mode uint32) (err error) {
	err = setattr("chmod", path, true, xlator.SetAttrMode, &xlator.StatStruct{Mode: mode})
	return
}

func chown(path string, uid int, gid int, follow bool) (err error) {
	valid, attr := chownValid(uid, gid)
	if follow {
		err = setattr("chown", path, true, valid, attr)
	} else {
		err = setattr("lchown", path, false, valid, attr)
	}
	return
}

func utimes(op string, path string, atime time.Time, mtime time.Time) (err error) {
	err = setattr(op, path, true, xlator.SetAttrATime|xlator.SetAttrMTime, &xlator.StatStruct{ATime: atime, MTime: mtime})
	return
}

// utime sets both times to now when times is nil.
//
func utime(path string, times *unix.Utimbuf) (err error) {
	var (
		atime time.Time
		mtime time.Time
	)

	if nil == times {
		atime = time.Now()
		mtime = atime
	} else {
		atime = time.Unix(int64(times.Actime), 0)
		mtime = time.Unix(int64(times.Modtime), 0)
	}

	err = utimes("utime", path, atime, mtime)

	return
}

func truncate(path string, length int64) (err error) {
	var (
		client *clientStruct
		vpath  string
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("truncate", startTime, err)
	}()

	client, vpath, err = resolvedPathHandle(path)
	if nil != err {
		return
	}

	err = client.truncate(vpath, length)

	return
}

func mknod(op string, path string, mode uint32, dev uint64) (err error) {
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

	err = client.mknod(vpath, mode, dev)

	return
}

func statfs(op string, path string) (statFS *xlator.StatFSStruct, err error) {
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

	statFS, err = client.statfs(vpath)

	return
}
