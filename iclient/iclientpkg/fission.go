// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"math"
	"syscall"
	"time"

	"github.com/NVIDIA/fission"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/blunder"
	"github.com/NVIDIA/xlclient/itable"
	"github.com/NVIDIA/xlclient/xlator"
)

const (
	attrBlockSize = uint32(512)

	fuseDefaultPermissions = true // Make VFS/FUSE do access checks rather than this driver

	fuseSubtype = "xlclient"

	initOutFlags = uint32(0) |
		fission.InitFlagsAsyncRead |
		fission.InitFlagsFileOps |
		fission.InitFlagsAtomicOTrunc |
		fission.InitFlagsBigWrites |
		fission.InitFlagsDoReadDirPlus |
		fission.InitFlagsReaddirplusAuto |
		fission.InitFlagsParallelDirops |
		fission.InitFlagsMaxPages
)

// performMountFUSE presents the client serving config.FUSEVMP at
// config.FUSEMountPointDirPath. Kernel NodeIDs are the inode numbers of
// that client's inode table (so 1 is the root) and FUSE file handles are
// fd numbers.
//
func performMountFUSE() (err error) {
	var (
		entry *vmpEntryStruct
	)

	entry = globals.vmpRegistry.searchEntry(vmpTerminate(globals.config.FUSEVMP), true)
	if nil == entry {
		err = blunder.NewError(unix.ENODEV, "FUSEVMP \"%s\" not mounted", globals.config.FUSEVMP)
		return
	}

	globals.fuseClient = entry.client
	globals.fuseNodeMap = make(map[uint64]*fuseNodeStruct)

	globals.fissionVolume = fission.NewVolume(
		globals.config.FUSEVolumeName,
		globals.config.FUSEMountPointDirPath,
		fuseSubtype,
		globals.config.FUSEMaxRead,
		globals.config.FUSEMaxWrite,
		fuseDefaultPermissions,
		globals.config.FUSEAllowOther,
		&globals,
		newLogger(),
		globals.fissionErrChan,
	)

	err = globals.fissionVolume.DoMount()
	if nil != err {
		globals.fissionVolume = nil
		fuseForgetAll()
		globals.fuseClient = nil
	}

	return
}

func performUnmountFUSE() (err error) {
	if nil == globals.fissionVolume {
		return
	}

	err = globals.fissionVolume.DoUnmount()

	globals.fissionVolume = nil
	fuseForgetAll()
	globals.fuseClient = nil

	return
}

// fuseNodeStruct holds a reference on an inode for as long as the kernel
// may still name it by NodeID. nLookup counts the entries handed to the
// kernel that a FORGET has yet to account for.
//
type fuseNodeStruct struct {
	inode   *itable.InodeStruct
	nLookup uint64
}

// fuseRememberNode records that an entry for nodeID was returned to the
// kernel. The root is never forgotten by the kernel and is always in the
// table, so it is not tracked.
//
func fuseRememberNode(client *clientStruct, nodeID uint64) {
	var (
		node *fuseNodeStruct
		ok   bool
	)

	if xlator.RootIno == nodeID {
		return
	}

	globals.fuseNodeLock.Lock()
	defer globals.fuseNodeLock.Unlock()

	if nil == globals.fuseNodeMap {
		globals.fuseNodeMap = make(map[uint64]*fuseNodeStruct)
	}

	node, ok = globals.fuseNodeMap[nodeID]
	if ok {
		node.nLookup++
		return
	}

	inode := client.itable.Search(nodeID, "")
	if nil == inode {
		logWarnf("NodeID %d returned to the kernel but not in the inode table", nodeID)
		return
	}

	globals.fuseNodeMap[nodeID] = &fuseNodeStruct{
		inode:   inode,
		nLookup: 1,
	}
}

// fuseForgetNode drops nLookup of the kernel's references to nodeID,
// releasing the inode once none remain.
//
func fuseForgetNode(nodeID uint64, nLookup uint64) {
	globals.fuseNodeLock.Lock()

	node, ok := globals.fuseNodeMap[nodeID]
	if !ok {
		globals.fuseNodeLock.Unlock()
		return
	}

	if nLookup < node.nLookup {
		node.nLookup -= nLookup
		globals.fuseNodeLock.Unlock()
		return
	}

	delete(globals.fuseNodeMap, nodeID)

	globals.fuseNodeLock.Unlock()

	node.inode.Unref()
}

func fuseForgetAll() {
	globals.fuseNodeLock.Lock()
	nodeMap := globals.fuseNodeMap
	globals.fuseNodeMap = nil
	globals.fuseNodeLock.Unlock()

	for _, node := range nodeMap {
		node.inode.Unref()
	}
}

func fuseDone(op string, startTime time.Time, errno syscall.Errno) {
	var (
		err error
	)

	if 0 != errno {
		err = errno
	}

	globals.stats.apiDone("fuse_"+op, startTime, err)
}

func fuseErrno(err error) (errno syscall.Errno) {
	if nil == err {
		return
	}

	errno = blunder.Errno(err)
	if 0 == errno {
		errno = syscall.EIO
	}

	return
}

// fuseNodePath returns the path (within globals.fuseClient's volume) of
// nodeID, with name appended if non-empty.
//
func fuseNodePath(nodeID uint64, name string) (client *clientStruct, vpath string, errno syscall.Errno) {
	var (
		err error
	)

	client = globals.fuseClient
	if nil == client {
		errno = syscall.ENODEV
		return
	}

	inode := client.itable.Search(nodeID, "")
	if nil == inode {
		errno = syscall.ENOENT
		return
	}

	vpath, err = client.itable.Path(inode, name)

	inode.Unref()

	errno = fuseErrno(err)

	return
}

func fuseFD(fh uint64) (fd *fdStruct, errno syscall.Errno) {
	fd, err := fdFetch(int(fh))
	errno = fuseErrno(err)
	return
}

func unixTime(t time.Time) (sec uint64, nsec uint32) {
	if t.IsZero() || (0 > t.UnixNano()) {
		return
	}
	sec, nsec = nsToUnixTime(uint64(t.UnixNano()))
	return
}

func fuseAttr(stat *xlator.StatStruct, attr *fission.Attr) {
	attr.Ino = stat.Ino
	attr.Size = stat.Size
	attr.Blocks = stat.Blocks
	attr.ATimeSec, attr.ATimeNSec = unixTime(stat.ATime)
	attr.MTimeSec, attr.MTimeNSec = unixTime(stat.MTime)
	attr.CTimeSec, attr.CTimeNSec = unixTime(stat.CTime)
	attr.Mode = stat.Mode
	attr.NLink = stat.NLink
	attr.UID = stat.UID
	attr.GID = stat.GID
	attr.RDev = uint32(stat.RDev)
	attr.BlkSize = stat.BlkSize
	attr.Padding = 0

	if 0 == attr.BlkSize {
		attr.BlkSize = attrBlockSize
	}
	if (0 == attr.Blocks) && (unix.S_IFREG == (attr.Mode & unix.S_IFMT)) {
		attr.Blocks = (attr.Size + uint64(attrBlockSize) - 1) / uint64(attrBlockSize)
	}
}

func fuseEntryOut(stat *xlator.StatStruct) (entryOut fission.EntryOut) {
	entryOut = fission.EntryOut{
		NodeID:         stat.Ino,
		Generation:     0,
		EntryValidSec:  globals.fuseEntryValidSec,
		EntryValidNSec: globals.fuseEntryValidNSec,
		AttrValidSec:   globals.fuseAttrValidSec,
		AttrValidNSec:  globals.fuseAttrValidNSec,
	}

	fuseAttr(stat, &entryOut.Attr)

	return
}

// fuseStatEntry stats nodeID/name, returning the EntryOut to report.
//
func fuseStatEntry(nodeID uint64, name string) (entryOut fission.EntryOut, errno syscall.Errno) {
	client, vpath, errno := fuseNodePath(nodeID, name)
	if 0 != errno {
		return
	}

	stat, err := client.stat(vpath, false)
	if nil != err {
		errno = fuseErrno(err)
		return
	}

	entryOut = fuseEntryOut(stat)

	return
}

// fuseNewEntry is fuseStatEntry for replies that hand the kernel a new
// reference to the entry (LOOKUP, CREATE, MKDIR and the like).
//
func fuseNewEntry(nodeID uint64, name string) (entryOut fission.EntryOut, errno syscall.Errno) {
	entryOut, errno = fuseStatEntry(nodeID, name)
	if 0 == errno {
		fuseRememberNode(globals.fuseClient, entryOut.NodeID)
	}
	return
}

func (dummy *globalsStruct) DoLookup(inHeader *fission.InHeader, lookupIn *fission.LookupIn) (lookupOut *fission.LookupOut, errno syscall.Errno) {
	var (
		entryOut  fission.EntryOut
		startTime time.Time = time.Now()
	)

	logTracef("==> DoLookup(inHeader: %+v, lookupIn: %+v)", inHeader, lookupIn)
	defer func() {
		logTracef("<== DoLookup(lookupOut: %+v, errno: %v)", lookupOut, errno)
	}()

	defer func() {
		fuseDone("lookup", startTime, errno)
	}()

	entryOut, errno = fuseNewEntry(inHeader.NodeID, string(lookupIn.Name[:]))
	if 0 != errno {
		return
	}

	lookupOut = &fission.LookupOut{
		EntryOut: entryOut,
	}

	return
}

func (dummy *globalsStruct) DoForget(inHeader *fission.InHeader, forgetIn *fission.ForgetIn) {
	logTracef("==> DoForget(inHeader: %+v, forgetIn: %+v)", inHeader, forgetIn)
	defer func() {
		logTracef("<== DoForget()")
	}()

	fuseForgetNode(inHeader.NodeID, forgetIn.NLookup)
}

func (dummy *globalsStruct) DoGetAttr(inHeader *fission.InHeader, getAttrIn *fission.GetAttrIn) (getAttrOut *fission.GetAttrOut, errno syscall.Errno) {
	var (
		entryOut  fission.EntryOut
		startTime time.Time = time.Now()
	)

	logTracef("==> DoGetAttr(inHeader: %+v, getAttrIn: %+v)", inHeader, getAttrIn)
	defer func() {
		logTracef("<== DoGetAttr(getAttrOut: %+v, errno: %v)", getAttrOut, errno)
	}()

	defer func() {
		fuseDone("getattr", startTime, errno)
	}()

	entryOut, errno = fuseStatEntry(inHeader.NodeID, "")
	if 0 != errno {
		return
	}

	getAttrOut = &fission.GetAttrOut{
		AttrValidSec:  globals.fuseAttrValidSec,
		AttrValidNSec: globals.fuseAttrValidNSec,
		Dummy:         0,
		Attr:          entryOut.Attr,
	}

	return
}

func (dummy *globalsStruct) DoSetAttr(inHeader *fission.InHeader, setAttrIn *fission.SetAttrIn) (setAttrOut *fission.SetAttrOut, errno syscall.Errno) {
	var (
		attr      xlator.StatStruct
		client    *clientStruct
		entryOut  fission.EntryOut
		err       error
		startTime time.Time = time.Now()
		valid     uint32
		vpath     string
	)

	logTracef("==> DoSetAttr(inHeader: %+v, setAttrIn: %+v)", inHeader, setAttrIn)
	defer func() {
		logTracef("<== DoSetAttr(setAttrOut: %+v, errno: %v)", setAttrOut, errno)
	}()

	defer func() {
		fuseDone("setattr", startTime, errno)
	}()

	client, vpath, errno = fuseNodePath(inHeader.NodeID, "")
	if 0 != errno {
		return
	}

	if 0 != (setAttrIn.Valid & fission.SetAttrInValidMode) {
		valid |= xlator.SetAttrMode
		attr.Mode = setAttrIn.Mode
	}
	if 0 != (setAttrIn.Valid & fission.SetAttrInValidUID) {
		valid |= xlator.SetAttrUID
		attr.UID = setAttrIn.UID
	}
	if 0 != (setAttrIn.Valid & fission.SetAttrInValidGID) {
		valid |= xlator.SetAttrGID
		attr.GID = setAttrIn.GID
	}
	if 0 != (setAttrIn.Valid & fission.SetAttrInValidSize) {
		valid |= xlator.SetAttrSize
		attr.Size = setAttrIn.Size
	}
	if 0 != (setAttrIn.Valid & fission.SetAttrInValidATime) {
		valid |= xlator.SetAttrATime
		if 0 != (setAttrIn.Valid & fission.SetAttrInValidATimeNow) {
			attr.ATime = startTime
		} else {
			attr.ATime = time.Unix(int64(setAttrIn.ATimeSec), int64(setAttrIn.ATimeNSec))
		}
	}
	if 0 != (setAttrIn.Valid & fission.SetAttrInValidMTime) {
		valid |= xlator.SetAttrMTime
		if 0 != (setAttrIn.Valid & fission.SetAttrInValidMTimeNow) {
			attr.MTime = startTime
		} else {
			attr.MTime = time.Unix(int64(setAttrIn.MTimeSec), int64(setAttrIn.MTimeNSec))
		}
	}

	if 0 != valid {
		err = client.setattr(vpath, false, valid, &attr)
		if nil != err {
			errno = fuseErrno(err)
			return
		}
	}

	entryOut, errno = fuseStatEntry(inHeader.NodeID, "")
	if 0 != errno {
		return
	}

	setAttrOut = &fission.SetAttrOut{
		AttrValidSec:  globals.fuseAttrValidSec,
		AttrValidNSec: globals.fuseAttrValidNSec,
		Dummy:         0,
		Attr:          entryOut.Attr,
	}

	return
}

func (dummy *globalsStruct) DoReadLink(inHeader *fission.InHeader) (readLinkOut *fission.ReadLinkOut, errno syscall.Errno) {
	var (
		client    *clientStruct
		startTime time.Time = time.Now()
		vpath     string
	)

	logTracef("==> DoReadLink(inHeader: %+v)", inHeader)
	defer func() {
		logTracef("<== DoReadLink(readLinkOut: %+v, errno: %v)", readLinkOut, errno)
	}()

	defer func() {
		fuseDone("readlink", startTime, errno)
	}()

	client, vpath, errno = fuseNodePath(inHeader.NodeID, "")
	if 0 != errno {
		return
	}

	target, err := client.readlink(vpath)
	if nil != err {
		errno = fuseErrno(err)
		return
	}

	readLinkOut = &fission.ReadLinkOut{
		Data: []byte(target),
	}

	return
}

func (dummy *globalsStruct) DoSymLink(inHeader *fission.InHeader, symLinkIn *fission.SymLinkIn) (symLinkOut *fission.SymLinkOut, errno syscall.Errno) {
	var (
		client    *clientStruct
		entryOut  fission.EntryOut
		startTime time.Time = time.Now()
		vpath     string
	)

	logTracef("==> DoSymLink(inHeader: %+v, symLinkIn: %+v)", inHeader, symLinkIn)
	defer func() {
		logTracef("<== DoSymLink(symLinkOut: %+v, errno: %v)", symLinkOut, errno)
	}()

	defer func() {
		fuseDone("symlink", startTime, errno)
	}()

	client, vpath, errno = fuseNodePath(inHeader.NodeID, string(symLinkIn.Name[:]))
	if 0 != errno {
		return
	}

	err := client.symlink(string(symLinkIn.Data[:]), vpath)
	if nil != err {
		errno = fuseErrno(err)
		return
	}

	entryOut, errno = fuseNewEntry(inHeader.NodeID, string(symLinkIn.Name[:]))
	if 0 != errno {
		return
	}

	symLinkOut = &fission.SymLinkOut{
		EntryOut: entryOut,
	}

	return
}

func (dummy *globalsStruct) DoMkNod(inHeader *fission.InHeader, mkNodIn *fission.MkNodIn) (mkNodOut *fission.MkNodOut, errno syscall.Errno) {
	var (
		client    *clientStruct
		entryOut  fission.EntryOut
		startTime time.Time = time.Now()
		vpath     string
	)

	logTracef("==> DoMkNod(inHeader: %+v, mkNodIn: %+v)", inHeader, mkNodIn)
	defer func() {
		logTracef("<== DoMkNod(mkNodOut: %+v, errno: %v)", mkNodOut, errno)
	}()

	defer func() {
		fuseDone("mknod", startTime, errno)
	}()

	client, vpath, errno = fuseNodePath(inHeader.NodeID, string(mkNodIn.Name[:]))
	if 0 != errno {
		return
	}

	err := client.mknod(vpath, mkNodIn.Mode&^mkNodIn.UMask, uint64(mkNodIn.RDev))
	if nil != err {
		errno = fuseErrno(err)
		return
	}

	entryOut, errno = fuseNewEntry(inHeader.NodeID, string(mkNodIn.Name[:]))
	if 0 != errno {
		return
	}

	mkNodOut = &fission.MkNodOut{
		EntryOut: entryOut,
	}

	return
}

func (dummy *globalsStruct) DoMkDir(inHeader *fission.InHeader, mkDirIn *fission.MkDirIn) (mkDirOut *fission.MkDirOut, errno syscall.Errno) {
	var (
		client    *clientStruct
		entryOut  fission.EntryOut
		startTime time.Time = time.Now()
		vpath     string
	)

	logTracef("==> DoMkDir(inHeader: %+v, mkDirIn: %+v)", inHeader, mkDirIn)
	defer func() {
		logTracef("<== DoMkDir(mkDirOut: %+v, errno: %v)", mkDirOut, errno)
	}()

	defer func() {
		fuseDone("mkdir", startTime, errno)
	}()

	client, vpath, errno = fuseNodePath(inHeader.NodeID, string(mkDirIn.Name[:]))
	if 0 != errno {
		return
	}

	err := client.mkdir(vpath, mkDirIn.Mode&^mkDirIn.UMask)
	if nil != err {
		errno = fuseErrno(err)
		return
	}

	entryOut, errno = fuseNewEntry(inHeader.NodeID, string(mkDirIn.Name[:]))
	if 0 != errno {
		return
	}

	mkDirOut = &fission.MkDirOut{
		EntryOut: entryOut,
	}

	return
}

func (dummy *globalsStruct) DoUnlink(inHeader *fission.InHeader, unlinkIn *fission.UnlinkIn) (errno syscall.Errno) {
	var (
		client    *clientStruct
		startTime time.Time = time.Now()
		vpath     string
	)

	logTracef("==> DoUnlink(inHeader: %+v, unlinkIn: %+v)", inHeader, unlinkIn)
	defer func() {
		logTracef("<== DoUnlink(errno: %v)", errno)
	}()

	defer func() {
		fuseDone("unlink", startTime, errno)
	}()

	client, vpath, errno = fuseNodePath(inHeader.NodeID, string(unlinkIn.Name[:]))
	if 0 != errno {
		return
	}

	errno = fuseErrno(client.unlink(vpath))

	return
}

func (dummy *globalsStruct) DoRmDir(inHeader *fission.InHeader, rmDirIn *fission.RmDirIn) (errno syscall.Errno) {
	var (
		client    *clientStruct
		startTime time.Time = time.Now()
		vpath     string
	)

	logTracef("==> DoRmDir(inHeader: %+v, rmDirIn: %+v)", inHeader, rmDirIn)
	defer func() {
		logTracef("<== DoRmDir(errno: %v)", errno)
	}()

	defer func() {
		fuseDone("rmdir", startTime, errno)
	}()

	client, vpath, errno = fuseNodePath(inHeader.NodeID, string(rmDirIn.Name[:]))
	if 0 != errno {
		return
	}

	errno = fuseErrno(client.rmdir(vpath))

	return
}

func (dummy *globalsStruct) DoRename(inHeader *fission.InHeader, renameIn *fission.RenameIn) (errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoRename(inHeader: %+v, renameIn: %+v)", inHeader, renameIn)
	defer func() {
		logTracef("<== DoRename(errno: %v)", errno)
	}()

	defer func() {
		fuseDone("rename", startTime, errno)
	}()

	errno = doRenameCommon(inHeader.NodeID, string(renameIn.OldName[:]), renameIn.NewDir, string(renameIn.NewName[:]))
	return
}

func (dummy *globalsStruct) DoLink(inHeader *fission.InHeader, linkIn *fission.LinkIn) (linkOut *fission.LinkOut, errno syscall.Errno) {
	var (
		client    *clientStruct
		entryOut  fission.EntryOut
		newVPath  string
		oldVPath  string
		startTime time.Time = time.Now()
	)

	logTracef("==> DoLink(inHeader: %+v, linkIn: %+v)", inHeader, linkIn)
	defer func() {
		logTracef("<== DoLink(linkOut: %+v, errno: %v)", linkOut, errno)
	}()

	defer func() {
		fuseDone("link", startTime, errno)
	}()

	_, oldVPath, errno = fuseNodePath(linkIn.OldNodeID, "")
	if 0 != errno {
		return
	}

	client, newVPath, errno = fuseNodePath(inHeader.NodeID, string(linkIn.Name[:]))
	if 0 != errno {
		return
	}

	err := client.link(oldVPath, newVPath)
	if nil != err {
		errno = fuseErrno(err)
		return
	}

	entryOut, errno = fuseNewEntry(inHeader.NodeID, string(linkIn.Name[:]))
	if 0 != errno {
		return
	}

	linkOut = &fission.LinkOut{
		EntryOut: entryOut,
	}

	return
}

func (dummy *globalsStruct) DoOpen(inHeader *fission.InHeader, openIn *fission.OpenIn) (openOut *fission.OpenOut, errno syscall.Errno) {
	var (
		client    *clientStruct
		fd        *fdStruct
		startTime time.Time = time.Now()
		vpath     string
	)

	logTracef("==> DoOpen(inHeader: %+v, openIn: %+v)", inHeader, openIn)
	defer func() {
		logTracef("<== DoOpen(openOut: %+v, errno: %v)", openOut, errno)
	}()

	defer func() {
		fuseDone("open", startTime, errno)
	}()

	client, vpath, errno = fuseNodePath(inHeader.NodeID, "")
	if 0 != errno {
		return
	}

	fd, err := client.open(vpath, int(openIn.Flags&^uint32(unix.O_CREAT|unix.O_EXCL)), 0)
	if nil != err {
		errno = fuseErrno(err)
		return
	}

	openOut = &fission.OpenOut{
		FH:        uint64(fd.fd),
		OpenFlags: 0,
		Padding:   0,
	}

	return
}

func (dummy *globalsStruct) DoRead(inHeader *fission.InHeader, readIn *fission.ReadIn) (readOut *fission.ReadOut, errno syscall.Errno) {
	var (
		fd        *fdStruct
		startTime time.Time = time.Now()
	)

	logTracef("==> DoRead(inHeader: %+v, readIn: %+v)", inHeader, readIn)
	defer func() {
		if nil == readOut {
			logTracef("<== DoRead(readOut: nil, errno: %v)", errno)
		} else {
			logTracef("<== DoRead(readOut: len(Data):%d, errno: %v)", len(readOut.Data), errno)
		}
	}()

	defer func() {
		fuseDone("read", startTime, errno)
	}()

	fd, errno = fuseFD(readIn.FH)
	if 0 != errno {
		return
	}

	data := make([]byte, readIn.Size)

	n, err := fd.readAt(data, int64(readIn.Offset))
	if nil != err {
		errno = fuseErrno(err)
		return
	}

	readOut = &fission.ReadOut{
		Data: data[:n],
	}

	return
}

func (dummy *globalsStruct) DoWrite(inHeader *fission.InHeader, writeIn *fission.WriteIn) (writeOut *fission.WriteOut, errno syscall.Errno) {
	var (
		fd        *fdStruct
		startTime time.Time = time.Now()
	)

	logTracef("==> DoWrite(inHeader: %+v, writeIn: &{FH:%v Offset:%v Size:%v: WriteFlags:%v LockOwner:%v Flags:%v Padding:%v len(Data):%v})", inHeader, writeIn.FH, writeIn.Offset, writeIn.Size, writeIn.WriteFlags, writeIn.LockOwner, writeIn.Flags, writeIn.Padding, len(writeIn.Data))
	defer func() {
		logTracef("<== DoWrite(writeOut: %+v, errno: %v)", writeOut, errno)
	}()

	defer func() {
		fuseDone("write", startTime, errno)
	}()

	fd, errno = fuseFD(writeIn.FH)
	if 0 != errno {
		return
	}

	n, err := fd.writeAt(writeIn.Data, int64(writeIn.Offset))
	if nil != err {
		errno = fuseErrno(err)
		return
	}

	writeOut = &fission.WriteOut{
		Size:    uint32(n),
		Padding: 0,
	}

	return
}

func (dummy *globalsStruct) DoStatFS(inHeader *fission.InHeader) (statFSOut *fission.StatFSOut, errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoStatFS(inHeader: %+v)", inHeader)
	defer func() {
		logTracef("<== DoStatFS(statFSOut: %+v, errno: %v)", statFSOut, errno)
	}()

	defer func() {
		fuseDone("statfs", startTime, errno)
	}()

	client := globals.fuseClient
	if nil == client {
		errno = syscall.ENODEV
		return
	}

	statFS, err := client.statfs("/")
	if nil != err {
		errno = fuseErrno(err)
		return
	}

	statFSOut = &fission.StatFSOut{
		KStatFS: fission.KStatFS{
			Blocks:  statFS.Blocks,
			BFree:   statFS.BFree,
			BAvail:  statFS.BAvail,
			Files:   statFS.Files,
			FFree:   statFS.FFree,
			BSize:   uint32(statFS.BSize),
			FRSize:  uint32(statFS.FRSize),
			Padding: 0,
			Spare:   [6]uint32{0, 0, 0, 0, 0, 0},
		},
	}

	if 0 == statFSOut.KStatFS.BFree {
		statFSOut.KStatFS.BFree = math.MaxUint64
		statFSOut.KStatFS.BAvail = math.MaxUint64
	}

	return
}

func (dummy *globalsStruct) DoRelease(inHeader *fission.InHeader, releaseIn *fission.ReleaseIn) (errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoRelease(inHeader: %+v, releaseIn: %+v)", inHeader, releaseIn)
	defer func() {
		logTracef("<== DoRelease(errno: %v)", errno)
	}()

	defer func() {
		fuseDone("release", startTime, errno)
	}()

	errno = fuseErrno(closeFD(int(releaseIn.FH)))

	return
}

func (dummy *globalsStruct) DoFSync(inHeader *fission.InHeader, fSyncIn *fission.FSyncIn) (errno syscall.Errno) {
	var (
		fd        *fdStruct
		startTime time.Time = time.Now()
	)

	logTracef("==> DoFSync(inHeader: %+v, fSyncIn: %+v)", inHeader, fSyncIn)
	defer func() {
		logTracef("<== DoFSync(errno: %v)", errno)
	}()

	defer func() {
		fuseDone("fsync", startTime, errno)
	}()

	fd, errno = fuseFD(fSyncIn.FH)
	if 0 != errno {
		return
	}

	errno = fuseErrno(fd.fsync())

	return
}

func (dummy *globalsStruct) DoSetXAttr(inHeader *fission.InHeader, setXAttrIn *fission.SetXAttrIn) (errno syscall.Errno) {
	var (
		client    *clientStruct
		startTime time.Time = time.Now()
		vpath     string
	)

	logTracef("==> DoSetXAttr(inHeader: %+v, setXAttrIn: %+v)", inHeader, setXAttrIn)
	defer func() {
		logTracef("<== DoSetXAttr(errno: %v)", errno)
	}()

	defer func() {
		fuseDone("setxattr", startTime, errno)
	}()

	client, vpath, errno = fuseNodePath(inHeader.NodeID, "")
	if 0 != errno {
		return
	}

	errno = fuseErrno(client.setxattr(vpath, false, string(setXAttrIn.Name[:]), setXAttrIn.Data, int(setXAttrIn.Flags)))

	return
}

func (dummy *globalsStruct) DoGetXAttr(inHeader *fission.InHeader, getXAttrIn *fission.GetXAttrIn) (getXAttrOut *fission.GetXAttrOut, errno syscall.Errno) {
	var (
		client    *clientStruct
		startTime time.Time = time.Now()
		vpath     string
	)

	logTracef("==> DoGetXAttr(inHeader: %+v, getXAttrIn: %+v)", inHeader, getXAttrIn)
	defer func() {
		logTracef("<== DoGetXAttr(getXAttrOut: %+v, errno: %v)", getXAttrOut, errno)
	}()

	defer func() {
		fuseDone("getxattr", startTime, errno)
	}()

	client, vpath, errno = fuseNodePath(inHeader.NodeID, "")
	if 0 != errno {
		return
	}

	data := make([]byte, getXAttrIn.Size)

	size, err := client.getxattr(vpath, false, string(getXAttrIn.Name[:]), data)
	if nil != err {
		errno = fuseErrno(err)
		return
	}

	if 0 == getXAttrIn.Size {
		getXAttrOut = &fission.GetXAttrOut{
			Size:    uint32(size),
			Padding: 0,
			Data:    make([]byte, 0),
		}
		return
	}

	getXAttrOut = &fission.GetXAttrOut{
		Size:    uint32(size),
		Padding: 0,
		Data:    data[:size],
	}

	return
}

func (dummy *globalsStruct) DoListXAttr(inHeader *fission.InHeader, listXAttrIn *fission.ListXAttrIn) (listXAttrOut *fission.ListXAttrOut, errno syscall.Errno) {
	logTracef("==> DoListXAttr(inHeader: %+v, listXAttrIn: %+v)", inHeader, listXAttrIn)
	defer func() {
		logTracef("<== DoListXAttr(listXAttrOut: %+v, errno: %v)", listXAttrOut, errno)
	}()

	errno = fuseErrno(xattrNotSupported("fuse_listxattr"))
	return
}

func (dummy *globalsStruct) DoRemoveXAttr(inHeader *fission.InHeader, removeXAttrIn *fission.RemoveXAttrIn) (errno syscall.Errno) {
	logTracef("==> DoRemoveXAttr(inHeader: %+v, removeXAttrIn: %+v)", inHeader, removeXAttrIn)
	defer func() {
		logTracef("<== DoRemoveXAttr(errno: %v)", errno)
	}()

	errno = fuseErrno(xattrNotSupported("fuse_removexattr"))
	return
}

func (dummy *globalsStruct) DoFlush(inHeader *fission.InHeader, flushIn *fission.FlushIn) (errno syscall.Errno) {
	logTracef("==> DoFlush(inHeader: %+v, flushIn: %+v)", inHeader, flushIn)
	defer func() {
		logTracef("<== DoFlush(errno: %v)", errno)
	}()

	// DoRelease() flushes

	errno = 0
	return
}

func (dummy *globalsStruct) DoInit(inHeader *fission.InHeader, initIn *fission.InitIn) (initOut *fission.InitOut, errno syscall.Errno) {
	logTracef("==> DoInit(inHeader: %+v, initIn: %+v)", inHeader, initIn)
	defer func() {
		logTracef("<== DoInit(initOut: %+v, errno: %v)", initOut, errno)
	}()

	initOut = &fission.InitOut{
		Major:                initIn.Major,
		Minor:                initIn.Minor,
		MaxReadAhead:         initIn.MaxReadAhead,
		Flags:                initOutFlags,
		MaxBackground:        globals.config.FUSEMaxBackground,
		CongestionThreshhold: globals.config.FUSECongestionThreshhold,
		MaxWrite:             globals.config.FUSEMaxWrite,
	}

	errno = 0
	return
}

func (dummy *globalsStruct) DoOpenDir(inHeader *fission.InHeader, openDirIn *fission.OpenDirIn) (openDirOut *fission.OpenDirOut, errno syscall.Errno) {
	var (
		client    *clientStruct
		fd        *fdStruct
		startTime time.Time = time.Now()
		vpath     string
	)

	logTracef("==> DoOpenDir(inHeader: %+v, openDirIn: %+v)", inHeader, openDirIn)
	defer func() {
		logTracef("<== DoOpenDir(openDirOut: %+v, errno: %v)", openDirOut, errno)
	}()

	defer func() {
		fuseDone("opendir", startTime, errno)
	}()

	client, vpath, errno = fuseNodePath(inHeader.NodeID, "")
	if 0 != errno {
		return
	}

	fd, err := client.opendir(vpath)
	if nil != err {
		errno = fuseErrno(err)
		return
	}

	openDirOut = &fission.OpenDirOut{
		FH:        uint64(fd.fd),
		OpenFlags: 0,
		Padding:   0,
	}

	return
}

// fuseReadDirEntries returns the entries of fd starting at offset that fit
// in maxSize bytes given each consumes (fixedPortionSize + len(Name))
// rounded up to fission.DirEntAlignment.
//
func (fd *fdStruct) fuseReadDirEntries(offset uint64, maxSize uint64, fixedPortionSize uint64) (entries []xlator.DirEntryStruct, err error) {
	var (
		entry     *xlator.DirEntryStruct
		entrySize uint64
		priorOff  int64
		totalSize uint64
	)

	fd.Lock()
	defer fd.Unlock()

	fd.offset = int64(offset)

	for {
		priorOff = fd.offset

		entry, err = fd.readdirLocked()
		if (nil != err) || (nil == entry) {
			return
		}

		entrySize = fixedPortionSize + uint64(len(entry.Name)) + fission.DirEntAlignment - 1
		entrySize /= fission.DirEntAlignment
		entrySize *= fission.DirEntAlignment

		if totalSize+entrySize > maxSize {
			fd.offset = priorOff
			return
		}

		totalSize += entrySize

		entries = append(entries, *entry)
	}
}

func dirEntType(dtType uint8) uint32 {
	return uint32(dtType) << 12
}

func (dummy *globalsStruct) DoReadDir(inHeader *fission.InHeader, readDirIn *fission.ReadDirIn) (readDirOut *fission.ReadDirOut, errno syscall.Errno) {
	var (
		entries   []xlator.DirEntryStruct
		err       error
		fd        *fdStruct
		startTime time.Time = time.Now()
	)

	logTracef("==> DoReadDir(inHeader: %+v, readDirIn: %+v)", inHeader, readDirIn)
	defer func() {
		logTracef("<== DoReadDir(readDirOut: %+v, errno: %v)", readDirOut, errno)
	}()

	defer func() {
		fuseDone("readdir", startTime, errno)
	}()

	fd, errno = fuseFD(readDirIn.FH)
	if 0 != errno {
		return
	}

	entries, err = fd.fuseReadDirEntries(readDirIn.Offset, uint64(readDirIn.Size), fission.DirEntFixedPortionSize)
	if nil != err {
		errno = fuseErrno(err)
		return
	}

	readDirOut = &fission.ReadDirOut{
		DirEnt: make([]fission.DirEnt, 0, len(entries)),
	}

	for _, entry := range entries {
		readDirOut.DirEnt = append(readDirOut.DirEnt, fission.DirEnt{
			Ino:     entry.Ino,
			Off:     uint64(entry.Off),
			NameLen: uint32(len(entry.Name)),
			Type:    dirEntType(entry.Type),
			Name:    []byte(entry.Name),
		})
	}

	return
}

func (dummy *globalsStruct) DoReleaseDir(inHeader *fission.InHeader, releaseDirIn *fission.ReleaseDirIn) (errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoReleaseDir(inHeader: %+v, releaseDirIn: %+v)", inHeader, releaseDirIn)
	defer func() {
		logTracef("<== DoReleaseDir(errno: %v)", errno)
	}()

	defer func() {
		fuseDone("releasedir", startTime, errno)
	}()

	errno = fuseErrno(closeFD(int(releaseDirIn.FH)))

	return
}

func (dummy *globalsStruct) DoFSyncDir(inHeader *fission.InHeader, fSyncDirIn *fission.FSyncDirIn) (errno syscall.Errno) {
	logTracef("==> DoFSyncDir(inHeader: %+v, fSyncDirIn: %+v)", inHeader, fSyncDirIn)
	defer func() {
		logTracef("<== DoFSyncDir(errno: %v)", errno)
	}()

	errno = 0
	return
}

func (dummy *globalsStruct) DoGetLK(inHeader *fission.InHeader, getLKIn *fission.GetLKIn) (getLKOut *fission.GetLKOut, errno syscall.Errno) {
	logTracef("==> DoGetLK(inHeader: %+v, getLKIn: %+v)", inHeader, getLKIn)
	defer func() {
		logTracef("<== DoGetLK(getLKOut: %+v, errno: %v)", getLKOut, errno)
	}()

	getLKOut = nil
	errno = syscall.ENOSYS
	return
}

func (dummy *globalsStruct) DoSetLK(inHeader *fission.InHeader, setLKIn *fission.SetLKIn) (errno syscall.Errno) {
	logTracef("==> DoSetLK(inHeader: %+v, setLKIn: %+v)", inHeader, setLKIn)
	defer func() {
		logTracef("<== DoSetLK(errno: %v)", errno)
	}()

	errno = syscall.ENOSYS
	return
}

func (dummy *globalsStruct) DoSetLKW(inHeader *fission.InHeader, setLKWIn *fission.SetLKWIn) (errno syscall.Errno) {
	logTracef("==> DoSetLKW(inHeader: %+v, setLKWIn: %+v)", inHeader, setLKWIn)
	defer func() {
		logTracef("<== DoSetLKW(errno: %v)", errno)
	}()

	errno = syscall.ENOSYS
	return
}

func (dummy *globalsStruct) DoAccess(inHeader *fission.InHeader, accessIn *fission.AccessIn) (errno syscall.Errno) {
	logTracef("==> DoAccess(inHeader: %+v, accessIn: %+v)", inHeader, accessIn)
	defer func() {
		logTracef("<== DoAccess(errno: %v)", errno)
	}()

	// Note that with setting defaultPermissions to true, this call should never be made

	errno = syscall.ENOSYS
	return
}

func (dummy *globalsStruct) DoCreate(inHeader *fission.InHeader, createIn *fission.CreateIn) (createOut *fission.CreateOut, errno syscall.Errno) {
	var (
		client    *clientStruct
		entryOut  fission.EntryOut
		fd        *fdStruct
		startTime time.Time = time.Now()
		vpath     string
	)

	logTracef("==> DoCreate(inHeader: %+v, createIn: %+v)", inHeader, createIn)
	defer func() {
		logTracef("<== DoCreate(createOut: %+v, errno: %v)", createOut, errno)
	}()

	defer func() {
		fuseDone("create", startTime, errno)
	}()

	client, vpath, errno = fuseNodePath(inHeader.NodeID, string(createIn.Name[:]))
	if 0 != errno {
		return
	}

	fd, err := client.open(vpath, int(createIn.Flags)|unix.O_CREAT, createIn.Mode&^createIn.UMask)
	if nil != err {
		errno = fuseErrno(err)
		return
	}

	entryOut, errno = fuseNewEntry(inHeader.NodeID, string(createIn.Name[:]))
	if 0 != errno {
		_ = closeFD(fd.fd)
		return
	}

	createOut = &fission.CreateOut{
		EntryOut:  entryOut,
		FH:        uint64(fd.fd),
		OpenFlags: 0,
		Padding:   0,
	}

	return
}

func (dummy *globalsStruct) DoInterrupt(inHeader *fission.InHeader, interruptIn *fission.InterruptIn) {
	logTracef("==> DoInterrupt(inHeader: %+v, interruptIn: %+v)", inHeader, interruptIn)
	defer func() {
		logTracef("<== DoInterrupt()")
	}()
}

func (dummy *globalsStruct) DoBMap(inHeader *fission.InHeader, bMapIn *fission.BMapIn) (bMapOut *fission.BMapOut, errno syscall.Errno) {
	logTracef("==> DoBMap(inHeader: %+v, bMapIn: %+v)", inHeader, bMapIn)
	defer func() {
		logTracef("<== DoBMap(bMapOut: %+v, errno: %v)", bMapOut, errno)
	}()

	bMapOut = nil
	errno = syscall.ENOSYS
	return
}

func (dummy *globalsStruct) DoDestroy(inHeader *fission.InHeader) (errno syscall.Errno) {
	logTracef("==> DoDestroy(inHeader: %+v)", inHeader)
	defer func() {
		logTracef("<== DoDestroy(errno: %v)", errno)
	}()

	errno = 0
	return
}

func (dummy *globalsStruct) DoPoll(inHeader *fission.InHeader, pollIn *fission.PollIn) (pollOut *fission.PollOut, errno syscall.Errno) {
	logTracef("==> DoPoll(inHeader: %+v, pollIn: %+v)", inHeader, pollIn)
	defer func() {
		logTracef("<== DoPoll(pollOut: %+v, errno: %v)", pollOut, errno)
	}()

	pollOut = nil
	errno = syscall.ENOSYS
	return
}

func (dummy *globalsStruct) DoBatchForget(inHeader *fission.InHeader, batchForgetIn *fission.BatchForgetIn) {
	logTracef("==> DoBatchForget(inHeader: %+v, batchForgetIn: %+v)", inHeader, batchForgetIn)
	defer func() {
		logTracef("<== DoBatchForget()")
	}()

	for _, forgetOne := range batchForgetIn.Forget {
		fuseForgetNode(forgetOne.NodeID, forgetOne.NLookup)
	}
}

func (dummy *globalsStruct) DoFAllocate(inHeader *fission.InHeader, fAllocateIn *fission.FAllocateIn) (errno syscall.Errno) {
	logTracef("==> DoFAllocate(inHeader: %+v, fAllocateIn: %+v)", inHeader, fAllocateIn)
	defer func() {
		logTracef("<== DoFAllocate(errno: %v)", errno)
	}()

	errno = syscall.ENOSYS
	return
}

func (dummy *globalsStruct) DoReadDirPlus(inHeader *fission.InHeader, readDirPlusIn *fission.ReadDirPlusIn) (readDirPlusOut *fission.ReadDirPlusOut, errno syscall.Errno) {
	var (
		entries   []xlator.DirEntryStruct
		entryOut  fission.EntryOut
		err       error
		fd        *fdStruct
		startTime time.Time = time.Now()
		stat      *xlator.StatStruct
	)

	logTracef("==> DoReadDirPlus(inHeader: %+v, readDirPlusIn: %+v)", inHeader, readDirPlusIn)
	defer func() {
		logTracef("<== DoReadDirPlus(readDirPlusOut: %+v, errno: %v)", readDirPlusOut, errno)
	}()

	defer func() {
		fuseDone("readdirplus", startTime, errno)
	}()

	fd, errno = fuseFD(readDirPlusIn.FH)
	if 0 != errno {
		return
	}

	entries, err = fd.fuseReadDirEntries(readDirPlusIn.Offset, uint64(readDirPlusIn.Size), fission.DirEntPlusFixedPortionSize)
	if nil != err {
		errno = fuseErrno(err)
		return
	}

	readDirPlusOut = &fission.ReadDirPlusOut{
		DirEntPlus: make([]fission.DirEntPlus, 0, len(entries)),
	}

	for _, entry := range entries {
		// The kernel ignores the EntryOut of "." and ".."
		if ("." == entry.Name) || (".." == entry.Name) {
			entryOut = fission.EntryOut{}
		} else {
			stat, err = fd.client.stat(fd.vpath+entry.Name, false)
			if nil != err {
				readDirPlusOut = &fission.ReadDirPlusOut{
					DirEntPlus: make([]fission.DirEntPlus, 0),
				}
				errno = fuseErrno(err)
				return
			}
			entryOut = fuseEntryOut(stat)
			fuseRememberNode(fd.client, entryOut.NodeID)
		}

		readDirPlusOut.DirEntPlus = append(readDirPlusOut.DirEntPlus, fission.DirEntPlus{
			EntryOut: entryOut,
			DirEnt: fission.DirEnt{
				Ino:     entry.Ino,
				Off:     uint64(entry.Off),
				NameLen: uint32(len(entry.Name)),
				Type:    dirEntType(entry.Type),
				Name:    []byte(entry.Name),
			},
		})
	}

	return
}

func (dummy *globalsStruct) DoRename2(inHeader *fission.InHeader, rename2In *fission.Rename2In) (errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoRename2(inHeader: %+v, rename2In: %+v)", inHeader, rename2In)
	defer func() {
		logTracef("<== DoRename2(errno: %v)", errno)
	}()

	defer func() {
		fuseDone("rename2", startTime, errno)
	}()

	errno = doRenameCommon(inHeader.NodeID, string(rename2In.OldName[:]), rename2In.NewDir, string(rename2In.NewName[:]))
	return
}

func (dummy *globalsStruct) DoLSeek(inHeader *fission.InHeader, lSeekIn *fission.LSeekIn) (lSeekOut *fission.LSeekOut, errno syscall.Errno) {
	logTracef("==> DoLSeek(inHeader: %+v, lSeekIn: %+v)", inHeader, lSeekIn)
	defer func() {
		logTracef("<== DoLSeek(lSeekOut: %+v, errno: %v)", lSeekOut, errno)
	}()

	lSeekOut = nil
	errno = syscall.ENOSYS
	return
}

func nsToUnixTime(ns uint64) (sec uint64, nsec uint32) {
	sec = ns / 1e9
	nsec = uint32(ns - (sec * 1e9))
	return
}

func doRenameCommon(oldDirNodeID uint64, oldName string, newDirNodeID uint64, newName string) (errno syscall.Errno) {
	var (
		client   *clientStruct
		newVPath string
		oldVPath string
	)

	client, oldVPath, errno = fuseNodePath(oldDirNodeID, oldName)
	if 0 != errno {
		return
	}

	_, newVPath, errno = fuseNodePath(newDirNodeID, newName)
	if 0 != errno {
		return
	}

	errno = fuseErrno(client.rename(oldVPath, newVPath))

	return
}
