// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/itable"
	"github.com/NVIDIA/xlclient/xlator"
)

type lookupStateType int

const (
	lookupStateInitial lookupStateType = iota
	lookupStateRevalidatePending
	lookupStateRevalidateRetry
	lookupStateDone
)

func (state lookupStateType) String() string {
	switch state {
	case lookupStateInitial:
		return "initial"
	case lookupStateRevalidatePending:
		return "revalidate-pending"
	case lookupStateRevalidateRetry:
		return "revalidate-retry"
	case lookupStateDone:
		return "done"
	default:
		return "unknown"
	}
}

// lookupCallStruct carries a lookup through its (at most two) winds. If
// loc already holds an inode, the first wind is a revalidation; should it
// fail, the held inode is swapped for a fresh placeholder and the lookup
// is retried once by name.
//
type lookupCallStruct struct {
	loc         *locStruct
	contentSize uint64 // > 0 requests file content via xlator.ContentXAttrKey
	state       lookupStateType
	linked      *itable.InodeStruct // reference owned by the call; set on success
}

func (client *clientStruct) newLookupCall(loc *locStruct, contentSize uint64) (call *lookupCallStruct) {
	call = &lookupCallStruct{
		loc:         loc,
		contentSize: contentSize,
	}

	if nil == loc.inode {
		loc.inode = client.itable.NewInode()
		call.state = lookupStateInitial
	} else {
		call.state = lookupStateRevalidatePending
	}

	return
}

func (call *lookupCallStruct) isRoot() bool {
	return (itable.RootIno == call.loc.ino) && (nil == call.loc.parent)
}

func (call *lookupCallStruct) request() (request *xlator.RequestStruct) {
	request = &xlator.RequestStruct{
		Op:   xlator.OpLookup,
		Ino:  call.loc.inode.Ino(),
		Name: call.loc.name,
		Path: call.loc.path,
	}

	if call.isRoot() {
		request.Ino = itable.RootIno
		request.Name = ""
	} else if nil != call.loc.parent {
		request.ParentIno = call.loc.parent.Ino()
	}

	if 0 < call.contentSize {
		request.XAttrReq = map[string]uint64{xlator.ContentXAttrKey: call.contentSize}
		request.ContentSize = call.contentSize
	}

	return
}

func (call *lookupCallStruct) cbk(frame *frameStruct, reply *xlator.ReplyStruct) {
	var (
		client = frame.client
		loc    = call.loc
	)

	if (0 <= reply.OpRet) && (0 == reply.Stat.Ino) {
		client.logger.Errorf("lookup of \"%s\" returned no inode number", loc.path)
		reply = xlator.FailedReply(unix.EIO)
	}

	if 0 > reply.OpRet {
		if (unix.ENOENT == reply.OpErrno) && (lookupStateRevalidatePending != call.state) {
			client.logger.Debugf("lookup of \"%s\" (%s) failed: %v", loc.path, call.state, reply.OpErrno)
		} else {
			client.logger.Errorf("lookup of \"%s\" (%s) failed: %v", loc.path, call.state, reply.OpErrno)
		}

		if lookupStateRevalidatePending == call.state {
			loc.inode.Unref()
			loc.inode = client.itable.NewInode()
			call.state = lookupStateRevalidateRetry
			frame.wind(call.request(), call.cbk)
			return
		}

		call.state = lookupStateDone
		frame.unwind(reply)
		return
	}

	if call.isRoot() {
		reply.Stat.Ino = itable.RootIno
		call.linked = client.itable.Root()
	} else {
		call.linked = client.itable.Link(loc.inode, loc.parent, loc.name, reply.Stat.Ino)
	}

	call.linked.SetMode(reply.Stat.Mode)
	client.transformIAttr(call.linked, &reply.Stat)
	call.linked.Lookup()

	call.state = lookupStateDone

	frame.unwind(reply)
}

// finish applies a successful reply to the attribute cache and swaps the
// linked inode into loc.
//
func (call *lookupCallStruct) finish(client *clientStruct, reply *xlator.ReplyStruct) (err error) {
	if 0 > reply.OpRet {
		err = replyError(xlator.OpLookup, reply)
		return
	}

	_ = inodeCtxAlloc(call.linked)
	client.updateIAttrCache(call.linked, iattrAll, &reply.Stat)

	if call.linked != call.loc.inode {
		call.loc.setInode(call.linked)
	} else {
		call.linked.Unref()
	}

	call.linked = nil
	call.loc.ino = call.loc.inode.Ino()

	return
}

// lookup resolves loc.parent/loc.name (or revalidates loc.inode) remotely.
// On success loc.inode is the table's inode for the object and, if statOut
// is not nil, its attributes are returned there. Any xattrs the reply
// carried (e.g. requested file content) are returned.
//
func (client *clientStruct) lookup(loc *locStruct, statOut *xlator.StatStruct, contentSize uint64) (xattrs map[string][]byte, err error) {
	var (
		call  *lookupCallStruct
		frame *frameStruct
		reply *xlator.ReplyStruct
	)

	call = client.newLookupCall(loc, contentSize)

	frame = client.newFrame(xlator.OpLookup)
	frame.doneChan = make(chan *xlator.ReplyStruct, 1)

	frame.wind(call.request(), call.cbk)

	reply = <-frame.doneChan

	err = call.finish(client, reply)
	if nil != err {
		return
	}

	if nil != statOut {
		*statOut = reply.Stat
	}

	xattrs = reply.XAttrs

	return
}

// lookupAsync is lookup() completing via continuation on the poll goroutine.
//
func (client *clientStruct) lookupAsync(loc *locStruct, contentSize uint64, continuation func(reply *xlator.ReplyStruct, err error)) {
	var (
		call  *lookupCallStruct
		frame *frameStruct
	)

	call = client.newLookupCall(loc, contentSize)

	frame = client.newFrame(xlator.OpLookup)
	frame.continuation = func(reply *xlator.ReplyStruct) {
		continuation(reply, call.finish(client, reply))
	}

	frame.wind(call.request(), call.cbk)
}
