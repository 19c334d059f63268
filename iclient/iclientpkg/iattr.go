// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"sync"
	"time"

	"github.com/NVIDIA/xlclient/itable"
	"github.com/NVIDIA/xlclient/xlator"
)

// iattrKind selects which half (or both halves) of an inode's attribute
// cache is being checked, updated, or invalidated.
//
type iattrKind uint32

const (
	iattrLookup iattrKind = 1 << iota
	iattrStat
	iattrAll = iattrLookup | iattrStat
)

func (kind iattrKind) String() string {
	switch kind {
	case iattrLookup:
		return "lookup"
	case iattrStat:
		return "stat"
	case iattrAll:
		return "all"
	default:
		return "none"
	}
}

// inodeCtxStruct is attached (via itable.InodeStruct.SetCtx) to every inode
// a client has successfully looked up. A zero time means "never" (or
// "invalidated").
//
type inodeCtxStruct struct {
	sync.Mutex
	previousLookupTime time.Time
	previousStatTime   time.Time
	stat               xlator.StatStruct
}

func inodeCtx(inode *itable.InodeStruct) (ctx *inodeCtxStruct) {
	ctxAsInterface := inode.Ctx()
	if nil == ctxAsInterface {
		return
	}
	ctx = ctxAsInterface.(*inodeCtxStruct)
	return
}

func inodeCtxAlloc(inode *itable.InodeStruct) (ctx *inodeCtxStruct) {
	ctx = inode.SetCtxIfAbsent(&inodeCtxStruct{}).(*inodeCtxStruct)
	return
}

func (client *clientStruct) now() time.Time {
	if nil != client.nowFunc {
		return client.nowFunc()
	}
	return time.Now()
}

func iattrFresh(previous time.Time, now time.Time, timeout time.Duration) bool {
	switch {
	case previous.IsZero():
		return false
	case timeout < 0:
		return true
	case 0 == timeout:
		return false
	default:
		return now.Sub(previous) <= timeout
	}
}

// isIAttrCacheValid reports whether the selected kind of cached attributes
// of inode is still within its timeout. When kind is iattrStat and the
// cache is valid, the cached attributes are copied to statOut (if non-nil).
//
func (client *clientStruct) isIAttrCacheValid(inode *itable.InodeStruct, statOut *xlator.StatStruct, kind iattrKind) (valid bool) {
	var (
		ctx *inodeCtxStruct
		now time.Time
	)

	ctx = inodeCtx(inode)
	if nil == ctx {
		globals.stats.iattrCacheCheck(kind, false)
		return
	}

	now = client.now()

	ctx.Lock()

	switch kind {
	case iattrLookup:
		valid = iattrFresh(ctx.previousLookupTime, now, client.lookupTimeout)
	case iattrStat:
		valid = iattrFresh(ctx.previousStatTime, now, client.statTimeout)
		if valid && (nil != statOut) {
			*statOut = ctx.stat
		}
	default:
		valid = iattrFresh(ctx.previousLookupTime, now, client.lookupTimeout) && iattrFresh(ctx.previousStatTime, now, client.statTimeout)
	}

	ctx.Unlock()

	globals.stats.iattrCacheCheck(kind, valid)

	return
}

// updateIAttrCache stamps the selected kinds with the current time. The
// stat kind is only stamped (and its buffer replaced) if stat is non-nil.
//
func (client *clientStruct) updateIAttrCache(inode *itable.InodeStruct, kind iattrKind, stat *xlator.StatStruct) {
	var (
		ctx *inodeCtxStruct
		now time.Time
	)

	ctx = inodeCtxAlloc(inode)
	now = client.now()

	ctx.Lock()

	if 0 != (kind & iattrLookup) {
		ctx.previousLookupTime = now
	}
	if (0 != (kind & iattrStat)) && (nil != stat) {
		ctx.previousStatTime = now
		ctx.stat = *stat
	}

	ctx.Unlock()
}

func (client *clientStruct) invalidateIAttrCache(inode *itable.InodeStruct, kind iattrKind) {
	ctx := inodeCtx(inode)
	if nil == ctx {
		return
	}

	ctx.Lock()

	if 0 != (kind & iattrLookup) {
		ctx.previousLookupTime = time.Time{}
	}
	if 0 != (kind & iattrStat) {
		ctx.previousStatTime = time.Time{}
	}

	ctx.Unlock()
}

// truncateIAttrCache zeroes the cached size of inode without touching
// either timestamp.
//
func (client *clientStruct) truncateIAttrCache(inode *itable.InodeStruct) {
	ctx := inodeCtx(inode)
	if nil == ctx {
		return
	}

	ctx.Lock()
	ctx.stat.Size = 0
	ctx.stat.Blocks = 0
	ctx.Unlock()
}

// transformIAttr rewrites backend attributes into what callers observe:
// the mount's fake fsid as the device, and RootIno for the root whatever
// the backend calls it.
//
func (client *clientStruct) transformIAttr(inode *itable.InodeStruct, stat *xlator.StatStruct) {
	stat.Dev = client.fakeFSID
	if (nil != inode) && (itable.RootIno == inode.Ino()) {
		stat.Ino = itable.RootIno
	}
}
