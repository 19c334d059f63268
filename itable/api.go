// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package itable implements a reference counted inode table along with the
// dentry (parent inode, name) => inode edges cached within it.
//
// An InodeStruct is created either as the table's root (inode number 1) or
// as an unhashed placeholder via NewInode(). A placeholder becomes hashed
// (findable by inode number) once it is passed to Link() along with the
// inode number the backend reported for it. Should the table already hold
// an inode for that number, Link() returns the existing one instead.
//
// Ref() and Unref() are the only mutators of an inode's reference count.
// Lookup() and Forget() separately maintain the count of outstanding
// "looked up" pins (e.g. those handed out to a kernel FUSE client). An
// inode is retired (dentries dropped, unhashed, and the ForgetCallback
// invoked) once both counts reach zero. Inodes with no references but
// outstanding pins sit on an LRU that is trimmed to the configured limit.
//
// Each dentry holds a reference on its parent inode so that a directory
// cannot be retired while any of its children remain named in the table.
//
package itable

import (
	"sync"
)

// RootIno is the reserved inode number of the filesystem root.
//
const RootIno = uint64(1)

// ForgetCallback is invoked (without any table lock held) for each inode
// as it is retired from the table.
//
type ForgetCallback func(inode *InodeStruct)

// InodeStruct is a reference counted handle on a (possibly remote) object.
//
type InodeStruct struct {
	table      *TableStruct
	ino        uint64          // == 0 while an unhashed placeholder
	mode       uint32          // S_IFMT bits of the last reported mode
	hashed     bool            // reachable via table.inodeMap
	retired    bool            //
	refCount   uint64          //
	nLookup    uint64          //
	dentryList []*dentryStruct // names (parent, name) for this inode
	lruElement interface{}     // *list.Element while on table.lruList
	ctxLock    sync.Mutex      //
	ctx        interface{}     // protected by ctxLock
}

type dentryStruct struct {
	parent *InodeStruct
	name   string
	inode  *InodeStruct
}

// InodeInfoStruct summarizes an inode for reporting.
//
type InodeInfoStruct struct {
	Ino      uint64
	Mode     uint32
	RefCount uint64
	NLookup  uint64
	Names    []string // "<parent ino>/<name>" for each dentry
}

// New returns a table holding just the root inode.
//
func New(hashSize uint64, lruLimit uint64, forgetCallback ForgetCallback) (table *TableStruct) {
	table = newTable(hashSize, lruLimit, forgetCallback)
	return
}

// Root returns a new reference on the root inode.
//
func (table *TableStruct) Root() (root *InodeStruct) {
	root = table.rootRef()
	return
}

// NewInode returns an unhashed placeholder inode holding one reference.
//
func (table *TableStruct) NewInode() (inode *InodeStruct) {
	inode = table.newInode()
	return
}

// Search returns a new reference on the inode named name under parent
// inode number parentIno. If name is empty, parentIno itself is located.
// Returns nil if no such inode is known to the table.
//
func (table *TableStruct) Search(parentIno uint64, name string) (inode *InodeStruct) {
	inode = table.search(parentIno, name)
	return
}

// Link records that inode (named name under parent) has inode number ino.
// The returned inode (which may differ from inode if the table already knew
// of ino) carries a new reference owned by the caller. A nil parent (or
// empty name) skips dentry creation, as is the case for the root.
//
func (table *TableStruct) Link(inode *InodeStruct, parent *InodeStruct, name string, ino uint64) (linked *InodeStruct) {
	linked = table.link(inode, parent, name, ino)
	return
}

// Unlink removes the dentry (parent, name) if it currently names inode.
//
func (table *TableStruct) Unlink(inode *InodeStruct, parent *InodeStruct, name string) {
	table.unlink(inode, parent, name)
}

// Rename moves inode's (oldParent, oldName) dentry to (newParent, newName),
// dropping whatever dentry previously occupied the new name.
//
func (table *TableStruct) Rename(inode *InodeStruct, oldParent *InodeStruct, oldName string, newParent *InodeStruct, newName string) {
	table.rename(inode, oldParent, oldName, newParent, newName)
}

// Parent returns a new reference on a parent of inode. If parentIno is
// non-zero only a dentry under that parent (and, if non-empty, with that
// name) qualifies. Returns nil if no parent is known.
//
func (table *TableStruct) Parent(inode *InodeStruct, parentIno uint64, name string) (parent *InodeStruct) {
	parent = table.parent(inode, parentIno, name)
	return
}

// DentrySearchForInode reports whether inode is currently named name under
// the parent with inode number parentIno.
//
func (table *TableStruct) DentrySearchForInode(inode *InodeStruct, parentIno uint64, name string) (found bool) {
	found = table.dentrySearchForInode(inode, parentIno, name)
	return
}

// Path constructs the absolute path of inode (with name appended if
// non-empty) by following dentries up to the root.
//
func (table *TableStruct) Path(inode *InodeStruct, name string) (path string, err error) {
	path, err = table.path(inode, name)
	return
}

// FromPath walks the dentries of absolute path from the root without any
// remote activity, returning a new reference on the final inode or nil.
//
func (table *TableStruct) FromPath(path string) (inode *InodeStruct) {
	inode = table.fromPath(path)
	return
}

// Len returns the number of hashed inodes.
//
func (table *TableStruct) Len() (numInodes int) {
	numInodes = table.len()
	return
}

// LRULen returns the number of unreferenced but looked up inodes.
//
func (table *TableStruct) LRULen() (lruLen int) {
	table.Lock()
	lruLen = table.lruList.Len()
	table.Unlock()
	return
}

// Dump summarizes every hashed inode in ascending inode number order.
//
func (table *TableStruct) Dump() (inodeInfoSlice []InodeInfoStruct) {
	inodeInfoSlice = table.dump()
	return
}

// Ref takes an additional reference on inode and returns it.
//
func (inode *InodeStruct) Ref() *InodeStruct {
	inode.table.ref(inode)
	return inode
}

// Unref releases a reference on inode. The inode must not be used by the
// caller afterwards.
//
func (inode *InodeStruct) Unref() {
	inode.table.unref(inode)
}

// Lookup pins inode against retirement until a matching Forget().
//
func (inode *InodeStruct) Lookup() {
	inode.table.lookup(inode)
}

// Forget drops nLookup pins from inode.
//
func (inode *InodeStruct) Forget(nLookup uint64) {
	inode.table.forget(inode, nLookup)
}

// Ino returns the inode number (0 for an unhashed placeholder).
//
func (inode *InodeStruct) Ino() uint64 {
	inode.table.Lock()
	defer inode.table.Unlock()
	return inode.ino
}

// Mode returns the S_IFMT bits last recorded via SetMode().
//
func (inode *InodeStruct) Mode() uint32 {
	inode.table.Lock()
	defer inode.table.Unlock()
	return inode.mode
}

// SetMode records the S_IFMT bits of mode.
//
func (inode *InodeStruct) SetMode(mode uint32) {
	inode.table.Lock()
	inode.mode = mode & sIFMT
	inode.table.Unlock()
}

// RefCount returns the current reference count.
//
func (inode *InodeStruct) RefCount() uint64 {
	inode.table.Lock()
	defer inode.table.Unlock()
	return inode.refCount
}

// NLookup returns the current count of Lookup() pins.
//
func (inode *InodeStruct) NLookup() uint64 {
	inode.table.Lock()
	defer inode.table.Unlock()
	return inode.nLookup
}

// Table returns the table inode belongs to.
//
func (inode *InodeStruct) Table() *TableStruct {
	return inode.table
}

// Ctx returns the context previously attached via SetCtx() (or nil).
//
func (inode *InodeStruct) Ctx() (ctx interface{}) {
	inode.ctxLock.Lock()
	ctx = inode.ctx
	inode.ctxLock.Unlock()
	return
}

// SetCtx attaches ctx to inode.
//
func (inode *InodeStruct) SetCtx(ctx interface{}) {
	inode.ctxLock.Lock()
	inode.ctx = ctx
	inode.ctxLock.Unlock()
}

// SetCtxIfAbsent attaches ctx unless one is already present. In either
// case, the attached context is returned.
//
func (inode *InodeStruct) SetCtxIfAbsent(ctx interface{}) (attached interface{}) {
	inode.ctxLock.Lock()
	if nil == inode.ctx {
		inode.ctx = ctx
	}
	attached = inode.ctx
	inode.ctxLock.Unlock()
	return
}

// DelCtx detaches and returns the attached context.
//
func (inode *InodeStruct) DelCtx() (ctx interface{}) {
	inode.ctxLock.Lock()
	ctx = inode.ctx
	inode.ctx = nil
	inode.ctxLock.Unlock()
	return
}
