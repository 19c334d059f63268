// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package itable

import (
	"container/list"
	"fmt"
	"strings"
	"sync"

	"github.com/NVIDIA/sortedmap"
	"github.com/creachadair/cityhash"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/blunder"
)

const (
	sIFMT = uint32(0170000)

	defaultHashSize = uint64(14057)

	maxPathDepth = 4096
)

// TableStruct is the inode table. All fields are protected by the embedded
// sync.Mutex with the exception of each InodeStruct's ctx.
//
type TableStruct struct {
	sync.Mutex
	root           *InodeStruct
	inodeMap       sortedmap.LLRBTree // key: ino; value: *InodeStruct
	dentryHash     [][]*dentryStruct  // index: cityhash(name, parent ino) % len
	lruList        *list.List         // of *InodeStruct with refCount == 0 && nLookup != 0
	lruLimit       uint64             // == 0 means unbounded
	forgetCallback ForgetCallback
}

func newTable(hashSize uint64, lruLimit uint64, forgetCallback ForgetCallback) (table *TableStruct) {
	var (
		ok  bool
		err error
	)

	if 0 == hashSize {
		hashSize = defaultHashSize
	}

	table = &TableStruct{
		dentryHash:     make([][]*dentryStruct, hashSize),
		lruList:        list.New(),
		lruLimit:       lruLimit,
		forgetCallback: forgetCallback,
	}

	table.inodeMap = sortedmap.NewLLRBTree(sortedmap.CompareUint64, table)

	table.root = &InodeStruct{
		table:      table,
		ino:        RootIno,
		mode:       unix.S_IFDIR,
		hashed:     true,
		refCount:   1, // held by the table itself
		dentryList: make([]*dentryStruct, 0),
	}

	ok, err = table.inodeMap.Put(RootIno, table.root)
	if (nil != err) || !ok {
		panic(fmt.Errorf("table.inodeMap.Put(RootIno,) failed (ok: %v err: %v)", ok, err))
	}

	return
}

func (table *TableStruct) DumpKey(key sortedmap.Key) (keyAsString string, err error) {
	keyAsUint64, ok := key.(uint64)
	if !ok {
		err = fmt.Errorf("key.(uint64) returned !ok")
		return
	}

	keyAsString = fmt.Sprintf("%016X", keyAsUint64)
	return
}

func (table *TableStruct) DumpValue(value sortedmap.Value) (valueAsString string, err error) {
	inode, ok := value.(*InodeStruct)
	if !ok {
		err = fmt.Errorf("value.(*InodeStruct) returned !ok")
		return
	}

	valueAsString = fmt.Sprintf("%016X (ref: %v lookup: %v)", inode.ino, inode.refCount, inode.nLookup)
	return
}

func (table *TableStruct) rootRef() (root *InodeStruct) {
	table.Lock()
	table.refLocked(table.root)
	root = table.root
	table.Unlock()
	return
}

func (table *TableStruct) newInode() (inode *InodeStruct) {
	inode = &InodeStruct{
		table:      table,
		refCount:   1,
		dentryList: make([]*dentryStruct, 0),
	}
	return
}

func (table *TableStruct) dentryHashIndex(parentIno uint64, name string) (index uint64) {
	index = cityhash.Hash64WithSeed([]byte(name), parentIno) % uint64(len(table.dentryHash))
	return
}

func (table *TableStruct) getByIno(ino uint64) (inode *InodeStruct) {
	inodeAsValue, ok, err := table.inodeMap.GetByKey(ino)
	if nil != err {
		panic(fmt.Errorf("table.inodeMap.GetByKey(%016X) failed: %v", ino, err))
	}
	if ok {
		inode = inodeAsValue.(*InodeStruct)
	}
	return
}

func (table *TableStruct) findDentry(parent *InodeStruct, name string) (dentry *dentryStruct) {
	var (
		bucket []*dentryStruct
	)

	if !parent.hashed {
		return
	}

	bucket = table.dentryHash[table.dentryHashIndex(parent.ino, name)]

	for _, dentry = range bucket {
		if (dentry.parent == parent) && (dentry.name == name) {
			return
		}
	}

	dentry = nil
	return
}

func (table *TableStruct) search(parentIno uint64, name string) (inode *InodeStruct) {
	var (
		dentry *dentryStruct
		parent *InodeStruct
	)

	table.Lock()
	defer table.Unlock()

	parent = table.getByIno(parentIno)
	if nil == parent {
		return
	}

	if "" == name {
		inode = parent
	} else {
		dentry = table.findDentry(parent, name)
		if nil == dentry {
			return
		}
		inode = dentry.inode
	}

	table.refLocked(inode)

	return
}

// hashLocked inserts inode into the inodeMap under ino.
//
func (table *TableStruct) hashLocked(inode *InodeStruct, ino uint64) {
	ok, err := table.inodeMap.Put(ino, inode)
	if (nil != err) || !ok {
		panic(fmt.Errorf("table.inodeMap.Put(%016X,) failed (ok: %v err: %v)", ino, ok, err))
	}

	inode.ino = ino
	inode.hashed = true
}

func (table *TableStruct) addDentryLocked(inode *InodeStruct, parent *InodeStruct, name string) {
	var (
		dentry *dentryStruct
		index  uint64
	)

	dentry = &dentryStruct{
		parent: parent,
		name:   name,
		inode:  inode,
	}

	table.refLocked(parent)

	index = table.dentryHashIndex(parent.ino, name)
	table.dentryHash[index] = append(table.dentryHash[index], dentry)

	inode.dentryList = append(inode.dentryList, dentry)
}

// removeDentryLocked drops dentry from both the hash and its inode's
// dentryList. The reference dentry held on its parent is returned to the
// caller (now owning it) so that it may be released once no longer needed.
//
func (table *TableStruct) removeDentryLocked(dentry *dentryStruct) (parent *InodeStruct) {
	var (
		bucket []*dentryStruct
		index  uint64
	)

	index = table.dentryHashIndex(dentry.parent.ino, dentry.name)
	bucket = table.dentryHash[index]

	for i, d := range bucket {
		if d == dentry {
			bucket[i] = bucket[len(bucket)-1]
			bucket[len(bucket)-1] = nil
			table.dentryHash[index] = bucket[:len(bucket)-1]
			break
		}
	}

	for i, d := range dentry.inode.dentryList {
		if d == dentry {
			dentry.inode.dentryList = append(dentry.inode.dentryList[:i], dentry.inode.dentryList[i+1:]...)
			break
		}
	}

	parent = dentry.parent

	return
}

func (table *TableStruct) link(inode *InodeStruct, parent *InodeStruct, name string, ino uint64) (linked *InodeStruct) {
	var (
		dentry        *dentryStruct
		released      []*InodeStruct
		retired       []*InodeStruct
		releasedInode *InodeStruct
	)

	if 0 == ino {
		panic(fmt.Errorf("table.Link() called with ino == 0"))
	}

	table.Lock()

	linked = table.getByIno(ino)

	if nil == linked {
		if inode.hashed {
			// Backend has assigned a different ino to what we thought
			// we were holding... so hand back a fresh inode instead

			linked = &InodeStruct{
				table:      table,
				mode:       inode.mode,
				dentryList: make([]*dentryStruct, 0),
			}
		} else {
			linked = inode
		}

		table.hashLocked(linked, ino)
	}

	table.refLocked(linked)

	if (nil != parent) && ("" != name) && parent.hashed {
		dentry = table.findDentry(parent, name)

		if (nil != dentry) && (dentry.inode != linked) {
			released = append(released, table.removeDentryLocked(dentry))
			dentry = nil
		}

		if nil == dentry {
			table.addDentryLocked(linked, parent, name)
		}
	}

	for _, releasedInode = range released {
		retired = table.unrefLocked(releasedInode, retired)
	}

	table.Unlock()

	table.forgetAll(retired)

	return
}

func (table *TableStruct) unlink(inode *InodeStruct, parent *InodeStruct, name string) {
	var (
		dentry  *dentryStruct
		retired []*InodeStruct
	)

	if (nil == inode) || (nil == parent) {
		return
	}

	table.Lock()

	dentry = table.findDentry(parent, name)
	if (nil != dentry) && (dentry.inode == inode) {
		retired = table.unrefLocked(table.removeDentryLocked(dentry), retired)
	}

	table.Unlock()

	table.forgetAll(retired)
}

func (table *TableStruct) rename(inode *InodeStruct, oldParent *InodeStruct, oldName string, newParent *InodeStruct, newName string) {
	var (
		dentry   *dentryStruct
		released []*InodeStruct
		retired  []*InodeStruct
	)

	table.Lock()

	if nil != oldParent {
		dentry = table.findDentry(oldParent, oldName)
		if (nil != dentry) && (dentry.inode == inode) {
			released = append(released, table.removeDentryLocked(dentry))
		}
	}

	if (nil != newParent) && newParent.hashed && inode.hashed {
		dentry = table.findDentry(newParent, newName)
		if (nil != dentry) && (dentry.inode != inode) {
			released = append(released, table.removeDentryLocked(dentry))
			dentry = nil
		}
		if nil == dentry {
			table.addDentryLocked(inode, newParent, newName)
		}
	}

	for _, parent := range released {
		retired = table.unrefLocked(parent, retired)
	}

	table.Unlock()

	table.forgetAll(retired)
}

func (table *TableStruct) parent(inode *InodeStruct, parentIno uint64, name string) (parent *InodeStruct) {
	var (
		dentry *dentryStruct
	)

	table.Lock()
	defer table.Unlock()

	if inode == table.root {
		return
	}

	for _, dentry = range inode.dentryList {
		if 0 != parentIno {
			if dentry.parent.ino != parentIno {
				continue
			}
			if ("" != name) && (dentry.name != name) {
				continue
			}
		}

		parent = dentry.parent
		table.refLocked(parent)
		return
	}

	return
}

func (table *TableStruct) dentrySearchForInode(inode *InodeStruct, parentIno uint64, name string) (found bool) {
	table.Lock()
	defer table.Unlock()

	for _, dentry := range inode.dentryList {
		if (dentry.parent.ino == parentIno) && (dentry.name == name) {
			found = true
			return
		}
	}

	return
}

func (table *TableStruct) path(inode *InodeStruct, name string) (path string, err error) {
	var (
		components []string
		current    *InodeStruct
		hops       int
	)

	table.Lock()
	defer table.Unlock()

	if "" != name {
		components = append(components, name)
	}

	current = inode

	for current != table.root {
		if 0 == len(current.dentryList) {
			err = blunder.NewError(unix.ENOENT, "inode %016X has no path to root", current.ino)
			return
		}

		components = append(components, current.dentryList[0].name)
		current = current.dentryList[0].parent

		hops++
		if hops > maxPathDepth {
			err = blunder.NewError(unix.ELOOP, "dentry cycle detected above inode %016X", inode.ino)
			return
		}
	}

	if 0 == len(components) {
		path = "/"
		return
	}

	for i, j := 0, len(components)-1; i < j; i, j = i+1, j-1 {
		components[i], components[j] = components[j], components[i]
	}

	path = "/" + strings.Join(components, "/")

	return
}

func (table *TableStruct) fromPath(path string) (inode *InodeStruct) {
	var (
		dentry *dentryStruct
	)

	table.Lock()
	defer table.Unlock()

	inode = table.root

	for _, component := range strings.Split(path, "/") {
		if "" == component {
			continue
		}

		dentry = table.findDentry(inode, component)
		if nil == dentry {
			inode = nil
			return
		}

		inode = dentry.inode
	}

	table.refLocked(inode)

	return
}

func (table *TableStruct) len() (numInodes int) {
	var (
		err error
	)

	table.Lock()
	defer table.Unlock()

	numInodes, err = table.inodeMap.Len()
	if nil != err {
		panic(fmt.Errorf("table.inodeMap.Len() failed: %v", err))
	}

	return
}

func (table *TableStruct) dump() (inodeInfoSlice []InodeInfoStruct) {
	var (
		err          error
		inode        *InodeStruct
		inodeAsValue sortedmap.Value
		inodeMapLen  int
		ok           bool
	)

	table.Lock()
	defer table.Unlock()

	inodeMapLen, err = table.inodeMap.Len()
	if nil != err {
		panic(fmt.Errorf("table.inodeMap.Len() failed: %v", err))
	}

	inodeInfoSlice = make([]InodeInfoStruct, 0, inodeMapLen)

	for inodeMapIndex := 0; inodeMapIndex < inodeMapLen; inodeMapIndex++ {
		_, inodeAsValue, ok, err = table.inodeMap.GetByIndex(inodeMapIndex)
		if (nil != err) || !ok {
			panic(fmt.Errorf("table.inodeMap.GetByIndex(%v) failed (ok: %v err: %v)", inodeMapIndex, ok, err))
		}

		inode = inodeAsValue.(*InodeStruct)

		inodeInfo := InodeInfoStruct{
			Ino:      inode.ino,
			Mode:     inode.mode,
			RefCount: inode.refCount,
			NLookup:  inode.nLookup,
			Names:    make([]string, 0, len(inode.dentryList)),
		}

		for _, dentry := range inode.dentryList {
			inodeInfo.Names = append(inodeInfo.Names, fmt.Sprintf("%d/%s", dentry.parent.ino, dentry.name))
		}

		inodeInfoSlice = append(inodeInfoSlice, inodeInfo)
	}

	return
}

func (table *TableStruct) refLocked(inode *InodeStruct) {
	if nil != inode.lruElement {
		table.lruList.Remove(inode.lruElement.(*list.Element))
		inode.lruElement = nil
	}

	inode.refCount++
}

func (table *TableStruct) ref(inode *InodeStruct) {
	table.Lock()
	table.refLocked(inode)
	table.Unlock()
}

// unrefLocked drops a reference on inode, appending any inodes that end up
// retired to retired (and returning the result).
//
func (table *TableStruct) unrefLocked(inode *InodeStruct, retired []*InodeStruct) []*InodeStruct {
	if 0 == inode.refCount {
		panic(fmt.Errorf("unref of inode %016X with refCount == 0", inode.ino))
	}

	inode.refCount--

	if 0 != inode.refCount {
		return retired
	}

	if (0 == inode.nLookup) || !inode.hashed {
		return table.retireLocked(inode, retired)
	}

	inode.lruElement = table.lruList.PushBack(inode)

	return table.pruneLocked(retired)
}

func (table *TableStruct) unref(inode *InodeStruct) {
	var (
		retired []*InodeStruct
	)

	table.Lock()
	retired = table.unrefLocked(inode, nil)
	table.Unlock()

	table.forgetAll(retired)
}

func (table *TableStruct) lookup(inode *InodeStruct) {
	table.Lock()
	inode.nLookup++
	table.Unlock()
}

func (table *TableStruct) forget(inode *InodeStruct, nLookup uint64) {
	var (
		retired []*InodeStruct
	)

	table.Lock()

	if nLookup > inode.nLookup {
		nLookup = inode.nLookup
	}

	inode.nLookup -= nLookup

	if (0 == inode.nLookup) && (0 == inode.refCount) && !inode.retired {
		retired = table.retireLocked(inode, nil)
	}

	table.Unlock()

	table.forgetAll(retired)
}

func (table *TableStruct) pruneLocked(retired []*InodeStruct) []*InodeStruct {
	var (
		element *list.Element
		inode   *InodeStruct
	)

	if 0 == table.lruLimit {
		return retired
	}

	for uint64(table.lruList.Len()) > table.lruLimit {
		element = table.lruList.Front()
		inode = element.Value.(*InodeStruct)
		inode.nLookup = 0
		retired = table.retireLocked(inode, retired)
	}

	return retired
}

// retireLocked removes inode from the table. Parents whose last reference
// was held by one of inode's dentries are retired in turn.
//
func (table *TableStruct) retireLocked(inode *InodeStruct, retired []*InodeStruct) []*InodeStruct {
	var (
		err     error
		ok      bool
		parents []*InodeStruct
	)

	if inode == table.root {
		panic(fmt.Errorf("attempt to retire the root inode"))
	}

	if nil != inode.lruElement {
		table.lruList.Remove(inode.lruElement.(*list.Element))
		inode.lruElement = nil
	}

	for len(inode.dentryList) > 0 {
		parents = append(parents, table.removeDentryLocked(inode.dentryList[0]))
	}

	if inode.hashed {
		ok, err = table.inodeMap.DeleteByKey(inode.ino)
		if (nil != err) || !ok {
			panic(fmt.Errorf("table.inodeMap.DeleteByKey(%016X) failed (ok: %v err: %v)", inode.ino, ok, err))
		}
		inode.hashed = false
	}

	inode.retired = true

	retired = append(retired, inode)

	for _, parent := range parents {
		retired = table.unrefLocked(parent, retired)
	}

	return retired
}

func (table *TableStruct) forgetAll(retired []*InodeStruct) {
	if nil == table.forgetCallback {
		return
	}

	for _, inode := range retired {
		table.forgetCallback(inode)
	}
}
