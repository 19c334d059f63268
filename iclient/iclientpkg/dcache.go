// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"github.com/NVIDIA/xlclient/xlator"
)

type dcacheEntryStruct struct {
	next  *dcacheEntryStruct
	entry xlator.DirEntryStruct
}

// dcacheStruct holds the entries of the most recent readdirp reply for an
// open directory. The list is circular through head; next is the cursor.
// Callers serialize access (via the owning fdStruct's lock).
//
type dcacheStruct struct {
	head    dcacheEntryStruct
	next    *dcacheEntryStruct
	prevOff int64
}

func newDCache() (dcache *dcacheStruct) {
	dcache = &dcacheStruct{}
	dcache.head.next = &dcache.head
	return
}

func (dcache *dcacheStruct) invalidate() {
	dcache.head.next = &dcache.head
	dcache.next = nil
	dcache.prevOff = 0
}

// update replaces the cached entries with entries. The cursor is placed on
// the first of them.
//
func (dcache *dcacheStruct) update(entries []xlator.DirEntryStruct) {
	var (
		tail *dcacheEntryStruct
	)

	dcache.invalidate()

	if 0 == len(entries) {
		return
	}

	tail = &dcache.head

	for _, entry := range entries {
		tail.next = &dcacheEntryStruct{next: &dcache.head, entry: entry}
		tail = tail.next
	}

	dcache.next = dcache.head.next
}

// readdir returns the entry at the cursor if the cache may serve a read at
// *offset. On a hit, *offset and prevOff advance to the entry's Off.
//
// A read at an offset other than the one the cache left off at is only
// served when it is the very first read (offset != 0 while prevOff == 0),
// matching a directory seeked to the cookie that began this batch.
//
func (dcache *dcacheStruct) readdir(offset *int64) (entry *xlator.DirEntryStruct, ok bool) {
	if (nil == dcache) || (nil == dcache.next) {
		globals.stats.dcacheRead(false)
		return
	}

	if &dcache.head == dcache.next {
		globals.stats.dcacheRead(false)
		return
	}

	if *offset != dcache.prevOff {
		if (0 == *offset) || (0 != dcache.prevOff) {
			globals.stats.dcacheRead(false)
			return
		}
	}

	entry = &dcache.next.entry

	*offset = entry.Off
	dcache.prevOff = entry.Off
	dcache.next = dcache.next.next

	ok = true

	globals.stats.dcacheRead(true)

	return
}
