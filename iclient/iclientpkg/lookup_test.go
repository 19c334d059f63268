// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/itable"
	"github.com/NVIDIA/xlclient/xlator"
)

// testHeldLoc returns a loc for /name already holding the table's inode
// for it, as a revalidating lookup would.
//
func testHeldLoc(t *testing.T, name string) (loc *locStruct, held *itable.InodeStruct) {
	client := testGlobals.client

	loc = &locStruct{
		path:   "/" + name,
		name:   name,
		ino:    0,
		parent: client.itable.Root(),
		inode:  client.itable.Search(itable.RootIno, name),
	}
	require.NotNil(t, loc.inode)

	held = loc.inode

	return
}

func TestLookupRevalidateFailsTwice(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	testCreateFile(t, "/file", nil)

	loc, held := testHeldLoc(t, "file")
	extra := held.Ref()
	defer extra.Unref()

	heldRefCount := held.RefCount()

	testGlobals.ram.ResetOpCounts()
	testGlobals.ram.SetFault(xlator.OpLookup, unix.ENOENT, 2)

	_, err := testGlobals.client.lookup(loc, nil, 0)
	testRequireErrno(t, err, unix.ENOENT)

	assert.Equal(t, uint64(2), testGlobals.ram.OpCount(xlator.OpLookup), "exactly one retry expected")

	placeholder := loc.inode
	require.NotNil(t, placeholder)
	assert.NotEqual(t, held, placeholder, "retry must use a fresh inode")
	assert.Equal(t, uint64(1), placeholder.RefCount(), "only the loc may hold the placeholder")
	assert.Equal(t, heldRefCount-1, held.RefCount(), "the held inode's reference must have been dropped")

	loc.wipe()

	assert.Equal(t, uint64(0), placeholder.RefCount())
	assert.Equal(t, uint64(0), placeholder.NLookup())
}

func TestLookupRevalidateRetrySucceeds(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	testCreateFile(t, "/file", nil)

	loc, held := testHeldLoc(t, "file")
	defer loc.wipe()

	testGlobals.ram.ResetOpCounts()
	testGlobals.ram.SetFault(xlator.OpLookup, unix.ENOENT, 1)

	stat := xlator.StatStruct{}

	_, err := testGlobals.client.lookup(loc, &stat, 0)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), testGlobals.ram.OpCount(xlator.OpLookup))
	assert.Equal(t, held, loc.inode, "retry by name must find the same inode")
	assert.Equal(t, held.Ino(), loc.ino)
	assert.Equal(t, held.Ino(), stat.Ino)
	assert.True(t, testGlobals.client.isIAttrCacheValid(loc.inode, nil, iattrAll))
}

func TestLookupFreshNotFound(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	client := testGlobals.client

	loc := &locStruct{
		path:   "/missing",
		name:   "missing",
		parent: client.itable.Root(),
	}

	testGlobals.ram.ResetOpCounts()

	_, err := client.lookup(loc, nil, 0)
	testRequireErrno(t, err, unix.ENOENT)
	assert.Equal(t, uint64(1), testGlobals.ram.OpCount(xlator.OpLookup), "a fresh lookup is never retried")

	placeholder := loc.inode
	loc.wipe()
	assert.Equal(t, uint64(0), placeholder.RefCount())
}

func TestLookupReplacedBehindOurBack(t *testing.T) {
	testSetupWithOptions(t, &testSetupOptionsStruct{
		rootIno:       xlator.RootIno,
		lookupTimeout: 0,
		statTimeout:   0,
	})
	defer testTeardown(t)

	testCreateFile(t, "/file", []byte("old"))

	oldStat, err := Stat(testPath("/file"))
	require.NoError(t, err)

	// Replace "file" directly on the volume so the client's inode is stale

	replyChan := make(chan *xlator.ReplyStruct, 1)
	testGlobals.ram.Submit(&xlator.RequestStruct{Op: xlator.OpUnlink, ParentIno: xlator.RootIno, Name: "file"}, func(reply *xlator.ReplyStruct) { replyChan <- reply })
	require.True(t, 0 <= (<-replyChan).OpRet)
	testGlobals.ram.Submit(&xlator.RequestStruct{Op: xlator.OpMkNod, ParentIno: xlator.RootIno, Name: "file", Mode: unix.S_IFREG | 0600}, func(reply *xlator.ReplyStruct) { replyChan <- reply })
	require.True(t, 0 <= (<-replyChan).OpRet)

	newStat, err := Stat(testPath("/file"))
	require.NoError(t, err)
	assert.NotEqual(t, oldStat.Ino, newStat.Ino)
	assert.Equal(t, uint64(0), newStat.Size)
	assert.Equal(t, uint32(0600), newStat.Mode&0777)
}

func TestLookupAsync(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	testCreateFile(t, "/file", []byte("data"))

	var (
		lookupErr error
		wg        sync.WaitGroup
		reply     *xlator.ReplyStruct
	)

	loc, _ := testHeldLoc(t, "file")
	defer loc.wipe()

	wg.Add(1)
	testGlobals.client.lookupAsync(loc, 16, func(asyncReply *xlator.ReplyStruct, err error) {
		reply = asyncReply
		lookupErr = err
		wg.Done()
	})
	wg.Wait()

	require.NoError(t, lookupErr)
	assert.Equal(t, []byte("data"), reply.XAttrs[xlator.ContentXAttrKey])
}
