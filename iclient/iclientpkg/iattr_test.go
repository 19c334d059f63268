// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/xlclient/itable"
	"github.com/NVIDIA/xlclient/xlator"
)

type testClockStruct struct {
	now time.Time
}

func (clock *testClockStruct) Now() time.Time {
	return clock.now
}

func testIAttrClient(lookupTimeout time.Duration, statTimeout time.Duration) (client *clientStruct, clock *testClockStruct, inode *itable.InodeStruct) {
	clock = &testClockStruct{now: time.Unix(1000000, 0)}

	client = &clientStruct{
		lookupTimeout: lookupTimeout,
		statTimeout:   statTimeout,
		nowFunc:       clock.Now,
	}
	client.itable = itable.New(17, 16, client.forgetInode)

	inode = client.itable.NewInode()

	return
}

func TestIAttrTimeouts(t *testing.T) {
	var (
		stat xlator.StatStruct
	)

	client, clock, inode := testIAttrClient(5*time.Second, 5*time.Second)
	defer inode.Unref()

	assert.False(t, client.isIAttrCacheValid(inode, nil, iattrLookup), "never updated")
	assert.False(t, client.isIAttrCacheValid(inode, nil, iattrStat), "never updated")

	client.updateIAttrCache(inode, iattrAll, &xlator.StatStruct{Ino: 42, Size: 7})

	clock.now = clock.now.Add(5 * time.Second)
	assert.True(t, client.isIAttrCacheValid(inode, nil, iattrLookup))
	require.True(t, client.isIAttrCacheValid(inode, &stat, iattrStat))
	assert.Equal(t, uint64(42), stat.Ino)
	assert.Equal(t, uint64(7), stat.Size)
	assert.True(t, client.isIAttrCacheValid(inode, nil, iattrAll))

	clock.now = clock.now.Add(time.Nanosecond)
	assert.False(t, client.isIAttrCacheValid(inode, nil, iattrLookup))
	assert.False(t, client.isIAttrCacheValid(inode, nil, iattrStat))
	assert.False(t, client.isIAttrCacheValid(inode, nil, iattrAll))
}

func TestIAttrZeroTimeout(t *testing.T) {
	client, _, inode := testIAttrClient(0, 0)
	defer inode.Unref()

	client.updateIAttrCache(inode, iattrAll, &xlator.StatStruct{})

	assert.False(t, client.isIAttrCacheValid(inode, nil, iattrLookup))
	assert.False(t, client.isIAttrCacheValid(inode, nil, iattrStat))
}

func TestIAttrInfiniteTimeout(t *testing.T) {
	client, clock, inode := testIAttrClient(-1, -1)
	defer inode.Unref()

	assert.False(t, client.isIAttrCacheValid(inode, nil, iattrStat), "infinite timeout still requires an update")

	client.updateIAttrCache(inode, iattrAll, &xlator.StatStruct{})

	clock.now = clock.now.Add(1000 * time.Hour)
	assert.True(t, client.isIAttrCacheValid(inode, nil, iattrLookup))
	assert.True(t, client.isIAttrCacheValid(inode, nil, iattrStat))

	client.invalidateIAttrCache(inode, iattrStat)
	assert.True(t, client.isIAttrCacheValid(inode, nil, iattrLookup))
	assert.False(t, client.isIAttrCacheValid(inode, nil, iattrStat), "invalidate overrides an infinite timeout")

	client.invalidateIAttrCache(inode, iattrAll)
	assert.False(t, client.isIAttrCacheValid(inode, nil, iattrLookup))
}

func TestIAttrInvalidateOnlyUndoneByUpdate(t *testing.T) {
	client, clock, inode := testIAttrClient(time.Minute, time.Minute)
	defer inode.Unref()

	// Invalidating an inode with no context must not create one

	client.invalidateIAttrCache(inode, iattrAll)
	assert.Nil(t, inode.Ctx())

	client.updateIAttrCache(inode, iattrLookup, nil)
	assert.True(t, client.isIAttrCacheValid(inode, nil, iattrLookup))
	assert.False(t, client.isIAttrCacheValid(inode, nil, iattrStat), "lookup update must not validate stat")

	client.invalidateIAttrCache(inode, iattrLookup)

	for i := 0; i < 3; i++ {
		clock.now = clock.now.Add(time.Second)
		assert.False(t, client.isIAttrCacheValid(inode, nil, iattrLookup))
	}

	client.updateIAttrCache(inode, iattrStat, &xlator.StatStruct{Size: 100})
	client.truncateIAttrCache(inode)

	stat := xlator.StatStruct{}
	require.True(t, client.isIAttrCacheValid(inode, &stat, iattrStat))
	assert.Equal(t, uint64(0), stat.Size)
}

func TestIAttrStatUpdateWithoutBuffer(t *testing.T) {
	client, clock, inode := testIAttrClient(time.Minute, time.Minute)
	defer inode.Unref()

	stat := xlator.StatStruct{Size: 12345}

	client.updateIAttrCache(inode, iattrStat, nil)
	assert.False(t, client.isIAttrCacheValid(inode, &stat, iattrStat), "stat kind stamped without a buffer")
	assert.Equal(t, uint64(12345), stat.Size)

	client.updateIAttrCache(inode, iattrAll, nil)
	assert.True(t, client.isIAttrCacheValid(inode, nil, iattrLookup))
	assert.False(t, client.isIAttrCacheValid(inode, &stat, iattrStat))
	assert.Equal(t, uint64(12345), stat.Size)

	client.updateIAttrCache(inode, iattrStat, &xlator.StatStruct{Size: 9})

	// A later buffer-less update must neither refresh nor replace the buffer

	clock.now = clock.now.Add(30 * time.Second)
	client.updateIAttrCache(inode, iattrStat, nil)
	clock.now = clock.now.Add(31 * time.Second)
	assert.False(t, client.isIAttrCacheValid(inode, &stat, iattrStat))
	assert.Equal(t, uint64(12345), stat.Size)
}

func TestIAttrTransformRoot(t *testing.T) {
	client, _, inode := testIAttrClient(time.Second, time.Second)
	defer inode.Unref()

	client.fakeFSID = 0xFEED

	root := client.itable.Root()
	defer root.Unref()

	stat := xlator.StatStruct{Ino: 77}
	client.transformIAttr(root, &stat)
	assert.Equal(t, itable.RootIno, stat.Ino)
	assert.Equal(t, uint64(0xFEED), stat.Dev)

	stat = xlator.StatStruct{Ino: 78}
	client.transformIAttr(inode, &stat)
	assert.Equal(t, uint64(78), stat.Ino)
}

func TestIAttrStatServedFromCache(t *testing.T) {
	testSetupWithOptions(t, &testSetupOptionsStruct{
		rootIno:       xlator.RootIno,
		lookupTimeout: 5 * time.Second,
		statTimeout:   5 * time.Second,
	})
	defer testTeardown(t)

	testCreateFile(t, "/file", []byte("hello"))

	first, err := Stat(testPath("/file"))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), first.Size)

	testGlobals.ram.ResetOpCounts()

	second, err := Stat(testPath("/file"))
	require.NoError(t, err)

	assert.Equal(t, *first, *second)
	assert.Equal(t, uint64(0), testGlobals.ram.OpCount(xlator.OpStat), "second stat must not reach the volume")
	assert.Equal(t, uint64(0), testGlobals.ram.OpCount(xlator.OpLookup), "path resolution must come from cache")
}

func TestIAttrStatExpires(t *testing.T) {
	testSetupWithOptions(t, &testSetupOptionsStruct{
		rootIno:       xlator.RootIno,
		lookupTimeout: -1,
		statTimeout:   5 * time.Second,
	})
	defer testTeardown(t)

	clock := &testClockStruct{now: time.Now()}
	testGlobals.client.nowFunc = clock.Now

	testCreateFile(t, "/file", nil)

	_, err := Stat(testPath("/file"))
	require.NoError(t, err)

	testGlobals.ram.ResetOpCounts()

	clock.now = clock.now.Add(6 * time.Second)

	_, err = Stat(testPath("/file"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), testGlobals.ram.OpCount(xlator.OpStat))
	assert.Equal(t, uint64(0), testGlobals.ram.OpCount(xlator.OpLookup))
}
