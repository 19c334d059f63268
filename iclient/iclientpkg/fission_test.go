// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/NVIDIA/fission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/xlator"
)

// TestFUSECallbacks drives the fission callbacks directly (i.e. without a
// kernel mount) against the client serving testVMP.
//
func TestFUSECallbacks(t *testing.T) {
	testSetupWithOptions(t, &testSetupOptionsStruct{
		rootIno:       xlator.RootIno,
		lookupTimeout: time.Minute,
		statTimeout:   time.Minute,
	})
	defer testTeardown(t)

	_, errno := globals.DoGetAttr(&fission.InHeader{NodeID: xlator.RootIno}, &fission.GetAttrIn{})
	assert.Equal(t, syscall.ENODEV, errno)

	globals.fuseClient = testGlobals.client
	defer func() {
		globals.fuseClient = nil
	}()

	getAttrOut, errno := globals.DoGetAttr(&fission.InHeader{NodeID: xlator.RootIno}, &fission.GetAttrIn{})
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, uint64(xlator.RootIno), getAttrOut.Attr.Ino)
	assert.Equal(t, uint32(unix.S_IFDIR), getAttrOut.Attr.Mode&unix.S_IFMT)

	mkDirOut, errno := globals.DoMkDir(&fission.InHeader{NodeID: xlator.RootIno}, &fission.MkDirIn{Mode: 0777, UMask: 022, Name: []byte("d")})
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, uint32(unix.S_IFDIR), mkDirOut.Attr.Mode&unix.S_IFMT)
	assert.Equal(t, uint32(0755), mkDirOut.Attr.Mode&07777)

	dirNodeID := mkDirOut.NodeID

	createOut, errno := globals.DoCreate(&fission.InHeader{NodeID: dirNodeID}, &fission.CreateIn{Flags: uint32(unix.O_RDWR), Mode: 0644, Name: []byte("f")})
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, uint32(unix.S_IFREG), createOut.Attr.Mode&unix.S_IFMT)

	writeOut, errno := globals.DoWrite(&fission.InHeader{NodeID: createOut.NodeID}, &fission.WriteIn{FH: createOut.FH, Offset: 0, Data: []byte("hello")})
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, uint32(5), writeOut.Size)

	readOut, errno := globals.DoRead(&fission.InHeader{NodeID: createOut.NodeID}, &fission.ReadIn{FH: createOut.FH, Offset: 1, Size: 16})
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, []byte("ello"), readOut.Data)

	assert.Equal(t, syscall.Errno(0), globals.DoRelease(&fission.InHeader{NodeID: createOut.NodeID}, &fission.ReleaseIn{FH: createOut.FH}))
	assert.Equal(t, syscall.EBADF, globals.DoRelease(&fission.InHeader{NodeID: createOut.NodeID}, &fission.ReleaseIn{FH: createOut.FH}))

	lookupOut, errno := globals.DoLookup(&fission.InHeader{NodeID: dirNodeID}, &fission.LookupIn{Name: []byte("f")})
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, createOut.NodeID, lookupOut.NodeID)
	assert.Equal(t, uint64(5), lookupOut.Attr.Size)
	assert.Equal(t, uint64(1), lookupOut.Attr.Blocks)

	_, errno = globals.DoLookup(&fission.InHeader{NodeID: dirNodeID}, &fission.LookupIn{Name: []byte("missing")})
	assert.Equal(t, syscall.ENOENT, errno)

	openOut, errno := globals.DoOpen(&fission.InHeader{NodeID: lookupOut.NodeID}, &fission.OpenIn{Flags: uint32(unix.O_RDONLY)})
	require.Equal(t, syscall.Errno(0), errno)

	_, errno = globals.DoWrite(&fission.InHeader{NodeID: lookupOut.NodeID}, &fission.WriteIn{FH: openOut.FH, Offset: 0, Data: []byte("x")})
	assert.Equal(t, syscall.EBADF, errno)

	assert.Equal(t, syscall.Errno(0), globals.DoRelease(&fission.InHeader{NodeID: lookupOut.NodeID}, &fission.ReleaseIn{FH: openOut.FH}))

	openDirOut, errno := globals.DoOpenDir(&fission.InHeader{NodeID: dirNodeID}, &fission.OpenDirIn{})
	require.Equal(t, syscall.Errno(0), errno)

	readDirOut, errno := globals.DoReadDir(&fission.InHeader{NodeID: dirNodeID}, &fission.ReadDirIn{FH: openDirOut.FH, Offset: 0, Size: 4096})
	require.Equal(t, syscall.Errno(0), errno)
	require.Len(t, readDirOut.DirEnt, 3)
	assert.Equal(t, []byte("."), readDirOut.DirEnt[0].Name)
	assert.Equal(t, []byte(".."), readDirOut.DirEnt[1].Name)
	assert.Equal(t, []byte("f"), readDirOut.DirEnt[2].Name)
	assert.Equal(t, createOut.NodeID, readDirOut.DirEnt[2].Ino)
	assert.Equal(t, uint32(unix.S_IFREG), readDirOut.DirEnt[2].Type)

	// A buffer holding a single record returns just that one
	readDirOut, errno = globals.DoReadDir(&fission.InHeader{NodeID: dirNodeID}, &fission.ReadDirIn{FH: openDirOut.FH, Offset: 1, Size: uint32(fission.DirEntFixedPortionSize + fission.DirEntAlignment)})
	require.Equal(t, syscall.Errno(0), errno)
	require.Len(t, readDirOut.DirEnt, 1)
	assert.Equal(t, []byte(".."), readDirOut.DirEnt[0].Name)

	readDirOut, errno = globals.DoReadDir(&fission.InHeader{NodeID: dirNodeID}, &fission.ReadDirIn{FH: openDirOut.FH, Offset: 3, Size: 4096})
	require.Equal(t, syscall.Errno(0), errno)
	assert.Len(t, readDirOut.DirEnt, 0)

	assert.Equal(t, syscall.Errno(0), globals.DoReleaseDir(&fission.InHeader{NodeID: dirNodeID}, &fission.ReleaseDirIn{FH: openDirOut.FH}))

	assert.Equal(t, syscall.ENOTEMPTY, globals.DoRmDir(&fission.InHeader{NodeID: xlator.RootIno}, &fission.RmDirIn{Name: []byte("d")}))
	assert.Equal(t, syscall.Errno(0), globals.DoUnlink(&fission.InHeader{NodeID: dirNodeID}, &fission.UnlinkIn{Name: []byte("f")}))
	assert.Equal(t, syscall.Errno(0), globals.DoRmDir(&fission.InHeader{NodeID: xlator.RootIno}, &fission.RmDirIn{Name: []byte("d")}))

	_, errno = globals.DoLookup(&fission.InHeader{NodeID: xlator.RootIno}, &fission.LookupIn{Name: []byte("d")})
	assert.Equal(t, syscall.ENOENT, errno)

	_, errno = globals.DoRead(&fission.InHeader{NodeID: xlator.RootIno}, &fission.ReadIn{FH: 12345, Offset: 0, Size: 1})
	assert.Equal(t, syscall.EBADF, errno)
}

// TestFUSENodesOutliveLRU checks that NodeIDs handed to the kernel stay
// resolvable however many other inodes pass through the LRU, until the
// kernel forgets them.
//
func TestFUSENodesOutliveLRU(t *testing.T) {
	var (
		churnCount int
	)

	testSetupWithOptions(t, &testSetupOptionsStruct{
		rootIno:        xlator.RootIno,
		lookupTimeout:  time.Minute,
		statTimeout:    time.Minute,
		itableLRULimit: 4,
	})
	defer testTeardown(t)

	globals.fuseClient = testGlobals.client
	defer func() {
		globals.fuseClient = nil
	}()

	churn := func() {
		for i := 0; i < 10; i++ {
			testCreateFile(t, fmt.Sprintf("/churn%d", churnCount), nil)
			churnCount++
		}
		require.LessOrEqual(t, testGlobals.client.itable.LRULen(), 4)
	}

	testCreateFile(t, "/f0", []byte("abc"))

	lookupOut, errno := globals.DoLookup(&fission.InHeader{NodeID: xlator.RootIno}, &fission.LookupIn{Name: []byte("f0")})
	require.Equal(t, syscall.Errno(0), errno)
	nodeID := lookupOut.NodeID

	_, errno = globals.DoLookup(&fission.InHeader{NodeID: xlator.RootIno}, &fission.LookupIn{Name: []byte("f0")})
	require.Equal(t, syscall.Errno(0), errno)

	churn()

	getAttrOut, errno := globals.DoGetAttr(&fission.InHeader{NodeID: nodeID}, &fission.GetAttrIn{})
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, uint64(3), getAttrOut.Attr.Size)

	// Two lookups were returned, so a single forget leaves the node pinned

	globals.DoForget(&fission.InHeader{NodeID: nodeID}, &fission.ForgetIn{NLookup: 1})

	churn()

	_, errno = globals.DoGetAttr(&fission.InHeader{NodeID: nodeID}, &fission.GetAttrIn{})
	require.Equal(t, syscall.Errno(0), errno)

	globals.DoBatchForget(&fission.InHeader{}, &fission.BatchForgetIn{
		Count:  1,
		Forget: []fission.ForgetOne{{NodeID: nodeID, NLookup: 1}},
	})

	churn()

	_, errno = globals.DoGetAttr(&fission.InHeader{NodeID: nodeID}, &fission.GetAttrIn{})
	assert.Equal(t, syscall.ENOENT, errno)

	// Forgetting an unknown NodeID is harmless

	globals.DoForget(&fission.InHeader{NodeID: nodeID}, &fission.ForgetIn{NLookup: 1})
}

func TestFUSEAttr(t *testing.T) {
	var (
		attr fission.Attr
	)

	fuseAttr(&xlator.StatStruct{
		Ino:   7,
		Mode:  unix.S_IFREG | 0644,
		NLink: 1,
		Size:  1025,
		MTime: time.Unix(100, 5),
	}, &attr)

	assert.Equal(t, uint64(7), attr.Ino)
	assert.Equal(t, attrBlockSize, attr.BlkSize)
	assert.Equal(t, uint64(3), attr.Blocks)
	assert.Equal(t, uint64(100), attr.MTimeSec)
	assert.Equal(t, uint32(5), attr.MTimeNSec)
	assert.Equal(t, uint64(0), attr.ATimeSec)

	sec, nsec := nsToUnixTime(uint64(3*time.Second + 7))
	assert.Equal(t, uint64(3), sec)
	assert.Equal(t, uint32(7), nsec)
}
