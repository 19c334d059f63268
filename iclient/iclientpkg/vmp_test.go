// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/xlator"
)

func TestVMPLongestPrefix(t *testing.T) {
	registry := newVMPRegistry()

	clientA := &clientStruct{vmp: "/a/"}
	clientAB := &clientStruct{vmp: "/a/b/"}

	require.NoError(t, registry.mapEntry("/a/", clientA))
	require.NoError(t, registry.mapEntry("/a/b/", clientAB))

	for _, testCase := range []struct {
		path     string
		expected *clientStruct
	}{
		{"/a/b/c", clientAB},
		{"/a/b/c/d", clientAB},
		{"/a/b", clientAB},
		{"/a/b/", clientAB},
		{"/a/c", clientA},
		{"/a", clientA},
		{"/a/bc", clientA},
		{"/ab/c", nil},
		{"/b/a", nil},
		{"/", nil},
	} {
		entry := registry.searchEntry(testCase.path, false)
		if nil == testCase.expected {
			assert.Nil(t, entry, "path \"%s\"", testCase.path)
		} else if assert.NotNil(t, entry, "path \"%s\"", testCase.path) {
			assert.True(t, testCase.expected == entry.client, "path \"%s\" matched \"%s\"", testCase.path, entry.vmp)
		}
	}

	assert.Nil(t, registry.searchEntry("/a/b/c", true))
	assert.NotNil(t, registry.searchEntry("/a/b", true))
	assert.NotNil(t, registry.searchEntry("/a/", true))
}

func TestVMPVirtualPath(t *testing.T) {
	entry := &vmpEntryStruct{vmp: "/mnt/x/"}

	assert.Equal(t, "/dir/file", vmpVirtualPath(entry, "/mnt/x/dir/file"))
	assert.Equal(t, "/", vmpVirtualPath(entry, "/mnt/x/"))
	assert.Equal(t, "/", vmpVirtualPath(entry, "/mnt/x"))
}

func TestVMPResolvedPathHandle(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	require.NoError(t, Mkdir(testPath("/dir"), 0755))
	testCreateFile(t, "/dir/file", nil)

	client, vpath, err := resolvedPathHandle("/mnt/x/dir/file")
	require.NoError(t, err)
	assert.True(t, testGlobals.client == client)
	assert.Equal(t, "/dir/file", vpath)

	client, vpath, err = resolvedPathHandle("/mnt/x//dir/./file/")
	require.NoError(t, err)
	assert.True(t, testGlobals.client == client)
	assert.Equal(t, "/dir/file", vpath)

	_, _, err = resolvedPathHandle("/mnt/xy/dir")
	testRequireErrno(t, err, unix.ENODEV)

	_, _, err = resolvedPathHandle("")
	testRequireErrno(t, err, unix.ENOENT)

	stat, err := Stat("/mnt/x/dir/file")
	require.NoError(t, err)
	assert.True(t, stat.IsReg())
	assert.Equal(t, vmpFakeFSID(vmpTerminate(testVMP)), stat.Dev)
}

func TestVMPNested(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	inner := xlator.NewRAMTranslator("inner", xlator.RootIno)

	require.NoError(t, Mount(testVMP+"/inner", &InitParamsStruct{Graph: inner, LogLevel: "NONE"}))

	// Mounting again is a no-op

	require.NoError(t, Mount(testVMP+"/inner/", &InitParamsStruct{Graph: xlator.NewRAMTranslator("ignored", xlator.RootIno), LogLevel: "NONE"}))
	assert.Equal(t, 2, len(vmpSnapshot()))

	testCreateFile(t, "/inner/file", []byte("in"))

	assert.Equal(t, uint64(1), inner.OpCount(xlator.OpCreate))
	assert.Equal(t, uint64(0), testGlobals.ram.OpCount(xlator.OpCreate))

	testRequireErrno(t, Rename(testPath("/inner/file"), testPath("/outer")), unix.EXDEV)
	testRequireErrno(t, Link(testPath("/inner/file"), testPath("/outer")), unix.EXDEV)

	testRequireErrno(t, Unmount(testVMP+"/nothere"), unix.EINVAL)

	require.NoError(t, Unmount(testVMP+"/inner"))
	assert.Equal(t, 1, len(vmpSnapshot()))

	_, err := Stat(testPath("/inner/file"))
	testRequireErrno(t, err, unix.ENOENT)
}

func TestVMPMountFailure(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	testRequireErrno(t, Mount("/mnt/bad", &InitParamsStruct{}), unix.EINVAL)
	testRequireErrno(t, Mount("/mnt/bad", nil), unix.EINVAL)
	testRequireErrno(t, Mount("/mnt/bad", &InitParamsStruct{
		Graph:    xlator.NewRAMTranslator("bad", xlator.RootIno),
		SpecFile: "/no/such/spec",
	}), unix.EINVAL)

	failing := xlator.NewRAMTranslator("failing", xlator.RootIno)
	failing.SetFault(xlator.OpLookup, unix.EIO, -1)

	err := Mount("/mnt/bad", &InitParamsStruct{Graph: failing, LogLevel: "NONE"})
	require.Error(t, err)

	_, _, err = resolvedPathHandle("/mnt/bad/file")
	testRequireErrno(t, err, unix.ENODEV)
}

func TestVMPUnmountAll(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	require.NoError(t, Mount("/mnt/y", &InitParamsStruct{Graph: xlator.NewRAMTranslator("y", xlator.RootIno), LogLevel: "NONE"}))
	require.NoError(t, Mount("/mnt/z", &InitParamsStruct{Graph: xlator.NewRAMTranslator("z", xlator.RootIno), LogLevel: "NONE"}))
	assert.Equal(t, 3, len(vmpSnapshot()))

	require.NoError(t, UnmountAll())
	assert.Equal(t, 0, len(vmpSnapshot()))

	_, err := Stat(testPath("/"))
	testRequireErrno(t, err, unix.ENODEV)
}

func TestVMPConcurrentMount(t *testing.T) {
	const (
		numMounters = 16
	)

	var (
		errs [numMounters]error
		wg   sync.WaitGroup
	)

	testSetup(t)
	defer testTeardown(t)

	hook := newTestHookTranslator("concurrent")
	hook.initDelay = 20 * time.Millisecond

	startChan := make(chan struct{})

	for i := 0; i < numMounters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-startChan
			errs[i] = Mount("/mnt/c", &InitParamsStruct{Graph: hook, LogLevel: "NONE"})
		}(i)
	}

	close(startChan)
	wg.Wait()

	for i := 0; i < numMounters; i++ {
		assert.NoError(t, errs[i], "mounter %d", i)
	}

	assert.Equal(t, uint64(1), atomic.LoadUint64(&hook.initCount))

	vmpCount := 0
	for _, entry := range vmpSnapshot() {
		if "/mnt/c/" == entry.vmp {
			vmpCount++
		}
	}
	assert.Equal(t, 1, vmpCount)

	fd, err := Creat("/mnt/c/file", 0644)
	require.NoError(t, err)
	_, err = Write(fd, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, Close(fd))

	attr, err := Stat("/mnt/c/file")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), attr.Size)
}
