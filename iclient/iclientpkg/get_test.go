// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/xlator"
)

func TestGet(t *testing.T) {
	testSetupWithOptions(t, &testSetupOptionsStruct{
		rootIno:       xlator.RootIno,
		lookupTimeout: time.Minute,
		statTimeout:   time.Minute,
	})
	defer testTeardown(t)

	require.NoError(t, Mkdir(testPath("/dir"), 0755))
	testCreateFile(t, "/dir/small", []byte("tiny"))
	testCreateFile(t, "/dir/large", make([]byte, 100))

	testGlobals.ram.ResetOpCounts()

	buf := make([]byte, 64)

	n, stat, err := Get(testPath("/dir/small"), buf)
	require.NoError(t, err)
	require.NotNil(t, stat)
	assert.Equal(t, 4, n)
	assert.Equal(t, "tiny", string(buf[:n]))
	assert.Equal(t, uint64(4), stat.Size)

	// A single lookup carries both attributes and content

	assert.Equal(t, uint64(1), testGlobals.ram.OpCount(xlator.OpLookup))
	assert.Equal(t, uint64(0), testGlobals.ram.OpCount(xlator.OpOpen))
	assert.Equal(t, uint64(0), testGlobals.ram.OpCount(xlator.OpReadV))

	n, stat, err = Get(testPath("/dir/large"), buf)
	require.NoError(t, err)
	require.NotNil(t, stat)
	assert.Equal(t, 0, n, "content larger than buf is not returned")
	assert.Equal(t, uint64(100), stat.Size)

	n, stat, err = Get(testPath("/dir"), buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, stat.IsDir())

	n, stat, err = Get(testPath("/dir/small"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Nil(t, stat)

	_, _, err = Get(testPath("/dir/missing"), buf)
	testRequireErrno(t, err, unix.ENOENT)

	_, _, err = Get(testPath("/nodir/missing"), buf)
	testRequireErrno(t, err, unix.ENOENT)
}

type testGetAsyncResultStruct struct {
	n       int
	err     error
	data    []byte
	stat    *xlator.StatStruct
	cbkData interface{}
}

func testGetAsync(t *testing.T, path string, size int) (result *testGetAsyncResultStruct) {
	resultChan := make(chan *testGetAsyncResultStruct, 1)

	err := GetAsync(path, size, func(n int, err error, data []byte, stat *xlator.StatStruct, cbkData interface{}) {
		resultChan <- &testGetAsyncResultStruct{n: n, err: err, data: data, stat: stat, cbkData: cbkData}
	}, "cookie")
	require.NoError(t, err)

	select {
	case result = <-resultChan:
	case <-time.After(10 * time.Second):
		t.Fatalf("GetAsync(\"%s\",) callback never invoked", path)
	}

	return
}

func TestGetAsync(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	testCreateFile(t, "/file", []byte("async content"))

	result := testGetAsync(t, testPath("/file"), 64)
	require.NoError(t, result.err)
	assert.Equal(t, 13, result.n)
	assert.Equal(t, "async content", string(result.data))
	require.NotNil(t, result.stat)
	assert.Equal(t, uint64(13), result.stat.Size)
	assert.Equal(t, "cookie", result.cbkData)

	result = testGetAsync(t, testPath("/file"), 4)
	require.NoError(t, result.err)
	assert.Equal(t, 0, result.n)
	require.NotNil(t, result.stat)

	result = testGetAsync(t, testPath("/file"), 0)
	require.NoError(t, result.err)
	assert.Equal(t, 0, result.n)
	assert.Nil(t, result.stat)

	result = testGetAsync(t, testPath("/missing"), 64)
	testRequireErrno(t, result.err, unix.ENOENT)
	assert.Nil(t, result.stat)

	// Path resolution failures are reported synchronously

	err := GetAsync(testPath("/nodir/file"), 64, nil, nil)
	testRequireErrno(t, err, unix.ENOENT)
}
