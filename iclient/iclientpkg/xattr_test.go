// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestXAttr(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	testCreateFile(t, "/file", nil)

	path := testPath("/file")

	size, err := Getxattr(path, "user.color", make([]byte, 16))
	testRequireErrno(t, err, unix.ENODATA)
	assert.Equal(t, -1, size)

	testRequireErrno(t, Setxattr(path, "user.color", []byte("blue"), unix.XATTR_REPLACE), unix.ENODATA)

	require.NoError(t, Setxattr(path, "user.color", []byte("blue"), unix.XATTR_CREATE))
	testRequireErrno(t, Setxattr(path, "user.color", []byte("red"), unix.XATTR_CREATE), unix.EEXIST)

	// A zero length buffer asks only for the size

	size, err = Getxattr(path, "user.color", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, size)

	size, err = Getxattr(path, "user.color", make([]byte, 3))
	testRequireErrno(t, err, unix.ERANGE)
	assert.Equal(t, -1, size)

	dest := make([]byte, 16)
	size, err = Getxattr(path, "user.color", dest)
	require.NoError(t, err)
	assert.Equal(t, "blue", string(dest[:size]))

	require.NoError(t, Setxattr(path, "user.color", []byte("green"), unix.XATTR_REPLACE))
	require.NoError(t, Setxattr(path, "user.color", []byte("cyan"), 0))

	size, err = Getxattr(path, "user.color", dest)
	require.NoError(t, err)
	assert.Equal(t, "cyan", string(dest[:size]))

	testRequireErrno(t, Setxattr(path, "", []byte("x"), 0), unix.EINVAL)
	testRequireErrno(t, Setxattr(path, "user.color", []byte("x"), 0x40), unix.EINVAL)

	_, err = Getxattr(path, "", dest)
	testRequireErrno(t, err, unix.EINVAL)

	_, err = Getxattr(testPath("/missing"), "user.color", dest)
	testRequireErrno(t, err, unix.ENOENT)
}

func TestXAttrSymlink(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	testCreateFile(t, "/file", nil)
	require.NoError(t, Symlink("file", testPath("/link")))

	require.NoError(t, Setxattr(testPath("/link"), "user.where", []byte("target"), 0))
	require.NoError(t, Lsetxattr(testPath("/link"), "user.where", []byte("link"), 0))

	dest := make([]byte, 16)

	size, err := Getxattr(testPath("/file"), "user.where", dest)
	require.NoError(t, err)
	assert.Equal(t, "target", string(dest[:size]))

	size, err = Getxattr(testPath("/link"), "user.where", dest)
	require.NoError(t, err)
	assert.Equal(t, "target", string(dest[:size]))

	size, err = Lgetxattr(testPath("/link"), "user.where", dest)
	require.NoError(t, err)
	assert.Equal(t, "link", string(dest[:size]))
}

func TestFXAttr(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	testCreateFile(t, "/file", nil)

	fd, err := Open(testPath("/file"), unix.O_RDONLY, 0)
	require.NoError(t, err)

	require.NoError(t, Fsetxattr(fd, "user.k", []byte("v"), 0))
	testRequireErrno(t, Fsetxattr(fd, "user.k", []byte("w"), unix.XATTR_CREATE), unix.EEXIST)

	size, err := Fgetxattr(fd, "user.k", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	dest := make([]byte, 1)
	size, err = Fgetxattr(fd, "user.k", dest)
	require.NoError(t, err)
	assert.Equal(t, "v", string(dest[:size]))

	size, err = Fgetxattr(fd, "user.missing", dest)
	testRequireErrno(t, err, unix.ENODATA)
	assert.Equal(t, -1, size)

	size, err = Getxattr(testPath("/file"), "user.k", dest)
	require.NoError(t, err)
	assert.Equal(t, "v", string(dest[:size]))

	require.NoError(t, Close(fd))

	_, err = Fgetxattr(fd, "user.k", dest)
	testRequireErrno(t, err, unix.EBADF)
}

func TestXAttrNotSupported(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	testCreateFile(t, "/file", nil)

	fd, err := Open(testPath("/file"), unix.O_RDONLY, 0)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, Close(fd))
	}()

	size, err := Listxattr(testPath("/file"), nil)
	testRequireErrno(t, err, unix.ENOSYS)
	assert.Equal(t, -1, size)

	size, err = Llistxattr(testPath("/file"), nil)
	testRequireErrno(t, err, unix.ENOSYS)
	assert.Equal(t, -1, size)

	size, err = Flistxattr(fd, nil)
	testRequireErrno(t, err, unix.ENOSYS)
	assert.Equal(t, -1, size)

	testRequireErrno(t, Removexattr(testPath("/file"), "user.k"), unix.ENOSYS)
	testRequireErrno(t, Lremovexattr(testPath("/file"), "user.k"), unix.ENOSYS)
	testRequireErrno(t, Fremovexattr(fd, "user.k"), unix.ENOSYS)
}
