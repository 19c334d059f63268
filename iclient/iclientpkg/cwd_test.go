// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestChdir(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	require.NoError(t, Mkdir(testPath("/dir"), 0755))
	require.NoError(t, Mkdir(testPath("/dir/sub"), 0755))
	testCreateFile(t, "/dir/file", []byte("relative"))
	require.NoError(t, Symlink("dir", testPath("/lnk")))

	// Until we chdir into a VMP, relative paths fall outside every mount

	_, err := Stat("file")
	testRequireErrno(t, err, unix.ENODEV)

	require.NoError(t, Chdir(testPath("/lnk")))

	cwd, err := Getcwd(0)
	require.NoError(t, err)
	assert.Equal(t, testPath("/dir"), cwd)

	stat, err := Stat("file")
	require.NoError(t, err)
	assert.Equal(t, uint64(8), stat.Size)

	fd, err := Open("./file", unix.O_RDONLY, 0)
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err := Read(fd, buf)
	require.NoError(t, err)
	assert.Equal(t, "relative", string(buf[:n]))
	require.NoError(t, Close(fd))

	require.NoError(t, Chdir("sub"))
	cwd, err = Getcwd(0)
	require.NoError(t, err)
	assert.Equal(t, testPath("/dir/sub"), cwd)

	_, err = Stat("../file")
	require.NoError(t, err)

	require.NoError(t, Chdir(".."))
	cwd, err = Getcwd(0)
	require.NoError(t, err)
	assert.Equal(t, testPath("/dir"), cwd)

	testRequireErrno(t, Chdir("file"), unix.ENOTDIR)
	testRequireErrno(t, Chdir("missing"), unix.ENOENT)

	require.NoError(t, Chdir(testVMP))
	cwd, err = Getcwd(0)
	require.NoError(t, err)
	assert.Equal(t, testVMP, cwd)

	testRequireErrno(t, Chdir(".."), unix.ENODEV)
}

func TestFchdir(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	require.NoError(t, Mkdir(testPath("/dir"), 0755))
	testCreateFile(t, "/dir/file", nil)

	fd, err := Opendir(testPath("/dir"))
	require.NoError(t, err)

	require.NoError(t, Fchdir(fd))
	require.NoError(t, Closedir(fd))

	cwd, err := Getcwd(0)
	require.NoError(t, err)
	assert.Equal(t, testPath("/dir"), cwd)

	_, err = Lstat("file")
	require.NoError(t, err)

	fd, err = Open("file", unix.O_RDONLY, 0)
	require.NoError(t, err)
	testRequireErrno(t, Fchdir(fd), unix.ENOTDIR)
	require.NoError(t, Close(fd))

	testRequireErrno(t, Fchdir(fd), unix.EBADF)
}

func TestGetcwdSize(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	require.NoError(t, Chdir(testVMP))

	// Room is needed for the terminating NUL

	_, err := Getcwd(len(testVMP))
	testRequireErrno(t, err, unix.ERANGE)

	cwd, err := Getcwd(len(testVMP) + 1)
	require.NoError(t, err)
	assert.Equal(t, testVMP, cwd)
}
