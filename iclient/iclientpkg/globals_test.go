// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"io/ioutil"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/blunder"
)

const testConfigYAML = `
LogToConsole: false
IOBufSize: 65536
HTTPServerPort: 0
Mounts:
  - VMP: /mnt/vol0
    SpecFile: ${TEST_XLCLIENT_SPEC_DIR}/vol0.yaml
    VolumeName: vol0
    LookupTimeout: 5s
    StatTimeout: -1s
`

func TestLoadConfig(t *testing.T) {
	require.NoError(t, os.Setenv("TEST_XLCLIENT_SPEC_DIR", "/etc/xlclient"))
	defer func() {
		_ = os.Unsetenv("TEST_XLCLIENT_SPEC_DIR")
	}()

	config, err := loadConfig(strings.NewReader(testConfigYAML))
	require.NoError(t, err)

	assert.False(t, config.LogToConsole)
	assert.Equal(t, uint64(65536), config.IOBufSize)
	assert.Equal(t, defaultReaddirBlockSize, config.ReaddirBlockSize, "unspecified settings keep their defaults")
	assert.Equal(t, defaultFDBase, config.FDBase)

	require.Len(t, config.Mounts, 1)
	assert.Equal(t, "/mnt/vol0", config.Mounts[0].VMP)
	assert.Equal(t, "/etc/xlclient/vol0.yaml", config.Mounts[0].SpecFile)
	assert.Equal(t, 5*time.Second, config.Mounts[0].LookupTimeout)
	assert.True(t, config.Mounts[0].StatTimeout < 0)
}

func TestLoadConfigFile(t *testing.T) {
	tempDir, err := ioutil.TempDir("", "iclientpkg_config_test")
	require.NoError(t, err)
	defer func() {
		_ = os.RemoveAll(tempDir)
	}()

	configFilePath := tempDir + "/iclient.yaml"

	require.NoError(t, ioutil.WriteFile(configFilePath, []byte("MaxSymlinks: 8\n"), 0644))

	config, err := LoadConfigFile(configFilePath)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), config.MaxSymlinks)

	_, err = LoadConfigFile(tempDir + "/missing.yaml")
	require.Error(t, err)
	assert.True(t, blunder.Is(err, unix.ENOENT))
}

func TestLoadConfigInvalid(t *testing.T) {
	for _, configYAML := range []string{
		"IOBufSize: 0\n",
		"ReaddirBlockSize: 0\n",
		"SendfileBlockSize: 0\n",
		"MaxSymlinks: 0\n",
		"FDBase: -1\n",
		"FramesUnwindPollInterval: 0s\n",
		"ITableHashSize: 0\n",
		"HTTPServerPort: 1234\nHTTPServerMaxConnections: 0\n",
		"Mounts:\n  - SpecFile: /x.yaml\n",
		"Mounts:\n  - VMP: /mnt/x\n",
		"FUSEEnabled: true\nFUSEVMP: /mnt/x\nFUSEMountPointDirPath: /tmp/fuse\n",
		"FUSEEnabled: true\nFUSEVMP: /mnt/x\nMounts:\n  - VMP: /mnt/x\n    SpecFile: /x.yaml\n",
		"IOBufSize: [\n",
	} {
		config, err := loadConfig(strings.NewReader(configYAML))
		require.Error(t, err, "config %q", configYAML)
		assert.True(t, blunder.Is(err, unix.EINVAL), "config %q gave %v", configYAML, err)
		assert.Nil(t, config)
	}
}

func TestStartStop(t *testing.T) {
	testSetup(t)

	err := Start(testGlobals.config, testGlobals.fissionErrChan)
	testRequireErrno(t, err, unix.EBUSY)

	// Open descriptors are closed by Stop()

	testCreateFile(t, "/file", nil)
	_, err = Open(testPath("/file"), unix.O_RDONLY, 0)
	require.NoError(t, err)

	testTeardown(t)

	testRequireErrno(t, Stop(), unix.EINVAL)

	_, err = Stat(testPath("/file"))
	testRequireErrno(t, err, unix.ENODEV)
}
