// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/xlclient/itable"
	"github.com/NVIDIA/xlclient/version"
	"github.com/NVIDIA/xlclient/xlator"
)

func testHTTPGet(t *testing.T, path string) (statusCode int, body []byte) {
	httpResponse, err := http.Get(testGlobals.httpServerURL + path)
	require.NoError(t, err)

	body, err = ioutil.ReadAll(httpResponse.Body)
	require.NoError(t, err)
	require.NoError(t, httpResponse.Body.Close())

	statusCode = httpResponse.StatusCode

	return
}

func TestHTTPServer(t *testing.T) {
	testSetupWithOptions(t, &testSetupOptionsStruct{
		rootIno:       xlator.RootIno,
		lookupTimeout: time.Second,
		statTimeout:   time.Second,
		httpEnabled:   true,
	})
	defer testTeardown(t)

	testCreateFile(t, "/file", []byte("served"))

	statusCode, body := testHTTPGet(t, "/version")
	assert.Equal(t, http.StatusOK, statusCode)
	assert.Equal(t, version.XLClientVersion, string(body))

	statusCode, body = testHTTPGet(t, "/config")
	require.Equal(t, http.StatusOK, statusCode)
	config := &ConfigStruct{}
	require.NoError(t, json.Unmarshal(body, config))
	assert.Equal(t, uint16(testClientHTTPServerPort), config.HTTPServerPort)

	statusCode, body = testHTTPGet(t, "/vmps")
	require.Equal(t, http.StatusOK, statusCode)
	var vmpInfoSlice []vmpInfoStruct
	require.NoError(t, json.Unmarshal(body, &vmpInfoSlice))
	require.Len(t, vmpInfoSlice, 1)
	assert.Equal(t, vmpTerminate(testVMP), vmpInfoSlice[0].VMP)
	assert.Equal(t, testVolume, vmpInfoSlice[0].VolumeName)
	assert.Equal(t, vmpFakeFSID(vmpTerminate(testVMP)), vmpInfoSlice[0].FakeFSID)
	assert.Equal(t, time.Second.String(), vmpInfoSlice[0].LookupTimeout)
	assert.True(t, vmpInfoSlice[0].NumInodes >= 2)
	assert.Equal(t, int64(0), vmpInfoSlice[0].FramesPending)

	statusCode, _ = testHTTPGet(t, "/inodes")
	assert.Equal(t, http.StatusBadRequest, statusCode)

	statusCode, _ = testHTTPGet(t, "/inodes?vmp="+url.QueryEscape("/mnt/y"))
	assert.Equal(t, http.StatusNotFound, statusCode)

	statusCode, body = testHTTPGet(t, "/inodes?vmp="+url.QueryEscape(testVMP))
	require.Equal(t, http.StatusOK, statusCode)
	inodesInfo := &inodesInfoStruct{}
	require.NoError(t, json.Unmarshal(body, inodesInfo))
	assert.Equal(t, vmpTerminate(testVMP), inodesInfo.VMP)

	stat, err := Stat(testPath("/file"))
	require.NoError(t, err)

	var fileInfo *itable.InodeInfoStruct
	for i := range inodesInfo.Inodes {
		if stat.Ino == inodesInfo.Inodes[i].Ino {
			fileInfo = &inodesInfo.Inodes[i]
		}
	}
	require.NotNil(t, fileInfo)
	assert.Equal(t, []string{"1/file"}, fileInfo.Names)

	statusCode, body = testHTTPGet(t, "/metrics")
	require.Equal(t, http.StatusOK, statusCode)
	assert.True(t, strings.Contains(string(body), "xlclient_api_usecs"))
	assert.True(t, strings.Contains(string(body), "xlclient_xlator_submits_total"))

	statusCode, body = testHTTPGet(t, "/")
	require.Equal(t, http.StatusOK, statusCode)
	assert.True(t, strings.Contains(string(body), "Version "+version.XLClientVersion))

	statusCode, body = testHTTPGet(t, "/index.html")
	require.Equal(t, http.StatusOK, statusCode)
	assert.True(t, strings.Contains(string(body), "renderVMPs("))

	statusCode, _ = testHTTPGet(t, "/styles.css")
	assert.Equal(t, http.StatusOK, statusCode)

	statusCode, _ = testHTTPGet(t, "/nonsense")
	assert.Equal(t, http.StatusNotFound, statusCode)

	httpResponse, err := http.Post(testGlobals.httpServerURL+"/version", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, httpResponse.Body.Close())
	assert.Equal(t, http.StatusMethodNotAllowed, httpResponse.StatusCode)
}
