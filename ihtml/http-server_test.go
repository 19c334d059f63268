// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package ihtml

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServeHTTPGet(t *testing.T) {
	for requestPath, contentType := range map[string]string{
		"/styles.css": stylesDotCSSContentType,
		"/utils.js":   utilsDotJSContentType,
	} {
		recorder := httptest.NewRecorder()

		assert.True(t, ServeHTTPGet(recorder, requestPath), requestPath)
		assert.Equal(t, http.StatusOK, recorder.Code)
		assert.Equal(t, contentType, recorder.Header().Get("Content-Type"))
		assert.Equal(t, strconv.Itoa(recorder.Body.Len()), recorder.Header().Get("Content-Length"))
	}

	recorder := httptest.NewRecorder()

	assert.False(t, ServeHTTPGet(recorder, "/bootstrap.min.css"))
	assert.Equal(t, 0, recorder.Body.Len())
}
