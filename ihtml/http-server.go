// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package ihtml holds the static content shared by the HTML pages of the
// embedded HTTP server.
//
package ihtml

import (
	"fmt"
	"net/http"
)

// ServeHTTPGet serves requestPath if it names a piece of static content,
// returning false (having written nothing) if it does not.
//
func ServeHTTPGet(responseWriter http.ResponseWriter, requestPath string) (ok bool) {
	ok = true // Default ok assuming switch statement has a matching case to serve

	switch {
	case "/styles.css" == requestPath:
		serveContent(responseWriter, stylesDotCSSContentType, stylesDotCSSContent)
	case "/utils.js" == requestPath:
		serveContent(responseWriter, utilsDotJSContentType, utilsDotJSContent)
	default:
		ok = false // No switch case match
	}

	return
}

func serveContent(responseWriter http.ResponseWriter, contentType string, content string) {
	responseWriter.Header().Set("Content-Length", fmt.Sprintf("%d", len(content)))
	responseWriter.Header().Set("Content-Type", contentType)
	responseWriter.WriteHeader(http.StatusOK)
	_, _ = responseWriter.Write([]byte(content))
}
