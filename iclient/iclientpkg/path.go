// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"strings"
)

// pathComponentIteratorStruct yields the non-empty components of an
// (immutable) path one at a time. Repeated and trailing slashes are skipped.
//
type pathComponentIteratorStruct struct {
	path   string
	offset int
}

func newPathComponentIterator(path string) (iterator *pathComponentIteratorStruct) {
	iterator = &pathComponentIteratorStruct{path: path}
	return
}

func (iterator *pathComponentIteratorStruct) next() (component string, ok bool) {
	var (
		end int
	)

	for (iterator.offset < len(iterator.path)) && ('/' == iterator.path[iterator.offset]) {
		iterator.offset++
	}

	if iterator.offset >= len(iterator.path) {
		return
	}

	end = strings.IndexByte(iterator.path[iterator.offset:], '/')
	if end < 0 {
		end = len(iterator.path)
	} else {
		end += iterator.offset
	}

	component = iterator.path[iterator.offset:end]
	iterator.offset = end
	ok = true

	return
}

// remaining reports whether another component follows.
//
func (iterator *pathComponentIteratorStruct) remaining() bool {
	for offset := iterator.offset; offset < len(iterator.path); offset++ {
		if '/' != iterator.path[offset] {
			return true
		}
	}
	return false
}

func (iterator *pathComponentIteratorStruct) restart() {
	iterator.offset = 0
}

func pathComponents(path string) (components []string) {
	components = make([]string, 0)
	iterator := newPathComponentIterator(path)
	for {
		component, ok := iterator.next()
		if !ok {
			return
		}
		components = append(components, component)
	}
}

// pathDirname returns the parent directory of path ("/" for a top-level
// entry or the root itself).
//
func pathDirname(path string) string {
	components := pathComponents(path)
	if len(components) <= 1 {
		return "/"
	}
	return "/" + strings.Join(components[:len(components)-1], "/")
}

// pathBasename returns the last component of path ("" for the root).
//
func pathBasename(path string) string {
	components := pathComponents(path)
	if 0 == len(components) {
		return ""
	}
	return components[len(components)-1]
}

// resolvePathLight compacts an absolute path by processing "." and ".."
// components textually. A trailing slash on the input is preserved.
//
func resolvePathLight(path string) (resolved string) {
	var (
		component  string
		components []string
		ok         bool
	)

	if "" == path {
		resolved = "/"
		return
	}

	components = make([]string, 0)

	iterator := newPathComponentIterator(path)

	for {
		component, ok = iterator.next()
		if !ok {
			break
		}
		switch component {
		case ".":
		case "..":
			if 0 < len(components) {
				components = components[:len(components)-1]
			}
		default:
			components = append(components, component)
		}
	}

	resolved = "/" + strings.Join(components, "/")

	if (1 < len(resolved)) && ('/' == path[len(path)-1]) {
		resolved += "/"
	}

	return
}

// prependCWD makes a relative path absolute by prefixing the process cwd.
//
func prependCWD(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}

	globals.cwdLock.Lock()
	cwd := globals.cwd
	globals.cwdLock.Unlock()

	if "" == cwd {
		cwd = "/"
	}

	return cwd + path
}

// countPathComponents counts the slashes of path once any single trailing
// slash is dropped (so "/a/b/" and "/a/b" both count 2).
//
func countPathComponents(path string) int {
	path = strings.TrimSuffix(path, "/")
	return strings.Count(path, "/")
}

// pathMatchCount counts how many leading '/'-separated tokens of vmp and
// path are equal.
//
func pathMatchCount(vmp string, path string) (matchCount int) {
	vmpIterator := newPathComponentIterator(vmp)
	pathIterator := newPathComponentIterator(path)

	for {
		vmpComponent, vmpOK := vmpIterator.next()
		pathComponent, pathOK := pathIterator.next()
		if !vmpOK || !pathOK || (vmpComponent != pathComponent) {
			return
		}
		matchCount++
	}
}
