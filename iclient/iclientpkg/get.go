// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"time"

	"github.com/NVIDIA/xlclient/xlator"
)

// GetAsyncCbk receives the outcome of a GetAsync(): the number of content
// bytes in data (0 if the file was too large to be returned whole) and the
// file's attributes.
//
type GetAsyncCbk func(n int, err error, data []byte, stat *xlator.StatStruct, cbkData interface{})

// getContent extracts any file content carried by a lookup reply's xattrs.
//
func getContent(xattrs map[string][]byte) (content []byte) {
	if nil != xattrs {
		content = xattrs[xlator.ContentXAttrKey]
	}
	return
}

// get fetches, in a single lookup, the attributes of vpath and, should it
// be a regular file no larger than len(buf), its content.
//
func (client *clientStruct) get(vpath string, buf []byte) (n int, stat *xlator.StatStruct, err error) {
	var (
		xattrs map[string][]byte
	)

	loc := &locStruct{}
	defer loc.wipe()

	err = client.resolveLoc(loc, vpath, false)
	if nil != err {
		return
	}

	stat = &xlator.StatStruct{}

	xattrs, err = client.lookup(loc, stat, uint64(len(buf)))
	if nil != err {
		stat = nil
		return
	}

	n = copy(buf, getContent(xattrs))

	return
}

func (client *clientStruct) getAsync(vpath string, size int, cbk GetAsyncCbk, cbkData interface{}) (err error) {
	loc := &locStruct{}

	err = client.resolveLoc(loc, vpath, false)
	if nil != err {
		loc.wipe()
		return
	}

	client.lookupAsync(loc, uint64(size), func(reply *xlator.ReplyStruct, lookupErr error) {
		var (
			data []byte
			stat *xlator.StatStruct
		)

		loc.wipe()

		if nil == lookupErr {
			stat = &xlator.StatStruct{}
			*stat = reply.Stat
			data = getContent(reply.XAttrs)
		}

		if nil != cbk {
			go cbk(len(data), lookupErr, data, stat, cbkData)
		}
	})

	return
}

func get(path string, buf []byte) (n int, stat *xlator.StatStruct, err error) {
	var (
		client *clientStruct
		vpath  string
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("get", startTime, err)
	}()

	if 0 == len(buf) {
		return
	}

	client, vpath, err = resolvedPathHandle(path)
	if nil != err {
		return
	}

	n, stat, err = client.get(vpath, buf)

	return
}

func getAsync(path string, size int, cbk GetAsyncCbk, cbkData interface{}) (err error) {
	var (
		client *clientStruct
		vpath  string
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("get_async", startTime, err)
	}()

	if 0 >= size {
		if nil != cbk {
			go cbk(0, nil, nil, nil, cbkData)
		}
		return
	}

	client, vpath, err = resolvedPathHandle(path)
	if nil != err {
		return
	}

	err = client.getAsync(vpath, size, cbk, cbkData)

	return
}
