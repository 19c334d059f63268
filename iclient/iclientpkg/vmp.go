// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"fmt"
	"strings"
	"sync"

	"github.com/NVIDIA/sortedmap"
	"github.com/creachadair/cityhash"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/blunder"
)

// vmpEntryStruct maps a virtual mount point (always '/' terminated) to the
// client context serving it.
//
type vmpEntryStruct struct {
	vmp    string
	client *clientStruct
}

// vmpRegistryStruct is the process-wide set of mounted VMPs. vmpLock
// protects entries; mountLock serializes Mount() so that racing mounts of
// the same VMP initialize only one client context.
//
type vmpRegistryStruct struct {
	vmpLock   sync.Mutex
	mountLock sync.Mutex
	entries   sortedmap.LLRBTree // key: vmp; value: *vmpEntryStruct
}

func newVMPRegistry() (registry *vmpRegistryStruct) {
	registry = &vmpRegistryStruct{}
	registry.entries = sortedmap.NewLLRBTree(sortedmap.CompareString, registry)
	return
}

func (registry *vmpRegistryStruct) DumpKey(key sortedmap.Key) (keyAsString string, err error) {
	keyAsString, ok := key.(string)
	if !ok {
		err = fmt.Errorf("vmpRegistryStruct.DumpKey() passed non-string")
	}
	return
}

func (registry *vmpRegistryStruct) DumpValue(value sortedmap.Value) (valueAsString string, err error) {
	entry, ok := value.(*vmpEntryStruct)
	if !ok {
		err = fmt.Errorf("vmpRegistryStruct.DumpValue() passed non-*vmpEntryStruct")
		return
	}
	valueAsString = entry.client.graph.Name()
	return
}

// vmpTerminate appends a '/' to vmp if not already present.
//
func vmpTerminate(vmp string) string {
	if strings.HasSuffix(vmp, "/") {
		return vmp
	}
	return vmp + "/"
}

// entriesLocked returns every entry in key order. Caller holds vmpLock.
//
func (registry *vmpRegistryStruct) entriesLocked() (entries []*vmpEntryStruct) {
	numEntries, err := registry.entries.Len()
	if nil != err {
		logFatalf("registry.entries.Len() failed: %v", err)
	}

	entries = make([]*vmpEntryStruct, 0, numEntries)

	for index := 0; index < numEntries; index++ {
		_, value, ok, err := registry.entries.GetByIndex(index)
		if (nil != err) || !ok {
			logFatalf("registry.entries.GetByIndex(%d) failed (ok: %v err: %v)", index, ok, err)
		}
		entries = append(entries, value.(*vmpEntryStruct))
	}

	return
}

// searchEntryLocked finds the entry whose VMP is the longest whole-component
// prefix of path. With exact, the VMP must name path itself. Caller holds
// vmpLock.
//
func (registry *vmpRegistryStruct) searchEntryLocked(path string, exact bool) (found *vmpEntryStruct) {
	var (
		matchCount    int
		maxCount      int
		pathCompCount int
		vmpCompCount  int
	)

	pathCompCount = countPathComponents(path)

	for _, entry := range registry.entriesLocked() {
		vmpCompCount = countPathComponents(entry.vmp)
		matchCount = pathMatchCount(entry.vmp, path)

		if (matchCount > maxCount) && (matchCount == vmpCompCount) {
			maxCount = matchCount
			found = entry
		}
	}

	if (nil != found) && exact && (countPathComponents(found.vmp) != pathCompCount) {
		found = nil
	}

	return
}

func (registry *vmpRegistryStruct) searchEntry(path string, exact bool) (found *vmpEntryStruct) {
	registry.vmpLock.Lock()
	found = registry.searchEntryLocked(path, exact)
	registry.vmpLock.Unlock()
	return
}

func (registry *vmpRegistryStruct) mapEntry(vmp string, client *clientStruct) (err error) {
	registry.vmpLock.Lock()
	defer registry.vmpLock.Unlock()

	ok, err := registry.entries.Put(vmp, &vmpEntryStruct{vmp: vmp, client: client})
	if nil != err {
		err = blunder.AddError(fmt.Errorf("registry.entries.Put(\"%s\",) failed: %v", vmp, err), unix.EINVAL)
		return
	}
	if !ok {
		err = blunder.NewError(unix.EEXIST, "VMP \"%s\" already mapped", vmp)
	}

	return
}

// vmpVirtualPath strips entry's VMP from path, leaving the '/' that
// separated the two. A path naming the VMP itself becomes "/".
//
func vmpVirtualPath(entry *vmpEntryStruct, path string) (vpath string) {
	vmpLen := len(entry.vmp)

	if len(path) >= vmpLen {
		vpath = path[vmpLen-1:]
	}

	if "" == vpath {
		vpath = "/"
	} else if '/' != vpath[0] {
		vpath = "/" + vpath
	}

	return
}

// resolvedPathHandle maps path onto the client serving it and the path
// within that client's volume.
//
func resolvedPathHandle(path string) (client *clientStruct, vpath string, err error) {
	var (
		entry    *vmpEntryStruct
		registry = globals.vmpRegistry
	)

	if nil == registry {
		err = blunder.NewError(unix.ENODEV, "client not started")
		return
	}
	if "" == path {
		err = blunder.NewError(unix.ENOENT, "empty path")
		return
	}

	if !strings.HasPrefix(path, "/") {
		path = resolvePathLight(prependCWD(path))
		entry = registry.searchEntry(path, false)
		if nil != entry {
			vpath = vmpVirtualPath(entry, path)
		}
	} else {
		entry = registry.searchEntry(path, false)
		if nil != entry {
			vpath = resolvePathLight(vmpVirtualPath(entry, path))
		}
	}

	if nil == entry {
		err = blunder.NewError(unix.ENODEV, "no VMP serves \"%s\"", path)
		return
	}

	client = entry.client
	vpath = strings.TrimSuffix(vpath, "/")
	if "" == vpath {
		vpath = "/"
	}

	return
}

func vmpFakeFSID(vmp string) uint64 {
	return cityhash.Hash64WithSeed([]byte(vmp), 0)
}

func mount(vmp string, params *InitParamsStruct) (err error) {
	var (
		client   *clientStruct
		registry = globals.vmpRegistry
	)

	if nil == registry {
		err = blunder.NewError(unix.ENODEV, "client not started")
		return
	}
	if ("" == vmp) || (nil == params) {
		err = blunder.NewError(unix.EINVAL, "mount requires a VMP and init params")
		return
	}

	vmp = vmpTerminate(resolvePathLight(prependCWD(vmp)))

	registry.mountLock.Lock()
	defer registry.mountLock.Unlock()

	if nil != registry.searchEntry(vmp, true) {
		return
	}

	client, err = clientInit(params, vmpFakeFSID(vmp))
	if nil != err {
		err = blunder.AddError(fmt.Errorf("mount of \"%s\" failed: %v", vmp, err), unix.EINVAL)
		return
	}

	client.vmp = vmp

	err = registry.mapEntry(vmp, client)
	if nil != err {
		_ = client.clientFini()
		return
	}

	logInfof("mounted \"%s\" (volume \"%s\")", vmp, client.graph.Name())

	return
}

func unmount(vmp string) (err error) {
	var (
		entry    *vmpEntryStruct
		registry = globals.vmpRegistry
	)

	if nil == registry {
		err = blunder.NewError(unix.ENODEV, "client not started")
		return
	}

	vmp = vmpTerminate(resolvePathLight(prependCWD(vmp)))

	registry.vmpLock.Lock()

	entry = registry.searchEntryLocked(vmp, true)
	if nil == entry {
		registry.vmpLock.Unlock()
		err = blunder.NewError(unix.EINVAL, "\"%s\" is not a VMP", vmp)
		return
	}

	_, err = registry.entries.DeleteByKey(entry.vmp)
	if nil != err {
		logFatalf("registry.entries.DeleteByKey(\"%s\") failed: %v", entry.vmp, err)
	}

	registry.vmpLock.Unlock()

	err = entry.client.clientFini()

	logInfof("unmounted \"%s\"", entry.vmp)

	return
}

// unmountAll unmounts every VMP, continuing past (but returning the first
// of) any failures.
//
func unmountAll() (err error) {
	var (
		entries  []*vmpEntryStruct
		registry = globals.vmpRegistry
	)

	if nil == registry {
		return
	}

	registry.vmpLock.Lock()
	entries = registry.entriesLocked()
	registry.vmpLock.Unlock()

	for _, entry := range entries {
		unmountErr := unmount(entry.vmp)
		if nil != unmountErr {
			logWarnf("unmount of \"%s\" failed: %v", entry.vmp, unmountErr)
			if nil == err {
				err = unmountErr
			}
		}
	}

	return
}

// vmpSnapshot returns the currently mounted VMPs in order.
//
func vmpSnapshot() (entries []*vmpEntryStruct) {
	registry := globals.vmpRegistry
	if nil == registry {
		return
	}

	registry.vmpLock.Lock()
	entries = registry.entriesLocked()
	registry.vmpLock.Unlock()

	return
}
