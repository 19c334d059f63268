// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/blunder"
	"github.com/NVIDIA/xlclient/itable"
)

// isCachedChild reports whether inode may be trusted as the current
// occupant of name under parentIno without asking the backend.
//
func (client *clientStruct) isCachedChild(inode *itable.InodeStruct, parentIno uint64, name string) bool {
	return client.isIAttrCacheValid(inode, nil, iattrLookup) && client.itable.DentrySearchForInode(inode, parentIno, name)
}

// revalidateRoot looks up "/" if its lookup attributes have expired.
//
func (client *clientStruct) revalidateRoot(root *itable.InodeStruct) (err error) {
	if client.isIAttrCacheValid(root, nil, iattrLookup) {
		return
	}

	rootLoc := &locStruct{}

	err = client.locFill(rootLoc, itable.RootIno, 0, "/")
	if nil == err {
		_, err = client.lookup(rootLoc, nil, 0)
	}

	rootLoc.wipe()

	if nil != err {
		client.logger.Errorf("Root inode revalidation failed: %v", err)
	}

	return
}

// pathToParent returns a reference on the directory holding the last of
// components (i.e. the inode named by all but the last of them). Cached
// directories are walked without remote activity for as long as they
// remain valid; the rest are looked up one at a time.
//
func (client *clientStruct) pathToParent(path string) (parent *itable.InodeStruct, err error) {
	var (
		component string
		current   *itable.InodeStruct
		iterator  *pathComponentIteratorStruct
		next      *itable.InodeStruct
		newLoc    *locStruct
		ok        bool
		pathSoFar string
		pending   string
	)

	current = client.itable.Root()

	err = client.revalidateRoot(current)
	if nil != err {
		current.Unref()
		return
	}

	iterator = newPathComponentIterator(path)

	// Walk the cached prefix

	for {
		component, ok = iterator.next()
		if !ok {
			parent = current
			return
		}
		if !iterator.remaining() {
			// component is the basename
			parent = current
			return
		}

		next = client.itable.Search(current.Ino(), component)
		if nil == next {
			pending = component
			break
		}
		if !client.isIAttrCacheValid(next, nil, iattrLookup) {
			next.Unref()
			pending = component
			break
		}

		current.Unref()
		current = next
		pathSoFar += "/" + component
	}

	// Resolve the remainder

	for {
		pathSoFar += "/" + pending

		newLoc = &locStruct{
			path:   pathSoFar,
			name:   pending,
			parent: current,
		}
		current = nil

		newLoc.inode = client.itable.Search(newLoc.parent.Ino(), pending)

		if (nil == newLoc.inode) || !client.isCachedChild(newLoc.inode, newLoc.parent.Ino(), pending) {
			_, err = client.lookup(newLoc, nil, 0)
			if nil != err {
				newLoc.wipe()
				return
			}
		}

		current = newLoc.inode.Ref()
		newLoc.wipe()

		pending, ok = iterator.next()
		if !ok || !iterator.remaining() {
			parent = current
			return
		}
	}
}

// pathLookup resolves loc.path: loc.parent is set to the containing
// directory and, if lookupBasename, loc.inode to the object itself. An
// existing loc.parent is trusted as the containing directory. On failure
// loc holds no references.
//
func (client *clientStruct) pathLookup(loc *locStruct, lookupBasename bool) (err error) {
	var (
		basename string
		bLoc     *locStruct
		inode    *itable.InodeStruct
		parent   *itable.InodeStruct
	)

	basename = pathBasename(loc.path)

	if "" == basename {
		parent = client.itable.Root()

		err = client.revalidateRoot(parent)
		if nil != err {
			parent.Unref()
			loc.release()
			return
		}

		loc.setParent(nil)
		loc.setInode(parent)
		loc.ino = itable.RootIno

		return
	}

	if nil != loc.parent {
		parent = loc.parent.Ref()
	} else {
		parent, err = client.pathToParent(loc.path)
		if nil != err {
			loc.release()
			return
		}
	}

	if lookupBasename {
		inode = client.itable.Search(parent.Ino(), basename)

		if (nil == inode) || !client.isCachedChild(inode, parent.Ino(), basename) {
			bLoc = &locStruct{
				path:   loc.path,
				name:   basename,
				parent: parent.Ref(),
				inode:  inode,
			}

			_, err = client.lookup(bLoc, nil, 0)
			if nil != err {
				bLoc.wipe()
				parent.Unref()
				loc.release()
				return
			}

			inode = bLoc.inode.Ref()
			bLoc.wipe()
		}

		loc.setInode(inode)
		loc.ino = inode.Ino()
	}

	loc.setParent(parent)

	return
}

// resolveLoc sets loc to path and fills it in completely. With
// lookupBasename false only the parent directory need exist.
//
func (client *clientStruct) resolveLoc(loc *locStruct, path string, lookupBasename bool) (err error) {
	loc.path = path

	err = client.pathLookup(loc, lookupBasename)
	if nil != err {
		return
	}

	if nil == loc.parent {
		err = client.locFill(loc, itable.RootIno, 0, "/")
	} else {
		err = client.locFill(loc, 0, loc.parent.Ino(), pathBasename(path))
	}

	return
}

// resolveLocWithParent is resolveLoc for operations that modify a
// directory entry and so cannot be applied to the root.
//
func (client *clientStruct) resolveLocWithParent(loc *locStruct, path string, lookupBasename bool) (err error) {
	if "" == pathBasename(path) {
		err = blunder.NewError(unix.EBUSY, "operation not permitted on \"/\"")
		return
	}

	err = client.resolveLoc(loc, path, lookupBasename)

	return
}
