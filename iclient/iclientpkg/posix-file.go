// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"io"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/blunder"
	"github.com/NVIDIA/xlclient/xlator"
)

// ReadAsyncCbk receives the outcome of a ReadAsync(): the number of bytes
// read (or -1), the error (if any), and the data read.
//
type ReadAsyncCbk func(n int, err error, data []byte, cbkData interface{})

// WriteAsyncCbk receives the outcome of a WriteAsync().
//
type WriteAsyncCbk func(n int, err error, cbkData interface{})

func (client *clientStruct) open(vpath string, flags int, mode uint32) (fd *fdStruct, err error) {
	var (
		fh       uint64
		isDir    bool
		realPath string
	)

	loc := &locStruct{path: vpath}
	defer loc.wipe()

	err = client.pathLookup(loc, true)
	if nil == err {
		if (0 != (flags & unix.O_CREAT)) && (0 != (flags & unix.O_EXCL)) {
			err = blunder.NewError(unix.EEXIST, "\"%s\" exists", vpath)
			return
		}

		flags &^= unix.O_CREAT

		if inodeIsLnk(loc.inode) {
			if 0 != (flags & unix.O_NOFOLLOW) {
				err = blunder.NewError(unix.ELOOP, "\"%s\" is a symlink", vpath)
				return
			}

			realPath, err = client.realpath(vpath)
			if nil != err {
				return
			}

			fd, err = client.open(realPath, flags, mode)

			return
		}
	} else {
		if (0 == (flags & unix.O_CREAT)) || !blunder.Is(err, unix.ENOENT) {
			return
		}

		loc.wipe()
		loc.path = vpath

		err = client.pathLookup(loc, false)
		if nil != err {
			return
		}

		loc.setInode(client.itable.NewInode())
	}

	if nil == loc.parent {
		err = client.locFill(loc, 1, 0, "/")
	} else {
		err = client.locFill(loc, 0, loc.parent.Ino(), pathBasename(vpath))
	}
	if nil != err {
		return
	}

	switch {
	case 0 != (flags & unix.O_CREAT):
		fh, err = client.create(loc, flags, mode)
	case inodeIsDir(loc.inode):
		fh, err = client.openDir(loc, flags)
		isDir = true
	default:
		if 0 != (flags & unix.O_DIRECTORY) {
			err = blunder.NewError(unix.ENOTDIR, "\"%s\" is not a directory", vpath)
			return
		}
		fh, err = client.openFile(loc, flags)
	}
	if nil != err {
		return
	}

	if (0 != (flags & unix.O_TRUNC)) && (unix.S_IFREG == loc.inode.Mode()) {
		accMode := flags & unix.O_ACCMODE
		if (unix.O_WRONLY == accMode) || (unix.O_RDWR == accMode) {
			client.truncateIAttrCache(loc.inode)
		}
	}

	fd = fdAlloc(client, loc.inode.Ref(), fh, flags, isDir)
	if isDir {
		fd.vpath = vmpTerminate(vpath)
	}

	return
}

func (client *clientStruct) create(loc *locStruct, flags int, mode uint32) (fh uint64, err error) {
	if inodeIsDir(loc.inode) {
		err = blunder.NewError(unix.EISDIR, "\"%s\" is a directory", loc.path)
		return
	}

	reply := client.windSync(&xlator.RequestStruct{
		Op:        xlator.OpCreate,
		ParentIno: loc.parent.Ino(),
		Name:      loc.name,
		Path:      loc.path,
		Flags:     uint32(flags),
		Mode:      mode,
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpCreate, reply)
		return
	}

	client.linkNewEntry(loc, &reply.Stat)
	client.invalidateIAttrCache(loc.parent, iattrStat)

	fh = reply.FH

	return
}

func (client *clientStruct) openFile(loc *locStruct, flags int) (fh uint64, err error) {
	reply := client.windSync(&xlator.RequestStruct{
		Op:    xlator.OpOpen,
		Ino:   loc.inode.Ino(),
		Path:  loc.path,
		Flags: uint32(flags),
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpOpen, reply)
		return
	}

	fh = reply.FH

	return
}

func (client *clientStruct) openDir(loc *locStruct, flags int) (fh uint64, err error) {
	reply := client.windSync(&xlator.RequestStruct{
		Op:    xlator.OpOpenDir,
		Ino:   loc.inode.Ino(),
		Path:  loc.path,
		Flags: uint32(flags),
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpOpenDir, reply)
		return
	}

	fh = reply.FH

	return
}

// release flushes (files only) and releases fd's backend handle.
//
func (fd *fdStruct) release() (err error) {
	var (
		reply *xlator.ReplyStruct
	)

	if fd.isDir {
		reply = fd.client.windSync(&xlator.RequestStruct{Op: xlator.OpReleaseDir, Ino: fd.inode.Ino(), FH: fd.fh})
		if 0 > reply.OpRet {
			err = replyError(xlator.OpReleaseDir, reply)
		}
		return
	}

	reply = fd.client.windSync(&xlator.RequestStruct{Op: xlator.OpFlush, Ino: fd.inode.Ino(), FH: fd.fh})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpFlush, reply)
	}

	reply = fd.client.windSync(&xlator.RequestStruct{Op: xlator.OpRelease, Ino: fd.inode.Ino(), FH: fd.fh})
	if (0 > reply.OpRet) && (nil == err) {
		err = replyError(xlator.OpRelease, reply)
	}

	return
}

// readAt performs a (possibly multi-request) read of len(buf) bytes at
// offset, stopping at the first short read.
//
func (fd *fdStruct) readAt(buf []byte, offset int64) (n int, err error) {
	var (
		chunk uint64
		reply *xlator.ReplyStruct
	)

	if fd.isDir {
		err = blunder.NewError(unix.EISDIR, "fd %d is a directory", fd.fd)
		return
	}
	if !fd.readable() {
		err = blunder.NewError(unix.EBADF, "fd %d not open for reading", fd.fd)
		return
	}

	for n < len(buf) {
		chunk = uint64(len(buf) - n)
		if chunk > globals.config.IOBufSize {
			chunk = globals.config.IOBufSize
		}

		reply = fd.client.windSync(&xlator.RequestStruct{
			Op:     xlator.OpReadV,
			Ino:    fd.inode.Ino(),
			FH:     fd.fh,
			Offset: offset + int64(n),
			Size:   chunk,
		})
		if 0 > reply.OpRet {
			err = replyError(xlator.OpReadV, reply)
			return
		}

		n += copy(buf[n:], reply.Data)

		if uint64(len(reply.Data)) < chunk {
			break
		}
	}

	if nil != reply {
		fd.client.transformIAttr(fd.inode, &reply.Stat)
	}
	fd.client.invalidateIAttrCache(fd.inode, iattrStat)

	return
}

// writeAt writes buf at offset in chunks of at most IOBufSize.
//
func (fd *fdStruct) writeAt(buf []byte, offset int64) (n int, err error) {
	var (
		chunk uint64
		reply *xlator.ReplyStruct
	)

	if fd.isDir {
		err = blunder.NewError(unix.EISDIR, "fd %d is a directory", fd.fd)
		return
	}
	if !fd.writable() {
		err = blunder.NewError(unix.EBADF, "fd %d not open for writing", fd.fd)
		return
	}

	defer fd.client.invalidateIAttrCache(fd.inode, iattrStat)

	for n < len(buf) {
		chunk = uint64(len(buf) - n)
		if chunk > globals.config.IOBufSize {
			chunk = globals.config.IOBufSize
		}

		reply = fd.client.windSync(&xlator.RequestStruct{
			Op:     xlator.OpWriteV,
			Ino:    fd.inode.Ino(),
			FH:     fd.fh,
			Offset: offset + int64(n),
			Data:   buf[n : uint64(n)+chunk],
		})
		if 0 > reply.OpRet {
			err = replyError(xlator.OpWriteV, reply)
			return
		}

		n += int(reply.OpRet)

		if uint64(reply.OpRet) < chunk {
			break
		}
	}

	return
}

func (fd *fdStruct) lseek(offset int64, whence int) (newOffset int64, err error) {
	var (
		stat xlator.StatStruct
	)

	fd.Lock()
	defer fd.Unlock()

	switch whence {
	case unix.SEEK_SET:
		newOffset = offset
	case unix.SEEK_CUR:
		newOffset = fd.offset + offset
	case unix.SEEK_END:
		if !fd.client.isIAttrCacheValid(fd.inode, &stat, iattrStat) {
			loc := &locStruct{}
			err = fd.client.locFromInode(loc, fd.inode)
			if nil == err {
				_, err = fd.client.lookup(loc, &stat, 0)
			}
			loc.wipe()
			if nil != err {
				return
			}
		}
		newOffset = int64(stat.Size) + offset
	default:
		err = blunder.NewError(unix.EINVAL, "invalid whence %d", whence)
		return
	}

	if 0 > newOffset {
		err = blunder.NewError(unix.EINVAL, "resulting offset %d negative", newOffset)
		return
	}

	fd.offset = newOffset

	return
}

func (fd *fdStruct) fstat() (stat *xlator.StatStruct, err error) {
	stat = &xlator.StatStruct{}

	if fd.client.isIAttrCacheValid(fd.inode, stat, iattrStat) {
		return
	}

	reply := fd.client.windSync(&xlator.RequestStruct{Op: xlator.OpFStat, Ino: fd.inode.Ino(), FH: fd.fh})
	if 0 > reply.OpRet {
		stat = nil
		err = replyError(xlator.OpFStat, reply)
		return
	}

	fd.client.transformIAttr(fd.inode, &reply.Stat)
	fd.client.updateIAttrCache(fd.inode, iattrStat, &reply.Stat)

	*stat = reply.Stat

	return
}

// applyReplyStat caches the post-op attributes carried by a successful
// reply against fd's inode.
//
func (fd *fdStruct) applyReplyStat(reply *xlator.ReplyStruct) {
	fd.client.transformIAttr(fd.inode, &reply.Stat)
	fd.client.updateIAttrCache(fd.inode, iattrStat, &reply.Stat)
}

func (fd *fdStruct) fsetattr(valid uint32, attr *xlator.StatStruct) (err error) {
	reply := fd.client.windSync(&xlator.RequestStruct{
		Op:           xlator.OpFSetAttr,
		Ino:          fd.inode.Ino(),
		FH:           fd.fh,
		SetAttrValid: valid,
		Attr:         *attr,
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpFSetAttr, reply)
		return
	}

	fd.applyReplyStat(reply)

	return
}

func (fd *fdStruct) ftruncate(length int64) (err error) {
	if !fd.writable() {
		err = blunder.NewError(unix.EBADF, "fd %d not open for writing", fd.fd)
		return
	}

	reply := fd.client.windSync(&xlator.RequestStruct{
		Op:     xlator.OpFTruncate,
		Ino:    fd.inode.Ino(),
		FH:     fd.fh,
		Offset: length,
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpFTruncate, reply)
		return
	}

	fd.applyReplyStat(reply)

	fd.Lock()
	fd.offset = length
	fd.Unlock()

	return
}

func (fd *fdStruct) fsync() (err error) {
	reply := fd.client.windSync(&xlator.RequestStruct{Op: xlator.OpFSync, Ino: fd.inode.Ino(), FH: fd.fh})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpFSync, reply)
		return
	}

	fd.applyReplyStat(reply)

	return
}

func (fd *fdStruct) lk(cmd int, lock *unix.Flock_t) (err error) {
	switch cmd {
	case unix.F_GETLK, unix.F_SETLK, unix.F_SETLKW:
	default:
		err = blunder.NewError(unix.EINVAL, "unsupported fcntl cmd %d", cmd)
		return
	}

	if nil == lock {
		err = blunder.NewError(unix.EINVAL, "missing lock")
		return
	}

	reply := fd.client.windSync(&xlator.RequestStruct{
		Op:      xlator.OpLk,
		Ino:     fd.inode.Ino(),
		FH:      fd.fh,
		LockCmd: cmd,
		Lock: xlator.FlockStruct{
			Type:   lock.Type,
			Whence: lock.Whence,
			Start:  lock.Start,
			Len:    lock.Len,
			PID:    lock.Pid,
		},
	})
	if 0 > reply.OpRet {
		err = replyError(xlator.OpLk, reply)
		return
	}

	lock.Type = reply.Lock.Type
	lock.Whence = reply.Lock.Whence
	lock.Start = reply.Lock.Start
	lock.Len = reply.Lock.Len
	lock.Pid = reply.Lock.PID

	return
}

// readAsync issues a single read of size bytes. An offset < 0 reads at (and
// then advances) the fd offset. cbk is invoked on a goroutine of its own.
//
func (fd *fdStruct) readAsync(size int, offset int64, cbk ReadAsyncCbk, cbkData interface{}) (err error) {
	var (
		useFDOffset bool
	)

	if fd.isDir {
		err = blunder.NewError(unix.EISDIR, "fd %d is a directory", fd.fd)
		return
	}
	if !fd.readable() {
		err = blunder.NewError(unix.EBADF, "fd %d not open for reading", fd.fd)
		return
	}

	if 0 > offset {
		useFDOffset = true
		fd.Lock()
		offset = fd.offset
		fd.Unlock()
	}

	fd.client.windAsync(&xlator.RequestStruct{
		Op:     xlator.OpReadV,
		Ino:    fd.inode.Ino(),
		FH:     fd.fh,
		Offset: offset,
		Size:   uint64(size),
	}, func(reply *xlator.ReplyStruct) {
		var (
			cbkErr error
		)

		if 0 > reply.OpRet {
			cbkErr = replyError(xlator.OpReadV, reply)
		} else {
			fd.client.transformIAttr(fd.inode, &reply.Stat)
			fd.client.invalidateIAttrCache(fd.inode, iattrStat)
			if useFDOffset {
				fd.Lock()
				fd.offset += reply.OpRet
				fd.Unlock()
			}
		}

		if nil != cbk {
			go cbk(int(reply.OpRet), cbkErr, reply.Data, cbkData)
		}
	})

	return
}

// writeAsync issues a single write of data. An offset < 0 writes at the fd
// offset. Either way, the fd offset advances by the bytes written.
//
func (fd *fdStruct) writeAsync(data []byte, offset int64, cbk WriteAsyncCbk, cbkData interface{}) (err error) {
	if fd.isDir {
		err = blunder.NewError(unix.EISDIR, "fd %d is a directory", fd.fd)
		return
	}
	if !fd.writable() {
		err = blunder.NewError(unix.EBADF, "fd %d not open for writing", fd.fd)
		return
	}

	if 0 > offset {
		fd.Lock()
		offset = fd.offset
		fd.Unlock()
	}

	fd.client.windAsync(&xlator.RequestStruct{
		Op:     xlator.OpWriteV,
		Ino:    fd.inode.Ino(),
		FH:     fd.fh,
		Offset: offset,
		Data:   data,
	}, func(reply *xlator.ReplyStruct) {
		var (
			cbkErr error
		)

		fd.client.invalidateIAttrCache(fd.inode, iattrStat)

		if 0 > reply.OpRet {
			cbkErr = replyError(xlator.OpWriteV, reply)
		} else {
			fd.Lock()
			fd.offset += reply.OpRet
			fd.Unlock()
		}

		if nil != cbk {
			go cbk(int(reply.OpRet), cbkErr, cbkData)
		}
	})

	return
}

// sendfile copies count bytes starting at *offset (or the fd offset if
// offset is nil) to out. Every block read is issued before any completes.
//
func (fd *fdStruct) sendfile(out io.Writer, offset *int64, count int) (n int64, err error) {
	var (
		blockSize  = int(globals.config.SendfileBlockSize)
		numBlocks  int
		results    []sendfileResultStruct
		start      int64
		wg         sync.WaitGroup
		writeCount int
	)

	if 0 >= count {
		return
	}

	if nil != offset {
		start = *offset
	} else {
		fd.Lock()
		start = fd.offset
		fd.Unlock()
	}

	numBlocks = (count + blockSize - 1) / blockSize
	results = make([]sendfileResultStruct, numBlocks)

	for i := 0; i < numBlocks; i++ {
		size := blockSize
		if (i == numBlocks-1) && (0 != count%blockSize) {
			size = count % blockSize
		}

		wg.Add(1)

		result := &results[i]
		result.size = size

		readErr := fd.readAsync(size, start+int64(i*blockSize), func(readN int, readErr error, data []byte, cbkData interface{}) {
			result.n = readN
			result.err = readErr
			result.data = data
			wg.Done()
		}, nil)
		if nil != readErr {
			result.err = readErr
			wg.Done()
		}
	}

	wg.Wait()

	for i := range results {
		if nil != results[i].err {
			if 0 == n {
				err = results[i].err
			}
			break
		}

		writeCount, err = out.Write(results[i].data)
		n += int64(writeCount)
		if nil != err {
			err = blunder.AddError(err, unix.EIO)
			break
		}

		if results[i].n < results[i].size {
			break
		}
	}

	if nil != offset {
		*offset = start + n
	} else {
		fd.Lock()
		fd.offset = start + n
		fd.Unlock()
	}

	return
}

type sendfileResultStruct struct {
	size int
	n    int
	err  error
	data []byte
}

// The following are the process-wide (fd number taking) entry points.

func open(path string, flags int, mode uint32) (fdNum int, err error) {
	var (
		client *clientStruct
		fd     *fdStruct
		vpath  string
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("open", startTime, err)
	}()

	fdNum = -1

	client, vpath, err = resolvedPathHandle(path)
	if nil != err {
		return
	}

	fd, err = client.open(vpath, flags, mode)
	if nil != err {
		return
	}

	fdNum = fd.fd

	return
}

func closeFD(fdNum int) (err error) {
	var (
		fd *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("close", startTime, err)
	}()

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	err = fd.release()

	fdRelease(fd)

	return
}

func read(fdNum int, buf []byte) (n int, err error) {
	var (
		fd *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("read", startTime, err)
	}()

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	fd.Lock()
	defer fd.Unlock()

	n, err = fd.readAt(buf, fd.offset)
	fd.offset += int64(n)

	return
}

func pread(fdNum int, buf []byte, offset int64) (n int, err error) {
	var (
		fd *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("pread", startTime, err)
	}()

	if 0 > offset {
		err = blunder.NewError(unix.EINVAL, "negative offset")
		return
	}

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	n, err = fd.readAt(buf, offset)

	return
}

func readv(fdNum int, bufs [][]byte) (n int, err error) {
	var (
		bufN int
		fd   *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("readv", startTime, err)
	}()

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	fd.Lock()
	defer fd.Unlock()

	for _, buf := range bufs {
		bufN, err = fd.readAt(buf, fd.offset)
		fd.offset += int64(bufN)
		n += bufN
		if (nil != err) || (bufN < len(buf)) {
			return
		}
	}

	return
}

func write(fdNum int, buf []byte) (n int, err error) {
	var (
		fd *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("write", startTime, err)
	}()

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	fd.Lock()
	defer fd.Unlock()

	n, err = fd.writeAt(buf, fd.offset)
	fd.offset += int64(n)

	return
}

func pwrite(fdNum int, buf []byte, offset int64) (n int, err error) {
	var (
		fd *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("pwrite", startTime, err)
	}()

	if 0 > offset {
		err = blunder.NewError(unix.EINVAL, "negative offset")
		return
	}

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	n, err = fd.writeAt(buf, offset)

	return
}

func writev(fdNum int, bufs [][]byte) (n int, err error) {
	var (
		bufN int
		fd   *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("writev", startTime, err)
	}()

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	fd.Lock()
	defer fd.Unlock()

	for _, buf := range bufs {
		bufN, err = fd.writeAt(buf, fd.offset)
		fd.offset += int64(bufN)
		n += bufN
		if (nil != err) || (bufN < len(buf)) {
			return
		}
	}

	return
}

func lseek(fdNum int, offset int64, whence int) (newOffset int64, err error) {
	var (
		fd *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("lseek", startTime, err)
	}()

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	newOffset, err = fd.lseek(offset, whence)

	return
}

func fstat(fdNum int) (stat *xlator.StatStruct, err error) {
	var (
		fd *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("fstat", startTime, err)
	}()

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	stat, err = fd.fstat()

	return
}

func fchmod(fdNum int, mode uint32) (err error) {
	var (
		fd *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("fchmod", startTime, err)
	}()

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	err = fd.fsetattr(xlator.SetAttrMode, &xlator.StatStruct{Mode: mode})

	return
}

func fchown(fdNum int, uid int, gid int) (err error) {
	var (
		fd *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("fchown", startTime, err)
	}()

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	valid, attr := chownValid(uid, gid)

	err = fd.fsetattr(valid, attr)

	return
}

func ftruncate(fdNum int, length int64) (err error) {
	var (
		fd *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("ftruncate", startTime, err)
	}()

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	err = fd.ftruncate(length)

	return
}

func fsync(fdNum int) (err error) {
	var (
		fd *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("fsync", startTime, err)
	}()

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	err = fd.fsync()

	return
}

func fcntl(fdNum int, cmd int, lock *unix.Flock_t) (err error) {
	var (
		fd *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("fcntl", startTime, err)
	}()

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	err = fd.lk(cmd, lock)

	return
}

func sendfile(out io.Writer, fdNum int, offset *int64, count int) (n int64, err error) {
	var (
		fd *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("sendfile", startTime, err)
	}()

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	n, err = fd.sendfile(out, offset, count)

	return
}

func readAsync(fdNum int, size int, offset int64, cbk ReadAsyncCbk, cbkData interface{}) (err error) {
	var (
		fd *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("read_async", startTime, err)
	}()

	if 0 == size {
		return
	}
	if 0 > size {
		err = blunder.NewError(unix.EINVAL, "negative size")
		return
	}

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	err = fd.readAsync(size, offset, cbk, cbkData)

	return
}

func writeAsync(fdNum int, data []byte, offset int64, cbk WriteAsyncCbk, cbkData interface{}) (err error) {
	var (
		fd *fdStruct
	)

	startTime := time.Now()
	defer func() {
		globals.stats.apiDone("write_async", startTime, err)
	}()

	fd, err = fdFetch(fdNum)
	if nil != err {
		return
	}

	err = fd.writeAsync(data, offset, cbk, cbkData)

	return
}
