// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package xlator

import (
	"container/list"
	"fmt"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/NVIDIA/sortedmap"
	"golang.org/x/sys/unix"
)

// RAMTypeName is the volume spec type of the in-memory storage translator.
//
const RAMTypeName = "storage/ram"

const (
	ramBlockSize   = uint32(4096)
	ramNameMax     = uint64(255)
	ramTotalBlocks = uint64(1 << 20)
	ramTotalInodes = uint64(1 << 20)

	maxLockOffset = int64(^uint64(0) >> 1)
)

type ramLockStruct struct {
	owner uint32
	lType int16
	start int64
	end   int64 // inclusive
}

type ramInodeStruct struct {
	stat    StatStruct
	content []byte             // regular files
	target  string             // symlinks
	dir     sortedmap.LLRBTree // directories: key == name; value == ino (includes "." and "..")
	xattrs  map[string][]byte
	locks   []ramLockStruct
	openFH  uint64 // count of open handles
}

type ramHandleStruct struct {
	ino   uint64
	flags uint32
	isDir bool
}

type ramQueuedRequestStruct struct {
	request    *RequestStruct
	completion CompletionFunc
}

type ramFaultStruct struct {
	errno syscall.Errno
	count int // < 0 means forever
}

// RAMTranslatorStruct is a storage translator keeping the entire volume in
// memory. All requests are serviced, in order, by a single worker goroutine.
//
type RAMTranslatorStruct struct {
	name    string
	rootIno uint64 // ino reported for the volume root
	nextIno uint64
	nextFH  uint64

	inodeMap   map[uint64]*ramInodeStruct
	handleMap  map[uint64]*ramHandleStruct
	parkedList *list.List // of *ramQueuedRequestStruct awaiting a F_SETLKW

	queueLock  sync.Mutex
	queueCond  *sync.Cond
	queue      *list.List // of *ramQueuedRequestStruct
	running    bool
	stopping   bool
	workerDone sync.WaitGroup

	statsLock sync.Mutex
	opCount   [OpMax]uint64
	faultMap  map[OpType]*ramFaultStruct
}

func init() {
	RegisterType(RAMTypeName, newRAMTranslatorFromOptions)
}

func newRAMTranslatorFromOptions(name string, options map[string]string, children []Translator) (translator Translator, err error) {
	var (
		rootIno uint64
	)

	if 0 != len(children) {
		err = fmt.Errorf("%s volume \"%s\" must not have subvolumes", RAMTypeName, name)
		return
	}

	rootIno = RootIno

	if rootInoAsString, ok := options["root-ino"]; ok {
		rootIno, err = strconv.ParseUint(rootInoAsString, 0, 64)
		if (nil != err) || (0 == rootIno) {
			err = fmt.Errorf("%s volume \"%s\" has invalid root-ino \"%s\"", RAMTypeName, name, rootInoAsString)
			return
		}
	}

	translator = NewRAMTranslator(name, rootIno)

	return
}

// NewRAMTranslator returns an empty volume whose root reports inode number
// rootIno.
//
func NewRAMTranslator(name string, rootIno uint64) (ram *RAMTranslatorStruct) {
	var (
		now  time.Time
		root *ramInodeStruct
	)

	ram = &RAMTranslatorStruct{
		name:       name,
		rootIno:    rootIno,
		nextIno:    rootIno + 1,
		nextFH:     1,
		inodeMap:   make(map[uint64]*ramInodeStruct),
		handleMap:  make(map[uint64]*ramHandleStruct),
		parkedList: list.New(),
		queue:      list.New(),
		faultMap:   make(map[OpType]*ramFaultStruct),
	}

	ram.queueCond = sync.NewCond(&ram.queueLock)

	now = time.Now()

	root = &ramInodeStruct{
		stat: StatStruct{
			Ino:     rootIno,
			Mode:    unix.S_IFDIR | 0777,
			NLink:   2,
			BlkSize: ramBlockSize,
			ATime:   now,
			MTime:   now,
			CTime:   now,
		},
		xattrs: make(map[string][]byte),
	}
	root.dir = sortedmap.NewLLRBTree(sortedmap.CompareString, ram)
	ram.putDirEntry(root, ".", rootIno)
	ram.putDirEntry(root, "..", rootIno)

	ram.inodeMap[rootIno] = root

	return
}

func (ram *RAMTranslatorStruct) DumpKey(key sortedmap.Key) (keyAsString string, err error) {
	keyAsString, ok := key.(string)
	if !ok {
		err = fmt.Errorf("key.(string) returned !ok")
	}
	return
}

func (ram *RAMTranslatorStruct) DumpValue(value sortedmap.Value) (valueAsString string, err error) {
	valueAsUint64, ok := value.(uint64)
	if !ok {
		err = fmt.Errorf("value.(uint64) returned !ok")
		return
	}
	valueAsString = fmt.Sprintf("%016X", valueAsUint64)
	return
}

func (ram *RAMTranslatorStruct) Name() string {
	return ram.name
}

func (ram *RAMTranslatorStruct) Type() string {
	return RAMTypeName
}

func (ram *RAMTranslatorStruct) Children() []Translator {
	return nil
}

// Init starts the worker goroutine.
//
func (ram *RAMTranslatorStruct) Init() (err error) {
	ram.queueLock.Lock()
	defer ram.queueLock.Unlock()

	if ram.running {
		err = fmt.Errorf("%s volume \"%s\" already initialized", RAMTypeName, ram.name)
		return
	}

	ram.running = true
	ram.stopping = false

	ram.workerDone.Add(1)
	go ram.worker()

	return
}

// Fini drains the request queue and stops the worker goroutine. Requests
// parked awaiting a lock are failed with EINTR.
//
func (ram *RAMTranslatorStruct) Fini() (err error) {
	ram.queueLock.Lock()
	if !ram.running {
		ram.queueLock.Unlock()
		return
	}
	ram.stopping = true
	ram.queueCond.Signal()
	ram.queueLock.Unlock()

	ram.workerDone.Wait()

	for ram.parkedList.Len() > 0 {
		parked := ram.parkedList.Remove(ram.parkedList.Front()).(*ramQueuedRequestStruct)
		parked.completion(FailedReply(unix.EINTR))
	}

	ram.queueLock.Lock()
	ram.running = false
	ram.queueLock.Unlock()

	return
}

// Submit queues request for the worker goroutine. If the translator is not
// running, completion is invoked immediately with ENOTCONN.
//
func (ram *RAMTranslatorStruct) Submit(request *RequestStruct, completion CompletionFunc) {
	ram.queueLock.Lock()

	if !ram.running || ram.stopping {
		ram.queueLock.Unlock()
		completion(FailedReply(unix.ENOTCONN))
		return
	}

	ram.queue.PushBack(&ramQueuedRequestStruct{request: request, completion: completion})
	ram.queueCond.Signal()

	ram.queueLock.Unlock()
}

// SetFault causes the next count requests of type op to fail with errno
// (count < 0 fails them indefinitely; count == 0 clears the fault).
//
func (ram *RAMTranslatorStruct) SetFault(op OpType, errno syscall.Errno, count int) {
	ram.statsLock.Lock()
	if 0 == count {
		delete(ram.faultMap, op)
	} else {
		ram.faultMap[op] = &ramFaultStruct{errno: errno, count: count}
	}
	ram.statsLock.Unlock()
}

// OpCount returns the number of requests of type op received so far.
//
func (ram *RAMTranslatorStruct) OpCount(op OpType) (count uint64) {
	ram.statsLock.Lock()
	count = ram.opCount[op]
	ram.statsLock.Unlock()
	return
}

// ResetOpCounts zeroes every per-op request counter.
//
func (ram *RAMTranslatorStruct) ResetOpCounts() {
	ram.statsLock.Lock()
	ram.opCount = [OpMax]uint64{}
	ram.statsLock.Unlock()
}

func (ram *RAMTranslatorStruct) worker() {
	var (
		element *list.Element
		queued  *ramQueuedRequestStruct
		reply   *ReplyStruct
	)

	defer ram.workerDone.Done()

	for {
		ram.queueLock.Lock()
		for (0 == ram.queue.Len()) && !ram.stopping {
			ram.queueCond.Wait()
		}
		if 0 == ram.queue.Len() {
			ram.queueLock.Unlock()
			return
		}
		element = ram.queue.Front()
		queued = ram.queue.Remove(element).(*ramQueuedRequestStruct)
		ram.queueLock.Unlock()

		reply = ram.dispatch(queued)
		if nil != reply {
			queued.completion(reply)
		}
	}
}

// injectedFault returns a non-zero errno if op should fail.
//
func (ram *RAMTranslatorStruct) injectedFault(op OpType) (errno syscall.Errno) {
	ram.statsLock.Lock()
	defer ram.statsLock.Unlock()

	if op < OpMax {
		ram.opCount[op]++
	}

	fault, ok := ram.faultMap[op]
	if !ok {
		return
	}

	errno = fault.errno

	if fault.count > 0 {
		fault.count--
		if 0 == fault.count {
			delete(ram.faultMap, op)
		}
	}

	return
}

// dispatch services queued on the worker goroutine. A nil reply indicates
// the request has been parked (see doLk) and will be completed later.
//
func (ram *RAMTranslatorStruct) dispatch(queued *ramQueuedRequestStruct) (reply *ReplyStruct) {
	var (
		request = queued.request
	)

	if errno := ram.injectedFault(request.Op); 0 != errno {
		reply = FailedReply(errno)
		return
	}

	switch request.Op {
	case OpLookup:
		reply = ram.doLookup(request)
	case OpStat:
		reply = ram.doStat(request.Ino)
	case OpFStat:
		reply = ram.withHandle(request.FH, func(handle *ramHandleStruct) *ReplyStruct { return ram.doStat(handle.ino) })
	case OpOpen:
		reply = ram.doOpen(request)
	case OpCreate:
		reply = ram.doCreate(request)
	case OpFlush, OpFSync:
		reply = ram.withHandle(request.FH, func(handle *ramHandleStruct) *ReplyStruct { return ram.doStat(handle.ino) })
	case OpRelease, OpReleaseDir:
		reply = ram.doRelease(request)
	case OpOpenDir:
		reply = ram.doOpenDir(request)
	case OpReadDirP:
		reply = ram.doReadDirP(request)
	case OpReadV:
		reply = ram.doReadV(request)
	case OpWriteV:
		reply = ram.doWriteV(request)
	case OpMkDir:
		reply = ram.doMkNod(request, unix.S_IFDIR|(request.Mode&07777), "")
	case OpMkNod:
		reply = ram.doMkNod(request, request.Mode, "")
	case OpSymLink:
		reply = ram.doMkNod(request, unix.S_IFLNK|0777, request.Target)
	case OpRmDir:
		reply = ram.doRemove(request, true)
	case OpUnlink:
		reply = ram.doRemove(request, false)
	case OpRename:
		reply = ram.doRename(request)
	case OpLink:
		reply = ram.doLink(request)
	case OpReadLink:
		reply = ram.doReadLink(request)
	case OpSetAttr:
		reply = ram.doSetAttr(request.Ino, request)
	case OpFSetAttr:
		reply = ram.withHandle(request.FH, func(handle *ramHandleStruct) *ReplyStruct { return ram.doSetAttr(handle.ino, request) })
	case OpTruncate:
		reply = ram.doTruncate(request.Ino, request.Offset)
	case OpFTruncate:
		reply = ram.withHandle(request.FH, func(handle *ramHandleStruct) *ReplyStruct { return ram.doTruncate(handle.ino, request.Offset) })
	case OpStatFS:
		reply = ram.doStatFS()
	case OpGetXAttr:
		reply = ram.doGetXAttr(request.Ino, request)
	case OpFGetXAttr:
		reply = ram.withHandle(request.FH, func(handle *ramHandleStruct) *ReplyStruct { return ram.doGetXAttr(handle.ino, request) })
	case OpSetXAttr:
		reply = ram.doSetXAttr(request.Ino, request)
	case OpFSetXAttr:
		reply = ram.withHandle(request.FH, func(handle *ramHandleStruct) *ReplyStruct { return ram.doSetXAttr(handle.ino, request) })
	case OpLk:
		reply = ram.doLk(queued)
	default:
		reply = FailedReply(unix.ENOSYS)
	}

	return
}

func (ram *RAMTranslatorStruct) mapIno(ino uint64) uint64 {
	if RootIno == ino {
		return ram.rootIno
	}
	return ino
}

func (ram *RAMTranslatorStruct) getInode(ino uint64) (inode *ramInodeStruct, errno syscall.Errno) {
	inode, ok := ram.inodeMap[ram.mapIno(ino)]
	if !ok {
		errno = unix.ENOENT
	}
	return
}

func (ram *RAMTranslatorStruct) getDir(ino uint64) (dir *ramInodeStruct, errno syscall.Errno) {
	dir, errno = ram.getInode(ino)
	if 0 != errno {
		return
	}
	if !dir.stat.IsDir() {
		dir = nil
		errno = unix.ENOTDIR
	}
	return
}

func (ram *RAMTranslatorStruct) getDirEntry(dir *ramInodeStruct, name string) (ino uint64, ok bool) {
	inoAsValue, ok, err := dir.dir.GetByKey(name)
	if nil != err {
		panic(fmt.Errorf("dir.dir.GetByKey(\"%s\") failed: %v", name, err))
	}
	if ok {
		ino = inoAsValue.(uint64)
	}
	return
}

func (ram *RAMTranslatorStruct) putDirEntry(dir *ramInodeStruct, name string, ino uint64) {
	ok, err := dir.dir.Put(name, ino)
	if (nil != err) || !ok {
		panic(fmt.Errorf("dir.dir.Put(\"%s\",) failed (ok: %v err: %v)", name, ok, err))
	}
}

func (ram *RAMTranslatorStruct) deleteDirEntry(dir *ramInodeStruct, name string) {
	ok, err := dir.dir.DeleteByKey(name)
	if (nil != err) || !ok {
		panic(fmt.Errorf("dir.dir.DeleteByKey(\"%s\") failed (ok: %v err: %v)", name, ok, err))
	}
}

func (ram *RAMTranslatorStruct) dirLen(dir *ramInodeStruct) (dirLen int) {
	dirLen, err := dir.dir.Len()
	if nil != err {
		panic(fmt.Errorf("dir.dir.Len() failed: %v", err))
	}
	return
}

func (ram *RAMTranslatorStruct) withHandle(fh uint64, fn func(handle *ramHandleStruct) *ReplyStruct) *ReplyStruct {
	handle, ok := ram.handleMap[fh]
	if !ok {
		return FailedReply(unix.EBADF)
	}
	return fn(handle)
}

func (ram *RAMTranslatorStruct) touch(inode *ramInodeStruct, mtime bool) {
	now := time.Now()
	inode.stat.CTime = now
	if mtime {
		inode.stat.MTime = now
	}
}

func (ram *RAMTranslatorStruct) setSize(inode *ramInodeStruct, size uint64) {
	inode.stat.Size = size
	inode.stat.Blocks = (size + 511) / 512
}

func (ram *RAMTranslatorStruct) statReply(inode *ramInodeStruct) (reply *ReplyStruct) {
	reply = &ReplyStruct{Stat: inode.stat}
	return
}

func (ram *RAMTranslatorStruct) doLookup(request *RequestStruct) (reply *ReplyStruct) {
	var (
		errno  syscall.Errno
		ino    uint64
		inode  *ramInodeStruct
		ok     bool
		parent *ramInodeStruct
	)

	if ("" == request.Name) || (0 == request.ParentIno) {
		// Lookup by ino (e.g. the root)

		inode, errno = ram.getInode(request.Ino)
		if 0 != errno {
			reply = FailedReply(errno)
			return
		}

		reply = ram.statReply(inode)
	} else {
		parent, errno = ram.getDir(request.ParentIno)
		if 0 != errno {
			reply = FailedReply(errno)
			return
		}

		ino, ok = ram.getDirEntry(parent, request.Name)
		if !ok {
			reply = FailedReply(unix.ENOENT)
			return
		}

		if (0 != request.Ino) && (ram.mapIno(request.Ino) != ino) {
			// Revalidation of an inode no longer at this name

			reply = FailedReply(unix.ENOENT)
			return
		}

		inode = ram.inodeMap[ino]

		reply = ram.statReply(inode)
		reply.PostParent = parent.stat
	}

	if _, ok = request.XAttrReq[ContentXAttrKey]; ok && inode.stat.IsReg() && (inode.stat.Size <= request.ContentSize) {
		reply.XAttrs = map[string][]byte{ContentXAttrKey: append([]byte(nil), inode.content...)}
	}

	return
}

func (ram *RAMTranslatorStruct) doStat(ino uint64) (reply *ReplyStruct) {
	inode, errno := ram.getInode(ino)
	if 0 != errno {
		reply = FailedReply(errno)
		return
	}

	reply = ram.statReply(inode)
	return
}

func (ram *RAMTranslatorStruct) newHandle(ino uint64, flags uint32, isDir bool) (fh uint64) {
	fh = ram.nextFH
	ram.nextFH++

	ram.handleMap[fh] = &ramHandleStruct{ino: ram.mapIno(ino), flags: flags, isDir: isDir}
	ram.inodeMap[ram.mapIno(ino)].openFH++

	return
}

func isWritable(flags uint32) bool {
	return 0 != (flags & (unix.O_WRONLY | unix.O_RDWR))
}

func (ram *RAMTranslatorStruct) doOpen(request *RequestStruct) (reply *ReplyStruct) {
	inode, errno := ram.getInode(request.Ino)
	if 0 != errno {
		reply = FailedReply(errno)
		return
	}

	if inode.stat.IsDir() && isWritable(request.Flags) {
		reply = FailedReply(unix.EISDIR)
		return
	}
	if !inode.stat.IsDir() && (0 != (request.Flags & unix.O_DIRECTORY)) {
		reply = FailedReply(unix.ENOTDIR)
		return
	}

	if inode.stat.IsReg() && isWritable(request.Flags) && (0 != (request.Flags & unix.O_TRUNC)) {
		inode.content = inode.content[:0]
		ram.setSize(inode, 0)
		ram.touch(inode, true)
	}

	reply = ram.statReply(inode)
	reply.FH = ram.newHandle(request.Ino, request.Flags, inode.stat.IsDir())

	return
}

func (ram *RAMTranslatorStruct) doCreate(request *RequestStruct) (reply *ReplyStruct) {
	var (
		errno  syscall.Errno
		ino    uint64
		inode  *ramInodeStruct
		ok     bool
		parent *ramInodeStruct
	)

	parent, errno = ram.getDir(request.ParentIno)
	if 0 != errno {
		reply = FailedReply(errno)
		return
	}

	ino, ok = ram.getDirEntry(parent, request.Name)
	if ok {
		if 0 != (request.Flags & unix.O_EXCL) {
			reply = FailedReply(unix.EEXIST)
			return
		}
		inode = ram.inodeMap[ino]
		if inode.stat.IsDir() {
			reply = FailedReply(unix.EISDIR)
			return
		}
		if inode.stat.IsReg() && isWritable(request.Flags) && (0 != (request.Flags & unix.O_TRUNC)) {
			inode.content = inode.content[:0]
			ram.setSize(inode, 0)
			ram.touch(inode, true)
		}
	} else {
		reply = ram.doMkNod(request, unix.S_IFREG|(request.Mode&07777), "")
		if reply.OpRet < 0 {
			return
		}
		ino = reply.Stat.Ino
		inode = ram.inodeMap[ino]
	}

	reply = ram.statReply(inode)
	reply.PostParent = parent.stat
	reply.FH = ram.newHandle(ino, request.Flags, false)

	return
}

func (ram *RAMTranslatorStruct) doOpenDir(request *RequestStruct) (reply *ReplyStruct) {
	dir, errno := ram.getDir(request.Ino)
	if 0 != errno {
		reply = FailedReply(errno)
		return
	}

	reply = ram.statReply(dir)
	reply.FH = ram.newHandle(request.Ino, request.Flags, true)

	return
}

func (ram *RAMTranslatorStruct) doRelease(request *RequestStruct) (reply *ReplyStruct) {
	handle, ok := ram.handleMap[request.FH]
	if !ok {
		reply = FailedReply(unix.EBADF)
		return
	}

	delete(ram.handleMap, request.FH)

	if inode, ok := ram.inodeMap[handle.ino]; ok {
		inode.openFH--
		if !handle.isDir {
			ram.releaseLocks(inode, request.PID)
		}
		ram.reapIfUnreferenced(handle.ino, inode)
	}

	reply = &ReplyStruct{}

	return
}

func (ram *RAMTranslatorStruct) reapIfUnreferenced(ino uint64, inode *ramInodeStruct) {
	if (0 == inode.stat.NLink) && (0 == inode.openFH) {
		delete(ram.inodeMap, ino)
	}
}

// direntSize is the space a linux_dirent64 naming name occupies.
//
func direntSize(name string) uint64 {
	return (19 + uint64(len(name)) + 1 + 7) &^ 7
}

func dtType(mode uint32) uint8 {
	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		return unix.DT_DIR
	case unix.S_IFREG:
		return unix.DT_REG
	case unix.S_IFLNK:
		return unix.DT_LNK
	case unix.S_IFIFO:
		return unix.DT_FIFO
	case unix.S_IFCHR:
		return unix.DT_CHR
	case unix.S_IFBLK:
		return unix.DT_BLK
	case unix.S_IFSOCK:
		return unix.DT_SOCK
	default:
		return unix.DT_UNKNOWN
	}
}

func (ram *RAMTranslatorStruct) doReadDirP(request *RequestStruct) (reply *ReplyStruct) {
	var (
		dir       *ramInodeStruct
		dirLen    int
		entry     DirEntryStruct
		errno     syscall.Errno
		ino       uint64
		index     int
		key       sortedmap.Key
		totalSize uint64
		value     sortedmap.Value
		ok        bool
		err       error
	)

	handle, ok := ram.handleMap[request.FH]
	if !ok || !handle.isDir {
		reply = FailedReply(unix.EBADF)
		return
	}

	dir, errno = ram.getDir(handle.ino)
	if 0 != errno {
		reply = FailedReply(errno)
		return
	}

	if request.Offset < 0 {
		reply = FailedReply(unix.EINVAL)
		return
	}

	reply = &ReplyStruct{Entries: make([]DirEntryStruct, 0)}

	dirLen = ram.dirLen(dir)

	for index = int(request.Offset); index < dirLen; index++ {
		key, value, ok, err = dir.dir.GetByIndex(index)
		if (nil != err) || !ok {
			panic(fmt.Errorf("dir.dir.GetByIndex(%d) failed (ok: %v err: %v)", index, ok, err))
		}

		entry = DirEntryStruct{
			Off:  int64(index + 1),
			Name: key.(string),
		}
		ino = value.(uint64)

		totalSize += direntSize(entry.Name)
		if (totalSize > request.Size) && (0 != len(reply.Entries)) {
			break
		}

		entry.Ino = ino
		if inode, ok := ram.inodeMap[ino]; ok {
			entry.Stat = inode.stat
			entry.Type = dtType(inode.stat.Mode)
		}

		reply.Entries = append(reply.Entries, entry)
	}

	reply.OpRet = int64(len(reply.Entries))

	return
}

func (ram *RAMTranslatorStruct) doReadV(request *RequestStruct) (reply *ReplyStruct) {
	handle, ok := ram.handleMap[request.FH]
	if !ok || handle.isDir {
		reply = FailedReply(unix.EBADF)
		return
	}
	if unix.O_WRONLY == (handle.flags & unix.O_ACCMODE) {
		reply = FailedReply(unix.EBADF)
		return
	}
	if request.Offset < 0 {
		reply = FailedReply(unix.EINVAL)
		return
	}

	inode := ram.inodeMap[handle.ino]

	reply = ram.statReply(inode)
	reply.Data = make([]byte, 0)

	if uint64(request.Offset) < inode.stat.Size {
		end := uint64(request.Offset) + request.Size
		if end > inode.stat.Size {
			end = inode.stat.Size
		}
		reply.Data = append(reply.Data, inode.content[request.Offset:end]...)
	}

	inode.stat.ATime = time.Now()

	reply.OpRet = int64(len(reply.Data))

	return
}

func (ram *RAMTranslatorStruct) doWriteV(request *RequestStruct) (reply *ReplyStruct) {
	handle, ok := ram.handleMap[request.FH]
	if !ok || handle.isDir || !isWritable(handle.flags) {
		reply = FailedReply(unix.EBADF)
		return
	}
	if request.Offset < 0 {
		reply = FailedReply(unix.EINVAL)
		return
	}

	inode := ram.inodeMap[handle.ino]

	offset := uint64(request.Offset)
	if 0 != (handle.flags & unix.O_APPEND) {
		offset = inode.stat.Size
	}

	end := offset + uint64(len(request.Data))
	if end > uint64(len(inode.content)) {
		inode.content = append(inode.content, make([]byte, end-uint64(len(inode.content)))...)
	}
	copy(inode.content[offset:end], request.Data)

	if end > inode.stat.Size {
		ram.setSize(inode, end)
	}
	ram.touch(inode, true)

	reply = ram.statReply(inode)
	reply.OpRet = int64(len(request.Data))

	return
}

// doMkNod creates a new object of mode under (request.ParentIno,
// request.Name). Symlinks carry target.
//
func (ram *RAMTranslatorStruct) doMkNod(request *RequestStruct, mode uint32, target string) (reply *ReplyStruct) {
	var (
		inode  *ramInodeStruct
		ino    uint64
		now    time.Time
		parent *ramInodeStruct
		errno  syscall.Errno
	)

	parent, errno = ram.getDir(request.ParentIno)
	if 0 != errno {
		reply = FailedReply(errno)
		return
	}

	if "" == request.Name {
		reply = FailedReply(unix.EINVAL)
		return
	}
	if uint64(len(request.Name)) > ramNameMax {
		reply = FailedReply(unix.ENAMETOOLONG)
		return
	}
	if _, ok := ram.getDirEntry(parent, request.Name); ok {
		reply = FailedReply(unix.EEXIST)
		return
	}

	if 0 == (mode & unix.S_IFMT) {
		mode |= unix.S_IFREG
	}

	ino = ram.nextIno
	ram.nextIno++

	now = time.Now()

	inode = &ramInodeStruct{
		stat: StatStruct{
			Ino:     ino,
			Mode:    mode,
			NLink:   1,
			UID:     request.UID,
			GID:     request.GID,
			RDev:    request.RDev,
			BlkSize: ramBlockSize,
			ATime:   now,
			MTime:   now,
			CTime:   now,
		},
		target: target,
		xattrs: make(map[string][]byte),
	}

	if inode.stat.IsDir() {
		inode.stat.NLink = 2
		inode.dir = sortedmap.NewLLRBTree(sortedmap.CompareString, ram)
		ram.putDirEntry(inode, ".", ino)
		ram.putDirEntry(inode, "..", parent.stat.Ino)
		parent.stat.NLink++
	}
	if inode.stat.IsLnk() {
		ram.setSize(inode, uint64(len(target)))
	}

	ram.inodeMap[ino] = inode
	ram.putDirEntry(parent, request.Name, ino)
	ram.touch(parent, true)

	reply = ram.statReply(inode)
	reply.PostParent = parent.stat

	return
}

func (ram *RAMTranslatorStruct) doRemove(request *RequestStruct, isRmDir bool) (reply *ReplyStruct) {
	var (
		errno  syscall.Errno
		ino    uint64
		inode  *ramInodeStruct
		ok     bool
		parent *ramInodeStruct
	)

	parent, errno = ram.getDir(request.ParentIno)
	if 0 != errno {
		reply = FailedReply(errno)
		return
	}

	if ("." == request.Name) || (".." == request.Name) {
		reply = FailedReply(unix.EINVAL)
		return
	}

	ino, ok = ram.getDirEntry(parent, request.Name)
	if !ok {
		reply = FailedReply(unix.ENOENT)
		return
	}

	inode = ram.inodeMap[ino]

	if isRmDir {
		if !inode.stat.IsDir() {
			reply = FailedReply(unix.ENOTDIR)
			return
		}
		if ram.dirLen(inode) > 2 {
			reply = FailedReply(unix.ENOTEMPTY)
			return
		}
		parent.stat.NLink--
		inode.stat.NLink = 0
	} else {
		if inode.stat.IsDir() {
			reply = FailedReply(unix.EISDIR)
			return
		}
		inode.stat.NLink--
	}

	ram.deleteDirEntry(parent, request.Name)
	ram.touch(parent, true)
	ram.touch(inode, false)
	ram.reapIfUnreferenced(ino, inode)

	reply = &ReplyStruct{PostParent: parent.stat}

	return
}

func (ram *RAMTranslatorStruct) doRename(request *RequestStruct) (reply *ReplyStruct) {
	var (
		dstIno    uint64
		dstInode  *ramInodeStruct
		dstExists bool
		errno     syscall.Errno
		newParent *ramInodeStruct
		ok        bool
		oldParent *ramInodeStruct
		srcIno    uint64
		srcInode  *ramInodeStruct
	)

	oldParent, errno = ram.getDir(request.ParentIno)
	if 0 != errno {
		reply = FailedReply(errno)
		return
	}
	newParent, errno = ram.getDir(request.NewParentIno)
	if 0 != errno {
		reply = FailedReply(errno)
		return
	}

	srcIno, ok = ram.getDirEntry(oldParent, request.Name)
	if !ok {
		reply = FailedReply(unix.ENOENT)
		return
	}
	srcInode = ram.inodeMap[srcIno]

	dstIno, dstExists = ram.getDirEntry(newParent, request.NewName)
	if dstExists {
		if dstIno == srcIno {
			reply = ram.statReply(srcInode)
			return
		}
		dstInode = ram.inodeMap[dstIno]
		if dstInode.stat.IsDir() {
			if !srcInode.stat.IsDir() {
				reply = FailedReply(unix.EISDIR)
				return
			}
			if ram.dirLen(dstInode) > 2 {
				reply = FailedReply(unix.ENOTEMPTY)
				return
			}
		} else if srcInode.stat.IsDir() {
			reply = FailedReply(unix.ENOTDIR)
			return
		}
	}

	if srcInode.stat.IsDir() && ram.isAncestor(srcIno, newParent) {
		reply = FailedReply(unix.EINVAL)
		return
	}

	if dstExists {
		ram.deleteDirEntry(newParent, request.NewName)
		if dstInode.stat.IsDir() {
			dstInode.stat.NLink = 0
			newParent.stat.NLink--
		} else {
			dstInode.stat.NLink--
		}
		ram.reapIfUnreferenced(dstIno, dstInode)
	}

	ram.deleteDirEntry(oldParent, request.Name)
	ram.putDirEntry(newParent, request.NewName, srcIno)

	if srcInode.stat.IsDir() && (oldParent != newParent) {
		ram.deleteDirEntry(srcInode, "..")
		ram.putDirEntry(srcInode, "..", newParent.stat.Ino)
		oldParent.stat.NLink--
		newParent.stat.NLink++
	}

	ram.touch(oldParent, true)
	ram.touch(newParent, true)
	ram.touch(srcInode, false)

	reply = ram.statReply(srcInode)
	reply.PostParent = newParent.stat

	return
}

// isAncestor reports whether dirIno is dir or one of its ancestors.
//
func (ram *RAMTranslatorStruct) isAncestor(dirIno uint64, dir *ramInodeStruct) bool {
	for {
		if dir.stat.Ino == dirIno {
			return true
		}
		if dir.stat.Ino == ram.rootIno {
			return false
		}
		parentIno, _ := ram.getDirEntry(dir, "..")
		dir = ram.inodeMap[parentIno]
	}
}

func (ram *RAMTranslatorStruct) doLink(request *RequestStruct) (reply *ReplyStruct) {
	inode, errno := ram.getInode(request.Ino)
	if 0 != errno {
		reply = FailedReply(errno)
		return
	}
	if inode.stat.IsDir() {
		reply = FailedReply(unix.EPERM)
		return
	}

	newParent, errno := ram.getDir(request.NewParentIno)
	if 0 != errno {
		reply = FailedReply(errno)
		return
	}
	if _, ok := ram.getDirEntry(newParent, request.NewName); ok {
		reply = FailedReply(unix.EEXIST)
		return
	}

	ram.putDirEntry(newParent, request.NewName, inode.stat.Ino)
	inode.stat.NLink++
	ram.touch(inode, false)
	ram.touch(newParent, true)

	reply = ram.statReply(inode)
	reply.PostParent = newParent.stat

	return
}

func (ram *RAMTranslatorStruct) doReadLink(request *RequestStruct) (reply *ReplyStruct) {
	inode, errno := ram.getInode(request.Ino)
	if 0 != errno {
		reply = FailedReply(errno)
		return
	}
	if !inode.stat.IsLnk() {
		reply = FailedReply(unix.EINVAL)
		return
	}

	reply = ram.statReply(inode)
	reply.Data = []byte(inode.target)
	reply.OpRet = int64(len(reply.Data))

	return
}

func (ram *RAMTranslatorStruct) doTruncate(ino uint64, length int64) (reply *ReplyStruct) {
	inode, errno := ram.getInode(ino)
	if 0 != errno {
		reply = FailedReply(errno)
		return
	}
	if inode.stat.IsDir() {
		reply = FailedReply(unix.EISDIR)
		return
	}
	if !inode.stat.IsReg() || (length < 0) {
		reply = FailedReply(unix.EINVAL)
		return
	}

	if uint64(length) <= uint64(len(inode.content)) {
		inode.content = inode.content[:length]
	} else {
		inode.content = append(inode.content, make([]byte, uint64(length)-uint64(len(inode.content)))...)
	}
	ram.setSize(inode, uint64(length))
	ram.touch(inode, true)

	reply = ram.statReply(inode)

	return
}

func (ram *RAMTranslatorStruct) doSetAttr(ino uint64, request *RequestStruct) (reply *ReplyStruct) {
	inode, errno := ram.getInode(ino)
	if 0 != errno {
		reply = FailedReply(errno)
		return
	}

	if 0 != (request.SetAttrValid & SetAttrSize) {
		reply = ram.doTruncate(ino, int64(request.Attr.Size))
		if reply.OpRet < 0 {
			return
		}
	}
	if 0 != (request.SetAttrValid & SetAttrMode) {
		inode.stat.Mode = (inode.stat.Mode & unix.S_IFMT) | (request.Attr.Mode & 07777)
	}
	if 0 != (request.SetAttrValid & SetAttrUID) {
		inode.stat.UID = request.Attr.UID
	}
	if 0 != (request.SetAttrValid & SetAttrGID) {
		inode.stat.GID = request.Attr.GID
	}
	if 0 != (request.SetAttrValid & SetAttrATime) {
		inode.stat.ATime = request.Attr.ATime
	}
	if 0 != (request.SetAttrValid & SetAttrMTime) {
		inode.stat.MTime = request.Attr.MTime
	}

	inode.stat.CTime = time.Now()

	reply = ram.statReply(inode)

	return
}

func (ram *RAMTranslatorStruct) doStatFS() (reply *ReplyStruct) {
	var (
		usedBlocks uint64
	)

	for _, inode := range ram.inodeMap {
		usedBlocks += (inode.stat.Size + uint64(ramBlockSize) - 1) / uint64(ramBlockSize)
	}

	reply = &ReplyStruct{
		StatFS: StatFSStruct{
			BSize:   uint64(ramBlockSize),
			FRSize:  uint64(ramBlockSize),
			Blocks:  ramTotalBlocks,
			BFree:   ramTotalBlocks - usedBlocks,
			BAvail:  ramTotalBlocks - usedBlocks,
			Files:   ramTotalInodes,
			FFree:   ramTotalInodes - uint64(len(ram.inodeMap)),
			FAvail:  ramTotalInodes - uint64(len(ram.inodeMap)),
			NameMax: ramNameMax,
		},
	}

	return
}

func (ram *RAMTranslatorStruct) doGetXAttr(ino uint64, request *RequestStruct) (reply *ReplyStruct) {
	inode, errno := ram.getInode(ino)
	if 0 != errno {
		reply = FailedReply(errno)
		return
	}

	value, ok := inode.xattrs[request.XAttrName]
	if !ok {
		reply = FailedReply(unix.ENODATA)
		return
	}

	reply = &ReplyStruct{
		OpRet: int64(len(value)),
		Data:  append([]byte(nil), value...),
	}

	return
}

func (ram *RAMTranslatorStruct) doSetXAttr(ino uint64, request *RequestStruct) (reply *ReplyStruct) {
	inode, errno := ram.getInode(ino)
	if 0 != errno {
		reply = FailedReply(errno)
		return
	}

	_, exists := inode.xattrs[request.XAttrName]

	if exists && (0 != (request.Flags & unix.XATTR_CREATE)) {
		reply = FailedReply(unix.EEXIST)
		return
	}
	if !exists && (0 != (request.Flags & unix.XATTR_REPLACE)) {
		reply = FailedReply(unix.ENODATA)
		return
	}

	inode.xattrs[request.XAttrName] = append([]byte(nil), request.Data...)
	ram.touch(inode, false)

	reply = &ReplyStruct{}

	return
}

func lockRange(lock *FlockStruct, size uint64) (start int64, end int64) {
	start = lock.Start
	if unix.SEEK_END == int(lock.Whence) {
		start += int64(size)
	}
	if 0 == lock.Len {
		end = maxLockOffset
	} else {
		end = start + lock.Len - 1
	}
	return
}

func (ram *RAMTranslatorStruct) conflictingLock(inode *ramInodeStruct, owner uint32, lType int16, start int64, end int64) (conflict *ramLockStruct) {
	for i := range inode.locks {
		held := &inode.locks[i]
		if held.owner == owner {
			continue
		}
		if (held.end < start) || (held.start > end) {
			continue
		}
		if (unix.F_RDLCK == held.lType) && (unix.F_RDLCK == lType) {
			continue
		}
		conflict = held
		return
	}
	return
}

// removeOwnerRange drops owner's locks over [start, end], splitting any
// lock that straddles the range.
//
func (ram *RAMTranslatorStruct) removeOwnerRange(inode *ramInodeStruct, owner uint32, start int64, end int64) {
	remaining := make([]ramLockStruct, 0, len(inode.locks))

	for _, held := range inode.locks {
		if (held.owner != owner) || (held.end < start) || (held.start > end) {
			remaining = append(remaining, held)
			continue
		}
		if held.start < start {
			remaining = append(remaining, ramLockStruct{owner: owner, lType: held.lType, start: held.start, end: start - 1})
		}
		if held.end > end {
			remaining = append(remaining, ramLockStruct{owner: owner, lType: held.lType, start: end + 1, end: held.end})
		}
	}

	inode.locks = remaining
}

func (ram *RAMTranslatorStruct) releaseLocks(inode *ramInodeStruct, owner uint32) {
	before := len(inode.locks)
	ram.removeOwnerRange(inode, owner, 0, maxLockOffset)
	if len(inode.locks) != before {
		ram.retryParked()
	}
}

// retryParked re-dispatches every request parked awaiting a lock.
//
func (ram *RAMTranslatorStruct) retryParked() {
	parkedList := ram.parkedList
	ram.parkedList = list.New()

	for parkedList.Len() > 0 {
		parked := parkedList.Remove(parkedList.Front()).(*ramQueuedRequestStruct)
		reply := ram.tryLk(parked)
		if nil != reply {
			parked.completion(reply)
		}
	}
}

func (ram *RAMTranslatorStruct) doLk(queued *ramQueuedRequestStruct) (reply *ReplyStruct) {
	reply = ram.tryLk(queued)
	return
}

func (ram *RAMTranslatorStruct) tryLk(queued *ramQueuedRequestStruct) (reply *ReplyStruct) {
	var (
		conflict *ramLockStruct
		end      int64
		request  = queued.request
		start    int64
	)

	handle, ok := ram.handleMap[request.FH]
	if !ok {
		reply = FailedReply(unix.EBADF)
		return
	}

	inode := ram.inodeMap[handle.ino]

	start, end = lockRange(&request.Lock, inode.stat.Size)
	if (start < 0) || (end < start) {
		reply = FailedReply(unix.EINVAL)
		return
	}

	switch request.LockCmd {
	case unix.F_GETLK:
		reply = &ReplyStruct{Lock: request.Lock}
		conflict = ram.conflictingLock(inode, request.PID, request.Lock.Type, start, end)
		if nil == conflict {
			reply.Lock.Type = unix.F_UNLCK
		} else {
			reply.Lock = FlockStruct{
				Type:   conflict.lType,
				Whence: unix.SEEK_SET,
				Start:  conflict.start,
				PID:    int32(conflict.owner),
			}
			if maxLockOffset != conflict.end {
				reply.Lock.Len = conflict.end - conflict.start + 1
			}
		}
	case unix.F_SETLK, unix.F_SETLKW:
		if unix.F_UNLCK == request.Lock.Type {
			ram.removeOwnerRange(inode, request.PID, start, end)
			reply = &ReplyStruct{Lock: request.Lock}
			ram.retryParked()
			return
		}
		if (unix.F_WRLCK == request.Lock.Type) && !isWritable(handle.flags) {
			reply = FailedReply(unix.EBADF)
			return
		}
		conflict = ram.conflictingLock(inode, request.PID, request.Lock.Type, start, end)
		if nil != conflict {
			if unix.F_SETLKW == request.LockCmd {
				ram.parkedList.PushBack(queued)
				return
			}
			reply = FailedReply(unix.EAGAIN)
			return
		}
		ram.removeOwnerRange(inode, request.PID, start, end)
		inode.locks = append(inode.locks, ramLockStruct{owner: request.PID, lType: request.Lock.Type, start: start, end: end})
		reply = &ReplyStruct{Lock: request.Lock}
	default:
		reply = FailedReply(unix.EINVAL)
	}

	return
}
