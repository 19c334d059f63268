// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package xlator defines the contract between the client core and the graph
// of translators that ultimately services each filesystem operation.
//
// A translator accepts a RequestStruct via Submit() and, at some later time
// and on an arbitrary goroutine, invokes the supplied CompletionFunc exactly
// once with a ReplyStruct. A negative ReplyStruct.OpRet indicates failure
// with the reason in ReplyStruct.OpErrno.
//
// Objects are addressed by inode number. Inode number 1 (RootIno) always
// refers to the root of the volume irrespective of what inode number the
// backing store uses for it.
//
package xlator

import (
	"io"
	"syscall"
	"time"
)

// RootIno addresses the root directory of a volume.
//
const RootIno = uint64(1)

// ContentXAttrKey, when present in RequestStruct.XAttrReq of an OpLookup,
// asks for up to RequestStruct.ContentSize bytes of a regular file's content
// to be returned in ReplyStruct.XAttrs[ContentXAttrKey].
//
const ContentXAttrKey = "glusterfs.content"

// OpType enumerates the operations a translator may be asked to perform.
//
type OpType uint32

const (
	OpLookup OpType = iota
	OpStat
	OpFStat
	OpOpen
	OpCreate
	OpFlush
	OpRelease
	OpOpenDir
	OpReadDirP
	OpReleaseDir
	OpReadV
	OpWriteV
	OpMkDir
	OpRmDir
	OpUnlink
	OpRename
	OpLink
	OpSymLink
	OpReadLink
	OpSetAttr
	OpFSetAttr
	OpTruncate
	OpFTruncate
	OpFSync
	OpStatFS
	OpMkNod
	OpGetXAttr
	OpSetXAttr
	OpFGetXAttr
	OpFSetXAttr
	OpLk
	OpMax
)

var opTypeNames = [OpMax]string{
	OpLookup:     "lookup",
	OpStat:       "stat",
	OpFStat:      "fstat",
	OpOpen:       "open",
	OpCreate:     "create",
	OpFlush:      "flush",
	OpRelease:    "release",
	OpOpenDir:    "opendir",
	OpReadDirP:   "readdirp",
	OpReleaseDir: "releasedir",
	OpReadV:      "readv",
	OpWriteV:     "writev",
	OpMkDir:      "mkdir",
	OpRmDir:      "rmdir",
	OpUnlink:     "unlink",
	OpRename:     "rename",
	OpLink:       "link",
	OpSymLink:    "symlink",
	OpReadLink:   "readlink",
	OpSetAttr:    "setattr",
	OpFSetAttr:   "fsetattr",
	OpTruncate:   "truncate",
	OpFTruncate:  "ftruncate",
	OpFSync:      "fsync",
	OpStatFS:     "statfs",
	OpMkNod:      "mknod",
	OpGetXAttr:   "getxattr",
	OpSetXAttr:   "setxattr",
	OpFGetXAttr:  "fgetxattr",
	OpFSetXAttr:  "fsetxattr",
	OpLk:         "lk",
}

func (op OpType) String() string {
	if op < OpMax {
		return opTypeNames[op]
	}
	return "unknown"
}

// SetAttr valid bits (RequestStruct.SetAttrValid).
//
const (
	SetAttrMode uint32 = 1 << iota
	SetAttrUID
	SetAttrGID
	SetAttrSize
	SetAttrATime
	SetAttrMTime
)

// StatStruct mirrors the attributes of a filesystem object.
//
type StatStruct struct {
	Dev     uint64
	Ino     uint64
	Mode    uint32
	NLink   uint32
	UID     uint32
	GID     uint32
	RDev    uint64
	Size    uint64
	BlkSize uint32
	Blocks  uint64
	ATime   time.Time
	MTime   time.Time
	CTime   time.Time
}

const (
	sIFMT  = uint32(0170000)
	sIFDIR = uint32(0040000)
	sIFREG = uint32(0100000)
	sIFLNK = uint32(0120000)
)

func (stat *StatStruct) IsDir() bool {
	return sIFDIR == (stat.Mode & sIFMT)
}

func (stat *StatStruct) IsReg() bool {
	return sIFREG == (stat.Mode & sIFMT)
}

func (stat *StatStruct) IsLnk() bool {
	return sIFLNK == (stat.Mode & sIFMT)
}

// DirEntryStruct is one entry returned by OpReadDirP. Off is the cookie to
// pass as RequestStruct.Offset to resume reading after this entry.
//
type DirEntryStruct struct {
	Ino  uint64
	Off  int64
	Type uint8 // DT_*
	Name string
	Stat StatStruct
}

// StatFSStruct mirrors statvfs(3) results.
//
type StatFSStruct struct {
	BSize   uint64
	FRSize  uint64
	Blocks  uint64
	BFree   uint64
	BAvail  uint64
	Files   uint64
	FFree   uint64
	FAvail  uint64
	FSID    uint64
	Flag    uint64
	NameMax uint64
}

// FlockStruct mirrors struct flock.
//
type FlockStruct struct {
	Type   int16 // F_RDLCK, F_WRLCK, or F_UNLCK
	Whence int16
	Start  int64
	Len    int64 // 0 means "to EOF"
	PID    int32
}

// RequestStruct describes a single operation. Only those fields relevant
// to Op are consulted.
//
type RequestStruct struct {
	Op     OpType
	Unique uint64
	PID    uint32
	UID    uint32
	GID    uint32

	Ino       uint64 // target object (0 if unknown, as for a fresh lookup)
	ParentIno uint64 // parent of target (for name-based ops)
	Name      string // basename under ParentIno
	Path      string // full virtual path (informational)

	NewParentIno uint64 // OpRename & OpLink destination
	NewName      string //

	FH     uint64 // handle returned by OpOpen/OpCreate/OpOpenDir
	Flags  uint32 // open(2) flags; xattr flags for OpSetXAttr
	Mode   uint32 // create/mkdir/mknod/setattr mode
	RDev   uint64 // mknod
	Offset int64  // readv/writev/readdirp offset; truncate length
	Size   uint64 // readv/readdirp requested size
	Data   []byte // writev payload; setxattr value
	Target string // symlink target

	SetAttrValid uint32     // SetAttr* bits
	Attr         StatStruct // setattr values

	XAttrName   string            // getxattr/setxattr name
	XAttrReq    map[string]uint64 // lookup: extra keys requested (e.g. ContentXAttrKey)
	ContentSize uint64            // lookup: max content bytes wanted

	LockCmd int // F_GETLK, F_SETLK, or F_SETLKW
	Lock    FlockStruct
}

// ReplyStruct carries the outcome of a RequestStruct.
//
type ReplyStruct struct {
	OpRet   int64 // < 0 indicates failure; bytes transferred for readv/writev
	OpErrno syscall.Errno

	Stat       StatStruct // post-op attributes of the target
	PostParent StatStruct // post-op attributes of the parent (if any)

	Data    []byte // readv payload; getxattr value; readlink target
	FH      uint64 // handle for OpOpen/OpCreate/OpOpenDir
	Entries []DirEntryStruct
	StatFS  StatFSStruct
	Lock    FlockStruct
	XAttrs  map[string][]byte
}

// CompletionFunc receives the reply to a submitted request.
//
type CompletionFunc func(reply *ReplyStruct)

// Translator is a node in a volume graph.
//
type Translator interface {
	Name() string
	Type() string
	Children() []Translator
	Init() (err error)
	Fini() (err error)
	Submit(request *RequestStruct, completion CompletionFunc)
}

// FailedReply returns a ReplyStruct indicating failure with errno.
//
func FailedReply(errno syscall.Errno) (reply *ReplyStruct) {
	reply = &ReplyStruct{
		OpRet:   -1,
		OpErrno: errno,
	}
	return
}

// TranslatorFactory constructs a translator of a registered type.
//
type TranslatorFactory func(name string, options map[string]string, children []Translator) (translator Translator, err error)

// RegisterType makes a translator type available to LoadGraph().
//
func RegisterType(typeName string, factory TranslatorFactory) {
	registerType(typeName, factory)
}

// LoadGraph parses a volume spec from specReader, instantiates every volume
// listed, and returns the translator named volumeName (or, if empty, the
// last volume listed).
//
func LoadGraph(specReader io.Reader, volumeName string) (top Translator, err error) {
	top, err = loadGraph(specReader, volumeName)
	return
}

// LoadGraphFile is LoadGraph() reading from the named file.
//
func LoadGraphFile(specFile string, volumeName string) (top Translator, err error) {
	top, err = loadGraphFile(specFile, volumeName)
	return
}
