// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package xlator

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func submitAndWait(t *testing.T, translator Translator, request *RequestStruct) (reply *ReplyStruct) {
	replyChan := make(chan *ReplyStruct, 1)

	translator.Submit(request, func(reply *ReplyStruct) { replyChan <- reply })

	select {
	case reply = <-replyChan:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s request timed out", request.Op)
	}

	return
}

func testRAMStart(t *testing.T, rootIno uint64) (ram *RAMTranslatorStruct) {
	ram = NewRAMTranslator("brick", rootIno)
	require.NoError(t, ram.Init())
	return
}

func TestRAMNamespace(t *testing.T) {
	ram := testRAMStart(t, RootIno)
	defer func() { require.NoError(t, ram.Fini()) }()

	reply := submitAndWait(t, ram, &RequestStruct{Op: OpMkDir, ParentIno: RootIno, Name: "dir", Mode: 0755})
	require.Equal(t, int64(0), reply.OpRet, "mkdir failed: %v", reply.OpErrno)
	assert.True(t, reply.Stat.IsDir())
	dirIno := reply.Stat.Ino
	assert.NotEqual(t, RootIno, dirIno)
	assert.Equal(t, uint32(3), reply.PostParent.NLink)

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpMkDir, ParentIno: RootIno, Name: "dir", Mode: 0755})
	assert.Equal(t, unix.EEXIST, reply.OpErrno)

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpCreate, ParentIno: dirIno, Name: "file", Mode: 0644, Flags: unix.O_RDWR | unix.O_CREAT})
	require.Equal(t, int64(0), reply.OpRet)
	fileIno := reply.Stat.Ino
	fh := reply.FH

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpCreate, ParentIno: dirIno, Name: "file", Mode: 0644, Flags: unix.O_RDWR | unix.O_CREAT | unix.O_EXCL})
	assert.Equal(t, unix.EEXIST, reply.OpErrno)

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpWriteV, FH: fh, Offset: 3, Data: []byte("abc")})
	assert.Equal(t, int64(3), reply.OpRet)
	assert.Equal(t, uint64(6), reply.Stat.Size)

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpReadV, FH: fh, Offset: 0, Size: 100})
	assert.Equal(t, []byte{0, 0, 0, 'a', 'b', 'c'}, reply.Data)

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpLookup, ParentIno: dirIno, Name: "file"})
	require.Equal(t, int64(0), reply.OpRet)
	assert.Equal(t, fileIno, reply.Stat.Ino)

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpLookup, ParentIno: dirIno, Name: "file", Ino: fileIno + 100})
	assert.Equal(t, unix.ENOENT, reply.OpErrno)

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpLookup, ParentIno: dirIno, Name: "file", XAttrReq: map[string]uint64{ContentXAttrKey: 0}, ContentSize: 6})
	assert.Equal(t, []byte{0, 0, 0, 'a', 'b', 'c'}, reply.XAttrs[ContentXAttrKey])

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpLookup, ParentIno: dirIno, Name: "file", XAttrReq: map[string]uint64{ContentXAttrKey: 0}, ContentSize: 5})
	assert.Nil(t, reply.XAttrs)

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpRmDir, ParentIno: RootIno, Name: "dir"})
	assert.Equal(t, unix.ENOTEMPTY, reply.OpErrno)

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpRename, ParentIno: dirIno, Name: "file", NewParentIno: RootIno, NewName: "moved"})
	require.Equal(t, int64(0), reply.OpRet)

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpLink, Ino: fileIno, NewParentIno: dirIno, NewName: "hard"})
	require.Equal(t, int64(0), reply.OpRet)
	assert.Equal(t, uint32(2), reply.Stat.NLink)

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpUnlink, ParentIno: RootIno, Name: "moved"})
	require.Equal(t, int64(0), reply.OpRet)
	reply = submitAndWait(t, ram, &RequestStruct{Op: OpUnlink, ParentIno: dirIno, Name: "hard"})
	require.Equal(t, int64(0), reply.OpRet)

	// Still open... so still readable

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpFStat, FH: fh})
	require.Equal(t, int64(0), reply.OpRet)
	assert.Equal(t, uint32(0), reply.Stat.NLink)

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpRelease, FH: fh})
	require.Equal(t, int64(0), reply.OpRet)

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpStat, Ino: fileIno})
	assert.Equal(t, unix.ENOENT, reply.OpErrno)

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpRmDir, ParentIno: RootIno, Name: "dir"})
	require.Equal(t, int64(0), reply.OpRet)
	assert.Equal(t, uint32(2), reply.PostParent.NLink)
}

func TestRAMReadDirP(t *testing.T) {
	ram := testRAMStart(t, RootIno)
	defer func() { require.NoError(t, ram.Fini()) }()

	for _, name := range []string{"c", "a", "b"} {
		reply := submitAndWait(t, ram, &RequestStruct{Op: OpMkNod, ParentIno: RootIno, Name: name, Mode: unix.S_IFREG | 0644})
		require.Equal(t, int64(0), reply.OpRet)
	}

	reply := submitAndWait(t, ram, &RequestStruct{Op: OpSymLink, ParentIno: RootIno, Name: "link", Target: "a"})
	require.Equal(t, int64(0), reply.OpRet)
	linkIno := reply.Stat.Ino

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpReadLink, Ino: linkIno})
	assert.Equal(t, "a", string(reply.Data))

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpOpenDir, Ino: RootIno})
	require.Equal(t, int64(0), reply.OpRet)
	fh := reply.FH

	names := make([]string, 0)
	offset := int64(0)

	for {
		reply = submitAndWait(t, ram, &RequestStruct{Op: OpReadDirP, FH: fh, Offset: offset, Size: 32})
		require.True(t, reply.OpRet >= 0)
		if 0 == len(reply.Entries) {
			break
		}
		assert.Len(t, reply.Entries, 1)
		for _, entry := range reply.Entries {
			names = append(names, entry.Name)
			offset = entry.Off
		}
	}

	assert.Equal(t, ".,..,a,b,c,link", strings.Join(names, ","))

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpReadDirP, FH: fh, Offset: 0, Size: 4096})
	require.Len(t, reply.Entries, 6)
	assert.Equal(t, uint8(unix.DT_LNK), reply.Entries[5].Type)
	assert.Equal(t, int64(6), reply.Entries[5].Off)

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpReleaseDir, FH: fh})
	assert.Equal(t, int64(0), reply.OpRet)
}

func TestRAMRootIno(t *testing.T) {
	ram := testRAMStart(t, 42)
	defer func() { require.NoError(t, ram.Fini()) }()

	reply := submitAndWait(t, ram, &RequestStruct{Op: OpLookup, Ino: RootIno})
	require.Equal(t, int64(0), reply.OpRet)
	assert.Equal(t, uint64(42), reply.Stat.Ino)

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpMkDir, ParentIno: RootIno, Name: "d", Mode: 0755})
	require.Equal(t, int64(0), reply.OpRet)
	assert.Equal(t, uint64(43), reply.Stat.Ino)
}

func TestRAMFaultInjection(t *testing.T) {
	ram := testRAMStart(t, RootIno)
	defer func() { require.NoError(t, ram.Fini()) }()

	ram.SetFault(OpStat, unix.EIO, 2)

	reply := submitAndWait(t, ram, &RequestStruct{Op: OpStat, Ino: RootIno})
	assert.Equal(t, unix.EIO, reply.OpErrno)
	reply = submitAndWait(t, ram, &RequestStruct{Op: OpStat, Ino: RootIno})
	assert.Equal(t, unix.EIO, reply.OpErrno)
	reply = submitAndWait(t, ram, &RequestStruct{Op: OpStat, Ino: RootIno})
	assert.Equal(t, int64(0), reply.OpRet)

	assert.Equal(t, uint64(3), ram.OpCount(OpStat))
	ram.ResetOpCounts()
	assert.Equal(t, uint64(0), ram.OpCount(OpStat))
}

func TestRAMLocks(t *testing.T) {
	ram := testRAMStart(t, RootIno)
	defer func() { require.NoError(t, ram.Fini()) }()

	reply := submitAndWait(t, ram, &RequestStruct{Op: OpCreate, ParentIno: RootIno, Name: "locked", Mode: 0644, Flags: unix.O_RDWR | unix.O_CREAT})
	require.Equal(t, int64(0), reply.OpRet)
	fh := reply.FH

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpLk, FH: fh, PID: 1, LockCmd: unix.F_SETLK, Lock: FlockStruct{Type: unix.F_WRLCK, Start: 0, Len: 10}})
	require.Equal(t, int64(0), reply.OpRet)

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpLk, FH: fh, PID: 2, LockCmd: unix.F_GETLK, Lock: FlockStruct{Type: unix.F_RDLCK, Start: 5, Len: 1}})
	require.Equal(t, int64(0), reply.OpRet)
	assert.Equal(t, int16(unix.F_WRLCK), reply.Lock.Type)
	assert.Equal(t, int32(1), reply.Lock.PID)
	assert.Equal(t, int64(10), reply.Lock.Len)

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpLk, FH: fh, PID: 2, LockCmd: unix.F_SETLK, Lock: FlockStruct{Type: unix.F_WRLCK, Start: 5, Len: 1}})
	assert.Equal(t, unix.EAGAIN, reply.OpErrno)

	waitChan := make(chan *ReplyStruct, 1)
	ram.Submit(&RequestStruct{Op: OpLk, FH: fh, PID: 2, LockCmd: unix.F_SETLKW, Lock: FlockStruct{Type: unix.F_WRLCK, Start: 5, Len: 1}}, func(reply *ReplyStruct) { waitChan <- reply })

	select {
	case <-waitChan:
		t.Fatalf("F_SETLKW should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpLk, FH: fh, PID: 1, LockCmd: unix.F_SETLK, Lock: FlockStruct{Type: unix.F_UNLCK, Start: 0, Len: 0}})
	require.Equal(t, int64(0), reply.OpRet)

	select {
	case reply = <-waitChan:
		assert.Equal(t, int64(0), reply.OpRet)
	case <-time.After(5 * time.Second):
		t.Fatalf("F_SETLKW never granted")
	}

	reply = submitAndWait(t, ram, &RequestStruct{Op: OpLk, FH: fh, PID: 1, LockCmd: unix.F_GETLK, Lock: FlockStruct{Type: unix.F_WRLCK, Start: 0, Len: 0}})
	assert.Equal(t, int64(5), reply.Lock.Start)
	assert.Equal(t, int64(1), reply.Lock.Len)
}

func TestRAMNotRunning(t *testing.T) {
	ram := NewRAMTranslator("idle", RootIno)

	reply := submitAndWait(t, ram, &RequestStruct{Op: OpStat, Ino: RootIno})
	assert.Equal(t, unix.ENOTCONN, reply.OpErrno)
}
