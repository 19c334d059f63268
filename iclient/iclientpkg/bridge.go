// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/blunder"
	"github.com/NVIDIA/xlclient/xlator"
)

// frameStruct tracks one call from the moment it is wound down the graph
// until it is unwound back to its caller. A frame may be wound more than
// once (as a failed revalidation is), but is unwound exactly once.
//
type frameStruct struct {
	client       *clientStruct
	unique       uint64
	op           xlator.OpType
	startTime    time.Time
	doneChan     chan *xlator.ReplyStruct        // == nil if continuation != nil
	continuation func(reply *xlator.ReplyStruct) // run on the poll goroutine
}

// frameCbk is invoked on the poll goroutine with the reply to a wind.
//
type frameCbk func(frame *frameStruct, reply *xlator.ReplyStruct)

func (client *clientStruct) newFrame(op xlator.OpType) (frame *frameStruct) {
	frame = &frameStruct{
		client:    client,
		unique:    atomic.AddUint64(&client.nextUnique, 1) - 1,
		op:        op,
		startTime: time.Now(),
	}

	atomic.AddInt64(&client.framesOutstanding, 1)
	globals.stats.frameCreated()

	return
}

// wind submits request to the top of the graph. Whatever goroutine the
// translator completes on, cbk runs on the poll goroutine. A translator
// completing the same submission twice has its second reply dropped.
//
func (frame *frameStruct) wind(request *xlator.RequestStruct, cbk frameCbk) {
	var (
		completed uint32
	)

	request.Unique = frame.unique
	request.PID = frame.client.pid
	request.UID = frame.client.uid
	request.GID = frame.client.gid

	logTracef("==> %s(unique=%d ino=%d parent=%d name=\"%s\" fh=%d)", request.Op, request.Unique, request.Ino, request.ParentIno, request.Name, request.FH)

	globals.stats.xlatorSubmit(request.Op)

	frame.client.graph.Submit(request, func(reply *xlator.ReplyStruct) {
		if !atomic.CompareAndSwapUint32(&completed, 0, 1) {
			frame.client.logger.Errorf("duplicate %s completion for frame %d dropped", request.Op, frame.unique)
			return
		}

		frame.client.post(func() {
			cbk(frame, reply)
		})
	})
}

func (frame *frameStruct) unwind(reply *xlator.ReplyStruct) {
	logTracef("<== %s(unique=%d) opRet=%d opErrno=%v elapsed=%v", frame.op, frame.unique, reply.OpRet, reply.OpErrno, time.Since(frame.startTime))

	atomic.AddInt64(&frame.client.framesOutstanding, -1)
	globals.stats.frameUnwound()

	if nil != frame.continuation {
		frame.continuation(reply)
	} else {
		frame.doneChan <- reply
	}
}

func defaultFrameCbk(frame *frameStruct, reply *xlator.ReplyStruct) {
	frame.unwind(reply)
}

// windSync performs request and waits for its reply.
//
func (client *clientStruct) windSync(request *xlator.RequestStruct) (reply *xlator.ReplyStruct) {
	frame := client.newFrame(request.Op)
	frame.doneChan = make(chan *xlator.ReplyStruct, 1)

	frame.wind(request, defaultFrameCbk)

	reply = <-frame.doneChan

	return
}

// windAsync performs request and returns immediately. The continuation is
// later invoked on the poll goroutine with the reply.
//
func (client *clientStruct) windAsync(request *xlator.RequestStruct, continuation func(reply *xlator.ReplyStruct)) {
	frame := client.newFrame(request.Op)
	frame.continuation = continuation

	frame.wind(request, defaultFrameCbk)
}

// replyError converts a failed reply into an error carrying its errno.
//
func replyError(op xlator.OpType, reply *xlator.ReplyStruct) (err error) {
	errno := reply.OpErrno
	if 0 == errno {
		errno = unix.EIO
	}
	err = blunder.NewError(errno, "%s failed: %v", op, errno)
	return
}

func (client *clientStruct) startPoll() {
	client.pollQueue = list.New()
	client.pollCond = sync.NewCond(&client.pollLock)
	client.pollStopping = false
	client.pollRunning = true

	client.pollWG.Add(1)
	go client.poll()
}

// post queues fn for the poll goroutine. Should the poll goroutine already
// be gone, fn is run on a goroutine of its own.
//
func (client *clientStruct) post(fn func()) {
	client.pollLock.Lock()

	if !client.pollRunning {
		client.pollLock.Unlock()
		go fn()
		return
	}

	client.pollQueue.PushBack(fn)
	client.pollCond.Signal()

	client.pollLock.Unlock()
}

func (client *clientStruct) poll() {
	var (
		fn func()
	)

	defer client.pollWG.Done()

	for {
		client.pollLock.Lock()
		for (0 == client.pollQueue.Len()) && !client.pollStopping {
			client.pollCond.Wait()
		}
		if 0 == client.pollQueue.Len() {
			client.pollRunning = false
			client.pollLock.Unlock()
			return
		}
		fn = client.pollQueue.Remove(client.pollQueue.Front()).(func())
		client.pollLock.Unlock()

		fn()
	}
}

// stopPoll lets the poll goroutine drain its queue and then exit.
//
func (client *clientStruct) stopPoll() {
	client.pollLock.Lock()
	client.pollStopping = true
	client.pollCond.Signal()
	client.pollLock.Unlock()

	client.pollWG.Wait()
}

func (client *clientStruct) framesPendingCount() int64 {
	return atomic.LoadInt64(&client.framesOutstanding)
}

// waitForFramesUnwind blocks until every frame this client has wound has
// been unwound, checking every FramesUnwindPollInterval.
//
func (client *clientStruct) waitForFramesUnwind() {
	interval := globals.config.FramesUnwindPollInterval
	if interval <= 0 {
		interval = defaultFramesUnwindPollInterval
	}

	for 0 != atomic.LoadInt64(&client.framesOutstanding) {
		client.logger.Debugf("waiting for %d outstanding frames", atomic.LoadInt64(&client.framesOutstanding))
		time.Sleep(interval)
	}
}
