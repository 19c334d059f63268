// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"container/list"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/blunder"
	"github.com/NVIDIA/xlclient/itable"
	"github.com/NVIDIA/xlclient/xlator"
)

// InitParamsStruct describes the volume backing a VMP. Exactly one of
// SpecFile, SpecFP, or Graph must be supplied.
//
// A negative LookupTimeout or StatTimeout caches the corresponding
// attributes indefinitely; zero disables caching them.
//
type InitParamsStruct struct {
	SpecFile      string            // path of a volume spec
	SpecFP        io.Reader         // volume spec contents
	Graph         xlator.Translator // an already constructed (but not yet Init'd) graph
	VolumeName    string            // selects the top of the graph (default: last volume listed)
	LogFile       string            // default: /dev/stderr
	LogLevel      string            // DEBUG, WARNING (default), ERROR, CRITICAL, NONE, or TRACE
	LookupTimeout time.Duration
	StatTimeout   time.Duration
}

// clientStruct is the per-mount client context.
//
type clientStruct struct {
	nextUnique        uint64 // atomic
	framesOutstanding int64  // atomic; the call pool
	vmp               string
	graph             xlator.Translator
	itable            *itable.TableStruct
	logger            *logrus.Logger
	logFile           *os.File // == nil if logging to stderr or discarding
	lookupTimeout     time.Duration
	statTimeout       time.Duration
	fakeFSID          uint64
	pid               uint32
	uid               uint32
	gid               uint32
	nowFunc           func() time.Time // == nil means time.Now
	pollLock          sync.Mutex
	pollCond          *sync.Cond
	pollQueue         *list.List // of func()
	pollStopping      bool
	pollRunning       bool
	pollWG            sync.WaitGroup
}

func clientInit(params *InitParamsStruct, fakeFSID uint64) (client *clientStruct, err error) {
	var (
		graph   xlator.Translator
		logFile *os.File
		logger  *logrus.Logger
		sources int
	)

	if nil == params {
		err = blunder.NewError(unix.EINVAL, "missing init params")
		return
	}

	if "" != params.SpecFile {
		sources++
	}
	if nil != params.SpecFP {
		sources++
	}
	if nil != params.Graph {
		sources++
	}
	if 1 != sources {
		err = blunder.NewError(unix.EINVAL, "exactly one of SpecFile, SpecFP, or Graph must be supplied (got %d)", sources)
		return
	}

	logger, logFile, err = newClientLogger(params.LogFile, params.LogLevel)
	if nil != err {
		return
	}

	switch {
	case nil != params.Graph:
		graph = params.Graph
	case nil != params.SpecFP:
		graph, err = xlator.LoadGraph(params.SpecFP, params.VolumeName)
	default:
		graph, err = xlator.LoadGraphFile(params.SpecFile, params.VolumeName)
	}
	if nil != err {
		logger.Errorf("loading volume graph failed: %v", err)
		closeClientLogFile(logFile)
		return
	}

	client = &clientStruct{
		nextUnique:    1,
		graph:         graph,
		logger:        logger,
		logFile:       logFile,
		lookupTimeout: params.LookupTimeout,
		statTimeout:   params.StatTimeout,
		fakeFSID:      fakeFSID,
		pid:           uint32(os.Getpid()),
		uid:           uint32(os.Geteuid()),
		gid:           uint32(os.Getegid()),
	}

	client.itable = itable.New(globals.config.ITableHashSize, globals.config.ITableLRULimit, client.forgetInode)

	err = xlator.InitGraph(graph)
	if nil != err {
		logger.Errorf("graph init of volume \"%s\" failed: %v", graph.Name(), err)
		_ = xlator.FiniGraph(graph)
		closeClientLogFile(logFile)
		client = nil
		return
	}

	client.startPoll()

	err = client.lookupRoot()
	if nil != err {
		logger.Errorf("lookup of \"/\" on volume \"%s\" failed: %v", graph.Name(), err)
		_ = xlator.FiniGraph(graph)
		client.stopPoll()
		closeClientLogFile(logFile)
		client = nil
		return
	}

	return
}

func (client *clientStruct) lookupRoot() (err error) {
	loc := &locStruct{}

	err = client.locFill(loc, itable.RootIno, 0, "/")
	if nil == err {
		_, err = client.lookup(loc, nil, 0)
	}

	loc.wipe()

	return
}

// clientFini waits for every outstanding frame to unwind before tearing
// down the graph, the poll goroutine, and the log file.
//
func (client *clientStruct) clientFini() (err error) {
	client.waitForFramesUnwind()

	err = xlator.FiniGraph(client.graph)
	if nil != err {
		client.logger.Errorf("graph fini of volume \"%s\" failed: %v", client.graph.Name(), err)
	}

	client.stopPoll()

	closeClientLogFile(client.logFile)
	client.logFile = nil

	return
}

func closeClientLogFile(logFile *os.File) {
	if nil != logFile {
		_ = logFile.Close()
	}
}

func (client *clientStruct) forgetInode(inode *itable.InodeStruct) {
	_ = inode.DelCtx()
}

// logCriticalf logs at the CRITICAL threshold without exiting.
//
func (client *clientStruct) logCriticalf(format string, args ...interface{}) {
	client.logger.Log(logrus.FatalLevel, fmt.Sprintf(format, args...))
}
