// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"fmt"
	"io/ioutil"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/blunder"
	"github.com/NVIDIA/xlclient/xlator"
)

const (
	testIPAddr               = "127.0.0.1" // Don't use IPv6... the code doesn't properly "join" this with :port #s
	testClientHTTPServerPort = 15347
	testVMP                  = "/mnt/x"
	testVolume               = "brick"
)

type testSetupOptionsStruct struct {
	rootIno        uint64
	lookupTimeout  time.Duration
	statTimeout    time.Duration
	httpEnabled    bool
	itableLRULimit uint64 // == 0 means the default
}

type testGlobalsStruct struct {
	tempDir        string
	config         *ConfigStruct
	ram            *xlator.RAMTranslatorStruct
	client         *clientStruct
	fissionErrChan chan error
	httpServerURL  string
}

var testGlobals *testGlobalsStruct

// testSetup starts the client with a single RAM backed volume mounted at
// testVMP caching attributes for one second.
//
func testSetup(t *testing.T) {
	testSetupWithOptions(t, &testSetupOptionsStruct{
		rootIno:       xlator.RootIno,
		lookupTimeout: time.Second,
		statTimeout:   time.Second,
	})
}

func testSetupWithOptions(t *testing.T, options *testSetupOptionsStruct) {
	var (
		err     error
		tempDir string
	)

	tempDir, err = ioutil.TempDir("", "iclientpkg_test")
	if nil != err {
		t.Fatalf("ioutil.TempDir(\"\", \"iclientpkg_test\") failed: %v", err)
	}

	testGlobals = &testGlobalsStruct{
		tempDir:        tempDir,
		config:         DefaultConfig(),
		fissionErrChan: make(chan error, 1),
	}

	testGlobals.config.LogToConsole = false
	testGlobals.config.LogFilePath = tempDir + "/iclient.log"

	if 0 != options.itableLRULimit {
		testGlobals.config.ITableLRULimit = options.itableLRULimit
	}

	if options.httpEnabled {
		testGlobals.config.HTTPServerIPAddr = testIPAddr
		testGlobals.config.HTTPServerPort = testClientHTTPServerPort
		testGlobals.httpServerURL = fmt.Sprintf("http://%s:%d", testIPAddr, testClientHTTPServerPort)
	}

	err = Start(testGlobals.config, testGlobals.fissionErrChan)
	if nil != err {
		t.Fatalf("Start() failed: %v", err)
	}

	testGlobals.ram = xlator.NewRAMTranslator(testVolume, options.rootIno)

	err = Mount(testVMP, &InitParamsStruct{
		Graph:         testGlobals.ram,
		LogLevel:      "NONE",
		LookupTimeout: options.lookupTimeout,
		StatTimeout:   options.statTimeout,
	})
	if nil != err {
		t.Fatalf("Mount(\"%s\",) failed: %v", testVMP, err)
	}

	testGlobals.client = globals.vmpRegistry.searchEntry(vmpTerminate(testVMP), true).client
}

func testTeardown(t *testing.T) {
	var (
		err error
	)

	err = Stop()
	if nil != err {
		t.Fatalf("Stop() failed: %v", err)
	}

	err = os.RemoveAll(testGlobals.tempDir)
	if nil != err {
		t.Fatalf("os.RemoveAll(testGlobals.tempDir) failed: %v", err)
	}

	testGlobals = nil
}

func testPath(path string) string {
	return testVMP + path
}

// testCreateFile creates (or replaces) path with content.
//
func testCreateFile(t *testing.T, path string, content []byte) {
	fd, err := Creat(testPath(path), 0644)
	require.NoError(t, err)

	if 0 < len(content) {
		n, err := Write(fd, content)
		require.NoError(t, err)
		require.Equal(t, len(content), n)
	}

	require.NoError(t, Close(fd))
}

func testRequireErrno(t *testing.T, err error, errno unix.Errno) {
	require.Error(t, err)
	require.True(t, blunder.Is(err, errno), "expected %v, got %v", errno, err)
}

// testHookTranslatorStruct wraps a RAM translator, counting Init() calls and
// optionally holding back (or doubling) the completions of submitted
// requests.
//
type testHookTranslatorStruct struct {
	xlator.Translator
	initDelay      time.Duration
	initCount      uint64
	holding        uint32 // == 1 if completions of holdOp wait on holdChan
	holdOp         xlator.OpType
	holdChan       chan struct{}
	doubleComplete uint32 // == 1 if every completion is delivered twice
}

func newTestHookTranslator(name string) (hook *testHookTranslatorStruct) {
	hook = &testHookTranslatorStruct{
		Translator: xlator.NewRAMTranslator(name, xlator.RootIno),
	}
	return
}

func (hook *testHookTranslatorStruct) Init() (err error) {
	atomic.AddUint64(&hook.initCount, 1)
	time.Sleep(hook.initDelay)
	err = hook.Translator.Init()
	return
}

func (hook *testHookTranslatorStruct) Submit(request *xlator.RequestStruct, completion xlator.CompletionFunc) {
	switch {
	case (1 == atomic.LoadUint32(&hook.holding)) && (hook.holdOp == request.Op):
		holdChan := hook.holdChan
		hook.Translator.Submit(request, func(reply *xlator.ReplyStruct) {
			go func() {
				<-holdChan
				completion(reply)
			}()
		})
	case 1 == atomic.LoadUint32(&hook.doubleComplete):
		hook.Translator.Submit(request, func(reply *xlator.ReplyStruct) {
			completion(reply)
			completion(reply)
		})
	default:
		hook.Translator.Submit(request, completion)
	}
}

// hold makes completions of op wait until release() is called.
//
func (hook *testHookTranslatorStruct) hold(op xlator.OpType) {
	hook.holdOp = op
	hook.holdChan = make(chan struct{})
	atomic.StoreUint32(&hook.holding, 1)
}

func (hook *testHookTranslatorStruct) release() {
	atomic.StoreUint32(&hook.holding, 0)
	close(hook.holdChan)
}
