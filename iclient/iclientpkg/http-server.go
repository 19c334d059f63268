// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"github.com/NVIDIA/xlclient/ihtml"
	"github.com/NVIDIA/xlclient/itable"
	"github.com/NVIDIA/xlclient/version"
)

const (
	startHTTPServerUpCheckDelay      = 100 * time.Millisecond
	startHTTPServerUpCheckMaxRetries = 10
)

type vmpInfoStruct struct {
	VMP           string
	VolumeName    string
	FakeFSID      uint64
	LookupTimeout string
	StatTimeout   string
	NumInodes     int
	NumLRUInodes  int
	FramesPending int64
}

type inodesInfoStruct struct {
	VMP    string
	Inodes []itable.InodeInfoStruct
}

func startHTTPServer() (err error) {
	var (
		ipAddrTCPPort                 string
		listener                      net.Listener
		startHTTPServerUpCheckRetries uint32
	)

	if 0 == globals.config.HTTPServerPort {
		return
	}

	ipAddrTCPPort = net.JoinHostPort(globals.config.HTTPServerIPAddr, strconv.Itoa(int(globals.config.HTTPServerPort)))

	listener, err = net.Listen("tcp", ipAddrTCPPort)
	if nil != err {
		err = fmt.Errorf("net.Listen(\"tcp\", \"%s\") failed: %v", ipAddrTCPPort, err)
		return
	}

	if 0 < globals.config.HTTPServerMaxConnections {
		listener = netutil.LimitListener(listener, globals.config.HTTPServerMaxConnections)
	}

	globals.httpServer = &http.Server{
		Addr:    ipAddrTCPPort,
		Handler: &globals,
	}

	globals.httpServerWG.Add(1)

	go func() {
		var (
			err error
		)

		err = globals.httpServer.Serve(listener)
		if http.ErrServerClosed != err {
			logFatalf("httpServer.Serve() exited unexpectedly: %v", err)
		}

		globals.httpServerWG.Done()
	}()

	for startHTTPServerUpCheckRetries = 0; startHTTPServerUpCheckRetries < startHTTPServerUpCheckMaxRetries; startHTTPServerUpCheckRetries++ {
		_, err = http.Get("http://" + ipAddrTCPPort + "/version")
		if nil == err {
			return
		}

		time.Sleep(startHTTPServerUpCheckDelay)
	}

	err = fmt.Errorf("startHTTPServerUpCheckMaxRetries (%v) exceeded", startHTTPServerUpCheckMaxRetries)
	return
}

func stopHTTPServer() (err error) {
	if nil == globals.httpServer {
		return
	}

	err = globals.httpServer.Shutdown(context.TODO())
	if nil == err {
		globals.httpServerWG.Wait()
	}

	globals.httpServer = nil

	return
}

func (dummy *globalsStruct) ServeHTTP(responseWriter http.ResponseWriter, request *http.Request) {
	var (
		err         error
		requestPath string
		startTime   time.Time = time.Now()
	)

	requestPath = strings.TrimRight(request.URL.Path, "/")

	defer func() {
		globals.stats.httpDone(requestPath, startTime)
	}()

	_, err = ioutil.ReadAll(request.Body)
	if nil == err {
		err = request.Body.Close()
		if nil != err {
			responseWriter.WriteHeader(http.StatusBadRequest)
			return
		}
	} else {
		_ = request.Body.Close()
		responseWriter.WriteHeader(http.StatusBadRequest)
		return
	}

	switch request.Method {
	case http.MethodGet:
		serveHTTPGet(responseWriter, request, requestPath)
	default:
		responseWriter.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func serveHTTPGet(responseWriter http.ResponseWriter, request *http.Request, requestPath string) {
	switch {
	case "" == requestPath:
		serveHTTPGetOfIndexDotHTML(responseWriter, request)
	case "/config" == requestPath:
		serveHTTPGetOfConfig(responseWriter, request)
	case "/index.html" == requestPath:
		serveHTTPGetOfIndexDotHTML(responseWriter, request)
	case "/inodes" == requestPath:
		serveHTTPGetOfInodes(responseWriter, request)
	case "/metrics" == requestPath:
		promhttp.HandlerFor(globals.stats.registry, promhttp.HandlerOpts{}).ServeHTTP(responseWriter, request)
	case "/version" == requestPath:
		serveHTTPGetOfVersion(responseWriter, request)
	case "/vmps" == requestPath:
		serveHTTPGetOfVMPs(responseWriter, request)
	default:
		if !ihtml.ServeHTTPGet(responseWriter, requestPath) {
			responseWriter.WriteHeader(http.StatusNotFound)
		}
	}
}

func serveHTTPGetOfIndexDotHTML(responseWriter http.ResponseWriter, request *http.Request) {
	indexDotHTML := fmt.Sprintf(indexDotHTMLTemplate, version.XLClientVersion)

	responseWriter.Header().Set("Content-Length", fmt.Sprintf("%d", len(indexDotHTML)))
	responseWriter.Header().Set("Content-Type", "text/html")
	responseWriter.WriteHeader(http.StatusOK)

	_, _ = responseWriter.Write([]byte(indexDotHTML))
}

func serveJSON(responseWriter http.ResponseWriter, v interface{}) {
	var (
		err       error
		jsonBytes []byte
	)

	jsonBytes, err = json.Marshal(v)
	if nil != err {
		logFatalf("json.Marshal(%T) failed: %v", v, err)
	}

	responseWriter.Header().Set("Content-Length", fmt.Sprintf("%d", len(jsonBytes)))
	responseWriter.Header().Set("Content-Type", "application/json")
	responseWriter.WriteHeader(http.StatusOK)

	_, err = responseWriter.Write(jsonBytes)
	if nil != err {
		logWarnf("responseWriter.Write(jsonBytes) failed: %v", err)
	}
}

func serveHTTPGetOfConfig(responseWriter http.ResponseWriter, request *http.Request) {
	serveJSON(responseWriter, globals.config)
}

func serveHTTPGetOfVMPs(responseWriter http.ResponseWriter, request *http.Request) {
	var (
		vmpInfoSlice []vmpInfoStruct
	)

	vmpInfoSlice = make([]vmpInfoStruct, 0)

	for _, entry := range vmpSnapshot() {
		vmpInfoSlice = append(vmpInfoSlice, vmpInfoStruct{
			VMP:           entry.vmp,
			VolumeName:    entry.client.graph.Name(),
			FakeFSID:      entry.client.fakeFSID,
			LookupTimeout: entry.client.lookupTimeout.String(),
			StatTimeout:   entry.client.statTimeout.String(),
			NumInodes:     entry.client.itable.Len(),
			NumLRUInodes:  entry.client.itable.LRULen(),
			FramesPending: entry.client.framesPendingCount(),
		})
	}

	serveJSON(responseWriter, vmpInfoSlice)
}

// serveHTTPGetOfInodes dumps the inode table of the client serving the
// "vmp" query parameter.
//
func serveHTTPGetOfInodes(responseWriter http.ResponseWriter, request *http.Request) {
	var (
		entry    *vmpEntryStruct
		registry = globals.vmpRegistry
		vmp      string
	)

	vmp = request.URL.Query().Get("vmp")
	if ("" == vmp) || (nil == registry) {
		responseWriter.WriteHeader(http.StatusBadRequest)
		return
	}

	entry = registry.searchEntry(vmpTerminate(vmp), true)
	if nil == entry {
		responseWriter.WriteHeader(http.StatusNotFound)
		return
	}

	serveJSON(responseWriter, &inodesInfoStruct{
		VMP:    entry.vmp,
		Inodes: entry.client.itable.Dump(),
	})
}

func serveHTTPGetOfVersion(responseWriter http.ResponseWriter, request *http.Request) {
	var (
		err error
	)

	responseWriter.Header().Set("Content-Length", fmt.Sprintf("%d", len(version.XLClientVersion)))
	responseWriter.Header().Set("Content-Type", "text/plain")
	responseWriter.WriteHeader(http.StatusOK)

	_, err = responseWriter.Write([]byte(version.XLClientVersion))
	if nil != err {
		logWarnf("responseWriter.Write([]byte(version.XLClientVersion)) failed: %v", err)
	}
}
