// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/blunder"
)

// logFormatterStruct renders entries as "[<RFC3339Nano>][<LEVEL>] <msg>"
// followed by any fields in key order.
//
type logFormatterStruct struct {
	fatalLevelName string
}

func (formatter *logFormatterStruct) Format(entry *logrus.Entry) (buf []byte, err error) {
	var (
		b         bytes.Buffer
		key       string
		keys      []string
		levelName string
	)

	switch entry.Level {
	case logrus.PanicLevel, logrus.FatalLevel:
		levelName = formatter.fatalLevelName
	case logrus.WarnLevel:
		levelName = "WARN"
	default:
		levelName = strings.ToUpper(entry.Level.String())
	}

	fmt.Fprintf(&b, "[%s][%s] %s", entry.Time.Format(time.RFC3339Nano), levelName, entry.Message)

	if 0 < len(entry.Data) {
		keys = make([]string, 0, len(entry.Data))
		for key = range entry.Data {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key = range keys {
			fmt.Fprintf(&b, " %s=%v", key, entry.Data[key])
		}
	}

	b.WriteByte('\n')

	buf = b.Bytes()

	return
}

// logOutputStruct is the io.Writer behind the global logger. It (re)opens
// config.LogFilePath on demand so that logSIGHUP() need only close it.
//
type logOutputStruct struct{}

func (logOutput *logOutputStruct) Write(p []byte) (n int, err error) {
	globals.logLock.Lock()

	if (nil == globals.logFile) && ("" != globals.config.LogFilePath) {
		globals.logFile, err = os.OpenFile(globals.config.LogFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
		if nil != err {
			globals.logFile = nil
		}
	}
	if nil != globals.logFile {
		_, _ = globals.logFile.Write(p)
	}

	globals.logLock.Unlock()

	if globals.config.LogToConsole || !globals.started {
		_, _ = os.Stderr.Write(p)
	}

	n = len(p)
	err = nil

	return
}

func newGlobalLogger() (logger *logrus.Logger) {
	logger = logrus.New()
	logger.SetOutput(&logOutputStruct{})
	logger.SetFormatter(&logFormatterStruct{fatalLevelName: "FATAL"})
	logger.SetLevel(logrus.InfoLevel)
	return
}

func configureGlobalLogger() {
	if globals.config.TraceEnabled {
		globals.logger.SetLevel(logrus.TraceLevel)
	} else {
		globals.logger.SetLevel(logrus.InfoLevel)
	}
}

func logFatal(err error) {
	globals.logger.Fatalf("%v", err)
}

func logFatalf(format string, args ...interface{}) {
	globals.logger.Fatalf(format, args...)
}

func logErrorf(format string, args ...interface{}) {
	globals.logger.Errorf(format, args...)
}

func logWarnf(format string, args ...interface{}) {
	globals.logger.Warnf(format, args...)
}

func logInfof(format string, args ...interface{}) {
	globals.logger.Infof(format, args...)
}

func logTracef(format string, args ...interface{}) {
	if globals.config.TraceEnabled {
		globals.logger.Tracef(format, args...)
	}
}

func logSIGHUP() {
	globals.logLock.Lock()
	if nil != globals.logFile {
		_ = globals.logFile.Close()
		globals.logFile = nil
	}
	globals.logLock.Unlock()
}

// newLogger returns a *log.Logger (as required by fission) that funnels
// into the global logger.
//
func newLogger() *log.Logger {
	return log.New(&globals, "", 0)
}

func (dummy *globalsStruct) Write(p []byte) (n int, err error) {
	globals.logger.WithField("source", "fission").Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// clientLogLevelStruct maps a mount's LogLevel onto a logrus threshold.
//
type clientLogLevelStruct struct {
	name    string
	level   logrus.Level
	discard bool
}

var clientLogLevels = []clientLogLevelStruct{
	{name: "DEBUG", level: logrus.DebugLevel},
	{name: "WARNING", level: logrus.WarnLevel},
	{name: "ERROR", level: logrus.ErrorLevel},
	{name: "CRITICAL", level: logrus.FatalLevel},
	{name: "NONE", level: logrus.PanicLevel, discard: true},
	{name: "TRACE", level: logrus.TraceLevel},
}

const (
	defaultClientLogFile  = "/dev/stderr"
	defaultClientLogLevel = "WARNING"
)

// parseClientLogLevel matches logLevel case-insensitively as a prefix of
// one of the supported names (so "warn" selects WARNING).
//
func parseClientLogLevel(logLevel string) (clientLogLevel clientLogLevelStruct, err error) {
	if "" == logLevel {
		logLevel = defaultClientLogLevel
	}

	for _, clientLogLevel = range clientLogLevels {
		if strings.HasPrefix(clientLogLevel.name, strings.ToUpper(logLevel)) {
			return
		}
	}

	err = blunder.NewError(unix.EINVAL, "unrecognized log level \"%s\"", logLevel)

	return
}

// newClientLogger opens logFilePath (defaulting to /dev/stderr) for a
// mount's logger. The returned file must be closed by the caller if not nil.
//
func newClientLogger(logFilePath string, logLevel string) (logger *logrus.Logger, logFile *os.File, err error) {
	var (
		clientLogLevel clientLogLevelStruct
	)

	clientLogLevel, err = parseClientLogLevel(logLevel)
	if nil != err {
		return
	}

	logger = logrus.New()
	logger.SetFormatter(&logFormatterStruct{fatalLevelName: "CRITICAL"})
	logger.SetLevel(clientLogLevel.level)

	if clientLogLevel.discard {
		logger.SetOutput(ioutil.Discard)
		return
	}

	if ("" == logFilePath) || (defaultClientLogFile == logFilePath) {
		logger.SetOutput(os.Stderr)
		return
	}

	logFile, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
	if nil != err {
		err = blunder.AddError(fmt.Errorf("failed to open log file \"%s\": %v", logFilePath, err), unix.EINVAL)
		logger = nil
		logFile = nil
		return
	}

	logger.SetOutput(logFile)

	return
}
