// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package xlator

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// TraceTypeName is the volume spec type of the tracing pass-through
// translator.
//
const TraceTypeName = "debug/trace"

// TraceTranslatorStruct logs every request passing through it (and the
// corresponding reply) before handing it to its single child.
//
type TraceTranslatorStruct struct {
	name     string
	child    Translator
	logger   *logrus.Logger
	level    logrus.Level
	inFlight int64
}

func init() {
	RegisterType(TraceTypeName, newTraceTranslatorFromOptions)
}

func newTraceTranslatorFromOptions(name string, options map[string]string, children []Translator) (translator Translator, err error) {
	var (
		level logrus.Level
	)

	if 1 != len(children) {
		err = fmt.Errorf("%s volume \"%s\" must have exactly one subvolume", TraceTypeName, name)
		return
	}

	level = logrus.InfoLevel

	if levelAsString, ok := options["log-level"]; ok {
		level, err = logrus.ParseLevel(levelAsString)
		if nil != err {
			err = fmt.Errorf("%s volume \"%s\" has invalid log-level \"%s\": %v", TraceTypeName, name, levelAsString, err)
			return
		}
	}

	translator = NewTraceTranslator(name, children[0], logrus.StandardLogger(), level)

	return
}

// NewTraceTranslator returns a translator logging to logger at level.
//
func NewTraceTranslator(name string, child Translator, logger *logrus.Logger, level logrus.Level) (trace *TraceTranslatorStruct) {
	trace = &TraceTranslatorStruct{
		name:   name,
		child:  child,
		logger: logger,
		level:  level,
	}
	return
}

func (trace *TraceTranslatorStruct) Name() string {
	return trace.name
}

func (trace *TraceTranslatorStruct) Type() string {
	return TraceTypeName
}

func (trace *TraceTranslatorStruct) Children() []Translator {
	return []Translator{trace.child}
}

func (trace *TraceTranslatorStruct) Init() (err error) {
	trace.logger.WithField("volume", trace.name).Log(trace.level, "init")
	return
}

func (trace *TraceTranslatorStruct) Fini() (err error) {
	trace.logger.WithFields(logrus.Fields{
		"volume":   trace.name,
		"inFlight": atomic.LoadInt64(&trace.inFlight),
	}).Log(trace.level, "fini")
	return
}

func (trace *TraceTranslatorStruct) Submit(request *RequestStruct, completion CompletionFunc) {
	var (
		entry     *logrus.Entry
		startTime = time.Now()
	)

	entry = trace.logger.WithFields(logrus.Fields{
		"volume": trace.name,
		"op":     request.Op.String(),
		"unique": request.Unique,
		"ino":    request.Ino,
	})

	entry.WithFields(logrus.Fields{
		"parent": request.ParentIno,
		"name":   request.Name,
		"fh":     request.FH,
		"offset": request.Offset,
		"size":   request.Size,
	}).Log(trace.level, "==>")

	atomic.AddInt64(&trace.inFlight, 1)

	trace.child.Submit(request, func(reply *ReplyStruct) {
		atomic.AddInt64(&trace.inFlight, -1)

		entry.WithFields(logrus.Fields{
			"opRet":   reply.OpRet,
			"opErrno": reply.OpErrno.Error(),
			"elapsed": time.Since(startTime),
		}).Log(trace.level, "<==")

		completion(reply)
	})
}
