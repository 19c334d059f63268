// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NVIDIA/xlclient/blunder"
	"github.com/NVIDIA/xlclient/xlator"
)

const statsNamespace = "xlclient"

type statsStruct struct {
	registry          *prometheus.Registry
	apiUsecs          *prometheus.HistogramVec // by "op"
	apiFailures       *prometheus.CounterVec   // by "op" & "errno"
	xlatorSubmits     *prometheus.CounterVec   // by "op"
	iattrCache        *prometheus.CounterVec   // by "kind" & "result"
	dcacheReads       *prometheus.CounterVec   // by "result"
	framesOutstanding prometheus.Gauge         //
	httpUsecs         *prometheus.HistogramVec // by "path"
}

func newStats() (stats *statsStruct) {
	stats = &statsStruct{
		registry: prometheus.NewRegistry(),
		apiUsecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: statsNamespace,
			Name:      "api_usecs",
			Help:      "Latency of client API calls in microseconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 12),
		}, []string{"op"}),
		apiFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: statsNamespace,
			Name:      "api_failures_total",
			Help:      "Client API calls that returned an error.",
		}, []string{"op", "errno"}),
		xlatorSubmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: statsNamespace,
			Name:      "xlator_submits_total",
			Help:      "Requests wound down to a translator graph.",
		}, []string{"op"}),
		iattrCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: statsNamespace,
			Name:      "iattr_cache_total",
			Help:      "Attribute cache validity checks.",
		}, []string{"kind", "result"}),
		dcacheReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: statsNamespace,
			Name:      "dcache_reads_total",
			Help:      "Directory entry cache reads.",
		}, []string{"result"}),
		framesOutstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: statsNamespace,
			Name:      "frames_outstanding",
			Help:      "Frames wound but not yet unwound across all mounts.",
		}),
		httpUsecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: statsNamespace,
			Name:      "http_usecs",
			Help:      "Latency of embedded HTTP server GETs in microseconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 12),
		}, []string{"path"}),
	}

	stats.registry.MustRegister(
		stats.apiUsecs,
		stats.apiFailures,
		stats.xlatorSubmits,
		stats.iattrCache,
		stats.dcacheReads,
		stats.framesOutstanding,
		stats.httpUsecs,
	)

	return
}

// The following are safe to call on a nil *statsStruct (i.e. before Start()
// or after Stop()).

func (stats *statsStruct) apiDone(op string, startTime time.Time, err error) {
	if nil == stats {
		return
	}
	stats.apiUsecs.WithLabelValues(op).Observe(float64(time.Since(startTime) / time.Microsecond))
	if nil != err {
		stats.apiFailures.WithLabelValues(op, blunder.Errno(err).Error()).Inc()
	}
}

func (stats *statsStruct) xlatorSubmit(op xlator.OpType) {
	if nil == stats {
		return
	}
	stats.xlatorSubmits.WithLabelValues(op.String()).Inc()
}

func (stats *statsStruct) frameCreated() {
	if nil == stats {
		return
	}
	stats.framesOutstanding.Inc()
}

func (stats *statsStruct) frameUnwound() {
	if nil == stats {
		return
	}
	stats.framesOutstanding.Dec()
}

func (stats *statsStruct) iattrCacheCheck(kind iattrKind, valid bool) {
	if nil == stats {
		return
	}
	if valid {
		stats.iattrCache.WithLabelValues(kind.String(), "hit").Inc()
	} else {
		stats.iattrCache.WithLabelValues(kind.String(), "miss").Inc()
	}
}

func (stats *statsStruct) dcacheRead(hit bool) {
	if nil == stats {
		return
	}
	if hit {
		stats.dcacheReads.WithLabelValues("hit").Inc()
	} else {
		stats.dcacheReads.WithLabelValues("miss").Inc()
	}
}

func (stats *statsStruct) httpDone(path string, startTime time.Time) {
	if nil == stats {
		return
	}
	stats.httpUsecs.WithLabelValues(path).Observe(float64(time.Since(startTime) / time.Microsecond))
}
