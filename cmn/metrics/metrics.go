// Package metrics holds the process-wide prometheus collectors this
// module exposes, separate from cmn/nlog: counters/gauges for transport
// throughput and cache effectiveness, registered once at package init
// and incremented by xrdnet, stream and cache as they run.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "xrdcl",
		Subsystem: "xrdnet",
		Name:      "bytes_sent_total",
		Help:      "Bytes written to the wire across all sockets.",
	})
	BytesRecv = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "xrdcl",
		Subsystem: "xrdnet",
		Name:      "bytes_received_total",
		Help:      "Bytes read from the wire across all sockets.",
	})

	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "xrdcl",
		Subsystem: "stream",
		Name:      "reconnects_total",
		Help:      "Sub-stream reconnect attempts across all streams.",
	})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "xrdcl",
		Subsystem: "cache",
		Name:      "block_hits_total",
		Help:      "Cache block reads served from a fully-fetched local block.",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "xrdcl",
		Subsystem: "cache",
		Name:      "block_misses_total",
		Help:      "Cache block reads that had to wait on or trigger an upstream fetch.",
	})
	PurgeBytesReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "xrdcl",
		Subsystem: "cache",
		Name:      "purge_bytes_reclaimed_total",
		Help:      "Bytes removed from the local cache tree by purge sweeps.",
	})
)
