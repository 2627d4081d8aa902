// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics declares the Prometheus collectors exported by the
// lake engine. Collectors register with the default registry and are
// served over HTTP by Handler; cdl mount --metrics-listen exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdl_cache_requests_total",
		Help: "Cache lookups by result (hit, miss, shared).",
	}, []string{"result"})

	CacheFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cdl_cache_backend_fetches_total",
		Help: "Backend fetches issued on behalf of cache misses.",
	})

	CacheCorrupt = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cdl_cache_corrupt_fetches_total",
		Help: "Fetched objects that failed integrity verification.",
	})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cdl_cache_evictions_total",
		Help: "Objects evicted to stay within the cache capacity.",
	})

	CacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cdl_cache_bytes",
		Help: "Bytes currently retained by the cache.",
	})

	BackendRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdl_backend_retries_total",
		Help: "Retried backend operations after a transient failure.",
	}, []string{"operation"})

	CopyEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdl_copy_entries_total",
		Help: "Entries processed by copy operations, by outcome.",
	}, []string{"outcome"})

	ReadFilesDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cdl_read_files_duration_seconds",
		Help:    "Latency of read_files calls.",
		Buckets: prometheus.DefBuckets,
	})
)
