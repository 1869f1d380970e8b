// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"github.com/LeeDigitalWorks/beegate/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total number of cache hits",
	})

	MissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total number of cache misses",
	})

	EvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Total number of entries evicted for capacity",
	})

	ExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "cache",
		Name:      "expired_total",
		Help:      "Total number of expired entries removed by cleanup",
	})

	// BucketRefreshTotal tracks bucket usage loads from nodes
	BucketRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "cache",
		Name:      "bucket_refresh_total",
		Help:      "Total number of bucket usage loads by result",
	}, []string{"result"})

	BucketRefreshDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "beegate",
		Subsystem: "cache",
		Name:      "bucket_refresh_duration_seconds",
		Help:      "Duration of bucket usage loads from nodes",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	debug.Registry().MustRegister(
		HitsTotal,
		MissesTotal,
		EvictionsTotal,
		ExpiredTotal,
		BucketRefreshTotal,
		BucketRefreshDuration,
	)
}
