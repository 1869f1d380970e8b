// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package lock

import (
	"github.com/LeeDigitalWorks/beegate/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AcquireTotal tracks acquire outcomes
	AcquireTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "lock",
		Name:      "acquire_total",
		Help:      "Total number of lease acquire attempts by result",
	}, []string{"result"}) // result: "acquired", "conflict", "timeout", "cancelled", "error"

	AcquireWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "beegate",
		Subsystem: "lock",
		Name:      "acquire_wait_seconds",
		Help:      "Time spent waiting for a lease before acquiring it",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})

	HeldDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "beegate",
		Subsystem: "lock",
		Name:      "held_seconds",
		Help:      "Time a lease was held before release",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
	})

	LostTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "lock",
		Name:      "lost_total",
		Help:      "Total number of leases lost while held",
	})

	SweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "lock",
		Name:      "swept_total",
		Help:      "Total number of expired leases deleted by sweeps",
	})
)

func init() {
	debug.Registry().MustRegister(
		AcquireTotal,
		AcquireWaitDuration,
		HeldDuration,
		LostTotal,
		SweptTotal,
	)
}
