// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package pin

import (
	"github.com/LeeDigitalWorks/beegate/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RunsTotal tracks reconciliation runs by outcome
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "pin",
		Name:      "runs_total",
		Help:      "Total number of pin reconciliation runs",
	}, []string{"result"}) // result: "succeeded", "pending", "failed", "skipped", "locked", "error"

	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "beegate",
		Subsystem: "pin",
		Name:      "run_duration_seconds",
		Help:      "Duration of completed pin reconciliation runs",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
	})

	ChunksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "pin",
		Name:      "chunks_total",
		Help:      "Chunks classified by completed reconciliation runs",
	}, []string{"class"}) // class: "pinned", "invalid", "missing"

	PinsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "pin",
		Name:      "created_total",
		Help:      "Total number of pins created",
	})
)

func init() {
	debug.Registry().MustRegister(
		RunsTotal,
		RunDuration,
		ChunksTotal,
		PinsCreatedTotal,
	)
}
