// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"github.com/LeeDigitalWorks/beegate/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// FetchTotal tracks reads by serving tier ("miss" when none had it)
	FetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "chunkstore",
		Name:      "fetch_total",
		Help:      "Total number of chunk reads by serving tier",
	}, []string{"tier"})

	SaveTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "chunkstore",
		Name:      "save_total",
		Help:      "Total number of chunk saves by result",
	}, []string{"result"}) // result: "created", "exists", "mismatch", "error"

	RemoteFetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "beegate",
		Subsystem: "chunkstore",
		Name:      "remote_fetch_duration_seconds",
		Help:      "Duration of chunk fetches from remote nodes",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
)

func init() {
	debug.Registry().MustRegister(
		FetchTotal,
		SaveTotal,
		RemoteFetchDuration,
	)
}
