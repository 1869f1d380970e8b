// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package nodepool

import (
	"github.com/LeeDigitalWorks/beegate/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	NodesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "beegate",
		Subsystem: "nodepool",
		Name:      "nodes",
		Help:      "Number of nodes known to the pool",
	})

	NodesHealthy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "beegate",
		Subsystem: "nodepool",
		Name:      "nodes_healthy",
		Help:      "Number of nodes that passed their last probe",
	})

	ProbeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "beegate",
		Subsystem: "nodepool",
		Name:      "probe_duration_seconds",
		Help:      "Duration of individual node health probes",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	ProbeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "nodepool",
		Name:      "probe_failures_total",
		Help:      "Total number of failed node health probes",
	})

	HeartbeatCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "beegate",
		Subsystem: "nodepool",
		Name:      "heartbeat_cycle_duration_seconds",
		Help:      "Duration of a full heartbeat cycle",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	})

	// SelectionFailuresTotal counts selections that found no healthy node
	SelectionFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "nodepool",
		Name:      "selection_failures_total",
		Help:      "Total number of selections with no healthy candidate",
	})
)

func init() {
	debug.Registry().MustRegister(
		NodesTotal,
		NodesHealthy,
		ProbeDuration,
		ProbeFailuresTotal,
		HeartbeatCycleDuration,
		SelectionFailuresTotal,
	)
}
