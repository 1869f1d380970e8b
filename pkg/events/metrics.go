// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"github.com/LeeDigitalWorks/beegate/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsPublishedTotal tracks lifecycle events by kind
	EventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total number of lifecycle events published",
	}, []string{"kind"})

	// HandlerErrorsTotal tracks handler failures by subscriber name
	HandlerErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "events",
		Name:      "handler_errors_total",
		Help:      "Total number of lifecycle event handler failures",
	}, []string{"handler"})

	RelayDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "events",
		Name:      "relay_dropped_total",
		Help:      "Total number of events dropped because a relay queue was full",
	}, []string{"relay"})

	RelayQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "beegate",
		Subsystem: "events",
		Name:      "relay_queue_depth",
		Help:      "Current number of events waiting in a relay queue",
	}, []string{"relay"})
)

func init() {
	debug.Registry().MustRegister(
		EventsPublishedTotal,
		HandlerErrorsTotal,
		RelayDroppedTotal,
		RelayQueueDepth,
	)
}
