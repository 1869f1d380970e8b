// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"github.com/LeeDigitalWorks/beegate/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "notify",
		Name:      "delivered_total",
		Help:      "Total number of notifications delivered",
	}, []string{"publisher", "topic"})

	// DeliveryErrorsTotal tracks failures by publisher ("marshal" for encoding)
	DeliveryErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "notify",
		Name:      "delivery_errors_total",
		Help:      "Total number of notification delivery errors",
	}, []string{"publisher"})

	DeliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "beegate",
		Subsystem: "notify",
		Name:      "delivery_duration_seconds",
		Help:      "Time spent delivering notifications",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"publisher"})
)

func init() {
	debug.Registry().MustRegister(
		DeliveredTotal,
		DeliveryErrorsTotal,
		DeliveryDuration,
	)
}
