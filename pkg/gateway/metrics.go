// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"github.com/LeeDigitalWorks/beegate/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ProxyRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "gateway",
		Name:      "proxy_requests_total",
		Help:      "Forwarded requests by outcome",
	}, []string{"result"}) // result: "ok", "no_node", "upstream_error", "rejected"

	ProxyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "beegate",
		Subsystem: "gateway",
		Name:      "proxy_duration_seconds",
		Help:      "Time spent forwarding a request",
		Buckets:   prometheus.DefBuckets,
	})

	ScheduledTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "gateway",
		Name:      "scheduled_tasks_total",
		Help:      "Tasks queued by the gateway scheduler",
	}, []string{"type"})

	SchedulerErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "gateway",
		Name:      "scheduler_errors_total",
		Help:      "Failed scheduler job runs",
	}, []string{"job"})
)

func init() {
	debug.Registry().MustRegister(
		ProxyRequestsTotal,
		ProxyDuration,
		ScheduledTasksTotal,
		SchedulerErrorsTotal,
	)
}
