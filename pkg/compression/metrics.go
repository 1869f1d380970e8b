// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"github.com/LeeDigitalWorks/beegate/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RatioHist tracks original_size / compressed_size of kept encodings
	RatioHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "beegate",
		Subsystem: "compression",
		Name:      "ratio",
		Help:      "Compression ratio (original_size / compressed_size)",
		Buckets:   []float64{1.0, 1.25, 1.5, 2.0, 3.0, 4.0, 5.0, 10.0},
	}, []string{"algorithm"})

	Duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "beegate",
		Subsystem: "compression",
		Name:      "duration_seconds",
		Help:      "Time spent compressing/decompressing chunk payloads",
		Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
	}, []string{"algorithm", "operation"}) // operation: compress, decompress

	BytesIn = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "compression",
		Name:      "bytes_in_total",
		Help:      "Total bytes before compression",
	}, []string{"algorithm"})

	BytesOut = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "compression",
		Name:      "bytes_out_total",
		Help:      "Total bytes after compression",
	}, []string{"algorithm"})

	// Skipped counts payloads stored raw because compression did not help
	Skipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beegate",
		Subsystem: "compression",
		Name:      "skipped_total",
		Help:      "Payloads stored uncompressed because compression saved nothing",
	}, []string{"algorithm"})
)

func init() {
	debug.Registry().MustRegister(RatioHist, Duration, BytesIn, BytesOut, Skipped)
}
