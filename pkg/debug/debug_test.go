// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package debug

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestReadyEndpoint(t *testing.T) {
	SetNotReady()
	SetReadyCheck(nil)
	mux := GetMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	SetReady()
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	loaded := false
	SetReadyCheck(func() bool { return loaded })
	assert.False(t, IsReady())
	loaded = true
	assert.True(t, IsReady())
	SetReadyCheck(nil)
}

func TestGaugeValue(t *testing.T) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge"})
	assert.Zero(t, GaugeValue(g))
	g.Set(3)
	assert.Equal(t, 3.0, GaugeValue(g))
}
