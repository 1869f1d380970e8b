// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJitterBounds(t *testing.T) {
	base := time.Second
	for i := 0; i < 1000; i++ {
		d := Jitter(base, 0.2)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)

		up := JitterUp(base, 0.2)
		assert.GreaterOrEqual(t, up, base)
		assert.LessOrEqual(t, up, 1200*time.Millisecond)
	}
	assert.Equal(t, base, Jitter(base, 0))
}

func TestJitteredTickerStops(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ticks, stop := JitteredTicker(100*time.Millisecond, 0.1)

		time.Sleep(200 * time.Millisecond)
		_, ok := <-ticks
		require.True(t, ok)

		stop()
		synctest.Wait()
		for range ticks {
		}
	})
}

func TestSha256Pool(t *testing.T) {
	h := Sha256PoolGetHasher()
	h.Write([]byte("abc"))
	first := h.Sum(nil)
	Sha256PoolPutHasher(h)

	h = Sha256PoolGetHasher()
	h.Write([]byte("abc"))
	assert.Equal(t, first, h.Sum(nil))
	Sha256PoolPutHasher(h)
	assert.Len(t, first, 32)
}

func TestBackoffCapped(t *testing.T) {
	assert.Equal(t, 25*time.Millisecond, Backoff(0, 25*time.Millisecond, time.Second, 0))
	assert.Equal(t, 100*time.Millisecond, Backoff(2, 25*time.Millisecond, time.Second, 0))
	assert.Equal(t, time.Second, Backoff(30, 25*time.Millisecond, time.Second, 0))
}
