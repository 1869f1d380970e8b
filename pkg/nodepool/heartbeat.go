// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package nodepool

import (
	"context"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/logger"
	"github.com/LeeDigitalWorks/beegate/pkg/utils"
)

// StartHeartbeat runs a probe cycle immediately and then every interval
// (jittered by 10%) until ctx is cancelled or StopHeartbeat is called.
// A zero interval uses the configured one. Calling it while a heartbeat is
// running is a no-op.
func (p *Pool) StartHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = p.cfg.HeartbeatInterval
	}

	p.hbMu.Lock()
	defer p.hbMu.Unlock()
	if p.hbCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.hbCancel = cancel
	p.hbDone = done

	go func() {
		defer close(done)

		ticker, stop := utils.JitteredTicker(interval, 0.1)
		defer stop()

		p.RunHeartbeatCycle(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker:
				p.RunHeartbeatCycle(ctx)
			}
		}
	}()

	logger.Info().Dur("interval", interval).Int("concurrency", p.cfg.ProbeConcurrency).
		Dur("probe_timeout", p.cfg.ProbeTimeout).Msg("nodepool: heartbeat started")
}

// StopHeartbeat stops the heartbeat and waits for the running cycle.
func (p *Pool) StopHeartbeat() {
	p.hbMu.Lock()
	cancel, done := p.hbCancel, p.hbDone
	p.hbCancel, p.hbDone = nil, nil
	p.hbMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// RunHeartbeatCycle probes every known node once, at most ProbeConcurrency
// at a time, each bounded by ProbeTimeout. Nodes are never removed here.
func (p *Pool) RunHeartbeatCycle(ctx context.Context) {
	start := time.Now()
	handles := p.snap.Load().handles

	sem := make(chan struct{}, p.cfg.ProbeConcurrency)
	var wg sync.WaitGroup
	for _, h := range handles {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			p.probe(ctx, h)
		}()
	}
	wg.Wait()

	p.updateGauges()
	HeartbeatCycleDuration.Observe(time.Since(start).Seconds())
}

func (p *Pool) probe(ctx context.Context, h *Handle) {
	pctx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := h.client.Health(pctx)
	ProbeDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		wasAlive := h.IsAlive()
		h.markDead(p.now(), err)
		ProbeFailuresTotal.Inc()
		ev := logger.Debug()
		if wasAlive {
			ev = logger.Warn()
		}
		ev.Err(err).Str("node_id", h.ID()).Str("endpoint", h.Record().Endpoint).Msg("nodepool: probe failed")
		return
	}

	batches, err := h.client.UsableBatchIDs(pctx)
	if err != nil {
		logger.Debug().Err(err).Str("node_id", h.ID()).Msg("nodepool: batch refresh failed, keeping previous")
		batches = nil
	} else if batches == nil {
		batches = []string{}
	}

	if !h.IsAlive() {
		logger.Info().Str("node_id", h.ID()).Str("endpoint", h.Record().Endpoint).Msg("nodepool: node is healthy")
	}
	h.markAlive(p.now(), batches)
}
