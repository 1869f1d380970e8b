// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"

	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedDeliversInOrder(t *testing.T) {
	t.Parallel()

	f := NewFeed()
	var seen []string
	f.Subscribe("a", func(_ context.Context, ev NodeEvent) error {
		seen = append(seen, "a:"+string(ev.Kind))
		return nil
	})
	f.Subscribe("b", func(_ context.Context, ev NodeEvent) error {
		seen = append(seen, "b:"+string(ev.Kind))
		return nil
	})

	require.NoError(t, f.Publish(context.Background(), NodeEvent{Kind: NodeCreated, Node: types.NodeRecord{ID: "n1"}}))
	assert.Equal(t, []string{"a:node.created", "b:node.created"}, seen)
}

func TestFeedHandlerErrorDoesNotStopDelivery(t *testing.T) {
	t.Parallel()

	f := NewFeed()
	boom := errors.New("boom")
	delivered := false
	f.Subscribe("failing", func(context.Context, NodeEvent) error { return boom })
	f.Subscribe("ok", func(context.Context, NodeEvent) error {
		delivered = true
		return nil
	})

	err := f.Publish(context.Background(), NodeEvent{Kind: NodeDeleted})
	assert.ErrorIs(t, err, boom)
	assert.True(t, delivered)
}

func TestFeedResubscribeReplaces(t *testing.T) {
	t.Parallel()

	f := NewFeed()
	calls := 0
	f.Subscribe("h", func(context.Context, NodeEvent) error { calls += 10; return nil })
	f.Subscribe("h", func(context.Context, NodeEvent) error { calls++; return nil })
	require.NoError(t, f.Publish(context.Background(), NodeEvent{Kind: NodeUpdated}))
	assert.Equal(t, 1, calls)

	f.Unsubscribe("h")
	require.NoError(t, f.Publish(context.Background(), NodeEvent{Kind: NodeUpdated}))
	assert.Equal(t, 1, calls)
}

func TestRelayDeliversAsync(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())

		var got []string
		r := NewRelay("test", 4, func(_ context.Context, ev NodeEvent) error {
			got = append(got, ev.Node.ID)
			return nil
		})
		r.Start(ctx)

		f := NewFeed()
		f.Subscribe("relay", r.Handle)
		require.NoError(t, f.Publish(ctx, NodeEvent{Kind: NodeCreated, Node: types.NodeRecord{ID: "n1"}}))
		require.NoError(t, f.Publish(ctx, NodeEvent{Kind: NodeCreated, Node: types.NodeRecord{ID: "n2"}}))

		synctest.Wait()
		assert.Equal(t, []string{"n1", "n2"}, got)

		cancel()
		r.Wait()
	})
}

func TestRelayDropsWhenFull(t *testing.T) {
	t.Parallel()

	r := NewRelay("full", 1, func(context.Context, NodeEvent) error { return nil })
	// Not started: the second event cannot be queued.
	require.NoError(t, r.Handle(context.Background(), NodeEvent{Kind: NodeCreated}))
	require.NoError(t, r.Handle(context.Background(), NodeEvent{Kind: NodeCreated}))
	assert.Len(t, r.queue, 1)
}
