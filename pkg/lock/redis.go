// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package lock

import (
	"context"
	"errors"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/store"
	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/redis/go-redis/v9"
)

// RedisLeases is a LeaseStore backed by Redis keys with a TTL. Redis expires
// abandoned leases on its own, so SweepExpired has nothing to do.
type RedisLeases struct {
	client redis.UniversalClient
	prefix string
}

var _ store.LeaseStore = (*RedisLeases)(nil)

// NewRedisLeases stores leases under prefix+resourceID.
func NewRedisLeases(client redis.UniversalClient, prefix string) *RedisLeases {
	if prefix == "" {
		prefix = "beegate:lock:"
	}
	return &RedisLeases{client: client, prefix: prefix}
}

// renewScript extends the TTL only while ARGV[1] owns the key.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the key only while ARGV[1] owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

func ttl(expiresAt, now time.Time) time.Duration {
	d := expiresAt.Sub(now)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

func (r *RedisLeases) TryAcquire(ctx context.Context, resourceID, owner string, expiresAt, now time.Time) (bool, error) {
	return r.client.SetNX(ctx, r.prefix+resourceID, owner, ttl(expiresAt, now)).Result()
}

func (r *RedisLeases) Renew(ctx context.Context, resourceID, owner string, expiresAt, now time.Time) (bool, error) {
	n, err := renewScript.Run(ctx, r.client, []string{r.prefix + resourceID},
		owner, ttl(expiresAt, now).Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisLeases) Release(ctx context.Context, resourceID, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, r.client, []string{r.prefix + resourceID}, owner).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisLeases) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

func (r *RedisLeases) GetLease(ctx context.Context, resourceID string) (*types.ResourceLock, error) {
	key := r.prefix + resourceID
	pipe := r.client.Pipeline()
	get := pipe.Get(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	owner, err := get.Result()
	if errors.Is(err, redis.Nil) {
		return nil, types.NewNotFoundError("lease", resourceID)
	}
	if err != nil {
		return nil, err
	}
	return &types.ResourceLock{
		ResourceID: resourceID,
		Owner:      owner,
		ExpiresAt:  time.Now().Add(pttl.Val()),
	}, nil
}
