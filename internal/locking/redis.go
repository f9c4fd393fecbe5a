// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package locking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL          = time.Minute
	DefaultPollInterval = 50 * time.Millisecond
	DefaultKeyPrefix    = "artifacts:lock:"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker shares locks between service replicas through Redis. A lock is
// a key holding a random token with a TTL, so the lock of a crashed holder
// expires. The TTL is refreshed while the lock is held.
type RedisLocker struct {
	client       redis.UniversalClient
	prefix       string
	ttl          time.Duration
	pollInterval time.Duration
}

type RedisOption func(*RedisLocker)

func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		l.ttl = ttl
	}
}

func WithPollInterval(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		l.pollInterval = d
	}
}

func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) {
		l.prefix = prefix
	}
}

func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client:       client,
		prefix:       DefaultKeyPrefix,
		ttl:          DefaultTTL,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.ttl <= 0 {
		l.ttl = DefaultTTL
	}
	return l
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (Lock, error) {
	timeout = effective(timeout)
	token := uuid.NewString()
	name := l.prefix + key
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, errors.NewUnavailable(errors.WithResourceType(errors.LockType),
				errors.WithResourceName(key), errors.WithError(err))
		}
		if ok {
			return l.hold(name, token), nil
		}
		poll := time.NewTimer(l.pollInterval)
		select {
		case <-poll.C:
			continue
		case <-deadline.C:
		case <-ctx.Done():
		}
		poll.Stop()
		log.Debugf("Lock %s not acquired within %s", key, timeout)
		return nil, waitError(ctx, key, timeout)
	}
}

func (l *RedisLocker) hold(name string, token string) Lock {
	lock := &redisLock{locker: l, name: name, token: token, done: make(chan struct{})}
	go lock.refresh()
	return lock
}

type redisLock struct {
	locker *RedisLocker
	name   string
	token  string
	done   chan struct{}
	once   sync.Once
}

func (r *redisLock) refresh() {
	ticker := time.NewTicker(r.locker.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.locker.ttl/3)
			n, err := refreshScript.Run(ctx, r.locker.client, []string{r.name}, r.token, r.locker.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				log.Warnf("Failed to refresh lock %s: %v", r.name, err)
			} else if n == 0 {
				log.Warnf("Lock %s was lost", r.name)
				return
			}
		}
	}
}

func (r *redisLock) Release() {
	r.once.Do(func() {
		close(r.done)
		ctx, cancel := context.WithTimeout(context.Background(), r.locker.ttl)
		defer cancel()
		if err := releaseScript.Run(ctx, r.locker.client, []string{r.name}, r.token).Err(); err != nil {
			log.Warnf("Failed to release lock %s: %v", r.name, err)
		}
	})
}
