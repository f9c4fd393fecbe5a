// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package locking provides the per-artifact locks that serialize mutating
// operations. Locks on different keys never block each other.
package locking

import (
	"context"
	"time"

	"github.com/open-edge-platform/app-orch-artifacts/internal/northbound/errors"
	"github.com/open-edge-platform/orch-library/go/dazl"
)

var log = dazl.GetPackageLogger()

// DefaultTimeout is used when Acquire is called without a timeout.
const DefaultTimeout = 30 * time.Second

// Lock is a held lock. Release may be called more than once.
type Lock interface {
	Release()
}

// Locker hands out exclusive locks by key.
type Locker interface {
	// Acquire waits up to timeout for the lock on key. It fails with a lock
	// timeout error when the wait runs out.
	Acquire(ctx context.Context, key string, timeout time.Duration) (Lock, error)
}

// WithLock runs fn while holding the lock on key.
func WithLock(ctx context.Context, l Locker, key string, timeout time.Duration, fn func() error) error {
	lock, err := l.Acquire(ctx, key, timeout)
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}

func lockTimeout(key string, timeout time.Duration) error {
	return errors.NewLockTimeout(errors.WithResourceType(errors.LockType), errors.WithResourceName(key),
		errors.WithMessage("not acquired within %s", timeout))
}

func effective(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultTimeout
	}
	return timeout
}

// waitError reports why a wait ended without the lock.
func waitError(ctx context.Context, key string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return errors.NewUnavailable(errors.WithResourceType(errors.LockType), errors.WithResourceName(key),
			errors.WithMessage("wait abandoned"), errors.WithError(err))
	}
	return lockTimeout(key, timeout)
}
