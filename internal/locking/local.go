// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package locking

import (
	"context"
	"sync"
	"time"
)

// LocalLocker is an in-process Locker. Waiters on a key are served strictly
// in arrival order: a released lock is handed to the oldest waiter.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	waiters []chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[string]*entry{}}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (Lock, error) {
	timeout = effective(timeout)
	l.mu.Lock()
	e, held := l.locks[key]
	if !held {
		l.locks[key] = &entry{}
		l.mu.Unlock()
		return l.handle(key), nil
	}
	granted := make(chan struct{}, 1)
	e.waiters = append(e.waiters, granted)
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-granted:
		return l.handle(key), nil
	case <-timer.C:
	case <-ctx.Done():
	}

	l.mu.Lock()
	select {
	case <-granted:
		// handed over while giving up; pass it on
		l.mu.Unlock()
		l.release(key)
	default:
		e.remove(granted)
		l.mu.Unlock()
	}
	log.Debugf("Lock %s not acquired within %s", key, timeout)
	return nil, waitError(ctx, key, timeout)
}

func (e *entry) remove(ch chan struct{}) {
	for i, w := range e.waiters {
		if w == ch {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			return
		}
	}
}

func (l *LocalLocker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		return
	}
	if len(e.waiters) == 0 {
		delete(l.locks, key)
		return
	}
	next := e.waiters[0]
	e.waiters = e.waiters[1:]
	next <- struct{}{}
}

// Held reports whether the key is currently locked.
func (l *LocalLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.locks[key]
	return ok
}

func (l *LocalLocker) handle(key string) Lock {
	return &localLock{release: func() { l.release(key) }}
}

type localLock struct {
	once    sync.Once
	release func()
}

func (l *localLock) Release() {
	l.once.Do(l.release)
}
