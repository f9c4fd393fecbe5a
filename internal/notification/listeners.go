// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package notification

import (
	"context"
	"slices"
	"sync"

	"github.com/open-edge-platform/app-orch-artifacts/internal/typeschema"
)

// Filter selects the events a listener receives.
type Filter struct {
	// ProjectID limits events to artifacts owned by the project or public.
	// Empty means all projects.
	ProjectID string
	// TypeNames limits events to the artifact types. Empty means all types.
	TypeNames []string
}

func (f *Filter) matches(e *Event) bool {
	a := e.Artifact
	if f.ProjectID != "" && f.ProjectID != a.Owner && a.Visibility != typeschema.VisibilityPublic {
		return false
	}
	return len(f.TypeNames) == 0 || slices.Contains(f.TypeNames, a.TypeName)
}

// Listeners tracks the current in-process event listeners. A listener that
// does not keep up loses events rather than slowing the sender down.
type Listeners struct {
	lock      sync.RWMutex
	listeners map[chan *Event]*Filter
}

func NewListeners() *Listeners {
	return &Listeners{listeners: make(map[chan *Event]*Filter)}
}

// Add registers a listener with room for buffer pending events. The returned
// function removes the listener and closes its channel.
func (l *Listeners) Add(filter *Filter, buffer int) (<-chan *Event, func()) {
	ch := make(chan *Event, buffer)
	l.lock.Lock()
	defer l.lock.Unlock()
	l.listeners[ch] = filter
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.lock.Lock()
			defer l.lock.Unlock()
			delete(l.listeners, ch)
			close(ch)
		})
	}
}

func (l *Listeners) Count() int {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return len(l.listeners)
}

func (l *Listeners) Notify(_ context.Context, event *Event) error {
	l.lock.RLock()
	defer l.lock.RUnlock()
	for ch, filter := range l.listeners {
		if !filter.matches(event) {
			continue
		}
		select {
		case ch <- event:
		default:
			log.Warnf("Listener too slow, dropped %s event for artifact %s", event.Type, event.Artifact.ID)
		}
	}
	return nil
}
