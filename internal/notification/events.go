// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package notification carries artifact events to interested parties once a
// mutation has been committed. Delivery is best effort.
package notification

import (
	"context"
	"time"

	"github.com/open-edge-platform/app-orch-artifacts/internal/store"
	"github.com/open-edge-platform/orch-library/go/dazl"
)

var log = dazl.GetPackageLogger()

//go:generate mockgen -destination=notificationmock/mock_notifier.go -package=notificationmock . Notifier

type EventType string

const (
	CreatedEvent     EventType = "artifact.create"
	UpdatedEvent     EventType = "artifact.update"
	ActivatedEvent   EventType = "artifact.activate"
	DeactivatedEvent EventType = "artifact.deactivate"
	ReactivatedEvent EventType = "artifact.reactivate"
	PublishedEvent   EventType = "artifact.publish"
	UploadedEvent    EventType = "artifact.upload"
	DeletedEvent     EventType = "artifact.delete"
	BlobDeletedEvent EventType = "artifact.delete_blob"
	LocationEvent    EventType = "artifact.add_location"
)

// Summary describes the artifact an event is about.
type Summary struct {
	ID          string     `json:"id"`
	TypeName    string     `json:"type_name"`
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Owner       string     `json:"owner"`
	Visibility  string     `json:"visibility"`
	Status      string     `json:"status"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

type Event struct {
	Type     EventType `json:"type"`
	Time     time.Time `json:"time"`
	Artifact *Summary  `json:"artifact"`
	// Blob names the blob field, and key, of blob events.
	Blob string `json:"blob,omitempty"`
}

// NewSummary describes the artifact in its current state.
func NewSummary(a *store.Artifact) *Summary {
	return &Summary{
		ID:          a.ID,
		TypeName:    a.TypeName,
		Name:        a.Name,
		Version:     a.Version,
		Owner:       a.Owner,
		Visibility:  a.Visibility,
		Status:      a.Status,
		Description: a.Description,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
		ActivatedAt: a.ActivatedAt,
	}
}

// NewEvent creates an event about the artifact in its current state.
func NewEvent(eventType EventType, a *store.Artifact) *Event {
	return &Event{Type: eventType, Time: time.Now().UTC(), Artifact: NewSummary(a)}
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, event *Event) error
}

// Multi delivers events to every notifier, all of them being tried even when
// some fail.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event *Event) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Events is a queue of events sent together once the operation producing them
// has completed.
type Events struct {
	queue []*Event
}

func (e *Events) Append(event *Event) {
	e.queue = append(e.queue, event)
}

func (e *Events) Len() int {
	return len(e.queue)
}

// SendToAll delivers the queued events. Failures are logged and not
// returned.
func (e *Events) SendToAll(ctx context.Context, n Notifier) {
	for _, event := range e.queue {
		if err := n.Notify(ctx, event); err != nil {
			log.Warnf("Failed to deliver %s event for artifact %s: %v", event.Type, event.Artifact.ID, err)
		}
	}
	e.queue = nil
}

// Log writes events to the service log.
type Log struct{}

func (Log) Notify(_ context.Context, event *Event) error {
	log.Infof("Event %s: %s %s %s:%s (owner %s, status %s)", event.Type, event.Artifact.TypeName,
		event.Artifact.ID, event.Artifact.Name, event.Artifact.Version, event.Artifact.Owner, event.Artifact.Status)
	return nil
}
