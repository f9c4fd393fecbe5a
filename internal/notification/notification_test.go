// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/open-edge-platform/app-orch-artifacts/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func artifact(owner string, visibility string, typeName string) *store.Artifact {
	return &store.Artifact{ID: "id-" + owner, TypeName: typeName, Name: "a", Version: "1.0.0",
		Owner: owner, Visibility: visibility, Status: "drafted"}
}

func receive(t *testing.T, ch <-chan *Event) *Event {
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func TestListenersFilter(t *testing.T) {
	l := NewListeners()
	ctx := context.Background()
	all, cancelAll := l.Add(&Filter{}, 10)
	defer cancelAll()
	p1, cancelP1 := l.Add(&Filter{ProjectID: "p1", TypeNames: []string{"images"}}, 10)
	defer cancelP1()
	assert.Equal(t, 2, l.Count())

	require.NoError(t, l.Notify(ctx, NewEvent(CreatedEvent, artifact("p1", "private", "images"))))
	require.NoError(t, l.Notify(ctx, NewEvent(CreatedEvent, artifact("p2", "private", "images"))))
	require.NoError(t, l.Notify(ctx, NewEvent(CreatedEvent, artifact("p2", "public", "images"))))
	require.NoError(t, l.Notify(ctx, NewEvent(CreatedEvent, artifact("p1", "private", "charts"))))

	assert.Len(t, all, 4)
	assert.Len(t, p1, 2)
	assert.Equal(t, "p1", receive(t, p1).Artifact.Owner)
	assert.Equal(t, "public", receive(t, p1).Artifact.Visibility)
}

func TestListenersDropWhenFull(t *testing.T) {
	l := NewListeners()
	ch, cancel := l.Add(&Filter{}, 1)
	event := NewEvent(UpdatedEvent, artifact("p1", "private", "images"))
	require.NoError(t, l.Notify(context.Background(), event))
	require.NoError(t, l.Notify(context.Background(), event))
	assert.Len(t, ch, 1)

	cancel()
	cancel()
	assert.Equal(t, 0, l.Count())
	_, ok := <-ch
	assert.True(t, ok)
	_, ok = <-ch
	assert.False(t, ok)
}

type failing struct{ calls int }

func (f *failing) Notify(context.Context, *Event) error {
	f.calls++
	return errors.New("down")
}

func TestMultiAndEvents(t *testing.T) {
	l := NewListeners()
	ch, cancel := l.Add(&Filter{}, 10)
	defer cancel()
	f := &failing{}
	m := Multi{f, l, Log{}}

	err := m.Notify(context.Background(), NewEvent(DeletedEvent, artifact("p1", "private", "images")))
	assert.Error(t, err)
	assert.Len(t, ch, 1)

	var events Events
	events.Append(NewEvent(BlobDeletedEvent, artifact("p1", "private", "images")))
	events.Append(NewEvent(DeletedEvent, artifact("p1", "private", "images")))
	assert.Equal(t, 2, events.Len())
	events.SendToAll(context.Background(), m)
	assert.Equal(t, 0, events.Len())
	assert.Equal(t, 3, f.calls)
	assert.Len(t, ch, 3)
}

func TestRedisPublishAndRelay(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	p := NewRedisPublisher(client, "")

	l := NewListeners()
	ch, cancel := l.Add(&Filter{}, 10)
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- p.Relay(ctx, l)
	}()
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(DefaultChannel)[DefaultChannel] == 1
	}, 5*time.Second, 10*time.Millisecond)

	mr.Publish(DefaultChannel, "not json")
	event := NewEvent(ActivatedEvent, artifact("p1", "private", "images"))
	require.NoError(t, p.Notify(context.Background(), event))

	got := receive(t, ch)
	assert.Equal(t, ActivatedEvent, got.Type)
	assert.Equal(t, event.Artifact.ID, got.Artifact.ID)
	assert.Equal(t, "images", got.Artifact.TypeName)

	stop()
	assert.NoError(t, <-done)
}

func TestRedisPublishFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	p := NewRedisPublisher(client, "events")
	mr.Close()
	assert.Error(t, p.Notify(context.Background(), NewEvent(CreatedEvent, artifact("p1", "private", "images"))))
}
