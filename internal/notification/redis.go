// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultChannel        = "artifacts:events"
	DefaultPublishTimeout = 5 * time.Second
)

// RedisPublisher publishes events as JSON on a Redis channel, making them
// visible to every service replica.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	timeout time.Duration
}

func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel, timeout: DefaultPublishTimeout}
}

func (p *RedisPublisher) Notify(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	return p.client.Publish(ctx, p.channel, data).Err()
}

// Relay forwards the events published on the channel to n until ctx is done.
func (p *RedisPublisher) Relay(ctx context.Context, n Notifier) error {
	pubsub := p.client.Subscribe(ctx, p.channel)
	defer func() {
		_ = pubsub.Close()
	}()
	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			event := &Event{}
			if err := json.Unmarshal([]byte(msg.Payload), event); err != nil || event.Artifact == nil {
				log.Warnf("Ignoring malformed event on %s: %v", p.channel, err)
				continue
			}
			if err := n.Notify(ctx, event); err != nil {
				log.Warnf("Failed to relay %s event: %v", event.Type, err)
			}
		}
	}
}
