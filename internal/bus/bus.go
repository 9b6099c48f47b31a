// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

// Package bus is the in-process publish/subscribe hub that decouples the
// pipeline stages. It wraps Watermill's GoChannel Pub/Sub: no broker, no
// persistence, no replay. The bus is constructed explicitly and passed by
// reference; there is no package-level singleton.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/arcspark/arclight/internal/logging"
)

// Topics carried by the bus.
const (
	// TopicParsed carries AttackRecords from the parser stage.
	TopicParsed = "events.parsed"
	// TopicEnriched carries EnrichedEvents from the enrichment coordinator.
	TopicEnriched = "events.enriched"
	// TopicDeadLetter carries DeadLetterEntries for the sink.
	TopicDeadLetter = "events.deadletter"
)

// Handler consumes one decoded payload. A handler error is logged and does
// not affect delivery to other subscribers on the topic.
type Handler func(payload []byte) error

// Bus is an in-process pub/sub hub. Delivery to each subscriber is in
// publish order; subscribers are isolated from each other's failures.
type Bus struct {
	pubSub *gochannel.GoChannel

	mu   sync.Mutex
	subs []*Subscription
}

// New creates a Bus. Each subscriber gets a buffered output channel so a
// slow consumer does not stall publication to the rest.
func New() *Bus {
	return &Bus{
		pubSub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 1024,
		}, newWatermillLogger()),
	}
}

// Publish sends payload to all current subscribers of topic.
func (b *Bus) Publish(topic string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubSub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// PublishJSON marshals v and publishes it to topic.
func (b *Bus) PublishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal for %s: %w", topic, err)
	}
	return b.Publish(topic, payload)
}

// Subscribe attaches handler to topic and returns its subscription handle.
// The handler runs on a dedicated goroutine; panics are recovered and
// logged so one misbehaving subscriber cannot take down the pipeline.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler Handler) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)

	msgs, err := b.pubSub.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	sub := &Subscription{topic: topic, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		for msg := range msgs {
			dispatch(topic, handler, msg)
		}
	}()

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub, nil
}

// dispatch invokes handler for one message, containing panics and logging
// errors. The message is always acked: the bus is best-effort, a failed
// handler does not earn a redelivery.
func dispatch(topic string, handler Handler, msg *message.Message) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().
				Str("topic", topic).
				Interface("panic", r).
				Msg("subscriber panicked, continuing")
		}
		msg.Ack()
	}()

	if err := handler(msg.Payload); err != nil {
		logging.Warn().Err(err).Str("topic", topic).Msg("subscriber handler failed")
	}
}

// Close shuts down the bus and waits for subscriber goroutines to drain.
func (b *Bus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	err := b.pubSub.Close()
	for _, sub := range subs {
		sub.Close()
	}
	return err
}

// Subscription is a handle to one topic subscription.
type Subscription struct {
	topic  string
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Close detaches the subscriber and waits for its goroutine to exit.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
	<-s.done
}
