// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

// Package pubsub implements the process-local publish/subscribe bus used to
// broadcast lifecycle and readiness signals between the application host,
// the pipeline runtime and anything else that cares to listen.
package pubsub

import (
	"sync"

	"github.com/elastic/elastic-agent-libs/logp"
)

// Handler is invoked, in subscription order, for every Publish call on the
// topic it is subscribed to: inline when registered with Subscribe, on its
// own goroutine when registered with SubscribeAsync.
type Handler func(args ...any)

// Bus is a named-topic broadcaster. Subscription is by exact topic string;
// wildcards are not supported. Synchronous subscribers are called inline on
// the publishing goroutine; asynchronous subscribers are dispatched on their
// own goroutine and are not awaited by Publish.
type Bus struct {
	log *logp.Logger

	mu   sync.Mutex
	subs map[string][]*subscription
	seq  uint64
}

type subscription struct {
	id     uint64
	async  bool
	handle Handler
	// removed is set under Bus.mu when Unsubscribe runs during dispatch, so
	// an in-flight Publish can skip it for the current publication.
	removed bool
}

// Subscription is an opaque handle returned by Subscribe, used to
// Unsubscribe later.
type Subscription struct {
	topic string
	id    uint64
}

// New creates an empty Bus.
func New(log *logp.Logger) *Bus {
	if log == nil {
		log = logp.NewLogger("pubsub")
	}
	return &Bus{log: log, subs: make(map[string][]*subscription)}
}

// Subscribe registers a synchronous handler on topic.
func (b *Bus) Subscribe(topic string, handler Handler) Subscription {
	return b.subscribe(topic, handler, false)
}

// SubscribeAsync registers a handler that runs on its own goroutine per
// publication; Publish does not wait for it to complete.
func (b *Bus) SubscribeAsync(topic string, handler Handler) Subscription {
	return b.subscribe(topic, handler, true)
}

func (b *Bus) subscribe(topic string, handler Handler, async bool) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	sub := &subscription{id: b.seq, async: async, handle: handler}
	b.subs[topic] = append(b.subs[topic], sub)
	return Subscription{topic: topic, id: sub.id}
}

// Unsubscribe removes a previously registered subscription. It is safe to
// call from within a handler invoked by Publish; the subscriber is simply
// skipped for the remainder of the current publication.
func (b *Bus) Unsubscribe(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[s.topic]
	for i, sub := range list {
		if sub.id == s.id {
			sub.removed = true
			b.subs[s.topic] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Publish dispatches args to every subscriber of topic, in subscription
// order. Synchronous subscribers run inline; asynchronous subscribers are
// started in their own goroutine and not awaited.
func (b *Bus) Publish(topic string, args ...any) {
	b.mu.Lock()
	// copy so concurrent Subscribe/Unsubscribe during dispatch can't race
	// the slice we're about to range over.
	list := make([]*subscription, len(b.subs[topic]))
	copy(list, b.subs[topic])
	b.mu.Unlock()

	for _, sub := range list {
		if sub.removed {
			continue
		}
		if sub.async {
			go b.invoke(topic, sub, args)
			continue
		}
		b.invoke(topic, sub, args)
	}
}

func (b *Bus) invoke(topic string, sub *subscription, args []any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorw("pubsub subscriber panicked", "topic", topic, "panic", r)
		}
	}()
	sub.handle(args...)
}
