// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

// Package trigger implements the pluggable pulse producers that drive
// source cycles: periodic, one-shot and pubsub-bound triggers, each feeding
// a coalescing single-slot queue so a burst of pulses while a cycle is in
// progress collapses to one pending cycle rather than a backlog.
package trigger

import (
	"context"
	"time"

	"github.com/fluxpump/fluxpump/pkg/pubsub"
)

// Trigger fires pulses on the channel given to Run until the context given
// to Run is cancelled.
type Trigger interface {
	Name() string
	Run(ctx context.Context, pulses chan<- struct{})
}

// Coalescer turns a Trigger's pulses into a single-slot pending flag: a
// pulse arriving while a cycle is already pending is dropped rather than
// queued, matching "pulses received while a cycle is in progress are
// coalesced (at most one pending)".
type Coalescer struct {
	t      Trigger
	pulses chan struct{}
}

// NewCoalescer wires t's pulses through a depth-1 buffered channel, which
// is exactly the coalescing behavior: a second send while the buffer is
// full is simply dropped.
func NewCoalescer(t Trigger) *Coalescer {
	return &Coalescer{t: t, pulses: make(chan struct{}, 1)}
}

// Run starts the underlying trigger on its own goroutine and returns a
// channel of coalesced pulses for the caller (typically a Source) to
// range over.
func (c *Coalescer) Run(ctx context.Context) <-chan struct{} {
	raw := make(chan struct{})
	go c.t.Run(ctx, raw)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-raw:
				if !ok {
					return
				}
				select {
				case c.pulses <- struct{}{}:
				default:
				}
			}
		}
	}()

	return c.pulses
}

// Periodic fires every Period, aligned to the moment Run is called
// (matching "fires every T seconds aligned to start").
type Periodic struct {
	ID     string
	Period time.Duration
}

func (p *Periodic) Name() string { return p.ID }

func (p *Periodic) Run(ctx context.Context, pulses chan<- struct{}) {
	ticker := time.NewTicker(p.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case pulses <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// OneShot fires exactly one pulse after Delay, then stops.
type OneShot struct {
	ID    string
	Delay time.Duration
}

func (o *OneShot) Name() string { return o.ID }

func (o *OneShot) Run(ctx context.Context, pulses chan<- struct{}) {
	timer := time.NewTimer(o.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		select {
		case pulses <- struct{}{}:
		case <-ctx.Done():
		}
	}
}

// PubSub fires a pulse each time Topic is published on Bus.
type PubSub struct {
	ID    string
	Bus   *pubsub.Bus
	Topic string
}

func (s *PubSub) Name() string { return s.ID }

func (s *PubSub) Run(ctx context.Context, pulses chan<- struct{}) {
	sub := s.Bus.Subscribe(s.Topic, func(...any) {
		select {
		case pulses <- struct{}{}:
		case <-ctx.Done():
		}
	})
	<-ctx.Done()
	s.Bus.Unsubscribe(sub)
}
