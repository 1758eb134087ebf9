// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

package app

import (
	"context"
	"time"

	"github.com/fluxpump/fluxpump/pkg/metrics"
	"github.com/fluxpump/fluxpump/pkg/pubsub"
)

// tickMultiples are the multiples of the base tick at which the governor
// also publishes an "Application.tick/N!" pulse.
var tickMultiples = []int{10, 60, 300, 600, 1800, 3600, 43200, 86400}

// tickGovernor is the single cooperative timer driving periodic pulses.
// Missed ticks are dropped, not batched: it is driven by a plain
// time.Ticker, so a stalled consumer loses ticks rather than bursting them.
type tickGovernor struct {
	bus     *pubsub.Bus
	ticks   *metrics.Counter
	period  time.Duration
	count   int
}

func newTickGovernor(bus *pubsub.Bus, reg *metrics.Registry, period time.Duration) *tickGovernor {
	if period <= 0 {
		period = time.Second
	}
	g := &tickGovernor{bus: bus, period: period}
	if reg != nil {
		if c, err := reg.Counter("Application.tick", nil, map[string]any{"count": 0.0}, false); err == nil {
			g.ticks = c
		}
	}
	return g
}

// run drives the governor until ctx is cancelled or stop is closed.
func (g *tickGovernor) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(g.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			g.tick()
		}
	}
}

func (g *tickGovernor) tick() {
	g.count++
	if g.ticks != nil {
		init := 0.0
		_ = g.ticks.Add(time.Now(), "count", 1, &init, nil)
	}
	g.bus.Publish("Application.tick!")
	for _, n := range tickMultiples {
		if g.count%n == 0 {
			g.bus.Publish(tickTopic(n))
		}
	}
}

func tickTopic(n int) string {
	switch n {
	case 10:
		return "Application.tick/10!"
	case 60:
		return "Application.tick/60!"
	case 300:
		return "Application.tick/300!"
	case 600:
		return "Application.tick/600!"
	case 1800:
		return "Application.tick/1800!"
	case 3600:
		return "Application.tick/3600!"
	case 43200:
		return "Application.tick/43200!"
	case 86400:
		return "Application.tick/86400!"
	default:
		return "Application.tick!"
	}
}
