// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxpump/fluxpump/pkg/metrics"
	"github.com/fluxpump/fluxpump/pkg/pubsub"
)

type nopSource struct{}

func (nopSource) Name() string                                    { return "nop" }
func (nopSource) Main(ctx context.Context, p *Pipeline) error      { <-ctx.Done(); return nil }

// identityProcessor passes the event through unchanged.
type identityProcessor struct{ name string }

func (i *identityProcessor) Name() string { return i.name }
func (i *identityProcessor) Process(_ EventContext, event Event) (Event, error) {
	return event, nil
}

// memorySink is a terminal Processor that records every event it sees.
type memorySink struct {
	mu     sync.Mutex
	events []Event
}

func (m *memorySink) Name() string  { return "memory-sink" }
func (m *memorySink) IsSink() bool  { return true }
func (m *memorySink) Process(_ EventContext, event Event) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return Drop, nil
}

func (m *memorySink) snapshot() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func TestEchoPipelineDeliversToSink(t *testing.T) {
	p := New("echo", pubsub.New(nil), nil, nil)
	sink := &memorySink{}
	require.NoError(t, p.Build([]Source{nopSource{}}, &identityProcessor{name: "id"}, sink))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Process(ctx, EventContext{}, i))
	}

	require.Equal(t, []Event{0, 1, 2}, sink.snapshot())
}

func TestBuildRejectsEmptySourcesOrStages(t *testing.T) {
	p := New("empty", pubsub.New(nil), nil, nil)
	require.Error(t, p.Build(nil, &identityProcessor{name: "id"}))

	p2 := New("empty2", pubsub.New(nil), nil, nil)
	require.Error(t, p2.Build([]Source{nopSource{}}))
}

func TestBuildRejectsSinkNotLast(t *testing.T) {
	p := New("badsink", pubsub.New(nil), nil, nil)
	sink := &memorySink{}
	err := p.Build([]Source{nopSource{}}, sink, &identityProcessor{name: "id"})
	require.Error(t, err)
}

// throttleProcessor throttles the pipeline once it has seen N events.
type throttleProcessor struct {
	p       *Pipeline
	n       int
	seen    int
	owner   string
}

func (t *throttleProcessor) Name() string { return "throttle-after-n" }
func (t *throttleProcessor) Process(_ EventContext, event Event) (Event, error) {
	t.seen++
	if t.seen >= t.n {
		t.p.Throttle(t.owner, true)
	}
	return event, nil
}

func TestBackpressureThrottleAfterFifthEvent(t *testing.T) {
	bus := pubsub.New(nil)
	p := New("throttled", bus, nil, nil)

	var notReadyCount, readyCount int
	bus.Subscribe("throttled.not_ready!", func(...any) { notReadyCount++ })
	bus.Subscribe("throttled.ready!", func(...any) { readyCount++ })

	sink := &memorySink{}
	tp := &throttleProcessor{p: p, n: 5, owner: "source"}
	require.NoError(t, p.Build([]Source{nopSource{}}, tp, sink))

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, p.Process(ctx, EventContext{}, i))
	}

	require.False(t, p.IsReady())
	require.Equal(t, 1, notReadyCount)
	require.Len(t, sink.snapshot(), 5)

	select {
	case <-p.Ready():
		t.Fatal("pipeline should not be ready while throttled")
	default:
	}

	p.Throttle("source", false)
	require.True(t, p.IsReady())
	require.Equal(t, 1, readyCount)

	select {
	case <-p.Ready():
	default:
		t.Fatal("pipeline should be ready after throttle release")
	}
}

// fanoutGenerator emits {event, event*2} for integer events, injecting both
// at depth+1.
type fanoutGenerator struct{ index int }

func (g *fanoutGenerator) Name() string { return "fanout" }
func (g *fanoutGenerator) Generate(ctx context.Context, inject Injector, evc EventContext, event Event) error {
	n := event.(int)
	if err := inject(evc, n, g.index+1); err != nil {
		return err
	}
	return inject(evc, n*2, g.index+1)
}

func TestGeneratorFanOut(t *testing.T) {
	p := New("fanout", pubsub.New(nil), nil, nil)
	sink := &memorySink{}
	gen := &fanoutGenerator{}
	require.NoError(t, p.Build([]Source{nopSource{}}, gen, sink))
	gen.index = 0 // matches the generator's position in the stage list

	ctx := context.Background()
	require.NoError(t, p.Process(ctx, EventContext{}, 3))

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 2
	}, time.Second, time.Millisecond)

	got := sink.snapshot()
	require.ElementsMatch(t, []Event{3, 6}, got)
}

func TestGeneratorRejectsShallowInjection(t *testing.T) {
	p := New("badgen", pubsub.New(nil), nil, nil)
	sink := &memorySink{}

	errs := make(chan error, 1)
	gen := genFunc{
		name: "bad",
		fn: func(ctx context.Context, inject Injector, evc EventContext, event Event) error {
			// stage index of this generator is 0; injecting at depth 0 is illegal.
			err := inject(evc, event, 0)
			errs <- err
			return nil
		},
	}
	require.NoError(t, p.Build([]Source{nopSource{}}, gen, sink))

	require.NoError(t, p.Process(context.Background(), EventContext{}, 1))

	select {
	case err := <-errs:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("generator did not report the expected depth violation")
	}
}

type genFunc struct {
	name string
	fn   func(ctx context.Context, inject Injector, evc EventContext, event Event) error
}

func (g genFunc) Name() string { return g.name }
func (g genFunc) Generate(ctx context.Context, inject Injector, evc EventContext, event Event) error {
	return g.fn(ctx, inject, evc, event)
}

// failingProcessor errors on a specific event value.
type failingProcessor struct{ failOn int }

func (f *failingProcessor) Name() string { return "fail-on-n" }
func (f *failingProcessor) Process(_ EventContext, event Event) (Event, error) {
	if event.(int) == f.failOn {
		return nil, fmt.Errorf("synthetic failure on event %d", f.failOn)
	}
	return event, nil
}

func TestErrorHaltsAfterEventThree(t *testing.T) {
	bus := pubsub.New(nil)
	p := New("erroring", bus, nil, nil)

	var errTopicFired bool
	bus.Subscribe("erroring.error!", func(...any) { errTopicFired = true })

	sink := &memorySink{}
	require.NoError(t, p.Build([]Source{nopSource{}}, &failingProcessor{failOn: 3}, sink))

	ctx := context.Background()
	require.NoError(t, p.Process(ctx, EventContext{}, 1))
	require.NoError(t, p.Process(ctx, EventContext{}, 2))
	require.Error(t, p.Process(ctx, EventContext{}, 3))

	require.True(t, errTopicFired)
	require.NotNil(t, p.ErrorState())

	// The pipeline now refuses further events until cleared.
	err := p.Process(ctx, EventContext{}, 4)
	require.Error(t, err)
	require.Equal(t, []Event{1, 2}, sink.snapshot())

	p.ClearError()
	require.Nil(t, p.ErrorState())
	require.NoError(t, p.Process(ctx, EventContext{}, 4))
	require.Equal(t, []Event{1, 2, 4}, sink.snapshot())
}

func TestSoftErrorHandlerAutoClears(t *testing.T) {
	p := New("soft", pubsub.New(nil), nil, nil)
	p.SetErrorHandler(func(evc EventContext, event Event, err error) bool { return true })

	sink := &memorySink{}
	require.NoError(t, p.Build([]Source{nopSource{}}, &failingProcessor{failOn: 1}, sink))

	_ = p.Process(context.Background(), EventContext{}, 1)
	require.Nil(t, p.ErrorState())
	require.True(t, p.IsReady())
}

func TestConnectionRegistrationAndLookup(t *testing.T) {
	p := New("conn", pubsub.New(nil), nil, nil)
	type dbHandle struct{ dsn string }
	p.RegisterConnection("primary-db", &dbHandle{dsn: "mysql://localhost/test"})

	conn, err := p.LocateConnection("primary-db")
	require.NoError(t, err)
	require.Equal(t, "mysql://localhost/test", conn.(*dbHandle).dsn)

	_, err = p.LocateConnection("missing")
	require.Error(t, err)
}

func TestEventCountMetricIncrementsOnDelivery(t *testing.T) {
	reg := metrics.NewRegistry("test", time.Minute, nil)
	p := New("metered", pubsub.New(nil), reg, nil)
	sink := &memorySink{}
	require.NoError(t, p.Build([]Source{nopSource{}}, &identityProcessor{name: "id"}, sink))

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Process(ctx, EventContext{}, i))
	}

	reg.Flush(time.Now())
	fields := p.eventCount.Fields()
	require.Len(t, fields, 1)
	require.Equal(t, 4.0, fields[0].Values["count"])
}
