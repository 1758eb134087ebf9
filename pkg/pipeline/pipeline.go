// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/elastic/elastic-agent-libs/logp"
	"github.com/urso/sderr"

	"github.com/fluxpump/fluxpump/pkg/metrics"
	"github.com/fluxpump/fluxpump/pkg/pubsub"
)

type stageEntry struct {
	index     int
	processor Processor
	generator Generator
	timing    *metrics.Histogram
}

func (s *stageEntry) name() string {
	if s.processor != nil {
		return s.processor.Name()
	}
	return s.generator.Name()
}

// Pipeline is the ordered composition of sources, processors/generators
// and a sink.
type Pipeline struct {
	ID  string
	log *logp.Logger
	bus *pubsub.Bus
	reg *metrics.Registry

	sources []Source
	stages  []*stageEntry
	built   bool

	errorHandler ErrorHandler

	mu             sync.Mutex
	throttleOwners map[string]struct{}
	errorState     *ErrorState
	isReady        bool
	readyCh        chan struct{}

	connMu      sync.Mutex
	connections map[string]any

	wg sync.WaitGroup

	eventCount      *metrics.Counter
	throughput      *metrics.EPSCounter
	processorTimeMs *metrics.Counter
}

// New constructs an empty, unbuilt Pipeline identified by id.
func New(id string, bus *pubsub.Bus, reg *metrics.Registry, log *logp.Logger) *Pipeline {
	if log == nil {
		log = logp.NewLogger("pipeline")
	}
	log = log.With("pipeline", id)

	p := &Pipeline{
		ID:             id,
		log:            log,
		bus:            bus,
		reg:            reg,
		throttleOwners: make(map[string]struct{}),
		readyCh:        make(chan struct{}),
		connections:    make(map[string]any),
		isReady:        true,
	}
	close(p.readyCh) // ready until the first throttle/error transition

	if reg != nil {
		now := time.Now()
		p.eventCount, _ = reg.Counter(id+".events", nil, map[string]any{"count": 0.0}, false)
		p.throughput, _ = reg.EPSCounter(id+".eps", nil, map[string]any{"count": 0.0}, true, now)
		p.processorTimeMs, _ = reg.Counter(id+".processor_time_ms", nil, map[string]any{"total": 0.0}, false)
	}
	return p
}

// SetErrorHandler installs the pluggable error classifier used by SetError.
func (p *Pipeline) SetErrorHandler(h ErrorHandler) {
	p.errorHandler = h
}

// Build declares the processor ordering. It must be called exactly once
// before Process/Inject are used. At least one source and one stage are
// required; a stage that self-identifies as a Sink may only appear last.
func (p *Pipeline) Build(sources []Source, stages ...Stage) error {
	if p.built {
		return fmt.Errorf("pipeline %q: Build called more than once", p.ID)
	}
	if len(sources) == 0 {
		return fmt.Errorf("pipeline %q: at least one source is required", p.ID)
	}
	if len(stages) == 0 {
		return fmt.Errorf("pipeline %q: at least one processor (sink) is required", p.ID)
	}

	for i, s := range stages {
		if sink, ok := s.(Sink); ok && sink.IsSink() && i != len(stages)-1 {
			return fmt.Errorf("pipeline %q: sink %q may only appear as the last stage (found at index %d of %d)", p.ID, s.Name(), i, len(stages)-1)
		}
	}

	entries := make([]*stageEntry, 0, len(stages))
	for i, s := range stages {
		entry := &stageEntry{index: i}
		switch v := s.(type) {
		case Generator:
			entry.generator = v
		case Processor:
			entry.processor = v
		default:
			return fmt.Errorf("pipeline %q: stage %q is neither a Processor nor a Generator", p.ID, s.Name())
		}
		if p.reg != nil {
			h, err := p.reg.Histogram(fmt.Sprintf("%s.stage.%d.%s", p.ID, i, entry.name()), nil, []float64{1, 5, 10, 50, 100, 500}, true)
			if err == nil {
				entry.timing = h
			}
		}
		entries = append(entries, entry)
	}

	p.sources = sources
	p.stages = entries
	p.built = true
	return nil
}

// RegisterConnection makes conn available to processors/sources within
// this pipeline under name, looked up later via `LocateConnection`.
func (p *Pipeline) RegisterConnection(name string, conn any) {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	p.connections[name] = conn
}

// LocateConnection looks up a connection previously registered with
// RegisterConnection.
func (p *Pipeline) LocateConnection(name string) (any, error) {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	conn, ok := p.connections[name]
	if !ok {
		return nil, fmt.Errorf("pipeline %q: no connection named %q", p.ID, name)
	}
	return conn, nil
}

// Ready returns a channel that is closed while the pipeline is able to
// accept more events (no throttle owners, no error state). Sources must
// await it between emissions.
func (p *Pipeline) Ready() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readyCh
}

// IsReady reports the current readiness synchronously.
func (p *Pipeline) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isReady
}

// Throttle adds or removes owner from the set of throttle owners. The
// pipeline is ready iff that set is empty and there is no error state.
// Transitions publish "<id>.ready!"/"<id>.not_ready!" on the bus.
func (p *Pipeline) Throttle(owner string, enable bool) {
	p.mu.Lock()
	if enable {
		p.throttleOwners[owner] = struct{}{}
	} else {
		delete(p.throttleOwners, owner)
	}
	p.recomputeReadyLocked()
	p.mu.Unlock()
}

// SetError installs an ErrorState, halting the pipeline, and publishes
// "<id>.error!". If an ErrorHandler is installed and classifies the error
// as soft, the ErrorState is cleared right after publishing and SetError
// returns true. Unhandled errors are always hard.
func (p *Pipeline) SetError(evc EventContext, event Event, err error) bool {
	p.mu.Lock()
	p.errorState = &ErrorState{Context: evc, Event: event, Err: err}
	p.recomputeReadyLocked()
	p.mu.Unlock()

	if p.bus != nil {
		p.bus.Publish(p.ID+".error!", evc, event, err)
	}
	if p.log != nil {
		p.log.Errorw("pipeline error", "event", event, "error", err)
	}

	soft := false
	if p.errorHandler != nil {
		soft = p.errorHandler(evc, event, err)
	}
	if soft {
		p.ClearError()
	}
	return soft
}

// ClearError manually clears the ErrorState, resuming the pipeline. It is
// the operator-facing counterpart of invariant §3.1.
func (p *Pipeline) ClearError() {
	p.mu.Lock()
	p.errorState = nil
	p.recomputeReadyLocked()
	p.mu.Unlock()
}

// ErrorState returns the current error triple, or nil if none is set.
func (p *Pipeline) ErrorState() *ErrorState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errorState
}

func (p *Pipeline) recomputeReadyLocked() {
	ready := len(p.throttleOwners) == 0 && p.errorState == nil
	if ready == p.isReady {
		return
	}
	p.isReady = ready
	if ready {
		close(p.readyCh)
		if p.bus != nil {
			p.bus.Publish(p.ID + ".ready!")
		}
	} else {
		p.readyCh = make(chan struct{})
		if p.bus != nil {
			p.bus.Publish(p.ID + ".not_ready!")
		}
	}
}

// Process injects event at depth 0 and runs it through the event flow
// algorithm. It returns once every processor (and, for a generator
// branch, the point where the generator takes over) has handled it.
func (p *Pipeline) Process(ctx context.Context, evc EventContext, event Event) error {
	if !p.built {
		return fmt.Errorf("pipeline %q: Process called before Build", p.ID)
	}
	if es := p.ErrorState(); es != nil {
		return sderr.New("pipeline %q: refusing to process while in error state", p.ID)
	}
	return p.runFrom(ctx, evc, event, 0)
}

// Inject re-enters the pipeline at depth, used by a Generator's
// continuation after asynchronous work completes. depth must exceed the
// generator's own index; see Injector.
func (p *Pipeline) Inject(ctx context.Context, evc EventContext, event Event, depth int) error {
	if depth < 0 || depth > len(p.stages) {
		return fmt.Errorf("pipeline %q: inject depth %d out of range [0,%d]", p.ID, depth, len(p.stages))
	}
	return p.runFrom(ctx, evc, event, depth)
}

// runFrom implements the event flow algorithm starting at stage index
// depth: generators take over the branch asynchronously; processors run
// in order until a drop, an error, or the end of the chain.
func (p *Pipeline) runFrom(ctx context.Context, evc EventContext, event Event, depth int) error {
	for i := depth; i < len(p.stages); i++ {
		stage := p.stages[i]

		if stage.generator != nil {
			p.startGenerator(ctx, stage, evc, event)
			return nil
		}

		start := time.Now()
		out, err := stage.processor.Process(evc, event)
		elapsed := time.Since(start)
		if stage.timing != nil {
			stage.timing.Set(float64(elapsed.Microseconds()) / 1000.0)
		}
		if p.processorTimeMs != nil {
			init := 0.0
			_ = p.processorTimeMs.Add(time.Now(), "total", float64(elapsed.Microseconds())/1000.0, &init, nil)
		}

		if err != nil {
			p.SetError(evc, event, sderr.Wrap(err, "processor %q failed", stage.name()))
			return err
		}

		if i == len(p.stages)-1 {
			p.recordDelivery()
			return nil
		}
		if IsDrop(out) {
			return nil
		}
		event = out
	}

	p.recordDelivery()
	return nil
}

// recordDelivery marks one event as having reached the end of the chain,
// whether that stage is a sink (which drops terminally) or a processor the
// caller injected past.
func (p *Pipeline) recordDelivery() {
	if p.eventCount != nil {
		init := 0.0
		_ = p.eventCount.Add(time.Now(), "count", 1, &init, nil)
	}
	if p.throughput != nil {
		init := 0.0
		_ = p.throughput.Add(time.Now(), "count", 1, &init, nil)
	}
}

// startGenerator invokes a generator's asynchronous continuation on a
// supervised goroutine. The generator owns when and how often it calls
// the Injector; the Injector enforces depth monotonicity (§4.1 invariant 4
// and the re-injection cycle risk design note in §9).
func (p *Pipeline) startGenerator(ctx context.Context, stage *stageEntry, evc EventContext, event Event) {
	genIndex := stage.index
	inject := func(innerEvc EventContext, innerEvent Event, depth int) error {
		if depth <= genIndex {
			return fmt.Errorf("pipeline %q: generator %q attempted to inject at depth %d, which is not deeper than its own index %d", p.ID, stage.name(), depth, genIndex)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return p.runFrom(ctx, innerEvc, innerEvent, depth)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		start := time.Now()
		err := stage.generator.Generate(ctx, inject, evc, event)
		if stage.timing != nil {
			stage.timing.Set(float64(time.Since(start).Microseconds()) / 1000.0)
		}
		if err != nil && ctx.Err() == nil {
			p.SetError(evc, event, sderr.Wrap(err, "generator %q failed", stage.name()))
		}
	}()
}

// Wait blocks until every in-flight generator continuation has returned.
// Intended for use during shutdown.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
