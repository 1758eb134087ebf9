// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

// Package alert implements the alert bus: each provider owns a queue of up
// to 4096 alerts and a single worker goroutine that is restarted if it
// panics, and runs until the provider is finalized. The queue is
// not unbounded: an alert triggered while it is full is dropped and a
// warning is logged. Ported from original_source/bspump/asab/alert.py.
package alert

import (
	"context"
	"sync"

	"github.com/elastic/elastic-agent-libs/logp"
	"github.com/google/uuid"
)

// Alert mirrors the original's dataclass: a single reported condition.
type Alert struct {
	Source   string
	Class    string
	ID       string
	Title    string
	Detail   string
	Data     map[string]any
	Err      error
}

// NewAlert assigns a generated ID.
func NewAlert(source, class, title string) Alert {
	return Alert{Source: source, Class: class, ID: uuid.NewString(), Title: title, Data: map[string]any{}}
}

// Provider is the minimal interface every alert destination implements:
// Trigger must be a non-blocking enqueue.
type Provider interface {
	Name() string
	Initialize(ctx context.Context) error
	Finalize() error
	Trigger(a Alert)
}

// AsyncProvider implements the unbounded-queue/single-worker pattern
// common to every concrete provider, matching AlertAsyncProviderABC. A
// concrete provider embeds it and supplies Deliver.
type AsyncProvider struct {
	ProviderName string
	Deliver      func(ctx context.Context, a Alert) error
	Log          *logp.Logger

	mu     sync.Mutex
	queue  chan Alert
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAsyncProvider creates an AsyncProvider. deliver performs one alert's
// outbound call; an error from it is logged and the worker moves on to the
// next alert. Initialize starts the worker, which is restarted if it panics.
func NewAsyncProvider(name string, deliver func(ctx context.Context, a Alert) error, log *logp.Logger) *AsyncProvider {
	if log == nil {
		log = logp.NewLogger("alert")
	}
	return &AsyncProvider{
		ProviderName: name,
		Deliver:      deliver,
		Log:          log.With("provider", name),
		queue:        make(chan Alert, 4096),
	}
}

func (p *AsyncProvider) Name() string { return p.ProviderName }

// Initialize starts the worker goroutine.
func (p *AsyncProvider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}
	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.supervise(workerCtx)
	return nil
}

// Finalize cancels the worker and waits for it to exit.
func (p *AsyncProvider) Finalize() error {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Trigger enqueues a without blocking, matching Queue.put_nowait. The queue
// holds 4096 alerts; when it is full, a is dropped and a warning is logged.
// No queue-depth metric is exposed.
func (p *AsyncProvider) Trigger(a Alert) {
	select {
	case p.queue <- a:
	default:
		p.Log.Warnw("alert queue full, dropping alert", "alert_id", a.ID)
	}
}

// supervise runs worker in a loop, restarting it after a panic as well as
// after a clean return; it stops only once ctx is cancelled.
func (p *AsyncProvider) supervise(ctx context.Context) {
	defer close(p.done)
	for {
		if ctx.Err() != nil {
			return
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.Log.Errorw("alert worker panicked", "panic", r)
				}
			}()
			p.worker(ctx)
		}()
		if ctx.Err() != nil {
			return
		}
		p.Log.Warnw("alert worker exited, restarting")
	}
}

func (p *AsyncProvider) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-p.queue:
			if err := p.Deliver(ctx, a); err != nil {
				p.Log.Warnw("failed to deliver alert", "alert_id", a.ID, "error", err)
			}
		}
	}
}

// Service fans a single Trigger call out to every configured Provider,
// matching AlertService.
type Service struct {
	Providers []Provider
}

// NewService creates a Service over the given providers.
func NewService(providers ...Provider) *Service {
	return &Service{Providers: providers}
}

// Initialize starts every provider concurrently.
func (s *Service) Initialize(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(s.Providers))
	for _, p := range s.Providers {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Initialize(ctx); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Finalize stops every provider concurrently.
func (s *Service) Finalize() error {
	var wg sync.WaitGroup
	for _, p := range s.Providers {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Finalize()
		}()
	}
	wg.Wait()
	return nil
}

// Trigger fans a out to every provider.
func (s *Service) Trigger(a Alert) {
	for _, p := range s.Providers {
		p.Trigger(a)
	}
}
