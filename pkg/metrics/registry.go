// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/elastic/elastic-agent-libs/logp"
)

// Registry owns every metric created for a service and flushes them all
// together, typically from the tick governor's 60s pulse. Writes coming
// from off-loop goroutines (e.g. a proactor worker) must go through Submit,
// which marshals them back onto the goroutine that calls Drain -- normally
// the same goroutine that owns the Pipeline whose metrics these are.
type Registry struct {
	log        *logp.Logger
	service    string
	expiration time.Duration

	mu      sync.Mutex
	metrics map[string]Metric

	submitted chan func()
}

// DefaultExpiration is used when a Registry is created without an explicit
// expiration, matching the `[asab:metrics] expiration` config default.
const DefaultExpiration = 60 * time.Second

// NewRegistry creates a Registry for service, evicting fields that go
// unwritten for expiration.
func NewRegistry(service string, expiration time.Duration, log *logp.Logger) *Registry {
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	if log == nil {
		log = logp.NewLogger("metrics")
	}
	return &Registry{
		log:        log.With("service", service),
		service:    service,
		expiration: expiration,
		metrics:    make(map[string]Metric),
		submitted:  make(chan func(), 1024),
	}
}

func (r *Registry) register(name string, staticTags map[string]string, m Metric) error {
	key := canonicalKey(name, staticTags)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.metrics[key]; exists {
		return fmt.Errorf("metrics: metric %q with these static tags is already registered", name)
	}
	r.metrics[key] = m
	return nil
}

// Gauge creates and registers a new Gauge.
func (r *Registry) Gauge(name string, staticTags map[string]string, init map[string]any) (*Gauge, error) {
	g := NewGauge(staticTags, r.expiration, init)
	if err := r.register(name, staticTags, g); err != nil {
		return nil, err
	}
	return g, nil
}

// Counter creates and registers a new Counter.
func (r *Registry) Counter(name string, staticTags map[string]string, init map[string]any, reset bool) (*Counter, error) {
	c := NewCounter(staticTags, r.expiration, init, reset)
	if err := r.register(name, staticTags, c); err != nil {
		return nil, err
	}
	return c, nil
}

// EPSCounter creates and registers a new EPSCounter.
func (r *Registry) EPSCounter(name string, staticTags map[string]string, init map[string]any, reset bool, now time.Time) (*EPSCounter, error) {
	e := NewEPSCounter(staticTags, r.expiration, init, reset, now)
	if err := r.register(name, staticTags, e); err != nil {
		return nil, err
	}
	return e, nil
}

// DutyCycle creates and registers a new DutyCycle metric.
func (r *Registry) DutyCycle(name string, now time.Time, init map[string]bool) (*DutyCycle, error) {
	d := NewDutyCycle(r.expiration, now, init)
	if err := r.register(name, nil, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Histogram creates and registers a new Histogram.
func (r *Registry) Histogram(name string, staticTags map[string]string, bounds []float64, reset bool) (*Histogram, error) {
	h, err := NewHistogram(bounds, reset)
	if err != nil {
		return nil, err
	}
	if err := r.register(name, staticTags, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Submit marshals fn to run on the next Drain call, for use by goroutines
// that do not own this Registry (e.g. a proactor worker pool).
func (r *Registry) Submit(fn func()) {
	r.submitted <- fn
}

// Drain runs every pending submission. It must only be called from the
// goroutine that owns the Registry.
func (r *Registry) Drain() {
	for {
		select {
		case fn := <-r.submitted:
			fn()
		default:
			return
		}
	}
}

// Flush drains pending submissions and then flushes every registered
// metric, evicting fields that have expired.
func (r *Registry) Flush(now time.Time) {
	r.Drain()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.metrics {
		m.Flush(now)
	}
}
