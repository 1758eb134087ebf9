// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

// Package metrics implements the tag-indexed metric storage model: gauges,
// counters, EPS counters, duty-cycle trackers and histograms, each with
// optional reset-on-flush and per-field expiration.
package metrics

import (
	"fmt"
	"sync"
	"time"
)

// Metric is anything a Registry can flush and expire.
type Metric interface {
	Flush(now time.Time)
	expireFields(now time.Time)
}

// fieldset is embedded by every fieldset-based metric (Gauge, Counter,
// EPSCounter). DutyCycle and Histogram manage their own state and do not
// embed it.
type fieldset struct {
	mu         sync.Mutex
	staticTags map[string]string
	expiration time.Duration
	fields     []*Field
}

func newFieldset(staticTags map[string]string, expiration time.Duration) fieldset {
	return fieldset{staticTags: staticTags, expiration: expiration}
}

// locateField implements §4.7 locate_field: a nil tag set returns the sole
// field if there is exactly one; otherwise static tags are merged over the
// given tags and the fieldset is scanned for an exact match, creating a new
// field on a miss.
func (fs *fieldset) locateField(now time.Time, tags map[string]string) *Field {
	if tags == nil && len(fs.fields) == 1 {
		f := fs.fields[0]
		f.touch(now, fs.expiration)
		return f
	}

	merged := mergeTags(fs.staticTags, tags)
	for _, f := range fs.fields {
		if tagsEqual(f.Tags, merged) {
			f.touch(now, fs.expiration)
			return f
		}
	}

	f := newField(merged)
	f.touch(now, fs.expiration)
	fs.fields = append(fs.fields, f)
	return f
}

func (fs *fieldset) expireFields(now time.Time) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	kept := fs.fields[:0]
	for _, f := range fs.fields {
		if !f.expired(now) {
			kept = append(kept, f)
		}
	}
	fs.fields = kept
}

// Fields returns a snapshot of the current fieldset, for inspection/export.
func (fs *fieldset) Fields() []*Field {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	out := make([]*Field, len(fs.fields))
	copy(out, fs.fields)
	return out
}

// Gauge stores the last-set value per field; flush only evicts expired
// fields, it never transforms Values.
type Gauge struct {
	fieldset
}

// NewGauge creates a Gauge, optionally seeding a field with init values.
func NewGauge(staticTags map[string]string, expiration time.Duration, init map[string]any) *Gauge {
	g := &Gauge{fieldset: newFieldset(staticTags, expiration)}
	if init != nil {
		f := newField(copyTags(staticTags))
		for k, v := range init {
			f.Values[k] = v
		}
		g.fields = append(g.fields, f)
	}
	return g
}

// Set stores value under name in the field identified by tags.
func (g *Gauge) Set(now time.Time, name string, value any, tags map[string]string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f := g.locateField(now, tags)
	f.Values[name] = value
}

func (g *Gauge) Flush(now time.Time) { g.expireFields(now) }

// Counter accumulates into Actuals; Flush copies Actuals into Values and,
// in reset mode, zeroes Actuals back to Init (or empty).
type Counter struct {
	fieldset
	reset bool
	init  map[string]any
}

// NewCounter creates a Counter. When reset is true, Actuals are zeroed to
// Init on every flush.
func NewCounter(staticTags map[string]string, expiration time.Duration, init map[string]any, reset bool) *Counter {
	c := &Counter{fieldset: newFieldset(staticTags, expiration), reset: reset, init: init}
	if init != nil {
		f := newField(copyTags(staticTags))
		for k, v := range init {
			f.Values[k] = v
			f.Actuals[k] = v
		}
		c.fields = append(c.fields, f)
	}
	return c
}

// Add adds value to the named counter within the field identified by tags,
// using initValue to seed the counter if it has not been written before.
func (c *Counter) Add(now time.Time, name string, value float64, initValue *float64, tags map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.locateField(now, tags)
	cur, ok := f.Actuals[name].(float64)
	if !ok {
		if initValue == nil {
			return fmt.Errorf("metrics: counter field %q has no initial value and none was provided", name)
		}
		cur = *initValue
	}
	f.Actuals[name] = cur + value
	return nil
}

// Sub is the inverse of Add.
func (c *Counter) Sub(now time.Time, name string, value float64, initValue *float64, tags map[string]string) error {
	return c.Add(now, name, -value, initValue, tags)
}

func (c *Counter) Flush(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.fields {
		if c.reset {
			f.Values = f.Actuals
			f.Actuals = cloneInit(c.init)
		} else {
			f.Values = cloneAny(f.Actuals)
		}
	}
	c.expireFields(now)
}

// EPSCounter divides accumulated values by elapsed seconds on flush,
// approximating an events-per-second rate.
type EPSCounter struct {
	Counter
	lastTime time.Time
}

// NewEPSCounter creates an EPSCounter; reset defaults apply as in Counter.
func NewEPSCounter(staticTags map[string]string, expiration time.Duration, init map[string]any, reset bool, now time.Time) *EPSCounter {
	return &EPSCounter{
		Counter:  *NewCounter(staticTags, expiration, init, reset),
		lastTime: now,
	}
}

func (e *EPSCounter) Flush(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	dt := now.Sub(e.lastTime).Seconds()
	if dt < 1 {
		dt = 1
	}

	for _, f := range e.fields {
		rates := make(map[string]any, len(f.Actuals))
		for name, v := range f.Actuals {
			if fv, ok := v.(float64); ok {
				rates[name] = fv / dt
			}
		}
		f.Values = rates
		if e.reset {
			f.Actuals = cloneInit(e.init)
		}
	}

	if e.reset {
		e.lastTime = now
	}
	e.expireFields(now)
}

func copyTags(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneAny(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneInit(in map[string]any) map[string]any {
	if in == nil {
		return make(map[string]any)
	}
	return cloneAny(in)
}
