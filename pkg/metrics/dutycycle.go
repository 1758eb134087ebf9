// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

package metrics

import (
	"sync"
	"time"
)

type dutyState struct {
	on        bool
	since     time.Time
	offAccum  float64
	onAccum   float64
	expiresAt time.Time
}

// DutyCycle tracks, per name, the fraction of time spent "on" versus "off"
// between flushes. Unlike the fieldset-based metrics it keeps a flat
// per-name map rather than a tag-indexed fieldset, matching the original
// implementation it is ported from.
type DutyCycle struct {
	mu         sync.Mutex
	expiration time.Duration
	states     map[string]*dutyState
	values     map[string]float64
}

// NewDutyCycle creates a DutyCycle metric, optionally seeding initial on/off
// state for a set of names.
func NewDutyCycle(expiration time.Duration, now time.Time, init map[string]bool) *DutyCycle {
	d := &DutyCycle{
		expiration: expiration,
		states:     make(map[string]*dutyState),
		values:     make(map[string]float64),
	}
	for name, on := range init {
		d.states[name] = &dutyState{on: on, since: now, expiresAt: now.Add(expiration)}
	}
	return d
}

// Set switches name to on/off. If the state is unchanged this is a no-op;
// otherwise the elapsed time since the last switch is credited to the
// accumulator for the state being left.
func (d *DutyCycle) Set(now time.Time, name string, on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.states[name]
	if !ok {
		d.states[name] = &dutyState{on: on, since: now, expiresAt: now.Add(d.expiration)}
		return
	}
	st.expiresAt = now.Add(d.expiration)
	if st.on == on {
		return
	}

	elapsed := now.Sub(st.since).Seconds()
	if on {
		st.offAccum += elapsed
	} else {
		st.onAccum += elapsed
	}
	st.on = on
	st.since = now
}

// Flush computes on/(on+off) for every tracked name and rolls the
// accumulators for the next window. The resulting ratio is always in
// [0, 1].
func (d *DutyCycle) Flush(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ret := make(map[string]float64, len(d.states))
	for name, st := range d.states {
		elapsed := now.Sub(st.since).Seconds()
		onAccum, offAccum := st.onAccum, st.offAccum
		if st.on {
			onAccum += elapsed
		} else {
			offAccum += elapsed
		}

		full := onAccum + offAccum
		if full > 0 {
			ret[name] = onAccum / full
		}

		st.since = now
		st.onAccum = 0
		st.offAccum = 0
	}

	d.values = ret
}

// Values returns the last-flushed duty-cycle ratios.
func (d *DutyCycle) Values() map[string]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]float64, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

func (d *DutyCycle) expireFields(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, st := range d.states {
		if now.After(st.expiresAt) {
			delete(d.states, name)
		}
	}
}
