// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

package mysql

import (
	"context"

	"github.com/fluxpump/fluxpump/pkg/pipeline"
)

// LookupProcessor enriches an event with the row its Field value looks up
// in a Lookup, matching the pattern shown in MySQLLookup's own docstring:
// "svc.locate_lookup(...)" followed by "info = self.Lookup.get(event['user'])".
// Events missing Field, or with no matching row, pass through unenriched.
type LookupProcessor struct {
	id       string
	lookup   *Lookup
	field    string
	outField string
	ctx      context.Context
}

// NewLookupProcessor builds a LookupProcessor that reads event[field] as
// the lookup key and writes the result under event[outField].
func NewLookupProcessor(id string, lookup *Lookup, field, outField string) *LookupProcessor {
	return &LookupProcessor{id: id, lookup: lookup, field: field, outField: outField, ctx: context.Background()}
}

func (p *LookupProcessor) Name() string { return p.id }

// Process is synchronous per the Processor contract even though the
// lookup itself may hit the database; callers that need this off the
// event loop should front it with a Generator instead (see pkg/pipeline).
func (p *LookupProcessor) Process(_ pipeline.EventContext, event pipeline.Event) (pipeline.Event, error) {
	m, ok := event.(map[string]any)
	if !ok {
		return event, nil
	}
	key, ok := m[p.field].(string)
	if !ok {
		return event, nil
	}

	row, err := p.lookup.Get(p.ctx, key)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return event, nil
	}

	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[p.outField] = row
	return out, nil
}
