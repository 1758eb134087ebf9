// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

package expression

import (
	"fmt"

	"github.com/fluxpump/fluxpump/pkg/pipeline"
)

// And evaluates its items in order and is true iff all of them are truthy;
// it stops at the first falsy item without evaluating the rest. Ported from
// logical/andexpr.py's AND.
type And struct {
	Items []Expression
}

func buildAND(b *Builder, d Descriptor) (Expression, error) {
	items, err := b.BuildItems(d)
	if err != nil {
		return nil, err
	}
	return &And{Items: items}, nil
}

func (a *And) Eval(ctx pipeline.EventContext, event pipeline.Event) (any, error) {
	if len(a.Items) == 0 {
		return true, nil
	}
	acc, err := a.Items[0].Eval(ctx, event)
	if err != nil {
		return nil, err
	}
	for _, item := range a.Items[1:] {
		if !truthy(acc) {
			return false, nil
		}
		v, err := item.Eval(ctx, event)
		if err != nil {
			return nil, err
		}
		acc = truthy(acc) && truthy(v)
	}
	return truthy(acc), nil
}

// Equals evaluates its items in order and is true iff each one equals the
// first (compared by their %v formatting); it returns false at the first
// mismatch without evaluating the rest. Ported from logical/equalsexpr.py's
// EQUALS.
type Equals struct {
	Items []Expression
}

func buildEquals(b *Builder, d Descriptor) (Expression, error) {
	items, err := b.BuildItems(d)
	if err != nil {
		return nil, err
	}
	return &Equals{Items: items}, nil
}

func (e *Equals) Eval(ctx pipeline.EventContext, event pipeline.Event) (any, error) {
	if len(e.Items) == 0 {
		return true, nil
	}
	first, err := e.Items[0].Eval(ctx, event)
	if err != nil {
		return nil, err
	}
	for _, item := range e.Items[1:] {
		v, err := item.Eval(ctx, event)
		if err != nil {
			return nil, err
		}
		if fmt.Sprintf("%v", v) != fmt.Sprintf("%v", first) {
			return false, nil
		}
	}
	return true, nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case nil:
		return false
	case string:
		return x != ""
	case int:
		return x != 0
	case float64:
		return x != 0
	default:
		return true
	}
}
