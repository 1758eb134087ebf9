// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

// Package expression implements a declarative expression tree: a
// JSON/YAML-describable node of the shape {"class": NAME, ...} is compiled,
// via a registry of class constructors, into a tree of Expression values
// each evaluable as node(context, event) -> value. Ported from
// bspump/declarative/expression/{abc,builder}.py and the logical/
// subpackage's AND/EQUALS nodes.
package expression

import (
	"fmt"

	"github.com/fluxpump/fluxpump/pkg/pipeline"
)

// Expression is a compiled, evaluable node in a declarative expression
// tree.
type Expression interface {
	Eval(ctx pipeline.EventContext, event pipeline.Event) (any, error)
}

// Descriptor is the raw, decoded form of an expression node: {"class":
// NAME, ...}. Extra is every other key, available to a Constructor for
// node-specific configuration (e.g. AND's "items").
type Descriptor struct {
	Class string
	Extra map[string]any
}

// Constructor builds an Expression from a Descriptor, recursing into
// nested descriptors via Builder as needed.
type Constructor func(b *Builder, d Descriptor) (Expression, error)

// Registry maps a class name to the Constructor that builds it.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry creates an empty Registry pre-seeded with the built-in
// logical expressions (AND, EQUALS).
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register("AND", buildAND)
	r.Register("EQUALS", buildEquals)
	r.Register("FIELD", buildField)
	r.Register("VALUE", buildValue)
	return r
}

// Register adds or replaces the Constructor for class.
func (r *Registry) Register(class string, ctor Constructor) {
	r.constructors[class] = ctor
}

// Builder compiles Descriptors into Expression trees against a Registry,
// mirroring ExpressionBuilder.build's recursive descent.
type Builder struct {
	registry *Registry
}

// NewBuilder creates a Builder bound to registry.
func NewBuilder(registry *Registry) *Builder {
	return &Builder{registry: registry}
}

// Build compiles a single Descriptor into an Expression.
func (b *Builder) Build(d Descriptor) (Expression, error) {
	ctor, ok := b.registry.constructors[d.Class]
	if !ok {
		return nil, fmt.Errorf("expression: unknown class %q", d.Class)
	}
	return ctor(b, d)
}

// BuildItems compiles the "items" key of a descriptor's Extra map, which
// must be a []any of nested map[string]any descriptors -- the shape every
// JSON/YAML decoder produces for a list of objects.
func (b *Builder) BuildItems(d Descriptor) ([]Expression, error) {
	raw, _ := d.Extra["items"].([]any)
	items := make([]Expression, 0, len(raw))
	for i, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expression: item %d of %q is not an object", i, d.Class)
		}
		nested, err := decodeDescriptor(m)
		if err != nil {
			return nil, fmt.Errorf("expression: item %d of %q: %w", i, d.Class, err)
		}
		expr, err := b.Build(nested)
		if err != nil {
			return nil, err
		}
		items = append(items, expr)
	}
	return items, nil
}

// decodeDescriptor splits a decoded {"class": ..., ...} map into a
// Descriptor.
func decodeDescriptor(m map[string]any) (Descriptor, error) {
	class, ok := m["class"].(string)
	if !ok {
		return Descriptor{}, fmt.Errorf("expression: object is missing a string \"class\" key")
	}
	extra := make(map[string]any, len(m))
	for k, v := range m {
		if k == "class" {
			continue
		}
		extra[k] = v
	}
	return Descriptor{Class: class, Extra: extra}, nil
}

// Compile decodes a raw {"class": ..., ...} map and compiles it through
// the Builder in one step.
func (b *Builder) Compile(raw map[string]any) (Expression, error) {
	d, err := decodeDescriptor(raw)
	if err != nil {
		return nil, err
	}
	return b.Build(d)
}
