// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

package expression

import "github.com/fluxpump/fluxpump/pkg/pipeline"

// Field reads a key out of the event, assuming it decodes to
// map[string]any -- the common case for declarative processors. Declared
// as {"class": "FIELD", "name": "..."}.
type Field struct {
	Name string
}

func buildField(_ *Builder, d Descriptor) (Expression, error) {
	name, _ := d.Extra["name"].(string)
	return &Field{Name: name}, nil
}

func (f *Field) Eval(_ pipeline.EventContext, event pipeline.Event) (any, error) {
	m, ok := event.(map[string]any)
	if !ok {
		return nil, nil
	}
	return m[f.Name], nil
}

// Value is a literal, declared as {"class": "VALUE", "value": ...}.
type Value struct {
	V any
}

func buildValue(_ *Builder, d Descriptor) (Expression, error) {
	return &Value{V: d.Extra["value"]}, nil
}

func (v *Value) Eval(pipeline.EventContext, pipeline.Event) (any, error) {
	return v.V, nil
}
