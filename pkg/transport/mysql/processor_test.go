// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

package mysql

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fluxpump/fluxpump/pkg/pipeline"
)

func TestLookupProcessorPassesThroughNonMapEvents(t *testing.T) {
	p := NewLookupProcessor("enrich", nil, "user", "user_info")

	out, err := p.Process(pipeline.EventContext{}, "not-a-map")
	require.NoError(t, err)
	require.Equal(t, "not-a-map", out)
}

func TestLookupProcessorPassesThroughMissingField(t *testing.T) {
	p := NewLookupProcessor("enrich", nil, "user", "user_info")

	event := map[string]any{"other": "value"}
	out, err := p.Process(pipeline.EventContext{}, event)
	require.NoError(t, err)
	require.Equal(t, event, out)
}

func TestDefaultConfigMatchesOriginalQueryShapes(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "*", cfg.Statement)
	require.Contains(t, cfg.QueryFindOne, "WHERE")
	require.Contains(t, cfg.QueryCount, "COUNT")
}
