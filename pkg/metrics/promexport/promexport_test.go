// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

package promexport

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/fluxpump/fluxpump/pkg/metrics"
)

func TestCollectorEmitsOneMetricPerFieldValue(t *testing.T) {
	g := metrics.NewGauge(map[string]string{"pipeline": "demo"}, time.Minute, nil)
	g.Set(time.Now(), "queue_depth", 7.0, nil)

	c := NewCollector("fluxpump", Named{MetricName: "demo_gauge", Metric: g})

	ch := make(chan prometheus.Metric, 10)
	c.Collect(ch)
	close(ch)

	var got []dto.Metric
	for m := range ch {
		var pb dto.Metric
		require.NoError(t, m.Write(&pb))
		got = append(got, pb)
	}
	require.Len(t, got, 1)
	require.Equal(t, 7.0, got[0].GetGauge().GetValue())
	require.Len(t, got[0].Label, 1)
	require.Equal(t, "pipeline", got[0].Label[0].GetName())
	require.Equal(t, "demo", got[0].Label[0].GetValue())
}

func TestCollectorSkipsNonNumericValues(t *testing.T) {
	g := metrics.NewGauge(nil, time.Minute, nil)
	g.Set(time.Now(), "status", "ok", nil)

	c := NewCollector("fluxpump", Named{MetricName: "g", Metric: g})
	ch := make(chan prometheus.Metric, 10)
	c.Collect(ch)
	close(ch)

	count := 0
	for range ch {
		count++
	}
	require.Equal(t, 0, count)
}

func TestDescribeEmitsNothing(t *testing.T) {
	c := NewCollector("fluxpump")
	ch := make(chan *prometheus.Desc)
	done := make(chan struct{})
	go func() {
		c.Describe(ch)
		close(done)
	}()
	<-done
}
