// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

// Package promexport adapts an explicit list of fieldset-based metrics onto
// a github.com/prometheus/client_golang collector, so the tag-indexed field
// model can be scraped by Prometheus without every metric needing to be
// declared twice.
package promexport

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fluxpump/fluxpump/pkg/metrics"
)

// fieldsetMetric is satisfied by Gauge, Counter and EPSCounter: every
// fieldset-based metrics.Metric exposes Fields for export.
type fieldsetMetric interface {
	Fields() []*metrics.Field
}

// Named pairs a fieldset-based metric with the name it should be exported
// under, since metrics.Metric implementations don't carry their own
// registry name.
type Named struct {
	MetricName string
	Metric     fieldsetMetric
}

// Exportable is a named source of Fields for export, satisfied by Named.
// Kept narrow so this package only depends on the metrics' Fields.
type Exportable interface {
	Name() string
	Fields() []*metrics.Field
}

func (n Named) Name() string              { return n.MetricName }
func (n Named) Fields() []*metrics.Field  { return n.Metric.Fields() }

// Collector walks a fixed list of named metrics at scrape time and emits
// one prometheus.Metric per (field, value-key) pair, labeled by the
// field's tags.
type Collector struct {
	namespace string
	sources   []Exportable
}

// NewCollector builds a Collector over sources, each prefixed with
// namespace in its exported metric name.
func NewCollector(namespace string, sources ...Exportable) *Collector {
	return &Collector{namespace: namespace, sources: sources}
}

// Describe intentionally sends nothing: this collector's metric set is
// dynamic (tag-indexed fields come and go), so it behaves as an
// "unchecked" collector per client_golang's own convention for such
// cases.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect emits a gauge sample for every value in every field of every
// registered source.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, src := range c.sources {
		name := sanitize(c.namespace + "_" + src.Name())
		for _, field := range src.Fields() {
			labelNames, labelValues := splitTags(field.Tags)
			for valueName, v := range field.Values {
				fv, ok := toFloat(v)
				if !ok {
					continue
				}
				desc := prometheus.NewDesc(name+"_"+sanitize(valueName), "", labelNames, nil)
				ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, fv, labelValues...)
			}
		}
	}
}

func splitTags(tags map[string]string) ([]string, []string) {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	values := make([]string, len(names))
	for i, n := range names {
		values[i] = tags[n]
	}
	return names, values
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

func sanitize(name string) string {
	replacer := strings.NewReplacer(".", "_", "-", "_", ":", "_", "/", "_")
	return replacer.Replace(name)
}
