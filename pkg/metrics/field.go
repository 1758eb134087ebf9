// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

package metrics

import (
	"sort"
	"time"
)

// Field is a tag-keyed row inside a metric's fieldset: the live Actuals
// accumulate since the last flush, Values hold the last-flushed snapshot,
// and the field is evicted once ExpiresAt has passed.
type Field struct {
	Tags      map[string]string
	Values    map[string]any
	Actuals   map[string]any
	ExpiresAt time.Time
}

func newField(tags map[string]string) *Field {
	return &Field{
		Tags:    tags,
		Values:  make(map[string]any),
		Actuals: make(map[string]any),
	}
}

func (f *Field) touch(now time.Time, expiration time.Duration) {
	f.ExpiresAt = now.Add(expiration)
}

func (f *Field) expired(now time.Time) bool {
	return !f.ExpiresAt.IsZero() && now.After(f.ExpiresAt)
}

// tagsEqual reports whether two tag sets contain exactly the same key/value
// pairs. Dynamic tags are treated as comparable mappings via this explicit
// comparison rather than relying on Go map equality (which doesn't exist).
func tagsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// mergeTags overlays static tags on top of dynamic tags, static tags taking
// precedence, matching locate_field's "merge static_tags over tags".
func mergeTags(static, dynamic map[string]string) map[string]string {
	merged := make(map[string]string, len(static)+len(dynamic))
	for k, v := range dynamic {
		merged[k] = v
	}
	for k, v := range static {
		merged[k] = v
	}
	return merged
}

// canonicalKey produces a stable string key for a tag set, used to index
// metrics within a Registry by (name, static tags).
func canonicalKey(name string, tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	key := name
	for _, k := range keys {
		key += "\x1f" + k + "=" + tags[k]
	}
	return key
}
