// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

package alert

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAsyncProviderDeliversEnqueuedAlerts(t *testing.T) {
	var delivered int64
	done := make(chan struct{}, 1)

	p := NewAsyncProvider("test", func(ctx context.Context, a Alert) error {
		atomic.AddInt64(&delivered, 1)
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Initialize(ctx))
	defer p.Finalize()

	p.Trigger(NewAlert("svc", "disk", "disk almost full"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("alert was not delivered")
	}
	require.EqualValues(t, 1, atomic.LoadInt64(&delivered))
}

func TestAsyncProviderKeepsDeliveringAfterEachAlert(t *testing.T) {
	var calls int64
	p := NewAsyncProvider("flaky", func(ctx context.Context, a Alert) error {
		atomic.AddInt64(&calls, 1)
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Initialize(ctx))
	defer p.Finalize()

	for i := 0; i < 3; i++ {
		p.Trigger(NewAlert("svc", "x", "x"))
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&calls) == 3
	}, time.Second, time.Millisecond)
}

func TestAsyncProviderFinalizeStopsWorker(t *testing.T) {
	p := NewAsyncProvider("stoppable", func(ctx context.Context, a Alert) error { return nil }, nil)
	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Finalize())
}

func TestServiceFanOutTriggersAllProviders(t *testing.T) {
	var a, b int64
	p1 := NewAsyncProvider("a", func(ctx context.Context, al Alert) error { atomic.AddInt64(&a, 1); return nil }, nil)
	p2 := NewAsyncProvider("b", func(ctx context.Context, al Alert) error { atomic.AddInt64(&b, 1); return nil }, nil)

	svc := NewService(p1, p2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, svc.Initialize(ctx))
	defer svc.Finalize()

	svc.Trigger(NewAlert("svc", "x", "x"))

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&a) == 1 && atomic.LoadInt64(&b) == 1
	}, time.Second, time.Millisecond)
}

func TestOpsGenieProviderPostsToConfiguredURL(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.Equal(t, "GenieKey secret", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewOpsGenieProvider(OpsGenieConfig{URL: srv.URL, APIKey: "secret"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Initialize(ctx))
	defer p.Finalize()

	p.Trigger(NewAlert("svc", "disk", "disk almost full"))

	require.Eventually(t, func() bool { return gotPath == "/v2/alerts" }, time.Second, time.Millisecond)
}
