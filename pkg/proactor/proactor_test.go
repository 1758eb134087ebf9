// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

package proactor

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecuteReturnsWorkResult(t *testing.T) {
	s, err := NewService(2)
	require.NoError(t, err)
	defer s.Finalize()

	v, err := s.Execute(context.Background(), func() (any, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestExecutePropagatesError(t *testing.T) {
	s, err := NewService(1)
	require.NoError(t, err)
	defer s.Finalize()

	_, err = s.Execute(context.Background(), func() (any, error) {
		return nil, fmt.Errorf("boom")
	})
	require.Error(t, err)
}

func TestExecuteRespectsCancellation(t *testing.T) {
	s, err := NewService(1)
	require.NoError(t, err)
	defer s.Finalize()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Execute(ctx, func() (any, error) {
		time.Sleep(time.Second)
		return nil, nil
	})
	require.Error(t, err)
}

func TestConcurrentExecuteRunsJobsInParallel(t *testing.T) {
	s, err := NewService(4)
	require.NoError(t, err)
	defer s.Finalize()

	var inflight int32
	var maxSeen int32
	done := make(chan struct{})

	for i := 0; i < 4; i++ {
		go func() {
			_, _ = s.Execute(context.Background(), func() (any, error) {
				n := atomic.AddInt32(&inflight, 1)
				for {
					old := atomic.LoadInt32(&maxSeen)
					if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				atomic.AddInt32(&inflight, -1)
				return nil, nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	require.GreaterOrEqual(t, atomic.LoadInt32(&maxSeen), int32(2))
}

func TestNewServiceRejectsNonPositiveWorkers(t *testing.T) {
	_, err := NewService(0)
	require.Error(t, err)
}
