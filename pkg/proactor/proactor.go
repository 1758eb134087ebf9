// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

// Package proactor implements the worker-pool abstraction used to offload
// blocking calls off the pipeline's goroutines, mirroring
// ProactorService.execute's usage in original_source/bspump/ldap/source.py
// (a blocking LDAP search run via self.ProactorService.execute(fn, ...)).
package proactor

import (
	"context"
	"fmt"
)

// job carries a unit of work and the channel its result is delivered on.
type job struct {
	ctx    context.Context
	fn     func() (any, error)
	result chan<- jobResult
}

type jobResult struct {
	value any
	err   error
}

// Service is a fixed-size worker pool that runs blocking functions off
// the caller's goroutine and returns their result via Execute, matching
// "await self.ProactorService.execute(fn, *args)".
type Service struct {
	jobs chan job
	done chan struct{}
}

// NewService starts workers goroutines ready to accept work. It is an
// error to request zero or fewer workers.
func NewService(workers int) (*Service, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("proactor: workers must be positive, got %d", workers)
	}
	s := &Service{
		jobs: make(chan job, workers*4),
		done: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go s.runWorker()
	}
	return s, nil
}

func (s *Service) runWorker() {
	for {
		select {
		case <-s.done:
			return
		case j, ok := <-s.jobs:
			if !ok {
				return
			}
			s.run(j)
		}
	}
}

func (s *Service) run(j job) {
	if j.ctx.Err() != nil {
		j.result <- jobResult{err: j.ctx.Err()}
		return
	}
	v, err := j.fn()
	select {
	case j.result <- jobResult{value: v, err: err}:
	case <-j.ctx.Done():
	}
}

// Execute submits fn to the pool and blocks until it completes or ctx is
// cancelled, returning fn's (value, error) pair.
func (s *Service) Execute(ctx context.Context, fn func() (any, error)) (any, error) {
	result := make(chan jobResult, 1)
	select {
	case s.jobs <- job{ctx: ctx, fn: fn, result: result}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, fmt.Errorf("proactor: service has been finalized")
	}

	select {
	case r := <-result:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Finalize stops accepting new work. In-flight jobs are allowed to
// complete; their callers' ctx cancellation is what actually unblocks
// Execute if a worker is wedged.
func (s *Service) Finalize() error {
	close(s.done)
	return nil
}
