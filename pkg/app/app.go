// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

// Package app implements the application/service host: the init -> run ->
// exit lifecycle, the service registry, the module loader and the tick
// governor, ported from original_source/asab/application.py.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/elastic/elastic-agent-libs/logp"
	"github.com/elastic/go-concert/unison"
	"github.com/urso/sderr"

	"github.com/fluxpump/fluxpump/pkg/config"
	"github.com/fluxpump/fluxpump/pkg/metrics"
	"github.com/fluxpump/fluxpump/pkg/pubsub"
)

// Service is a long-lived, named collaborator registered with the
// Application, initialized asynchronously on registration and finalized
// during the exit-time governor.
type Service interface {
	Initialize(app *Application) error
	Finalize(app *Application) error
}

// Module is the module-loader counterpart of Service, for collaborators
// that don't need service-name lookup.
type Module interface {
	Initialize(app *Application) error
	Finalize(app *Application) error
}

// Application is the process-wide container, constructed once, explicitly,
// in main, rather than via a metaclass singleton.
type Application struct {
	Log     *logp.Logger
	PubSub  *pubsub.Bus
	Metrics *metrics.Registry
	Config  *config.File

	group *unison.TaskGroup

	mu       sync.Mutex
	services map[string]Service
	modules  []Module

	stopMu    sync.Mutex
	stopCh    chan struct{}
	stopCount int
}

var constructed bool
var constructedMu sync.Mutex

// New constructs the Application exactly once per process. A second call
// returns an error, guarding against the accidental double-construction the
// original's metaclass singleton prevented implicitly.
func New(cfgFile *config.File, log *logp.Logger) (*Application, error) {
	constructedMu.Lock()
	defer constructedMu.Unlock()
	if constructed {
		return nil, fmt.Errorf("app: Application has already been constructed in this process")
	}
	constructed = true

	if log == nil {
		log = logp.NewLogger("app")
	}
	bus := pubsub.New(log.Named("pubsub"))
	reg := metrics.NewRegistry("app", cfgFile.Expiration, log.Named("metrics"))

	a := &Application{
		Log:      log,
		PubSub:   bus,
		Metrics:  reg,
		Config:   cfgFile,
		group:    new(unison.TaskGroup),
		services: make(map[string]Service),
		stopCh:   make(chan struct{}),
	}
	return a, nil
}

// resetForTest undoes the singleton guard; only used by this package's own
// tests, which construct multiple Applications in-process.
func resetForTest() {
	constructedMu.Lock()
	constructed = false
	constructedMu.Unlock()
}

// RegisterService registers svc under name and kicks off its asynchronous
// initialization, mirroring Application.register_service.
func (a *Application) RegisterService(name string, svc Service) error {
	a.mu.Lock()
	if _, exists := a.services[name]; exists {
		a.mu.Unlock()
		return fmt.Errorf("app: service %q already registered", name)
	}
	a.services[name] = svc
	a.mu.Unlock()

	return a.group.Go(func(_ context.Context) error {
		if err := svc.Initialize(a); err != nil {
			a.Log.Errorw("service initialization failed", "service", name, "error", err)
		}
		return nil
	})
}

// GetService looks up a previously registered service by name.
func (a *Application) GetService(name string) (Service, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	svc, ok := a.services[name]
	if !ok {
		return nil, fmt.Errorf("app: service %q is not registered", name)
	}
	return svc, nil
}

// AddModule loads a module and kicks off its asynchronous initialization,
// mirroring Application.add_module.
func (a *Application) AddModule(m Module) error {
	a.mu.Lock()
	a.modules = append(a.modules, m)
	a.mu.Unlock()

	return a.group.Go(func(_ context.Context) error {
		if err := m.Initialize(a); err != nil {
			a.Log.Errorw("module initialization failed", "error", err)
		}
		return nil
	})
}

// Init runs the init-time governor: publishes Application.init!.
func (a *Application) Init(_ context.Context) error {
	a.Log.Info("Initializing ...")
	a.PubSub.Publish("Application.init!")
	return nil
}

// Run runs the run-time governor: publishes Application.run!, drives the
// tick governor, and blocks until Stop is called or ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	a.Log.Info("Running ...")
	a.PubSub.Publish("Application.run!")

	governor := newTickGovernor(a.PubSub, a.Metrics, a.Config.TickPeriod)
	if err := a.group.Go(func(ctx context.Context) error {
		governor.run(ctx, a.stopCh)
		return nil
	}); err != nil {
		return sderr.Wrap(err, "failed to start tick governor")
	}

	select {
	case <-a.stopCh:
	case <-ctx.Done():
	}
	return nil
}

// Exit runs the exit-time governor: publishes Application.exit!, finalizes
// every registered service and module concurrently, then waits for the
// supervised goroutine group (including the tick governor) to stop.
func (a *Application) Exit(ctx context.Context) error {
	a.Log.Info("Exiting ...")
	a.PubSub.Publish("Application.exit!")

	a.mu.Lock()
	services := make([]Service, 0, len(a.services))
	for _, svc := range a.services {
		services = append(services, svc)
	}
	modules := make([]Module, len(a.modules))
	copy(modules, a.modules)
	a.mu.Unlock()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for _, svc := range services {
		wg.Add(1)
		go func(svc Service) {
			defer wg.Done()
			if err := svc.Finalize(a); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(svc)
	}
	for _, m := range modules {
		wg.Add(1)
		go func(m Module) {
			defer wg.Done()
			if err := m.Finalize(a); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(m)
	}
	wg.Wait()

	a.group.Stop()
	_ = a.group.Wait()

	if len(errs) > 0 {
		return sderr.Wrap(errs[0], "errors during finalization (%d total)", len(errs))
	}
	return nil
}

// Stop requests a graceful stop. A third call within the same process
// escalates to an immediate, forced exit, matching the SIGINT/SIGTERM
// escalation rule.
func (a *Application) Stop() {
	a.stopMu.Lock()
	defer a.stopMu.Unlock()

	a.stopCount++
	if a.stopCount == 1 {
		close(a.stopCh)
	}
	if a.stopCount >= 3 {
		a.Log.Error("Emergency exit")
		os.Exit(1)
	}
}

// InstallSignalHandlers wires SIGINT/SIGTERM to Stop. It is separated from
// New so tests can drive Stop directly without touching process signals.
func (a *Application) InstallSignalHandlers(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case <-ch:
				a.Stop()
			case <-ctx.Done():
				signal.Stop(ch)
				return
			}
		}
	}()
}
