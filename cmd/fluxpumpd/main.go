// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

// Command fluxpumpd is the host process for the streaming data-processing
// framework: it parses CLI flags, loads the INI configuration, builds the
// Application (pubsub bus, metric registry, tick governor) and drives its
// init -> run -> exit lifecycle.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/elastic/elastic-agent-libs/logp"

	"github.com/fluxpump/fluxpump/pkg/app"
	"github.com/fluxpump/fluxpump/pkg/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fluxpumpd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := app.ParseFlags("fluxpumpd streaming pipeline host", os.Args[1:])
	if err != nil {
		return err
	}

	cfgFile, err := config.Load(flags.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if flags.Verbose {
		cfgFile.Verbose = true
	}

	level := logp.InfoLevel
	if cfgFile.Verbose {
		level = logp.DebugLevel
	}
	if err := logp.Configure(logp.Config{Level: level, ToStderr: true}); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	log := logp.NewLogger("fluxpumpd")

	a, err := app.New(cfgFile, log)
	if err != nil {
		return fmt.Errorf("failed to construct application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.InstallSignalHandlers(ctx)

	if err := a.Init(ctx); err != nil {
		return fmt.Errorf("init failed: %w", err)
	}
	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	if err := a.Exit(ctx); err != nil {
		return fmt.Errorf("exit failed: %w", err)
	}
	return nil
}
