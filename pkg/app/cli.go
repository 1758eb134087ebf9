// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

package app

import (
	"github.com/spf13/cobra"

	"github.com/fluxpump/fluxpump/pkg/config"
)

// Flags are the parsed values of the host process's CLI flags:
// -c/--config PATH and -v/--verbose.
type Flags struct {
	ConfigFile string
	Verbose    bool
}

// ParseFlags parses argv (excluding the program name) using the same
// flag-parsing library (cobra/pflag) the rest of the pack reaches for,
// e.g. cuemby-warren's cmd/warren root command.
func ParseFlags(description string, argv []string) (Flags, error) {
	var flags Flags

	cmd := &cobra.Command{
		Use:           "fluxpumpd",
		Short:         description,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(*cobra.Command, []string) error { return nil },
	}
	cmd.Flags().StringVarP(&flags.ConfigFile, "config", "c", config.DefaultConfigFile, "Path to configuration file")
	cmd.Flags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Print more information (enable debug output)")
	cmd.SetArgs(argv)

	if err := cmd.Execute(); err != nil {
		return Flags{}, err
	}
	return flags, nil
}
