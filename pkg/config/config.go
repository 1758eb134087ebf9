// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

// Package config loads the INI-style application configuration file and
// exposes each section as a *config.C tree so components can unpack typed
// settings with `cfg.Unpack(&settings)`.
package config

import (
	"fmt"
	"time"

	conf "github.com/elastic/elastic-agent-libs/config"
	"github.com/urso/sderr"
	"gopkg.in/ini.v1"
)

// Defaults mirror the [general] section's baked-in defaults.
const (
	DefaultConfigFile  = "/etc/fluxpump/fluxpump.conf"
	DefaultTickPeriod  = 1 * time.Second
	DefaultExpiration  = 60 * time.Second
)

// File is the parsed configuration file: one *config.C per INI section,
// plus the handful of [general]/[asab:metrics] values the core consumes
// directly.
type File struct {
	ConfigFile string
	Verbose    bool
	TickPeriod time.Duration
	Expiration time.Duration

	sections map[string]*conf.C
}

// Load reads path as an INI file (github.com/go-ini/ini) and adapts every
// section into a *config.C namespace. Section-local settings beyond
// [general]/[asab:metrics] are opaque to the core and left for callers to
// Unpack themselves via Section.
func Load(path string) (*File, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true}, path)
	if err != nil {
		return nil, sderr.Wrap(err, "failed to load configuration file %q", path)
	}

	f := &File{
		ConfigFile: path,
		TickPeriod: DefaultTickPeriod,
		Expiration: DefaultExpiration,
		sections:   make(map[string]*conf.C),
	}

	for _, sec := range cfg.Sections() {
		name := sec.Name()
		if name == ini.DefaultSection {
			continue
		}

		raw := make(map[string]any, len(sec.Keys()))
		for _, key := range sec.Keys() {
			raw[key.Name()] = key.Value()
		}

		c, err := conf.NewConfigFrom(raw)
		if err != nil {
			return nil, sderr.Wrap(err, "failed to adapt section %q", name)
		}
		f.sections[name] = c
	}

	if general, ok := f.sections["general"]; ok {
		var settings struct {
			ConfigFile string `config:"config_file"`
			Verbose    bool   `config:"verbose"`
			TickPeriod int    `config:"tick_period"`
		}
		settings.TickPeriod = int(DefaultTickPeriod.Seconds())
		if err := general.Unpack(&settings); err != nil {
			return nil, sderr.Wrap(err, "failed to unpack [general] section")
		}
		f.Verbose = settings.Verbose
		if settings.TickPeriod > 0 {
			f.TickPeriod = time.Duration(settings.TickPeriod) * time.Second
		}
	}

	if metrics, ok := f.sections["asab:metrics"]; ok {
		var settings struct {
			Expiration float64 `config:"expiration"`
		}
		if err := metrics.Unpack(&settings); err != nil {
			return nil, sderr.Wrap(err, "failed to unpack [asab:metrics] section")
		}
		if settings.Expiration > 0 {
			f.Expiration = time.Duration(settings.Expiration * float64(time.Second))
		}
	}

	return f, nil
}

// Section returns the *config.C for name, or an empty config if the
// section was not present in the file -- components are expected to rely
// on their own ConfigDefaults in that case.
func (f *File) Section(name string) (*conf.C, error) {
	if c, ok := f.sections[name]; ok {
		return c, nil
	}
	c, err := conf.NewConfigFrom(map[string]any{})
	if err != nil {
		return nil, sderr.Wrap(err, "failed to build empty section %q", name)
	}
	return c, nil
}

// PipelineSection returns the per-pipeline override section named
// "<pipeline-id>".
func (f *File) PipelineSection(pipelineID string) (*conf.C, error) {
	if pipelineID == "" {
		return nil, fmt.Errorf("config: pipeline id must not be empty")
	}
	return f.Section(pipelineID)
}
