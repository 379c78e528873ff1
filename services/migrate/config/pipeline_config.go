// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the migration pipeline configuration.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ratchet/services/migrate/tier"
)

// =============================================================================
// Embedded Default Pipeline Configuration
// =============================================================================

//go:embed pipeline_defaults.yaml
var defaultPipelineYAML []byte

// =============================================================================
// Pipeline Configuration Types
// =============================================================================

// StepSpec names one phase step and the external tool behind it.
type StepSpec struct {
	// Name is the step identifier used in summaries and narration.
	Name string `yaml:"name"`

	// Tool is the executable: bare name (PATH lookup) or path.
	Tool string `yaml:"tool"`

	// Artifact is the JSON file the step's payload is written to,
	// relative to the run output directory. Empty means no artifact.
	Artifact string `yaml:"artifact"`
}

// FoundationConfig lists the Foundation phase steps in execution order.
type FoundationConfig struct {
	Steps []StepSpec `yaml:"steps"`
}

// MechanicalConfig describes the Mechanical phase: the analyzer that
// emits work items, the per-item fixer, and any trailing tool steps.
type MechanicalConfig struct {
	// Analyzer detects migration patterns and emits the work-items
	// document on stdout.
	Analyzer StepSpec `yaml:"analyzer"`

	// Fixer is invoked once per fully-automated work item.
	Fixer StepSpec `yaml:"fixer"`

	// Steps are additional tool steps run after the fixer loop.
	Steps []StepSpec `yaml:"steps"`
}

// Config is the full pipeline configuration.
//
// Description:
//
//	Loaded once at startup from the embedded defaults, optionally
//	overridden by a YAML file. Immutable after loading.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	// TimeoutSeconds is the per-tool wall-clock budget.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// SampleCap bounds each reasoning tier's review-brief sample.
	SampleCap int `yaml:"sample_cap"`

	// StrictPartial demotes a phase containing partial steps to the
	// advance-with-caution exit status instead of treating partial
	// like complete.
	StrictPartial bool `yaml:"strict_partial"`

	// TierWeights drive the advisory effort estimate.
	TierWeights tier.Weights `yaml:"tier_weights"`

	Foundation FoundationConfig `yaml:"foundation"`
	Mechanical MechanicalConfig `yaml:"mechanical"`
}

// Timeout returns the per-tool budget as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Default returns the embedded default configuration.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultPipelineYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded pipeline defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("embedded pipeline defaults invalid: %w", err)
	}
	return cfg, nil
}

// Load reads a configuration file, falling back to the embedded defaults
// when path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	// Overrides are applied on top of the defaults, so partial config
	// files only need the keys they change.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %q invalid: %w", path, err)
	}
	return cfg, nil
}

// Validate checks structural invariants the orchestrator depends on.
func (c *Config) Validate() error {
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive, got %d", c.TimeoutSeconds)
	}
	if c.SampleCap <= 0 {
		return fmt.Errorf("sample_cap must be positive, got %d", c.SampleCap)
	}
	if len(c.Foundation.Steps) == 0 {
		return fmt.Errorf("foundation phase has no steps")
	}
	for i, s := range c.Foundation.Steps {
		if s.Name == "" || s.Tool == "" {
			return fmt.Errorf("foundation step %d missing name or tool", i)
		}
	}
	if c.Mechanical.Analyzer.Tool == "" {
		return fmt.Errorf("mechanical analyzer tool not set")
	}
	if c.Mechanical.Fixer.Tool == "" {
		return fmt.Errorf("mechanical fixer tool not set")
	}
	return nil
}
