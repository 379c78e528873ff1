// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}
	if cfg.Timeout() != 300*time.Second {
		t.Errorf("expected 300s default timeout, got %v", cfg.Timeout())
	}
	if cfg.SampleCap != 20 {
		t.Errorf("expected sample cap 20, got %d", cfg.SampleCap)
	}
	if cfg.StrictPartial {
		t.Error("strict_partial must default to false")
	}
	if len(cfg.Foundation.Steps) != 3 {
		t.Fatalf("expected 3 foundation steps, got %d", len(cfg.Foundation.Steps))
	}
	if cfg.Foundation.Steps[0].Artifact != "injection-report.json" {
		t.Errorf("unexpected first foundation artifact: %q", cfg.Foundation.Steps[0].Artifact)
	}
	if cfg.Mechanical.Analyzer.Artifact != "work-items.json" {
		t.Errorf("unexpected analyzer artifact: %q", cfg.Mechanical.Analyzer.Artifact)
	}
	if cfg.TierWeights.Expert <= cfg.TierWeights.Assisted {
		t.Error("expert tier must cost more than assisted")
	}
}

func TestLoad_OverridesOnTopOfDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override.yaml")
	override := "timeout_seconds: 15\nstrict_partial: true\n"
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatalf("writing override: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Timeout() != 15*time.Second {
		t.Errorf("override not applied: %v", cfg.Timeout())
	}
	if !cfg.StrictPartial {
		t.Error("strict_partial override not applied")
	}
	// Untouched keys keep their defaults.
	if len(cfg.Foundation.Steps) != 3 {
		t.Errorf("defaults lost under override: %d foundation steps", len(cfg.Foundation.Steps))
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.Mechanical.Fixer.Tool == "" {
		t.Error("defaults missing fixer tool")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero timeout", func(c *Config) { c.TimeoutSeconds = 0 }},
		{"zero sample cap", func(c *Config) { c.SampleCap = 0 }},
		{"no foundation steps", func(c *Config) { c.Foundation.Steps = nil }},
		{"unnamed foundation step", func(c *Config) { c.Foundation.Steps[0].Name = "" }},
		{"missing analyzer", func(c *Config) { c.Mechanical.Analyzer.Tool = "" }},
		{"missing fixer", func(c *Config) { c.Mechanical.Fixer.Tool = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := *base
			cfg.Foundation.Steps = append([]StepSpec(nil), base.Foundation.Steps...)
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
