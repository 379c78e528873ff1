// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package phase sequences the migration pipeline's three phases,
// aggregates tool outcomes into phase-level exit statuses, and persists
// phase reports as append-only JSON artifacts.
package phase

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/ratchet/services/migrate/toolrun"
)

// Phase exit statuses. The orchestrator's process exit code is the single
// authoritative blocking signal for automation.
const (
	// ExitOK means every step landed in {complete, partial}: proceed.
	ExitOK = 0

	// ExitCaution means no errors, but at least one timeout or skipped
	// step: advance with caution.
	ExitCaution = 1

	// ExitBlocked means at least one step errored: must not auto-advance.
	ExitBlocked = 2
)

// Phase names as they appear in summaries and narration.
const (
	PhaseFoundation   = "foundation"
	PhaseMechanical   = "mechanical"
	PhaseSemanticPrep = "semantic-prep"
)

// StepRecord is one step's contribution to a phase report.
type StepRecord struct {
	Name           string         `json:"name"`
	Status         toolrun.Status `json:"status"`
	Counters       map[string]int `json:"counters,omitempty"`
	DurationMillis int64          `json:"duration_ms"`
	Diagnostic     string         `json:"diagnostic,omitempty"`
}

// Report aggregates all step outcomes of one phase execution.
//
// Description:
//
//	One Report is produced per phase run and written once to the run's
//	output directory; reports are append-only artifacts, never mutated
//	after being written.
type Report struct {
	Phase       string         `json:"phase"`
	RunID       string         `json:"run_id"`
	ProjectRoot string         `json:"project_root"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Steps       []StepRecord   `json:"steps"`
	Counters    map[string]int `json:"counters,omitempty"`
	ExitStatus  int            `json:"exit_status"`
}

// Aggregate folds step statuses into one phase-level exit status.
//
// Description:
//
//	Any error blocks (ExitBlocked). With no errors, any timeout or
//	skipped step degrades to ExitCaution. Otherwise every step is
//	complete or partial and the phase proceeds (ExitOK) — unless
//	strictPartial is set, in which case a partial-bearing phase is
//	demoted to ExitCaution so downstream automation can tell "clean"
//	from "degraded but usable".
func Aggregate(steps []StepRecord, strictPartial bool) int {
	caution := false
	for _, s := range steps {
		switch s.Status {
		case toolrun.StatusError:
			return ExitBlocked
		case toolrun.StatusTimeout, toolrun.StatusSkipped:
			caution = true
		case toolrun.StatusPartial:
			if strictPartial {
				caution = true
			}
		}
	}
	if caution {
		return ExitCaution
	}
	return ExitOK
}

// writeArtifact serializes v as indented JSON under the run directory.
// Artifacts are written once and never rewritten within a run.
func writeArtifact(outDir, name string, v any) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir %q: %w", outDir, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling artifact %q: %w", name, err)
	}
	path := filepath.Join(outDir, name)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("writing artifact %q: %w", path, err)
	}
	return path, nil
}
