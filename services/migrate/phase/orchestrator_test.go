// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package phase

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/AleutianAI/ratchet/services/migrate/config"
	"github.com/AleutianAI/ratchet/services/migrate/tier"
	"github.com/AleutianAI/ratchet/services/migrate/toolrun"
)

// fakeRunner maps tool paths to canned outcomes, recording every spec.
type fakeRunner struct {
	outcomes map[string]func(toolrun.Spec) toolrun.Outcome
	calls    []toolrun.Spec
}

func (f *fakeRunner) Invoke(_ context.Context, spec toolrun.Spec) toolrun.Outcome {
	f.calls = append(f.calls, spec)
	if fn, ok := f.outcomes[spec.Path]; ok {
		return fn(spec)
	}
	return toolrun.Outcome{Status: toolrun.StatusSkipped, PayloadKind: toolrun.PayloadAbsent}
}

func fixed(status toolrun.Status) func(toolrun.Spec) toolrun.Outcome {
	return func(toolrun.Spec) toolrun.Outcome {
		return toolrun.Outcome{Status: status, PayloadKind: toolrun.PayloadAbsent}
	}
}

func testConfig() *config.Config {
	return &config.Config{
		TimeoutSeconds: 30,
		SampleCap:      20,
		TierWeights:    tier.DefaultWeights,
		Foundation: config.FoundationConfig{
			Steps: []config.StepSpec{
				{Name: "inject-compat", Tool: "inject", Artifact: "injection-report.json"},
				{Name: "lint-baseline", Tool: "lint", Artifact: "lint-baseline.json"},
				{Name: "test-scaffolds", Tool: "scaffold", Artifact: "test-scaffolds.json"},
			},
		},
		Mechanical: config.MechanicalConfig{
			Analyzer: config.StepSpec{Name: "detect-patterns", Tool: "analyze", Artifact: "work-items.json"},
			Fixer:    config.StepSpec{Name: "apply-fixes", Tool: "fix"},
			Steps: []config.StepSpec{
				{Name: "library-replacement", Tool: "libswap", Artifact: "library-replacement-report.json"},
			},
		},
	}
}

func newTestOrchestrator(cfg *config.Config, r Runner) *Orchestrator {
	return New(cfg, WithRunner(r), WithNarration(io.Discard))
}

func readReport(t *testing.T, path string) *Report {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading summary: %v", err)
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("summary does not decode: %v", err)
	}
	return &report
}

func TestRunFoundation_AllComplete(t *testing.T) {
	outDir := t.TempDir()
	runner := &fakeRunner{outcomes: map[string]func(toolrun.Spec) toolrun.Outcome{
		"inject":   fixed(toolrun.StatusComplete),
		"lint":     fixed(toolrun.StatusPartial),
		"scaffold": fixed(toolrun.StatusComplete),
	}}
	o := newTestOrchestrator(testConfig(), runner)

	report, err := o.RunFoundation(context.Background(), "/proj", outDir, "")
	if err != nil {
		t.Fatalf("RunFoundation failed: %v", err)
	}
	if report.ExitStatus != ExitOK {
		t.Errorf("expected exit 0, got %d", report.ExitStatus)
	}
	if len(report.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(report.Steps))
	}

	// Tool contract: each step is invoked as `tool <projectRoot> <outDir>`.
	for _, call := range runner.calls {
		if len(call.Args) != 2 || call.Args[0] != "/proj" || call.Args[1] != outDir {
			t.Errorf("unexpected tool args: %v", call.Args)
		}
	}

	saved := readReport(t, filepath.Join(outDir, "foundation-summary.json"))
	if saved.Phase != PhaseFoundation || saved.ExitStatus != ExitOK {
		t.Errorf("summary mismatch: %+v", saved)
	}
}

func TestRunFoundation_ErrorBlocks(t *testing.T) {
	outDir := t.TempDir()
	runner := &fakeRunner{outcomes: map[string]func(toolrun.Spec) toolrun.Outcome{
		"inject":   fixed(toolrun.StatusComplete),
		"lint":     fixed(toolrun.StatusError),
		"scaffold": fixed(toolrun.StatusComplete),
	}}
	o := newTestOrchestrator(testConfig(), runner)

	report, err := o.RunFoundation(context.Background(), "/proj", outDir, "")
	if err != nil {
		t.Fatalf("RunFoundation failed: %v", err)
	}
	if report.ExitStatus != ExitBlocked {
		t.Errorf("expected exit 2, got %d", report.ExitStatus)
	}
	// An error must not abort already-scheduled steps: all three ran.
	if len(runner.calls) != 3 {
		t.Errorf("expected all 3 steps to run, got %d", len(runner.calls))
	}
}

func TestRunFoundation_MissingToolsCaution(t *testing.T) {
	outDir := t.TempDir()
	runner := &fakeRunner{outcomes: map[string]func(toolrun.Spec) toolrun.Outcome{
		"inject":   fixed(toolrun.StatusComplete),
		"scaffold": fixed(toolrun.StatusComplete),
		// "lint" falls through to skipped.
	}}
	o := newTestOrchestrator(testConfig(), runner)

	report, err := o.RunFoundation(context.Background(), "/proj", outDir, "")
	if err != nil {
		t.Fatalf("RunFoundation failed: %v", err)
	}
	if report.ExitStatus != ExitCaution {
		t.Errorf("expected exit 1 for skipped step, got %d", report.ExitStatus)
	}
}

func TestRunFoundation_InputArtifactArg(t *testing.T) {
	outDir := t.TempDir()
	runner := &fakeRunner{outcomes: map[string]func(toolrun.Spec) toolrun.Outcome{
		"inject":   fixed(toolrun.StatusComplete),
		"lint":     fixed(toolrun.StatusComplete),
		"scaffold": fixed(toolrun.StatusComplete),
	}}
	o := newTestOrchestrator(testConfig(), runner)

	if _, err := o.RunFoundation(context.Background(), "/proj", outDir, "/artifacts/prior.json"); err != nil {
		t.Fatalf("RunFoundation failed: %v", err)
	}

	// With an input artifact every step gets it as the middle argument.
	for _, call := range runner.calls {
		want := []string{"/proj", "/artifacts/prior.json", outDir}
		if len(call.Args) != 3 || call.Args[0] != want[0] || call.Args[1] != want[1] || call.Args[2] != want[2] {
			t.Errorf("unexpected tool args: %v", call.Args)
		}
	}
}

func analyzerPayload(items []tier.WorkItem) func(toolrun.Spec) toolrun.Outcome {
	return func(toolrun.Spec) toolrun.Outcome {
		data, _ := json.Marshal(WorkItemsDocument{Items: items})
		return toolrun.Outcome{
			Status:      toolrun.StatusComplete,
			PayloadKind: toolrun.PayloadStructured,
			Structured:  data,
		}
	}
}

func TestRunMechanical_FixerCounts(t *testing.T) {
	outDir := t.TempDir()
	items := []tier.WorkItem{
		{ID: "1", File: "a.py", Pattern: "print", Tier: "automated"},
		{ID: "2", File: "b.py", Pattern: "print", Tier: "automated"},
		{ID: "3", File: "bad.py", Pattern: "division", Tier: "automated"},
		{ID: "4", File: "c.py", Pattern: "print", Tier: "automated"},
		{ID: "5", File: "d.py", Pattern: "print", Tier: "automated"},
	}
	runner := &fakeRunner{outcomes: map[string]func(toolrun.Spec) toolrun.Outcome{
		"analyze": analyzerPayload(items),
		"libswap": fixed(toolrun.StatusComplete),
		"fix": func(spec toolrun.Spec) toolrun.Outcome {
			if spec.Args[0] == "bad.py" {
				return toolrun.Outcome{Status: toolrun.StatusError, ExitCode: 5}
			}
			return toolrun.Outcome{Status: toolrun.StatusComplete}
		},
	}}
	o := newTestOrchestrator(testConfig(), runner)

	report, err := o.RunMechanical(context.Background(), "/proj", outDir, "")
	if err != nil {
		t.Fatalf("RunMechanical failed: %v", err)
	}

	if report.Counters["items_fixed"] != 4 {
		t.Errorf("expected fixed=4, got %d", report.Counters["items_fixed"])
	}
	if report.Counters["item_errors"] != 1 {
		t.Errorf("expected errors=1, got %d", report.Counters["item_errors"])
	}

	// Item failures degrade the fixer step to partial, never error, so
	// the phase still proceeds.
	var fixerStep *StepRecord
	for i := range report.Steps {
		if report.Steps[i].Name == "apply-fixes" {
			fixerStep = &report.Steps[i]
		}
	}
	if fixerStep == nil {
		t.Fatal("fixer step missing from report")
	}
	if fixerStep.Status != toolrun.StatusPartial {
		t.Errorf("expected partial fixer step, got %s", fixerStep.Status)
	}
	if report.ExitStatus != ExitOK {
		t.Errorf("expected exit 0, got %d", report.ExitStatus)
	}

	// The analyzer's items land in the work-items artifact.
	loaded, err := LoadWorkItems(filepath.Join(outDir, "work-items.json"))
	if err != nil {
		t.Fatalf("work-items artifact unreadable: %v", err)
	}
	if len(loaded) != 5 {
		t.Errorf("expected 5 items in artifact, got %d", len(loaded))
	}
}

func TestRunMechanical_ReasoningItemsNotFixed(t *testing.T) {
	outDir := t.TempDir()
	items := []tier.WorkItem{
		{ID: "1", File: "a.py", Pattern: "print", Tier: "automated"},
		{ID: "2", File: "b.py", Pattern: "metaclass", Tier: "expert"},
		{ID: "3", File: "c.py", Pattern: "iterator", Tier: "assisted"},
	}
	fixCalls := 0
	runner := &fakeRunner{outcomes: map[string]func(toolrun.Spec) toolrun.Outcome{
		"analyze": analyzerPayload(items),
		"libswap": fixed(toolrun.StatusComplete),
		"fix": func(toolrun.Spec) toolrun.Outcome {
			fixCalls++
			return toolrun.Outcome{Status: toolrun.StatusComplete}
		},
	}}
	o := newTestOrchestrator(testConfig(), runner)

	if _, err := o.RunMechanical(context.Background(), "/proj", outDir, ""); err != nil {
		t.Fatalf("RunMechanical failed: %v", err)
	}
	if fixCalls != 1 {
		t.Errorf("only automated items get fixed, expected 1 call, got %d", fixCalls)
	}
}

func TestRunMechanical_AnalyzerInputArtifact(t *testing.T) {
	outDir := t.TempDir()
	runner := &fakeRunner{outcomes: map[string]func(toolrun.Spec) toolrun.Outcome{
		"analyze": analyzerPayload(nil),
		"libswap": fixed(toolrun.StatusComplete),
	}}
	o := newTestOrchestrator(testConfig(), runner)

	if _, err := o.RunMechanical(context.Background(), "/proj", outDir, "/runs/prev/foundation-summary.json"); err != nil {
		t.Fatalf("RunMechanical failed: %v", err)
	}
	analyzerCall := runner.calls[0]
	want := []string{"/proj", "/runs/prev/foundation-summary.json", outDir}
	if len(analyzerCall.Args) != 3 || analyzerCall.Args[1] != want[1] {
		t.Errorf("analyzer args = %v, want %v", analyzerCall.Args, want)
	}
}

func TestRunSemanticPrep_MissingArtifact(t *testing.T) {
	outDir := t.TempDir()
	o := newTestOrchestrator(testConfig(), &fakeRunner{})

	report, err := o.RunSemanticPrep(context.Background(), "/proj", outDir, "")
	if err != nil {
		t.Fatalf("RunSemanticPrep failed: %v", err)
	}
	if report.ExitStatus != ExitOK {
		t.Errorf("semantic-prep always exits 0, got %d", report.ExitStatus)
	}

	data, err := os.ReadFile(filepath.Join(outDir, "semantic-review-brief.json"))
	if err != nil {
		t.Fatalf("review brief missing: %v", err)
	}
	var brief tier.ReviewBrief
	if err := json.Unmarshal(data, &brief); err != nil {
		t.Fatalf("review brief does not decode: %v", err)
	}
	if brief.Total != 0 || brief.Assisted.Count != 0 || brief.Expert.Count != 0 {
		t.Errorf("expected all-zero brief, got %+v", brief)
	}
}

func TestRunSemanticPrep_FromArtifact(t *testing.T) {
	outDir := t.TempDir()
	doc := WorkItemsDocument{Items: []tier.WorkItem{
		{ID: "1", File: "a.py", Tier: "assisted"},
		{ID: "2", File: "b.py", Tier: "expert"},
		{ID: "3", File: "c.py", Tier: "automated"},
	}}
	data, _ := json.Marshal(doc)
	inputPath := filepath.Join(outDir, "work-items.json")
	if err := os.WriteFile(inputPath, data, 0o644); err != nil {
		t.Fatalf("writing artifact: %v", err)
	}

	o := newTestOrchestrator(testConfig(), &fakeRunner{})
	report, err := o.RunSemanticPrep(context.Background(), "/proj", outDir, inputPath)
	if err != nil {
		t.Fatalf("RunSemanticPrep failed: %v", err)
	}
	if report.Counters["assisted"] != 1 || report.Counters["expert"] != 1 || report.Counters["automated"] != 1 {
		t.Errorf("unexpected counters: %+v", report.Counters)
	}
}

// TestRunMechanical_EndToEnd exercises the real tool adapter with shell
// script tools: the fixer succeeds for four items and fails for one.
func TestRunMechanical_EndToEnd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures require a POSIX shell")
	}
	toolDir := t.TempDir()
	outDir := t.TempDir()

	items := []tier.WorkItem{
		{ID: "1", File: "a.py", Pattern: "print", Tier: "automated"},
		{ID: "2", File: "b.py", Pattern: "print", Tier: "automated"},
		{ID: "3", File: "bad.py", Pattern: "division", Tier: "automated"},
		{ID: "4", File: "c.py", Pattern: "print", Tier: "automated"},
		{ID: "5", File: "d.py", Pattern: "print", Tier: "automated"},
	}
	payload, _ := json.Marshal(WorkItemsDocument{Items: items})

	writeScript := func(name, body string) string {
		path := filepath.Join(toolDir, name)
		if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
			t.Fatalf("writing script: %v", err)
		}
		return path
	}
	analyze := writeScript("analyze.sh", "cat <<'EOF'\n"+string(payload)+"\nEOF\n")
	fix := writeScript("fix.sh", "case \"$1\" in */bad.py|bad.py) exit 5;; esac\nexit 0\n")
	libswap := writeScript("libswap.sh", "echo '{\"replaced\": 0}'\n")

	cfg := testConfig()
	cfg.Mechanical.Analyzer.Tool = analyze
	cfg.Mechanical.Fixer.Tool = fix
	cfg.Mechanical.Steps[0].Tool = libswap

	o := New(cfg, WithNarration(io.Discard))
	report, err := o.RunMechanical(context.Background(), "/proj", outDir, "")
	if err != nil {
		t.Fatalf("RunMechanical failed: %v", err)
	}

	if report.Counters["items_fixed"] != 4 || report.Counters["item_errors"] != 1 {
		t.Errorf("expected fixed=4 errors=1, got %+v", report.Counters)
	}
	if report.ExitStatus != ExitOK {
		t.Errorf("expected exit 0, got %d", report.ExitStatus)
	}
}
