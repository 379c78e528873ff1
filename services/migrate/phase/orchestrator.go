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
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ratchet/services/migrate/config"
	"github.com/AleutianAI/ratchet/services/migrate/tier"
	"github.com/AleutianAI/ratchet/services/migrate/toolrun"
)

var phaseTracer = otel.Tracer("ratchet.migrate.phase")

// Runner abstracts tool invocation so tests can substitute a fake.
type Runner interface {
	Invoke(ctx context.Context, spec toolrun.Spec) toolrun.Outcome
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRunner replaces the default tool invoker.
func WithRunner(r Runner) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.runner = r
		}
	}
}

// WithNarration redirects the human-readable narration stream.
func WithNarration(w io.Writer) Option {
	return func(o *Orchestrator) {
		if w != nil {
			o.narrator = NewNarrator(w)
		}
	}
}

// Orchestrator sequences the three migration phases.
//
// Description:
//
//	Foundation → Mechanical → Semantic-Prep, in strict order. The
//	orchestrator never re-enters an earlier phase automatically; phase
//	transitions are a caller decision based on the exit status. Steps
//	run sequentially — later steps may depend on files mutated by
//	earlier ones, so there is no parallel fan-out.
//
// Thread Safety:
//
//	A single Orchestrator must not run phases concurrently against the
//	same output directory. Distinct output directories per run are the
//	caller's responsibility.
type Orchestrator struct {
	cfg      *config.Config
	runner   Runner
	narrator *Narrator
}

// New creates an Orchestrator with the real tool invoker and stderr
// narration.
func New(cfg *config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		runner:   toolrun.NewInvoker(),
		narrator: NewNarrator(os.Stderr),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// runStep invokes one configured tool step, narrates it, writes its
// artifact when configured, and returns its record.
func (o *Orchestrator) runStep(ctx context.Context, step config.StepSpec, args []string, outDir string) StepRecord {
	start := time.Now()
	outcome := o.runner.Invoke(ctx, toolrun.Spec{
		Path:    step.Tool,
		Args:    args,
		Timeout: o.cfg.Timeout(),
	})
	rec := StepRecord{
		Name:           step.Name,
		Status:         outcome.Status,
		DurationMillis: time.Since(start).Milliseconds(),
		Diagnostic:     outcome.Diagnostic,
	}
	if step.Artifact != "" && outcome.Status != toolrun.StatusSkipped {
		if _, err := writeArtifact(outDir, step.Artifact, outcome); err != nil {
			slog.Warn("failed to write step artifact",
				slog.String("step", step.Name),
				slog.String("error", err.Error()))
		}
	}
	o.narrator.Step(step.Name, outcome.Status, time.Since(start))
	slog.Info("phase step finished",
		slog.String("step", step.Name),
		slog.String("status", string(outcome.Status)),
		slog.Int("exit_code", outcome.ExitCode))
	return rec
}

// finishReport stamps, persists, and narrates a phase report.
func (o *Orchestrator) finishReport(report *Report, outDir, summaryName string) error {
	report.FinishedAt = time.Now().UTC()
	if _, err := writeArtifact(outDir, summaryName, report); err != nil {
		return err
	}
	o.narrator.PhaseDone(report.Phase, report.ExitStatus)
	return nil
}

// RunFoundation executes the Foundation phase: each configured step runs
// through the tool adapter with `<projectRoot> [inputPath] <outDir>` per
// the tool contract, and the phase summary lands in
// foundation-summary.json.
//
// Inputs:
//   - inputPath: Optional prior artifact handed to every step as its
//     middle positional argument. Empty omits the argument.
//
// Outputs:
//   - *Report: Always non-nil when error is nil; ExitStatus is the
//     phase aggregation per Aggregate.
//   - error: Only for artifact I/O failures — tool failures are statuses.
func (o *Orchestrator) RunFoundation(ctx context.Context, projectRoot, outDir, inputPath string) (*Report, error) {
	ctx, span := phaseTracer.Start(ctx, "phase.Orchestrator.RunFoundation",
		trace.WithAttributes(attribute.String("project_root", projectRoot)))
	defer span.End()

	report := &Report{
		Phase:       PhaseFoundation,
		RunID:       uuid.NewString(),
		ProjectRoot: projectRoot,
		StartedAt:   time.Now().UTC(),
	}
	o.narrator.PhaseStart(PhaseFoundation, projectRoot)

	stepArgs := []string{projectRoot}
	if inputPath != "" {
		stepArgs = append(stepArgs, inputPath)
	}
	stepArgs = append(stepArgs, outDir)

	for _, step := range o.cfg.Foundation.Steps {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("foundation phase canceled: %w", err)
		}
		report.Steps = append(report.Steps, o.runStep(ctx, step, stepArgs, outDir))
	}

	report.ExitStatus = Aggregate(report.Steps, o.cfg.StrictPartial)
	span.SetAttributes(attribute.Int("exit_status", report.ExitStatus))
	if err := o.finishReport(report, outDir, "foundation-summary.json"); err != nil {
		return nil, err
	}
	return report, nil
}

// RunMechanical executes the Mechanical phase: the analyzer emits work
// items, the fixer runs once per fully-automated item, then any trailing
// tool steps run. The summary lands in mechanical-summary.json.
//
// Inputs:
//   - inputPath: Optional prior-phase artifact handed to the analyzer as
//     an extra positional argument. Empty means none.
func (o *Orchestrator) RunMechanical(ctx context.Context, projectRoot, outDir, inputPath string) (*Report, error) {
	ctx, span := phaseTracer.Start(ctx, "phase.Orchestrator.RunMechanical",
		trace.WithAttributes(attribute.String("project_root", projectRoot)))
	defer span.End()

	report := &Report{
		Phase:       PhaseMechanical,
		RunID:       uuid.NewString(),
		ProjectRoot: projectRoot,
		StartedAt:   time.Now().UTC(),
		Counters:    map[string]int{},
	}
	o.narrator.PhaseStart(PhaseMechanical, projectRoot)

	// Step 1: pattern analysis. The analyzer's structured payload is the
	// work-items document consumed by the fixer loop and by Semantic-Prep.
	analyzerArgs := []string{projectRoot}
	if inputPath != "" {
		analyzerArgs = append(analyzerArgs, inputPath)
	}
	analyzerArgs = append(analyzerArgs, outDir)

	analyzerStart := time.Now()
	analyzerOutcome := o.runner.Invoke(ctx, toolrun.Spec{
		Path:    o.cfg.Mechanical.Analyzer.Tool,
		Args:    analyzerArgs,
		Timeout: o.cfg.Timeout(),
	})
	analyzerRec := StepRecord{
		Name:           o.cfg.Mechanical.Analyzer.Name,
		Status:         analyzerOutcome.Status,
		DurationMillis: time.Since(analyzerStart).Milliseconds(),
		Diagnostic:     analyzerOutcome.Diagnostic,
	}
	o.narrator.Step(analyzerRec.Name, analyzerRec.Status, time.Since(analyzerStart))

	items := o.extractWorkItems(analyzerOutcome)
	if items == nil {
		items = []tier.WorkItem{}
	}
	analyzerRec.Counters = map[string]int{"items_detected": len(items)}
	report.Steps = append(report.Steps, analyzerRec)
	report.Counters["items_detected"] = len(items)

	if artifact := o.cfg.Mechanical.Analyzer.Artifact; artifact != "" {
		if _, err := writeArtifact(outDir, artifact, WorkItemsDocument{Items: items}); err != nil {
			slog.Warn("failed to write work-items artifact",
				slog.String("error", err.Error()))
		}
	}

	// Step 2: mechanical fixer loop, one invocation per automated item.
	// Individual item failures degrade the step to partial but never to
	// error, preserving forward progress on an otherwise-healthy codebase.
	fixerRec := o.runFixerLoop(ctx, tier.AutomatedItems(items), outDir)
	report.Steps = append(report.Steps, fixerRec)
	report.Counters["items_fixed"] = fixerRec.Counters["fixed"]
	report.Counters["item_errors"] = fixerRec.Counters["errors"]

	// Step 3: trailing tool steps (library replacement etc.).
	for _, step := range o.cfg.Mechanical.Steps {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("mechanical phase canceled: %w", err)
		}
		report.Steps = append(report.Steps, o.runStep(ctx, step, []string{projectRoot, outDir}, outDir))
	}

	report.ExitStatus = Aggregate(report.Steps, o.cfg.StrictPartial)
	span.SetAttributes(
		attribute.Int("exit_status", report.ExitStatus),
		attribute.Int("items_fixed", report.Counters["items_fixed"]),
		attribute.Int("item_errors", report.Counters["item_errors"]),
	)
	if err := o.finishReport(report, outDir, "mechanical-summary.json"); err != nil {
		return nil, err
	}
	return report, nil
}

// runFixerLoop invokes the fixer once per item, sequentially, tracking
// fixed and error counts separately from the phase-level step statuses.
func (o *Orchestrator) runFixerLoop(ctx context.Context, items []tier.WorkItem, outDir string) StepRecord {
	start := time.Now()
	fixed, errored, skipped := 0, 0, 0

	for i := range items {
		tier.EnsureID(&items[i])
		outcome := o.runner.Invoke(ctx, toolrun.Spec{
			Path:    o.cfg.Mechanical.Fixer.Tool,
			Args:    []string{items[i].File, items[i].Pattern, items[i].ID, outDir},
			Timeout: o.cfg.Timeout(),
		})
		switch outcome.Status {
		case toolrun.StatusComplete, toolrun.StatusPartial:
			fixed++
		case toolrun.StatusSkipped:
			skipped++
		default:
			errored++
			slog.Warn("fixer failed for item",
				slog.String("item_id", items[i].ID),
				slog.String("file", items[i].File),
				slog.String("pattern", items[i].Pattern),
				slog.String("status", string(outcome.Status)))
		}
	}

	status := toolrun.StatusComplete
	switch {
	case len(items) > 0 && skipped == len(items):
		// The fixer executable itself is absent; surface the whole loop
		// as skipped so aggregation lands on advance-with-caution.
		status = toolrun.StatusSkipped
	case errored > 0:
		status = toolrun.StatusPartial
	}

	rec := StepRecord{
		Name:           o.cfg.Mechanical.Fixer.Name,
		Status:         status,
		Counters:       map[string]int{"fixed": fixed, "errors": errored, "skipped": skipped},
		DurationMillis: time.Since(start).Milliseconds(),
	}
	o.narrator.Step(rec.Name, rec.Status, time.Since(start))
	o.narrator.Note("fixed=%d errors=%d of %d automated items", fixed, errored, len(items))
	return rec
}

// RunSemanticPrep executes the Semantic-Prep phase: pure local curation
// of the review brief, no external invocation. The phase cannot fail in a
// blocking way and always reports ExitOK.
//
// Inputs:
//   - inputPath: Path to the work-items artifact. Empty falls back to
//     <outDir>/work-items.json. A missing or empty artifact degrades to
//     an empty item set with a logged warning, never a crash.
func (o *Orchestrator) RunSemanticPrep(ctx context.Context, projectRoot, outDir, inputPath string) (*Report, error) {
	_, span := phaseTracer.Start(ctx, "phase.Orchestrator.RunSemanticPrep",
		trace.WithAttributes(attribute.String("project_root", projectRoot)))
	defer span.End()

	report := &Report{
		Phase:       PhaseSemanticPrep,
		RunID:       uuid.NewString(),
		ProjectRoot: projectRoot,
		StartedAt:   time.Now().UTC(),
		Counters:    map[string]int{},
	}
	o.narrator.PhaseStart(PhaseSemanticPrep, projectRoot)

	start := time.Now()
	items := o.loadPriorWorkItems(inputPath, outDir)

	brief := tier.Classify(items, tier.Options{
		SampleCap: o.cfg.SampleCap,
		Weights:   o.cfg.TierWeights,
	})
	if _, err := writeArtifact(outDir, "semantic-review-brief.json", brief); err != nil {
		return nil, err
	}

	rec := StepRecord{
		Name:   "curate-review-brief",
		Status: toolrun.StatusComplete,
		Counters: map[string]int{
			"total":     brief.Total,
			"automated": brief.Automated,
			"assisted":  brief.Assisted.Count,
			"expert":    brief.Expert.Count,
		},
		DurationMillis: time.Since(start).Milliseconds(),
	}
	report.Steps = append(report.Steps, rec)
	report.Counters = rec.Counters
	report.ExitStatus = ExitOK

	o.narrator.Step(rec.Name, rec.Status, time.Since(start))
	o.narrator.Note("assisted=%d expert=%d estimated effort %.1f",
		brief.Assisted.Count, brief.Expert.Count, brief.EstimatedEffort)
	span.SetAttributes(attribute.Int("total_items", brief.Total))

	if err := o.finishReport(report, outDir, "semantic-prep-summary.json"); err != nil {
		return nil, err
	}
	return report, nil
}
