// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tier partitions detected migration work items by required
// reasoning tier and curates a bounded review brief for the tiers that
// need human or LLM judgment.
package tier

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Tier labels, ordered by reasoning cost: automated < assisted < expert.
const (
	// TierAutomated marks items a mechanical fixer handles without
	// reasoning. These never appear in a review brief.
	TierAutomated = "automated"

	// TierAssisted marks items needing the first reasoning tier.
	TierAssisted = "assisted"

	// TierExpert marks items needing the second, most expensive tier.
	TierExpert = "expert"
)

// DefaultSampleCap bounds how many items per reasoning tier a brief
// carries for inspection. The exact count is always reported alongside.
const DefaultSampleCap = 20

// DefaultWeights reflect relative reasoning cost per item. Advisory only.
var DefaultWeights = Weights{Automated: 0.1, Assisted: 1.0, Expert: 4.0}

// WorkItem is one detected migration pattern occurrence.
//
// Description:
//
//	Items are created by analysis tools external to the pipeline and
//	consumed, never mutated, by the orchestrator and classifier. The ID
//	is unique within a run; Metadata is free-form and owned by the
//	fixer tool responsible for the pattern.
type WorkItem struct {
	ID       string            `json:"id"`
	File     string            `json:"file"`
	Pattern  string            `json:"pattern"`
	Tier     string            `json:"tier"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NormalizeTier canonicalizes a tier label for exact matching.
func NormalizeTier(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// EnsureID fills a missing item ID with a fresh UUID. Analysis tools are
// supposed to assign IDs; tolerating their absence keeps third-party
// analyzers usable.
func EnsureID(item *WorkItem) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
}

// Weights holds the per-tier effort weights for the advisory estimate.
type Weights struct {
	Automated float64 `json:"automated" yaml:"automated"`
	Assisted  float64 `json:"assisted" yaml:"assisted"`
	Expert    float64 `json:"expert" yaml:"expert"`
}

// Options configures classification.
type Options struct {
	// SampleCap bounds each reasoning tier's sample. Zero or negative
	// falls back to DefaultSampleCap.
	SampleCap int

	// Weights drive the advisory effort estimate. Zero-valued weights
	// fall back to DefaultWeights.
	Weights Weights
}

// TierSummary is the per-tier slice of a ReviewBrief.
type TierSummary struct {
	// Count is the exact number of items at this tier.
	Count int `json:"count"`

	// Sample holds at most the configured cap of items for inspection.
	Sample []WorkItem `json:"sample"`

	// Note states the true total versus the sample size, so truncation
	// is never silent.
	Note string `json:"note"`
}

// ReviewBrief is a derived, read-only view over the items that require
// reasoning beyond the automated tier.
type ReviewBrief struct {
	Total           int         `json:"total_items"`
	Automated       int         `json:"automated_count"`
	Assisted        TierSummary `json:"assisted"`
	Expert          TierSummary `json:"expert"`
	EstimatedEffort float64     `json:"estimated_effort"`
}

// Classify partitions work items by tier and builds a bounded brief.
//
// Description:
//
//	Tier labels are matched exactly after case/whitespace normalization.
//	Any label that is neither TierAssisted nor TierExpert counts as
//	already automated and is excluded from the brief. Every input item
//	lands in exactly one bucket; per-tier counts always sum to the input
//	size. The effort estimate is a weighted sum over tier counts and is
//	advisory, not authoritative.
func Classify(items []WorkItem, opts Options) *ReviewBrief {
	sampleCap := opts.SampleCap
	if sampleCap <= 0 {
		sampleCap = DefaultSampleCap
	}
	weights := opts.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights
	}

	brief := &ReviewBrief{
		Total:    len(items),
		Assisted: TierSummary{Sample: make([]WorkItem, 0)},
		Expert:   TierSummary{Sample: make([]WorkItem, 0)},
	}

	for _, item := range items {
		switch NormalizeTier(item.Tier) {
		case TierAssisted:
			brief.Assisted.Count++
			if len(brief.Assisted.Sample) < sampleCap {
				brief.Assisted.Sample = append(brief.Assisted.Sample, item)
			}
		case TierExpert:
			brief.Expert.Count++
			if len(brief.Expert.Sample) < sampleCap {
				brief.Expert.Sample = append(brief.Expert.Sample, item)
			}
		default:
			brief.Automated++
		}
	}

	brief.Assisted.Note = sampleNote(TierAssisted, brief.Assisted)
	brief.Expert.Note = sampleNote(TierExpert, brief.Expert)
	brief.EstimatedEffort = float64(brief.Automated)*weights.Automated +
		float64(brief.Assisted.Count)*weights.Assisted +
		float64(brief.Expert.Count)*weights.Expert

	return brief
}

// AutomatedItems returns the subset of items handled by mechanical fixers,
// in input order. Unknown tier labels count as automated, mirroring
// Classify's partition.
func AutomatedItems(items []WorkItem) []WorkItem {
	out := make([]WorkItem, 0, len(items))
	for _, item := range items {
		switch NormalizeTier(item.Tier) {
		case TierAssisted, TierExpert:
		default:
			out = append(out, item)
		}
	}
	return out
}

func sampleNote(label string, s TierSummary) string {
	return fmt.Sprintf("%s tier: showing %d of %d items", label, len(s.Sample), s.Count)
}
