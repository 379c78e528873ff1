// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tier

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id, tierLabel string) WorkItem {
	return WorkItem{ID: id, File: id + ".py", Pattern: "print-statement", Tier: tierLabel}
}

func TestClassify_Partition(t *testing.T) {
	items := []WorkItem{
		item("a", "automated"),
		item("b", "Assisted"),
		item("c", "EXPERT"),
		item("d", " assisted "),
		item("e", "unknown-label"),
		item("f", ""),
	}

	brief := Classify(items, Options{})
	require.NotNil(t, brief)

	// Every item lands in exactly one bucket and the counts sum.
	assert.Equal(t, 6, brief.Total)
	assert.Equal(t, 3, brief.Automated, "unknown and empty labels count as automated")
	assert.Equal(t, 2, brief.Assisted.Count)
	assert.Equal(t, 1, brief.Expert.Count)
	assert.Equal(t, brief.Total, brief.Automated+brief.Assisted.Count+brief.Expert.Count)
}

func TestClassify_SampleCap(t *testing.T) {
	items := make([]WorkItem, 0, 1000)
	for i := 0; i < 1000; i++ {
		items = append(items, item(fmt.Sprintf("i%04d", i), TierAssisted))
	}

	brief := Classify(items, Options{})

	assert.Equal(t, 1000, brief.Assisted.Count, "exact count retained")
	assert.Len(t, brief.Assisted.Sample, DefaultSampleCap, "sample bounded by cap")
	assert.Contains(t, brief.Assisted.Note, "showing 20 of 1000", "truncation is never silent")

	// First items in input order are sampled.
	assert.Equal(t, "i0000", brief.Assisted.Sample[0].ID)
}

func TestClassify_CustomCap(t *testing.T) {
	items := []WorkItem{item("a", TierExpert), item("b", TierExpert), item("c", TierExpert)}
	brief := Classify(items, Options{SampleCap: 2})

	assert.Equal(t, 3, brief.Expert.Count)
	assert.Len(t, brief.Expert.Sample, 2)
}

func TestClassify_Empty(t *testing.T) {
	brief := Classify(nil, Options{})

	assert.Equal(t, 0, brief.Total)
	assert.Equal(t, 0, brief.Automated)
	assert.Equal(t, 0, brief.Assisted.Count)
	assert.Equal(t, 0, brief.Expert.Count)
	assert.Zero(t, brief.EstimatedEffort)
	assert.NotNil(t, brief.Assisted.Sample, "sample serializes as [] not null")
	assert.NotNil(t, brief.Expert.Sample)
}

func TestClassify_EffortEstimate(t *testing.T) {
	items := []WorkItem{
		item("a", TierAutomated),
		item("b", TierAutomated),
		item("c", TierAssisted),
		item("d", TierExpert),
	}
	brief := Classify(items, Options{Weights: Weights{Automated: 0.5, Assisted: 2, Expert: 10}})

	assert.InDelta(t, 2*0.5+1*2+1*10, brief.EstimatedEffort, 1e-9)
}

func TestClassify_DefaultWeights(t *testing.T) {
	brief := Classify([]WorkItem{item("a", TierExpert)}, Options{})
	assert.InDelta(t, DefaultWeights.Expert, brief.EstimatedEffort, 1e-9)
}

func TestAutomatedItems(t *testing.T) {
	items := []WorkItem{
		item("a", "automated"),
		item("b", "assisted"),
		item("c", "mystery"),
		item("d", "expert"),
		item("e", "Automated"),
	}
	automated := AutomatedItems(items)

	require.Len(t, automated, 3)
	assert.Equal(t, "a", automated[0].ID)
	assert.Equal(t, "c", automated[1].ID, "unknown labels fall to the automated bucket")
	assert.Equal(t, "e", automated[2].ID)
}

func TestEnsureID(t *testing.T) {
	it := WorkItem{File: "x.py"}
	EnsureID(&it)
	require.NotEmpty(t, it.ID)

	fixed := WorkItem{ID: "keep-me"}
	EnsureID(&fixed)
	assert.Equal(t, "keep-me", fixed.ID)
}

func TestNormalizeTier(t *testing.T) {
	assert.Equal(t, "assisted", NormalizeTier("  Assisted\t"))
	assert.Equal(t, "expert", NormalizeTier("EXPERT"))
}
