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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/ratchet/services/migrate/tier"
	"github.com/AleutianAI/ratchet/services/migrate/toolrun"
)

// WorkItemsDocument is the on-disk shape of the work-items artifact.
type WorkItemsDocument struct {
	Items []tier.WorkItem `json:"items"`
}

// decodeWorkItems accepts either the wrapped document form or a bare
// array, since third-party analyzers emit both.
func decodeWorkItems(data []byte) ([]tier.WorkItem, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []tier.WorkItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("work items array does not decode: %w", err)
		}
		return items, nil
	}
	var doc WorkItemsDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("work items document does not decode: %w", err)
	}
	return doc.Items, nil
}

// LoadWorkItems reads a work-items artifact from disk.
//
// Outputs:
//   - []tier.WorkItem: Decoded items with IDs filled in.
//   - error: Wrapped I/O or decode error; errors.Is(err, fs.ErrNotExist)
//     identifies a missing artifact.
func LoadWorkItems(path string) ([]tier.WorkItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading work items %q: %w", path, err)
	}
	items, err := decodeWorkItems(data)
	if err != nil {
		return nil, err
	}
	for i := range items {
		tier.EnsureID(&items[i])
	}
	return items, nil
}

// extractWorkItems pulls items out of the analyzer's structured payload.
// A non-structured or failed outcome yields an empty set — degraded, not
// fatal, mirroring the missing-artifact behavior.
func (o *Orchestrator) extractWorkItems(outcome toolrun.Outcome) []tier.WorkItem {
	if outcome.PayloadKind != toolrun.PayloadStructured {
		if outcome.Status == toolrun.StatusComplete || outcome.Status == toolrun.StatusPartial {
			slog.Warn("analyzer produced no structured work items",
				slog.String("status", string(outcome.Status)),
				slog.String("payload_kind", string(outcome.PayloadKind)))
		}
		return nil
	}
	items, err := decodeWorkItems(outcome.Structured)
	if err != nil {
		slog.Warn("analyzer payload did not decode as work items",
			slog.String("error", err.Error()))
		return nil
	}
	for i := range items {
		tier.EnsureID(&items[i])
	}
	return items
}

// loadPriorWorkItems resolves the Semantic-Prep input: the explicit path
// when given, else the Mechanical phase's artifact in the run directory.
// Input absence degrades to an empty item set with a logged warning.
func (o *Orchestrator) loadPriorWorkItems(inputPath, outDir string) []tier.WorkItem {
	path := inputPath
	if path == "" {
		path = filepath.Join(outDir, "work-items.json")
	}
	items, err := LoadWorkItems(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("work-items artifact missing, classifying empty set",
				slog.String("path", path))
			o.narrator.Note("no work-items artifact at %s; brief will be empty", path)
		} else {
			slog.Warn("work-items artifact unreadable, classifying empty set",
				slog.String("path", path),
				slog.String("error", err.Error()))
			o.narrator.Note("work-items artifact unreadable (%v); brief will be empty", err)
		}
		return nil
	}
	return items
}
