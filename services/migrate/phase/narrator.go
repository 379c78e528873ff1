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
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/AleutianAI/ratchet/services/migrate/toolrun"
)

// Narrator writes the human-readable phase narration. Every phase emits
// narration even in degraded states, so a human can decide whether to
// proceed; machine automation reads the exit status instead.
type Narrator struct {
	w io.Writer

	okColor      *color.Color
	cautionColor *color.Color
	errColor     *color.Color
	headColor    *color.Color
}

// NewNarrator creates a Narrator writing to w (normally stderr).
func NewNarrator(w io.Writer) *Narrator {
	return &Narrator{
		w:            w,
		okColor:      color.New(color.FgGreen),
		cautionColor: color.New(color.FgYellow),
		errColor:     color.New(color.FgRed),
		headColor:    color.New(color.FgCyan, color.Bold),
	}
}

// PhaseStart announces the beginning of a phase.
func (n *Narrator) PhaseStart(phase, projectRoot string) {
	n.headColor.Fprintf(n.w, "==> %s phase", phase)
	fmt.Fprintf(n.w, " (%s)\n", projectRoot)
}

// Step reports one finished step.
func (n *Narrator) Step(name string, status toolrun.Status, d time.Duration) {
	c := n.statusColor(status)
	fmt.Fprintf(n.w, "    %-28s ", name)
	c.Fprintf(n.w, "%-8s", string(status))
	fmt.Fprintf(n.w, " %s\n", d.Round(time.Millisecond))
}

// Note reports a free-form narration line, e.g. degraded-input warnings.
func (n *Narrator) Note(format string, args ...any) {
	fmt.Fprintf(n.w, "    %s\n", fmt.Sprintf(format, args...))
}

// PhaseDone reports the phase verdict and exit status.
func (n *Narrator) PhaseDone(phase string, exitStatus int) {
	var c *color.Color
	var verdict string
	switch exitStatus {
	case ExitOK:
		c, verdict = n.okColor, "proceed"
	case ExitCaution:
		c, verdict = n.cautionColor, "advance with caution"
	default:
		c, verdict = n.errColor, "blocked"
	}
	fmt.Fprintf(n.w, "<== %s phase: ", phase)
	c.Fprintf(n.w, "%s", verdict)
	fmt.Fprintf(n.w, " (exit %d)\n", exitStatus)
}

func (n *Narrator) statusColor(status toolrun.Status) *color.Color {
	switch status {
	case toolrun.StatusComplete:
		return n.okColor
	case toolrun.StatusError:
		return n.errColor
	default:
		return n.cautionColor
	}
}
