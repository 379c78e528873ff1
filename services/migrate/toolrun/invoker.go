// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package toolrun runs external remediation and analysis tools as isolated
// child processes and maps their exit behavior onto a fixed outcome
// contract the phase orchestrator relies on.
package toolrun

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os/exec"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var invokerTracer = otel.Tracer("ratchet.migrate.toolrun")

// Status is the tri-state-plus-two outcome of one tool invocation.
type Status string

const (
	// StatusComplete means the tool exited 0: full success.
	StatusComplete Status = "complete"

	// StatusPartial means the tool exited 1: degraded but usable.
	StatusPartial Status = "partial"

	// StatusError means the tool exited with any other nonzero code.
	StatusError Status = "error"

	// StatusTimeout means the tool exceeded its wall-clock budget and
	// was terminated.
	StatusTimeout Status = "timeout"

	// StatusSkipped means the tool executable does not exist; no process
	// was spawned.
	StatusSkipped Status = "skipped"
)

// PayloadKind tags which payload field of an Outcome is populated.
type PayloadKind string

const (
	// PayloadStructured means stdout parsed as a JSON document.
	PayloadStructured PayloadKind = "structured"

	// PayloadRawText means stdout was not valid JSON and is carried as a
	// truncated text fallback.
	PayloadRawText PayloadKind = "raw-text"

	// PayloadAbsent means no payload was captured.
	PayloadAbsent PayloadKind = "absent"
)

const (
	// maxCaptureBytes bounds how much of each stream is buffered, so a
	// runaway tool cannot exhaust memory.
	maxCaptureBytes = 1 << 20

	// maxRawTextBytes bounds the raw-text payload fallback.
	maxRawTextBytes = 4096

	// maxDiagnosticBytes bounds the stderr prefix kept for reporting.
	maxDiagnosticBytes = 2048

	// pipeWaitDelay bounds how long Run may keep waiting on the capture
	// pipes once the child is dead or the deadline has fired. A tool
	// that forks a long-lived descendant leaves the write ends of the
	// pipes open in that descendant; without this bound Run would block
	// until the whole process tree exits.
	pipeWaitDelay = 2 * time.Second
)

// Spec describes one tool invocation.
type Spec struct {
	// Path is the tool executable: an absolute path, a relative path, or
	// a bare name resolved against PATH.
	Path string

	// Args are the positional arguments, already in tool-contract order.
	Args []string

	// Timeout is the hard wall-clock budget. Zero means no timeout.
	Timeout time.Duration
}

// Outcome is the result of one tool invocation.
//
// Description:
//
//	Status derives solely from executable existence, the process exit
//	code, and whether stdout parses as JSON — never from payload
//	content. Exactly one of Structured/RawText is populated when
//	PayloadKind says so; both are empty for PayloadAbsent.
type Outcome struct {
	Status      Status          `json:"status"`
	PayloadKind PayloadKind     `json:"payload_kind"`
	Structured  json.RawMessage `json:"structured,omitempty"`
	RawText     string          `json:"raw_text,omitempty"`
	Diagnostic  string          `json:"diagnostic,omitempty"`
	ExitCode    int             `json:"exit_code"`
	Duration    time.Duration   `json:"duration_ns"`
}

// Invoker runs external tools under the fixed outcome contract.
//
// Thread Safety: Stateless; safe for concurrent use.
type Invoker struct{}

// NewInvoker creates an Invoker.
func NewInvoker() *Invoker { return &Invoker{} }

// Invoke runs one tool and maps its behavior to an Outcome.
//
// Description:
//
//	A nonexistent executable yields StatusSkipped without spawning a
//	process, so pipelines run coherently with optional stages absent.
//	Otherwise the tool runs as a child process with both streams
//	captured (bounded) and a hard timeout; on expiry the child is
//	killed and the outcome is StatusTimeout. Exit 0 maps to complete,
//	1 to partial, anything else to error with a truncated stderr
//	prefix. For complete/partial outcomes stdout is parsed as JSON;
//	invalid JSON degrades to a truncated raw-text payload instead of
//	being discarded. The adapter never interprets why a tool failed.
//
// Inputs:
//   - ctx: Context; cancellation terminates the child like a timeout.
//   - spec: Tool path, arguments, and timeout.
//
// Outputs:
//   - Outcome: Always populated; Invoke does not return an error —
//     every failure mode is a Status.
func (inv *Invoker) Invoke(ctx context.Context, spec Spec) Outcome {
	ctx, span := invokerTracer.Start(ctx, "toolrun.Invoker.Invoke",
		trace.WithAttributes(
			attribute.String("tool", spec.Path),
			attribute.Int("args", len(spec.Args)),
		))
	defer span.End()

	start := time.Now()

	resolved, err := exec.LookPath(spec.Path)
	if err != nil && errors.Is(err, exec.ErrDot) {
		// A relative path that resolved in the working directory is
		// still a real executable.
		err = nil
	}
	if err != nil {
		slog.Info("tool not found, skipping",
			slog.String("tool", spec.Path))
		span.SetAttributes(attribute.String("outcome", string(StatusSkipped)))
		return Outcome{Status: StatusSkipped, PayloadKind: PayloadAbsent}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	var stdout, stderr boundedBuffer
	stdout.limit = maxCaptureBytes
	stderr.limit = maxCaptureBytes

	cmd := exec.CommandContext(runCtx, resolved, spec.Args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = pipeWaitDelay

	runErr := cmd.Run()
	elapsed := time.Since(start)

	out := Outcome{
		PayloadKind: PayloadAbsent,
		Duration:    elapsed,
	}

	if runErr != nil && runCtx.Err() != nil {
		// The child was killed by deadline or caller cancellation;
		// either way it did not run to completion in budget.
		out.Status = StatusTimeout
		out.ExitCode = -1
		out.Diagnostic = truncate(stderr.String(), maxDiagnosticBytes)
		slog.Warn("tool timed out",
			slog.String("tool", resolved),
			slog.Duration("budget", spec.Timeout))
		span.SetAttributes(attribute.String("outcome", string(StatusTimeout)))
		return out
	}

	exitCode := 0
	if runErr != nil && errors.Is(runErr, exec.ErrWaitDelay) {
		// The tool itself exited in budget; only abandoned pipes held
		// Run open past the delay. Its exit code still governs.
		runErr = nil
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			// Spawn-level failure after a successful LookPath (e.g.
			// permissions). The tool never produced a verdict.
			out.Status = StatusError
			out.ExitCode = -1
			out.Diagnostic = truncate(runErr.Error(), maxDiagnosticBytes)
			span.SetAttributes(attribute.String("outcome", string(StatusError)))
			return out
		}
	}
	out.ExitCode = exitCode

	switch exitCode {
	case 0:
		out.Status = StatusComplete
	case 1:
		out.Status = StatusPartial
	default:
		out.Status = StatusError
		out.Diagnostic = truncate(stderr.String(), maxDiagnosticBytes)
		slog.Warn("tool failed",
			slog.String("tool", resolved),
			slog.Int("exit_code", exitCode))
		span.SetAttributes(attribute.String("outcome", string(StatusError)))
		return out
	}

	attachPayload(&out, stdout.Bytes())
	slog.Debug("tool finished",
		slog.String("tool", resolved),
		slog.String("status", string(out.Status)),
		slog.String("payload_kind", string(out.PayloadKind)),
		slog.Duration("duration", elapsed))
	span.SetAttributes(attribute.String("outcome", string(out.Status)))
	return out
}

// attachPayload classifies stdout as structured JSON or raw-text fallback.
func attachPayload(out *Outcome, stdout []byte) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return
	}
	if json.Valid(trimmed) {
		out.PayloadKind = PayloadStructured
		out.Structured = json.RawMessage(bytes.Clone(trimmed))
		return
	}
	out.PayloadKind = PayloadRawText
	out.RawText = truncate(string(trimmed), maxRawTextBytes)
}

// truncate cuts s to at most limit bytes without splitting a UTF-8 rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// boundedBuffer keeps the first limit bytes written and drops the rest.
type boundedBuffer struct {
	buf     bytes.Buffer
	limit   int
	dropped int64
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.dropped += int64(len(p))
		return len(p), nil
	}
	if len(p) > remaining {
		b.dropped += int64(len(p) - remaining)
		b.buf.Write(p[:remaining])
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *boundedBuffer) Bytes() []byte  { return b.buf.Bytes() }
func (b *boundedBuffer) String() string { return b.buf.String() }
