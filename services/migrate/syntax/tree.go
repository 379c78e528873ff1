// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syntax

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var builderTracer = otel.Tracer("ratchet.migrate.syntax")

// ErrorKind is the reserved node kind tree-sitter assigns to subtrees it
// could not parse. Structural success is defined as zero nodes of this kind.
const ErrorKind = "ERROR"

// DefaultMaxFileSize is the largest file the Builder accepts (10MB).
// Files larger than this fail with an I/O-class error.
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// WarnFileSize is the threshold above which a parse logs a warning (1MB).
const WarnFileSize = 1 * 1024 * 1024

// Point is a zero-based (row, column) position in a source file.
type Point struct {
	Row    uint32 `json:"row"`
	Column uint32 `json:"column"`
}

// Span is the location of one node: positions plus exact byte offsets.
type Span struct {
	StartPos    Point  `json:"start_pos"`
	EndPos      Point  `json:"end_pos"`
	StartOffset uint32 `json:"start_offset"`
	EndOffset   uint32 `json:"end_offset"`
}

// SyntaxNode is one node of a normalized, serializable parse tree.
//
// Description:
//
//	The tree mirrors tree-sitter's named structure: Kind is the grammar's
//	node type tag (ErrorKind is reserved for parse failures), offsets are
//	exact byte offsets into the raw file content, and Children are owned
//	exclusively by their parent. Sibling offsets are non-decreasing in
//	document order and a parent's span contains every child's span.
//
// Thread Safety: Immutable once returned from Parse.
type SyntaxNode struct {
	Kind     string        `json:"kind"`
	Span     Span          `json:"span"`
	Children []*SyntaxNode `json:"children,omitempty"`
}

// ParseResult is the outcome of parsing one (file, language) pair.
//
// Description:
//
//	Root is nil only when the underlying parse call failed outright
//	(FailureMessage then carries the reason). ErrorLocations lists the
//	spans of every ErrorKind node and every zero-width missing token
//	in document order. Success is true iff
//	ErrorLocations is empty — structural success says nothing about
//	semantic correctness.
//
//	Results are created per invocation and never cached; only the
//	Grammar behind them is memoized.
type ParseResult struct {
	FilePath       string      `json:"file_path"`
	Language       string      `json:"language"`
	Root           *SyntaxNode `json:"root,omitempty"`
	ErrorLocations []Span      `json:"error_locations"`
	Success        bool        `json:"success"`
	FailureMessage string      `json:"failure_message,omitempty"`
}

// BuilderOption configures a Builder instance.
type BuilderOption func(*Builder)

// WithMaxFileSize sets the maximum file size the builder will accept.
//
// Inputs:
//   - bytes: Maximum file size in bytes. Must be positive.
func WithMaxFileSize(bytes int64) BuilderOption {
	return func(b *Builder) {
		if bytes > 0 {
			b.maxFileSize = bytes
		}
	}
}

// Builder produces ParseResults for source files.
//
// Description:
//
//	Builder reads files as raw bytes (encoding-agnostic, offset-exact),
//	resolves grammars through its Resolver, and parses with a fresh
//	tree-sitter parser per call. One unparsable file never aborts a
//	batch: catastrophic parser failures come back as failed ParseResults,
//	not errors.
//
// Thread Safety:
//
//	Safe for concurrent use. Each Parse call creates its own
//	sitter.Parser; the shared Resolver is itself concurrency-safe.
type Builder struct {
	resolver    *Resolver
	maxFileSize int64
}

// NewBuilder creates a Builder backed by the given Resolver.
//
// Inputs:
//   - resolver: Grammar resolver. Must not be nil; a nil resolver gets
//     replaced with a default one so the zero-config path still works.
//   - opts: Optional configuration (WithMaxFileSize).
func NewBuilder(resolver *Resolver, opts ...BuilderOption) *Builder {
	if resolver == nil {
		resolver = NewResolver()
	}
	b := &Builder{
		resolver:    resolver,
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Parse reads and parses one source file.
//
// Description:
//
//	Parse fails with a returned error only for conditions the caller
//	must distinguish: a missing or unreadable file (wrapped I/O error),
//	an oversized file, or a language with no resolvable grammar
//	(errors.Is(err, ErrLanguageNotSupported)). If the parse call itself
//	fails, Parse returns a failed ParseResult (Root nil, Success false,
//	FailureMessage set) with a nil error — recoverable, so batch runs
//	keep going.
//
// Inputs:
//   - ctx: Context for cancellation. Checked before and after parsing;
//     tree-sitter cannot be interrupted mid-parse.
//   - filePath: Path to the source file. Made absolute in the result.
//   - language: Language name, normalized per the Resolver's rules.
//
// Outputs:
//   - *ParseResult: Never nil when error is nil.
//   - error: Missing file, unreadable file, oversized file, no grammar,
//     or context cancellation.
func (b *Builder) Parse(ctx context.Context, filePath, language string) (*ParseResult, error) {
	ctx, span := builderTracer.Start(ctx, "syntax.Builder.Parse",
		trace.WithAttributes(
			attribute.String("file", filePath),
			attribute.String("language", NormalizeLanguage(language)),
		))
	defer span.End()

	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolving path %q: %w", filePath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", absPath, err)
	}
	if info.Size() > b.maxFileSize {
		return nil, fmt.Errorf("file %q: size %d exceeds limit %d", absPath, info.Size(), b.maxFileSize)
	}

	grammar, err := b.resolver.Resolve(language)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", absPath, err)
	}

	if len(content) > WarnFileSize {
		slog.Warn("parsing large file",
			slog.String("file", absPath),
			slog.Int("size_bytes", len(content)))
	}

	result := &ParseResult{
		FilePath:       absPath,
		Language:       grammar.Name,
		ErrorLocations: make([]Span, 0),
	}

	parser := sitter.NewParser()
	parser.SetLanguage(grammar.Language)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		// Catastrophic parser failure is recoverable per file.
		result.Success = false
		result.FailureMessage = err.Error()
		slog.Warn("parse failed outright",
			slog.String("file", absPath),
			slog.String("language", grammar.Name),
			slog.String("error", err.Error()))
		span.SetAttributes(attribute.Bool("parse.failed", true))
		return result, nil
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled after tree-sitter: %w", err)
	}

	root := tree.RootNode()
	if root == nil {
		result.Success = false
		result.FailureMessage = "tree-sitter returned nil root node"
		return result, nil
	}

	result.Root = buildTree(root, result)
	if len(result.ErrorLocations) == 0 && root.HasError() {
		// Recovery occasionally repairs the tree without leaving an
		// ERROR or missing node behind; trust the parser's verdict and
		// point at the whole file.
		result.ErrorLocations = append(result.ErrorLocations, result.Root.Span)
	}
	result.Success = len(result.ErrorLocations) == 0

	span.SetAttributes(
		attribute.Bool("parse.success", result.Success),
		attribute.Int("parse.error_nodes", len(result.ErrorLocations)),
		attribute.Int64("parse.duration_ms", time.Since(start).Milliseconds()),
	)
	slog.Debug("parsed file",
		slog.String("file", absPath),
		slog.String("language", grammar.Name),
		slog.Bool("success", result.Success),
		slog.Int("error_nodes", len(result.ErrorLocations)))

	return result, nil
}

// buildTree converts a tree-sitter tree into the serializable SyntaxNode
// form with one pre-order pass, collecting ErrorKind spans along the way.
// The walk uses an explicit stack so pathological nesting depth cannot
// overflow the goroutine stack.
func buildTree(root *sitter.Node, result *ParseResult) *SyntaxNode {
	type frame struct {
		src *sitter.Node
		dst *SyntaxNode
	}

	out := newSyntaxNode(root)
	stack := []frame{{src: root, dst: out}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		// Recording at visit time keeps error locations in pre-order,
		// i.e. document order. Zero-width missing tokens are error
		// recovery too: tree-sitter inserts them instead of an ERROR
		// node when it can guess the expected token.
		if f.dst.Kind == ErrorKind || f.src.IsMissing() {
			result.ErrorLocations = append(result.ErrorLocations, f.dst.Span)
		}

		n := int(f.src.ChildCount())
		if n == 0 {
			continue
		}
		f.dst.Children = make([]*SyntaxNode, n)
		for i := 0; i < n; i++ {
			f.dst.Children[i] = newSyntaxNode(f.src.Child(i))
		}
		// Push in reverse so the leftmost child is visited first.
		for i := n - 1; i >= 0; i-- {
			stack = append(stack, frame{src: f.src.Child(i), dst: f.dst.Children[i]})
		}
	}
	return out
}

func newSyntaxNode(n *sitter.Node) *SyntaxNode {
	return &SyntaxNode{
		Kind: n.Type(),
		Span: Span{
			StartPos:    Point{Row: n.StartPoint().Row, Column: n.StartPoint().Column},
			EndPos:      Point{Row: n.EndPoint().Row, Column: n.EndPoint().Column},
			StartOffset: n.StartByte(),
			EndOffset:   n.EndByte(),
		},
	}
}

// Contains reports whether s fully contains other.
func (s Span) Contains(other Span) bool {
	return s.StartOffset <= other.StartOffset && other.EndOffset <= s.EndOffset
}
