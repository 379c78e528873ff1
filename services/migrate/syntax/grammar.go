// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package syntax provides the syntax-tree acquisition layer for the
// migration pipeline: grammar resolution across ordered back-end
// providers, and error-annotated parse trees built on tree-sitter.
package syntax

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	tsc "github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/css"
	"github.com/smacker/go-tree-sitter/cue"
	"github.com/smacker/go-tree-sitter/dockerfile"
	"github.com/smacker/go-tree-sitter/elixir"
	"github.com/smacker/go-tree-sitter/elm"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/groovy"
	"github.com/smacker/go-tree-sitter/hcl"
	"github.com/smacker/go-tree-sitter/html"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/lua"
	"github.com/smacker/go-tree-sitter/ocaml"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/protobuf"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/scala"
	"github.com/smacker/go-tree-sitter/sql"
	"github.com/smacker/go-tree-sitter/svelte"
	"github.com/smacker/go-tree-sitter/swift"
	"github.com/smacker/go-tree-sitter/toml"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
	tsyaml "github.com/smacker/go-tree-sitter/yaml"
	"golang.org/x/sync/singleflight"
)

// ErrLanguageNotSupported is returned by Resolver.Resolve when no provider
// can supply a grammar for the requested language. Callers use errors.Is
// to distinguish "no grammar" from I/O failures.
var ErrLanguageNotSupported = errors.New("language not supported by any grammar provider")

// Grammar is a resolved, process-lifetime parser definition for one language.
//
// Description:
//
//	A Grammar pairs the normalized language name with the tree-sitter
//	language object supplied by the winning provider. Grammars are
//	memoized by the Resolver and shared; they carry no per-parse state
//	(the Builder creates a fresh sitter.Parser per Parse call).
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Grammar struct {
	// Name is the normalized language name (lowercase, trimmed).
	Name string

	// Language is the tree-sitter grammar used to configure parsers.
	Language *sitter.Language

	// Provider is the name of the provider that resolved the grammar.
	Provider string
}

// Provider resolves language names to tree-sitter grammars.
//
// Description:
//
//	Providers form an ordered fallback chain inside the Resolver: the
//	first provider that reports ok=true wins. A provider must treat an
//	unknown language as a decline (ok=false), never as an error — the
//	Resolver owns the "nothing resolved" failure.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Provider interface {
	// Name identifies the provider in logs and resolved Grammars.
	Name() string

	// TryResolve returns the grammar for the normalized language name,
	// or ok=false when this provider does not carry it.
	TryResolve(language string) (*sitter.Language, bool)
}

// NormalizeLanguage canonicalizes a user-supplied language name.
// Resolution is case-insensitive and ignores surrounding whitespace.
func NormalizeLanguage(language string) string {
	return strings.ToLower(strings.TrimSpace(language))
}

// =============================================================================
// Built-in Grammar Provider
// =============================================================================

// builtinGrammars maps normalized language names to grammar constructors.
// Constructors are trivially cheap; the map exists so the provider never
// touches cgo state for languages nobody asks about.
var builtinGrammars = map[string]func() *sitter.Language{
	"bash":       bash.GetLanguage,
	"c":          tsc.GetLanguage,
	"cpp":        cpp.GetLanguage,
	"csharp":     csharp.GetLanguage,
	"css":        css.GetLanguage,
	"cue":        cue.GetLanguage,
	"dockerfile": dockerfile.GetLanguage,
	"elixir":     elixir.GetLanguage,
	"elm":        elm.GetLanguage,
	"go":         golang.GetLanguage,
	"groovy":     groovy.GetLanguage,
	"hcl":        hcl.GetLanguage,
	"html":       html.GetLanguage,
	"java":       java.GetLanguage,
	"javascript": javascript.GetLanguage,
	"kotlin":     kotlin.GetLanguage,
	"lua":        lua.GetLanguage,
	"ocaml":      ocaml.GetLanguage,
	"php":        php.GetLanguage,
	"protobuf":   protobuf.GetLanguage,
	"python":     python.GetLanguage,
	"ruby":       ruby.GetLanguage,
	"rust":       rust.GetLanguage,
	"scala":      scala.GetLanguage,
	"sql":        sql.GetLanguage,
	"svelte":     svelte.GetLanguage,
	"swift":      swift.GetLanguage,
	"toml":       toml.GetLanguage,
	"tsx":        tsx.GetLanguage,
	"typescript": typescript.GetLanguage,
	"yaml":       tsyaml.GetLanguage,
}

// BuiltinProvider resolves the grammars compiled into the binary.
type BuiltinProvider struct{}

// Name returns "builtin".
func (BuiltinProvider) Name() string { return "builtin" }

// TryResolve looks the language up in the compiled-in grammar table.
func (BuiltinProvider) TryResolve(language string) (*sitter.Language, bool) {
	ctor, ok := builtinGrammars[language]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// =============================================================================
// Extension-Alias Provider
// =============================================================================

// extensionAliases maps file-extension style names onto canonical language
// names. Migration manifests frequently record "py" or ".ts" where the
// canonical grammar name is expected; the alias provider absorbs that.
var extensionAliases = map[string]string{
	"cc":     "cpp",
	"cs":     "csharp",
	"cxx":    "cpp",
	"ex":     "elixir",
	"exs":    "elixir",
	"golang": "go",
	"h":      "c",
	"hpp":    "cpp",
	"htm":    "html",
	"js":     "javascript",
	"jsx":    "javascript",
	"kt":     "kotlin",
	"mjs":    "javascript",
	"ml":     "ocaml",
	"proto":  "protobuf",
	"py":     "python",
	"pyi":    "python",
	"rb":     "ruby",
	"rs":     "rust",
	"sh":     "bash",
	"ts":     "typescript",
	"yml":    "yaml",
}

// ExtensionAliasProvider resolves extension-style names ("py", ".ts",
// "golang") by translating them to canonical names and delegating to the
// built-in grammar table. It sits after BuiltinProvider in the default
// chain so canonical names never take the alias path.
type ExtensionAliasProvider struct{}

// Name returns "extension-alias".
func (ExtensionAliasProvider) Name() string { return "extension-alias" }

// TryResolve translates an alias (with or without a leading dot) and
// resolves it against the built-in grammar table.
func (ExtensionAliasProvider) TryResolve(language string) (*sitter.Language, bool) {
	alias := strings.TrimPrefix(language, ".")
	canonical, ok := extensionAliases[alias]
	if !ok {
		// A dotted form of a canonical name ('.go') is also accepted.
		if _, direct := builtinGrammars[alias]; !direct {
			return nil, false
		}
		canonical = alias
	}
	return BuiltinProvider{}.TryResolve(canonical)
}

// =============================================================================
// Resolver
// =============================================================================

// ResolverOption configures a Resolver instance.
type ResolverOption func(*Resolver)

// WithProviders replaces the default provider chain.
//
// Inputs:
//   - providers: Ordered provider list. Earlier providers win. Must be
//     non-empty; an empty slice is ignored.
func WithProviders(providers ...Provider) ResolverOption {
	return func(r *Resolver) {
		if len(providers) > 0 {
			r.providers = providers
		}
	}
}

// Resolver memoizes grammar resolution across an ordered provider chain.
//
// Description:
//
//	Resolve normalizes the language name, consults the cache, and on a
//	miss asks each provider in order until one yields a grammar. The
//	winning grammar is memoized for the lifetime of the Resolver; there
//	is no eviction. A failed resolution is not cached, and a failure for
//	one language never affects the cache entry of another.
//
//	The cache is an explicit object owned by the Resolver — callers that
//	want process-wide memoization share one Resolver instance.
//
// Thread Safety:
//
//	Safe for concurrent use. Concurrent misses for the same language are
//	collapsed to a single provider pass via singleflight, so each
//	language loads at most once.
type Resolver struct {
	providers []Provider
	group     singleflight.Group

	mu    sync.RWMutex
	cache map[string]*Grammar
	loads map[string]int
}

// NewResolver creates a Resolver with the default provider chain
// (BuiltinProvider, then ExtensionAliasProvider).
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		providers: []Provider{BuiltinProvider{}, ExtensionAliasProvider{}},
		cache:     make(map[string]*Grammar),
		loads:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the grammar for a language, loading it on first use.
//
// Description:
//
//	The language name is case-insensitive and whitespace-trimmed:
//	"Python" and "python " resolve to the same cache entry. When every
//	provider declines, Resolve returns an error wrapping
//	ErrLanguageNotSupported — a sentinel, not a crash, so batch callers
//	can record "no grammar" per file and continue.
//
// Outputs:
//   - *Grammar: The memoized grammar. Never nil when error is nil.
//   - error: ErrLanguageNotSupported (wrapped) when nothing resolves.
func (r *Resolver) Resolve(language string) (*Grammar, error) {
	key := NormalizeLanguage(language)
	if key == "" {
		return nil, fmt.Errorf("%w: empty language name", ErrLanguageNotSupported)
	}

	r.mu.RLock()
	g, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return g, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		// Double-checked: another flight may have populated the cache
		// between the RUnlock above and this flight starting.
		r.mu.RLock()
		cached, hit := r.cache[key]
		r.mu.RUnlock()
		if hit {
			return cached, nil
		}

		for _, p := range r.providers {
			lang, resolved := p.TryResolve(key)
			if !resolved {
				continue
			}
			g := &Grammar{Name: key, Language: lang, Provider: p.Name()}
			r.mu.Lock()
			r.cache[key] = g
			r.loads[key]++
			r.mu.Unlock()
			slog.Debug("grammar resolved",
				slog.String("language", key),
				slog.String("provider", p.Name()))
			return g, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrLanguageNotSupported, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Grammar), nil
}

// LoadCount reports how many times a language was actually loaded from a
// provider (cache hits excluded). Exposed so tests can observe that
// resolution is idempotent.
func (r *Resolver) LoadCount(language string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loads[NormalizeLanguage(language)]
}

// Languages returns the sorted canonical names the built-in provider
// carries. Used by the CLI for help output.
func Languages() []string {
	names := make([]string, 0, len(builtinGrammars))
	for name := range builtinGrammars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
