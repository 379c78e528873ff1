// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command syntaxdump parses one source file and prints its ParseResult
// as JSON. It exits 0 on structural success (no error nodes) and 1
// otherwise, so analysis tools can use it both as a parser and as a
// syntax gate.
//
// Usage:
//
//	syntaxdump --language python path/to/file.py
//	syntaxdump path/to/file.py          # language inferred from extension
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ratchet/services/migrate/syntax"
)

var (
	languageFlag string
	outputPath   string
)

var dumpCmd = &cobra.Command{
	Use:           "syntaxdump <file>",
	Short:         "Parse one source file and emit its syntax tree as JSON",
	Long:          "Parse one source file and emit its ParseResult as JSON.\n\nSupported languages: " + strings.Join(syntax.Languages(), ", "),
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDump,
}

func init() {
	dumpCmd.Flags().StringVarP(&languageFlag, "language", "l", "", "language name (default: inferred from the file extension)")
	dumpCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the ParseResult to a file instead of stdout")
}

func runDump(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	language := languageFlag
	if language == "" {
		language = strings.TrimPrefix(filepath.Ext(filePath), ".")
		if language == "" {
			return fmt.Errorf("cannot infer language for %q; pass --language", filePath)
		}
	}

	builder := syntax.NewBuilder(syntax.NewResolver())
	result, err := builder.Parse(context.Background(), filePath, language)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling parse result: %w", err)
	}
	data = append(data, '\n')

	if outputPath != "" {
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return fmt.Errorf("writing %q: %w", outputPath, err)
		}
	} else {
		os.Stdout.Write(data)
	}

	if !result.Success {
		structuralFailure = true
	}
	return nil
}

// structuralFailure distinguishes "parsed, but the tree contains error
// nodes" (exit 1) from hard failures like a missing file (also exit 1 per
// the command contract, reported on stderr).
var structuralFailure bool

func main() {
	if err := dumpCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if structuralFailure {
		os.Exit(1)
	}
}
