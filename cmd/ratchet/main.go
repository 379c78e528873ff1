// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command ratchet drives the tiered source-code migration pipeline.
//
// One subcommand per phase, executed in strict order by the operator:
//
//	ratchet foundation <projectRoot>     # compat injection, lint baseline, test scaffolds
//	ratchet mechanical <projectRoot>     # pattern analysis + mechanical fixes
//	ratchet semantic-prep <projectRoot>  # curate the review brief for reasoning tiers
//
// The process exit code is the phase aggregation status: 0 proceed,
// 1 advance with caution, 2 blocked. semantic-prep always exits 0.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	outputDir  string
	verbose    bool

	// exitStatus carries the phase aggregation status out of RunE so
	// main can use it as the process exit code.
	exitStatus int
)

var rootCmd = &cobra.Command{
	Use:           "ratchet",
	Short:         "Tiered source-code migration pipeline",
	Long:          "ratchet classifies detected migration patterns into automation tiers and\nroutes each tier through mechanical fixers or escalating semantic review.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "pipeline config file (YAML); defaults to the embedded configuration")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "./migration_output", "run output directory for artifacts and summaries")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitBlockedFallback)
	}
	os.Exit(exitStatus)
}

// ExitBlockedFallback is used when a phase could not even produce a
// report (bad arguments, unwritable output directory). It matches the
// blocking status so automation never advances past a broken run.
const ExitBlockedFallback = 2
