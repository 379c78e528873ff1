// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ratchet/services/migrate/config"
	"github.com/AleutianAI/ratchet/services/migrate/phase"
)

var (
	inputArtifact  string
	timeoutSeconds int
)

func init() {
	for _, c := range []*cobra.Command{foundationCmd, mechanicalCmd, semanticPrepCmd} {
		c.Flags().StringVarP(&inputArtifact, "input", "i", "", "path to a prior phase's primary artifact")
		c.Flags().IntVar(&timeoutSeconds, "timeout", 0, "per-tool timeout in seconds (overrides config)")
		rootCmd.AddCommand(c)
	}
}

// newOrchestrator loads config, applies flag overrides, and builds the
// orchestrator shared by all three phase commands.
func newOrchestrator() (*phase.Orchestrator, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if timeoutSeconds > 0 {
		cfg.TimeoutSeconds = timeoutSeconds
	}
	return phase.New(cfg), nil
}

func resolveRun(args []string) (projectRoot, outDir string, err error) {
	projectRoot, err = filepath.Abs(args[0])
	if err != nil {
		return "", "", fmt.Errorf("resolving project root: %w", err)
	}
	outDir, err = filepath.Abs(outputDir)
	if err != nil {
		return "", "", fmt.Errorf("resolving output dir: %w", err)
	}
	return projectRoot, outDir, nil
}

var foundationCmd = &cobra.Command{
	Use:   "foundation <projectRoot>",
	Short: "Run the Foundation phase (compat injection, lint baseline, test scaffolds)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator()
		if err != nil {
			return err
		}
		projectRoot, outDir, err := resolveRun(args)
		if err != nil {
			return err
		}
		report, err := o.RunFoundation(cmd.Context(), projectRoot, outDir, inputArtifact)
		if err != nil {
			return err
		}
		exitStatus = report.ExitStatus
		return nil
	},
}

var mechanicalCmd = &cobra.Command{
	Use:   "mechanical <projectRoot>",
	Short: "Run the Mechanical phase (pattern analysis and per-item fixes)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator()
		if err != nil {
			return err
		}
		projectRoot, outDir, err := resolveRun(args)
		if err != nil {
			return err
		}
		report, err := o.RunMechanical(cmd.Context(), projectRoot, outDir, inputArtifact)
		if err != nil {
			return err
		}
		exitStatus = report.ExitStatus
		return nil
	},
}

var semanticPrepCmd = &cobra.Command{
	Use:   "semantic-prep <projectRoot>",
	Short: "Curate the semantic review brief for the reasoning tiers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator()
		if err != nil {
			return err
		}
		projectRoot, outDir, err := resolveRun(args)
		if err != nil {
			return err
		}
		report, err := o.RunSemanticPrep(cmd.Context(), projectRoot, outDir, inputArtifact)
		if err != nil {
			return err
		}
		// Semantic-Prep performs curation only; it cannot fail in a
		// blocking way.
		exitStatus = report.ExitStatus
		return nil
	},
}
