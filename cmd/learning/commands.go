// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string
	serverURL  string

	exportCategory    string
	exportMinTier     string
	exportMinQuality  float64
	exportMaxExamples int
	exportBalance     bool

	rollbackReason string

	rootCmd = &cobra.Command{
		Use:   "learning",
		Short: "A cli to run and manage the BecasScore learning pipeline",
		Long: `The learning pipeline turns moderation decisions into training
data, fine-tunes category models when enough high-quality examples
accumulate, and keeps deployed models fresh with incremental updates.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the learning pipeline server",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Request a dataset export from a running server",
		RunE:  runExport, // Defined in cmd_admin.go
	}

	promoteCmd = &cobra.Command{
		Use:   "promote [job-id]",
		Short: "Approve a candidate model that is awaiting promotion",
		Args:  cobra.ExactArgs(1),
		RunE:  runPromote, // Defined in cmd_admin.go
	}

	rollbackCmd = &cobra.Command{
		Use:   "rollback [category]",
		Short: "Restore the previously deployed model for a category",
		Args:  cobra.ExactArgs(1),
		RunE:  runRollback, // Defined in cmd_admin.go
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show per-category training pool statistics",
		RunE:  runStats, // Defined in cmd_admin.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		"http://localhost:12310", "Base URL of a running learning server")

	serveCmd.Flags().StringVar(&configPath, "config", "",
		"Path to the YAML config file (optional)")

	exportCmd.Flags().StringVar(&exportCategory, "category", "",
		"Restrict the export to one category")
	exportCmd.Flags().StringVar(&exportMinTier, "min-tier", "",
		"Minimum quality tier (gold, silver, bronze)")
	exportCmd.Flags().Float64Var(&exportMinQuality, "min-quality", 0,
		"Minimum quality score in [0,1]")
	exportCmd.Flags().IntVar(&exportMaxExamples, "max-examples", 0,
		"Cap the artifact size (0 = unlimited)")
	exportCmd.Flags().BoolVar(&exportBalance, "balance", false,
		"Balance the dataset by outcome")

	rollbackCmd.Flags().StringVar(&rollbackReason, "reason", "",
		"Why the deployment is being rolled back")

	rootCmd.AddCommand(serveCmd, exportCmd, promoteCmd, rollbackCmd, statsCmd)
}
