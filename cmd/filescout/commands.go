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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "filescout",
		Short: "A workflow engine that finds the files relevant to a task",
		Long: `Filescout runs multi-stage file discovery workflows: it maps a
				repository, generates search patterns with a model, filters
				locally, and verifies the candidates, exposing the whole
				pipeline over an HTTP API.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the workflow engine and its HTTP API",
		Run:   runServe, // Defined in cmd_serve.go
	}

	validateCmd = &cobra.Command{
		Use:   "validate [directory]",
		Short: "Validate workflow definition documents and print their DAGs",
		Args:  cobra.MaximumNArgs(1),
		Run:   runValidate, // Defined in cmd_validate.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default ~/.filescout/filescout.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
}
