// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	cliconfig "github.com/AleutianAI/filescout/cmd/filescout/config"
	"github.com/AleutianAI/filescout/services/file_finder/workflow"
)

func runValidate(cmd *cobra.Command, args []string) {
	dir := ""
	if len(args) > 0 {
		dir = args[0]
	} else {
		cfg, err := cliconfig.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		dir = cfg.Workflows.DefinitionsDir
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan %s: %v\n", dir, err)
		os.Exit(1)
	}
	if len(paths) == 0 {
		fmt.Printf("No definition documents in %s; the built-in %s would be used.\n",
			dir, workflow.BuiltinWorkflowName)
		printDefinition(workflow.BuiltinFileFinderDefinition())
		return
	}
	sort.Strings(paths)

	failed := 0
	for _, path := range paths {
		def, err := validateDefinitionFile(path)
		if err != nil {
			failed++
			fmt.Printf("FAIL  %s: %v\n", filepath.Base(path), err)
			continue
		}
		fmt.Printf("OK    %s\n", filepath.Base(path))
		printDefinition(def)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// validateDefinitionFile parses and validates one definition document.
func validateDefinitionFile(path string) (*workflow.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def workflow.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// printDefinition writes the definition's DAG, one stage per line with
// its dependencies.
func printDefinition(def *workflow.WorkflowDefinition) {
	fmt.Printf("  %s (%d stages)\n", def.Name, len(def.Stages))
	for _, stage := range def.Stages {
		deps := "entry"
		if len(stage.Dependencies) > 0 {
			deps = "after " + strings.Join(stage.Dependencies, ", ")
		}
		fmt.Printf("    %-28s %-30s %s\n", stage.StageName, string(stage.TaskType), deps)
	}
}
