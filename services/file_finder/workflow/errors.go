// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for definition validation and registry lookups.
var (
	// ErrEmptyName indicates a definition with no workflow name.
	ErrEmptyName = errors.New("workflow name cannot be empty")

	// ErrNoStages indicates a definition with an empty stage list.
	ErrNoStages = errors.New("workflow must define at least one stage")

	// ErrNoEntryStages indicates every stage declares dependencies, so
	// the workflow could never start.
	ErrNoEntryStages = errors.New("workflow has no entry stages")

	// ErrDefinitionNotFound indicates a registry lookup by an unknown
	// workflow name.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrNoDefinitions indicates a registry load that produced no valid
	// definitions.
	ErrNoDefinitions = errors.New("no valid workflow definitions loaded")
)

// DuplicateStageError indicates two stages in one definition share a name.
type DuplicateStageError struct {
	StageName string
}

// Error implements the error interface.
func (e *DuplicateStageError) Error() string {
	return fmt.Sprintf("duplicate stage name %q", e.StageName)
}

// DanglingDependencyError indicates a stage depends on a stage name that
// does not exist in the definition.
type DanglingDependencyError struct {
	StageName  string
	Dependency string
}

// Error implements the error interface.
func (e *DanglingDependencyError) Error() string {
	return fmt.Sprintf("stage %q depends on unknown stage %q", e.StageName, e.Dependency)
}

// CycleError indicates the stage dependency graph contains a cycle.
type CycleError struct {
	// Path contains the stage names forming the cycle, in order, with
	// the first stage repeated at the end.
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}
