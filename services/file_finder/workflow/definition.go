// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"slices"
	"sort"
)

// TaskType categorizes the kind of work a stage's job performs. The set
// is open: definitions may name task types this module has no special
// handling for, in which case the stage's output is retained raw.
type TaskType string

// Task types understood by the built-in extractors and payload builders.
const (
	TaskDirectoryTreeGeneration TaskType = "directory_tree_generation"
	TaskRegexPatternGeneration  TaskType = "regex_pattern_generation"
	TaskLocalFileFiltering      TaskType = "local_file_filtering"
	TaskPathFinding             TaskType = "path_finding"
	TaskPathCorrection          TaskType = "path_correction"
	TaskExtendedPathFinding     TaskType = "extended_path_finding"
	TaskExtendedPathCorrection  TaskType = "extended_path_correction"
)

// StageDefinition describes one node of a workflow DAG.
type StageDefinition struct {
	// StageName identifies the stage within its workflow. Unique per
	// definition; used everywhere a stage is referenced.
	StageName string `json:"stageName" validate:"required"`

	// TaskType selects the extractor and payload builder for the
	// stage's jobs.
	TaskType TaskType `json:"taskType" validate:"required"`

	// Dependencies lists stage names that must complete (or be skipped
	// by error recovery) before this stage becomes eligible. Empty for
	// entry stages.
	Dependencies []string `json:"dependencies,omitempty"`
}

// DependsOn reports whether the stage lists name as a dependency.
func (s *StageDefinition) DependsOn(name string) bool {
	return slices.Contains(s.Dependencies, name)
}

// WorkflowDefinition is a named, immutable DAG of stages. Definitions
// are validated once at load time; a definition held by the Registry is
// always structurally sound.
type WorkflowDefinition struct {
	// Name identifies the definition; workflows reference it at start.
	Name string `json:"name" validate:"required"`

	// Description is free-form documentation carried from the
	// definition document.
	Description string `json:"description,omitempty"`

	// Stages lists every stage of the DAG. Order is not significant;
	// execution order derives from Dependencies.
	Stages []StageDefinition `json:"stages" validate:"required,min=1,dive"`
}

// Stage returns the definition of the named stage, or nil when the
// workflow has no such stage.
func (d *WorkflowDefinition) Stage(name string) *StageDefinition {
	for i := range d.Stages {
		if d.Stages[i].StageName == name {
			return &d.Stages[i]
		}
	}
	return nil
}

// EntryStages returns the stages with no dependencies, in definition
// order. A valid definition has at least one.
func (d *WorkflowDefinition) EntryStages() []StageDefinition {
	var entries []StageDefinition
	for _, stage := range d.Stages {
		if len(stage.Dependencies) == 0 {
			entries = append(entries, stage)
		}
	}
	return entries
}

// Dependents returns the names of stages that list name as a direct
// dependency, sorted for determinism.
func (d *WorkflowDefinition) Dependents(name string) []string {
	var out []string
	for i := range d.Stages {
		if d.Stages[i].DependsOn(name) {
			out = append(out, d.Stages[i].StageName)
		}
	}
	sort.Strings(out)
	return out
}

// TransitiveDependents returns the names of every stage downstream of
// name, directly or through intermediate stages, sorted.
func (d *WorkflowDefinition) TransitiveDependents(name string) []string {
	seen := map[string]bool{}
	frontier := []string{name}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		for _, dep := range d.Dependents(current) {
			if !seen[dep] {
				seen[dep] = true
				frontier = append(frontier, dep)
			}
		}
	}
	out := make([]string, 0, len(seen))
	for stage := range seen {
		out = append(out, stage)
	}
	sort.Strings(out)
	return out
}

// Validate checks structural soundness of the definition.
//
// # Description
//
// Validation rejects definitions with an empty name, no stages,
// duplicate stage names, dependencies on stage names that do not exist,
// dependency cycles, or no entry stage. A definition that passes is
// safe to execute: stage lookups cannot dangle and the DAG is
// guaranteed to make progress from its entry stages.
//
// # Outputs
//
//   - error: nil, a sentinel (ErrEmptyName, ErrNoStages,
//     ErrNoEntryStages), *DuplicateStageError, *DanglingDependencyError,
//     or *CycleError.
func (d *WorkflowDefinition) Validate() error {
	if d.Name == "" {
		return ErrEmptyName
	}
	if len(d.Stages) == 0 {
		return ErrNoStages
	}

	byName := make(map[string]*StageDefinition, len(d.Stages))
	for i := range d.Stages {
		stage := &d.Stages[i]
		if _, dup := byName[stage.StageName]; dup {
			return &DuplicateStageError{StageName: stage.StageName}
		}
		byName[stage.StageName] = stage
	}

	hasEntry := false
	for i := range d.Stages {
		stage := &d.Stages[i]
		if len(stage.Dependencies) == 0 {
			hasEntry = true
		}
		for _, dep := range stage.Dependencies {
			if _, ok := byName[dep]; !ok {
				return &DanglingDependencyError{StageName: stage.StageName, Dependency: dep}
			}
		}
	}
	if !hasEntry {
		return ErrNoEntryStages
	}

	return d.detectCycle(byName)
}

const (
	colorWhite = iota // unvisited
	colorGray         // on the current DFS path
	colorBlack        // fully explored
)

// detectCycle runs a three-color DFS over the dependency edges and
// returns a *CycleError describing the first cycle found.
func (d *WorkflowDefinition) detectCycle(byName map[string]*StageDefinition) error {
	colors := make(map[string]int, len(d.Stages))

	var path []string
	var visit func(name string) *CycleError
	visit = func(name string) *CycleError {
		colors[name] = colorGray
		path = append(path, name)

		for _, dep := range byName[name].Dependencies {
			switch colors[dep] {
			case colorGray:
				start := slices.Index(path, dep)
				cycle := append(slices.Clone(path[start:]), dep)
				return &CycleError{Path: cycle}
			case colorWhite:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		colors[name] = colorBlack
		return nil
	}

	// Iterate in definition order so the reported cycle is stable.
	for i := range d.Stages {
		name := d.Stages[i].StageName
		if colors[name] == colorWhite {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// BuiltinWorkflowName is the name of the built-in file finder
// definition, and the default definition for new workflow runs.
const BuiltinWorkflowName = "FileFinderWorkflow"

// BuiltinFileFinderDefinition returns the hardcoded FileFinderWorkflow
// used when no definition documents can be loaded: a linear seven-stage
// chain from directory tree generation through extended path correction.
func BuiltinFileFinderDefinition() *WorkflowDefinition {
	return &WorkflowDefinition{
		Name:        BuiltinWorkflowName,
		Description: "Built-in file discovery pipeline: tree, patterns, filtering, verification, correction.",
		Stages: []StageDefinition{
			{
				StageName: "directory_tree_generation",
				TaskType:  TaskDirectoryTreeGeneration,
			},
			{
				StageName:    "regex_pattern_generation",
				TaskType:     TaskRegexPatternGeneration,
				Dependencies: []string{"directory_tree_generation"},
			},
			{
				StageName:    "local_file_filtering",
				TaskType:     TaskLocalFileFiltering,
				Dependencies: []string{"regex_pattern_generation"},
			},
			{
				StageName:    "path_finding",
				TaskType:     TaskPathFinding,
				Dependencies: []string{"local_file_filtering"},
			},
			{
				StageName:    "path_correction",
				TaskType:     TaskPathCorrection,
				Dependencies: []string{"path_finding"},
			},
			{
				StageName:    "extended_path_finding",
				TaskType:     TaskExtendedPathFinding,
				Dependencies: []string{"path_correction"},
			},
			{
				StageName:    "extended_path_correction",
				TaskType:     TaskExtendedPathCorrection,
				Dependencies: []string{"extended_path_finding"},
			},
		},
	}
}
