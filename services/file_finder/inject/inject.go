// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package inject builds job payloads from workflow state.
//
// When the orchestrator creates a stage job, the stage's payload
// builder assembles the task-specific input from the task context and
// the intermediate data accumulated by completed upstream stages. A
// builder failing means the stage's inputs are not actually available,
// which is a scheduling bug or a definition whose dependencies do not
// deliver what the task type needs; the stage fails without a job ever
// being queued.
//
// Task types without a registered builder get a generic payload
// carrying the task context, so custom stages in definition documents
// still receive meaningful input.
package inject

import (
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/filescout/services/file_finder/workflow"
)

// MissingInputError indicates intermediate data a payload builder
// needs has not been produced by any upstream stage.
type MissingInputError struct {
	TaskType workflow.TaskType
	Input    string
}

// Error implements the error interface.
func (e *MissingInputError) Error() string {
	return fmt.Sprintf("task %s requires %s, which no completed stage has produced",
		e.TaskType, e.Input)
}

// Builder assembles the input payload for one task type.
type Builder func(task workflow.TaskContext, data *workflow.IntermediateData) (json.RawMessage, error)

// Registry maps task types to payload builders.
//
// # Thread Safety
//
// Register is for setup time; once a registry is shared with the
// orchestrator it must not be mutated.
type Registry struct {
	builders map[workflow.TaskType]Builder
}

// NewRegistry returns a registry pre-populated with builders for the
// built-in file finder task types.
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[workflow.TaskType]Builder)}

	r.Register(workflow.TaskDirectoryTreeGeneration, buildDirectoryTree)
	r.Register(workflow.TaskRegexPatternGeneration, buildRegexPatterns)
	r.Register(workflow.TaskLocalFileFiltering, buildLocalFiltering)
	r.Register(workflow.TaskPathFinding, buildPathFinding)
	r.Register(workflow.TaskPathCorrection, buildPathCorrection)
	r.Register(workflow.TaskExtendedPathFinding, buildExtendedPathFinding)
	r.Register(workflow.TaskExtendedPathCorrection, buildExtendedPathCorrection)

	return r
}

// Register installs a builder for a task type, replacing any previous
// registration.
func (r *Registry) Register(taskType workflow.TaskType, fn Builder) {
	r.builders[taskType] = fn
}

// Build assembles the payload for the given task type. Unregistered
// task types receive the generic payload.
func (r *Registry) Build(taskType workflow.TaskType, task workflow.TaskContext, data *workflow.IntermediateData) (json.RawMessage, error) {
	fn, ok := r.builders[taskType]
	if !ok {
		fn = buildGeneric
	}
	payload, err := fn(task, data)
	if err != nil {
		return nil, fmt.Errorf("build payload for %s: %w", taskType, err)
	}
	return payload, nil
}

// TreePayload is the input to directory tree generation.
type TreePayload struct {
	RootPath      string   `json:"rootPath"`
	ExcludedPaths []string `json:"excludedPaths,omitempty"`
	TimeoutMS     int64    `json:"timeoutMs,omitempty"`
}

func buildDirectoryTree(task workflow.TaskContext, _ *workflow.IntermediateData) (json.RawMessage, error) {
	return json.Marshal(TreePayload{
		RootPath:      task.RootPath,
		ExcludedPaths: task.ExcludedPaths,
		TimeoutMS:     task.TimeoutMS,
	})
}

// PatternsPayload is the input to regex pattern generation.
type PatternsPayload struct {
	TaskDescription string `json:"taskDescription"`
	DirectoryTree   string `json:"directoryTree"`
}

func buildRegexPatterns(task workflow.TaskContext, data *workflow.IntermediateData) (json.RawMessage, error) {
	if data.DirectoryTree == "" {
		return nil, &MissingInputError{
			TaskType: workflow.TaskRegexPatternGeneration,
			Input:    "a directory tree",
		}
	}
	return json.Marshal(PatternsPayload{
		TaskDescription: task.TaskDescription,
		DirectoryTree:   data.DirectoryTree,
	})
}

// FilteringPayload is the input to local file filtering.
type FilteringPayload struct {
	RootPath      string                  `json:"rootPath"`
	PatternGroups []workflow.PatternGroup `json:"patternGroups"`
	ExcludedPaths []string                `json:"excludedPaths,omitempty"`
	TimeoutMS     int64                   `json:"timeoutMs,omitempty"`
}

func buildLocalFiltering(task workflow.TaskContext, data *workflow.IntermediateData) (json.RawMessage, error) {
	if len(data.PatternGroups) == 0 {
		return nil, &MissingInputError{
			TaskType: workflow.TaskLocalFileFiltering,
			Input:    "pattern groups",
		}
	}
	return json.Marshal(FilteringPayload{
		RootPath:      task.RootPath,
		PatternGroups: data.PatternGroups,
		ExcludedPaths: task.ExcludedPaths,
		TimeoutMS:     task.TimeoutMS,
	})
}

// FindingPayload is the input to path finding stages.
type FindingPayload struct {
	TaskDescription string   `json:"taskDescription"`
	DirectoryTree   string   `json:"directoryTree,omitempty"`
	CandidateFiles  []string `json:"candidateFiles"`

	// ExcludePaths carries the task's excluded paths plus, for extended
	// finding, the files already selected by the first pass.
	ExcludePaths []string `json:"excludePaths,omitempty"`

	TimeoutMS int64 `json:"timeoutMs,omitempty"`
}

func buildPathFinding(task workflow.TaskContext, data *workflow.IntermediateData) (json.RawMessage, error) {
	if data.FilteredPaths == nil {
		return nil, &MissingInputError{
			TaskType: workflow.TaskPathFinding,
			Input:    "locally filtered files",
		}
	}
	return json.Marshal(FindingPayload{
		TaskDescription: task.TaskDescription,
		DirectoryTree:   data.DirectoryTree,
		CandidateFiles:  data.FilteredPaths,
		ExcludePaths:    task.ExcludedPaths,
		TimeoutMS:       task.TimeoutMS,
	})
}

func buildExtendedPathFinding(task workflow.TaskContext, data *workflow.IntermediateData) (json.RawMessage, error) {
	if data.DirectoryTree == "" {
		return nil, &MissingInputError{
			TaskType: workflow.TaskExtendedPathFinding,
			Input:    "a directory tree",
		}
	}
	exclude := append(append([]string(nil), task.ExcludedPaths...), data.FinalSelectedFiles()...)
	return json.Marshal(FindingPayload{
		TaskDescription: task.TaskDescription,
		DirectoryTree:   data.DirectoryTree,
		CandidateFiles:  data.FilteredPaths,
		ExcludePaths:    exclude,
		TimeoutMS:       task.TimeoutMS,
	})
}

// CorrectionPayload is the input to path correction stages.
type CorrectionPayload struct {
	TaskDescription string   `json:"taskDescription"`
	DirectoryTree   string   `json:"directoryTree,omitempty"`
	UnverifiedPaths []string `json:"unverifiedPaths"`
	TimeoutMS       int64    `json:"timeoutMs,omitempty"`
}

func buildPathCorrection(task workflow.TaskContext, data *workflow.IntermediateData) (json.RawMessage, error) {
	if data.UnverifiedPaths == nil {
		return nil, &MissingInputError{
			TaskType: workflow.TaskPathCorrection,
			Input:    "unverified paths from path finding",
		}
	}
	return json.Marshal(CorrectionPayload{
		TaskDescription: task.TaskDescription,
		DirectoryTree:   data.DirectoryTree,
		UnverifiedPaths: data.UnverifiedPaths,
		TimeoutMS:       task.TimeoutMS,
	})
}

func buildExtendedPathCorrection(task workflow.TaskContext, data *workflow.IntermediateData) (json.RawMessage, error) {
	if data.ExtendedUnverifiedPaths == nil {
		return nil, &MissingInputError{
			TaskType: workflow.TaskExtendedPathCorrection,
			Input:    "unverified paths from extended path finding",
		}
	}
	return json.Marshal(CorrectionPayload{
		TaskDescription: task.TaskDescription,
		DirectoryTree:   data.DirectoryTree,
		UnverifiedPaths: data.ExtendedUnverifiedPaths,
		TimeoutMS:       task.TimeoutMS,
	})
}

// GenericPayload is handed to task types without a registered builder.
type GenericPayload struct {
	TaskDescription string   `json:"taskDescription"`
	RootPath        string   `json:"rootPath"`
	ExcludedPaths   []string `json:"excludedPaths,omitempty"`
	TimeoutMS       int64    `json:"timeoutMs,omitempty"`
}

func buildGeneric(task workflow.TaskContext, _ *workflow.IntermediateData) (json.RawMessage, error) {
	return json.Marshal(GenericPayload{
		TaskDescription: task.TaskDescription,
		RootPath:        task.RootPath,
		ExcludedPaths:   task.ExcludedPaths,
		TimeoutMS:       task.TimeoutMS,
	})
}
