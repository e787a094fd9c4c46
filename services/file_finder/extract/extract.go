// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extract turns raw job outputs into typed stage results.
//
// Each task type registers an Extractor that parses and validates the
// worker's JSON output. Extraction failures are stage failures: a job
// that reports Completed with an output its extractor rejects is
// treated exactly like a failed job, so malformed model responses flow
// through the same error recovery as worker crashes.
//
// Task types without a registered extractor pass through verbatim; the
// output is kept raw on the stage result.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/AleutianAI/filescout/services/file_finder/workflow"
)

// Sentinel errors for output validation.
var (
	// ErrEmptyOutput indicates a completed job with no output at all.
	ErrEmptyOutput = errors.New("job output is empty")

	// ErrEmptyDirectoryTree indicates a tree generation output with no
	// tree text.
	ErrEmptyDirectoryTree = errors.New("directory tree is empty")

	// ErrEmptyPatternGroups indicates a pattern generation output with
	// an empty or missing group list.
	ErrEmptyPatternGroups = errors.New("pattern groups list is empty")

	// ErrEmptyCorrectedPaths indicates a correction output with no
	// corrected paths.
	ErrEmptyCorrectedPaths = errors.New("corrected paths list is empty")
)

// MissingFieldError indicates a required output field was absent.
// Presence is distinct from emptiness: path finding may verify nothing,
// but it must still say so.
type MissingFieldError struct {
	Field string
}

// Error implements the error interface.
func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("required output field %q is missing", e.Field)
}

// InvalidPatternError indicates a pattern group carried a regex that
// does not compile, or no pattern at all.
type InvalidPatternError struct {
	Title   string
	Field   string
	Pattern string
	Err     error
}

// Error implements the error interface.
func (e *InvalidPatternError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("pattern group %q has no patterns", e.Title)
	}
	return fmt.Sprintf("pattern group %q field %s: invalid regex %q: %v",
		e.Title, e.Field, e.Pattern, e.Err)
}

// Unwrap exposes the underlying regexp error.
func (e *InvalidPatternError) Unwrap() error { return e.Err }

// TraversalError indicates a reported path escapes the workflow root.
type TraversalError struct {
	Path string
}

// Error implements the error interface.
func (e *TraversalError) Error() string {
	return fmt.Sprintf("path %q escapes the workflow root", e.Path)
}

// Extractor parses one task type's job output into a StageResult.
type Extractor func(output json.RawMessage) (workflow.StageResult, error)

// Registry maps task types to extractors.
//
// # Thread Safety
//
// Register is for setup time; once a registry is shared with the
// orchestrator it must not be mutated.
type Registry struct {
	extractors map[workflow.TaskType]Extractor
}

// NewRegistry returns a registry pre-populated with extractors for the
// built-in file finder task types.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[workflow.TaskType]Extractor)}

	r.Register(workflow.TaskDirectoryTreeGeneration, extractDirectoryTree)
	r.Register(workflow.TaskRegexPatternGeneration, extractPatternGroups)
	r.Register(workflow.TaskLocalFileFiltering, extractFilteredFiles)
	r.Register(workflow.TaskPathFinding, pathFindingExtractor(workflow.TaskPathFinding))
	r.Register(workflow.TaskExtendedPathFinding, pathFindingExtractor(workflow.TaskExtendedPathFinding))
	r.Register(workflow.TaskPathCorrection, pathCorrectionExtractor(workflow.TaskPathCorrection))
	r.Register(workflow.TaskExtendedPathCorrection, pathCorrectionExtractor(workflow.TaskExtendedPathCorrection))

	return r
}

// Register installs an extractor for a task type, replacing any
// previous registration.
func (r *Registry) Register(taskType workflow.TaskType, fn Extractor) {
	r.extractors[taskType] = fn
}

// Extract parses output for the given task type. Unregistered task
// types succeed with the output retained raw.
func (r *Registry) Extract(taskType workflow.TaskType, output json.RawMessage) (workflow.StageResult, error) {
	fn, ok := r.extractors[taskType]
	if !ok {
		return workflow.StageResult{TaskType: taskType, Raw: output}, nil
	}
	if len(output) == 0 {
		return workflow.StageResult{}, fmt.Errorf("extract %s: %w", taskType, ErrEmptyOutput)
	}
	result, err := fn(output)
	if err != nil {
		return workflow.StageResult{}, fmt.Errorf("extract %s: %w", taskType, err)
	}
	result.TaskType = taskType
	return result, nil
}

// treeOutput is the wire shape of directory tree generation output.
type treeOutput struct {
	DirectoryTree string `json:"directoryTree"`
	TokenCount    int    `json:"tokenCount"`
}

func extractDirectoryTree(output json.RawMessage) (workflow.StageResult, error) {
	var parsed treeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return workflow.StageResult{}, fmt.Errorf("parse output: %w", err)
	}
	if strings.TrimSpace(parsed.DirectoryTree) == "" {
		return workflow.StageResult{}, ErrEmptyDirectoryTree
	}
	return workflow.StageResult{
		DirectoryTree: parsed.DirectoryTree,
		TokenCount:    parsed.TokenCount,
	}, nil
}

// patternsOutput is the wire shape of regex pattern generation output.
type patternsOutput struct {
	PatternGroups []workflow.PatternGroup `json:"patternGroups"`
	TokenCount    int                     `json:"tokenCount"`
}

func extractPatternGroups(output json.RawMessage) (workflow.StageResult, error) {
	var parsed patternsOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return workflow.StageResult{}, fmt.Errorf("parse output: %w", err)
	}
	if len(parsed.PatternGroups) == 0 {
		return workflow.StageResult{}, ErrEmptyPatternGroups
	}
	for i := range parsed.PatternGroups {
		if err := validatePatternGroup(&parsed.PatternGroups[i]); err != nil {
			return workflow.StageResult{}, err
		}
	}
	return workflow.StageResult{
		PatternGroups: parsed.PatternGroups,
		TokenCount:    parsed.TokenCount,
	}, nil
}

// validatePatternGroup requires at least one pattern and compiles every
// pattern present.
func validatePatternGroup(group *workflow.PatternGroup) error {
	if !group.HasPattern() {
		return &InvalidPatternError{Title: group.Title}
	}
	for _, p := range []struct {
		field   string
		pattern string
	}{
		{"pathPattern", group.PathPattern},
		{"contentPattern", group.ContentPattern},
		{"negativePathPattern", group.NegativePathPattern},
	} {
		if p.pattern == "" {
			continue
		}
		if _, err := regexp.Compile(p.pattern); err != nil {
			return &InvalidPatternError{
				Title:   group.Title,
				Field:   p.field,
				Pattern: p.pattern,
				Err:     err,
			}
		}
	}
	return nil
}

// filteredOutput is the wire shape of local filtering output.
type filteredOutput struct {
	FilteredFiles *[]string `json:"filteredFiles"`
}

func extractFilteredFiles(output json.RawMessage) (workflow.StageResult, error) {
	var parsed filteredOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return workflow.StageResult{}, fmt.Errorf("parse output: %w", err)
	}
	if parsed.FilteredFiles == nil {
		return workflow.StageResult{}, &MissingFieldError{Field: "filteredFiles"}
	}
	// An empty filter result is valid; escaping paths are not.
	for _, p := range *parsed.FilteredFiles {
		if err := checkRelative(p); err != nil {
			return workflow.StageResult{}, err
		}
	}
	return workflow.StageResult{FilteredPaths: *parsed.FilteredFiles}, nil
}

// pathsOutput is the wire shape of path finding output. Pointers
// distinguish absent fields from empty lists.
type pathsOutput struct {
	VerifiedPaths   *[]string `json:"verifiedPaths"`
	UnverifiedPaths *[]string `json:"unverifiedPaths"`
	TokenCount      int       `json:"tokenCount"`
}

func pathFindingExtractor(taskType workflow.TaskType) Extractor {
	return func(output json.RawMessage) (workflow.StageResult, error) {
		var parsed pathsOutput
		if err := json.Unmarshal(output, &parsed); err != nil {
			return workflow.StageResult{}, fmt.Errorf("parse output: %w", err)
		}
		if parsed.VerifiedPaths == nil {
			return workflow.StageResult{}, &MissingFieldError{Field: "verifiedPaths"}
		}
		if parsed.UnverifiedPaths == nil {
			return workflow.StageResult{}, &MissingFieldError{Field: "unverifiedPaths"}
		}
		for _, p := range *parsed.VerifiedPaths {
			if err := checkRelative(p); err != nil {
				return workflow.StageResult{}, err
			}
		}
		for _, p := range *parsed.UnverifiedPaths {
			if err := checkRelative(p); err != nil {
				return workflow.StageResult{}, err
			}
		}
		return workflow.StageResult{
			TaskType:        taskType,
			VerifiedPaths:   *parsed.VerifiedPaths,
			UnverifiedPaths: *parsed.UnverifiedPaths,
			TokenCount:      parsed.TokenCount,
		}, nil
	}
}

// correctedOutput is the wire shape of path correction output.
type correctedOutput struct {
	CorrectedPaths []string `json:"correctedPaths"`
	TokenCount     int      `json:"tokenCount"`
}

func pathCorrectionExtractor(taskType workflow.TaskType) Extractor {
	return func(output json.RawMessage) (workflow.StageResult, error) {
		var parsed correctedOutput
		if err := json.Unmarshal(output, &parsed); err != nil {
			return workflow.StageResult{}, fmt.Errorf("parse output: %w", err)
		}
		if len(parsed.CorrectedPaths) == 0 {
			return workflow.StageResult{}, ErrEmptyCorrectedPaths
		}
		for _, p := range parsed.CorrectedPaths {
			if err := checkRelative(p); err != nil {
				return workflow.StageResult{}, err
			}
		}
		return workflow.StageResult{
			TaskType:       taskType,
			CorrectedPaths: parsed.CorrectedPaths,
			TokenCount:     parsed.TokenCount,
		}, nil
	}
}

// checkRelative rejects absolute paths and paths that climb out of the
// workflow root after cleaning.
func checkRelative(p string) error {
	if p == "" {
		return &TraversalError{Path: p}
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) {
		return &TraversalError{Path: p}
	}
	cleaned := path.Clean(strings.ReplaceAll(p, `\`, "/"))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return &TraversalError{Path: p}
	}
	return nil
}
