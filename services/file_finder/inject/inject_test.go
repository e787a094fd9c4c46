// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package inject

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/filescout/services/file_finder/workflow"
)

var testTask = workflow.TaskContext{
	TaskDescription: "find the config loader",
	RootPath:        "/repo",
}

func TestBuildDirectoryTreePayload(t *testing.T) {
	r := NewRegistry()

	payload, err := r.Build(workflow.TaskDirectoryTreeGeneration, testTask, &workflow.IntermediateData{})
	require.NoError(t, err)

	var parsed TreePayload
	require.NoError(t, json.Unmarshal(payload, &parsed))
	assert.Equal(t, "/repo", parsed.RootPath)
}

func TestBuildRegexPatternsPayload(t *testing.T) {
	r := NewRegistry()
	data := &workflow.IntermediateData{DirectoryTree: "src/\n"}

	payload, err := r.Build(workflow.TaskRegexPatternGeneration, testTask, data)
	require.NoError(t, err)

	var parsed PatternsPayload
	require.NoError(t, json.Unmarshal(payload, &parsed))
	assert.Equal(t, "find the config loader", parsed.TaskDescription)
	assert.Equal(t, "src/\n", parsed.DirectoryTree)
}

func TestBuildRegexPatternsRequiresTree(t *testing.T) {
	r := NewRegistry()

	_, err := r.Build(workflow.TaskRegexPatternGeneration, testTask, &workflow.IntermediateData{})
	var missing *MissingInputError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, workflow.TaskRegexPatternGeneration, missing.TaskType)
}

func TestBuildLocalFilteringPayload(t *testing.T) {
	r := NewRegistry()
	data := &workflow.IntermediateData{
		PatternGroups: []workflow.PatternGroup{{Title: "go", PathPattern: `\.go$`}},
	}

	payload, err := r.Build(workflow.TaskLocalFileFiltering, testTask, data)
	require.NoError(t, err)

	var parsed FilteringPayload
	require.NoError(t, json.Unmarshal(payload, &parsed))
	assert.Equal(t, "/repo", parsed.RootPath)
	require.Len(t, parsed.PatternGroups, 1)
	assert.Equal(t, `\.go$`, parsed.PatternGroups[0].PathPattern)
}

func TestBuildLocalFilteringRequiresPatterns(t *testing.T) {
	r := NewRegistry()

	_, err := r.Build(workflow.TaskLocalFileFiltering, testTask, &workflow.IntermediateData{})
	var missing *MissingInputError
	require.ErrorAs(t, err, &missing)
}

func TestBuildPathFindingPayload(t *testing.T) {
	r := NewRegistry()
	data := &workflow.IntermediateData{
		DirectoryTree: "src/\n",
		FilteredPaths: []string{"src/config.go"},
	}

	payload, err := r.Build(workflow.TaskPathFinding, testTask, data)
	require.NoError(t, err)

	var parsed FindingPayload
	require.NoError(t, json.Unmarshal(payload, &parsed))
	assert.Equal(t, []string{"src/config.go"}, parsed.CandidateFiles)
	assert.Empty(t, parsed.ExcludePaths)
}

func TestBuildPathFindingAcceptsEmptyCandidates(t *testing.T) {
	r := NewRegistry()
	data := &workflow.IntermediateData{FilteredPaths: []string{}}

	_, err := r.Build(workflow.TaskPathFinding, testTask, data)
	assert.NoError(t, err)
}

func TestBuildPathFindingRequiresFiltering(t *testing.T) {
	r := NewRegistry()

	_, err := r.Build(workflow.TaskPathFinding, testTask, &workflow.IntermediateData{})
	var missing *MissingInputError
	require.ErrorAs(t, err, &missing)
}

func TestBuildExtendedPathFindingExcludesSelected(t *testing.T) {
	r := NewRegistry()
	data := &workflow.IntermediateData{
		DirectoryTree:  "src/\n",
		FilteredPaths:  []string{"src/a.go", "src/b.go"},
		VerifiedPaths:  []string{"src/a.go"},
		CorrectedPaths: []string{"src/b.go"},
	}

	payload, err := r.Build(workflow.TaskExtendedPathFinding, testTask, data)
	require.NoError(t, err)

	var parsed FindingPayload
	require.NoError(t, json.Unmarshal(payload, &parsed))
	assert.Equal(t, []string{"src/a.go", "src/b.go"}, parsed.ExcludePaths)
}

func TestBuildCarriesTaskExclusionsAndTimeout(t *testing.T) {
	r := NewRegistry()
	task := workflow.TaskContext{
		TaskDescription: "find the config loader",
		RootPath:        "/repo",
		ExcludedPaths:   []string{"vendor", "gen"},
		TimeoutMS:       30_000,
	}

	payload, err := r.Build(workflow.TaskDirectoryTreeGeneration, task, &workflow.IntermediateData{})
	require.NoError(t, err)
	var tree TreePayload
	require.NoError(t, json.Unmarshal(payload, &tree))
	assert.Equal(t, []string{"vendor", "gen"}, tree.ExcludedPaths)
	assert.Equal(t, int64(30_000), tree.TimeoutMS)

	data := &workflow.IntermediateData{
		DirectoryTree: "src/\n",
		FilteredPaths: []string{"src/a.go"},
		VerifiedPaths: []string{"src/a.go"},
	}
	payload, err = r.Build(workflow.TaskExtendedPathFinding, task, data)
	require.NoError(t, err)
	var finding FindingPayload
	require.NoError(t, json.Unmarshal(payload, &finding))
	assert.Equal(t, []string{"vendor", "gen", "src/a.go"}, finding.ExcludePaths)
}

func TestBuildPathCorrectionPayload(t *testing.T) {
	r := NewRegistry()
	data := &workflow.IntermediateData{
		DirectoryTree:   "src/\n",
		UnverifiedPaths: []string{"src/ghost.go"},
	}

	payload, err := r.Build(workflow.TaskPathCorrection, testTask, data)
	require.NoError(t, err)

	var parsed CorrectionPayload
	require.NoError(t, json.Unmarshal(payload, &parsed))
	assert.Equal(t, []string{"src/ghost.go"}, parsed.UnverifiedPaths)
}

func TestBuildExtendedPathCorrectionUsesExtendedLists(t *testing.T) {
	r := NewRegistry()
	data := &workflow.IntermediateData{
		UnverifiedPaths:         []string{"base.go"},
		ExtendedUnverifiedPaths: []string{"ext.go"},
	}

	payload, err := r.Build(workflow.TaskExtendedPathCorrection, testTask, data)
	require.NoError(t, err)

	var parsed CorrectionPayload
	require.NoError(t, json.Unmarshal(payload, &parsed))
	assert.Equal(t, []string{"ext.go"}, parsed.UnverifiedPaths)
}

func TestBuildUnknownTaskTypeGetsGenericPayload(t *testing.T) {
	r := NewRegistry()

	payload, err := r.Build("custom_analysis", testTask, &workflow.IntermediateData{})
	require.NoError(t, err)

	var parsed GenericPayload
	require.NoError(t, json.Unmarshal(payload, &parsed))
	assert.Equal(t, "find the config loader", parsed.TaskDescription)
	assert.Equal(t, "/repo", parsed.RootPath)
}
