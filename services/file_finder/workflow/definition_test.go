// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linearDef builds a definition where each stage depends on the
// previous one.
func linearDef(t *testing.T, names ...string) *WorkflowDefinition {
	t.Helper()
	def := &WorkflowDefinition{Name: "linear"}
	for i, name := range names {
		stage := StageDefinition{StageName: name, TaskType: TaskType("test_task")}
		if i > 0 {
			stage.Dependencies = []string{names[i-1]}
		}
		def.Stages = append(def.Stages, stage)
	}
	return def
}

func TestValidateAcceptsLinearChain(t *testing.T) {
	def := linearDef(t, "a", "b", "c")
	require.NoError(t, def.Validate())
}

func TestValidateRejectsEmptyName(t *testing.T) {
	def := &WorkflowDefinition{
		Stages: []StageDefinition{{StageName: "a", TaskType: "t"}},
	}
	assert.ErrorIs(t, def.Validate(), ErrEmptyName)
}

func TestValidateRejectsNoStages(t *testing.T) {
	def := &WorkflowDefinition{Name: "empty"}
	assert.ErrorIs(t, def.Validate(), ErrNoStages)
}

func TestValidateRejectsDuplicateStageNames(t *testing.T) {
	def := &WorkflowDefinition{
		Name: "dup",
		Stages: []StageDefinition{
			{StageName: "a", TaskType: "t"},
			{StageName: "a", TaskType: "t"},
		},
	}

	err := def.Validate()
	var dupErr *DuplicateStageError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "a", dupErr.StageName)
}

func TestValidateRejectsDanglingDependency(t *testing.T) {
	def := &WorkflowDefinition{
		Name: "dangling",
		Stages: []StageDefinition{
			{StageName: "a", TaskType: "t"},
			{StageName: "b", TaskType: "t", Dependencies: []string{"ghost"}},
		},
	}

	err := def.Validate()
	var dangling *DanglingDependencyError
	require.ErrorAs(t, err, &dangling)
	assert.Equal(t, "b", dangling.StageName)
	assert.Equal(t, "ghost", dangling.Dependency)
}

func TestValidateRejectsCycle(t *testing.T) {
	def := &WorkflowDefinition{
		Name: "cyclic",
		Stages: []StageDefinition{
			{StageName: "entry", TaskType: "t"},
			{StageName: "a", TaskType: "t", Dependencies: []string{"entry", "c"}},
			{StageName: "b", TaskType: "t", Dependencies: []string{"a"}},
			{StageName: "c", TaskType: "t", Dependencies: []string{"b"}},
		},
	}

	err := def.Validate()
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	// Path ends where it starts.
	require.GreaterOrEqual(t, len(cycle.Path), 4)
	assert.Equal(t, cycle.Path[0], cycle.Path[len(cycle.Path)-1])
}

func TestValidateRejectsSelfDependency(t *testing.T) {
	def := &WorkflowDefinition{
		Name: "self",
		Stages: []StageDefinition{
			{StageName: "entry", TaskType: "t"},
			{StageName: "a", TaskType: "t", Dependencies: []string{"a"}},
		},
	}

	var cycle *CycleError
	require.ErrorAs(t, def.Validate(), &cycle)
	assert.Equal(t, []string{"a", "a"}, cycle.Path)
}

func TestValidateRejectsNoEntryStages(t *testing.T) {
	def := &WorkflowDefinition{
		Name: "noentry",
		Stages: []StageDefinition{
			{StageName: "a", TaskType: "t", Dependencies: []string{"b"}},
			{StageName: "b", TaskType: "t", Dependencies: []string{"a"}},
		},
	}
	assert.True(t, errors.Is(def.Validate(), ErrNoEntryStages))
}

func TestValidateAcceptsDiamond(t *testing.T) {
	def := &WorkflowDefinition{
		Name: "diamond",
		Stages: []StageDefinition{
			{StageName: "root", TaskType: "t"},
			{StageName: "left", TaskType: "t", Dependencies: []string{"root"}},
			{StageName: "right", TaskType: "t", Dependencies: []string{"root"}},
			{StageName: "join", TaskType: "t", Dependencies: []string{"left", "right"}},
		},
	}
	require.NoError(t, def.Validate())

	entries := def.EntryStages()
	require.Len(t, entries, 1)
	assert.Equal(t, "root", entries[0].StageName)

	assert.Equal(t, []string{"left", "right"}, def.Dependents("root"))
	assert.Equal(t, []string{"join", "left", "right"}, def.TransitiveDependents("root"))
	assert.Equal(t, []string{"join"}, def.TransitiveDependents("left"))
	assert.Empty(t, def.TransitiveDependents("join"))
}

func TestStageLookup(t *testing.T) {
	def := linearDef(t, "a", "b")

	require.NotNil(t, def.Stage("b"))
	assert.Equal(t, "b", def.Stage("b").StageName)
	assert.Nil(t, def.Stage("missing"))
}

func TestBuiltinFileFinderDefinition(t *testing.T) {
	def := BuiltinFileFinderDefinition()
	require.NoError(t, def.Validate())

	assert.Equal(t, "FileFinderWorkflow", def.Name)
	require.Len(t, def.Stages, 7)

	// Linear chain: exactly one entry, each later stage depends on the
	// one before it.
	entries := def.EntryStages()
	require.Len(t, entries, 1)
	assert.Equal(t, TaskDirectoryTreeGeneration, entries[0].TaskType)

	for i := 1; i < len(def.Stages); i++ {
		require.Equal(t, []string{def.Stages[i-1].StageName}, def.Stages[i].Dependencies)
	}
	assert.Equal(t, TaskExtendedPathCorrection, def.Stages[6].TaskType)
}
