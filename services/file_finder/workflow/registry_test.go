// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/filescout/pkg/logging"
)

func writeDefinition(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const validDefJSON = `{
	"name": "CustomWorkflow",
	"stages": [
		{"stageName": "tree", "taskType": "directory_tree_generation"},
		{"stageName": "patterns", "taskType": "regex_pattern_generation", "dependencies": ["tree"]}
	]
}`

func TestLoadReadsValidDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "custom.json", validDefJSON)

	registry := NewRegistry(logging.Discard())
	require.NoError(t, registry.Load(dir))

	def, err := registry.Get("CustomWorkflow")
	require.NoError(t, err)
	assert.Len(t, def.Stages, 2)
	assert.Equal(t, []string{"CustomWorkflow"}, registry.Names())
}

func TestLoadSkipsInvalidFilesIndependently(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "good.json", validDefJSON)
	writeDefinition(t, dir, "broken.json", `{not json`)
	writeDefinition(t, dir, "cyclic.json", `{
		"name": "Cyclic",
		"stages": [
			{"stageName": "entry", "taskType": "t"},
			{"stageName": "a", "taskType": "t", "dependencies": ["entry", "b"]},
			{"stageName": "b", "taskType": "t", "dependencies": ["a"]}
		]
	}`)
	writeDefinition(t, dir, "notes.txt", "ignored, wrong extension")

	registry := NewRegistry(logging.Discard())
	require.NoError(t, registry.Load(dir))

	assert.Equal(t, []string{"CustomWorkflow"}, registry.Names())

	_, err := registry.Get("Cyclic")
	assert.ErrorIs(t, err, ErrDefinitionNotFound)
}

func TestLoadFailsWhenNothingValid(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "broken.json", `{"name": ""}`)

	registry := NewRegistry(logging.Discard())
	assert.ErrorIs(t, registry.Load(dir), ErrNoDefinitions)
}

func TestLoadFailsOnMissingDirectory(t *testing.T) {
	registry := NewRegistry(logging.Discard())
	assert.Error(t, registry.Load(filepath.Join(t.TempDir(), "nope")))
}

func TestLoadOrBuiltinFallsBack(t *testing.T) {
	registry := NewRegistry(logging.Discard())
	registry.LoadOrBuiltin(filepath.Join(t.TempDir(), "missing"))

	def, err := registry.Get("FileFinderWorkflow")
	require.NoError(t, err)
	assert.Len(t, def.Stages, 7)
}

func TestLoadOrBuiltinEmptyDirArgument(t *testing.T) {
	registry := NewRegistry(logging.Discard())
	registry.LoadOrBuiltin("")

	assert.Equal(t, []string{"FileFinderWorkflow"}, registry.Names())
}

func TestLoadOrBuiltinPrefersDirectory(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "custom.json", validDefJSON)

	registry := NewRegistry(logging.Discard())
	registry.LoadOrBuiltin(dir)

	assert.Equal(t, []string{"CustomWorkflow"}, registry.Names())
	_, err := registry.Get("FileFinderWorkflow")
	assert.ErrorIs(t, err, ErrDefinitionNotFound)
}

func TestRegisterValidates(t *testing.T) {
	registry := NewRegistry(logging.Discard())

	err := registry.Register(&WorkflowDefinition{
		Name: "bad",
		Stages: []StageDefinition{
			{StageName: "a", TaskType: "t", Dependencies: []string{"ghost"}},
		},
	})
	require.Error(t, err)

	require.NoError(t, registry.Register(BuiltinFileFinderDefinition()))
	_, err = registry.Get("FileFinderWorkflow")
	assert.NoError(t, err)
}

func TestGetUnknownName(t *testing.T) {
	registry := NewRegistry(logging.Discard())
	_, err := registry.Get("missing")
	assert.ErrorIs(t, err, ErrDefinitionNotFound)
}
