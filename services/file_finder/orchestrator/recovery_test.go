// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicyForPrefersStageEntry(t *testing.T) {
	p := Policy{
		Default: Strategy{Kind: StrategySkip},
		Stages: map[string]Strategy{
			"flaky": {Kind: StrategyRetry, MaxAttempts: 5},
		},
	}

	assert.Equal(t, StrategyRetry, p.For("flaky").Kind)
	assert.Equal(t, 5, p.For("flaky").MaxAttempts)
	assert.Equal(t, StrategySkip, p.For("anything-else").Kind)
}

func TestPolicyZeroDefaultAborts(t *testing.T) {
	var p Policy
	assert.Equal(t, StrategyAbort, p.For("stage").Kind)
}

func TestDefaultPolicyShape(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, StrategyAbort, p.Default.Kind)

	// Model-backed stages retry.
	for _, stage := range []string{"regex_pattern_generation", "path_finding", "path_correction"} {
		s := p.For(stage)
		assert.Equal(t, StrategyRetry, s.Kind, stage)
		assert.GreaterOrEqual(t, s.MaxAttempts, 2, stage)
	}

	// The extended phase is best-effort.
	assert.Equal(t, StrategySkip, p.For("extended_path_finding").Kind)
	assert.Equal(t, StrategySkip, p.For("extended_path_correction").Kind)

	// Deterministic local stages abort on failure.
	assert.Equal(t, StrategyAbort, p.For("directory_tree_generation").Kind)
	assert.Equal(t, StrategyAbort, p.For("local_file_filtering").Kind)
}
