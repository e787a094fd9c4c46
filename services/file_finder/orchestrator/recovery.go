// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"time"

	"github.com/AleutianAI/filescout/services/file_finder/workflow"
)

// StrategyKind names a recovery behavior for a failed stage.
type StrategyKind string

// Recovery behaviors.
const (
	// StrategyRetry re-runs the stage with a fresh job, up to
	// MaxAttempts total attempts. Exhausted retries escalate to abort.
	StrategyRetry StrategyKind = "retry"

	// StrategySkip marks the stage skipped and lets dependents proceed
	// as if it had completed.
	StrategySkip StrategyKind = "skip"

	// StrategyAbort fails the workflow and cancels its live jobs.
	StrategyAbort StrategyKind = "abort"
)

// Strategy is the recovery behavior for one stage.
type Strategy struct {
	Kind StrategyKind `json:"kind"`

	// MaxAttempts is the total attempt budget for StrategyRetry,
	// counting the first execution. Minimum effective value is 2.
	MaxAttempts int `json:"maxAttempts,omitempty"`

	// Delay is how long to wait before dispatching a retry attempt.
	Delay time.Duration `json:"delay,omitempty"`
}

// Policy maps stage names to recovery strategies. Stages without an
// entry get the default, and the zero default is abort: an unconfigured
// failure stops the workflow rather than silently degrading it.
type Policy struct {
	Stages  map[string]Strategy `json:"stages,omitempty"`
	Default Strategy            `json:"default"`
}

// For returns the strategy for a stage.
func (p Policy) For(stageName string) Strategy {
	if s, ok := p.Stages[stageName]; ok {
		return s
	}
	if p.Default.Kind == "" {
		return Strategy{Kind: StrategyAbort}
	}
	return p.Default
}

// DefaultPolicy returns the recovery policy for the built-in file
// finder pipeline: model-backed stages retry since transient API
// failures and malformed replies are common, the extended phase is
// best-effort and skippable, and everything else aborts.
func DefaultPolicy() Policy {
	retry := Strategy{Kind: StrategyRetry, MaxAttempts: 3, Delay: 2 * time.Second}
	return Policy{
		Default: Strategy{Kind: StrategyAbort},
		Stages: map[string]Strategy{
			string(workflow.TaskRegexPatternGeneration): retry,
			string(workflow.TaskPathFinding):            retry,
			string(workflow.TaskPathCorrection):         retry,
			string(workflow.TaskExtendedPathFinding):    {Kind: StrategySkip},
			string(workflow.TaskExtendedPathCorrection): {Kind: StrategySkip},
		},
	}
}
