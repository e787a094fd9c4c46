// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/AleutianAI/filescout/services/file_finder/job"
)

// WorkflowStatus is the lifecycle state of a workflow run.
type WorkflowStatus string

// Workflow lifecycle states. Completed, Failed, and Canceled are
// terminal; a terminal workflow never changes status again.
const (
	// StatusCreated means the workflow record exists but no stage has
	// started.
	StatusCreated WorkflowStatus = "Created"

	// StatusRunning means at least one stage job has been created and
	// the workflow is not paused or terminal.
	StatusRunning WorkflowStatus = "Running"

	// StatusPaused means DAG advancement is suspended. In-flight jobs
	// finish; their completions are recorded but spawn no successors
	// until resume.
	StatusPaused WorkflowStatus = "Paused"

	// StatusCompleted means every stage completed or was skipped.
	StatusCompleted WorkflowStatus = "Completed"

	// StatusFailed means a stage failed without a recovery path.
	StatusFailed WorkflowStatus = "Failed"

	// StatusCanceled means the workflow was canceled by request.
	StatusCanceled WorkflowStatus = "Canceled"
)

// Terminal reports whether the status is final.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// TaskContext carries the user's request: what to look for and where.
// It is immutable for the lifetime of a workflow run.
type TaskContext struct {
	// TaskDescription is the natural-language description of the files
	// being sought.
	TaskDescription string `json:"taskDescription" validate:"required"`

	// RootPath is the directory the workflow searches. All paths in
	// stage results are relative to it.
	RootPath string `json:"rootPath" validate:"required"`

	// SessionID optionally ties the run to a caller session for
	// correlation; the engine treats it as opaque.
	SessionID string `json:"sessionId,omitempty"`

	// ExcludedPaths are root-relative paths the workflow must never
	// visit or select.
	ExcludedPaths []string `json:"excludedPaths,omitempty"`

	// TimeoutMS optionally caps each stage job's execution time in
	// milliseconds. Zero means the executor default.
	TimeoutMS int64 `json:"timeoutMs,omitempty"`
}

// PatternGroup is one titled set of regex patterns produced by the
// pattern-generation stage and consumed by local filtering. At least
// one of the three patterns must be present; the extract package
// enforces that along with regex validity.
type PatternGroup struct {
	// Title labels the group for diagnostics and event streams.
	Title string `json:"title" validate:"required"`

	// PathPattern matches against relative file paths.
	PathPattern string `json:"pathPattern,omitempty"`

	// ContentPattern matches against file contents.
	ContentPattern string `json:"contentPattern,omitempty"`

	// NegativePathPattern excludes matching paths from the group's
	// results.
	NegativePathPattern string `json:"negativePathPattern,omitempty"`
}

// HasPattern reports whether the group carries at least one pattern.
func (g *PatternGroup) HasPattern() bool {
	return g.PathPattern != "" || g.ContentPattern != "" || g.NegativePathPattern != ""
}

// StageResult is the typed output extracted from one completed stage
// job. Which fields are populated depends on the stage's task type;
// outputs of unknown task types are retained in Raw.
type StageResult struct {
	TaskType TaskType `json:"taskType"`

	// DirectoryTree is the textual tree from directory tree generation.
	DirectoryTree string `json:"directoryTree,omitempty"`

	// PatternGroups come from regex pattern generation.
	PatternGroups []PatternGroup `json:"patternGroups,omitempty"`

	// FilteredPaths come from local file filtering.
	FilteredPaths []string `json:"filteredPaths,omitempty"`

	// VerifiedPaths and UnverifiedPaths come from path finding stages.
	VerifiedPaths   []string `json:"verifiedPaths,omitempty"`
	UnverifiedPaths []string `json:"unverifiedPaths,omitempty"`

	// CorrectedPaths come from path correction stages.
	CorrectedPaths []string `json:"correctedPaths,omitempty"`

	// TokenCount is the model token usage reported by AI-backed stages.
	TokenCount int `json:"tokenCount,omitempty"`

	// Raw preserves the verbatim job output for task types without a
	// registered extractor.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// IntermediateData accumulates stage outputs over a workflow run. The
// named fields mirror the task types the built-in pipeline produces;
// ByStage keeps every result keyed by stage name, including task types
// the named fields do not cover.
type IntermediateData struct {
	ByStage map[string]StageResult `json:"byStage,omitempty"`

	DirectoryTree string         `json:"directoryTree,omitempty"`
	PatternGroups []PatternGroup `json:"patternGroups,omitempty"`
	FilteredPaths []string       `json:"filteredPaths,omitempty"`

	VerifiedPaths   []string `json:"verifiedPaths,omitempty"`
	UnverifiedPaths []string `json:"unverifiedPaths,omitempty"`
	CorrectedPaths  []string `json:"correctedPaths,omitempty"`

	ExtendedVerifiedPaths   []string `json:"extendedVerifiedPaths,omitempty"`
	ExtendedUnverifiedPaths []string `json:"extendedUnverifiedPaths,omitempty"`
	ExtendedCorrectedPaths  []string `json:"extendedCorrectedPaths,omitempty"`

	// TokenCount totals model token usage across AI-backed stages.
	TokenCount int `json:"tokenCount,omitempty"`
}

// Merge records a stage result, updating both the per-stage map and the
// named field matching the result's task type. Merging the same stage
// twice overwrites; the caller guarantees at most one live job per
// stage, so the last write is the surviving attempt.
func (d *IntermediateData) Merge(stageName string, result StageResult) {
	if d.ByStage == nil {
		d.ByStage = make(map[string]StageResult)
	}
	d.ByStage[stageName] = result
	d.TokenCount += result.TokenCount

	switch result.TaskType {
	case TaskDirectoryTreeGeneration:
		d.DirectoryTree = result.DirectoryTree
	case TaskRegexPatternGeneration:
		d.PatternGroups = result.PatternGroups
	case TaskLocalFileFiltering:
		d.FilteredPaths = result.FilteredPaths
	case TaskPathFinding:
		d.VerifiedPaths = result.VerifiedPaths
		d.UnverifiedPaths = result.UnverifiedPaths
	case TaskPathCorrection:
		d.CorrectedPaths = result.CorrectedPaths
	case TaskExtendedPathFinding:
		d.ExtendedVerifiedPaths = result.VerifiedPaths
		d.ExtendedUnverifiedPaths = result.UnverifiedPaths
	case TaskExtendedPathCorrection:
		d.ExtendedCorrectedPaths = result.CorrectedPaths
	}
}

// FinalSelectedFiles returns the workflow's answer: the union of every
// verified and corrected path from both the base and extended phases,
// deduplicated and sorted.
func (d *IntermediateData) FinalSelectedFiles() []string {
	seen := map[string]bool{}
	for _, group := range [][]string{
		d.VerifiedPaths,
		d.CorrectedPaths,
		d.ExtendedVerifiedPaths,
		d.ExtendedCorrectedPaths,
	} {
		for _, p := range group {
			seen[p] = true
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// StageJob is the workflow-side record of one job executing a stage.
// A stage accumulates one StageJob per attempt; at most one is live.
type StageJob struct {
	// JobID references the job record in the job store.
	JobID string `json:"jobId"`

	// StageName and TaskType are copied from the stage definition.
	StageName string   `json:"stageName"`
	TaskType  TaskType `json:"taskType"`

	// Status mirrors the job's lifecycle state as last reported.
	Status job.Status `json:"status"`

	// Attempt starts at 1 and increments per retry of the stage.
	Attempt int `json:"attempt"`

	// Superseded marks a job replaced by a newer attempt. Status
	// reports from superseded jobs are ignored.
	Superseded bool `json:"superseded,omitempty"`

	// Skipped marks a job canceled by skip recovery. A skipped stage
	// counts as satisfied for dependency and completion purposes.
	Skipped bool `json:"skipped,omitempty"`

	// Note carries a human-readable annotation, such as the skip reason.
	Note string `json:"note,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// WorkflowState is the full record of one workflow run. It is owned by
// the orchestrator's state store; all mutation happens under the
// store's per-workflow lock.
type WorkflowState struct {
	// ID is the unique workflow run identifier (UUID).
	ID string `json:"id"`

	// DefinitionName names the WorkflowDefinition this run executes.
	DefinitionName string `json:"definitionName"`

	Status WorkflowStatus `json:"status"`
	Task   TaskContext    `json:"task"`

	// StageJobs maps stage name to that stage's attempts, oldest first.
	// The last element is the current attempt.
	StageJobs map[string][]*StageJob `json:"stageJobs"`

	// Intermediate accumulates extracted stage outputs.
	Intermediate IntermediateData `json:"intermediate"`

	// ErrorMessage explains Failed status.
	ErrorMessage string `json:"errorMessage,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// CurrentJob returns the stage's latest attempt, or nil when the stage
// has never started.
func (w *WorkflowState) CurrentJob(stageName string) *StageJob {
	jobs := w.StageJobs[stageName]
	if len(jobs) == 0 {
		return nil
	}
	return jobs[len(jobs)-1]
}

// JobByID finds a stage job by job ID across all stages and attempts.
func (w *WorkflowState) JobByID(jobID string) *StageJob {
	for _, attempts := range w.StageJobs {
		for _, sj := range attempts {
			if sj.JobID == jobID {
				return sj
			}
		}
	}
	return nil
}

// StageSatisfied reports whether the stage counts as done for
// dependency and completion purposes: its current attempt completed, or
// the stage was skipped by error recovery.
func (w *WorkflowState) StageSatisfied(stageName string) bool {
	current := w.CurrentJob(stageName)
	if current == nil {
		return false
	}
	return current.Status == job.StatusCompleted || current.Skipped
}

// StageLive reports whether the stage's current attempt is still
// occupying a concurrency slot.
func (w *WorkflowState) StageLive(stageName string) bool {
	current := w.CurrentJob(stageName)
	return current != nil && !current.Superseded && current.Status.Live()
}

// LiveJobCount counts stage jobs holding concurrency slots.
func (w *WorkflowState) LiveJobCount() int {
	count := 0
	for stage := range w.StageJobs {
		if w.StageLive(stage) {
			count++
		}
	}
	return count
}

// EligibleStages returns stages ready to start: never started (or
// needing no live attempt), not satisfied, with every dependency
// satisfied. Stages whose current attempt is live, or terminal without
// being satisfied (failed, canceled without skip), are not eligible.
// Results follow definition order.
func (w *WorkflowState) EligibleStages(def *WorkflowDefinition) []StageDefinition {
	var eligible []StageDefinition
	for _, stage := range def.Stages {
		if w.StageSatisfied(stage.StageName) || w.StageLive(stage.StageName) {
			continue
		}
		if current := w.CurrentJob(stage.StageName); current != nil && !current.Superseded {
			// A non-live, unsatisfied current attempt means the stage
			// terminated badly; recovery, not scheduling, owns it.
			continue
		}
		ready := true
		for _, dep := range stage.Dependencies {
			if !w.StageSatisfied(dep) {
				ready = false
				break
			}
		}
		if ready {
			eligible = append(eligible, stage)
		}
	}
	return eligible
}

// AllStagesSatisfied reports whether every stage of the definition is
// completed or skipped, the workflow completion condition.
func (w *WorkflowState) AllStagesSatisfied(def *WorkflowDefinition) bool {
	for _, stage := range def.Stages {
		if !w.StageSatisfied(stage.StageName) {
			return false
		}
	}
	return true
}

// WorkflowResult is the externally visible outcome of a workflow run.
type WorkflowResult struct {
	WorkflowID   string           `json:"workflowId"`
	Status       WorkflowStatus   `json:"status"`
	Selected     []string         `json:"selectedFiles"`
	Intermediate IntermediateData `json:"intermediate"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	CompletedAt  *time.Time       `json:"completedAt,omitempty"`
}

// Result snapshots the workflow's current outcome.
func (w *WorkflowState) Result() WorkflowResult {
	return WorkflowResult{
		WorkflowID:   w.ID,
		Status:       w.Status,
		Selected:     w.Intermediate.FinalSelectedFiles(),
		Intermediate: w.Intermediate,
		ErrorMessage: w.ErrorMessage,
		CompletedAt:  w.CompletedAt,
	}
}
