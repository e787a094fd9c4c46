// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package job defines the externally executed job model shared by the
// job store, the dispatch pool, and the workflow orchestrator.
//
// Jobs carry their input payload and output as raw JSON: the job system
// never interprets either. Interpretation belongs to the payload
// builders (inject) and output extractors (extract) keyed by task type.
package job

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of an externally executed job.
type Status string

// Job lifecycle states. Completed, Failed, and Canceled are terminal.
const (
	// StatusCreated means the job record exists but has not been
	// offered to any worker.
	StatusCreated Status = "Created"

	// StatusIdle means the job is parked, deliberately not scheduled.
	StatusIdle Status = "Idle"

	// StatusQueued means the job is available for a worker to claim.
	StatusQueued Status = "Queued"

	// StatusAcknowledgedByWorker means exactly one worker has claimed
	// the job via compare-and-swap from Queued.
	StatusAcknowledgedByWorker Status = "AcknowledgedByWorker"

	// StatusPreparing means the claiming worker is setting up.
	StatusPreparing Status = "Preparing"

	// StatusRunning means the worker is executing the job.
	StatusRunning Status = "Running"

	// StatusCompleted means the job finished and its output is stored.
	StatusCompleted Status = "Completed"

	// StatusFailed means the job finished unsuccessfully.
	StatusFailed Status = "Failed"

	// StatusCanceled means the job was stopped before completion.
	StatusCanceled Status = "Canceled"
)

// Terminal reports whether the status is final. Terminal jobs never
// change status again; late transition attempts are rejected.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Live reports whether a job in this status still occupies a worker or
// queue slot. Used when counting active jobs against concurrency
// budgets.
func (s Status) Live() bool {
	switch s {
	case StatusQueued, StatusAcknowledgedByWorker, StatusPreparing, StatusRunning:
		return true
	default:
		return false
	}
}

// Job is one unit of externally executed work backing a workflow stage.
type Job struct {
	// ID is the unique job identifier (UUID).
	ID string `json:"id"`

	// WorkflowID links the job to the workflow run that created it.
	WorkflowID string `json:"workflowId"`

	// StageName is the workflow stage this job executes.
	StageName string `json:"stageName"`

	// TaskType selects the worker behavior and the output extractor.
	TaskType string `json:"taskType"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Payload is the task-specific input, built by the stage's payload
	// builder. Opaque to the job system.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Output is the task-specific result reported by the worker. Set
	// only once the job reaches a terminal status.
	Output json.RawMessage `json:"output,omitempty"`

	// Error carries the worker's failure message for Failed jobs.
	Error string `json:"error,omitempty"`

	// Attempt counts executions of the stage this job belongs to,
	// starting at 1. Retries create new jobs with a higher attempt.
	Attempt int `json:"attempt"`

	// CreatedAt is when the job record was created.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is when the job last changed status or output.
	UpdatedAt time.Time `json:"updatedAt"`
}
