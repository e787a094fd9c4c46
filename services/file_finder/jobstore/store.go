// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package jobstore persists job records in embedded BadgerDB storage.
//
// The store is the single source of truth for job status. Status
// changes go through compare-and-swap transitions so concurrent workers
// cannot double-claim a queued job, and terminal statuses are sealed:
// once a job is Completed, Failed, or Canceled it never changes again.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/filescout/services/file_finder/job"
)

// Sentinel errors for store operations.
var (
	// ErrJobNotFound indicates a lookup by unknown job ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists indicates Create was called with an ID already in use.
	ErrJobExists = errors.New("job already exists")

	// ErrTerminal indicates an attempt to change a job that has already
	// reached a terminal status.
	ErrTerminal = errors.New("job is in a terminal status")
)

// TransitionError indicates a compare-and-swap transition lost the
// race: the job's current status did not match the expected one.
type TransitionError struct {
	JobID    string
	Expected job.Status
	Actual   job.Status
	Target   job.Status
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: cannot transition %s -> %s, status is %s",
		e.JobID, e.Expected, e.Target, e.Actual)
}

// Store persists job records.
//
// All implementations must make TryTransition atomic: of N concurrent
// callers expecting the same current status, exactly one succeeds.
type Store interface {
	// Create stores a new job record. Fails with ErrJobExists when the
	// ID is already used.
	Create(ctx context.Context, j *job.Job) error

	// Get returns the job by ID, or ErrJobNotFound.
	Get(ctx context.Context, id string) (*job.Job, error)

	// TryTransition atomically moves the job from the expected status
	// to the target status, returning the updated record. A mismatch
	// fails with *TransitionError; a terminal current status fails with
	// ErrTerminal.
	TryTransition(ctx context.Context, id string, from, to job.Status) (*job.Job, error)

	// SetTerminal seals the job with a terminal status, output, and
	// error message. Calling it again with the same status is an
	// idempotent no-op; a different terminal status fails with
	// ErrTerminal.
	SetTerminal(ctx context.Context, id string, status job.Status, output json.RawMessage, errMsg string) (*job.Job, error)

	// ListByWorkflow returns all jobs of a workflow, oldest first.
	ListByWorkflow(ctx context.Context, workflowID string) ([]*job.Job, error)

	// ListByStatus returns all jobs currently in the given status.
	ListByStatus(ctx context.Context, status job.Status) ([]*job.Job, error)

	// DeleteByWorkflow removes every job record of a workflow.
	DeleteByWorkflow(ctx context.Context, workflowID string) error

	// RequeueStale returns claimed-but-unstarted jobs (Acknowledged or
	// Preparing) older than the cutoff to Queued, and reports how many
	// were requeued.
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)

	// Close releases the underlying storage.
	Close() error
}
