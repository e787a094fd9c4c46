// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/filescout/services/file_finder/workflow"
)

// Sentinel errors for orchestrator operations.
var (
	// ErrLockTimeout indicates the per-workflow lock could not be
	// acquired within the bounded wait. The caller may retry; the
	// workflow state is untouched.
	ErrLockTimeout = errors.New("timed out waiting for workflow lock")

	// ErrWorkflowNotFound indicates a lookup by unknown workflow ID.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrStageNotFound indicates a stage name absent from the
	// workflow's definition.
	ErrStageNotFound = errors.New("stage not found in workflow definition")

	// ErrStageLive indicates a retry request for a stage whose current
	// attempt is still running.
	ErrStageLive = errors.New("stage has a live job")
)

// IllegalTransitionError indicates a lifecycle request the workflow's
// current status does not permit, such as pausing a completed workflow.
type IllegalTransitionError struct {
	WorkflowID string
	From       workflow.WorkflowStatus
	To         workflow.WorkflowStatus
}

// Error implements the error interface.
func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("workflow %s: cannot transition %s -> %s",
		e.WorkflowID, e.From, e.To)
}
