// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/filescout/services/file_finder/workflow"
)

// DefaultLockTimeout bounds how long a caller waits for a workflow's
// lock before giving up with ErrLockTimeout.
const DefaultLockTimeout = 5 * time.Second

// stateEntry pairs a workflow state with its lock. The lock is a
// 1-buffered channel so acquisition can race a timeout.
type stateEntry struct {
	sem   chan struct{}
	state *workflow.WorkflowState
}

// stateStore holds live workflow states with per-workflow bounded-wait
// locking. Every read and mutation of a WorkflowState goes through
// withLock; the state pointer never escapes the critical section except
// as a deep copy.
type stateStore struct {
	mu          sync.RWMutex
	entries     map[string]*stateEntry
	lockTimeout time.Duration
}

func newStateStore(lockTimeout time.Duration) *stateStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &stateStore{
		entries:     make(map[string]*stateEntry),
		lockTimeout: lockTimeout,
	}
}

// put registers a new workflow state.
func (s *stateStore) put(state *workflow.WorkflowState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[state.ID] = &stateEntry{
		sem:   make(chan struct{}, 1),
		state: state,
	}
}

// withLock runs fn with exclusive access to the workflow's state.
// Acquisition is bounded: ErrLockTimeout after the configured wait, or
// the context's error if it expires first.
func (s *stateStore) withLock(ctx context.Context, workflowID string, fn func(state *workflow.WorkflowState) error) error {
	s.mu.RLock()
	entry, ok := s.entries[workflowID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case entry.sem <- struct{}{}:
	case <-timer.C:
		return fmt.Errorf("%w: workflow %s", ErrLockTimeout, workflowID)
	case <-ctx.Done():
		return fmt.Errorf("acquire workflow lock: %w", ctx.Err())
	}
	defer func() { <-entry.sem }()

	return fn(entry.state)
}

// snapshot returns a deep copy of the workflow state, safe to hand to
// callers outside the lock.
func (s *stateStore) snapshot(ctx context.Context, workflowID string) (*workflow.WorkflowState, error) {
	var copied *workflow.WorkflowState
	err := s.withLock(ctx, workflowID, func(state *workflow.WorkflowState) error {
		c, err := cloneState(state)
		if err != nil {
			return err
		}
		copied = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return copied, nil
}

// delete removes the workflow state. Callers must not hold its lock.
func (s *stateStore) delete(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, workflowID)
}

// ids returns the IDs of all tracked workflows.
func (s *stateStore) ids() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	return out
}

// cloneState deep-copies a workflow state through JSON. States are
// plain data, so the round trip is lossless.
func cloneState(state *workflow.WorkflowState) (*workflow.WorkflowState, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("clone workflow %s: %w", state.ID, err)
	}
	var copied workflow.WorkflowState
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("clone workflow %s: %w", state.ID, err)
	}
	return &copied, nil
}
