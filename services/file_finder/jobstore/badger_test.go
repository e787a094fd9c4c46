// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package jobstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/filescout/services/file_finder/job"
)

// newTestStore opens an in-memory store closed at test end.
func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// newTestJob builds a Created job for the given workflow.
func newTestJob(t *testing.T, workflowID, stage string) *job.Job {
	t.Helper()
	now := time.Now().UTC()
	return &job.Job{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		StageName:  stage,
		TaskType:   "directory_tree_generation",
		Status:     job.StatusCreated,
		Attempt:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	j := newTestJob(t, "wf-1", "tree")
	require.NoError(t, store.Create(ctx, j))

	got, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, job.StatusCreated, got.Status)
	assert.Equal(t, "tree", got.StageName)
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	j := newTestJob(t, "wf-1", "tree")
	require.NoError(t, store.Create(ctx, j))
	assert.ErrorIs(t, store.Create(ctx, j), ErrJobExists)
}

func TestGetUnknownJob(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestTryTransition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	j := newTestJob(t, "wf-1", "tree")
	require.NoError(t, store.Create(ctx, j))

	updated, err := store.TryTransition(ctx, j.ID, job.StatusCreated, job.StatusQueued)
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, updated.Status)

	// Wrong expected status loses the CAS.
	_, err = store.TryTransition(ctx, j.ID, job.StatusCreated, job.StatusQueued)
	var transition *TransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, job.StatusQueued, transition.Actual)
}

func TestTryTransitionRejectsTerminalJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	j := newTestJob(t, "wf-1", "tree")
	require.NoError(t, store.Create(ctx, j))
	_, err := store.SetTerminal(ctx, j.ID, job.StatusCanceled, nil, "")
	require.NoError(t, err)

	_, err = store.TryTransition(ctx, j.ID, job.StatusCanceled, job.StatusQueued)
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestConcurrentClaimExactlyOneWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	j := newTestJob(t, "wf-1", "tree")
	j.Status = job.StatusQueued
	require.NoError(t, store.Create(ctx, j))

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.TryTransition(ctx, j.ID,
				job.StatusQueued, job.StatusAcknowledgedByWorker)
			if err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)

	got, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusAcknowledgedByWorker, got.Status)
}

func TestSetTerminalStoresOutput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	j := newTestJob(t, "wf-1", "tree")
	require.NoError(t, store.Create(ctx, j))

	updated, err := store.SetTerminal(ctx, j.ID, job.StatusCompleted,
		[]byte(`{"directoryTree": "src/"}`), "")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, updated.Status)
	assert.JSONEq(t, `{"directoryTree": "src/"}`, string(updated.Output))
}

func TestSetTerminalIdempotentOnSameStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	j := newTestJob(t, "wf-1", "tree")
	require.NoError(t, store.Create(ctx, j))

	first, err := store.SetTerminal(ctx, j.ID, job.StatusCompleted, []byte(`{"a":1}`), "")
	require.NoError(t, err)

	// Redelivery keeps the first result.
	second, err := store.SetTerminal(ctx, j.ID, job.StatusCompleted, []byte(`{"a":2}`), "")
	require.NoError(t, err)
	assert.Equal(t, string(first.Output), string(second.Output))
}

func TestSetTerminalRejectsConflictingTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	j := newTestJob(t, "wf-1", "tree")
	require.NoError(t, store.Create(ctx, j))

	_, err := store.SetTerminal(ctx, j.ID, job.StatusCompleted, nil, "")
	require.NoError(t, err)

	_, err = store.SetTerminal(ctx, j.ID, job.StatusFailed, nil, "boom")
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestSetTerminalRejectsNonTerminalStatus(t *testing.T) {
	store := newTestStore(t)

	_, err := store.SetTerminal(context.Background(), "any", job.StatusRunning, nil, "")
	require.Error(t, err)
}

func TestListByWorkflow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, stage := range []string{"tree", "patterns", "filter"} {
		j := newTestJob(t, "wf-1", stage)
		j.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.Create(ctx, j))
	}
	require.NoError(t, store.Create(ctx, newTestJob(t, "wf-other", "tree")))

	jobs, err := store.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "tree", jobs[0].StageName)
	assert.Equal(t, "filter", jobs[2].StageName)
}

func TestListByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	queued := newTestJob(t, "wf-1", "a")
	queued.Status = job.StatusQueued
	require.NoError(t, store.Create(ctx, queued))
	require.NoError(t, store.Create(ctx, newTestJob(t, "wf-1", "b")))

	jobs, err := store.ListByStatus(ctx, job.StatusQueued)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, queued.ID, jobs[0].ID)
}

func TestDeleteByWorkflow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	j1 := newTestJob(t, "wf-1", "tree")
	j2 := newTestJob(t, "wf-1", "patterns")
	keep := newTestJob(t, "wf-2", "tree")
	for _, j := range []*job.Job{j1, j2, keep} {
		require.NoError(t, store.Create(ctx, j))
	}

	require.NoError(t, store.DeleteByWorkflow(ctx, "wf-1"))

	_, err := store.Get(ctx, j1.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = store.Get(ctx, keep.ID)
	assert.NoError(t, err)

	jobs, err := store.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRequeueStale(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stale := newTestJob(t, "wf-1", "a")
	stale.Status = job.StatusAcknowledgedByWorker
	stale.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.Create(ctx, stale))

	fresh := newTestJob(t, "wf-1", "b")
	fresh.Status = job.StatusPreparing
	require.NoError(t, store.Create(ctx, fresh))

	running := newTestJob(t, "wf-1", "c")
	running.Status = job.StatusRunning
	running.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.Create(ctx, running))

	count, err := store.RequeueStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := store.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, got.Status)

	got, err = store.Get(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, got.Status)
}

func TestPersistentStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := Open(DefaultConfig(dir))
	require.NoError(t, err)

	j := newTestJob(t, "wf-1", "tree")
	require.NoError(t, store.Create(ctx, j))
	require.NoError(t, store.Close())

	reopened, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}
