// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dispatch executes jobs with a local worker pool.
//
// Jobs are externally executed from the orchestrator's point of view:
// the orchestrator only queues job records and receives status reports.
// This package provides the built-in worker side. Workers claim queued
// jobs by compare-and-swap, so running several pools against one store
// is safe; each job is executed exactly once per attempt.
//
// Claim protocol: Queued -> AcknowledgedByWorker (CAS) -> Preparing ->
// Running -> Completed/Failed. A job canceled mid-flight loses the race
// to its terminal status; the worker's result is discarded.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/filescout/pkg/logging"
	"github.com/AleutianAI/filescout/services/file_finder/job"
	"github.com/AleutianAI/filescout/services/file_finder/jobstore"
)

// ErrNoExecutor indicates a job whose task type has no registered
// executor.
var ErrNoExecutor = errors.New("no executor registered for task type")

// Executor runs one task type. The payload is the job's input; the
// returned raw JSON becomes the job's output.
type Executor interface {
	Execute(ctx context.Context, j *job.Job) (json.RawMessage, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, j *job.Job) (json.RawMessage, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, j *job.Job) (json.RawMessage, error) {
	return f(ctx, j)
}

// Reporter receives job completion reports. The orchestrator implements
// this to advance workflows when jobs finish.
type Reporter interface {
	ReportJobStatus(ctx context.Context, jobID string, status job.Status, output json.RawMessage, errMsg string) error
}

// Config configures a Pool.
type Config struct {
	// Workers is the number of concurrent job executors. Default: 4.
	Workers int

	// PollInterval bounds how long a queued job waits when no wake
	// notification arrives. Default: 2s.
	PollInterval time.Duration

	// JobTimeout bounds a single execution. Default: 5m.
	JobTimeout time.Duration
}

// Pool claims queued jobs from the store and executes them.
//
// # Thread Safety
//
// Safe for concurrent use. Dispatch and CancelJob may be called from
// any goroutine once Start has returned.
type Pool struct {
	store     jobstore.Store
	executors map[string]Executor
	config    Config
	logger    *logging.Logger

	reporter Reporter
	wake     chan struct{}

	mu      sync.Mutex
	running map[string]context.CancelFunc

	stop chan struct{}
	done sync.WaitGroup
}

// NewPool creates a pool executing jobs from store with the given
// executors keyed by task type.
func NewPool(store jobstore.Store, executors map[string]Executor, config Config, logger *logging.Logger) *Pool {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if executors == nil {
		executors = map[string]Executor{}
	}
	return &Pool{
		store:     store,
		executors: executors,
		config:    config,
		logger:    logger.With("component", "dispatch_pool"),
		wake:      make(chan struct{}, 1),
		running:   make(map[string]context.CancelFunc),
		stop:      make(chan struct{}),
	}
}

// SetReporter installs the completion reporter. Must be called before
// Start.
func (p *Pool) SetReporter(r Reporter) {
	p.reporter = r
}

// Dispatch queues a created job for execution and wakes the workers.
func (p *Pool) Dispatch(ctx context.Context, j *job.Job) error {
	if _, err := p.store.TryTransition(ctx, j.ID, job.StatusCreated, job.StatusQueued); err != nil {
		return fmt.Errorf("queue job %s: %w", j.ID, err)
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// CancelJob aborts the job's executor if it is running on this pool.
// Jobs not running locally are unaffected; the store-level terminal
// status is the orchestrator's responsibility.
func (p *Pool) CancelJob(jobID string) {
	p.mu.Lock()
	cancel, ok := p.running[jobID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.done.Add(1)
		go p.workerLoop(i)
	}
}

// Stop halts the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	close(p.stop)
	p.done.Wait()
}

func (p *Pool) workerLoop(id int) {
	defer p.done.Done()
	logger := p.logger.With("worker", id)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		p.drainQueue(logger)
		select {
		case <-p.stop:
			return
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

// drainQueue claims and executes queued jobs until none remain.
func (p *Pool) drainQueue(logger *logging.Logger) {
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		ctx := context.Background()
		queued, err := p.store.ListByStatus(ctx, job.StatusQueued)
		if err != nil {
			logger.Error("list queued jobs", "error", err)
			return
		}
		if len(queued) == 0 {
			return
		}

		claimed := false
		for _, j := range queued {
			if _, err := p.store.TryTransition(ctx, j.ID,
				job.StatusQueued, job.StatusAcknowledgedByWorker); err != nil {
				continue // another worker won the claim
			}
			claimed = true
			p.execute(ctx, j.ID, logger)
		}
		if !claimed {
			return
		}
	}
}

// execute runs one claimed job through its lifecycle.
func (p *Pool) execute(ctx context.Context, jobID string, logger *logging.Logger) {
	j, err := p.advanceToRunning(ctx, jobID)
	if err != nil {
		logger.Warn("job abandoned before running", "job_id", jobID, "error", err)
		return
	}
	logger = logger.With("job_id", j.ID, "task_type", j.TaskType, "stage", j.StageName)

	executor, ok := p.executors[j.TaskType]
	if !ok {
		p.finish(ctx, j.ID, job.StatusFailed, nil, ErrNoExecutor.Error(), logger)
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	p.mu.Lock()
	p.running[j.ID] = cancel
	p.mu.Unlock()
	defer func() {
		cancel()
		p.mu.Lock()
		delete(p.running, j.ID)
		p.mu.Unlock()
	}()

	output, err := executor.Execute(execCtx, j)
	switch {
	case err == nil:
		p.finish(ctx, j.ID, job.StatusCompleted, output, "", logger)
	case errors.Is(err, context.Canceled):
		p.finish(ctx, j.ID, job.StatusCanceled, nil, "execution canceled", logger)
	default:
		p.finish(ctx, j.ID, job.StatusFailed, nil, err.Error(), logger)
	}
}

// advanceToRunning walks the claimed job through Preparing to Running.
func (p *Pool) advanceToRunning(ctx context.Context, jobID string) (*job.Job, error) {
	if _, err := p.store.TryTransition(ctx, jobID,
		job.StatusAcknowledgedByWorker, job.StatusPreparing); err != nil {
		return nil, err
	}
	return p.store.TryTransition(ctx, jobID, job.StatusPreparing, job.StatusRunning)
}

// finish seals the job and reports the result. A job that reached a
// conflicting terminal status in the meantime (canceled while running)
// keeps that status; the worker's result is discarded without a report.
func (p *Pool) finish(ctx context.Context, jobID string, status job.Status, output json.RawMessage, errMsg string, logger *logging.Logger) {
	if _, err := p.store.SetTerminal(ctx, jobID, status, output, errMsg); err != nil {
		if errors.Is(err, jobstore.ErrTerminal) {
			logger.Info("job reached terminal status elsewhere, result discarded",
				"intended_status", string(status))
			return
		}
		logger.Error("seal job", "error", err)
		return
	}
	logger.Info("job finished", "status", string(status))

	if p.reporter == nil {
		return
	}
	if err := p.reporter.ReportJobStatus(ctx, jobID, status, output, errMsg); err != nil {
		logger.Error("report job status", "error", err)
	}
}
