// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator drives workflow runs: it creates stage jobs,
// applies job status reports, advances the DAG, and recovers from
// stage failures.
//
// # Concurrency model
//
// Every workflow has its own bounded-wait lock. All decisions that read
// and then mutate a workflow, from merging a stage result to picking
// the next stages, happen inside one critical section, so two stages
// completing simultaneously cannot both observe the old state and
// double-start a successor. Lock waits are bounded; a caller that
// cannot acquire the lock within the timeout gets ErrLockTimeout and
// the workflow is untouched.
//
// # Budget
//
// A workflow never has more live jobs than its concurrency budget,
// including the initial batch of entry stages. Eligible stages beyond
// the budget start later, as running jobs finish.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/filescout/pkg/logging"
	"github.com/AleutianAI/filescout/services/file_finder/events"
	"github.com/AleutianAI/filescout/services/file_finder/extract"
	"github.com/AleutianAI/filescout/services/file_finder/inject"
	"github.com/AleutianAI/filescout/services/file_finder/job"
	"github.com/AleutianAI/filescout/services/file_finder/jobstore"
	"github.com/AleutianAI/filescout/services/file_finder/workflow"
)

// Dispatcher hands created jobs to the execution side and aborts
// running ones. The dispatch pool implements it; remote worker fleets
// can substitute their own.
type Dispatcher interface {
	Dispatch(ctx context.Context, j *job.Job) error
	CancelJob(jobID string)
}

// Config tunes orchestrator behavior.
type Config struct {
	// MaxConcurrentStages is the per-workflow live job budget.
	// Default: 3.
	MaxConcurrentStages int

	// LockTimeout bounds waits for a workflow's lock. Default: 5s.
	LockTimeout time.Duration
}

// Options carries the orchestrator's dependencies.
type Options struct {
	Registry   *workflow.Registry
	Jobs       jobstore.Store
	Dispatcher Dispatcher
	Extractors *extract.Registry
	Builders   *inject.Registry

	// Policy is the error recovery policy. The zero value means
	// DefaultPolicy().
	Policy Policy

	// Sink receives workflow events. Nil means events are dropped.
	Sink events.Sink

	Logger  *logging.Logger
	Metrics *Metrics
	Config  Config
}

// Summary is a compact listing entry for one workflow.
type Summary struct {
	ID             string                  `json:"id"`
	DefinitionName string                  `json:"definitionName"`
	Status         workflow.WorkflowStatus `json:"status"`
	CreatedAt      time.Time               `json:"createdAt"`
	UpdatedAt      time.Time               `json:"updatedAt"`
}

// Orchestrator owns all live workflow state.
type Orchestrator struct {
	registry   *workflow.Registry
	jobs       jobstore.Store
	dispatcher Dispatcher
	extractors *extract.Registry
	builders   *inject.Registry
	policy     Policy
	sink       events.Sink
	logger     *logging.Logger
	metrics    *Metrics
	tracer     trace.Tracer
	config     Config

	states *stateStore

	// defs pins each run to the definition snapshot it started with, so
	// a registry hot-reload never changes a workflow mid-flight.
	defMu sync.RWMutex
	defs  map[string]*workflow.WorkflowDefinition
}

// New creates an orchestrator from its dependencies.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Sink == nil {
		opts.Sink = events.MultiSink{}
	}
	if opts.Policy.Default.Kind == "" && opts.Policy.Stages == nil {
		opts.Policy = DefaultPolicy()
	}
	if opts.Config.MaxConcurrentStages <= 0 {
		opts.Config.MaxConcurrentStages = 3
	}
	if opts.Config.LockTimeout <= 0 {
		opts.Config.LockTimeout = DefaultLockTimeout
	}
	return &Orchestrator{
		registry:   opts.Registry,
		jobs:       opts.Jobs,
		dispatcher: opts.Dispatcher,
		extractors: opts.Extractors,
		builders:   opts.Builders,
		policy:     opts.Policy,
		sink:       opts.Sink,
		logger:     opts.Logger.With("component", "orchestrator"),
		metrics:    opts.Metrics,
		tracer:     otel.Tracer("filescout/orchestrator"),
		config:     opts.Config,
		states:     newStateStore(opts.Config.LockTimeout),
		defs:       make(map[string]*workflow.WorkflowDefinition),
	}
}

// StartWorkflow creates and starts a run of the named definition,
// returning the new workflow ID. Entry stages start immediately, capped
// by the concurrency budget.
func (o *Orchestrator) StartWorkflow(ctx context.Context, definitionName string, task workflow.TaskContext) (string, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.StartWorkflow",
		trace.WithAttributes(attribute.String("workflow.definition", definitionName)))
	defer span.End()

	if task.TaskDescription == "" {
		return "", fmt.Errorf("task description is required")
	}
	if task.RootPath == "" {
		return "", fmt.Errorf("root path is required")
	}

	def, err := o.registry.Get(definitionName)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	state := &workflow.WorkflowState{
		ID:             uuid.NewString(),
		DefinitionName: def.Name,
		Status:         workflow.StatusCreated,
		Task:           task,
		StageJobs:      make(map[string][]*workflow.StageJob),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	span.SetAttributes(attribute.String("workflow.id", state.ID))

	o.defMu.Lock()
	o.defs[state.ID] = def
	o.defMu.Unlock()
	o.states.put(state)

	err = o.withLock(ctx, state.ID, func(state *workflow.WorkflowState) error {
		state.Status = workflow.StatusRunning
		o.publish(events.Event{Type: events.TypeWorkflowStarted, WorkflowID: state.ID})
		return o.advance(ctx, state, def)
	})
	if err != nil {
		return "", err
	}

	o.metrics.WorkflowsStarted.Inc()
	o.metrics.ActiveWorkflows.Inc()
	o.logger.Info("workflow started",
		"workflow_id", state.ID, "definition", def.Name, "root_path", task.RootPath)
	return state.ID, nil
}

// ReportJobStatus implements the dispatch reporter by delegating to
// UpdateJobStatus.
func (o *Orchestrator) ReportJobStatus(ctx context.Context, jobID string, status job.Status, output json.RawMessage, errMsg string) error {
	return o.UpdateJobStatus(ctx, jobID, status, output, errMsg)
}

// UpdateJobStatus applies a job status report.
//
// # Description
//
// Non-terminal reports update the job record and the workflow's mirror
// of it. Terminal reports additionally drive the DAG: a completion is
// extracted and merged, then successors start; a failure goes through
// error recovery. Reports are idempotent: redelivering a terminal
// status a job already holds changes nothing and spawns nothing.
// Reports for superseded jobs and for terminal workflows are recorded
// at most and never advance anything.
func (o *Orchestrator) UpdateJobStatus(ctx context.Context, jobID string, status job.Status, output json.RawMessage, errMsg string) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.UpdateJobStatus",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("job.status", string(status)),
		))
	defer span.End()

	record, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	// Persist the store side first; the store is the source of truth
	// and rejects illegal transitions.
	if status.Terminal() {
		if _, err := o.jobs.SetTerminal(ctx, jobID, status, output, errMsg); err != nil {
			return err
		}
	} else if record.Status != status {
		if _, err := o.jobs.TryTransition(ctx, jobID, record.Status, status); err != nil {
			return err
		}
	}

	return o.withLock(ctx, record.WorkflowID, func(state *workflow.WorkflowState) error {
		sj := state.JobByID(jobID)
		if sj == nil {
			o.logger.Warn("status report for untracked job",
				"workflow_id", state.ID, "job_id", jobID)
			return nil
		}
		if sj.Superseded {
			o.logger.Info("ignoring status report for superseded job",
				"workflow_id", state.ID, "job_id", jobID, "status", string(status))
			return nil
		}
		if sj.Status.Terminal() {
			// Redelivered terminal report: idempotent no-op.
			return nil
		}

		sj.Status = status
		state.UpdatedAt = time.Now().UTC()
		if !status.Terminal() {
			return nil
		}

		o.metrics.StageJobsFinished.WithLabelValues(string(sj.TaskType), string(status)).Inc()
		if state.Status.Terminal() {
			// Late report after the workflow settled; record only.
			return nil
		}

		def := o.definition(state.ID)
		if def == nil {
			return fmt.Errorf("%w: %s", ErrWorkflowNotFound, state.ID)
		}

		switch status {
		case job.StatusCompleted:
			return o.handleStageCompleted(ctx, state, def, sj, output)
		case job.StatusFailed:
			return o.recover(ctx, state, def, sj, errMsg)
		case job.StatusCanceled:
			if state.Status == workflow.StatusCanceled || sj.Skipped {
				return nil
			}
			return o.recover(ctx, state, def, sj, "job canceled")
		}
		return nil
	})
}

// handleStageCompleted extracts and merges the stage output, then
// advances the DAG. Extraction failure is a stage failure.
func (o *Orchestrator) handleStageCompleted(ctx context.Context, state *workflow.WorkflowState, def *workflow.WorkflowDefinition, sj *workflow.StageJob, output json.RawMessage) error {
	result, err := o.extractors.Extract(sj.TaskType, output)
	if err != nil {
		// The worker reported success but the output is unusable.
		sj.Status = job.StatusFailed
		sj.Note = err.Error()
		return o.recover(ctx, state, def, sj, err.Error())
	}

	state.Intermediate.Merge(sj.StageName, result)
	o.publish(events.Event{
		Type:       events.TypeStageCompleted,
		WorkflowID: state.ID,
		StageName:  sj.StageName,
		JobID:      sj.JobID,
	})
	o.logger.Info("stage completed",
		"workflow_id", state.ID, "stage", sj.StageName, "job_id", sj.JobID)

	if state.Status == workflow.StatusPaused {
		// Results are kept, successors wait for resume.
		return nil
	}
	return o.advance(ctx, state, def)
}

// advance starts eligible stages up to the budget and settles terminal
// outcomes. Caller holds the workflow lock.
func (o *Orchestrator) advance(ctx context.Context, state *workflow.WorkflowState, def *workflow.WorkflowDefinition) error {
	if state.Status != workflow.StatusRunning {
		return nil
	}
	if state.AllStagesSatisfied(def) {
		o.completeWorkflow(state)
		return nil
	}

	for _, stage := range state.EligibleStages(def) {
		if state.LiveJobCount() >= o.config.MaxConcurrentStages {
			break
		}
		if err := o.startStage(ctx, state, stage, 1, 0); err != nil {
			// The stage could not start, usually because a skipped
			// dependency left its input missing. Record the attempt as
			// failed and let the stage's recovery strategy decide.
			now := time.Now().UTC()
			sj := &workflow.StageJob{
				StageName: stage.StageName,
				TaskType:  stage.TaskType,
				Status:    job.StatusFailed,
				Attempt:   1,
				Note:      err.Error(),
				CreatedAt: now,
			}
			state.StageJobs[stage.StageName] = append(state.StageJobs[stage.StageName], sj)
			state.UpdatedAt = now
			if err := o.recover(ctx, state, def, sj, fmt.Sprintf("start stage %s: %v", stage.StageName, err)); err != nil {
				return err
			}
			// Recovery may have skipped the stage, scheduled a retry, or
			// settled the workflow. Re-evaluate eligibility so one
			// stage's start failure does not hold back its siblings.
			return o.advance(ctx, state, def)
		}
	}

	if state.LiveJobCount() == 0 {
		// Nothing running, nothing to start, not everything satisfied:
		// the DAG cannot make progress.
		o.failWorkflow(ctx, state, "workflow stalled: no live jobs and no eligible stages")
	}
	return nil
}

// startStage creates, records, and dispatches one stage job. A positive
// delay defers the dispatch, which retries use; the stage job is
// mirrored as Queued immediately so it counts against the budget.
// Caller holds the workflow lock.
func (o *Orchestrator) startStage(ctx context.Context, state *workflow.WorkflowState, stage workflow.StageDefinition, attempt int, delay time.Duration) error {
	payload, err := o.builders.Build(stage.TaskType, state.Task, &state.Intermediate)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	j := &job.Job{
		ID:         uuid.NewString(),
		WorkflowID: state.ID,
		StageName:  stage.StageName,
		TaskType:   string(stage.TaskType),
		Status:     job.StatusCreated,
		Payload:    payload,
		Attempt:    attempt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.jobs.Create(ctx, j); err != nil {
		return err
	}

	if delay > 0 {
		workflowID, jobID := state.ID, j.ID
		time.AfterFunc(delay, func() {
			err := o.dispatcher.Dispatch(context.Background(), j)
			if err == nil {
				return
			}
			o.logger.Error("dispatch delayed job",
				"workflow_id", workflowID, "job_id", jobID, "error", err)
			// The mirrored stage job is already Queued; report the
			// failure so recovery runs instead of stalling on a job
			// that will never execute.
			if uerr := o.UpdateJobStatus(context.Background(), jobID,
				job.StatusFailed, nil, fmt.Sprintf("dispatch: %v", err)); uerr != nil {
				o.logger.Error("fail undispatched job",
					"workflow_id", workflowID, "job_id", jobID, "error", uerr)
			}
		})
	} else if err := o.dispatcher.Dispatch(ctx, j); err != nil {
		return err
	}

	state.StageJobs[stage.StageName] = append(state.StageJobs[stage.StageName], &workflow.StageJob{
		JobID:     j.ID,
		StageName: stage.StageName,
		TaskType:  stage.TaskType,
		Status:    job.StatusQueued,
		Attempt:   attempt,
		CreatedAt: now,
	})
	state.UpdatedAt = now

	o.metrics.StageJobsCreated.WithLabelValues(string(stage.TaskType)).Inc()
	o.publish(events.Event{
		Type:       events.TypeStageStarted,
		WorkflowID: state.ID,
		StageName:  stage.StageName,
		JobID:      j.ID,
	})
	o.logger.Info("stage started",
		"workflow_id", state.ID, "stage", stage.StageName,
		"job_id", j.ID, "attempt", attempt)
	return nil
}

// recover applies the stage's recovery strategy to a failure. Caller
// holds the workflow lock.
func (o *Orchestrator) recover(ctx context.Context, state *workflow.WorkflowState, def *workflow.WorkflowDefinition, sj *workflow.StageJob, msg string) error {
	o.publish(events.Event{
		Type:       events.TypeStageFailed,
		WorkflowID: state.ID,
		StageName:  sj.StageName,
		JobID:      sj.JobID,
		Message:    msg,
	})
	o.logger.Warn("stage failed",
		"workflow_id", state.ID, "stage", sj.StageName,
		"job_id", sj.JobID, "attempt", sj.Attempt, "error", msg)

	strategy := o.policy.For(sj.StageName)

	if strategy.Kind == StrategyRetry {
		maxAttempts := strategy.MaxAttempts
		if maxAttempts < 2 {
			maxAttempts = 2
		}
		if sj.Attempt < maxAttempts {
			stage := def.Stage(sj.StageName)
			if stage == nil {
				return fmt.Errorf("%w: %s", ErrStageNotFound, sj.StageName)
			}
			sj.Superseded = true
			o.metrics.RecoveryActions.WithLabelValues(string(StrategyRetry)).Inc()
			if err := o.startStage(ctx, state, *stage, sj.Attempt+1, strategy.Delay); err != nil {
				o.failWorkflow(ctx, state, fmt.Sprintf("retry stage %s: %v", sj.StageName, err))
				return nil
			}
			o.publish(events.Event{
				Type:       events.TypeStageRetried,
				WorkflowID: state.ID,
				StageName:  sj.StageName,
				Message:    fmt.Sprintf("attempt %d of %d", sj.Attempt+1, maxAttempts),
			})
			return nil
		}
		// Retries exhausted; escalate.
		strategy.Kind = StrategyAbort
		msg = fmt.Sprintf("retries exhausted after %d attempts: %s", sj.Attempt, msg)
	}

	switch strategy.Kind {
	case StrategySkip:
		sj.Skipped = true
		sj.Note = "skipped due to error recovery: " + msg
		o.metrics.RecoveryActions.WithLabelValues(string(StrategySkip)).Inc()
		o.publish(events.Event{
			Type:       events.TypeStageSkipped,
			WorkflowID: state.ID,
			StageName:  sj.StageName,
			Message:    msg,
		})
		o.logger.Info("stage skipped by error recovery",
			"workflow_id", state.ID, "stage", sj.StageName)
		// A skipped stage satisfies its dependents; keep going.
		return o.advance(ctx, state, def)

	default:
		o.metrics.RecoveryActions.WithLabelValues(string(StrategyAbort)).Inc()
		o.failWorkflow(ctx, state, fmt.Sprintf("stage %s failed: %s", sj.StageName, msg))
		return nil
	}
}

// completeWorkflow settles a fully satisfied workflow. Caller holds the
// lock.
func (o *Orchestrator) completeWorkflow(state *workflow.WorkflowState) {
	now := time.Now().UTC()
	state.Status = workflow.StatusCompleted
	state.CompletedAt = &now
	state.UpdatedAt = now

	o.metrics.WorkflowsFinished.WithLabelValues(string(workflow.StatusCompleted)).Inc()
	o.metrics.ActiveWorkflows.Dec()
	o.publish(events.Event{Type: events.TypeWorkflowCompleted, WorkflowID: state.ID})
	o.logger.Info("workflow completed",
		"workflow_id", state.ID,
		"selected_files", len(state.Intermediate.FinalSelectedFiles()),
		"token_count", state.Intermediate.TokenCount)
}

// failWorkflow settles a workflow as Failed and cancels its live jobs.
// Caller holds the lock.
func (o *Orchestrator) failWorkflow(ctx context.Context, state *workflow.WorkflowState, msg string) {
	now := time.Now().UTC()
	state.Status = workflow.StatusFailed
	state.ErrorMessage = msg
	state.CompletedAt = &now
	state.UpdatedAt = now
	o.cancelLiveJobs(ctx, state, "workflow failed")

	o.metrics.WorkflowsFinished.WithLabelValues(string(workflow.StatusFailed)).Inc()
	o.metrics.ActiveWorkflows.Dec()
	o.publish(events.Event{
		Type:       events.TypeWorkflowFailed,
		WorkflowID: state.ID,
		Message:    msg,
	})
	o.logger.Error("workflow failed", "workflow_id", state.ID, "error", msg)
}

// cancelLiveJobs aborts every live stage job. Caller holds the lock.
func (o *Orchestrator) cancelLiveJobs(ctx context.Context, state *workflow.WorkflowState, reason string) {
	for _, attempts := range state.StageJobs {
		for _, sj := range attempts {
			if sj.Superseded || !sj.Status.Live() {
				continue
			}
			o.dispatcher.CancelJob(sj.JobID)
			if _, err := o.jobs.SetTerminal(ctx, sj.JobID, job.StatusCanceled, nil, reason); err != nil &&
				!errors.Is(err, jobstore.ErrTerminal) {
				o.logger.Warn("cancel job", "job_id", sj.JobID, "error", err)
			}
			sj.Status = job.StatusCanceled
		}
	}
}

// Pause suspends DAG advancement. Legal from Created or Running.
// In-flight jobs finish and their results are kept, but no successor
// starts until Resume.
func (o *Orchestrator) Pause(ctx context.Context, workflowID string) error {
	return o.withLock(ctx, workflowID, func(state *workflow.WorkflowState) error {
		if state.Status != workflow.StatusCreated && state.Status != workflow.StatusRunning {
			return &IllegalTransitionError{WorkflowID: workflowID, From: state.Status, To: workflow.StatusPaused}
		}
		state.Status = workflow.StatusPaused
		state.UpdatedAt = time.Now().UTC()
		o.publish(events.Event{Type: events.TypeWorkflowPaused, WorkflowID: workflowID})
		o.logger.Info("workflow paused", "workflow_id", workflowID)
		return nil
	})
}

// Resume restarts DAG advancement of a paused workflow, immediately
// starting any stages that became eligible while paused.
func (o *Orchestrator) Resume(ctx context.Context, workflowID string) error {
	return o.withLock(ctx, workflowID, func(state *workflow.WorkflowState) error {
		if state.Status != workflow.StatusPaused {
			return &IllegalTransitionError{WorkflowID: workflowID, From: state.Status, To: workflow.StatusRunning}
		}
		state.Status = workflow.StatusRunning
		state.UpdatedAt = time.Now().UTC()
		o.publish(events.Event{Type: events.TypeWorkflowResumed, WorkflowID: workflowID})
		o.logger.Info("workflow resumed", "workflow_id", workflowID)

		def := o.definition(state.ID)
		if def == nil {
			return fmt.Errorf("%w: %s", ErrWorkflowNotFound, state.ID)
		}
		return o.advance(ctx, state, def)
	})
}

// Cancel terminally stops a workflow and aborts its live jobs. Legal
// from any non-terminal status.
func (o *Orchestrator) Cancel(ctx context.Context, workflowID string) error {
	return o.withLock(ctx, workflowID, func(state *workflow.WorkflowState) error {
		if state.Status.Terminal() {
			return &IllegalTransitionError{WorkflowID: workflowID, From: state.Status, To: workflow.StatusCanceled}
		}
		now := time.Now().UTC()
		state.Status = workflow.StatusCanceled
		state.CompletedAt = &now
		state.UpdatedAt = now
		o.cancelLiveJobs(ctx, state, "workflow canceled")

		o.metrics.WorkflowsFinished.WithLabelValues(string(workflow.StatusCanceled)).Inc()
		o.metrics.ActiveWorkflows.Dec()
		o.publish(events.Event{Type: events.TypeWorkflowCanceled, WorkflowID: workflowID})
		o.logger.Info("workflow canceled", "workflow_id", workflowID)
		return nil
	})
}

// RetryStage manually re-runs a stage.
//
// # Description
//
// The stage's current attempt must not be live. The current attempt is
// superseded and every transitive dependent's attempt is superseded and
// aborted too, since downstream results derived from the old attempt.
// A Failed workflow returns to Running. The new attempt counts on from
// the superseded one.
func (o *Orchestrator) RetryStage(ctx context.Context, workflowID, stageName string) error {
	return o.withLock(ctx, workflowID, func(state *workflow.WorkflowState) error {
		def := o.definition(state.ID)
		if def == nil {
			return fmt.Errorf("%w: %s", ErrWorkflowNotFound, state.ID)
		}
		stage := def.Stage(stageName)
		if stage == nil {
			return fmt.Errorf("%w: %s", ErrStageNotFound, stageName)
		}
		if state.Status == workflow.StatusCompleted || state.Status == workflow.StatusCanceled {
			return &IllegalTransitionError{WorkflowID: workflowID, From: state.Status, To: workflow.StatusRunning}
		}

		attempt := 1
		if current := state.CurrentJob(stageName); current != nil {
			if !current.Superseded && current.Status.Live() {
				return fmt.Errorf("%w: %s", ErrStageLive, stageName)
			}
			current.Superseded = true
			current.Skipped = false
			attempt = current.Attempt + 1
		}

		// Downstream attempts derived from the superseded result.
		for _, depName := range def.TransitiveDependents(stageName) {
			dep := state.CurrentJob(depName)
			if dep == nil || dep.Superseded {
				continue
			}
			if dep.Status.Live() {
				o.dispatcher.CancelJob(dep.JobID)
				if _, err := o.jobs.SetTerminal(ctx, dep.JobID, job.StatusCanceled, nil, "upstream stage retried"); err != nil &&
					!errors.Is(err, jobstore.ErrTerminal) {
					o.logger.Warn("cancel downstream job", "job_id", dep.JobID, "error", err)
				}
				dep.Status = job.StatusCanceled
			}
			dep.Superseded = true
			dep.Skipped = false
		}

		if state.Status == workflow.StatusFailed {
			state.Status = workflow.StatusRunning
			state.ErrorMessage = ""
			state.CompletedAt = nil
			o.metrics.ActiveWorkflows.Inc()
		}

		if err := o.startStage(ctx, state, *stage, attempt, 0); err != nil {
			o.failWorkflow(ctx, state, fmt.Sprintf("retry stage %s: %v", stageName, err))
			return nil
		}
		o.publish(events.Event{
			Type:       events.TypeStageRetried,
			WorkflowID: workflowID,
			StageName:  stageName,
			Message:    "manual retry",
		})
		return nil
	})
}

// Get returns a deep copy of the workflow state.
func (o *Orchestrator) Get(ctx context.Context, workflowID string) (*workflow.WorkflowState, error) {
	return o.states.snapshot(ctx, workflowID)
}

// Result returns the workflow's current outcome.
func (o *Orchestrator) Result(ctx context.Context, workflowID string) (workflow.WorkflowResult, error) {
	state, err := o.states.snapshot(ctx, workflowID)
	if err != nil {
		return workflow.WorkflowResult{}, err
	}
	return state.Result(), nil
}

// List returns summaries of all tracked workflows, newest first.
func (o *Orchestrator) List(ctx context.Context) ([]Summary, error) {
	var summaries []Summary
	for _, id := range o.states.ids() {
		state, err := o.states.snapshot(ctx, id)
		if err != nil {
			if errors.Is(err, ErrWorkflowNotFound) {
				continue // cleaned up concurrently
			}
			return nil, err
		}
		summaries = append(summaries, Summary{
			ID:             state.ID,
			DefinitionName: state.DefinitionName,
			Status:         state.Status,
			CreatedAt:      state.CreatedAt,
			UpdatedAt:      state.UpdatedAt,
		})
	}
	sort.Slice(summaries, func(i, k int) bool {
		return summaries[i].CreatedAt.After(summaries[k].CreatedAt)
	})
	return summaries, nil
}

// CleanupCompletedWorkflows drops terminal workflows older than maxAge,
// including their job records, and reports how many were removed.
// Non-terminal workflows are always retained.
func (o *Orchestrator) CleanupCompletedWorkflows(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	var expired []string
	for _, id := range o.states.ids() {
		err := o.states.withLock(ctx, id, func(state *workflow.WorkflowState) error {
			if !state.Status.Terminal() {
				return nil
			}
			settled := state.UpdatedAt
			if state.CompletedAt != nil {
				settled = *state.CompletedAt
			}
			if settled.Before(cutoff) {
				expired = append(expired, id)
			}
			return nil
		})
		if err != nil && !errors.Is(err, ErrWorkflowNotFound) {
			return 0, err
		}
	}

	removed := 0
	for _, id := range expired {
		if err := o.jobs.DeleteByWorkflow(ctx, id); err != nil {
			o.logger.Warn("delete workflow jobs", "workflow_id", id, "error", err)
			continue
		}
		o.states.delete(id)
		o.defMu.Lock()
		delete(o.defs, id)
		o.defMu.Unlock()
		removed++
		o.logger.Info("workflow cleaned up", "workflow_id", id)
	}
	return removed, nil
}

// definition returns the per-run definition snapshot.
func (o *Orchestrator) definition(workflowID string) *workflow.WorkflowDefinition {
	o.defMu.RLock()
	defer o.defMu.RUnlock()
	return o.defs[workflowID]
}

// withLock wraps the state store lock, counting bounded-wait timeouts.
func (o *Orchestrator) withLock(ctx context.Context, workflowID string, fn func(state *workflow.WorkflowState) error) error {
	err := o.states.withLock(ctx, workflowID, fn)
	if errors.Is(err, ErrLockTimeout) {
		o.metrics.LockTimeouts.Inc()
	}
	return err
}

// publish stamps and emits an event.
func (o *Orchestrator) publish(event events.Event) {
	event.Timestamp = time.Now().UTC()
	o.sink.Publish(event)
}
