// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/filescout/services/file_finder/job"
	"github.com/AleutianAI/filescout/services/file_finder/jobstore"
	"github.com/AleutianAI/filescout/services/file_finder/orchestrator"
	"github.com/AleutianAI/filescout/services/file_finder/workflow"
)

// StartWorkflowRequest is the body of POST /v1/workflows.
type StartWorkflowRequest struct {
	DefinitionName  string   `json:"definitionName"`
	TaskDescription string   `json:"taskDescription" binding:"required"`
	RootPath        string   `json:"rootPath" binding:"required"`
	SessionID       string   `json:"sessionId"`
	ExcludedPaths   []string `json:"excludedPaths"`
	TimeoutMS       int64    `json:"timeoutMs"`
}

// JobStatusRequest is the body of POST /v1/jobs/:jobId/status, reported
// by external workers.
type JobStatusRequest struct {
	Status job.Status      `json:"status" binding:"required"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// StartWorkflow creates and starts a workflow run.
func (s *Server) StartWorkflow(c *gin.Context) {
	var req StartWorkflowRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.DefinitionName == "" {
		req.DefinitionName = workflow.BuiltinWorkflowName
	}

	id, err := s.orch.StartWorkflow(c.Request.Context(), req.DefinitionName, workflow.TaskContext{
		TaskDescription: req.TaskDescription,
		RootPath:        req.RootPath,
		SessionID:       req.SessionID,
		ExcludedPaths:   req.ExcludedPaths,
		TimeoutMS:       req.TimeoutMS,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"workflowId": id})
}

// ListWorkflows returns summaries of all tracked workflows.
func (s *Server) ListWorkflows(c *gin.Context) {
	summaries, err := s.orch.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if summaries == nil {
		summaries = []orchestrator.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"workflows": summaries})
}

// GetWorkflow returns the full state of one workflow.
func (s *Server) GetWorkflow(c *gin.Context) {
	state, err := s.orch.Get(c.Request.Context(), c.Param("workflowId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// GetResult returns the workflow's outcome, including the selected
// files once it completes.
func (s *Server) GetResult(c *gin.Context) {
	result, err := s.orch.Result(c.Request.Context(), c.Param("workflowId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// PauseWorkflow suspends DAG advancement.
func (s *Server) PauseWorkflow(c *gin.Context) {
	if err := s.orch.Pause(c.Request.Context(), c.Param("workflowId")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

// ResumeWorkflow restarts a paused workflow.
func (s *Server) ResumeWorkflow(c *gin.Context) {
	if err := s.orch.Resume(c.Request.Context(), c.Param("workflowId")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

// CancelWorkflow terminally stops a workflow.
func (s *Server) CancelWorkflow(c *gin.Context) {
	if err := s.orch.Cancel(c.Request.Context(), c.Param("workflowId")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "canceled"})
}

// RetryStage manually re-runs one stage of a workflow.
func (s *Server) RetryStage(c *gin.Context) {
	err := s.orch.RetryStage(c.Request.Context(), c.Param("workflowId"), c.Param("stageName"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "retrying"})
}

// ListDefinitions returns the names of all registered workflow
// definitions.
func (s *Server) ListDefinitions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"definitions": s.registry.Names()})
}

// GetDefinition returns one workflow definition.
func (s *Server) GetDefinition(c *gin.Context) {
	def, err := s.registry.Get(c.Param("name"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

// ReportJobStatus applies a status report from an external worker.
// Redelivered terminal reports succeed without side effects, so workers
// can retry the callback safely.
func (s *Server) ReportJobStatus(c *gin.Context) {
	var req JobStatusRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if !validStatuses[req.Status] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown job status: " + string(req.Status)})
		return
	}

	err := s.orch.UpdateJobStatus(c.Request.Context(), c.Param("jobId"), req.Status, req.Output, req.Error)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// RecentEvents returns buffered events, oldest first.
func (s *Server) RecentEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": s.buffer.Recent()})
}

// WorkflowEvents returns buffered events for one workflow.
func (s *Server) WorkflowEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": s.buffer.RecentForWorkflow(c.Param("workflowId"))})
}

var validStatuses = map[job.Status]bool{
	job.StatusAcknowledgedByWorker: true,
	job.StatusPreparing:            true,
	job.StatusRunning:              true,
	job.StatusCompleted:            true,
	job.StatusFailed:               true,
	job.StatusCanceled:             true,
}

// writeError maps engine errors to HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	var illegal *orchestrator.IllegalTransitionError
	var transition *jobstore.TransitionError

	switch {
	case errors.Is(err, orchestrator.ErrWorkflowNotFound),
		errors.Is(err, orchestrator.ErrStageNotFound),
		errors.Is(err, workflow.ErrDefinitionNotFound),
		errors.Is(err, jobstore.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, orchestrator.ErrStageLive),
		errors.Is(err, jobstore.ErrTerminal),
		errors.As(err, &illegal),
		errors.As(err, &transition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, orchestrator.ErrLockTimeout):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})

	default:
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
