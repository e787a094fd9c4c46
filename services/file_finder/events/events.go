// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package events carries workflow progress notifications to observers.
//
// The orchestrator publishes an Event on every externally meaningful
// transition: workflow lifecycle changes, stage starts and terminations,
// and error recovery actions. Sinks are fire-and-forget; a slow
// observer never blocks DAG advancement.
package events

import (
	"time"

	"github.com/AleutianAI/filescout/pkg/logging"
)

// Type classifies an event.
type Type string

// Event types published by the orchestrator.
const (
	TypeWorkflowStarted   Type = "workflow_started"
	TypeWorkflowPaused    Type = "workflow_paused"
	TypeWorkflowResumed   Type = "workflow_resumed"
	TypeWorkflowCompleted Type = "workflow_completed"
	TypeWorkflowFailed    Type = "workflow_failed"
	TypeWorkflowCanceled  Type = "workflow_canceled"

	TypeStageStarted   Type = "stage_started"
	TypeStageCompleted Type = "stage_completed"
	TypeStageFailed    Type = "stage_failed"
	TypeStageSkipped   Type = "stage_skipped"
	TypeStageRetried   Type = "stage_retried"
)

// Event is one workflow progress notification.
type Event struct {
	Type       Type      `json:"type"`
	WorkflowID string    `json:"workflowId"`
	StageName  string    `json:"stageName,omitempty"`
	JobID      string    `json:"jobId,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sink receives events. Implementations must not block; drop rather
// than stall.
type Sink interface {
	Publish(event Event)
}

// MultiSink fans events out to several sinks.
type MultiSink []Sink

// Publish sends the event to every sink in order.
func (m MultiSink) Publish(event Event) {
	for _, sink := range m {
		sink.Publish(event)
	}
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a sink logging at Info level.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Discard()
	}
	return &LogSink{logger: logger.With("component", "events")}
}

// Publish logs the event.
func (s *LogSink) Publish(event Event) {
	s.logger.Info("workflow event",
		"type", string(event.Type),
		"workflow_id", event.WorkflowID,
		"stage", event.StageName,
		"job_id", event.JobID,
		"message", event.Message,
	)
}
