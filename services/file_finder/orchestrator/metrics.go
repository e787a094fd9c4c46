// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes orchestrator counters and gauges.
type Metrics struct {
	WorkflowsStarted  prometheus.Counter
	WorkflowsFinished *prometheus.CounterVec
	ActiveWorkflows   prometheus.Gauge

	StageJobsCreated  *prometheus.CounterVec
	StageJobsFinished *prometheus.CounterVec
	RecoveryActions   *prometheus.CounterVec

	LockTimeouts prometheus.Counter
}

// NewMetrics creates and registers the orchestrator metrics. A nil
// registerer produces working but unregistered metrics, which tests
// use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WorkflowsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "filescout",
			Subsystem: "orchestrator",
			Name:      "workflows_started_total",
			Help:      "Workflows started.",
		}),
		WorkflowsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filescout",
			Subsystem: "orchestrator",
			Name:      "workflows_finished_total",
			Help:      "Workflows reaching a terminal status, by status.",
		}, []string{"status"}),
		ActiveWorkflows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "filescout",
			Subsystem: "orchestrator",
			Name:      "active_workflows",
			Help:      "Workflows currently tracked and not terminal.",
		}),
		StageJobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filescout",
			Subsystem: "orchestrator",
			Name:      "stage_jobs_created_total",
			Help:      "Stage jobs created, by task type.",
		}, []string{"task_type"}),
		StageJobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filescout",
			Subsystem: "orchestrator",
			Name:      "stage_jobs_finished_total",
			Help:      "Stage job terminal reports applied, by task type and status.",
		}, []string{"task_type", "status"}),
		RecoveryActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filescout",
			Subsystem: "orchestrator",
			Name:      "recovery_actions_total",
			Help:      "Error recovery actions taken, by strategy.",
		}, []string{"strategy"}),
		LockTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "filescout",
			Subsystem: "orchestrator",
			Name:      "lock_timeouts_total",
			Help:      "Workflow lock acquisitions abandoned after the bounded wait.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.WorkflowsStarted,
			m.WorkflowsFinished,
			m.ActiveWorkflows,
			m.StageJobsCreated,
			m.StageJobsFinished,
			m.RecoveryActions,
			m.LockTimeouts,
		)
	}
	return m
}
