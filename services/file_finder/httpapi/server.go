// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package httpapi exposes the workflow engine over HTTP: workflow
// lifecycle routes, the job status callback for external workers, event
// history, a websocket event stream, and Prometheus metrics.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/filescout/pkg/logging"
	"github.com/AleutianAI/filescout/services/file_finder/events"
	"github.com/AleutianAI/filescout/services/file_finder/orchestrator"
	"github.com/AleutianAI/filescout/services/file_finder/workflow"
)

// Options carries the server's dependencies.
type Options struct {
	Orchestrator *orchestrator.Orchestrator
	Registry     *workflow.Registry

	// Buffer serves event history; nil disables the history routes.
	Buffer *events.Buffer

	// Hub serves the websocket event stream; nil disables the route.
	Hub *events.Hub

	// Gatherer backs the /metrics route; nil means the default
	// Prometheus gatherer.
	Gatherer prometheus.Gatherer

	Logger *logging.Logger
}

// Server is the HTTP front of the workflow engine.
type Server struct {
	orch     *orchestrator.Orchestrator
	registry *workflow.Registry
	buffer   *events.Buffer
	hub      *events.Hub
	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

// NewServer creates the server and its router.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		orch:     opts.Orchestrator,
		registry: opts.Registry,
		buffer:   opts.Buffer,
		hub:      opts.Hub,
		gatherer: opts.Gatherer,
		logger:   opts.Logger.With("component", "httpapi"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	{
		v1.POST("/workflows", s.StartWorkflow)
		v1.GET("/workflows", s.ListWorkflows)
		v1.GET("/workflows/:workflowId", s.GetWorkflow)
		v1.GET("/workflows/:workflowId/result", s.GetResult)
		v1.POST("/workflows/:workflowId/pause", s.PauseWorkflow)
		v1.POST("/workflows/:workflowId/resume", s.ResumeWorkflow)
		v1.POST("/workflows/:workflowId/cancel", s.CancelWorkflow)
		v1.POST("/workflows/:workflowId/stages/:stageName/retry", s.RetryStage)

		v1.GET("/definitions", s.ListDefinitions)
		v1.GET("/definitions/:name", s.GetDefinition)

		v1.POST("/jobs/:jobId/status", s.ReportJobStatus)

		if s.buffer != nil {
			v1.GET("/events", s.RecentEvents)
			v1.GET("/workflows/:workflowId/events", s.WorkflowEvents)
		}
		if s.hub != nil {
			v1.GET("/events/ws", gin.WrapH(s.hub))
		}
	}
	return router
}

// HealthCheck reports liveness.
func (s *Server) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
