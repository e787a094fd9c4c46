// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/filescout/cmd/filescout/config"
	"github.com/AleutianAI/filescout/pkg/logging"
	"github.com/AleutianAI/filescout/services/file_finder/dispatch"
	"github.com/AleutianAI/filescout/services/file_finder/events"
	"github.com/AleutianAI/filescout/services/file_finder/extract"
	"github.com/AleutianAI/filescout/services/file_finder/httpapi"
	"github.com/AleutianAI/filescout/services/file_finder/inject"
	"github.com/AleutianAI/filescout/services/file_finder/jobstore"
	"github.com/AleutianAI/filescout/services/file_finder/orchestrator"
	"github.com/AleutianAI/filescout/services/file_finder/workflow"
)

// staleClaimAge is how long a claimed-but-unstarted job may sit before
// a restart returns it to the queue.
const staleClaimAge = time.Minute

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:   parseLogLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "filescout",
		JSON:    cfg.Logging.JSON,
	})
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := jobstore.Open(jobstore.Config{
		Path:     cfg.Store.Path,
		InMemory: cfg.Store.InMemory,
		Logger:   logger.Slog(),
	})
	if err != nil {
		log.Fatalf("open job store: %v", err)
	}
	defer store.Close()

	// Jobs claimed by a worker that died with the previous process go
	// back to the queue.
	if n, err := store.RequeueStale(ctx, staleClaimAge); err != nil {
		logger.Warn("requeue stale jobs", "error", err)
	} else if n > 0 {
		logger.Info("requeued stale jobs from previous run", "count", n)
	}

	registry := workflow.NewRegistry(logger)
	registry.LoadOrBuiltin(cfg.Workflows.DefinitionsDir)
	if cfg.Workflows.WatchDefinitions {
		if err := registry.Watch(ctx, cfg.Workflows.DefinitionsDir); err != nil {
			logger.Warn("definition hot-reload disabled", "error", err)
		}
	}

	pool := dispatch.NewPool(store, buildExecutors(cfg), dispatch.Config{
		Workers:      cfg.Dispatch.Workers,
		PollInterval: time.Duration(cfg.Dispatch.PollIntervalSecond) * time.Second,
		JobTimeout:   time.Duration(cfg.Dispatch.JobTimeoutSeconds) * time.Second,
	}, logger)

	hub := events.NewHub(logger)
	defer hub.Close()
	buffer := events.NewBuffer(1024)
	sink := events.MultiSink{buffer, hub, events.NewLogSink(logger)}

	orch := orchestrator.New(orchestrator.Options{
		Registry:   registry,
		Jobs:       store,
		Dispatcher: pool,
		Extractors: extract.NewRegistry(),
		Builders:   inject.NewRegistry(),
		Sink:       sink,
		Logger:     logger,
		Metrics:    orchestrator.NewMetrics(prometheus.DefaultRegisterer),
		Config: orchestrator.Config{
			MaxConcurrentStages: cfg.Workflows.MaxConcurrentStages,
			LockTimeout:         time.Duration(cfg.Workflows.LockTimeoutSeconds) * time.Second,
		},
	})

	pool.SetReporter(orch)
	pool.Start()
	defer pool.Stop()

	if cfg.Workflows.RetentionHours > 0 {
		go runRetention(ctx, orch, logger,
			time.Duration(cfg.Workflows.RetentionHours)*time.Hour)
	}

	server := httpapi.NewServer(httpapi.Options{
		Orchestrator: orch,
		Registry:     registry,
		Buffer:       buffer,
		Hub:          hub,
		Logger:       logger,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
}

// buildExecutors wires one executor per task type: local executors for
// the deterministic stages, a shared chat executor for the AI stages.
func buildExecutors(cfg config.FilescoutConfig) map[string]dispatch.Executor {
	chat := dispatch.NewChatExecutor(dispatch.ChatConfig{
		APIKey:      os.Getenv(cfg.ModelBackend.APIKeyEnv),
		BaseURL:     cfg.ModelBackend.BaseURL,
		Model:       cfg.ModelBackend.Model,
		Temperature: cfg.ModelBackend.Temperature,
	})

	executors := map[string]dispatch.Executor{
		string(workflow.TaskDirectoryTreeGeneration): &dispatch.TreeExecutor{},
		string(workflow.TaskLocalFileFiltering):      &dispatch.FilterExecutor{},
	}
	for _, taskType := range []workflow.TaskType{
		workflow.TaskRegexPatternGeneration,
		workflow.TaskPathFinding,
		workflow.TaskPathCorrection,
		workflow.TaskExtendedPathFinding,
		workflow.TaskExtendedPathCorrection,
	} {
		executors[string(taskType)] = chat
	}
	return executors
}

// runRetention periodically drops terminal workflows past the
// retention window.
func runRetention(ctx context.Context, orch *orchestrator.Orchestrator, logger *logging.Logger, maxAge time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := orch.CleanupCompletedWorkflows(ctx, maxAge)
			if err != nil {
				logger.Warn("workflow cleanup", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("workflow cleanup", "removed", removed)
			}
		}
	}
}

func parseLogLevel(level string) logging.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logging.LevelDebug
	case "warn", "warning":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
