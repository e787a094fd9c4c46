// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/filescout/pkg/logging"
	"github.com/AleutianAI/filescout/services/file_finder/events"
	"github.com/AleutianAI/filescout/services/file_finder/extract"
	"github.com/AleutianAI/filescout/services/file_finder/inject"
	"github.com/AleutianAI/filescout/services/file_finder/job"
	"github.com/AleutianAI/filescout/services/file_finder/jobstore"
	"github.com/AleutianAI/filescout/services/file_finder/orchestrator"
	"github.com/AleutianAI/filescout/services/file_finder/workflow"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// queueDispatcher marks dispatched jobs queued without executing them,
// so tests play the worker through the status route.
type queueDispatcher struct {
	mu    sync.Mutex
	store jobstore.Store
	jobs  []*job.Job
}

func (d *queueDispatcher) Dispatch(ctx context.Context, j *job.Job) error {
	if _, err := d.store.TryTransition(ctx, j.ID, job.StatusCreated, job.StatusQueued); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, j)
	return nil
}

func (d *queueDispatcher) CancelJob(string) {}

func (d *queueDispatcher) latest(t *testing.T) *job.Job {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.jobs)
	return d.jobs[len(d.jobs)-1]
}

type apiFixture struct {
	router     *gin.Engine
	dispatcher *queueDispatcher
	buffer     *events.Buffer
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	store, err := jobstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := workflow.NewRegistry(logging.Discard())
	require.NoError(t, registry.Register(workflow.BuiltinFileFinderDefinition()))

	dispatcher := &queueDispatcher{store: store}
	buffer := events.NewBuffer(128)

	orch := orchestrator.New(orchestrator.Options{
		Registry:   registry,
		Jobs:       store,
		Dispatcher: dispatcher,
		Extractors: extract.NewRegistry(),
		Builders:   inject.NewRegistry(),
		Policy:     orchestrator.Policy{Default: orchestrator.Strategy{Kind: orchestrator.StrategyAbort}},
		Sink:       buffer,
		Logger:     logging.Discard(),
	})

	server := NewServer(Options{
		Orchestrator: orch,
		Registry:     registry,
		Buffer:       buffer,
		Gatherer:     prometheus.NewRegistry(),
		Logger:       logging.Discard(),
	})
	return &apiFixture{router: server.Router(), dispatcher: dispatcher, buffer: buffer}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) startWorkflow(t *testing.T) string {
	t.Helper()
	w := f.do(t, "POST", "/v1/workflows", gin.H{
		"taskDescription": "find the config loader",
		"rootPath":        "/repo",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		WorkflowID string `json:"workflowId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.WorkflowID)
	return resp.WorkflowID
}

func TestHealthRoute(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestStartWorkflowDefaultsToBuiltinDefinition(t *testing.T) {
	f := newAPIFixture(t)

	id := f.startWorkflow(t)

	w := f.do(t, "GET", "/v1/workflows/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var state workflow.WorkflowState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, workflow.BuiltinWorkflowName, state.DefinitionName)
	assert.Equal(t, workflow.StatusRunning, state.Status)
}

func TestStartWorkflowCarriesTaskContext(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, "POST", "/v1/workflows", gin.H{
		"taskDescription": "find the config loader",
		"rootPath":        "/repo",
		"sessionId":       "session-7",
		"excludedPaths":   []string{"vendor", "gen"},
		"timeoutMs":       30000,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		WorkflowID string `json:"workflowId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = f.do(t, "GET", "/v1/workflows/"+resp.WorkflowID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var state workflow.WorkflowState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, "session-7", state.Task.SessionID)
	assert.Equal(t, []string{"vendor", "gen"}, state.Task.ExcludedPaths)
	assert.Equal(t, int64(30000), state.Task.TimeoutMS)
}

func TestStartWorkflowValidation(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, "POST", "/v1/workflows", gin.H{"rootPath": "/repo"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "POST", "/v1/workflows", gin.H{"taskDescription": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "POST", "/v1/workflows", gin.H{
		"definitionName":  "nope",
		"taskDescription": "x",
		"rootPath":        "/repo",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListWorkflows(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, "GET", "/v1/workflows", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"workflows": []}`, w.Body.String())

	f.startWorkflow(t)

	w = f.do(t, "GET", "/v1/workflows", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Workflows []orchestrator.Summary `json:"workflows"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Workflows, 1)
}

func TestGetWorkflowNotFound(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, "GET", "/v1/workflows/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobStatusCallbackAdvancesWorkflow(t *testing.T) {
	f := newAPIFixture(t)
	id := f.startWorkflow(t)

	treeJob := f.dispatcher.latest(t)
	require.Equal(t, "directory_tree_generation", treeJob.StageName)

	w := f.do(t, "POST", "/v1/jobs/"+treeJob.ID+"/status", gin.H{
		"status": "Completed",
		"output": gin.H{"directoryTree": "repo/\n  a.go\n"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The next stage is dispatched.
	assert.Equal(t, "regex_pattern_generation", f.dispatcher.latest(t).StageName)

	// Redelivery is accepted and changes nothing.
	w = f.do(t, "POST", "/v1/jobs/"+treeJob.ID+"/status", gin.H{
		"status": "Completed",
		"output": gin.H{"directoryTree": "repo/\n  a.go\n"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "regex_pattern_generation", f.dispatcher.latest(t).StageName)

	// The state reflects the applied report.
	state := f.do(t, "GET", "/v1/workflows/"+id, nil)
	assert.Contains(t, state.Body.String(), "regex_pattern_generation")
}

func TestJobStatusCallbackValidation(t *testing.T) {
	f := newAPIFixture(t)
	f.startWorkflow(t)
	j := f.dispatcher.latest(t)

	w := f.do(t, "POST", "/v1/jobs/"+j.ID+"/status", gin.H{"status": "Sideways"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "POST", "/v1/jobs/ghost/status", gin.H{"status": "Completed"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPauseResumeCancelRoutes(t *testing.T) {
	f := newAPIFixture(t)
	id := f.startWorkflow(t)

	w := f.do(t, "POST", fmt.Sprintf("/v1/workflows/%s/pause", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Pausing twice conflicts.
	w = f.do(t, "POST", fmt.Sprintf("/v1/workflows/%s/pause", id), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, "POST", fmt.Sprintf("/v1/workflows/%s/resume", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "POST", fmt.Sprintf("/v1/workflows/%s/cancel", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "POST", fmt.Sprintf("/v1/workflows/%s/cancel", id), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRetryStageRoute(t *testing.T) {
	f := newAPIFixture(t)
	id := f.startWorkflow(t)

	// The entry stage is live: retry conflicts.
	w := f.do(t, "POST",
		fmt.Sprintf("/v1/workflows/%s/stages/directory_tree_generation/retry", id), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, "POST", fmt.Sprintf("/v1/workflows/%s/stages/ghost/retry", id), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Fail the stage, then retry succeeds.
	j := f.dispatcher.latest(t)
	w = f.do(t, "POST", "/v1/jobs/"+j.ID+"/status", gin.H{
		"status": "Failed",
		"error":  "worker crashed",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "POST",
		fmt.Sprintf("/v1/workflows/%s/stages/directory_tree_generation/retry", id), nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestDefinitionRoutes(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, "GET", "/v1/definitions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), workflow.BuiltinWorkflowName)

	w = f.do(t, "GET", "/v1/definitions/"+workflow.BuiltinWorkflowName, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var def workflow.WorkflowDefinition
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &def))
	assert.Len(t, def.Stages, 7)

	w = f.do(t, "GET", "/v1/definitions/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventRoutes(t *testing.T) {
	f := newAPIFixture(t)
	id := f.startWorkflow(t)

	w := f.do(t, "GET", "/v1/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(events.TypeWorkflowStarted))

	w = f.do(t, "GET", fmt.Sprintf("/v1/workflows/%s/events", id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id)
}

func TestResultRoute(t *testing.T) {
	f := newAPIFixture(t)
	id := f.startWorkflow(t)

	w := f.do(t, "GET", fmt.Sprintf("/v1/workflows/%s/result", id), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result workflow.WorkflowResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, id, result.WorkflowID)
	assert.Equal(t, workflow.StatusRunning, result.Status)
}

func TestMetricsRoute(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
