// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Kodiak/services/coordinator/cache"
	"github.com/AleutianAI/Kodiak/services/coordinator/capability"
	"github.com/AleutianAI/Kodiak/services/coordinator/datatypes"
	"github.com/AleutianAI/Kodiak/services/coordinator/registry"
	"github.com/AleutianAI/Kodiak/services/coordinator/resilience"
	"github.com/AleutianAI/Kodiak/services/coordinator/scheduler"
	"github.com/AleutianAI/Kodiak/services/coordinator/services"
	"github.com/AleutianAI/Kodiak/services/coordinator/store"
)

type testEnv struct {
	coord  *services.Coordinator
	hub    *registry.EventHub
	router *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := store.New(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	caps := capability.NewRegistry()
	require.NoError(t, capability.RegisterBuiltins(caps, nil))

	hub := registry.NewEventHub()
	tasks := registry.New(registry.DefaultConfig(), hub, nil)
	coord := services.NewCoordinator(services.Deps{
		Tasks:     tasks,
		Caps:      caps,
		Scheduler: scheduler.NewExecutionScheduler(caps, nil, nil),
		Store:     s,
		Limiter:   resilience.NewRateLimiter(s),
		Locks:     resilience.NewLockManager(s, nil),
		Cache:     cache.New(s, cache.DefaultConfig()),
	}, services.DefaultConfig())

	router := gin.New()
	router.GET("/health", HealthCheck)
	v1 := router.Group("/v1")
	{
		v1.POST("/rpc", HandleRPC(coord))
		v1.POST("/plans/decompose", HandleDecompose(coord))
		v1.POST("/plans/execute", HandleExecutePlan(coord))
		v1.GET("/tasks", ListTasks(coord))
		v1.GET("/tasks/ws", HandleTaskWebSocket(hub, nil))
		v1.GET("/tasks/:taskId", GetTask(coord))
		v1.DELETE("/tasks/:taskId", CancelTask(coord))
		v1.GET("/capabilities", ListCapabilities(coord))
		v1.GET("/status", HandleStatus(coord))
	}
	return &testEnv{coord: coord, hub: hub, router: router}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHandleRPC_Success(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/rpc", datatypes.RPCRequest{
		Method: services.MethodExecute,
		Params: map[string]any{"capability": "echo", "task": "ping"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp datatypes.RPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.TaskID)
}

func TestHandleRPC_FailureIsInBand(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/rpc", datatypes.RPCRequest{
		Method: services.MethodExecute,
		Params: map[string]any{"capability": "teleport"},
	})
	require.Equal(t, http.StatusOK, rec.Code, "recorded failures stay in-band")

	var resp datatypes.RPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.TaskID)
	assert.Contains(t, resp.Error, "teleport")
}

func TestHandleRPC_MalformedBody(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/rpc", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDecompose(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/plans/decompose", datatypes.DecomposeRequest{
		Goal: "refactor the ingest pipeline",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Plan datatypes.Plan `json:"plan"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Plan.ExecutionOrder)
	assert.Len(t, body.Plan.Steps, len(body.Plan.ExecutionOrder))
}

func TestHandleDecompose_RequiresGoal(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/plans/decompose", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleExecutePlan_FromGoal(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/plans/execute", datatypes.ExecutePlanRequest{
		Goal: "summarize the quarterly report",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp datatypes.ExecutePlanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Results)
	for _, result := range resp.Results {
		assert.Equal(t, datatypes.StepCompleted, result.Status, "step %s", result.StepID)
	}
}

func TestHandleExecutePlan_RejectsEmptyRequest(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/plans/execute", datatypes.ExecutePlanRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "goal or plan")
}

func TestHandleExecutePlan_RejectsInvalidPlan(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/plans/execute", datatypes.ExecutePlanRequest{
		Plan: &datatypes.Plan{
			Steps: map[string]datatypes.Step{
				"a": {ID: "a", Capability: "echo", Task: "x"},
			},
			ExecutionOrder: []string{"a", "ghost"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTaskEndpoints_Lifecycle(t *testing.T) {
	env := newTestEnv(t)

	call := env.do(t, http.MethodPost, "/v1/rpc", datatypes.RPCRequest{
		Method: services.MethodExecute,
		Params: map[string]any{"capability": "echo", "task": "ping"},
	})
	var resp datatypes.RPCResponse
	require.NoError(t, json.Unmarshal(call.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.TaskID)

	rec := env.do(t, http.MethodGet, "/v1/tasks/"+resp.TaskID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var record datatypes.TaskRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, datatypes.TaskCompleted, record.Status)

	list := env.do(t, http.MethodGet, "/v1/tasks?limit=10", nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), resp.TaskID)
}

func TestGetTask_NotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/tasks/no-such-task", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTasks_RejectsBadLimit(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/tasks?limit=banana", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelTask(t *testing.T) {
	env := newTestEnv(t)

	taskID := env.coord.Tasks().Submit("capability.execute", "echo", nil)
	rec := env.do(t, http.MethodDelete, "/v1/tasks/"+taskID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cancelled":true`)

	// Terminal tasks stay visible but cannot be cancelled again.
	again := env.do(t, http.MethodDelete, "/v1/tasks/"+taskID, nil)
	require.Equal(t, http.StatusOK, again.Code)
	assert.Contains(t, again.Body.String(), `"cancelled":false`)

	missing := env.do(t, http.MethodDelete, "/v1/tasks/no-such-task", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestListCapabilities(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/capabilities", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Capabilities []capability.Info `json:"capabilities"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	names := make([]string, 0, len(body.Capabilities))
	for _, info := range body.Capabilities {
		names = append(names, info.Name)
	}
	assert.ElementsMatch(t, []string{"analysis", "implementation", "echo", "extract"}, names)
}

func TestHandleStatus(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tasks")
	assert.Contains(t, rec.Body.String(), "cache")
}

func TestTaskWebSocket_StreamsEvents(t *testing.T) {
	env := newTestEnv(t)

	server := httptest.NewServer(env.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/tasks/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	taskID := env.coord.Tasks().Submit("capability.execute", "echo", nil)
	env.coord.Tasks().Complete(taskID, map[string]any{"ok": true})

	seen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		var event datatypes.TaskEvent
		require.NoError(t, conn.ReadJSON(&event))
		require.Equal(t, taskID, event.TaskID)
		seen[string(event.Status)] = true
	}
	assert.True(t, seen[string(datatypes.TaskRunning)])
	assert.True(t, seen[string(datatypes.TaskCompleted)])
}
