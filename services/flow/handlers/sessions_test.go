// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/flow/datatypes"
	"github.com/AleutianAI/AleutianFlow/services/flow/engine"
	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
	"github.com/AleutianAI/AleutianFlow/services/flow/registry"
	"github.com/AleutianAI/AleutianFlow/services/flow/state"
)

// testRouter wires the handlers over an in-memory store seeded with a
// three-step workflow: root -> ask (pauses for a name) -> greet.
func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	g := graph.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, g.PutStep(ctx, &graph.Step{ID: "root"}))
	require.NoError(t, g.PutStep(ctx, &graph.Step{
		ID: "ask", Function: "utils.request.request", Input: `{"prompt": "name?"}`,
	}))
	require.NoError(t, g.PutStep(ctx, &graph.Step{
		ID: "greet", Function: "utils.reply.reply", Input: `{"message": "hi @{SESSION_ID}.ask"}`,
	}))
	require.NoError(t, g.PutEdge(ctx, "root", graph.Edge{TargetID: "ask"}))
	require.NoError(t, g.PutEdge(ctx, "ask", graph.Edge{TargetID: "greet"}))

	sessions := state.NewStore(g)
	eng := engine.New(sessions, g, registry.Builtin(nil))

	router := gin.New()
	router.GET("/health", HealthCheck)
	api := router.Group("/api")
	api.POST("/session", CreateSession(sessions, eng, nil))
	api.GET("/sessions", ListSessions(g))
	api.GET("/session/:sessionId", GetSession(sessions))
	api.POST("/session/:sessionId/message", SendMessage(sessions, eng))
	api.DELETE("/session/:sessionId", DeleteSession(sessions))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewReader(raw)
	} else {
		payload = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) datatypes.SessionResponse {
	t.Helper()
	var resp datatypes.SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func createSession(t *testing.T, router *gin.Engine) datatypes.SessionResponse {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/session",
		datatypes.CreateSessionRequest{WorkflowID: "default"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeSession(t, rec)
}

func TestHealthEndpoint(t *testing.T) {
	router := testRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}

func TestCreateSessionRunsToFirstPause(t *testing.T) {
	router := testRouter(t)
	resp := createSession(t, router)

	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, engine.StatusAwaitingInput, resp.Status)
	require.NotNil(t, resp.AwaitingInput)
	assert.Equal(t, "name?", resp.AwaitingInput.Prompt)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "name?", resp.Messages[0].Content)
}

func TestCreateSessionRequiresWorkflowID(t *testing.T) {
	router := testRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/session", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessageResumesWorkflow(t *testing.T) {
	router := testRouter(t)
	created := createSession(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/session/"+created.SessionID+"/message",
		datatypes.MessageRequest{Message: "Ada"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeSession(t, rec)
	assert.Equal(t, engine.StatusCompleted, resp.Status)
	assert.Nil(t, resp.AwaitingInput)
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, "hi Ada", resp.Messages[2].Content)
}

func TestSendMessageErrors(t *testing.T) {
	router := testRouter(t)
	created := createSession(t, router)

	// Unknown session.
	rec := doJSON(t, router, http.MethodPost, "/api/session/nope/message",
		datatypes.MessageRequest{Message: "Ada"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Empty message fails binding.
	rec = doJSON(t, router, http.MethodPost, "/api/session/"+created.SessionID+"/message",
		map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Completed session is no longer awaiting input.
	doJSON(t, router, http.MethodPost, "/api/session/"+created.SessionID+"/message",
		datatypes.MessageRequest{Message: "Ada"})
	rec = doJSON(t, router, http.MethodPost, "/api/session/"+created.SessionID+"/message",
		datatypes.MessageRequest{Message: "again"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "not awaiting input")
}

func TestGetSession(t *testing.T) {
	router := testRouter(t)
	created := createSession(t, router)

	rec := doJSON(t, router, http.MethodGet, "/api/session/"+created.SessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeSession(t, rec)
	assert.Equal(t, engine.StatusAwaitingInput, resp.Status)
	require.NotNil(t, resp.AwaitingInput)
	assert.Equal(t, "name?", resp.AwaitingInput.Prompt)

	rec = doJSON(t, router, http.MethodGet, "/api/session/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSessions(t *testing.T) {
	router := testRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp datatypes.ListSessionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Sessions)

	first := createSession(t, router)
	second := createSession(t, router)

	rec = doJSON(t, router, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 2)
	ids := []string{resp.Sessions[0].SessionID, resp.Sessions[1].SessionID}
	assert.Contains(t, ids, first.SessionID)
	assert.Contains(t, ids, second.SessionID)
}

func TestDeleteSession(t *testing.T) {
	router := testRouter(t)
	created := createSession(t, router)

	rec := doJSON(t, router, http.MethodDelete, "/api/session/"+created.SessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.SessionID)

	rec = doJSON(t, router, http.MethodGet, "/api/session/"+created.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/session/"+created.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
