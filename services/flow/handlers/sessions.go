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
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianFlow/services/flow/datatypes"
	"github.com/AleutianAI/AleutianFlow/services/flow/engine"
	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
	"github.com/AleutianAI/AleutianFlow/services/flow/observability"
	"github.com/AleutianAI/AleutianFlow/services/flow/state"
)

var sessionTracer = otel.Tracer("aleutianflow/flow/handlers")

// CreateSession starts a session for a workflow and drives it until the
// first suspension point or completion.
func CreateSession(sessions *state.Store, eng *engine.Engine, metrics *observability.EngineMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := sessionTracer.Start(c.Request.Context(), "handlers.CreateSession")
		defer span.End()

		var req datatypes.CreateSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			slog.Warn("Invalid create session request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		span.SetAttributes(attribute.String("workflow_id", req.WorkflowID))

		sessionID, err := sessions.Create(ctx, req.WorkflowID, req.InitialData)
		if err != nil {
			slog.Error("Failed to create session", "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
			return
		}
		metrics.RecordSessionCreated(req.WorkflowID)

		status, err := eng.Process(ctx, sessionID)
		if err != nil {
			slog.Error("Failed to process workflow", "session_id", sessionID, "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process workflow"})
			return
		}
		respondWithSession(c, ctx, sessions, sessionID, status)
	}
}

// SendMessage answers a suspended session and resumes the workflow.
func SendMessage(sessions *state.Store, eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := sessionTracer.Start(c.Request.Context(), "handlers.SendMessage")
		defer span.End()

		sessionID := c.Param("sessionId")
		span.SetAttributes(attribute.String("session_id", sessionID))

		var req datatypes.MessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			slog.Warn("Invalid message request", "session_id", sessionID, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		status, err := eng.SubmitInput(ctx, sessionID, req.Message)
		switch {
		case errors.Is(err, graph.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		case errors.Is(err, engine.ErrNotAwaitingInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": "session is not awaiting input"})
			return
		case err != nil:
			slog.Error("Failed to submit input", "session_id", sessionID, "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit input"})
			return
		}
		respondWithSession(c, ctx, sessions, sessionID, status)
	}
}

// GetSession reports the session's status, conversation, and pending
// input request without driving the workflow.
func GetSession(sessions *state.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		st, err := sessions.Get(c.Request.Context(), sessionID)
		if errors.Is(err, graph.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if err != nil {
			slog.Error("Failed to load session", "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
			return
		}
		c.JSON(http.StatusOK, sessionResponse("", engine.SessionStatus(st), st))
	}
}

// ListSessions enumerates known sessions, newest first.
func ListSessions(store graph.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		slog.Info("Received request to list sessions")
		metas, err := store.ListSessions(c.Request.Context())
		if err != nil {
			slog.Error("Failed to list sessions", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
			return
		}
		resp := datatypes.ListSessionsResponse{Sessions: []datatypes.SessionSummary{}}
		for _, meta := range metas {
			resp.Sessions = append(resp.Sessions, datatypes.SessionSummary{
				SessionID: meta.ID,
				CreatedAt: meta.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, resp)
	}
}

// DeleteSession removes a session and its state. The engine never
// deletes sessions on its own; this is the external pruning hook.
func DeleteSession(sessions *state.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		slog.Info("Received a request to delete a session", "sessionId", sessionID)
		err := sessions.Delete(c.Request.Context(), sessionID)
		if errors.Is(err, graph.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if err != nil {
			slog.Error("Failed to delete session", "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": sessionID})
	}
}

func respondWithSession(c *gin.Context, ctx context.Context, sessions *state.Store, sessionID, status string) {
	st, err := sessions.Get(ctx, sessionID)
	if err != nil {
		slog.Error("Failed to load session after drive", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}
	c.JSON(http.StatusOK, sessionResponse(sessionID, status, st))
}

func sessionResponse(sessionID, status string, st *state.State) datatypes.SessionResponse {
	resp := datatypes.SessionResponse{
		SessionID: sessionID,
		Status:    status,
		Messages:  st.Data.Messages,
	}
	if st.Data.Awaiting != nil {
		resp.AwaitingInput = &datatypes.AwaitingInput{
			Prompt:  st.Data.Awaiting.Prompt,
			Options: st.Data.Awaiting.Options,
		}
	}
	return resp
}
