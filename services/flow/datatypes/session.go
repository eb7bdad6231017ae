// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the request and response shapes of the session
// API.
package datatypes

import (
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow/state"
)

// CreateSessionRequest starts a new workflow session. InitialData is
// optional seed data exposed to templates as pseudo-outputs.
type CreateSessionRequest struct {
	WorkflowID  string         `json:"workflow_id" binding:"required"`
	InitialData map[string]any `json:"initial_data"`
}

// MessageRequest answers a session that is awaiting user input.
type MessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// AwaitingInput describes the pending input request of a suspended
// session.
type AwaitingInput struct {
	Prompt  string `json:"prompt"`
	Options any    `json:"options,omitempty"`
}

// SessionResponse is the common response shape of the session endpoints.
// AwaitingInput is null unless the engine suspended.
type SessionResponse struct {
	SessionID     string          `json:"session_id,omitempty"`
	Status        string          `json:"status"`
	Messages      []state.Message `json:"messages"`
	AwaitingInput *AwaitingInput  `json:"awaiting_input"`
}

// SessionSummary is one entry of the session listing.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ListSessionsResponse is the session listing envelope.
type ListSessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}
