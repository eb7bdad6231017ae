// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/AleutianFlow/services/flow/state"
)

const fallbackReply = "I don't have a response to provide at this time."

// Reply emits a message to the user. "message" takes priority over
// "content"; extra inputs pass through into the result so downstream
// conditions can branch on them.
func Reply(ctx context.Context, inputs map[string]any, st *state.State) (any, error) {
	text := stringInput(inputs, "message")
	if text == "" {
		text = stringInput(inputs, "content")
	}
	if text == "" {
		slog.Warn("No message content provided to reply", "session_id", st.ID)
		text = fallbackReply
	}

	result := map[string]any{
		"message":     text,
		"content":     text,
		"end_session": boolInput(inputs, "end_session"),
	}
	for key, value := range inputs {
		switch key {
		case "message", "content", "end_session":
		default:
			result[key] = value
		}
	}
	return result, nil
}
