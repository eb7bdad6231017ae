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

	"github.com/AleutianAI/AleutianFlow/services/flow/state"
)

// HistoryMessage is a conversation entry stripped to what a model
// context needs.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History extracts the session's conversation, dropping entries without
// a role or content and all internal metadata fields.
func History(st *state.State) []HistoryMessage {
	var history []HistoryMessage
	for _, msg := range st.Data.Messages {
		if msg.Role == "" || msg.Content == "" {
			continue
		}
		history = append(history, HistoryMessage{Role: msg.Role, Content: msg.Content})
	}
	return history
}

// ConversationHistory exposes History as a step function. The result is
// a sequence of {role, content} objects, oldest first.
func ConversationHistory(ctx context.Context, inputs map[string]any, st *state.State) (any, error) {
	messages := History(st)
	out := make([]any, 0, len(messages))
	for _, msg := range messages {
		out = append(out, map[string]any{"role": msg.Role, "content": msg.Content})
	}
	return map[string]any{"messages": out}, nil
}
