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

// Request pauses the workflow for user input. "prompt" falls back to
// "query", then to a generic prompt. The engine spots the
// waiting_for_input flag in the result and suspends the session.
func Request(ctx context.Context, inputs map[string]any, st *state.State) (any, error) {
	prompt := stringInput(inputs, "prompt")
	if prompt == "" {
		prompt = stringInput(inputs, "query")
	}
	if prompt == "" {
		prompt = "Input required:"
	}
	return map[string]any{
		"waiting_for_input": true,
		"prompt":            prompt,
		"options":           inputs["options"],
		"query":             inputs["query"],
		"response":          inputs["response"],
	}, nil
}

// Confirm asks a yes/no question, phrased as a two-option request.
func Confirm(ctx context.Context, inputs map[string]any, st *state.State) (any, error) {
	confirmText := stringInput(inputs, "confirm_text")
	if confirmText == "" {
		confirmText = "Yes"
	}
	cancelText := stringInput(inputs, "cancel_text")
	if cancelText == "" {
		cancelText = "No"
	}
	return Request(ctx, map[string]any{
		"prompt": stringInput(inputs, "message"),
		"options": []any{
			map[string]any{"value": true, "text": confirmText},
			map[string]any{"value": false, "text": cancelText},
		},
	}, st)
}

// Select asks the user to pick from a list of choices. Choices are
// plain strings or {"text": ..., "value": ...} objects; strings are
// normalized into the object form.
func Select(ctx context.Context, inputs map[string]any, st *state.State) (any, error) {
	var options []any
	if choices, ok := inputs["choices"].([]any); ok {
		for _, choice := range choices {
			switch c := choice.(type) {
			case string:
				options = append(options, map[string]any{"text": c, "value": c})
			case map[string]any:
				if _, ok := c["text"]; !ok {
					continue
				}
				if _, ok := c["value"]; !ok {
					c["value"] = c["text"]
				}
				options = append(options, c)
			}
		}
	}
	return Request(ctx, map[string]any{
		"prompt": stringInput(inputs, "prompt"),
		"options": map[string]any{
			"choices":      options,
			"allow_custom": boolInput(inputs, "allow_custom"),
		},
	}, st)
}
