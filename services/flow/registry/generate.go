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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianFlow/services/flow/state"
)

// Generator backs the utils.generate.generate function with an OpenAI
// client. A nil Generator is valid and reports a configuration error at
// call time instead of failing startup.
type Generator struct {
	client       *openai.Client
	defaultModel string
}

// NewGenerator builds a generator from the environment. The API key is
// read from OPENAI_API_KEY, falling back to the Podman secret mount.
func NewGenerator() (*Generator, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		raw, err := os.ReadFile(secretPath)
		if err != nil {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
		apiKey = strings.TrimSpace(string(raw))
		slog.Info("Read the OpenAI API Key from Podman Secrets")
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &Generator{client: openai.NewClient(apiKey), defaultModel: model}, nil
}

// Generate produces model output for a step.
//
// Inputs: model, temperature, system, user, include_history,
// directly_set_reply, schema. With include_history the session's
// conversation is replayed before the user message. A schema switches the
// request to JSON mode and decodes the completion into a structured
// result. Model failures come back as {"error", "message"} results so the
// workflow can branch to a fallback reply.
func (g *Generator) Generate(ctx context.Context, inputs map[string]any, st *state.State) (any, error) {
	user := stringInput(inputs, "user")
	if user == "" {
		slog.Error("Missing required user input for generation", "session_id", st.ID)
		return generateFailure("Missing required user input"), nil
	}
	if g == nil || g.client == nil {
		return generateFailure("OpenAI client not configured"), nil
	}

	model := stringInput(inputs, "model")
	if model == "" {
		model = g.defaultModel
	}

	schema, hasSchema := inputs["schema"].(map[string]any)
	if hasSchema && !strings.Contains(strings.ToLower(user), "json") {
		user += " Please format your response as JSON."
	}

	var messages []openai.ChatCompletionMessage
	if system := stringInput(inputs, "system"); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: system,
		})
	}
	if boolInput(inputs, "include_history") {
		for _, msg := range History(st) {
			messages = append(messages, openai.ChatCompletionMessage{
				Role: msg.Role, Content: msg.Content,
			})
		}
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: user,
	})

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(floatInput(inputs, "temperature", 0.7)),
	}
	if hasSchema {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	slog.Info("Making OpenAI API call", "model", model, "session_id", st.ID)
	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return generateFailure(fmt.Sprintf("Text generation failed: %v", err)), nil
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices or empty content")
		return generateFailure("OpenAI returned no choices"), nil
	}
	text := resp.Choices[0].Message.Content
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)

	if hasSchema {
		var structured map[string]any
		if err := json.Unmarshal([]byte(text), &structured); err != nil {
			slog.Error("Failed to parse structured response", "error", err)
			return generateFailure(fmt.Sprintf("Failed to parse structured response: %v", err)), nil
		}
		fillSchemaDefaults(structured, schema)
		if boolInput(inputs, "directly_set_reply") {
			if response, ok := structured["response"].(string); ok {
				structured["message"] = response
				structured["content"] = response
			}
		}
		return structured, nil
	}

	if boolInput(inputs, "directly_set_reply") {
		return map[string]any{"response": text, "message": text, "content": text}, nil
	}
	return text, nil
}

// fillSchemaDefaults backfills required fields the model omitted with
// type-appropriate defaults, so downstream references stay resolvable.
func fillSchemaDefaults(result, schema map[string]any) {
	required, _ := schema["required"].([]any)
	properties, _ := schema["properties"].(map[string]any)
	for _, field := range required {
		name, ok := field.(string)
		if !ok {
			continue
		}
		if _, present := result[name]; present {
			continue
		}
		slog.Warn("Model response missing required field, adding default", "field", name)
		prop, _ := properties[name].(map[string]any)
		switch prop["type"] {
		case "boolean":
			result[name] = true
		case "string":
			result[name] = fmt.Sprintf("Default %s value", name)
		case "number", "integer":
			result[name] = 0
		default:
			result[name] = nil
		}
	}
}

func generateFailure(reason string) map[string]any {
	return map[string]any{
		"error":   reason,
		"message": fmt.Sprintf("I'm sorry, I couldn't process that request: %s", reason),
	}
}
