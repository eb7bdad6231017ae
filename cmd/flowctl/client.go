// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow/datatypes"
)

// apiClient is a thin wrapper over the flow service HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		base: strings.TrimRight(serverURL, "/"),
		http: &http.Client{Timeout: 120 * time.Second},
	}
}

// do sends a request and decodes the JSON response into out. Non-2xx
// responses are surfaced as errors carrying the server's error message.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) createSession(ctx context.Context, workflowID string, data map[string]any) (*datatypes.SessionResponse, error) {
	req := datatypes.CreateSessionRequest{WorkflowID: workflowID, InitialData: data}
	var resp datatypes.SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/session", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) sendMessage(ctx context.Context, sessionID, message string) (*datatypes.SessionResponse, error) {
	req := datatypes.MessageRequest{Message: message}
	var resp datatypes.SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/session/"+sessionID+"/message", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) getSession(ctx context.Context, sessionID string) (*datatypes.SessionResponse, error) {
	var resp datatypes.SessionResponse
	if err := c.do(ctx, http.MethodGet, "/api/session/"+sessionID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) listSessions(ctx context.Context) (*datatypes.ListSessionsResponse, error) {
	var resp datatypes.ListSessionsResponse
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) deleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/session/"+sessionID, nil, nil)
}
