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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow/state"
)

var apiClient = &http.Client{Timeout: 30 * time.Second}

// API performs an outbound HTTP request on behalf of a step.
//
// Inputs: method, url, params, headers, json_data, timeout (seconds).
// Header values starting with "$" are read from the environment, so
// workflow definitions never embed credentials.
//
// Transport and HTTP-level failures are reported inside the result
// ({"status_code": 0, "error": ...}), not as a function error, so a
// workflow can branch on them.
func API(ctx context.Context, inputs map[string]any, st *state.State) (any, error) {
	target := stringInput(inputs, "url")
	if target == "" {
		slog.Error("URL is required for API requests", "session_id", st.ID)
		return apiFailure("URL is required for API requests"), nil
	}

	method := strings.ToUpper(stringInput(inputs, "method"))
	if method == "" {
		method = http.MethodGet
	}

	if params, ok := inputs["params"].(map[string]any); ok && len(params) > 0 {
		query := url.Values{}
		for key, value := range params {
			query.Set(key, fmt.Sprint(value))
		}
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}

	var body io.Reader
	contentType := ""
	if jsonData, ok := inputs["json_data"]; ok && jsonData != nil {
		raw, err := json.Marshal(jsonData)
		if err != nil {
			return apiFailure(fmt.Sprintf("serialize json_data: %v", err)), nil
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	} else if data := stringInput(inputs, "data"); data != "" {
		body = strings.NewReader(data)
	}

	if timeout := floatInput(inputs, "timeout", 0); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout*float64(time.Second)))
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return apiFailure(err.Error()), nil
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers, ok := inputs["headers"].(map[string]any); ok {
		for key, value := range headers {
			text := fmt.Sprint(value)
			if strings.HasPrefix(text, "$") {
				envValue := os.Getenv(text[1:])
				if envValue == "" {
					slog.Warn("Environment variable not found for header",
						"variable", text[1:], "header", key)
					continue
				}
				text = envValue
			}
			req.Header.Set(key, text)
		}
	}

	slog.Info("Making API request", "method", method, "url", target, "session_id", st.ID)
	resp, err := apiClient.Do(req)
	if err != nil {
		slog.Error("API request failed", "error", err)
		return apiFailure(err.Error()), nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiFailure(fmt.Sprintf("read response body: %v", err)), nil
	}

	var parsed any = string(raw)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			parsed = decoded
		} else {
			slog.Error("Failed to parse JSON response", "error", err)
		}
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"response":    parsed,
		"headers":     headers,
		"error":       nil,
	}
	if resp.StatusCode >= 400 {
		result["error"] = fmt.Sprintf("HTTP Error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	slog.Info("API request completed", "status_code", resp.StatusCode)
	return result, nil
}

func apiFailure(message string) map[string]any {
	return map[string]any{
		"status_code": 0,
		"response":    nil,
		"headers":     map[string]any{},
		"error":       message,
	}
}
