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
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/flow/state"
)

func callAPI(t *testing.T, inputs map[string]any) map[string]any {
	t.Helper()
	result, err := API(context.Background(), inputs, state.New("s1", "default"))
	require.NoError(t, err)
	m, ok := result.(map[string]any)
	require.True(t, ok)
	return m
}

func TestAPIGetJSON(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	result := callAPI(t, map[string]any{
		"url":    server.URL + "/things",
		"params": map[string]any{"q": "abc"},
	})

	assert.Equal(t, "/things", gotPath)
	assert.Equal(t, "q=abc", gotQuery)
	assert.Equal(t, http.StatusOK, result["status_code"])
	assert.Nil(t, result["error"])
	assert.Equal(t, map[string]any{"ok": true}, result["response"])
}

func TestAPIPostJSONBody(t *testing.T) {
	var gotBody []byte
	var gotContentType, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))
	defer server.Close()

	t.Setenv("API_TEST_TOKEN", "Bearer xyz")
	result := callAPI(t, map[string]any{
		"method":    "post",
		"url":       server.URL,
		"json_data": map[string]any{"name": "Ada"},
		"headers": map[string]any{
			"Authorization": "$API_TEST_TOKEN",
		},
	})

	assert.JSONEq(t, `{"name":"Ada"}`, string(gotBody))
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "Bearer xyz", gotAuth)
	assert.Equal(t, http.StatusCreated, result["status_code"])
	// Non-JSON responses come back as raw text.
	assert.Equal(t, "created", result["response"])
}

func TestAPIHTTPErrorInResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	result := callAPI(t, map[string]any{"url": server.URL})
	assert.Equal(t, http.StatusForbidden, result["status_code"])
	assert.Equal(t, "HTTP Error: 403 Forbidden", result["error"])
}

func TestAPITransportFailureInResult(t *testing.T) {
	// Closed server: connection refused surfaces in the result, not as a
	// Go error, so workflows can branch on it.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := server.URL
	server.Close()

	result := callAPI(t, map[string]any{"url": target})
	assert.Equal(t, 0, result["status_code"])
	assert.NotEmpty(t, result["error"])
	assert.Nil(t, result["response"])
}

func TestAPIMissingURL(t *testing.T) {
	result := callAPI(t, map[string]any{})
	assert.Equal(t, 0, result["status_code"])
	assert.Equal(t, "URL is required for API requests", result["error"])
}
