// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
)

const workflowJSON = `{
  "id": "demo",
  "steps": [
    {"id": "root"},
    {"id": "ask", "function": "utils.request.request", "input": {"prompt": "name?"}},
    {"id": "greet", "utility": "utils.reply.reply", "input": "{\"message\": \"hi\"}"}
  ],
  "edges": [
    {"from": "root", "to": "ask", "priority": 1},
    {"from": "ask", "to": "greet", "condition": ["@{SESSION_ID}.ask"], "operator": "OR", "priority": 2}
  ]
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadImportsStepsAndEdges(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	path := writeFile(t, t.TempDir(), "demo.json", workflowJSON)

	def, err := Load(ctx, store, path)
	require.NoError(t, err)
	assert.Equal(t, "demo", def.ID)

	ask, err := store.GetStep(ctx, "ask")
	require.NoError(t, err)
	assert.Equal(t, "utils.request.request", ask.Function)
	// Object inputs are serialized for storage.
	assert.JSONEq(t, `{"prompt": "name?"}`, ask.Input)

	// The legacy "utility" attribute maps onto Function, and string
	// inputs pass through untouched.
	greet, err := store.GetStep(ctx, "greet")
	require.NoError(t, err)
	assert.Equal(t, "utils.reply.reply", greet.Function)
	assert.Equal(t, `{"message": "hi"}`, greet.Input)

	edges, err := store.GetOutgoing(ctx, "ask")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "greet", edges[0].TargetID)
	assert.JSONEq(t, `["@{SESSION_ID}.ask"]`, edges[0].Condition)
	assert.Equal(t, "OR", edges[0].Operator)
	assert.Equal(t, 2, edges[0].Priority)
}

func TestLoadDefaultsIDToFilename(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	path := writeFile(t, t.TempDir(), "support_flow.json",
		`{"steps": [{"id": "root"}], "edges": []}`)

	def, err := Load(ctx, store, path)
	require.NoError(t, err)
	assert.Equal(t, "support_flow", def.ID)
}

func TestImportValidation(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()

	err := Import(ctx, store, &Definition{ID: "bad", Steps: []StepDef{{Function: "x"}}})
	assert.ErrorContains(t, err, "step without id")

	err = Import(ctx, store, &Definition{ID: "bad", Edges: []EdgeDef{{From: "a"}}})
	assert.ErrorContains(t, err, "edge missing from/to")
}

func TestLoadReplacesExistingDefinition(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	dir := t.TempDir()

	path := writeFile(t, dir, "demo.json", workflowJSON)
	_, err := Load(ctx, store, path)
	require.NoError(t, err)

	writeFile(t, dir, "demo.json", `{
	  "id": "demo",
	  "steps": [{"id": "ask", "function": "utils.request.confirm"}],
	  "edges": [{"from": "root", "to": "ask", "priority": 9}]
	}`)
	_, err = Load(ctx, store, path)
	require.NoError(t, err)

	ask, err := store.GetStep(ctx, "ask")
	require.NoError(t, err)
	assert.Equal(t, "utils.request.confirm", ask.Function)

	edges, err := store.GetOutgoing(ctx, "root")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 9, edges[0].Priority)
}

func TestLoadDirSkipsBrokenFiles(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	dir := t.TempDir()

	writeFile(t, dir, "good.json", workflowJSON)
	writeFile(t, dir, "broken.json", "{not json")
	writeFile(t, dir, "ignored.txt", "not a workflow")

	require.NoError(t, LoadDir(ctx, store, dir))

	_, err := store.GetStep(ctx, "root")
	assert.NoError(t, err)
}
