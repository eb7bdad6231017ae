// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
)

func TestStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewStore(graph.NewMemoryStore())

	id, err := store.Create(ctx, "default", nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	st, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, st.ID)
	assert.Equal(t, "default", st.WorkflowID)
	assert.Equal(t, StatusActive, st.Workflow[RootStepID].Status)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestStoreCreateWithSeedData(t *testing.T) {
	ctx := context.Background()
	store := NewStore(graph.NewMemoryStore())

	id, err := store.Create(ctx, "default", map[string]any{"name": "Ada", "n": float64(3)})
	require.NoError(t, err)

	st, err := store.Get(ctx, id)
	require.NoError(t, err)

	// Each seed entry is a synthetic single-element output sequence.
	assert.Equal(t, []any{"Ada"}, st.Data.Outputs["name"])
	assert.Equal(t, []any{float64(3)}, st.Data.Outputs["n"])

	// The whole seed object is also stored under the reserved key.
	initial, ok := st.OutputAt(InitialKey, -1)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "Ada", "n": float64(3)}, initial)
}

func TestStoreUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewStore(graph.NewMemoryStore())
	id, err := store.Create(ctx, "default", nil)
	require.NoError(t, err)

	boom := errors.New("mutator failed")
	err = store.Update(ctx, id, func(st *State) error {
		st.AppendMessage("assistant", "should not persist")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	st, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, st.Data.Messages)
}

func TestStoreUpdatePersists(t *testing.T) {
	ctx := context.Background()
	store := NewStore(graph.NewMemoryStore())
	id, err := store.Create(ctx, "default", nil)
	require.NoError(t, err)

	require.NoError(t, store.Update(ctx, id, func(st *State) error {
		st.SetStatus("step", StatusComplete)
		st.AppendOutput("step", "out")
		return nil
	}))

	st, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, st.Workflow["step"].Status)
	assert.Equal(t, []any{"out"}, st.Data.Outputs["step"])
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewStore(graph.NewMemoryStore())
	id, err := store.Create(ctx, "default", nil)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, id))
	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, graph.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, id), graph.ErrNotFound)
}
