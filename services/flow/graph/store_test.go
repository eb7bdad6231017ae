// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeUnderTest runs the contract suite against every backend that can run
// without external services.
func storeUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	badgerStore, err := OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { badgerStore.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": badgerStore,
	}
}

func TestStepRoundTrip(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.GetStep(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			step := &Step{
				ID:          "greet",
				Function:    "utils.reply.reply",
				Input:       `{"message": "hi"}`,
				Description: "Greets the user",
				Tags:        []string{"demo"},
			}
			require.NoError(t, store.PutStep(ctx, step))

			got, err := store.GetStep(ctx, "greet")
			require.NoError(t, err)
			assert.Equal(t, step, got)

			// PutStep replaces.
			step.Input = `{"message": "hello"}`
			require.NoError(t, store.PutStep(ctx, step))
			got, err = store.GetStep(ctx, "greet")
			require.NoError(t, err)
			assert.Equal(t, `{"message": "hello"}`, got.Input)
		})
	}
}

func TestOutgoingEdgesOrderedByPriority(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			edges, err := store.GetOutgoing(ctx, "root")
			require.NoError(t, err)
			assert.Empty(t, edges)

			require.NoError(t, store.PutEdge(ctx, "root", Edge{TargetID: "c", Priority: 2}))
			require.NoError(t, store.PutEdge(ctx, "root", Edge{TargetID: "a", Priority: 1}))
			require.NoError(t, store.PutEdge(ctx, "root", Edge{TargetID: "b", Priority: 1}))

			edges, err = store.GetOutgoing(ctx, "root")
			require.NoError(t, err)
			require.Len(t, edges, 3)
			// Ascending priority, insertion order breaking the tie.
			assert.Equal(t, "a", edges[0].TargetID)
			assert.Equal(t, "b", edges[1].TargetID)
			assert.Equal(t, "c", edges[2].TargetID)
		})
	}
}

func TestPutEdgeReplacesByTarget(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.PutEdge(ctx, "s", Edge{TargetID: "t", Priority: 5}))
			require.NoError(t, store.PutEdge(ctx, "s", Edge{TargetID: "t", Priority: 1, Condition: `["@{SESSION_ID}.s.ok"]`}))

			edges, err := store.GetOutgoing(ctx, "s")
			require.NoError(t, err)
			require.Len(t, edges, 1)
			assert.Equal(t, 1, edges[0].Priority)
			assert.NotEmpty(t, edges[0].Condition)
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.ReadSessionState(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, store.DeleteSession(ctx, "missing"), ErrNotFound)

			require.NoError(t, store.CreateSession(ctx, "s1", `{"id":"s1"}`, time.Now()))
			raw, err := store.ReadSessionState(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, `{"id":"s1"}`, raw)

			require.NoError(t, store.UpdateSession(ctx, "s1", func(string) (string, error) {
				return `{"id":"s1","v":2}`, nil
			}))
			raw, err = store.ReadSessionState(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, `{"id":"s1","v":2}`, raw)

			require.NoError(t, store.DeleteSession(ctx, "s1"))
			_, err = store.ReadSessionState(ctx, "s1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestUpdateSessionRollsBackOnMutatorError(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.CreateSession(ctx, "s1", "original", time.Now()))

			boom := errors.New("mutator failed")
			err := store.UpdateSession(ctx, "s1", func(string) (string, error) {
				return "clobbered", boom
			})
			assert.ErrorIs(t, err, boom)

			raw, err := store.ReadSessionState(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, "original", raw)
		})
	}
}

func TestUpdateMissingSession(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			err := store.UpdateSession(context.Background(), "missing", func(s string) (string, error) {
				return s, nil
			})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().Truncate(time.Millisecond)
			require.NoError(t, store.CreateSession(ctx, "old", "{}", base.Add(-2*time.Hour)))
			require.NoError(t, store.CreateSession(ctx, "new", "{}", base))
			require.NoError(t, store.CreateSession(ctx, "mid", "{}", base.Add(-time.Hour)))

			metas, err := store.ListSessions(ctx)
			require.NoError(t, err)
			require.Len(t, metas, 3)
			assert.Equal(t, "new", metas[0].ID)
			assert.Equal(t, "mid", metas[1].ID)
			assert.Equal(t, "old", metas[2].ID)
		})
	}
}

func TestBadgerLegacyUtilityAttribute(t *testing.T) {
	store, err := OpenBadgerInMemory()
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	// Definitions written by older tooling carry "utility" instead of
	// "function". Reads resolve to the canonical attribute, and "function"
	// wins when both are present.
	require.NoError(t, store.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(badgerStepPrefix+"legacy"),
			[]byte(`{"id":"legacy","utility":"utils.reply.reply"}`)); err != nil {
			return err
		}
		return txn.Set([]byte(badgerStepPrefix+"both"),
			[]byte(`{"id":"both","function":"utils.api.api","utility":"utils.reply.reply"}`))
	}))

	legacy, err := store.GetStep(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, "utils.reply.reply", legacy.Function)

	both, err := store.GetStep(ctx, "both")
	require.NoError(t, err)
	assert.Equal(t, "utils.api.api", both.Function)
}
