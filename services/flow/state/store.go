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
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
)

// Store loads and saves session state documents against the graph store.
//
// # Description
//
// Store adds typed access on top of graph.Store's raw state strings. There
// is no caching layer: every Get reads the store, and every mutation runs
// through Update inside a single store transaction, so a failing mutator
// leaves the persisted document untouched.
type Store struct {
	graph graph.Store
}

// NewStore wraps a graph store.
func NewStore(g graph.Store) *Store {
	return &Store{graph: g}
}

// Create builds the initial state for a workflow, persists the session
// node, and returns the fresh session id.
//
// When seed data is supplied, every top-level entry is stored as a
// synthetic completed-step output (a single-element sequence), and the
// whole object is additionally stored under the reserved "initial" key, so
// templates can reference either @{SESSION_ID}.key or
// @{SESSION_ID}.initial.key.
func (s *Store) Create(ctx context.Context, workflowID string, seed map[string]any) (string, error) {
	id := uuid.NewString()
	st := New(id, workflowID)

	if len(seed) > 0 {
		for key, value := range seed {
			st.Data.Outputs[key] = []any{value}
		}
		st.Data.Outputs[InitialKey] = []any{seed}
	}

	raw, err := st.Marshal()
	if err != nil {
		return "", err
	}
	if err := s.graph.CreateSession(ctx, id, string(raw), time.Now()); err != nil {
		return "", err
	}
	slog.Info("Created workflow session", "session_id", id, "workflow_id", workflowID)
	return id, nil
}

// Get returns a consistent snapshot of the session state, or
// graph.ErrNotFound for an unknown session.
func (s *Store) Get(ctx context.Context, id string) (*State, error) {
	raw, err := s.graph.ReadSessionState(ctx, id)
	if err != nil {
		return nil, err
	}
	return Parse([]byte(raw))
}

// Update applies a typed mutation to the session state inside a store
// transaction. The mutator receives the freshly-read document and mutates
// it in place; returning an error rolls the transaction back.
func (s *Store) Update(ctx context.Context, id string, mutate func(*State) error) error {
	return s.graph.UpdateSession(ctx, id, func(stateJSON string) (string, error) {
		st, err := Parse([]byte(stateJSON))
		if err != nil {
			return "", err
		}
		if err := mutate(st); err != nil {
			return "", err
		}
		raw, err := st.Marshal()
		if err != nil {
			return "", err
		}
		return string(raw), nil
	})
}

// Delete removes a session node. Exposed for external pruning only; the
// engine itself never deletes sessions.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.graph.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}
