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
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and the lightweight mode.
// Data does not survive process restart.
type MemoryStore struct {
	mu       sync.RWMutex
	steps    map[string]*Step
	edges    map[string][]Edge
	sessions map[string]*memorySession
}

type memorySession struct {
	state     string
	createdAt time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		steps:    make(map[string]*Step),
		edges:    make(map[string][]Edge),
		sessions: make(map[string]*memorySession),
	}
}

func (m *MemoryStore) GetStep(ctx context.Context, id string) (*Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	step, ok := m.steps[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *step
	return &cp, nil
}

func (m *MemoryStore) PutStep(ctx context.Context, step *Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *step
	m.steps[step.ID] = &cp
	return nil
}

func (m *MemoryStore) GetOutgoing(ctx context.Context, id string) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	edges := make([]Edge, len(m.edges[id]))
	copy(edges, m.edges[id])
	sortEdges(edges)
	return edges, nil
}

func (m *MemoryStore) PutEdge(ctx context.Context, sourceID string, edge Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.edges[sourceID] {
		if existing.TargetID == edge.TargetID {
			m.edges[sourceID][i] = edge
			return nil
		}
	}
	m.edges[sourceID] = append(m.edges[sourceID], edge)
	return nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, id, stateJSON string, createdAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = &memorySession{state: stateJSON, createdAt: createdAt}
	return nil
}

func (m *MemoryStore) ReadSessionState(ctx context.Context, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return "", ErrNotFound
	}
	return sess.state, nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, id string, mutate func(string) (string, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	updated, err := mutate(sess.state)
	if err != nil {
		return err
	}
	sess.state = updated
	return nil
}

func (m *MemoryStore) ListSessions(ctx context.Context) ([]SessionMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	metas := make([]SessionMeta, 0, len(m.sessions))
	for id, sess := range m.sessions {
		metas = append(metas, SessionMeta{ID: id, CreatedAt: sess.createdAt})
	}
	// Newest first, matching the persistent backends.
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
