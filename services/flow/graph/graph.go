// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph defines the store contract for workflow definitions and
// session nodes, plus the available backends.
//
// # Description
//
// Workflow definitions are persisted as a property graph: STEP nodes keyed
// by id, connected by NEXT edges that carry an optional condition, a boolean
// operator, and a priority. Session nodes carry the serialized state
// document. The engine only needs typed CRUD over these three shapes; query
// planning stays inside the backend.
//
// Backends follow the tiered persistence model used elsewhere in Aleutian:
//
//	Hot (memory, tests) → Warm (BadgerDB, default) → Cold (Weaviate)
//
// # Thread Safety
//
// All implementations are safe for concurrent use. UpdateSession runs its
// mutator inside a backend transaction where the backend supports one; the
// engine additionally serializes all writers of a given session.
package graph

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned when a requested step or session does not exist.
var ErrNotFound = errors.New("not found")

// Edge operators combine the clauses of an edge condition.
const (
	OperatorAnd = "AND"
	OperatorOr  = "OR"
)

// Step is one unit of work in a workflow definition.
//
// Function is the dotted utility path; empty means the step is a no-op
// pass-through. Input is the raw JSON parameter template, stored as a
// string and parsed by the engine.
type Step struct {
	ID          string   `json:"id"`
	Function    string   `json:"function,omitempty"`
	Input       string   `json:"input,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Edge is a directed NEXT relationship to a target step.
//
// Condition is the raw JSON clause list (empty means unconditional),
// Operator combines the clauses (OperatorAnd when empty), and Priority
// orders candidate activations, lower first.
type Edge struct {
	TargetID  string `json:"target_id"`
	Condition string `json:"condition,omitempty"`
	Operator  string `json:"operator,omitempty"`
	Priority  int    `json:"priority,omitempty"`
}

// SessionMeta is the listing projection of a session node.
type SessionMeta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the typed contract over the property graph.
//
// Step nodes may carry either the canonical "function" attribute or the
// legacy "utility" attribute; implementations read both, prefer "function"
// when present, and always write "function".
type Store interface {
	// GetStep returns a step definition, or ErrNotFound.
	GetStep(ctx context.Context, id string) (*Step, error)

	// PutStep creates or replaces a step definition.
	PutStep(ctx context.Context, step *Step) error

	// GetOutgoing returns the NEXT edges leaving a step, sorted by
	// priority ascending with insertion order breaking ties.
	GetOutgoing(ctx context.Context, id string) ([]Edge, error)

	// PutEdge appends or replaces (by target) an outgoing edge.
	PutEdge(ctx context.Context, sourceID string, edge Edge) error

	// CreateSession persists a new session node.
	CreateSession(ctx context.Context, id, stateJSON string, createdAt time.Time) error

	// ReadSessionState returns the raw state document, or ErrNotFound.
	ReadSessionState(ctx context.Context, id string) (string, error)

	// UpdateSession applies a read-modify-write mutation to the session
	// state inside a transaction. A mutator error rolls the transaction
	// back and is returned unchanged.
	UpdateSession(ctx context.Context, id string, mutate func(stateJSON string) (string, error)) error

	// ListSessions returns all session nodes, newest first.
	ListSessions(ctx context.Context) ([]SessionMeta, error)

	// DeleteSession removes a session node. The engine never calls this;
	// it exists for external pruning.
	DeleteSession(ctx context.Context, id string) error

	// Close releases backend resources.
	Close() error
}

// pickFunction resolves the function/utility attribute split: the legacy
// utility attribute wins only when function is absent.
func pickFunction(function, utility string) string {
	if function != "" {
		return function
	}
	return utility
}

// sortEdges orders edges by priority ascending, keeping insertion order
// for equal priorities.
func sortEdges(edges []Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		return edges[i].Priority < edges[j].Priority
	})
}
