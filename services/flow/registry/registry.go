// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry maps dotted function names to executable step functions.
//
// # Description
//
// Steps reference functions by dotted name, e.g. "utils.reply.reply".
// A function receives the step's resolved inputs plus a read-only view of
// the session state and returns an arbitrary JSON-shaped result. A result
// carrying "waiting_for_input": true suspends the workflow until the user
// supplies input.
//
// # Thread Safety
//
// Register and Lookup may be called concurrently. Registration normally
// happens once at startup; functions themselves must be safe for
// concurrent calls because sessions execute in parallel.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianFlow/services/flow/state"
)

// Func executes one workflow step. The state snapshot is read-only
// context (conversation history, prior outputs); mutations go through the
// engine, never through functions.
type Func func(ctx context.Context, inputs map[string]any, st *state.State) (any, error)

// Function is a registered step function.
type Function struct {
	Name string

	// Suspends marks functions that can pause the workflow for user
	// input. Informational; the engine keys off the returned result.
	Suspends bool

	Run Func
}

// Registry holds the function table for an engine instance.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]*Function
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{funcs: make(map[string]*Function)}
}

// Register adds a regular function under its dotted name.
func (r *Registry) Register(name string, fn Func) {
	r.add(&Function{Name: name, Run: fn})
}

// RegisterSuspending adds a function that may pause for user input.
func (r *Registry) RegisterSuspending(name string, fn Func) {
	r.add(&Function{Name: name, Suspends: true, Run: fn})
}

func (r *Registry) add(fn *Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[fn.Name] = fn
}

// Lookup finds a function by name. Names missing the "utils." package
// prefix are retried with it, so older workflow definitions that wrote
// "reply.reply" keep resolving.
func (r *Registry) Lookup(name string) (*Function, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fn, ok := r.funcs[name]; ok {
		return fn, nil
	}
	if !strings.HasPrefix(name, "utils.") {
		if fn, ok := r.funcs["utils."+name]; ok {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("unknown function %q", name)
}

// Names returns the registered function names, unordered.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	return names
}

// WaitingForInput inspects a function result for the suspension signal
// and extracts the prompt and option payload.
func WaitingForInput(result any) (prompt string, options any, waiting bool) {
	m, ok := result.(map[string]any)
	if !ok {
		return "", nil, false
	}
	flag, ok := m["waiting_for_input"].(bool)
	if !ok || !flag {
		return "", nil, false
	}
	prompt, _ = m["prompt"].(string)
	if prompt == "" {
		if q, ok := m["query"].(string); ok {
			prompt = q
		}
	}
	return prompt, m["options"], true
}

// stringInput reads a string-valued input, tolerating absence.
func stringInput(inputs map[string]any, key string) string {
	s, _ := inputs[key].(string)
	return s
}

// boolInput reads a boolean input, tolerating absence.
func boolInput(inputs map[string]any, key string) bool {
	b, _ := inputs[key].(bool)
	return b
}

// floatInput reads a numeric input with a fallback.
func floatInput(inputs map[string]any, key string, fallback float64) float64 {
	switch v := inputs[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}
