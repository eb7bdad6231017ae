// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package state defines the session state document and the session store.
//
// # Description
//
// Every workflow session owns exactly one state document. The document is
// JSON-shaped and persisted as a string property on the session node in the
// graph store. It records per-step execution status, the rolling window of
// step outputs, and the conversational message history.
//
// The document must round-trip through encoding/json without loss: external
// tools read the raw state string straight out of the store.
//
// # Thread Safety
//
// State values are plain data and not safe for concurrent mutation. All
// mutation must flow through Store.Update, which serializes access per
// session inside a store transaction.
package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// OutputWindow is the maximum number of retained outputs per step.
// Appending beyond the window evicts the oldest entry.
const OutputWindow = 5

// RootStepID is the distinguished entry step of every workflow.
const RootStepID = "root"

// InitialKey is the reserved output key holding caller-supplied seed data.
const InitialKey = "initial"

// Status is the execution status of a single step within a session.
type Status string

const (
	// StatusActive marks a step that is ready to run.
	StatusActive Status = "active"

	// StatusPending marks a step whose inputs were not yet resolvable.
	// The engine retries it after other steps make progress.
	StatusPending Status = "pending"

	// StatusComplete marks a step with a fresh output.
	StatusComplete Status = "complete"

	// StatusError marks a failed activation. The step may be re-activated
	// by a later edge traversal, which clears the error.
	StatusError Status = "error"

	// StatusAwaitingInput pauses the whole workflow until a user message
	// arrives via SubmitInput.
	StatusAwaitingInput Status = "awaiting_input"
)

// Valid reports whether s is one of the enumerated step statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPending, StatusComplete, StatusError, StatusAwaitingInput:
		return true
	}
	return false
}

// Message is one entry of the conversational history.
type Message struct {
	Role      string  `json:"role"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
	ID        string  `json:"_id,omitempty"`
}

// StepState is the per-step bookkeeping entry in the workflow map.
type StepState struct {
	Status       Status `json:"status"`
	Error        string `json:"error"`
	LastExecuted int64  `json:"last_executed,omitempty"`
}

// Awaiting describes the pending input request while a session is suspended.
// It is cleared when the user's answer is submitted.
type Awaiting struct {
	Step    string `json:"step"`
	Prompt  string `json:"prompt,omitempty"`
	Options any    `json:"options,omitempty"`
}

// Data holds the mutable payload of a session: step outputs and messages.
type Data struct {
	Outputs  map[string][]any `json:"outputs"`
	Messages []Message        `json:"messages"`
	Awaiting *Awaiting        `json:"awaiting,omitempty"`
}

// State is the session state document.
type State struct {
	ID            string               `json:"id"`
	WorkflowID    string               `json:"workflow_id"`
	Workflow      map[string]StepState `json:"workflow"`
	LastEvaluated int64                `json:"last_evaluated,omitempty"`
	Data          Data                 `json:"data"`
}

// New returns the initial state for a fresh session: the root step active,
// empty outputs and message history.
func New(id, workflowID string) *State {
	return &State{
		ID:         id,
		WorkflowID: workflowID,
		Workflow: map[string]StepState{
			RootStepID: {Status: StatusActive},
		},
		Data: Data{
			Outputs:  map[string][]any{},
			Messages: []Message{},
		},
	}
}

// Parse decodes a stored state document and normalizes nil containers so
// callers never have to nil-check the maps.
func Parse(raw []byte) (*State, error) {
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("parsing session state: %w", err)
	}
	if st.Workflow == nil {
		st.Workflow = map[string]StepState{}
	}
	if st.Data.Outputs == nil {
		st.Data.Outputs = map[string][]any{}
	}
	if st.Data.Messages == nil {
		st.Data.Messages = []Message{}
	}
	return &st, nil
}

// Marshal serializes the document for persistence.
func (s *State) Marshal() ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("serializing session state: %w", err)
	}
	return raw, nil
}

// AppendOutput records a new output for a step, evicting the oldest entry
// once the rolling window is full.
func (s *State) AppendOutput(stepID string, out any) {
	outputs := append(s.Data.Outputs[stepID], out)
	if len(outputs) > OutputWindow {
		outputs = outputs[len(outputs)-OutputWindow:]
	}
	s.Data.Outputs[stepID] = outputs
}

// LatestOutput returns the most recent output for a step.
func (s *State) LatestOutput(stepID string) (any, bool) {
	return s.OutputAt(stepID, -1)
}

// OutputAt returns the output at index idx within the rolling window.
// Negative indices address from the end, so -1 is the most recent entry
// and 0 the oldest currently retained.
func (s *State) OutputAt(stepID string, idx int) (any, bool) {
	outputs, ok := s.Data.Outputs[stepID]
	if !ok || len(outputs) == 0 {
		return nil, false
	}
	if idx < 0 {
		idx += len(outputs)
	}
	if idx < 0 || idx >= len(outputs) {
		return nil, false
	}
	return outputs[idx], true
}

// SetStatus updates a step's status, inserting the bookkeeping entry when
// the step is seen for the first time. Setting any status other than
// StatusError clears a previous error message.
func (s *State) SetStatus(stepID string, status Status) {
	entry := s.Workflow[stepID]
	entry.Status = status
	if status != StatusError {
		entry.Error = ""
	}
	s.Workflow[stepID] = entry
}

// MarkError records a step failure.
func (s *State) MarkError(stepID, msg string) {
	entry := s.Workflow[stepID]
	entry.Status = StatusError
	entry.Error = msg
	s.Workflow[stepID] = entry
}

// StampExecuted records the completion time of a step's latest run.
func (s *State) StampExecuted(stepID string, at int64) {
	entry := s.Workflow[stepID]
	entry.LastExecuted = at
	s.Workflow[stepID] = entry
}

// StepsWith returns the ids of all steps currently in the given status,
// sorted for deterministic iteration.
func (s *State) StepsWith(status Status) []string {
	var ids []string
	for id, entry := range s.Workflow {
		if entry.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// AwaitingStep returns the step currently suspended for user input, if any.
func (s *State) AwaitingStep() (string, bool) {
	for id, entry := range s.Workflow {
		if entry.Status == StatusAwaitingInput {
			return id, true
		}
	}
	return "", false
}

// AppendMessage appends a message to the conversational history and returns
// it. Messages are never reordered.
func (s *State) AppendMessage(role, content string) Message {
	msg := Message{
		Role:      role,
		Content:   content,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		ID:        uuid.NewString()[:8],
	}
	s.Data.Messages = append(s.Data.Messages, msg)
	return msg
}
