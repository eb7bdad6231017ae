// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine drives workflow sessions through the activate, execute,
// advance loop.
//
// # Description
//
// A drive (Process or SubmitInput) repeatedly picks the session's active
// steps, resolves their input templates against session state, dispatches
// them to registered functions, and then advances the workflow along
// satisfied NEXT edges. The drive ends when no step can make progress
// (completed), when a step suspends for user input (awaiting_input), or
// when the iteration cap trips (active, resumable by re-driving).
//
// Every state mutation runs through the session store's transactional
// Update; the engine itself keeps no session state between drives.
//
// # Thread Safety
//
// Process and SubmitInput for the same session are serialized by a
// per-session lock. Distinct sessions advance in parallel.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianFlow/services/flow/condition"
	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
	"github.com/AleutianAI/AleutianFlow/services/flow/observability"
	"github.com/AleutianAI/AleutianFlow/services/flow/registry"
	"github.com/AleutianAI/AleutianFlow/services/flow/resolve"
	"github.com/AleutianAI/AleutianFlow/services/flow/state"
)

var engineTracer = otel.Tracer("aleutianflow/flow/engine")

// DefaultIterationMax bounds runaway loops. A drive that trips the cap
// returns StatusActive and can be resumed by driving again.
const DefaultIterationMax = 1000

// Drive statuses reported to callers.
const (
	StatusCompleted     = "completed"
	StatusAwaitingInput = "awaiting_input"
	StatusActive        = "active"
	StatusError         = "error"
)

// ErrNotAwaitingInput is returned by SubmitInput when no step of the
// session is suspended for user input.
var ErrNotAwaitingInput = errors.New("session is not awaiting input")

// Engine executes workflow sessions. Construct with New; the zero value
// is not usable.
type Engine struct {
	sessions     *state.Store
	graph        graph.Store
	registry     *registry.Registry
	iterationMax int
	metrics      *observability.EngineMetrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithIterationMax overrides the drive-loop safety bound.
func WithIterationMax(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.iterationMax = n
		}
	}
}

// WithMetrics attaches engine metrics. Without it the engine runs
// unmetered.
func WithMetrics(m *observability.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New builds an engine over its collaborators.
func New(sessions *state.Store, g graph.Store, reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		sessions:     sessions,
		graph:        g,
		registry:     reg,
		iterationMax: DefaultIterationMax,
		locks:        map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// lockSession acquires the per-session lock, creating it on first use.
// Locks are non-reentrant.
func (e *Engine) lockSession(id string) func() {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Process drives the session until completion, suspension, or the
// iteration cap. Safe to call on an already-suspended or completed
// session; it reports the current status without side effects.
func (e *Engine) Process(ctx context.Context, sessionID string) (string, error) {
	ctx, span := engineTracer.Start(ctx, "engine.Process")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	unlock := e.lockSession(sessionID)
	defer unlock()

	status, iterations, err := e.drive(ctx, sessionID)
	e.metrics.RecordDrive("process", status, iterations)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return StatusError, err
	}
	span.SetAttributes(attribute.String("status", status))
	return status, nil
}

// SubmitInput answers a suspended session. The input is appended to the
// awaiting step's output window, recorded as a user message, and the
// drive resumes from where it paused.
func (e *Engine) SubmitInput(ctx context.Context, sessionID, input string) (string, error) {
	ctx, span := engineTracer.Start(ctx, "engine.SubmitInput")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	unlock := e.lockSession(sessionID)
	defer unlock()

	st, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return StatusError, err
	}
	stepID, ok := st.AwaitingStep()
	if !ok {
		slog.Warn("No step is awaiting input", "session_id", sessionID)
		return StatusError, ErrNotAwaitingInput
	}

	now := time.Now().UnixNano()
	err = e.sessions.Update(ctx, sessionID, func(st *state.State) error {
		st.AppendOutput(stepID, input)
		st.SetStatus(stepID, state.StatusComplete)
		st.StampExecuted(stepID, now)
		st.AppendMessage("user", input)
		st.Data.Awaiting = nil
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return StatusError, err
	}
	slog.Info("User input stored", "session_id", sessionID, "step_id", stepID)
	e.metrics.SessionSuspended(-1)

	status, iterations, err := e.drive(ctx, sessionID)
	e.metrics.RecordDrive("submit_input", status, iterations)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return StatusError, err
	}
	return status, nil
}

// driveState is per-drive bookkeeping: completions seen so far, the
// completion count at which each step went pending (pending steps only
// retry after new completions), and the edge priority that introduced
// each active step.
type driveState struct {
	completions int
	pendingAt   map[string]int
	priority    map[string]int
}

// drive is the core loop. Callers must hold the session lock.
func (e *Engine) drive(ctx context.Context, sessionID string) (string, int, error) {
	d := &driveState{pendingAt: map[string]int{}, priority: map[string]int{}}

	for iteration := 0; iteration < e.iterationMax; iteration++ {
		st, err := e.sessions.Get(ctx, sessionID)
		if err != nil {
			return StatusError, iteration, err
		}
		if _, ok := st.AwaitingStep(); ok {
			return StatusAwaitingInput, iteration, nil
		}

		active := st.StepsWith(state.StatusActive)
		if len(active) == 0 {
			progressed, err := e.idle(ctx, sessionID, st, d)
			if err != nil {
				return StatusError, iteration, err
			}
			if !progressed {
				return StatusCompleted, iteration, nil
			}
			continue
		}
		d.orderByPriority(active)

		for _, stepID := range active {
			outcome, err := e.runStep(ctx, sessionID, stepID)
			if err != nil {
				return StatusError, iteration, err
			}
			switch outcome {
			case state.StatusAwaitingInput:
				e.metrics.SessionSuspended(1)
				return StatusAwaitingInput, iteration, nil
			case state.StatusComplete:
				d.completions++
			case state.StatusPending:
				d.pendingAt[stepID] = d.completions
			}
		}

		if _, err := e.advance(ctx, sessionID, d); err != nil {
			return StatusError, iteration, err
		}
	}

	slog.Warn("Reached maximum iterations", "session_id", sessionID, "iteration_max", e.iterationMax)
	return StatusActive, e.iterationMax, nil
}

// idle handles an iteration with no active step: re-activate the root if
// the workflow never finished it, otherwise try an edge advance, then a
// pending promotion. Reports whether anything became runnable.
func (e *Engine) idle(ctx context.Context, sessionID string, st *state.State, d *driveState) (bool, error) {
	if entry, ok := st.Workflow[state.RootStepID]; ok && entry.Status != state.StatusComplete {
		slog.Info("Activating root step", "session_id", sessionID)
		err := e.sessions.Update(ctx, sessionID, func(st *state.State) error {
			st.SetStatus(state.RootStepID, state.StatusActive)
			return nil
		})
		return err == nil, err
	}

	activated, err := e.advance(ctx, sessionID, d)
	if err != nil || activated {
		return activated, err
	}

	// Promote pending steps only after new completions; a step that went
	// pending with nothing completed since would just fail again.
	var promote []string
	for _, stepID := range st.StepsWith(state.StatusPending) {
		since, seen := d.pendingAt[stepID]
		if (!seen && d.completions > 0) || (seen && d.completions > since) {
			promote = append(promote, stepID)
		}
	}
	if len(promote) == 0 {
		return false, nil
	}
	slog.Info("Promoting pending steps", "session_id", sessionID, "steps", promote)
	err = e.sessions.Update(ctx, sessionID, func(st *state.State) error {
		for _, stepID := range promote {
			st.SetStatus(stepID, state.StatusActive)
			d.pendingAt[stepID] = d.completions
		}
		return nil
	})
	return err == nil, err
}

// orderByPriority sorts active steps by the priority of the edge that
// introduced them, lowest first; steps without a recorded priority sort
// last, ties break on step id.
func (d *driveState) orderByPriority(steps []string) {
	sort.SliceStable(steps, func(i, j int) bool {
		pi, iOK := d.priority[steps[i]]
		pj, jOK := d.priority[steps[j]]
		switch {
		case iOK && jOK && pi != pj:
			return pi < pj
		case iOK != jOK:
			return iOK
		default:
			return steps[i] < steps[j]
		}
	})
}

// runStep executes one active step and returns the status it ended in.
// Step-level failures are recorded in state and do not abort the drive;
// only store failures surface as errors.
func (e *Engine) runStep(ctx context.Context, sessionID, stepID string) (state.Status, error) {
	st, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return state.StatusError, err
	}

	step, err := e.graph.GetStep(ctx, stepID)
	if errors.Is(err, graph.ErrNotFound) {
		return e.failStep(ctx, sessionID, stepID, "", "Step not found")
	}
	if err != nil {
		return state.StatusError, err
	}

	var template map[string]any
	if raw := strings.TrimSpace(step.Input); raw != "" {
		if err := json.Unmarshal([]byte(raw), &template); err != nil {
			return e.failStep(ctx, sessionID, stepID, step.Function,
				fmt.Sprintf("invalid input template: %v", err))
		}
	}

	inputs, ok := resolve.ResolveInputs(template, st)
	if !ok {
		slog.Info("Step inputs unresolved, parking as pending",
			"session_id", sessionID, "step_id", stepID)
		e.metrics.RecordStep(step.Function, string(state.StatusPending))
		err := e.sessions.Update(ctx, sessionID, func(st *state.State) error {
			st.SetStatus(stepID, state.StatusPending)
			return nil
		})
		return state.StatusPending, err
	}

	// Steps without a function are pass-throughs producing an empty
	// structured result.
	if step.Function == "" {
		return state.StatusComplete, e.completeStep(ctx, sessionID, stepID, "", map[string]any{})
	}

	fn, err := e.registry.Lookup(step.Function)
	if err != nil {
		return e.failStep(ctx, sessionID, stepID, step.Function,
			fmt.Sprintf("Utility not found: %s", step.Function))
	}

	if fn.Suspends {
		return state.StatusAwaitingInput, e.suspendStep(ctx, sessionID, stepID, step.Function, inputs)
	}

	slog.Info("Executing function", "session_id", sessionID, "step_id", stepID, "function", step.Function)
	result, err := fn.Run(ctx, inputs, st)
	if err != nil {
		return e.failStep(ctx, sessionID, stepID, step.Function, err.Error())
	}
	if msg := resultError(result); msg != "" {
		return e.failStep(ctx, sessionID, stepID, step.Function, msg)
	}
	return state.StatusComplete, e.completeStep(ctx, sessionID, stepID, step.Function, result)
}

// suspendStep parks the session for user input without invoking the
// function. The prompt is mirrored into the message history so clients
// replaying the conversation see the question.
func (e *Engine) suspendStep(ctx context.Context, sessionID, stepID, function string, inputs map[string]any) error {
	prompt, _ := inputs["prompt"].(string)
	if prompt == "" {
		prompt, _ = inputs["query"].(string)
	}
	if prompt == "" {
		prompt = "Input required:"
	}

	slog.Info("Step awaiting user input", "session_id", sessionID, "step_id", stepID, "prompt", prompt)
	e.metrics.RecordStep(function, string(state.StatusAwaitingInput))
	return e.sessions.Update(ctx, sessionID, func(st *state.State) error {
		st.SetStatus(stepID, state.StatusAwaitingInput)
		st.Data.Awaiting = &state.Awaiting{
			Step:    stepID,
			Prompt:  prompt,
			Options: inputs["options"],
		}
		if n := len(st.Data.Messages); n == 0 || st.Data.Messages[n-1].Content != prompt {
			st.AppendMessage("assistant", prompt)
		}
		return nil
	})
}

// completeStep records a successful execution: output appended to the
// rolling window, status complete, execution time stamped. Reply results
// additionally land in the message history as assistant messages.
func (e *Engine) completeStep(ctx context.Context, sessionID, stepID, function string, result any) error {
	now := time.Now().UnixNano()
	e.metrics.RecordStep(function, string(state.StatusComplete))
	return e.sessions.Update(ctx, sessionID, func(st *state.State) error {
		st.AppendOutput(stepID, result)
		st.SetStatus(stepID, state.StatusComplete)
		st.StampExecuted(stepID, now)
		if strings.Contains(function, ".reply.") {
			if text := replyText(result); text != "" {
				st.AppendMessage("assistant", text)
			}
		}
		return nil
	})
}

// failStep marks a step errored. The branch is abandoned but sibling
// branches keep running, so no error is returned to the drive.
func (e *Engine) failStep(ctx context.Context, sessionID, stepID, function, msg string) (state.Status, error) {
	slog.Error("Step failed", "session_id", sessionID, "step_id", stepID, "error", msg)
	e.metrics.RecordStep(function, string(state.StatusError))
	err := e.sessions.Update(ctx, sessionID, func(st *state.State) error {
		st.MarkError(stepID, msg)
		return nil
	})
	return state.StatusError, err
}

// advance walks NEXT edges out of every step completed at or after the
// last evaluation point and activates the targets of satisfied edges.
// Activation clears a previous error so loops through a failed branch can
// recover; active and suspended targets are left alone. Returns whether
// any step became active.
func (e *Engine) advance(ctx context.Context, sessionID string, d *driveState) (bool, error) {
	st, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}

	var sources []string
	maxStamp := st.LastEvaluated
	for stepID, entry := range st.Workflow {
		if entry.Status == state.StatusComplete && entry.LastExecuted >= st.LastEvaluated {
			sources = append(sources, stepID)
			if entry.LastExecuted > maxStamp {
				maxStamp = entry.LastExecuted
			}
		}
	}
	if len(sources) == 0 {
		return false, nil
	}
	sort.Strings(sources)

	type candidate struct {
		target   string
		priority int
	}
	var candidates []candidate
	for _, source := range sources {
		edges, err := e.graph.GetOutgoing(ctx, source)
		if err != nil {
			return false, err
		}
		for _, edge := range edges {
			ok, err := condition.Satisfied(edge.Condition, edge.Operator, st)
			if err != nil {
				slog.Warn("Skipping edge with malformed condition",
					"session_id", sessionID, "source", source, "target", edge.TargetID, "error", err)
				continue
			}
			slog.Debug("Evaluated edge", "source", source, "target", edge.TargetID, "satisfied", ok)
			if ok {
				candidates = append(candidates, candidate{target: edge.TargetID, priority: edge.Priority})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].priority < candidates[j].priority
	})

	clock := time.Now().UnixNano()
	if clock <= maxStamp {
		clock = maxStamp + 1
	}

	activated := false
	err = e.sessions.Update(ctx, sessionID, func(st *state.State) error {
		for _, c := range candidates {
			switch st.Workflow[c.target].Status {
			case state.StatusActive, state.StatusAwaitingInput:
				continue
			}
			st.SetStatus(c.target, state.StatusActive)
			d.priority[c.target] = c.priority
			activated = true
		}
		st.LastEvaluated = clock
		return nil
	})
	if err != nil {
		return false, err
	}
	if activated {
		slog.Info("Activated next steps", "session_id", sessionID, "count", len(candidates))
	}
	return activated, nil
}

// resultError extracts a step-level failure message from a function
// result. Functions report recoverable failures inside their result
// instead of through Go errors, so the workflow can branch on them; a
// non-empty "error" field still fails the step.
func resultError(result any) string {
	m, ok := result.(map[string]any)
	if !ok {
		return ""
	}
	v, present := m["error"]
	if !present || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// replyText extracts the user-facing text of a reply result.
func replyText(result any) string {
	m, ok := result.(map[string]any)
	if !ok {
		return ""
	}
	if text, ok := m["message"].(string); ok && text != "" {
		return text
	}
	text, _ := m["content"].(string)
	return text
}

// SessionStatus derives the caller-visible status of a session from its
// state document.
func SessionStatus(st *state.State) string {
	if _, ok := st.AwaitingStep(); ok {
		return StatusAwaitingInput
	}
	for _, entry := range st.Workflow {
		switch entry.Status {
		case state.StatusActive, state.StatusPending:
			return StatusActive
		}
	}
	return StatusCompleted
}
