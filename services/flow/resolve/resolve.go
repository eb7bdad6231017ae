// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve implements the template reference language used in step
// input templates and edge conditions.
//
// # Description
//
// References have the form
//
//	@{SESSION_ID}.step_id[i].field1.field2|default
//
// SESSION_ID is a fixed sentinel, not the actual session id: it marks the
// path as relative to the current session's data.outputs. step_id selects
// a rolling output sequence; an optional [i] index picks an entry
// (negative indices address from the end, unindexed access means the most
// recent entry), and the remaining segments navigate into the value. A
// literal default after the pipe is substituted when the path cannot be
// resolved.
//
// Resolution distinguishes absence from error: a missing step or field is
// absence, reported through the ok return, never through an error value.
// All functions are pure; session state is read, never mutated.
package resolve

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianFlow/services/flow/state"
)

// Sentinel is the fixed marker that opens every reference.
const Sentinel = "@{SESSION_ID}"

var (
	// refPattern matches one embedded reference (no default part).
	refPattern = regexp.MustCompile(
		`@\{SESSION_ID\}(?:\.[A-Za-z0-9_\-]+(?:\[-?[0-9]+\])?)+`)

	// wholeRefPattern matches a string that is exactly one reference with
	// an optional |default suffix and nothing else.
	wholeRefPattern = regexp.MustCompile(
		`^(@\{SESSION_ID\}(?:\.[A-Za-z0-9_\-]+(?:\[-?[0-9]+\])?)+)(?:\|(.*))?$`)

	segmentPattern = regexp.MustCompile(
		`^([A-Za-z0-9_\-]+)(?:\[(-?[0-9]+)\])?$`)
)

// IsRef reports whether the string contains at least one reference.
func IsRef(s string) bool {
	return strings.Contains(s, Sentinel)
}

type segment struct {
	name     string
	index    int
	hasIndex bool
}

func parsePath(path string) ([]segment, bool) {
	parts := strings.Split(path, ".")
	segments := make([]segment, 0, len(parts))
	for _, part := range parts {
		m := segmentPattern.FindStringSubmatch(part)
		if m == nil {
			return nil, false
		}
		seg := segment{name: m[1]}
		if m[2] != "" {
			idx, err := strconv.Atoi(m[2])
			if err != nil {
				return nil, false
			}
			seg.index = idx
			seg.hasIndex = true
		}
		segments = append(segments, seg)
	}
	return segments, true
}

// indexInto selects an entry of a sequence, counting from the end for
// negative indices.
func indexInto(seq []any, idx int) (any, bool) {
	if idx < 0 {
		idx += len(seq)
	}
	if idx < 0 || idx >= len(seq) {
		return nil, false
	}
	return seq[idx], true
}

// lookupPath resolves a dotted path (without sentinel or default) against
// the session's outputs.
func lookupPath(path string, st *state.State) (any, bool) {
	segments, ok := parsePath(path)
	if !ok || len(segments) == 0 {
		return nil, false
	}

	// The first segment names a step output sequence. Unindexed access
	// selects the most recent entry.
	head := segments[0]
	outputs, ok := st.Data.Outputs[head.name]
	if !ok || len(outputs) == 0 {
		return nil, false
	}
	idx := -1
	if head.hasIndex {
		idx = head.index
	}
	value, ok := indexInto(outputs, idx)
	if !ok {
		return nil, false
	}

	for _, seg := range segments[1:] {
		m, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok = m[seg.name]
		if !ok {
			return nil, false
		}
		if seg.hasIndex {
			seq, ok := value.([]any)
			if !ok {
				return nil, false
			}
			value, ok = indexInto(seq, seg.index)
			if !ok {
				return nil, false
			}
		}
	}
	return value, true
}

// Lookup resolves a whole-string reference, honoring its default. A
// string that is not a reference resolves to itself. The second return is
// false only when a defaultless reference could not be resolved.
func Lookup(ref string, st *state.State) (any, bool) {
	if !IsRef(ref) {
		return ref, true
	}
	m := wholeRefPattern.FindStringSubmatch(strings.TrimSpace(ref))
	if m == nil {
		return nil, false
	}
	path := strings.TrimPrefix(m[1], Sentinel+".")
	if value, ok := lookupPath(path, st); ok {
		return value, true
	}
	if strings.Contains(ref, "|") {
		return strings.TrimSpace(m[2]), true
	}
	return nil, false
}

// stringify renders a resolved value for substitution inside surrounding
// text. Composite values are JSON-encoded.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any, []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	default:
		return fmt.Sprint(val)
	}
}

// ResolveString resolves every reference inside a string.
//
// A string that is exactly one reference keeps the native type of the
// resolved value. A reference embedded in surrounding text is stringified
// (JSON-encoded for composites). The second return is false when any
// defaultless reference fails to resolve.
func ResolveString(s string, st *state.State) (any, bool) {
	if !IsRef(s) {
		return s, true
	}
	if wholeRefPattern.MatchString(strings.TrimSpace(s)) {
		return Lookup(s, st)
	}

	failed := false
	replaced := refPattern.ReplaceAllStringFunc(s, func(ref string) string {
		path := strings.TrimPrefix(ref, Sentinel+".")
		value, ok := lookupPath(path, st)
		if !ok {
			failed = true
			return ref
		}
		return stringify(value)
	})
	if failed {
		return nil, false
	}
	return replaced, true
}

// ResolveValue resolves references recursively through maps, sequences and
// strings. Non-string leaves pass through untouched. The result is a new
// structure; the input is never mutated.
func ResolveValue(v any, st *state.State) (any, bool) {
	switch val := v.(type) {
	case string:
		return ResolveString(val, st)
	case map[string]any:
		out := make(map[string]any, len(val))
		for key, item := range val {
			resolved, ok := ResolveValue(item, st)
			if !ok {
				return nil, false
			}
			out[key] = resolved
		}
		return out, true
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			resolved, ok := ResolveValue(item, st)
			if !ok {
				return nil, false
			}
			out = append(out, resolved)
		}
		return out, true
	default:
		return v, true
	}
}

// ResolveInputs resolves a step input template. Resolution is
// all-or-nothing: when any defaultless reference is unresolvable the
// whole template is reported unresolved, so the engine can park the step
// as pending and retry later.
func ResolveInputs(template map[string]any, st *state.State) (map[string]any, bool) {
	resolved := make(map[string]any, len(template))
	for key, value := range template {
		out, ok := ResolveValue(value, st)
		if !ok {
			return nil, false
		}
		resolved[key] = out
	}
	return resolved, true
}
