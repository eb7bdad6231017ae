// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package condition evaluates edge conditions against session state.
//
// # Description
//
// An edge condition is a JSON list of clauses. A clause is either a bare
// reference string (truthy check), a {"true": ref} / {"false": ref}
// mapping, or a nested combination {"operator": "AND"|"OR", "true": refs,
// "false": refs}. Clauses are combined with the edge's operator, AND by
// default. An edge without a condition, or with an empty clause list, is
// unconditionally satisfied.
//
// Absent references evaluate to a falsy value. Comparison shortcuts of
// the form "lhs == rhs" compare both resolved sides as case-insensitive
// strings, so "1==1" and "1==0" act as manual true/false overrides.
//
// Note on duplicate JSON keys: encoding/json keeps the last value, so a
// condition object repeating a key is evaluated last-wins.
package condition

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianFlow/services/flow/resolve"
	"github.com/AleutianAI/AleutianFlow/services/flow/state"
)

// Truthy applies the engine's truthiness rules: nil and absence are
// falsy, empty strings and zero numbers are falsy, empty sequences and
// mappings are falsy, everything else is truthy.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

// Satisfied evaluates a raw condition string against session state.
// operator combines the top-level clauses; empty means AND. An empty
// condition is always satisfied. A decoding failure is reported as an
// error with the condition treated as unsatisfied.
func Satisfied(raw, operator string, st *state.State) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return true, nil
	}

	var clauses []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &clauses); err != nil {
		// A single clause not wrapped in a list is tolerated; older
		// workflow definitions stored conditions that way.
		var single json.RawMessage
		if err2 := json.Unmarshal([]byte(raw), &single); err2 != nil {
			return false, fmt.Errorf("parsing condition %q: %w", raw, err)
		}
		clauses = []json.RawMessage{single}
	}
	if len(clauses) == 0 {
		return true, nil
	}

	results := make([]bool, 0, len(clauses))
	for _, clause := range clauses {
		held, err := evalClause(clause, st)
		if err != nil {
			return false, err
		}
		results = append(results, held)
	}
	return combine(results, operator), nil
}

func combine(results []bool, operator string) bool {
	if strings.EqualFold(operator, "OR") {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

// clauseObject is the decoded mapping form of a clause. True and False
// each hold a reference or a sequence of references.
type clauseObject struct {
	Operator string `json:"operator"`
	True     any    `json:"true"`
	False    any    `json:"false"`
}

func evalClause(clause json.RawMessage, st *state.State) (bool, error) {
	var ref string
	if err := json.Unmarshal(clause, &ref); err == nil {
		return evalRef(ref, st), nil
	}

	var obj clauseObject
	if err := json.Unmarshal(clause, &obj); err != nil {
		return false, fmt.Errorf("parsing condition clause %s: %w", string(clause), err)
	}

	var results []bool
	for _, r := range refList(obj.True) {
		results = append(results, evalRef(r, st))
	}
	for _, r := range refList(obj.False) {
		results = append(results, !evalRef(r, st))
	}
	if len(results) == 0 {
		return false, fmt.Errorf("condition clause %s has no true/false reference", string(clause))
	}
	return combine(results, obj.Operator), nil
}

// refList flattens a ref-or-refs value into its reference strings.
func refList(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return []string{val}
	case []any:
		refs := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				refs = append(refs, s)
			}
		}
		return refs
	default:
		return nil
	}
}

// evalRef resolves one reference to a boolean. Comparisons ("a == b")
// resolve both sides and compare case-insensitively; everything else is a
// truthiness check, with unresolvable references counting as falsy.
func evalRef(ref string, st *state.State) bool {
	if lhs, rhs, found := strings.Cut(ref, "=="); found {
		left, ok := resolve.Lookup(strings.TrimSpace(lhs), st)
		if !ok {
			return false
		}
		right, ok := resolve.Lookup(strings.TrimSpace(rhs), st)
		if !ok {
			return false
		}
		return strings.EqualFold(fmt.Sprint(left), fmt.Sprint(right))
	}

	value, ok := resolve.Lookup(ref, st)
	if !ok {
		return false
	}
	return Truthy(value)
}
