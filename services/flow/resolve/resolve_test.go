// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/flow/state"
)

func sessionFixture() *state.State {
	st := state.New("s1", "default")
	st.AppendOutput("ask", "old answer")
	st.AppendOutput("ask", "Ada")
	st.AppendOutput("gen", map[string]any{
		"message": "hello",
		"usage":   map[string]any{"tokens": float64(12)},
		"choices": []any{"a", "b", "c"},
	})
	st.AppendOutput("flags", map[string]any{"ready": true, "count": float64(0)})
	return st
}

func TestIsRef(t *testing.T) {
	assert.True(t, IsRef("@{SESSION_ID}.ask"))
	assert.True(t, IsRef("name: @{SESSION_ID}.ask"))
	assert.False(t, IsRef("plain text"))
	assert.False(t, IsRef("{SESSION_ID}.ask"))
}

func TestLookupNativeTypes(t *testing.T) {
	st := sessionFixture()

	v, ok := Lookup("@{SESSION_ID}.ask", st)
	require.True(t, ok)
	assert.Equal(t, "Ada", v)

	v, ok = Lookup("@{SESSION_ID}.gen.usage.tokens", st)
	require.True(t, ok)
	assert.Equal(t, float64(12), v)

	v, ok = Lookup("@{SESSION_ID}.flags.ready", st)
	require.True(t, ok)
	assert.Equal(t, true, v)

	v, ok = Lookup("@{SESSION_ID}.gen.usage", st)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"tokens": float64(12)}, v)
}

func TestLookupIndexing(t *testing.T) {
	st := sessionFixture()

	v, ok := Lookup("@{SESSION_ID}.ask[0]", st)
	require.True(t, ok)
	assert.Equal(t, "old answer", v)

	v, ok = Lookup("@{SESSION_ID}.ask[-1]", st)
	require.True(t, ok)
	assert.Equal(t, "Ada", v)

	v, ok = Lookup("@{SESSION_ID}.gen.choices[1]", st)
	require.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = Lookup("@{SESSION_ID}.ask[5]", st)
	assert.False(t, ok)
	_, ok = Lookup("@{SESSION_ID}.ask[-3]", st)
	assert.False(t, ok)
}

func TestLookupAbsence(t *testing.T) {
	st := sessionFixture()

	_, ok := Lookup("@{SESSION_ID}.missing", st)
	assert.False(t, ok)
	_, ok = Lookup("@{SESSION_ID}.gen.missing", st)
	assert.False(t, ok)
	// Navigating into a scalar is absence, not an error.
	_, ok = Lookup("@{SESSION_ID}.ask.field", st)
	assert.False(t, ok)
}

func TestLookupDefault(t *testing.T) {
	st := sessionFixture()

	v, ok := Lookup("@{SESSION_ID}.missing|fallback", st)
	require.True(t, ok)
	assert.Equal(t, "fallback", v)

	// The default is ignored when the path resolves.
	v, ok = Lookup("@{SESSION_ID}.ask|fallback", st)
	require.True(t, ok)
	assert.Equal(t, "Ada", v)

	// Empty default resolves to the empty string.
	v, ok = Lookup("@{SESSION_ID}.missing|", st)
	require.True(t, ok)
	assert.Equal(t, "", v)

	// Defaults apply at any depth of the path.
	v, ok = Lookup("@{SESSION_ID}.gen.usage.cost|0", st)
	require.True(t, ok)
	assert.Equal(t, "0", v)
}

func TestLookupNonRefPassthrough(t *testing.T) {
	st := sessionFixture()
	v, ok := Lookup("just a string", st)
	require.True(t, ok)
	assert.Equal(t, "just a string", v)
}

func TestResolveStringEmbedded(t *testing.T) {
	st := sessionFixture()

	v, ok := ResolveString("Hello @{SESSION_ID}.ask!", st)
	require.True(t, ok)
	assert.Equal(t, "Hello Ada!", v)

	// Composites embedded in text are JSON-encoded.
	v, ok = ResolveString("usage=@{SESSION_ID}.gen.usage", st)
	require.True(t, ok)
	assert.Equal(t, `usage={"tokens":12}`, v)

	// Numbers embedded in text are stringified.
	v, ok = ResolveString("tokens: @{SESSION_ID}.gen.usage.tokens", st)
	require.True(t, ok)
	assert.Equal(t, "tokens: 12", v)
}

func TestResolveStringWholeRefKeepsType(t *testing.T) {
	st := sessionFixture()
	v, ok := ResolveString("@{SESSION_ID}.flags.ready", st)
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestResolveStringFailure(t *testing.T) {
	st := sessionFixture()
	_, ok := ResolveString("Hello @{SESSION_ID}.missing!", st)
	assert.False(t, ok)
}

func TestResolveValueRecurses(t *testing.T) {
	st := sessionFixture()
	template := map[string]any{
		"name":  "@{SESSION_ID}.ask",
		"count": float64(3),
		"nested": map[string]any{
			"greeting": "hi @{SESSION_ID}.ask",
		},
		"list": []any{"@{SESSION_ID}.flags.ready", "literal"},
	}

	resolved, ok := ResolveValue(template, st)
	require.True(t, ok)
	assert.Equal(t, map[string]any{
		"name":  "Ada",
		"count": float64(3),
		"nested": map[string]any{
			"greeting": "hi Ada",
		},
		"list": []any{true, "literal"},
	}, resolved)

	// Input untouched.
	assert.Equal(t, "@{SESSION_ID}.ask", template["name"])
}

func TestResolveInputsAllOrNothing(t *testing.T) {
	st := sessionFixture()

	_, ok := ResolveInputs(map[string]any{
		"good": "@{SESSION_ID}.ask",
		"bad":  "@{SESSION_ID}.missing",
	}, st)
	assert.False(t, ok)

	resolved, ok := ResolveInputs(map[string]any{
		"good":      "@{SESSION_ID}.ask",
		"defaulted": "@{SESSION_ID}.missing|n/a",
	}, st)
	require.True(t, ok)
	assert.Equal(t, "Ada", resolved["good"])
	assert.Equal(t, "n/a", resolved["defaulted"])
}

func TestResolveInputsLiteralsIdempotent(t *testing.T) {
	st := sessionFixture()
	template := map[string]any{"message": "plain", "n": float64(1), "b": false}
	resolved, ok := ResolveInputs(template, st)
	require.True(t, ok)
	assert.Equal(t, template, resolved)
}
