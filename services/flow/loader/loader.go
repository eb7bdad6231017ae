// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package loader imports workflow definitions from JSON files into the
// graph store.
//
// # Description
//
// A definition file declares steps and NEXT edges:
//
//	{
//	  "id": "default",
//	  "steps": [
//	    {"id": "root"},
//	    {"id": "ask", "function": "utils.request.request",
//	     "input": {"prompt": "name?"}}
//	  ],
//	  "edges": [
//	    {"from": "root", "to": "ask", "priority": 1}
//	  ]
//	}
//
// Loading upserts; existing steps and edges with the same ids are
// replaced. The optional watcher reloads files as they change on disk.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
	"github.com/AleutianAI/AleutianFlow/services/flow/state"
)

// StepDef is one step row of a definition file. Input may be a JSON
// object or an already-serialized string; the legacy "utility" attribute
// is honored when "function" is absent.
type StepDef struct {
	ID          string   `json:"id"`
	Function    string   `json:"function"`
	Utility     string   `json:"utility"`
	Input       any      `json:"input"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// EdgeDef is one NEXT edge row. Condition may be a clause list, a single
// clause object, or an already-serialized string.
type EdgeDef struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Condition any    `json:"condition"`
	Operator  string `json:"operator"`
	Priority  int    `json:"priority"`
}

// Definition is a whole workflow file.
type Definition struct {
	ID    string    `json:"id"`
	Steps []StepDef `json:"steps"`
	Edges []EdgeDef `json:"edges"`
}

// Load imports one definition file into the store.
func Load(ctx context.Context, store graph.Store, path string) (*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file %s: %w", path, err)
	}
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse workflow file %s: %w", path, err)
	}
	if def.ID == "" {
		def.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := Import(ctx, store, &def); err != nil {
		return nil, fmt.Errorf("import workflow %s: %w", def.ID, err)
	}
	slog.Info("Loaded workflow definition", "workflow_id", def.ID,
		"steps", len(def.Steps), "edges", len(def.Edges), "path", path)
	return &def, nil
}

// Import upserts a parsed definition into the store.
func Import(ctx context.Context, store graph.Store, def *Definition) error {
	hasRoot := false
	for _, row := range def.Steps {
		if row.ID == "" {
			return fmt.Errorf("workflow %s: step without id", def.ID)
		}
		if row.ID == state.RootStepID {
			hasRoot = true
		}
		input, err := serializeField(row.Input)
		if err != nil {
			return fmt.Errorf("workflow %s step %s: %w", def.ID, row.ID, err)
		}
		function := row.Function
		if function == "" {
			function = row.Utility
		}
		step := &graph.Step{
			ID:          row.ID,
			Function:    function,
			Input:       input,
			Description: row.Description,
			Tags:        row.Tags,
		}
		if err := store.PutStep(ctx, step); err != nil {
			return err
		}
	}
	if !hasRoot {
		slog.Warn("Workflow definition has no root step; sessions cannot start from it",
			"workflow_id", def.ID)
	}

	for _, row := range def.Edges {
		if row.From == "" || row.To == "" {
			return fmt.Errorf("workflow %s: edge missing from/to", def.ID)
		}
		condition, err := serializeField(row.Condition)
		if err != nil {
			return fmt.Errorf("workflow %s edge %s->%s: %w", def.ID, row.From, row.To, err)
		}
		edge := graph.Edge{
			TargetID:  row.To,
			Condition: condition,
			Operator:  row.Operator,
			Priority:  row.Priority,
		}
		if err := store.PutEdge(ctx, row.From, edge); err != nil {
			return err
		}
	}
	return nil
}

// LoadDir imports every .json file of a directory, continuing past
// individually broken files.
func LoadDir(ctx context.Context, store graph.Store, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read workflow directory %s: %w", dir, err)
	}
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if _, err := Load(ctx, store, filepath.Join(dir, entry.Name())); err != nil {
			slog.Error("Skipping broken workflow file", "file", entry.Name(), "error", err)
			continue
		}
		loaded++
	}
	slog.Info("Workflow directory loaded", "dir", dir, "files", loaded)
	return nil
}

// serializeField renders an input/condition field to its stored string
// form. Strings pass through untouched, nil becomes empty.
func serializeField(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("serialize field: %w", err)
		}
		return string(raw), nil
	}
}
