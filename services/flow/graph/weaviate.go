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
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// Weaviate class names for the workflow graph.
const (
	classFlowStep    = "FlowStep"
	classFlowEdge    = "FlowEdge"
	classFlowSession = "FlowSession"
)

// WeaviateStore is the cold-tier graph store backed by a Weaviate instance.
//
// # Description
//
// Steps, edges and sessions live in three classes (FlowStep, FlowEdge,
// FlowSession). Weaviate has no multi-object transactions, so
// UpdateSession is a plain read-modify-write guarded by an in-process
// mutex; the engine's per-session lock already serializes all writers of
// a session, which keeps the read-modify-write consistent for a single
// service instance.
type WeaviateStore struct {
	client *weaviate.Client
	mu     sync.Mutex
}

// NewWeaviateStore wraps an existing client and ensures the schema exists.
func NewWeaviateStore(client *weaviate.Client) (*WeaviateStore, error) {
	s := &WeaviateStore{client: client}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (w *WeaviateStore) ensureSchema(ctx context.Context) error {
	indexFilterable := new(bool)
	*indexFilterable = true

	classes := []*models.Class{
		{
			Class:       classFlowStep,
			Description: "A workflow step node: utility reference plus input template.",
			Vectorizer:  "none",
			Properties: []*models.Property{
				{Name: "step_id", DataType: []string{"text"}, IndexFilterable: indexFilterable, Tokenization: "field"},
				{Name: "function", DataType: []string{"text"}, Tokenization: "field"},
				{Name: "utility", DataType: []string{"text"}, Tokenization: "field"},
				{Name: "input", DataType: []string{"text"}},
				{Name: "description", DataType: []string{"text"}},
				{Name: "tags", DataType: []string{"text[]"}},
			},
		},
		{
			Class:       classFlowEdge,
			Description: "A NEXT edge between two workflow steps.",
			Vectorizer:  "none",
			Properties: []*models.Property{
				{Name: "source_id", DataType: []string{"text"}, IndexFilterable: indexFilterable, Tokenization: "field"},
				{Name: "target_id", DataType: []string{"text"}, IndexFilterable: indexFilterable, Tokenization: "field"},
				{Name: "condition", DataType: []string{"text"}},
				{Name: "operator", DataType: []string{"text"}, Tokenization: "field"},
				{Name: "priority", DataType: []string{"int"}},
				{Name: "ordinal", DataType: []string{"int"}},
			},
		},
		{
			Class:       classFlowSession,
			Description: "A workflow session node carrying the serialized state document.",
			Vectorizer:  "none",
			Properties: []*models.Property{
				{Name: "session_id", DataType: []string{"text"}, IndexFilterable: indexFilterable, Tokenization: "field"},
				{Name: "state", DataType: []string{"text"}},
				{Name: "created_at", DataType: []string{"number"}},
			},
		},
	}

	for _, class := range classes {
		exists, err := w.client.Schema().ClassExistenceChecker().
			WithClassName(class.Class).Do(ctx)
		if err != nil {
			return fmt.Errorf("check class %s: %w", class.Class, err)
		}
		if exists {
			continue
		}
		if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			// Another instance may have raced us; tolerate duplicates.
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("create class %s: %w", class.Class, err)
		}
		slog.Info("Created Weaviate class", "class", class.Class)
	}
	return nil
}

// getObjects runs a filtered Get and returns the object property maps.
func (w *WeaviateStore) getObjects(ctx context.Context, className string, where *filters.WhereBuilder, fields ...graphql.Field) ([]map[string]any, error) {
	fields = append(fields, graphql.Field{
		Name:   "_additional",
		Fields: []graphql.Field{{Name: "id"}},
	})
	query := w.client.GraphQL().Get().
		WithClassName(className).
		WithFields(fields...)
	if where != nil {
		query = query.WithWhere(where)
	}
	result, err := query.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", className, err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("query %s: %s", className, result.Errors[0].Message)
	}

	get, ok := result.Data["Get"].(map[string]any)
	if !ok {
		return nil, nil
	}
	rows, ok := get[className].([]any)
	if !ok {
		return nil, nil
	}
	objects := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if props, ok := row.(map[string]any); ok {
			objects = append(objects, props)
		}
	}
	return objects, nil
}

func objectUUID(props map[string]any) string {
	additional, ok := props["_additional"].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := additional["id"].(string)
	return id
}

func stringProp(props map[string]any, name string) string {
	v, _ := props[name].(string)
	return v
}

func intProp(props map[string]any, name string) int {
	switch v := props[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func whereEqual(path, value string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{path}).
		WithOperator(filters.Equal).
		WithValueString(value)
}

func (w *WeaviateStore) GetStep(ctx context.Context, id string) (*Step, error) {
	objects, err := w.getObjects(ctx, classFlowStep, whereEqual("step_id", id),
		graphql.Field{Name: "step_id"},
		graphql.Field{Name: "function"},
		graphql.Field{Name: "utility"},
		graphql.Field{Name: "input"},
		graphql.Field{Name: "description"},
	)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, ErrNotFound
	}
	props := objects[0]
	return &Step{
		ID:          stringProp(props, "step_id"),
		Function:    pickFunction(stringProp(props, "function"), stringProp(props, "utility")),
		Input:       stringProp(props, "input"),
		Description: stringProp(props, "description"),
	}, nil
}

func (w *WeaviateStore) PutStep(ctx context.Context, step *Step) error {
	properties := map[string]any{
		"step_id":     step.ID,
		"function":    step.Function,
		"input":       step.Input,
		"description": step.Description,
		"tags":        step.Tags,
	}

	existing, err := w.getObjects(ctx, classFlowStep, whereEqual("step_id", step.ID),
		graphql.Field{Name: "step_id"})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		err = w.client.Data().Updater().
			WithClassName(classFlowStep).
			WithID(objectUUID(existing[0])).
			WithProperties(properties).
			Do(ctx)
	} else {
		_, err = w.client.Data().Creator().
			WithClassName(classFlowStep).
			WithProperties(properties).
			Do(ctx)
	}
	if err != nil {
		return fmt.Errorf("write step %s: %w", step.ID, err)
	}
	return nil
}

func (w *WeaviateStore) GetOutgoing(ctx context.Context, id string) ([]Edge, error) {
	objects, err := w.getObjects(ctx, classFlowEdge, whereEqual("source_id", id),
		graphql.Field{Name: "source_id"},
		graphql.Field{Name: "target_id"},
		graphql.Field{Name: "condition"},
		graphql.Field{Name: "operator"},
		graphql.Field{Name: "priority"},
		graphql.Field{Name: "ordinal"},
	)
	if err != nil {
		return nil, err
	}
	type ordered struct {
		edge    Edge
		ordinal int
	}
	rows := make([]ordered, 0, len(objects))
	for _, props := range objects {
		rows = append(rows, ordered{
			edge: Edge{
				TargetID:  stringProp(props, "target_id"),
				Condition: stringProp(props, "condition"),
				Operator:  stringProp(props, "operator"),
				Priority:  intProp(props, "priority"),
			},
			ordinal: intProp(props, "ordinal"),
		})
	}
	// Insertion order comes back undefined from GraphQL; restore it from
	// the ordinal property before the priority sort.
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ordinal < rows[j].ordinal })
	edges := make([]Edge, 0, len(rows))
	for _, row := range rows {
		edges = append(edges, row.edge)
	}
	sortEdges(edges)
	return edges, nil
}

func (w *WeaviateStore) PutEdge(ctx context.Context, sourceID string, edge Edge) error {
	existing, err := w.getObjects(ctx, classFlowEdge, whereEqual("source_id", sourceID),
		graphql.Field{Name: "target_id"},
		graphql.Field{Name: "ordinal"},
	)
	if err != nil {
		return err
	}

	maxOrdinal := -1
	for _, props := range existing {
		if ord := intProp(props, "ordinal"); ord > maxOrdinal {
			maxOrdinal = ord
		}
		if stringProp(props, "target_id") == edge.TargetID {
			err = w.client.Data().Updater().
				WithClassName(classFlowEdge).
				WithID(objectUUID(props)).
				WithProperties(map[string]any{
					"source_id": sourceID,
					"target_id": edge.TargetID,
					"condition": edge.Condition,
					"operator":  edge.Operator,
					"priority":  edge.Priority,
					"ordinal":   intProp(props, "ordinal"),
				}).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("update edge %s->%s: %w", sourceID, edge.TargetID, err)
			}
			return nil
		}
	}

	_, err = w.client.Data().Creator().
		WithClassName(classFlowEdge).
		WithProperties(map[string]any{
			"source_id": sourceID,
			"target_id": edge.TargetID,
			"condition": edge.Condition,
			"operator":  edge.Operator,
			"priority":  edge.Priority,
			"ordinal":   maxOrdinal + 1,
		}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("create edge %s->%s: %w", sourceID, edge.TargetID, err)
	}
	return nil
}

func (w *WeaviateStore) CreateSession(ctx context.Context, id, stateJSON string, createdAt time.Time) error {
	_, err := w.client.Data().Creator().
		WithClassName(classFlowSession).
		WithProperties(map[string]any{
			"session_id": id,
			"state":      stateJSON,
			"created_at": createdAt.UnixMilli(),
		}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	return nil
}

func (w *WeaviateStore) readSession(ctx context.Context, id string) (map[string]any, error) {
	objects, err := w.getObjects(ctx, classFlowSession, whereEqual("session_id", id),
		graphql.Field{Name: "session_id"},
		graphql.Field{Name: "state"},
		graphql.Field{Name: "created_at"},
	)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, ErrNotFound
	}
	return objects[0], nil
}

func (w *WeaviateStore) ReadSessionState(ctx context.Context, id string) (string, error) {
	props, err := w.readSession(ctx, id)
	if err != nil {
		return "", err
	}
	return stringProp(props, "state"), nil
}

func (w *WeaviateStore) UpdateSession(ctx context.Context, id string, mutate func(string) (string, error)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	props, err := w.readSession(ctx, id)
	if err != nil {
		return err
	}
	updated, err := mutate(stringProp(props, "state"))
	if err != nil {
		return err
	}
	err = w.client.Data().Updater().
		WithClassName(classFlowSession).
		WithID(objectUUID(props)).
		WithProperties(map[string]any{
			"session_id": id,
			"state":      updated,
			"created_at": props["created_at"],
		}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("write session %s: %w", id, err)
	}
	return nil
}

func (w *WeaviateStore) ListSessions(ctx context.Context) ([]SessionMeta, error) {
	objects, err := w.getObjects(ctx, classFlowSession, nil,
		graphql.Field{Name: "session_id"},
		graphql.Field{Name: "created_at"},
	)
	if err != nil {
		return nil, err
	}
	metas := make([]SessionMeta, 0, len(objects))
	for _, props := range objects {
		metas = append(metas, SessionMeta{
			ID:        stringProp(props, "session_id"),
			CreatedAt: time.UnixMilli(int64(intProp(props, "created_at"))),
		})
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

func (w *WeaviateStore) DeleteSession(ctx context.Context, id string) error {
	props, err := w.readSession(ctx, id)
	if err != nil {
		return err
	}
	err = w.client.Data().Deleter().
		WithClassName(classFlowSession).
		WithID(objectUUID(props)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (w *WeaviateStore) Close() error { return nil }

var _ Store = (*WeaviateStore)(nil)
