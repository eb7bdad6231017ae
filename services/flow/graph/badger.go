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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key layout for the Badger backend. Steps and sessions are node records,
// edges are adjacency lists keyed by the source step.
const (
	badgerStepPrefix    = "step:"
	badgerEdgePrefix    = "edges:"
	badgerSessionPrefix = "session:"
)

// BadgerConfig holds configuration for the embedded Badger backend.
type BadgerConfig struct {
	// Path is the directory for database files.
	// Required unless InMemory is true.
	Path string

	// InMemory disables disk persistence. Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives Badger's internal log output. Nil disables it.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults: durable writes at the
// given path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// BadgerStore is the default embedded graph store.
//
// # Description
//
// Stores step nodes under "step:<id>", adjacency lists under "edges:<id>"
// and session nodes under "session:<id>". UpdateSession runs its mutator
// inside a single db.Update transaction, so a mutator error rolls the
// write back.
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens the embedded store with the given configuration,
// creating the data directory if needed.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// OpenBadgerInMemory opens a throwaway in-memory store for testing.
func OpenBadgerInMemory() (*BadgerStore, error) {
	return OpenBadger(BadgerConfig{InMemory: true})
}

// stepRecord is the stored form of a step node. Both the canonical
// "function" attribute and the legacy "utility" attribute are kept so
// definitions written by older tooling keep working.
type stepRecord struct {
	ID          string   `json:"id"`
	Function    string   `json:"function,omitempty"`
	Utility     string   `json:"utility,omitempty"`
	Input       string   `json:"input,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// sessionRecord is the stored form of a session node.
type sessionRecord struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	CreatedAt int64  `json:"created_at"`
}

func (b *BadgerStore) GetStep(ctx context.Context, id string) (*Step, error) {
	var rec stepRecord
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerStepPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read step %s: %w", id, err)
	}
	return &Step{
		ID:          rec.ID,
		Function:    pickFunction(rec.Function, rec.Utility),
		Input:       rec.Input,
		Description: rec.Description,
		Tags:        rec.Tags,
	}, nil
}

func (b *BadgerStore) PutStep(ctx context.Context, step *Step) error {
	rec := stepRecord{
		ID:          step.ID,
		Function:    step.Function,
		Input:       step.Input,
		Description: step.Description,
		Tags:        step.Tags,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("serialize step %s: %w", step.ID, err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerStepPrefix+step.ID), raw)
	})
	if err != nil {
		return fmt.Errorf("write step %s: %w", step.ID, err)
	}
	return nil
}

func (b *BadgerStore) GetOutgoing(ctx context.Context, id string) ([]Edge, error) {
	var edges []Edge
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerEdgePrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &edges)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read edges of %s: %w", id, err)
	}
	sortEdges(edges)
	return edges, nil
}

func (b *BadgerStore) PutEdge(ctx context.Context, sourceID string, edge Edge) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		var edges []Edge
		item, err := txn.Get([]byte(badgerEdgePrefix + sourceID))
		if err == nil {
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &edges)
			}); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		replaced := false
		for i, existing := range edges {
			if existing.TargetID == edge.TargetID {
				edges[i] = edge
				replaced = true
				break
			}
		}
		if !replaced {
			edges = append(edges, edge)
		}

		raw, err := json.Marshal(edges)
		if err != nil {
			return err
		}
		return txn.Set([]byte(badgerEdgePrefix+sourceID), raw)
	})
	if err != nil {
		return fmt.Errorf("write edge %s->%s: %w", sourceID, edge.TargetID, err)
	}
	return nil
}

func (b *BadgerStore) CreateSession(ctx context.Context, id, stateJSON string, createdAt time.Time) error {
	rec := sessionRecord{ID: id, State: stateJSON, CreatedAt: createdAt.UnixMilli()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("serialize session %s: %w", id, err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerSessionPrefix+id), raw)
	})
	if err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	return nil
}

func (b *BadgerStore) ReadSessionState(ctx context.Context, id string) (string, error) {
	var rec sessionRecord
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerSessionPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read session %s: %w", id, err)
	}
	return rec.State, nil
}

func (b *BadgerStore) UpdateSession(ctx context.Context, id string, mutate func(string) (string, error)) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		key := []byte(badgerSessionPrefix + id)
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var rec sessionRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}

		updated, err := mutate(rec.State)
		if err != nil {
			return err
		}
		rec.State = updated

		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(key, raw)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

func (b *BadgerStore) ListSessions(ctx context.Context) ([]SessionMeta, error) {
	var metas []SessionMeta
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerSessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec sessionRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			metas = append(metas, SessionMeta{
				ID:        rec.ID,
				CreatedAt: time.UnixMilli(rec.CreatedAt),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

func (b *BadgerStore) DeleteSession(ctx context.Context, id string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		key := []byte(badgerSessionPrefix + id)
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

var _ Store = (*BadgerStore)(nil)
