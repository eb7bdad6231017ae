// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
)

// reloadDebounce coalesces the burst of fsnotify events an editor emits
// for a single save.
const reloadDebounce = 500 * time.Millisecond

// Watcher reloads workflow definition files when they change on disk.
//
// # Thread Safety
//
// The watch loop runs on its own goroutine; Close may be called from any
// goroutine and is idempotent.
type Watcher struct {
	store   graph.Store
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer

	closeOnce sync.Once
}

// NewWatcher starts watching a workflow directory. Changed .json files
// are re-imported after a short debounce.
func NewWatcher(ctx context.Context, store graph.Store, dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching workflow directory %s: %w", dir, err)
	}

	w := &Watcher{
		store:   store,
		watcher: fsw,
		pending: make(map[string]struct{}),
	}
	go w.watchLoop(ctx)
	slog.Info("Watching workflow directory for changes", "dir", dir)
	return w, nil
}

// Close stops the watch loop.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Close()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			w.queue(ctx, event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Workflow watcher error", "error", err)
		}
	}
}

// queue schedules a debounced reload of a changed file.
func (w *Watcher) queue(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, func() { w.flush(ctx) })
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	for _, path := range paths {
		if _, err := Load(ctx, w.store, path); err != nil {
			slog.Error("Failed to reload workflow file",
				"file", filepath.Base(path), "error", err)
			continue
		}
		slog.Info("Reloaded workflow file", "file", filepath.Base(path))
	}
}
