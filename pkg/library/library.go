// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

// Package library implements a read-only, change-notifying tree of
// processor/declaration artifacts, ported from
// original_source/asab/library/providers/{abc,filesystem}.py. The
// original watches raw inotify file descriptors and aggregates events on
// a 200ms timer before publishing "ASABLibrary.change!"; this port uses
// fsnotify (the idiomatic Go substitute for that kind of watch) but keeps
// the same aggregation-window design.
package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fluxpump/fluxpump/pkg/pubsub"
)

// Item describes one entry returned by List.
type Item struct {
	Name string // slash-separated path relative to the library root
	Type string // "item" or "dir"
}

// Provider is the read-only surface every library backend implements.
type Provider interface {
	Read(path string) ([]byte, error)
	List(path string) ([]Item, error)
}

// FilesystemProvider serves Items from a directory tree and publishes
// "<ID>.change!" on Bus whenever watched files change, ported from
// FileSystemLibraryProvider.
type FilesystemProvider struct {
	ID       string
	BasePath string
	Bus      *pubsub.Bus

	watcher *fsnotify.Watcher

	// aggrMu guards pending, the set of changed paths (relative to
	// BasePath) seen since the last aggregation window fired. Only Watch's
	// goroutine writes and drains it; flushPending copies and clears it
	// under aggrMu before iterating the copy.
	aggrMu  sync.Mutex
	pending map[string]struct{}

	aggrWindow time.Duration
}

// NewFilesystemProvider opens a watcher rooted at path. The caller must
// call Watch to start the aggregation loop and Close to release the
// watcher.
func NewFilesystemProvider(id, path string, bus *pubsub.Bus) (*FilesystemProvider, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("library: failed to resolve base path %q: %w", path, err)
	}
	abs = strings.TrimRight(abs, "/")

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("library: failed to open filesystem watcher: %w", err)
	}

	p := &FilesystemProvider{
		ID:         id,
		BasePath:   abs,
		Bus:        bus,
		watcher:    w,
		pending:    make(map[string]struct{}),
		aggrWindow: 200 * time.Millisecond,
	}
	return p, nil
}

// Subscribe recursively watches every directory under path (relative to
// BasePath), matching subscribe/_subscribe_recursive.
func (p *FilesystemProvider) Subscribe(path string) error {
	return p.subscribeRecursive(path)
}

func (p *FilesystemProvider) subscribeRecursive(path string) error {
	nodePath := p.nodePath(path)
	if err := p.watcher.Add(nodePath); err != nil {
		return fmt.Errorf("library: failed to watch %q: %w", nodePath, err)
	}

	items, err := p.List(path)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.Type == "dir" {
			if err := p.subscribeRecursive(item.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *FilesystemProvider) nodePath(path string) string {
	if path == "/" || path == "" {
		return p.BasePath
	}
	return p.BasePath + path
}

// Read returns the contents of the item at path, or an error if it does
// not exist or is a directory.
func (p *FilesystemProvider) Read(path string) ([]byte, error) {
	node := p.nodePath(path)
	info, err := os.Stat(node)
	if err != nil {
		return nil, fmt.Errorf("library: %q not found: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("library: %q is a directory", path)
	}
	return os.ReadFile(node)
}

// List enumerates the direct children of path, skipping dotfiles, ported
// from FileSystemLibraryProvider._list.
func (p *FilesystemProvider) List(path string) ([]Item, error) {
	node := p.nodePath(path)
	entries, err := os.ReadDir(node)
	if err != nil {
		return nil, fmt.Errorf("library: %q not found: %w", path, err)
	}

	var items []Item
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ftype := "item"
		if e.IsDir() {
			ftype = "dir"
		}
		name := path + "/" + e.Name()
		if path == "/" {
			name = "/" + e.Name()
		}
		items = append(items, Item{Name: name, Type: ftype})
	}
	return items, nil
}

// Watch runs the aggregation loop until ctx is cancelled: every raw
// fsnotify event records the changed path (relative to BasePath) as
// pending, and every aggrWindow tick flushes the pending set to one
// "<ID>.change!" publication per distinct path.
func (p *FilesystemProvider) Watch(ctx context.Context) error {
	ticker := time.NewTicker(p.aggrWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-p.watcher.Events:
			if !ok {
				return nil
			}
			p.recordPending(event.Name)
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("library: watcher error: %w", err)
		case <-ticker.C:
			p.flushPending()
		}
	}
}

func (p *FilesystemProvider) recordPending(absPath string) {
	rel := strings.TrimPrefix(absPath, p.BasePath)
	if rel == "" {
		rel = "/"
	}

	p.aggrMu.Lock()
	p.pending[rel] = struct{}{}
	p.aggrMu.Unlock()
}

// flushPending copies the pending set out from under the lock, clears it,
// and then iterates the copy -- the single-goroutine-owned resolution to
// the race the original's comment flags ("self.AggrEvents can be modified
// during this for cycle").
func (p *FilesystemProvider) flushPending() {
	p.aggrMu.Lock()
	if len(p.pending) == 0 {
		p.aggrMu.Unlock()
		return
	}
	toAdvertise := p.pending
	p.pending = make(map[string]struct{})
	p.aggrMu.Unlock()

	for path := range toAdvertise {
		p.Bus.Publish(p.ID+".change!", path)
	}
}

// Close releases the underlying watcher.
func (p *FilesystemProvider) Close() error {
	return p.watcher.Close()
}
