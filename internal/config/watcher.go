// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher watches the config file for changes and reloads it.
// Reloads are debounced, validated, and delivered through the OnChange
// callback; an invalid file keeps the previous config in effect.
type Watcher struct {
	mu        sync.Mutex
	path      string
	loader    *Loader
	validator *Validator
	onChange  func(*Config)
	watcher   *fsnotify.Watcher
	debounce  time.Duration
	timer     *time.Timer
	closed    bool
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// NewWatcher creates a watcher for the config file at path.
// onChange is invoked with each successfully reloaded and validated config.
func NewWatcher(path string, debounce time.Duration, onChange func(*Config)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	// Watch the parent directory rather than the file itself so that
	// editors which replace the file on save keep triggering events.
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch config dir: %w", err)
	}

	w := &Watcher{
		path:      abs,
		loader:    NewLoader(),
		validator: NewValidator(),
		onChange:  onChange,
		watcher:   fsWatcher,
		debounce:  debounce,
		closeCh:   make(chan struct{}),
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.closeCh)
	w.mu.Unlock()

	w.watcher.Close()
	w.wg.Wait()

	return nil
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config: watch error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Only care about writes and creates - NOT chmod
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	if filepath.Clean(event.Name) != w.path {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := w.loader.LoadWithDefaults(context.Background(), w.path)
	if err != nil {
		log.Printf("config: reload failed, keeping previous config: %v", err)
		return
	}
	if err := w.validator.Validate(cfg); err != nil {
		log.Printf("config: reloaded file invalid, keeping previous config: %v", err)
		return
	}

	log.Printf("config: reloaded %s", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
