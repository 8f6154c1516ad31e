package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce coalesces the bursts of events editors and
// WriteFile's rename produce for one logical save.
const DefaultReloadDebounce = 150 * time.Millisecond

// Watcher reloads a configuration file into a Store whenever it changes.
// The file's directory is watched rather than the file itself so that
// atomic rename-over writes are seen.
type Watcher struct {
	path     string
	store    *Store
	debounce time.Duration

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	stopped bool
}

// NewWatcher creates a watcher for path feeding store.
func NewWatcher(path string, store *Store) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute path: %w", err)
	}
	return &Watcher{path: abs, store: store, debounce: DefaultReloadDebounce}, nil
}

// Run watches until ctx is cancelled or Stop is called.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		_ = fsw.Close()
		return nil
	}
	w.fsw = fsw
	w.mu.Unlock()
	defer func() { _ = w.Stop() }()

	slog.Info("config_watch_started", slog.String("path", w.path))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config_watch_error", slog.String("error", err.Error()))
		case <-timer.C:
			w.reload()
		}
	}
}

// reload installs the file's content, keeping the current snapshot when the
// file cannot be read or does not validate.
func (w *Watcher) reload() {
	if err := w.store.ReadFile(w.path); err != nil {
		slog.Warn("config_reload_rejected",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return
	}
	slog.Info("config_reloaded", slog.String("path", w.path))
}

// Stop ends Run. It is safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}
