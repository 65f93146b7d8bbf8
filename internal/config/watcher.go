package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the configuration file when it changes on disk and
// hands every successfully validated snapshot to a callback. Invalid
// snapshots are logged and skipped, so the running configuration never
// regresses to a broken state.
type Watcher struct {
	path     string
	logger   *slog.Logger
	onReload func(*Config)
}

// NewWatcher creates a watcher for the config file at path. onReload is
// called with each new valid configuration.
func NewWatcher(path string, logger *slog.Logger, onReload func(*Config)) *Watcher {
	return &Watcher{
		path:     path,
		logger:   logger,
		onReload: onReload,
	}
}

// Watch monitors the configuration file for changes and reloads it.
// The parent directory is watched rather than the file itself so that
// editors which replace the file through a rename keep being tracked.
// It blocks until the context is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	base := filepath.Base(w.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.reload()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	config, err := Load(w.path)
	if err != nil {
		w.logger.Error("Config reload failed, keeping previous configuration",
			"path", w.path,
			"error", err)
		return
	}

	w.logger.Info("Config reloaded", "path", w.path)
	w.onReload(config)
}
