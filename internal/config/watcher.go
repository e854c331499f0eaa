package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Watcher reloads the configuration when the file on disk changes, so retry
// limits and error markers can be tuned without restarting the proxy. The
// config directory is watched rather than the file itself because editors
// replace files on save.
type Watcher struct {
	manager *Manager
	logger  *slog.Logger
}

func NewWatcher(manager *Manager, logger *slog.Logger) *Watcher {
	return &Watcher{manager: manager, logger: logger}
}

// Watch blocks until the context is canceled, reloading on every change to
// the config file. Reload failures keep the previous configuration.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.manager.GetPath())
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.logger.Info("Watching configuration", "path", w.manager.GetPath())

	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != filepath.Clean(w.manager.GetPath()) {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			pending = time.After(watchDebounce)

		case <-pending:
			pending = nil

			if _, err := w.manager.Load(); err != nil {
				w.logger.Error("Config reload failed, keeping previous", "error", err)
				continue
			}

			w.logger.Info("Configuration reloaded")

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}

			w.logger.Error("Config watcher error", "error", err)
		}
	}
}
