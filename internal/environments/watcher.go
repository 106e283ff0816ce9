package environments

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the registry whenever the environments document changes on
// disk, so edits made by another process (or a text editor) become visible
// without a restart. It blocks until the context is cancelled. The parent
// directory is watched rather than the file itself because atomic saves
// replace the file by rename.
func (r *Registry) Watch(ctx context.Context, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("watching config directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if err := r.Reload(); err != nil {
				logger.Warn("reloading environments document failed", slog.String("error", err.Error()))
				continue
			}

			logger.Debug("environments document reloaded", slog.String("path", r.path))

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			logger.Warn("fsnotify error", slog.String("error", err.Error()))
		}
	}
}
