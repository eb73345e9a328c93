package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces rapid write events from editors that save through
// rename or truncate.
const watchDebounce = 250 * time.Millisecond

// Watch reloads the config whenever its file changes on disk and invokes
// onReload after each successful reload. It blocks until ctx is cancelled.
func (c *Config) Watch(ctx context.Context, onReload func(Snapshot)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: rename-based saves replace the
	// inode and would silently drop a file-level watch.
	if err := watcher.Add(filepath.Dir(c.filePath)); err != nil {
		return err
	}

	var timer *time.Timer
	pending := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(c.filePath) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case <-pending:
			if err := c.Reload(); err != nil {
				slog.Error("Config reload failed", "path", c.filePath, "error", err)
				continue
			}
			slog.Info("Config reloaded", "path", c.filePath)
			if onReload != nil {
				onReload(c.Snapshot())
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("Config watcher error", "error", err)
		}
	}
}
