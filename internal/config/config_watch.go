package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchPolicy reloads the policy subset of the config (allowlist, excluded
// authors, hint settings, dry-run) whenever the file changes. Structural
// settings like channels and ledger backend need a restart and are left
// alone. Blocks until ctx is done.
func (c *Config) WatchPolicy(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace the file, which drops a watch
	// on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			fresh, err := Load(path)
			if err != nil {
				slog.Warn("config reload failed, keeping current policy", "path", path, "error", err)
				continue
			}
			c.applyPolicy(fresh)
			slog.Info("policy reloaded", "path", path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
