package alerting

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the rule file whenever it changes until ctx is done.
// The parent directory is watched so editors that replace the file on save
// are picked up. A rule file that fails to parse leaves the current rules
// in place.
func (e *Engine) Watch(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve rule file path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create rule file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	e.logger.Info("watching alert rules", zap.String("path", abs))

	ticker := time.NewTicker(reloadDebounce / 2)
	defer ticker.Stop()

	var pendingSince time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pendingSince = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("alert rule watcher error", zap.Error(err))

		case <-ticker.C:
			if pendingSince.IsZero() || time.Since(pendingSince) < reloadDebounce {
				continue
			}
			pendingSince = time.Time{}
			if err := e.Reload(abs); err != nil {
				e.logger.Error("failed to reload alert rules, keeping previous rules",
					zap.String("path", abs), zap.Error(err))
				continue
			}
			e.logger.Info("alert rules reloaded", zap.String("path", abs))
		}
	}
}
