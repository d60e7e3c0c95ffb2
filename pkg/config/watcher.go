package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher monitors configuration paths for changes and triggers a debounced
// reload callback. The orchestrator uses it to hot-reload profile documents
// without a restart.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
	delay   time.Duration
}

// NewWatcher creates a watcher for the given paths. Directories are watched
// recursively; files are watched directly.
func NewWatcher(logger zerolog.Logger, paths ...string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		watcher: fsWatcher,
		logger:  logger.With().Str("component", "config-watcher").Logger(),
		delay:   500 * time.Millisecond,
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("failed to stat path for watching")
			continue
		}

		if info.IsDir() {
			if err := w.watchDirectory(path); err != nil {
				w.logger.Warn().Err(err).Str("path", path).Msg("failed to watch directory")
			}
		} else {
			if err := fsWatcher.Add(path); err != nil {
				w.logger.Warn().Err(err).Str("path", path).Msg("failed to watch file")
			}
		}
	}

	return w, nil
}

// watchDirectory adds all directories under a root to the watcher.
func (w *Watcher) watchDirectory(dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return w.watcher.Add(path)
		}

		return nil
	})
}

// Run processes file system events until the context is cancelled, calling
// reloadFn with the changed path after the debounce window closes. Only
// supported config file extensions trigger a reload.
func (w *Watcher) Run(ctx context.Context, reloadFn func(changed string)) {
	var reloadTimer *time.Timer
	var lastChanged string

	for {
		select {
		case <-ctx.Done():
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isConfigFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debug().
				Str("path", event.Name).
				Str("op", event.Op.String()).
				Msg("config change detected")

			lastChanged = event.Name
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			changed := lastChanged
			reloadTimer = time.AfterFunc(w.delay, func() {
				reloadFn(changed)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
