package metadata

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadFunc receives a freshly built registry, or the error that prevented
// building one. The previous registry stays valid either way.
type ReloadFunc func(*Registry, error)

// Watcher rebuilds the registry when the catalog file changes. Each rebuild
// produces a new immutable Registry; nothing is mutated in place.
type Watcher struct {
	logger  zerolog.Logger
	delay   time.Duration
	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewWatcher creates a catalog watcher.
func NewWatcher(logger zerolog.Logger) *Watcher {
	return &Watcher{
		logger: logger.With().Str("component", "registry-watcher").Logger(),
		delay:  500 * time.Millisecond,
	}
}

// SetDebounce overrides the delay between the last change and the reload.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.delay = d
}

// Watch starts watching the catalog file. The directory is watched rather
// than the file so that editors replacing the file are picked up.
func (w *Watcher) Watch(ctx context.Context, path string, fn ReloadFunc) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	w.mu.Lock()
	w.watcher = fsw
	w.mu.Unlock()

	go w.processEvents(ctx, fsw, abs, fn)

	w.logger.Info().Str("path", abs).Msg("Watching registry catalog")
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, fsw *fsnotify.Watcher, path string, fn ReloadFunc) {
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			_ = fsw.Close()
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Registry catalog changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(w.delay, func() {
				reg, err := LoadFile(path)
				if err != nil {
					w.logger.Error().Err(err).Msg("Failed to reload registry")
				} else {
					w.logger.Info().
						Int("entities", len(reg.entities)).
						Int("actions", len(reg.actions)).
						Msg("Registry reloaded")
				}
				fn(reg, err)
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
