package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	atom "github.com/pumped-fn/pumped-atom"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher reloads a config file whenever it changes and publishes the
// result into a register. Invalid or missing files are logged and
// skipped, so the register always holds the last valid configuration.
type Watcher struct {
	path     string
	current  *atom.Register[Config]
	debounce time.Duration
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for path publishing into current.
// A nil logger falls back to slog.Default().
func NewWatcher(path string, current *atom.Register[Config], logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		current:  current,
		debounce: defaultDebounce,
		logger:   logger,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// WithDebounce sets how long the file must be quiet before reloading
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	if d > 0 {
		w.debounce = d
	}
	return w
}

// Start begins watching. It returns once the watch is registered; events
// are processed in the background until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	// Editors often replace files by rename, so watch the directory
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	w.watcher = watcher

	go w.loop(ctx)
	return nil
}

// Stop ends watching and waits for the background loop to exit
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	if w.watcher != nil {
		<-w.stopped
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.stopped)
	defer w.watcher.Close()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WarnContext(ctx, "config watcher error", "path", w.path, "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	// A file moved or deleted mid-edit is not a reset to defaults
	cfg, err := load(w.path, true)
	if errors.Is(err, os.ErrNotExist) {
		w.logger.DebugContext(ctx, "config file missing, keeping previous", "path", w.path)
		return
	}
	if err != nil {
		w.logger.WarnContext(ctx, "config reload failed, keeping previous", "path", w.path, "error", err)
		return
	}

	if w.current.Load() == cfg {
		return
	}
	if _, err := w.current.UpdateContext(ctx, func(Config) Config { return cfg }); err != nil {
		w.logger.WarnContext(ctx, "config publish failed", "path", w.path, "error", err)
		return
	}
	w.logger.InfoContext(ctx, "config reloaded", "path", w.path, "version", w.current.Version())
}
