package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ssnmr-sequencer/pkg/log"
)

// Event reports a reload of the watched settings file. When Err is set the
// file could not be loaded and New equals Old.
type Event struct {
	Old     Settings
	New     Settings
	Changes []Change
	Err     error
}

// Watcher reloads a settings file when it changes on disk and publishes
// the result as Events. Reloads that change nothing are not published.
type Watcher struct {
	mu       sync.RWMutex
	path     string
	current  Settings
	debounce time.Duration
	events   chan Event
	logger   *log.Logger
	fsw      *fsnotify.Watcher
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long to wait after the last write before reloading.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the logger used for reload diagnostics.
func WithLogger(l *log.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher watches path, starting from current. The directory is watched
// rather than the file so that editors replacing the file are followed.
func NewWatcher(path string, current Settings, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("settings watcher: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("settings watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("settings watcher: %w", err)
	}

	w := &Watcher{
		path:     abs,
		current:  current,
		debounce: 100 * time.Millisecond,
		events:   make(chan Event, 4),
		logger:   log.GetLogger("settings"),
		fsw:      fsw,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Events returns the channel of reload events. It is closed when Run returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Current returns the most recently loaded settings.
func (w *Watcher) Current() Settings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)
	defer w.fsw.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("watch error")

		case <-fire:
			fire = nil
			if ev, ok := w.reload(); ok {
				select {
				case w.events <- ev:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func (w *Watcher) reload() (Event, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	old := w.current
	next, err := Load(w.path)
	if err != nil {
		w.logger.WithError(err).Warn("reload of %s rejected", w.path)
		return Event{Old: old, New: old, Err: err}, true
	}

	changes := next.Diff(old)
	if len(changes) == 0 {
		return Event{}, false
	}
	w.current = next
	w.logger.WithField("changes", len(changes)).Info("settings reloaded")
	return Event{Old: old, New: next, Changes: changes}, true
}
