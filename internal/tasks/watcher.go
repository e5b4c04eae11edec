package tasks

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"upres/internal/fsutil"
)

// ArrivalEvent reports a degraded image that has finished landing in a
// watched directory and is ready for evaluation.
type ArrivalEvent struct {
	Path string
	Time time.Time
}

// Watcher monitors degraded-image directories and emits an ArrivalEvent once
// a new file has settled (no further writes within the debounce interval).
// Image files only; everything else is ignored.
type Watcher struct {
	watcher  *fsnotify.Watcher
	Events   chan ArrivalEvent
	dirs     []string
	debounce time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
	done    chan struct{}
}

// DebounceFromSeconds converts a config debounce value; non-positive values
// fall back to NewWatcher's default.
func DebounceFromSeconds(s int) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}

// NewWatcher prepares a watcher over the given directories. A zero debounce
// defaults to one second.
func NewWatcher(dirs []string, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = time.Second
	}
	return &Watcher{
		watcher:  fsw,
		Events:   make(chan ArrivalEvent, 100),
		dirs:     dirs,
		debounce: debounce,
		log:      log,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}, nil
}

// Start begins monitoring the configured directories.
func (w *Watcher) Start() error {
	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		w.log.Info("watching directory", "dir", dir)
	}
	go w.loop()
	return nil
}

// Stop halts monitoring and closes the event channel.
func (w *Watcher) Stop() error {
	close(w.done)
	w.mu.Lock()
	w.closed = true
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	err := w.watcher.Close()
	close(w.Events)
	return err
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !fsutil.IsImageFile(event.Name) {
				continue
			}
			w.arm(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// arm starts (or restarts) the settle timer for path. Each write resets the
// timer, so the event fires only after the file has been quiet for the
// debounce interval.
func (w *Watcher) arm(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.pending, path)
		if w.closed {
			return
		}
		select {
		case w.Events <- ArrivalEvent{Path: path, Time: time.Now()}:
		default:
			w.log.Warn("event buffer full, dropping arrival", "path", path)
		}
	})
}
