package tasks

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T, dirs []string, debounce time.Duration) *Watcher {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	w, err := NewWatcher(dirs, debounce, log)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w
}

func waitForEvent(t *testing.T, w *Watcher, timeout time.Duration) (ArrivalEvent, bool) {
	t.Helper()
	select {
	case ev := <-w.Events:
		return ev, true
	case <-time.After(timeout):
		return ArrivalEvent{}, false
	}
}

func TestWatcherEmitsOnceAfterFileSettles(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, []string{dir}, 50*time.Millisecond)

	path := filepath.Join(dir, "incoming.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Several writes inside the debounce window collapse into one event.
	for i := 0; i < 3; i++ {
		if _, err := f.Write([]byte("chunk")); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	f.Close()

	ev, ok := waitForEvent(t, w, 2*time.Second)
	if !ok {
		t.Fatalf("no arrival event")
	}
	if ev.Path != path {
		t.Fatalf("event path %s, want %s", ev.Path, path)
	}
	if _, again := waitForEvent(t, w, 200*time.Millisecond); again {
		t.Fatalf("got a second event for a single settled file")
	}
}

func TestWatcherIgnoresNonImageFiles(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, []string{dir}, 50*time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := waitForEvent(t, w, 300*time.Millisecond); ok {
		t.Fatalf("non-image file produced an event")
	}
}

func TestWatcherStopClosesEvents(t *testing.T) {
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	w, err := NewWatcher([]string{dir}, 50*time.Millisecond, log)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, open := <-w.Events; open {
		t.Fatalf("events channel still open after Stop")
	}
}

func TestWatcherMissingDirectory(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	w, err := NewWatcher([]string{filepath.Join(t.TempDir(), "absent")}, 0, log)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()
	if err := w.Start(); err == nil {
		t.Fatalf("watching a missing directory must error")
	}
}
