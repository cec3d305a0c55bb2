package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherDebouncesBurstWrites(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(dir)
	w.SetDebounceTimeout(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "report.docx")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("v"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	select {
	case ev, ok := <-w.Events():
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		if ev.Path() != path {
			t.Fatalf("want event for %s, got %s", path, ev.Path())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced write event")
	}
}

func TestIgnoreOnceSuppressesNextEvent(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(dir)
	w.SetDebounceTimeout(10 * time.Millisecond)

	path := filepath.Join(dir, "report.docx")
	w.IgnoreOnce(path)

	if !w.isPathTemporarilyIgnored(path) {
		t.Fatal("want path to be temporarily ignored right after IgnoreOnce")
	}
	if w.isPathTemporarilyIgnored(path) {
		t.Fatal("ignore entry must be consumed after first check")
	}
}
