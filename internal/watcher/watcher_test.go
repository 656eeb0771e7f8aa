package watcher

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// reloadRecorder collects reload callbacks.
type reloadRecorder struct {
	mu   sync.Mutex
	pkgs []string
	ch   chan string
}

func newReloadRecorder() *reloadRecorder {
	return &reloadRecorder{ch: make(chan string, 16)}
}

func (r *reloadRecorder) reload(pkg string) {
	r.mu.Lock()
	r.pkgs = append(r.pkgs, pkg)
	r.mu.Unlock()
	r.ch <- pkg
}

func (r *reloadRecorder) wait(t *testing.T) string {
	t.Helper()
	select {
	case pkg := <-r.ch:
		return pkg
	case <-time.After(5 * time.Second):
		t.Fatal("no reload fired")
		return ""
	}
}

func (r *reloadRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pkgs)
}

func newTestWatcher(t *testing.T, dir string, rec *reloadRecorder) *PackageWatcher {
	t.Helper()
	w, err := New(dir, 50*time.Millisecond, rec.reload, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestWatcherReloadsChangedPackage(t *testing.T) {
	dir := t.TempDir()
	pkg := filepath.Join(dir, "smart-notify")
	if err := os.Mkdir(pkg, 0o755); err != nil {
		t.Fatal(err)
	}

	rec := newReloadRecorder()
	newTestWatcher(t, dir, rec)

	if err := os.WriteFile(filepath.Join(pkg, "main.lua"), []byte("x = 1"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := rec.wait(t); got != pkg {
		t.Errorf("reloaded %q, want %q", got, pkg)
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	pkg := filepath.Join(dir, "bursty")
	if err := os.Mkdir(pkg, 0o755); err != nil {
		t.Fatal(err)
	}

	rec := newReloadRecorder()
	newTestWatcher(t, dir, rec)

	// A package update touches several files in quick succession.
	for _, name := range []string{"main.lua", "manifest.json", "util.lua"} {
		if err := os.WriteFile(filepath.Join(pkg, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	rec.wait(t)
	// Give a potential second fire time to happen.
	time.Sleep(150 * time.Millisecond)
	if got := rec.count(); got != 1 {
		t.Errorf("fired %d reloads, want 1", got)
	}
}

func TestWatcherPicksUpNewPackage(t *testing.T) {
	dir := t.TempDir()
	rec := newReloadRecorder()
	newTestWatcher(t, dir, rec)

	pkg := filepath.Join(dir, "newcomer")
	if err := os.Mkdir(pkg, 0o755); err != nil {
		t.Fatal(err)
	}
	if got := rec.wait(t); got != pkg {
		t.Errorf("reloaded %q, want %q", got, pkg)
	}

	// Files inside the new package must now be watched too.
	if err := os.WriteFile(filepath.Join(pkg, "main.lua"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := rec.wait(t); got != pkg {
		t.Errorf("reloaded %q, want %q", got, pkg)
	}
}

func TestWatcherIgnoresHiddenEntries(t *testing.T) {
	dir := t.TempDir()
	rec := newReloadRecorder()
	w := newTestWatcher(t, dir, rec)

	if err := os.WriteFile(filepath.Join(dir, ".tmp-download"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(150 * time.Millisecond)
	w.Flush()
	if got := rec.count(); got != 0 {
		t.Errorf("hidden entry fired %d reloads", got)
	}
}

func TestWatcherCloseStopsPending(t *testing.T) {
	dir := t.TempDir()
	pkg := filepath.Join(dir, "stopped")
	if err := os.Mkdir(pkg, 0o755); err != nil {
		t.Fatal(err)
	}

	rec := newReloadRecorder()
	w, err := New(dir, time.Hour, rec.reload, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(pkg, "main.lua"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if got := rec.count(); got != 0 {
		t.Errorf("close fired %d pending reloads", got)
	}
	// Close is idempotent.
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}
