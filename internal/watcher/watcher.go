// Package watcher watches the plugin install directory and reports
// changed plugin packages so the runtime can reload them.
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce coalesces the burst of events a package update produces
// (editors and installers touch several files) into one reload.
const DefaultDebounce = 500 * time.Millisecond

// ReloadFunc receives the package directory that changed.
type ReloadFunc func(pkgDir string)

// PackageWatcher watches one plugin install directory. Each immediate
// subdirectory is a plugin package; any change inside a package schedules
// a debounced reload for that package.
type PackageWatcher struct {
	dir      string
	fsw      *fsnotify.Watcher
	log      *logrus.Logger
	debounce time.Duration
	reload   ReloadFunc

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// New creates and starts a watcher over dir. Existing package
// subdirectories are watched immediately; packages created later are
// picked up from their create events.
func New(dir string, debounce time.Duration, reload ReloadFunc, log *logrus.Logger) (*PackageWatcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &PackageWatcher{
		dir:      dir,
		fsw:      fsw,
		log:      log,
		debounce: debounce,
		reload:   reload,
		pending:  make(map[string]*time.Timer),
		closeCh:  make(chan struct{}),
	}

	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := fsw.Add(filepath.Join(dir, e.Name())); err != nil {
				w.log.WithField("dir", e.Name()).WithError(err).Warn("cannot watch plugin package")
			}
		}
	}

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Close stops the watcher and cancels pending reloads.
func (w *PackageWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for pkg, timer := range w.pending {
		timer.Stop()
		delete(w.pending, pkg)
	}
	close(w.closeCh)
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *PackageWatcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("plugin watcher error")
		}
	}
}

func (w *PackageWatcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	pkg, ok := w.packageDir(event.Name)
	if !ok {
		return
	}

	// A new package directory needs its own watch for events inside it.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(event.Name); err != nil {
				w.log.WithField("dir", event.Name).WithError(err).Warn("cannot watch plugin package")
			}
		}
	}

	w.schedule(pkg)
}

// packageDir maps an event path to the plugin package directory it
// belongs to: the first path element under the install dir. Events on the
// install dir itself are ignored.
func (w *PackageWatcher) packageDir(path string) (string, bool) {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	first := rel
	if i := strings.IndexByte(rel, filepath.Separator); i >= 0 {
		first = rel[:i]
	}
	if strings.HasPrefix(first, ".") {
		return "", false
	}
	return filepath.Join(w.dir, first), true
}

// schedule (re)arms the package's debounce timer.
func (w *PackageWatcher) schedule(pkg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	if timer, exists := w.pending[pkg]; exists {
		timer.Reset(w.debounce)
		return
	}
	w.pending[pkg] = time.AfterFunc(w.debounce, func() {
		w.fire(pkg)
	})
}

func (w *PackageWatcher) fire(pkg string) {
	w.mu.Lock()
	if _, exists := w.pending[pkg]; !exists {
		w.mu.Unlock()
		return
	}
	delete(w.pending, pkg)
	closed := w.closed
	w.mu.Unlock()

	if closed {
		return
	}
	w.reload(pkg)
}

// Flush fires all pending reloads immediately.
func (w *PackageWatcher) Flush() {
	w.mu.Lock()
	pkgs := make([]string, 0, len(w.pending))
	for pkg, timer := range w.pending {
		timer.Stop()
		pkgs = append(pkgs, pkg)
	}
	w.mu.Unlock()

	for _, pkg := range pkgs {
		w.fire(pkg)
	}
}
