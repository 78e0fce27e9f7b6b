// Package watcher provides drop-directory auto-ingestion with fsnotify.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/extract"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches a drop directory whose first-level subdirectories name
// characters: a supported file written to <root>/<character>/ triggers the
// onImport callback after a debounce window.
type Watcher struct {
	root     string
	onImport func(character, path string)
	debounce time.Duration
	logger   *zap.Logger

	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the event debounce window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over root. onImport is called once per settled
// file with the character (the first-level subdirectory) and the file path.
func NewWatcher(root string, onImport func(character, path string), opts ...Option) *Watcher {
	w := &Watcher{
		root:        root,
		onImport:    onImport,
		debounce:    defaultDebounce,
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true

	if err := watcher.Add(w.root); err != nil {
		_ = watcher.Close()
		w.watcher = nil
		w.started = false
		w.mu.Unlock()
		return err
	}
	// Watch existing character directories.
	entries, err := os.ReadDir(w.root)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				_ = watcher.Add(filepath.Join(w.root, entry.Name()))
			}
		}
	}
	w.mu.Unlock()

	if w.logger != nil {
		w.logger.Info("watching drop directory", zap.String("root", w.root))
	}
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		// A new character directory appeared; watch it.
		if filepath.Dir(ev.Name) == w.root {
			_ = w.watcher.Add(ev.Name)
		}
		return
	}

	character, ok := w.characterFor(ev.Name)
	if !ok {
		return
	}
	if !extract.IsSupported(strings.ToLower(filepath.Ext(ev.Name))) {
		return
	}
	w.scheduleImport(character, ev.Name)
}

// characterFor maps a file path to its character directory. Files directly in
// the root or nested deeper than one level are ignored.
func (w *Watcher) characterFor(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		return "", false
	}
	return parts[0], true
}

// scheduleImport debounces rapid write events so a file is imported once,
// after it settles.
func (w *Watcher) scheduleImport(character, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.debounceMap[path]; ok {
		timer.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.mu.Unlock()
		if w.logger != nil {
			w.logger.Debug("importing dropped file",
				zap.String("character", character),
				zap.String("path", path),
			)
		}
		w.onImport(character, path)
	})
}

// Stop stops the watcher and releases its resources.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		defer w.mu.Unlock()
		for _, timer := range w.debounceMap {
			timer.Stop()
		}
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
	})
}
