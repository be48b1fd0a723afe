// Package watcher watches the local packages directory so new or removed
// package files take effect without a restart.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event is one debounced package file change.
type Event struct {
	Path      string
	Operation Operation
}

// Operation classifies a package file change.
type Operation int

// Package file operations.
const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Handler is called once per settled file event.
type Handler func(ctx context.Context, event Event) error

type pendingEvent struct {
	timestamp time.Time
	op        Operation
}

// Watcher debounces fsnotify events on the packages directory. Package
// files are copied in whole, so a burst of writes collapses into one
// event after the debounce window.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	logger    *slog.Logger
	path      string
	debounce  time.Duration

	mu      sync.Mutex
	pending map[string]*pendingEvent
}

// New creates a watcher for the packages directory.
func New(path string, debounce time.Duration, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce == 0 {
		debounce = 500 * time.Millisecond
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		logger:    logger,
		path:      path,
		debounce:  debounce,
		pending:   make(map[string]*pendingEvent),
	}, nil
}

// Start begins watching. It fails when the directory cannot be watched.
func (w *Watcher) Start(ctx context.Context) error {
	absPath, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}
	if err := w.fsWatcher.Add(absPath); err != nil {
		return err
	}
	w.logger.Info("watching packages directory", "path", absPath)

	go w.eventLoop(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.fsWatcher.Close()
}

func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.record(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// record queues a raw event for debouncing. Non-package files, including
// in-flight .partial downloads, are ignored.
func (w *Watcher) record(event fsnotify.Event) {
	if !isPackageFile(event.Name) {
		return
	}
	w.logger.Debug("package file event", "path", event.Name, "op", event.Op.String())

	op := classify(event.Op)

	w.mu.Lock()
	defer w.mu.Unlock()

	existing, exists := w.pending[event.Name]
	if !exists {
		w.pending[event.Name] = &pendingEvent{timestamp: time.Now(), op: op}
		return
	}

	existing.timestamp = time.Now()
	switch {
	case existing.op == OpDelete && op == OpCreate:
		existing.op = OpCreate
	case op == OpDelete:
		existing.op = OpDelete
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// flush hands settled events to the handler.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	for path, pending := range w.pending {
		if now.Sub(pending.timestamp) < w.debounce {
			continue
		}
		delete(w.pending, path)

		event := Event{Path: path, Operation: pending.op}
		w.logger.Info("package change settled", "path", path, "operation", pending.op.String())

		go func(e Event) {
			if err := w.handler(ctx, e); err != nil {
				w.logger.Error("package change handler failed",
					"path", e.Path, "operation", e.Operation.String(), "error", err)
			}
		}(event)
	}
}

func classify(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpModify
	}
}

func isPackageFile(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".mbtiles")
}
