// Package application contains the application services.
package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ternmaps/tern/internal/domain"
	"github.com/ternmaps/tern/internal/ports/input"
	"github.com/ternmaps/tern/internal/ports/output"
)

// tasksKey is the state store key holding the active task subset.
const tasksKey = "tasks:active"

// Downloader runs one bulk download to completion.
type Downloader interface {
	Download(ctx context.Context, layerID string, onProgress ProgressFunc) bool
}

// Registry implements the DownloadService port. It owns the task table:
// one task per layer id, at most one of them active, every mutation
// pushed to subscribers and the active subset persisted so an interrupted
// process is visible as such after restart.
type Registry struct {
	engine  Downloader
	state   output.StateStore
	conn    output.Connectivity
	metrics output.MetricsCollector
	logger  *slog.Logger
	lang    string

	rootCtx context.Context
	cancel  context.CancelFunc

	mu           sync.Mutex
	tasks        map[string]*domain.DownloadTask
	listeners    map[int]input.TaskListener
	nextListener int

	unsubConn func()
}

// NewRegistry creates the task registry and restores persisted tasks.
// Tasks that were active when the previous process died are reclassified
// as errors with a localized retry hint; their tile checkpoints survive
// untouched, so retrying resumes instead of restarting.
func NewRegistry(
	engine Downloader,
	state output.StateStore,
	conn output.Connectivity,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	lang string,
) *Registry {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Registry{
		engine:    engine,
		state:     state,
		conn:      conn,
		metrics:   metrics,
		logger:    logger,
		lang:      lang,
		rootCtx:   ctx,
		cancel:    cancel,
		tasks:     make(map[string]*domain.DownloadTask),
		listeners: make(map[int]input.TaskListener),
	}

	r.restore()

	// Connectivity flips re-notify subscribers so clients can re-render
	// their retry affordances; task state itself does not change.
	r.unsubConn = conn.Subscribe(func(online bool) {
		r.logger.Debug("connectivity changed", "online", online)
		r.notify()
	})

	return r
}

// Start begins a bulk download for a layer id. Starting an id that is
// already pending or downloading is a no-op reporting true. Offline
// starts fail fast with a localized message on the task.
func (r *Registry) Start(_ context.Context, id string, kind domain.LayerKind) bool {
	r.mu.Lock()

	if t, ok := r.tasks[id]; ok && t.Active() {
		r.mu.Unlock()
		r.logger.Debug("download already active", "id", id)
		return true
	}

	if !r.conn.Online() {
		r.tasks[id] = &domain.DownloadTask{
			ID:     id,
			Kind:   kind,
			Status: domain.StatusError,
			Error:  domain.Localize(r.lang, domain.MsgNoConnection),
		}
		r.persistLocked()
		r.mu.Unlock()
		r.notify()
		return false
	}

	now := time.Now()
	r.tasks[id] = &domain.DownloadTask{
		ID:        id,
		Kind:      kind,
		Status:    domain.StatusPending,
		StartedAt: &now,
	}
	r.persistLocked()
	r.updateActiveMetricLocked()
	r.mu.Unlock()
	r.notify()

	go r.runDownload(id)
	return true
}

// Subscribe registers a listener and immediately replays current state.
func (r *Registry) Subscribe(fn input.TaskListener) func() {
	r.mu.Lock()
	id := r.nextListener
	r.nextListener++
	r.listeners[id] = fn
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	fn(snapshot)

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Progress returns the current percentage for a task id.
func (r *Registry) Progress(id string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return 0, false
	}
	return t.Progress, true
}

// IsActive reports whether a task id is pending or downloading.
func (r *Registry) IsActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	return ok && t.Active()
}

// Clear removes a task from the registry.
func (r *Registry) Clear(id string) {
	r.mu.Lock()
	delete(r.tasks, id)
	r.persistLocked()
	r.updateActiveMetricLocked()
	r.mu.Unlock()
	r.notify()
}

// Tasks returns a snapshot of every task, ordered by id.
func (r *Registry) Tasks() []domain.DownloadTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Stop cancels running downloads and detaches from connectivity.
func (r *Registry) Stop() {
	r.cancel()
	if r.unsubConn != nil {
		r.unsubConn()
	}
}

// runDownload drives the engine for one task in its own goroutine. The
// engine's progress callback mutates the task and fans out to listeners.
func (r *Registry) runDownload(id string) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	t.Status = domain.StatusDownloading
	r.persistLocked()
	r.mu.Unlock()
	r.notify()

	onProgress := func(percent float64, stats domain.DownloadStats) {
		r.mu.Lock()
		t, ok := r.tasks[id]
		if !ok {
			r.mu.Unlock()
			return
		}
		// Progress never goes backwards while downloading.
		if percent > t.Progress {
			t.Progress = percent
		}
		statsCopy := stats
		t.Stats = &statsCopy
		r.mu.Unlock()
		r.notify()
	}

	success := r.engine.Download(r.rootCtx, id, onProgress)

	now := time.Now()
	r.mu.Lock()
	if t, ok := r.tasks[id]; ok {
		t.CompletedAt = &now
		if success {
			t.Status = domain.StatusComplete
			t.Progress = 100
			t.Error = ""
		} else {
			t.Status = domain.StatusError
			t.Error = domain.Localize(r.lang, domain.MsgInterrupted)
		}
		r.persistLocked()
	}
	r.updateActiveMetricLocked()
	r.mu.Unlock()
	r.notify()
}

// restore loads the persisted active subset. Anything that was still
// active belongs to a dead process and is reported as interrupted.
func (r *Registry) restore() {
	raw, found, err := r.state.Get(r.rootCtx, tasksKey)
	if err != nil {
		r.logger.Warn("task restore failed", "error", err)
		return
	}
	if !found {
		return
	}

	var tasks []domain.DownloadTask
	if err := json.Unmarshal(raw, &tasks); err != nil {
		r.logger.Warn("persisted tasks are corrupt, discarding", "error", err)
		return
	}

	for i := range tasks {
		t := tasks[i]
		if t.Active() {
			t.Status = domain.StatusError
			t.Error = domain.Localize(r.lang, domain.MsgInterrupted)
		}
		r.tasks[t.ID] = &t
	}

	if len(tasks) > 0 {
		r.logger.Info("restored interrupted tasks", "count", len(tasks))
		r.mu.Lock()
		r.persistLocked()
		r.mu.Unlock()
	}
}

// snapshotLocked clones the task table for hand-out. Callers hold mu.
func (r *Registry) snapshotLocked() []domain.DownloadTask {
	out := make([]domain.DownloadTask, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// persistLocked writes the active subset to the state store. Callers
// hold mu. Persistence failures only log; the in-memory table stays
// authoritative.
func (r *Registry) persistLocked() {
	active := make([]domain.DownloadTask, 0, len(r.tasks))
	for _, t := range r.tasks {
		if t.Active() {
			active = append(active, t.Clone())
		}
	}

	raw, err := json.Marshal(active)
	if err != nil {
		r.logger.Warn("task marshal failed", "error", err)
		return
	}
	if err := r.state.Put(r.rootCtx, tasksKey, raw); err != nil {
		r.logger.Warn("task persist failed", "error", err)
	}
}

// notify fans the current snapshot out to a copy of the listener set, so
// listeners may subscribe or unsubscribe from inside their callback.
func (r *Registry) notify() {
	r.mu.Lock()
	snapshot := r.snapshotLocked()
	fns := make([]input.TaskListener, 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

func (r *Registry) updateActiveMetricLocked() {
	active := 0
	for _, t := range r.tasks {
		if t.Active() {
			active++
		}
	}
	r.metrics.SetActiveDownloads(active)
}
