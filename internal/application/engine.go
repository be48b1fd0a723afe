package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ternmaps/tern/internal/config"
	"github.com/ternmaps/tern/internal/domain"
	"github.com/ternmaps/tern/internal/ports/output"
)

// LayerCatalog resolves layer ids to their download definitions.
type LayerCatalog interface {
	Layer(id string) (*domain.Layer, bool)
}

// ProgressFunc receives throttled progress updates during a bulk download.
type ProgressFunc func(percent float64, stats domain.DownloadStats)

// Engine performs resumable bulk downloads of whole layers. A run works
// through the layer's full tile grid in fixed-size batches; completed
// tiles are checkpointed so an interrupted run picks up where it stopped.
type Engine struct {
	catalog LayerCatalog
	fetcher output.TileFetcher
	cache   output.TileCache
	state   output.StateStore
	conn    output.Connectivity
	metrics output.MetricsCollector
	logger  *slog.Logger

	baseURL string
	cfg     config.DownloadConfig
}

// NewEngine creates a bulk download engine.
func NewEngine(
	catalog LayerCatalog,
	fetcher output.TileFetcher,
	cache output.TileCache,
	state output.StateStore,
	conn output.Connectivity,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	baseURL string,
	cfg config.DownloadConfig,
) *Engine {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 12
	}
	if cfg.ConstrainedConcurrency == 0 {
		cfg.ConstrainedConcurrency = 4
	}
	if cfg.ProbeBatchSize == 0 {
		cfg.ProbeBatchSize = 50
	}
	if cfg.ProgressInterval == 0 {
		cfg.ProgressInterval = 500 * time.Millisecond
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 10 * time.Second
	}
	if cfg.RetryThreshold == 0 {
		cfg.RetryThreshold = 0.30
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 0.90
	}

	return &Engine{
		catalog: catalog,
		fetcher: fetcher,
		cache:   cache,
		state:   state,
		conn:    conn,
		metrics: metrics,
		logger:  logger,
		baseURL: baseURL,
		cfg:     cfg,
	}
}

// run holds the mutable state of one download. Workers of a batch update
// it under the mutex; the driving goroutine reads it between batches.
type run struct {
	mu         sync.Mutex
	checkpoint *domain.DownloadCheckpoint
	downloaded int
	failed     []domain.TileRequest
	retried    int
	skipped    int
}

// Download fetches every missing tile of a layer. It returns true when at
// least the configured success fraction of the layer's tiles is present
// in the cache afterwards. All failures are absorbed; the result is the
// only signal.
func (e *Engine) Download(ctx context.Context, layerID string, onProgress ProgressFunc) bool {
	layer, ok := e.catalog.Layer(layerID)
	if !ok {
		e.logger.Warn("bulk download for unknown layer", "layer", layerID)
		return false
	}

	start := time.Now()
	target := e.targetSet(layer)
	total := len(target)
	if total == 0 {
		e.logger.Warn("layer has an empty tile grid", "layer", layerID)
		return false
	}

	r := &run{checkpoint: e.loadOrProbe(ctx, layer, target)}
	r.skipped = len(r.checkpoint.CompletedKeys)
	e.metrics.AddTilesSkipped(layerID, r.skipped)

	remaining := make([]domain.TileRequest, 0, total-r.skipped)
	for _, req := range target {
		if !r.checkpoint.Completed(req.CacheKey) {
			remaining = append(remaining, req)
		}
	}

	e.logger.Info("bulk download starting",
		"layer", layerID, "total", total,
		"cached", r.skipped, "remaining", len(remaining))

	completed := e.runBatches(ctx, layerID, remaining, r, total, start, onProgress,
		e.cfg.EffectiveConcurrency(), 0)
	if !completed {
		e.abort(ctx, layerID, r, total, start, onProgress)
		return false
	}

	// Retry pass over exactly the failed tiles, only when the failure
	// ratio stayed small. Half concurrency, next relay preferred.
	r.mu.Lock()
	failed := r.failed
	r.failed = nil
	r.mu.Unlock()

	if len(failed) > 0 && float64(len(failed))/float64(total) < e.cfg.RetryThreshold {
		e.logger.Info("retrying failed tiles", "layer", layerID, "count", len(failed))
		retryConc := e.cfg.EffectiveConcurrency() / 2
		if retryConc < 1 {
			retryConc = 1
		}
		r.mu.Lock()
		r.retried = len(failed)
		r.mu.Unlock()
		e.metrics.AddTilesRetried(layerID, len(failed))

		if !e.runBatches(ctx, layerID, failed, r, total, start, onProgress, retryConc, 1) {
			e.abort(ctx, layerID, r, total, start, onProgress)
			return false
		}
	}

	return e.finish(ctx, layerID, r, total, start, onProgress)
}

// targetSet builds the full tile request list for a layer: the union of
// its region's tile grids over every configured zoom level.
func (e *Engine) targetSet(layer *domain.Layer) []domain.TileRequest {
	var target []domain.TileRequest
	for _, zoom := range layer.ZoomLevels {
		for _, coord := range domain.TileGrid(layer.Region, zoom) {
			target = append(target, domain.NewTileRequest(layer, e.baseURL, coord))
		}
	}
	return target
}

// loadOrProbe restores the persisted checkpoint when it is fresh enough,
// otherwise rebuilds one by probing the cache in small batches.
func (e *Engine) loadOrProbe(ctx context.Context, layer *domain.Layer, target []domain.TileRequest) *domain.DownloadCheckpoint {
	if cp := e.loadCheckpoint(ctx, layer.ID); cp.Fresh(time.Now()) {
		e.logger.Debug("resuming from checkpoint",
			"layer", layer.ID, "completed", len(cp.CompletedKeys))
		cp.TotalTiles = len(target)
		return cp
	}

	cp := domain.NewCheckpoint(layer.ID, len(target), layer.ZoomLevels)
	for i := 0; i < len(target); i += e.cfg.ProbeBatchSize {
		if ctx.Err() != nil {
			return cp
		}
		end := i + e.cfg.ProbeBatchSize
		if end > len(target) {
			end = len(target)
		}
		for _, req := range target[i:end] {
			ok, err := e.cache.Has(ctx, req.CacheKey)
			if err != nil {
				e.logger.Warn("cache probe failed", "key", req.CacheKey, "error", err)
				continue
			}
			if ok {
				cp.MarkCompleted(req.CacheKey)
			}
		}
	}
	return cp
}

// runBatches processes requests in fixed-size batches; a batch's workers
// all settle before the next batch starts. Returns false when the run was
// cut short by connectivity loss or cancellation.
func (e *Engine) runBatches(
	ctx context.Context,
	layerID string,
	requests []domain.TileRequest,
	r *run,
	total int,
	start time.Time,
	onProgress ProgressFunc,
	concurrency int,
	preferredRelay int,
) bool {
	lastProgress := time.Time{}
	lastCheckpoint := time.Now()

	for i := 0; i < len(requests); i += concurrency {
		if ctx.Err() != nil {
			return false
		}
		if !e.conn.Online() {
			e.logger.Warn("connection lost during bulk download", "layer", layerID)
			return false
		}

		end := i + concurrency
		if end > len(requests) {
			end = len(requests)
		}

		var wg sync.WaitGroup
		for _, req := range requests[i:end] {
			wg.Add(1)
			go func(req domain.TileRequest) {
				defer wg.Done()
				if e.fetcher.Fetch(ctx, req, preferredRelay) {
					r.mu.Lock()
					r.downloaded++
					r.checkpoint.MarkCompleted(req.CacheKey)
					r.mu.Unlock()
					e.metrics.IncTilesDownloaded(layerID)
				} else {
					r.mu.Lock()
					r.failed = append(r.failed, req)
					r.mu.Unlock()
				}
			}(req)
		}
		wg.Wait()

		now := time.Now()
		if onProgress != nil && now.Sub(lastProgress) >= e.cfg.ProgressInterval {
			lastProgress = now
			percent, stats := e.snapshot(r, total, start)
			onProgress(percent, stats)
		}
		if now.Sub(lastCheckpoint) >= e.cfg.CheckpointInterval {
			lastCheckpoint = now
			e.saveCheckpoint(ctx, layerID, r)
		}
	}
	return true
}

// snapshot computes the progress percentage and stats under the run lock.
// The percentage stays below 100 until finish issues the final callback.
func (e *Engine) snapshot(r *run, total int, start time.Time) (float64, domain.DownloadStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	done := r.skipped + r.downloaded
	percent := float64(done) / float64(total) * 100
	if percent > 99 {
		percent = 99
	}

	elapsed := time.Since(start).Seconds()
	var eta float64
	if r.downloaded > 0 && done < total {
		eta = elapsed / float64(r.downloaded) * float64(total-done)
	}

	return percent, domain.DownloadStats{
		TotalTiles:                total,
		DownloadedTiles:           r.downloaded,
		FailedTiles:               len(r.failed),
		RetriedTiles:              r.retried,
		SkippedTiles:              r.skipped,
		ElapsedSeconds:            elapsed,
		EstimatedSecondsRemaining: eta,
	}
}

// finish evaluates the success threshold, records the layer summary and
// issues the final 100% callback.
func (e *Engine) finish(ctx context.Context, layerID string, r *run, total int, start time.Time, onProgress ProgressFunc) bool {
	r.mu.Lock()
	present := r.skipped + r.downloaded
	failed := len(r.failed)
	r.mu.Unlock()

	success := float64(present)/float64(total) >= e.cfg.SuccessThreshold

	if success {
		if err := e.state.Delete(ctx, checkpointKey(layerID)); err != nil {
			e.logger.Warn("checkpoint delete failed", "layer", layerID, "error", err)
		}
	} else {
		e.saveCheckpoint(ctx, layerID, r)
		e.metrics.AddTilesFailed(layerID, failed)
	}

	status := "complete"
	if !success {
		status = "error"
	}
	e.setLayerMeta(ctx, layerID, total, present, status)

	_, stats := e.snapshot(r, total, start)
	if onProgress != nil {
		onProgress(100, stats)
	}

	e.metrics.ObserveDownloadDuration(layerID, success, time.Since(start))
	e.logger.Info("bulk download finished",
		"layer", layerID, "present", present, "total", total,
		"failed", failed, "success", success,
		"elapsed", time.Since(start).Round(time.Millisecond))

	return success
}

// abort checkpoints the partial run so a later attempt can resume. Like
// finish, it issues the terminal 100% callback so subscribers never stay
// frozen mid-run.
func (e *Engine) abort(ctx context.Context, layerID string, r *run, total int, start time.Time, onProgress ProgressFunc) {
	e.saveCheckpoint(ctx, layerID, r)

	r.mu.Lock()
	present := r.skipped + r.downloaded
	r.mu.Unlock()
	e.setLayerMeta(ctx, layerID, total, present, "error")

	_, stats := e.snapshot(r, total, start)
	if onProgress != nil {
		onProgress(100, stats)
	}

	e.metrics.ObserveDownloadDuration(layerID, false, time.Since(start))
	e.logger.Info("bulk download aborted",
		"layer", layerID, "present", present, "total", total)
}

// loadCheckpoint returns the persisted checkpoint for a layer, or nil.
func (e *Engine) loadCheckpoint(ctx context.Context, layerID string) *domain.DownloadCheckpoint {
	raw, found, err := e.state.Get(ctx, checkpointKey(layerID))
	if err != nil {
		e.logger.Warn("checkpoint load failed", "layer", layerID, "error", err)
		return nil
	}
	if !found {
		return nil
	}

	var cp domain.DownloadCheckpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		e.logger.Warn("checkpoint is corrupt, discarding", "layer", layerID, "error", err)
		return nil
	}
	return &cp
}

// saveCheckpoint persists the current checkpoint; persistence failures
// are logged and the run continues on in-memory state.
func (e *Engine) saveCheckpoint(ctx context.Context, layerID string, r *run) {
	r.mu.Lock()
	raw, err := json.Marshal(r.checkpoint)
	r.mu.Unlock()
	if err != nil {
		e.logger.Warn("checkpoint marshal failed", "layer", layerID, "error", err)
		return
	}

	if err := e.state.Put(ctx, checkpointKey(layerID), raw); err != nil {
		e.logger.Warn("checkpoint persist failed", "layer", layerID, "error", err)
	}
}

// setLayerMeta records the per-layer summary in the tile cache.
func (e *Engine) setLayerMeta(ctx context.Context, layerID string, total, downloaded int, status string) {
	meta := domain.LayerMeta{
		LayerID:         layerID,
		TotalTiles:      total,
		DownloadedTiles: downloaded,
		Status:          status,
		LastUpdated:     time.Now().Unix(),
	}
	if err := e.cache.SetLayerMeta(ctx, meta); err != nil {
		e.logger.Warn("layer meta persist failed", "layer", layerID, "error", err)
	}
}

func checkpointKey(layerID string) string {
	return "checkpoint:" + layerID
}
