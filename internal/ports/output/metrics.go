package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncTilesDownloaded counts a successfully fetched and stored tile.
	IncTilesDownloaded(layerID string)

	// AddTilesFailed counts tiles that failed every attempt.
	AddTilesFailed(layerID string, n int)

	// AddTilesRetried counts tiles entering the retry pass.
	AddTilesRetried(layerID string, n int)

	// AddTilesSkipped counts tiles skipped because they were already cached.
	AddTilesSkipped(layerID string, n int)

	// ObserveFetchDuration records one tile fetch duration.
	ObserveFetchDuration(outcome string, duration time.Duration)

	// ObserveDownloadDuration records a whole bulk-download run.
	ObserveDownloadDuration(layerID string, success bool, duration time.Duration)

	// SetActiveDownloads sets the number of currently running tasks.
	SetActiveDownloads(count int)

	// SetPackagesOpen sets the number of resident package handles.
	SetPackagesOpen(count int)

	// IncPackageTileReads counts a packaged-tile read.
	IncPackageTileReads(fileID string, hit bool)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncTilesDownloaded implements MetricsCollector.
func (n *NoOpMetrics) IncTilesDownloaded(_ string) {}

// AddTilesFailed implements MetricsCollector.
func (n *NoOpMetrics) AddTilesFailed(_ string, _ int) {}

// AddTilesRetried implements MetricsCollector.
func (n *NoOpMetrics) AddTilesRetried(_ string, _ int) {}

// AddTilesSkipped implements MetricsCollector.
func (n *NoOpMetrics) AddTilesSkipped(_ string, _ int) {}

// ObserveFetchDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveFetchDuration(_ string, _ time.Duration) {}

// ObserveDownloadDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveDownloadDuration(_ string, _ bool, _ time.Duration) {}

// SetActiveDownloads implements MetricsCollector.
func (n *NoOpMetrics) SetActiveDownloads(_ int) {}

// SetPackagesOpen implements MetricsCollector.
func (n *NoOpMetrics) SetPackagesOpen(_ int) {}

// IncPackageTileReads implements MetricsCollector.
func (n *NoOpMetrics) IncPackageTileReads(_ string, _ bool) {}
