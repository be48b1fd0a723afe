// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/ternmaps/tern/internal/domain"
)

// TaskListener receives task snapshots on every registry mutation.
type TaskListener func(tasks []domain.DownloadTask)

// DownloadService defines the primary port for bulk-download control.
type DownloadService interface {
	// Start begins (or no-ops on) a bulk download for a layer id.
	Start(ctx context.Context, id string, kind domain.LayerKind) bool

	// Subscribe registers a listener, immediately replays current state,
	// and returns an unsubscribe handle.
	Subscribe(fn TaskListener) (unsubscribe func())

	// Progress returns the current percentage for a task id.
	Progress(id string) (float64, bool)

	// IsActive reports whether a task id is pending or downloading.
	IsActive(id string) bool

	// Clear removes a task from the registry.
	Clear(id string)
}

// TileService defines the primary port for reading packaged tiles.
type TileService interface {
	// GetTile returns tile bytes and MIME type from a package file,
	// converting caller slippy-map coordinates to the stored scheme.
	GetTile(ctx context.Context, fileID string, z, x, y int) ([]byte, string, error)

	// IsReady reports whether a chart has a complete package available.
	IsReady(ctx context.Context, chartID string) bool

	// FileIDs returns the package file ids belonging to a chart.
	FileIDs(ctx context.Context, chartID string) ([]string, error)
}
