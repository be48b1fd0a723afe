// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"

	"github.com/ternmaps/tern/internal/domain"
)

// TileCache defines the secondary port for the incrementally-built
// per-tile cache. Put is idempotent: writing identical validated bytes
// under the same key is always safe, which is what lets concurrent batch
// writers skip transactional coordination.
type TileCache interface {
	// Put stores a validated tile under its cache key.
	Put(ctx context.Context, key string, data []byte, layerID string) error

	// Get returns the tile bytes for a key, or ErrTileNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Has reports whether a key is present without loading the bytes.
	Has(ctx context.Context, key string) (bool, error)

	// Count returns the number of cached tiles for a layer.
	Count(ctx context.Context, layerID string) (int, error)

	// IsCached reports whether a layer has any cached tiles.
	IsCached(ctx context.Context, layerID string) (bool, error)

	// SetLayerMeta stores the per-layer download summary.
	SetLayerMeta(ctx context.Context, meta domain.LayerMeta) error

	// LayerMeta returns the stored summary for a layer, or ErrNotFound.
	LayerMeta(ctx context.Context, layerID string) (domain.LayerMeta, error)
}
