package output

import (
	"context"

	"github.com/ternmaps/tern/internal/domain"
)

// TileFetcher defines the secondary port for fetching one remote tile and
// storing it in the tile cache. Fetch returns true iff a validated image
// was stored; every transport or validation failure is absorbed inside
// the implementation and surfaces only as false.
type TileFetcher interface {
	// Fetch downloads req via the direct URL, then the preferred relay,
	// then the remaining relays raced concurrently. preferredRelay
	// indexes into the implementation's relay list and lets callers
	// rotate the fallback order between passes.
	Fetch(ctx context.Context, req domain.TileRequest, preferredRelay int) bool
}
