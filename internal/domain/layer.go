package domain

import (
	"fmt"
	"hash/fnv"
)

// LayerKind distinguishes chart overlays from the basemap.
type LayerKind string

// Layer kinds.
const (
	KindChart   LayerKind = "chart"
	KindBasemap LayerKind = "basemap"
)

// Layer is a named remote dataset: the WMS sub-layers it maps to, the
// region it covers, and the zoom levels to prefetch for offline use.
type Layer struct {
	ID         string    `yaml:"id"`
	Name       string    `yaml:"name"`
	Kind       LayerKind `yaml:"kind"`
	SubLayers  []string  `yaml:"sublayers"`
	SRS        string    `yaml:"srs"`
	Region     BBox      `yaml:"region"`
	ZoomLevels []int     `yaml:"zooms"`
}

// TileRequest is one fully-resolved tile fetch: where to get it and under
// which key to cache it. CacheKey is deterministic from RemoteURL, so
// identical render parameters collide to the same cache entry.
type TileRequest struct {
	LayerID   string
	Coord     TileCoord
	RemoteURL string
	CacheKey  string
}

// CacheKeyFor derives the cache key for a tile from its fully-built
// request URL. Two requests with identical render parameters hash to the
// same key, so re-fetches land on the same cache entry.
func CacheKeyFor(remoteURL string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(remoteURL))
	return fmt.Sprintf("t%016x", h.Sum64())
}

// LayerMeta is the per-layer summary the tile cache keeps alongside tiles.
type LayerMeta struct {
	LayerID         string `json:"layerId"`
	TotalTiles      int    `json:"totalTiles"`
	DownloadedTiles int    `json:"downloadedTiles"`
	LastUpdated     int64  `json:"lastUpdated"`
	Status          string `json:"status"`
}
