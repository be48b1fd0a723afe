package domain

import "time"

// CheckpointMaxAge is how long a checkpoint stays trustworthy. Older
// checkpoints are treated as absent and the cache is re-probed instead.
const CheckpointMaxAge = 24 * time.Hour

// DownloadCheckpoint records which tiles of a bulk download already
// succeeded, keyed by cache key, so an interrupted run can resume.
// CompletedKeys is always a subset of the layer's full target tile set.
type DownloadCheckpoint struct {
	LayerID       string          `json:"layerId"`
	CompletedKeys map[string]bool `json:"completedKeys"`
	TotalTiles    int             `json:"totalTiles"`
	LastUpdated   int64           `json:"lastUpdated"`
	ZoomLevels    []int           `json:"zoomLevels"`
}

// NewCheckpoint creates an empty checkpoint for a layer.
func NewCheckpoint(layerID string, totalTiles int, zooms []int) *DownloadCheckpoint {
	return &DownloadCheckpoint{
		LayerID:       layerID,
		CompletedKeys: make(map[string]bool),
		TotalTiles:    totalTiles,
		ZoomLevels:    zooms,
		LastUpdated:   time.Now().Unix(),
	}
}

// Fresh reports whether the checkpoint is recent enough to trust without
// re-verifying cache contents.
func (c *DownloadCheckpoint) Fresh(now time.Time) bool {
	if c == nil || c.LastUpdated == 0 {
		return false
	}
	return now.Sub(time.Unix(c.LastUpdated, 0)) < CheckpointMaxAge
}

// MarkCompleted records a finished tile and bumps the timestamp.
func (c *DownloadCheckpoint) MarkCompleted(cacheKey string) {
	if c.CompletedKeys == nil {
		c.CompletedKeys = make(map[string]bool)
	}
	c.CompletedKeys[cacheKey] = true
	c.LastUpdated = time.Now().Unix()
}

// Completed reports whether a tile is already recorded as done.
func (c *DownloadCheckpoint) Completed(cacheKey string) bool {
	return c != nil && c.CompletedKeys[cacheKey]
}
