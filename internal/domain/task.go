package domain

import "time"

// TaskStatus is the lifecycle state of a bulk download.
type TaskStatus string

// Task states. A task moves pending -> downloading -> complete or error;
// error may re-enter downloading on a manual retry.
const (
	StatusPending     TaskStatus = "pending"
	StatusDownloading TaskStatus = "downloading"
	StatusComplete    TaskStatus = "complete"
	StatusError       TaskStatus = "error"
)

// DownloadStats is the statistics snapshot reported with progress updates.
type DownloadStats struct {
	TotalTiles                int     `json:"totalTiles"`
	DownloadedTiles           int     `json:"downloadedTiles"`
	FailedTiles               int     `json:"failedTiles"`
	RetriedTiles              int     `json:"retriedTiles"`
	SkippedTiles              int     `json:"skippedTiles"`
	ElapsedSeconds            float64 `json:"elapsedSeconds"`
	EstimatedSecondsRemaining float64 `json:"estimatedSecondsRemaining"`
}

// DownloadTask tracks one bulk download through the registry. At most one
// active task exists per ID; Progress never decreases while the task is
// downloading.
type DownloadTask struct {
	ID          string         `json:"id"`
	Kind        LayerKind      `json:"kind"`
	Status      TaskStatus     `json:"status"`
	Progress    float64        `json:"progress"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Stats       *DownloadStats `json:"stats,omitempty"`
}

// Active reports whether the task currently occupies its ID.
func (t *DownloadTask) Active() bool {
	return t.Status == StatusPending || t.Status == StatusDownloading
}

// Clone returns a copy safe to hand to subscribers.
func (t *DownloadTask) Clone() DownloadTask {
	c := *t
	if t.Stats != nil {
		stats := *t.Stats
		c.Stats = &stats
	}
	return c
}
