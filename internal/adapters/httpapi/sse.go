package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ternmaps/tern/internal/domain"
)

// handleDownloadEvents streams task snapshots as server-sent events. The
// registry replays current state on subscribe, so a client always gets
// one event immediately.
func (s *Server) handleDownloadEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Buffered: a slow client drops intermediate snapshots instead of
	// blocking the registry's notification fan-out.
	events := make(chan []domain.DownloadTask, 8)
	unsubscribe := s.downloads.Subscribe(func(tasks []domain.DownloadTask) {
		select {
		case events <- tasks:
		default:
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case tasks := <-events:
			payload, err := json.Marshal(tasks)
			if err != nil {
				s.logger.Error("event encoding failed", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: downloads\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
