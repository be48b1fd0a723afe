package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ternmaps/tern/internal/domain"
)

// handleGetTile serves one tile from a packaged database. Coordinates in
// the URL are slippy-map z/x/y.
func (s *Server) handleGetTile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	fileID := vars["fileId"]

	z, _ := strconv.Atoi(vars["z"])
	x, _ := strconv.Atoi(vars["x"])
	y, _ := strconv.Atoi(vars["y"])

	coord := domain.TileCoord{Zoom: z, Col: x, Row: y}
	if !coord.Valid() {
		s.writeError(w, http.StatusBadRequest, "tile coordinates out of range")
		return
	}

	data, mime, err := s.tiles.GetTile(r.Context(), fileID, z, x, y)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTileNotFound):
			s.writeError(w, http.StatusNotFound, "tile not found")
		case errors.Is(err, domain.ErrPackageNotFound):
			s.writeError(w, http.StatusNotFound, "package not found")
		default:
			s.logger.Error("tile read failed", "file", fileID, "tile", coord, "error", err)
			s.writeError(w, http.StatusInternalServerError, "tile read failed")
		}
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(data)
}

// startRequest is the body of POST /api/v1/downloads.
type startRequest struct {
	ID   string `json:"id"`
	Kind string `json:"kind"` // chart (default) or basemap
}

// handleStartDownload starts a bulk download for a layer.
func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		s.writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	kind := domain.KindChart
	if req.Kind == string(domain.KindBasemap) {
		kind = domain.KindBasemap
	}

	started := s.downloads.Start(r.Context(), req.ID, kind)

	task, found := s.findTask(req.ID)
	if !found {
		s.writeError(w, http.StatusInternalServerError, "task not registered")
		return
	}

	status := http.StatusAccepted
	if !started {
		// Fail-fast path, usually offline. The task carries the reason.
		status = http.StatusConflict
	}
	s.writeJSON(w, status, task)
}

// handleListDownloads returns all tasks.
func (s *Server) handleListDownloads(w http.ResponseWriter, _ *http.Request) {
	tasks := s.downloads.Tasks()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"downloads": tasks,
		"count":     len(tasks),
	})
}

// handleGetDownload returns one task.
func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	task, found := s.findTask(id)
	if !found {
		s.writeError(w, http.StatusNotFound, "download not found")
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

// handleClearDownload removes a task from the registry.
func (s *Server) handleClearDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, found := s.findTask(id); !found {
		s.writeError(w, http.StatusNotFound, "download not found")
		return
	}

	s.downloads.Clear(id)
	w.WriteHeader(http.StatusNoContent)
}

// handleListPackages returns the package records known to the source.
func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	infos, err := s.source.List(r.Context())
	if err != nil {
		s.logger.Error("package listing failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list packages")
		return
	}

	packages := make([]map[string]any, len(infos))
	for i, info := range infos {
		packages[i] = map[string]any{
			"id":        info.ID,
			"chartId":   info.ChartID,
			"status":    info.Status,
			"totalSize": info.TotalSize,
			"fileName":  info.FileName,
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"packages": packages,
		"count":    len(packages),
	})
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]any{
		"status":     boolToStatus(details.Healthy),
		"ready":      details.Ready,
		"components": details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// findTask looks one task up in the registry snapshot.
func (s *Server) findTask(id string) (domain.DownloadTask, bool) {
	for _, task := range s.downloads.Tasks() {
		if task.ID == id {
			return task, true
		}
	}
	return domain.DownloadTask{}, false
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encoding failed", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func boolToStatus(ok bool) string {
	if ok {
		return "ok"
	}
	return "unhealthy"
}
