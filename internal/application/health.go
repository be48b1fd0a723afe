package application

import (
	"context"

	"github.com/ternmaps/tern/internal/ports/output"
)

// HealthDetails is the detailed health report served by the API.
type HealthDetails struct {
	Healthy    bool              `json:"healthy"`
	Ready      bool              `json:"ready"`
	Components map[string]string `json:"components"`
}

// HealthService provides health check functionality.
type HealthService struct {
	cache output.TileCache
	state output.StateStore
}

// NewHealthService creates a new health service.
func NewHealthService(cache output.TileCache, state output.StateStore) *HealthService {
	return &HealthService{cache: cache, state: state}
}

// IsHealthy returns true once the service is constructed.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true
}

// IsReady returns true when both stores answer queries.
func (s *HealthService) IsReady(ctx context.Context) bool {
	if _, err := s.cache.Count(ctx, "_readiness"); err != nil {
		return false
	}
	if _, _, err := s.state.Get(ctx, "_readiness"); err != nil {
		return false
	}
	return true
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) HealthDetails {
	components := map[string]string{
		"tile_cache":  "ok",
		"state_store": "ok",
	}
	if _, err := s.cache.Count(ctx, "_readiness"); err != nil {
		components["tile_cache"] = "unavailable"
	}
	if _, _, err := s.state.Get(ctx, "_readiness"); err != nil {
		components["state_store"] = "unavailable"
	}

	return HealthDetails{
		Healthy:    s.IsHealthy(ctx),
		Ready:      components["tile_cache"] == "ok" && components["state_store"] == "ok",
		Components: components,
	}
}
