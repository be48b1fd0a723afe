package fetcher

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ternmaps/tern/internal/domain"
	"github.com/ternmaps/tern/internal/ports/output"
)

// memCache is a minimal in-memory TileCache for fetcher tests.
type memCache struct {
	mu     sync.Mutex
	tiles  map[string][]byte
	putErr error
}

func newMemCache() *memCache {
	return &memCache{tiles: make(map[string][]byte)}
}

func (m *memCache) Put(_ context.Context, key string, data []byte, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles[key] = data
	return nil
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.tiles[key]; ok {
		return data, nil
	}
	return nil, domain.ErrTileNotFound
}

func (m *memCache) Has(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tiles[key]
	return ok, nil
}

func (m *memCache) Count(_ context.Context, _ string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tiles), nil
}

func (m *memCache) IsCached(_ context.Context, _ string) (bool, error) {
	n, _ := m.Count(context.Background(), "")
	return n > 0, nil
}

func (m *memCache) SetLayerMeta(_ context.Context, _ domain.LayerMeta) error { return nil }

func (m *memCache) LayerMeta(_ context.Context, _ string) (domain.LayerMeta, error) {
	return domain.LayerMeta{}, domain.ErrNotFound
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func pngTile() []byte {
	return append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 400)...)
}

func tileRequest(remoteURL string) domain.TileRequest {
	return domain.TileRequest{
		LayerID:   "vfr-sectional",
		Coord:     domain.TileCoord{Zoom: 9, Col: 270, Row: 165},
		RemoteURL: remoteURL,
		CacheKey:  domain.CacheKeyFor(remoteURL),
	}
}

func TestFetchDirectSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngTile())
	}))
	defer srv.Close()

	cache := newMemCache()
	f := New(Config{}, cache, &output.NoOpMetrics{}, testLogger())

	req := tileRequest(srv.URL + "/tile")
	if !f.Fetch(context.Background(), req, 0) {
		t.Fatal("Fetch = false, want true")
	}

	if data, err := cache.Get(context.Background(), req.CacheKey); err != nil || len(data) == 0 {
		t.Errorf("tile not stored: %v", err)
	}
}

func TestFetchFallsBackToPreferredRelay(t *testing.T) {
	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer direct.Close()

	var relayHits atomic.Int32
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		relayHits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngTile())
	}))
	defer relay.Close()

	cache := newMemCache()
	f := New(Config{Relays: []string{relay.URL + "/r?u=%s"}}, cache, &output.NoOpMetrics{}, testLogger())

	if !f.Fetch(context.Background(), tileRequest(direct.URL+"/tile"), 0) {
		t.Fatal("Fetch = false, want true via relay")
	}
	if relayHits.Load() != 1 {
		t.Errorf("relay hits = %d, want 1", relayHits.Load())
	}
}

func TestFetchRacesRemainingRelays(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngTile())
	}))
	defer slow.Close()

	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngTile())
	}))
	defer fast.Close()

	cache := newMemCache()
	f := New(Config{
		Relays: []string{bad.URL + "/a?u=%s", slow.URL + "/b?u=%s", fast.URL + "/c?u=%s"},
	}, cache, &output.NoOpMetrics{}, testLogger())

	start := time.Now()
	if !f.Fetch(context.Background(), tileRequest(bad.URL+"/tile"), 0) {
		t.Fatal("Fetch = false, want race winner")
	}
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Errorf("race took %v, fast relay should have won well before the slow one", elapsed)
	}
}

func TestFetchRejectsErrorBodies(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"xml error body", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/xml")
			_, _ = w.Write([]byte("<?xml version=\"1.0\"?><ServiceException>" +
				string(make([]byte, 400)) + "</ServiceException>"))
		}},
		{"html with 200", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write(append([]byte("<html><body>error</body></html>"), make([]byte, 400)...))
		}},
		{"undersized png", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte{0x89, 0x50, 0x4E, 0x47})
		}},
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			cache := newMemCache()
			f := New(Config{}, cache, &output.NoOpMetrics{}, testLogger())

			if f.Fetch(context.Background(), tileRequest(srv.URL+"/tile"), 0) {
				t.Error("Fetch = true, want false")
			}
			if n, _ := cache.Count(context.Background(), ""); n != 0 {
				t.Errorf("cache has %d entries, want 0", n)
			}
		})
	}
}

func TestFetchNeverPanicsOnUnreachableHost(t *testing.T) {
	cache := newMemCache()
	f := New(Config{DirectTimeout: 200 * time.Millisecond}, cache, &output.NoOpMetrics{}, testLogger())

	if f.Fetch(context.Background(), tileRequest("http://127.0.0.1:1/tile"), 0) {
		t.Error("Fetch = true for unreachable host")
	}
}
