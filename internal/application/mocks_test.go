package application

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ternmaps/tern/internal/domain"
)

// mockCatalog implements LayerCatalog over a fixed layer set.
type mockCatalog struct {
	layers map[string]*domain.Layer
}

func (m *mockCatalog) Layer(id string) (*domain.Layer, bool) {
	l, ok := m.layers[id]
	return l, ok
}

func testLayer(id string, zooms []int) *domain.Layer {
	return &domain.Layer{
		ID:        id,
		Name:      id,
		Kind:      domain.KindChart,
		SubLayers: []string{"base"},
		SRS:       "EPSG:4326",
		Region:    domain.BBox{West: 8.0, South: 50.0, East: 10.0, North: 52.0},
		ZoomLevels: append([]int(nil), zooms...),
	}
}

// mockFetcher implements output.TileFetcher with scripted failures.
type mockFetcher struct {
	mu       sync.Mutex
	cache    *mockCache
	failKeys map[string]bool // keys that fail on every attempt
	failOnce map[string]bool // keys that fail the first attempt only
	attempts map[string]int
	relays   map[string][]int // preferredRelay per attempt, by key
}

func newMockFetcher(cache *mockCache) *mockFetcher {
	return &mockFetcher{
		cache:    cache,
		failKeys: make(map[string]bool),
		failOnce: make(map[string]bool),
		attempts: make(map[string]int),
		relays:   make(map[string][]int),
	}
}

func (m *mockFetcher) Fetch(ctx context.Context, req domain.TileRequest, preferredRelay int) bool {
	m.mu.Lock()
	m.attempts[req.CacheKey]++
	attempt := m.attempts[req.CacheKey]
	m.relays[req.CacheKey] = append(m.relays[req.CacheKey], preferredRelay)
	permanent := m.failKeys[req.CacheKey]
	once := m.failOnce[req.CacheKey]
	m.mu.Unlock()

	if permanent {
		return false
	}
	if once && attempt == 1 {
		return false
	}

	_ = m.cache.Put(ctx, req.CacheKey, []byte("tile"), req.LayerID)
	return true
}

func (m *mockFetcher) totalAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.attempts {
		total += n
	}
	return total
}

// mockCache implements output.TileCache in memory.
type mockCache struct {
	mu     sync.Mutex
	tiles  map[string]string // key -> layerID
	meta   map[string]domain.LayerMeta
	putErr error
}

func newMockCache() *mockCache {
	return &mockCache{
		tiles: make(map[string]string),
		meta:  make(map[string]domain.LayerMeta),
	}
}

func (m *mockCache) Put(_ context.Context, key string, _ []byte, layerID string) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles[key] = layerID
	return nil
}

func (m *mockCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tiles[key]; ok {
		return []byte("tile"), nil
	}
	return nil, domain.ErrTileNotFound
}

func (m *mockCache) Has(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tiles[key]
	return ok, nil
}

func (m *mockCache) Count(_ context.Context, layerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, l := range m.tiles {
		if l == layerID {
			count++
		}
	}
	return count, nil
}

func (m *mockCache) IsCached(ctx context.Context, layerID string) (bool, error) {
	n, _ := m.Count(ctx, layerID)
	return n > 0, nil
}

func (m *mockCache) SetLayerMeta(_ context.Context, meta domain.LayerMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[meta.LayerID] = meta
	return nil
}

func (m *mockCache) LayerMeta(_ context.Context, layerID string) (domain.LayerMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if meta, ok := m.meta[layerID]; ok {
		return meta, nil
	}
	return domain.LayerMeta{}, domain.ErrNotFound
}

// mockState implements output.StateStore in memory.
type mockState struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
}

func newMockState() *mockState {
	return &mockState{values: make(map[string]json.RawMessage)}
}

func (m *mockState) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *mockState) Put(_ context.Context, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append(json.RawMessage(nil), value...)
	return nil
}

func (m *mockState) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// mockConnectivity implements output.Connectivity with a switchable state.
type mockConnectivity struct {
	mu          sync.Mutex
	online      bool
	subscribers []func(bool)

	// afterChecks flips the state to offline after N Online() calls,
	// simulating a connection dropping mid-run. Zero disables.
	afterChecks int
	checks      int
}

func (m *mockConnectivity) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	if m.afterChecks > 0 && m.checks > m.afterChecks {
		m.online = false
	}
	return m.online
}

func (m *mockConnectivity) Subscribe(fn func(bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
	return func() {}
}

func (m *mockConnectivity) setOnline(online bool) {
	m.mu.Lock()
	m.online = online
	subs := append(make([]func(bool), 0, len(m.subscribers)), m.subscribers...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(online)
	}
}

// mockDownloader implements Downloader for registry tests.
type mockDownloader struct {
	mu      sync.Mutex
	result  bool
	block   chan struct{} // optional: Download waits on it
	started chan string
	percent []float64 // progress values to emit before returning
}

func (m *mockDownloader) Download(_ context.Context, layerID string, onProgress ProgressFunc) bool {
	if m.started != nil {
		m.started <- layerID
	}
	for _, p := range m.percent {
		onProgress(p, domain.DownloadStats{TotalTiles: 100})
	}
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}
