// Package fetcher downloads single tiles from the remote source with
// relay fallback and stores validated images in the tile cache.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternmaps/tern/internal/domain"
	"github.com/ternmaps/tern/internal/ports/output"
)

// Config holds fetcher tuning.
type Config struct {
	// Relays are URL templates with one %s placeholder that receives the
	// encoded target URL.
	Relays []string

	// DirectTimeout bounds the first, direct attempt.
	DirectTimeout time.Duration

	// FallbackTimeout bounds each relay attempt.
	FallbackTimeout time.Duration
}

// Fetcher implements the TileFetcher port over net/http.
type Fetcher struct {
	client  *http.Client
	cache   output.TileCache
	metrics output.MetricsCollector
	logger  *slog.Logger
	cfg     Config
}

// New creates a tile fetcher. The shared client carries no global timeout;
// every attempt gets its own context deadline instead, so a slow attempt
// aborts without poisoning the connection pool for the next one.
func New(cfg Config, cache output.TileCache, metrics output.MetricsCollector, logger *slog.Logger) *Fetcher {
	if cfg.DirectTimeout == 0 {
		cfg.DirectTimeout = 8 * time.Second
	}
	if cfg.FallbackTimeout == 0 {
		cfg.FallbackTimeout = 20 * time.Second
	}

	return &Fetcher{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
}

// Fetch retrieves one tile and stores it under its cache key. It returns
// true iff a validated image ended up in the cache; every transport and
// validation failure is absorbed here and only logged.
func (f *Fetcher) Fetch(ctx context.Context, req domain.TileRequest, preferredRelay int) bool {
	start := time.Now()

	// (a) direct fetch, short timeout.
	data, err := f.attempt(ctx, req.RemoteURL, f.cfg.DirectTimeout)
	if err == nil {
		return f.store(ctx, req, data, "direct", start)
	}
	f.logger.Debug("direct fetch failed", "tile", req.Coord, "error", err)

	if len(f.cfg.Relays) == 0 {
		f.metrics.ObserveFetchDuration("failed", time.Since(start))
		return false
	}

	// (b) caller-preferred relay, longer timeout.
	preferred := preferredRelay % len(f.cfg.Relays)
	if preferred < 0 {
		preferred += len(f.cfg.Relays)
	}
	data, err = f.attempt(ctx, f.relayURL(preferred, req.RemoteURL), f.cfg.FallbackTimeout)
	if err == nil {
		return f.store(ctx, req, data, "relay", start)
	}
	f.logger.Debug("preferred relay failed", "tile", req.Coord, "relay", preferred, "error", err)

	// (c) remaining relays raced, first valid success wins.
	data, ok := f.race(ctx, req, preferred)
	if !ok {
		f.metrics.ObserveFetchDuration("failed", time.Since(start))
		return false
	}
	return f.store(ctx, req, data, "race", start)
}

// race runs every relay except the already-tried preferred one
// concurrently. The first valid response wins and cancels the rest; all
// outcomes are still collected so losses show up in debug logs.
func (f *Fetcher) race(ctx context.Context, req domain.TileRequest, exclude int) ([]byte, bool) {
	type outcome struct {
		relay int
		data  []byte
		err   error
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var contenders []int
	for i := range f.cfg.Relays {
		if i != exclude {
			contenders = append(contenders, i)
		}
	}
	if len(contenders) == 0 {
		return nil, false
	}

	results := make(chan outcome, len(contenders))
	for _, relay := range contenders {
		go func(relay int) {
			data, err := f.attempt(raceCtx, f.relayURL(relay, req.RemoteURL), f.cfg.FallbackTimeout)
			results <- outcome{relay: relay, data: data, err: err}
		}(relay)
	}

	var winner []byte
	for range contenders {
		res := <-results
		if res.err != nil {
			f.logger.Debug("relay race attempt failed", "tile", req.Coord, "relay", res.relay, "error", res.err)
			continue
		}
		if winner == nil {
			winner = res.data
			cancel()
		}
	}

	return winner, winner != nil
}

// attempt performs one bounded GET and validates the response.
func (f *Fetcher) attempt(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "image/webp,image/png,image/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return data, validate(rawURL, resp.Header.Get("Content-Type"), data)
}

// validate rejects error bodies masquerading as tiles: non-image content
// types, XML/HTML payloads served with 200, and undersized responses.
func validate(rawURL, contentType string, data []byte) error {
	if len(data) < domain.MinTileBytes {
		return &domain.ValidationError{URL: rawURL, Reason: "undersized payload",
			Details: fmt.Sprintf("%d bytes", len(data))}
	}

	mediaType := contentType
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))

	if strings.Contains(mediaType, "xml") || strings.Contains(mediaType, "html") {
		return &domain.ValidationError{URL: rawURL, Reason: "error document", Details: mediaType}
	}
	if strings.HasPrefix(mediaType, "image/") {
		return nil
	}

	// Some relays serve octet-stream; trust the magic bytes then.
	if !domain.IsImageData(data) {
		return &domain.ValidationError{URL: rawURL, Reason: "not an image", Details: mediaType}
	}
	return nil
}

// store writes the validated tile into the cache.
func (f *Fetcher) store(ctx context.Context, req domain.TileRequest, data []byte, path string, start time.Time) bool {
	if err := f.cache.Put(ctx, req.CacheKey, data, req.LayerID); err != nil {
		f.logger.Warn("tile cache write failed", "key", req.CacheKey, "error", err)
		f.metrics.ObserveFetchDuration("failed", time.Since(start))
		return false
	}
	f.metrics.ObserveFetchDuration(path, time.Since(start))
	return true
}

// relayURL fills a relay template with the encoded target URL.
func (f *Fetcher) relayURL(relay int, target string) string {
	return fmt.Sprintf(f.cfg.Relays[relay], url.QueryEscape(target))
}
