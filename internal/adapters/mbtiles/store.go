// Package mbtiles reads packaged tile databases in the MBTiles layout:
// a metadata(name, value) table plus tiles(zoom_level, tile_column,
// tile_row, tile_data).
package mbtiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/singleflight"

	"github.com/ternmaps/tern/internal/domain"
	"github.com/ternmaps/tern/internal/ports/output"
)

// Metadata is the package description extracted once on open.
type Metadata struct {
	FileID    string
	Name      string
	Format    string
	Scheme    string
	Bounds    domain.BBox
	MinZoom   int
	MaxZoom   int
	TileCount int
}

type handle struct {
	db   *sql.DB
	meta Metadata
}

// Store implements the TileService port over MBTiles package files
// located through a PackageSource. Handles stay resident after the first
// open; concurrent first opens of the same file are deduplicated.
type Store struct {
	source  output.PackageSource
	metrics output.MetricsCollector
	logger  *slog.Logger

	group singleflight.Group

	mu      sync.RWMutex
	handles map[string]*handle
}

// New creates a packaged tile store.
func New(source output.PackageSource, metrics output.MetricsCollector, logger *slog.Logger) *Store {
	return &Store{
		source:  source,
		metrics: metrics,
		logger:  logger,
		handles: make(map[string]*handle),
	}
}

// GetTile returns tile bytes and sniffed MIME type. The caller passes
// slippy-map coordinates; the stored row is always 2^z - 1 - y regardless
// of the scheme the package declares.
func (s *Store) GetTile(ctx context.Context, fileID string, z, x, y int) ([]byte, string, error) {
	h, err := s.open(ctx, fileID)
	if err != nil {
		return nil, "", err
	}

	row := (1 << uint(z)) - 1 - y

	var data []byte
	err = h.db.QueryRowContext(ctx, `
		SELECT tile_data FROM tiles
		WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
		z, x, row).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		s.metrics.IncPackageTileReads(fileID, false)
		return nil, "", domain.ErrTileNotFound
	}
	if err != nil {
		s.metrics.IncPackageTileReads(fileID, false)
		return nil, "", &domain.PackageError{FileID: fileID, Operation: "get_tile", Err: err}
	}

	s.metrics.IncPackageTileReads(fileID, true)
	return data, domain.DetectImageFormat(data), nil
}

// Metadata returns the cached package metadata, opening the file if needed.
func (s *Store) Metadata(ctx context.Context, fileID string) (Metadata, error) {
	h, err := s.open(ctx, fileID)
	if err != nil {
		return Metadata{}, err
	}
	return h.meta, nil
}

// TileCount returns the number of stored tiles, optionally restricted to
// the given zoom levels.
func (s *Store) TileCount(ctx context.Context, fileID string, zooms ...int) (int, error) {
	h, err := s.open(ctx, fileID)
	if err != nil {
		return 0, err
	}

	if len(zooms) == 0 {
		return h.meta.TileCount, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(zooms)), ",")
	args := make([]any, len(zooms))
	for i, z := range zooms {
		args[i] = z
	}

	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM tiles WHERE zoom_level IN (%s)`, placeholders) //#nosec G201 -- placeholders only
	if err := h.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, &domain.PackageError{FileID: fileID, Operation: "tile_count", Err: err}
	}
	return count, nil
}

// AvailableZooms returns the distinct zoom levels present in a package.
func (s *Store) AvailableZooms(ctx context.Context, fileID string) ([]int, error) {
	h, err := s.open(ctx, fileID)
	if err != nil {
		return nil, err
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT DISTINCT zoom_level FROM tiles ORDER BY zoom_level`)
	if err != nil {
		return nil, &domain.PackageError{FileID: fileID, Operation: "zooms", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var zooms []int
	for rows.Next() {
		var z int
		if err := rows.Scan(&z); err != nil {
			return nil, err
		}
		zooms = append(zooms, z)
	}
	return zooms, rows.Err()
}

// IsReady reports whether a chart has at least one complete package with a
// positive size in the source registry.
func (s *Store) IsReady(ctx context.Context, chartID string) bool {
	infos, err := s.source.List(ctx)
	if err != nil {
		s.logger.Warn("package listing failed", "chart", chartID, "error", err)
		return false
	}

	for _, info := range infos {
		if info.ChartID == chartID && info.Status == "complete" && info.TotalSize > 0 {
			return true
		}
	}
	return false
}

// FileIDs returns the package file ids belonging to a chart.
func (s *Store) FileIDs(ctx context.Context, chartID string) ([]string, error) {
	infos, err := s.source.List(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, info := range infos {
		if info.ChartID == chartID {
			ids = append(ids, info.ID)
		}
	}
	return ids, nil
}

// Close releases the handle for one file id. Closing an unopened id is a
// no-op.
func (s *Store) Close(fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[fileID]
	if !ok {
		return nil
	}

	delete(s.handles, fileID)
	s.metrics.SetPackagesOpen(len(s.handles))
	return h.db.Close()
}

// CloseAll releases every resident handle.
func (s *Store) CloseAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id, h := range s.handles {
		if err := h.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.handles, id)
	}
	s.metrics.SetPackagesOpen(0)
	return firstErr
}

// open returns the resident handle for a file id, opening it exactly once
// even under concurrent callers.
func (s *Store) open(ctx context.Context, fileID string) (*handle, error) {
	s.mu.RLock()
	h, ok := s.handles[fileID]
	s.mu.RUnlock()
	if ok {
		return h, nil
	}

	v, err, _ := s.group.Do(fileID, func() (any, error) {
		// Re-check under the group: a racing caller may have finished.
		s.mu.RLock()
		h, ok := s.handles[fileID]
		s.mu.RUnlock()
		if ok {
			return h, nil
		}

		opened, err := s.openFile(ctx, fileID)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.handles[fileID] = opened
		s.metrics.SetPackagesOpen(len(s.handles))
		s.mu.Unlock()

		return opened, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*handle), nil
}

// openFile resolves the package to a local path, opens it read-only and
// extracts its metadata.
func (s *Store) openFile(ctx context.Context, fileID string) (*handle, error) {
	path, err := s.source.Resolve(ctx, fileID)
	if err != nil {
		return nil, &domain.PackageError{FileID: fileID, Operation: "resolve", Err: err}
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &domain.PackageError{FileID: fileID, Operation: "open", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &domain.PackageError{FileID: fileID, Operation: "open", Err: err}
	}

	meta, err := readMetadata(ctx, db, fileID)
	if err != nil {
		_ = db.Close()
		return nil, &domain.PackageError{FileID: fileID, Operation: "metadata", Err: err}
	}

	s.logger.Info("package opened",
		"file", fileID, "tiles", meta.TileCount,
		"zooms", fmt.Sprintf("%d-%d", meta.MinZoom, meta.MaxZoom))

	return &handle{db: db, meta: meta}, nil
}

// readMetadata pulls the metadata table plus derived tile statistics.
func readMetadata(ctx context.Context, db *sql.DB, fileID string) (Metadata, error) {
	meta := Metadata{FileID: fileID}

	rows, err := db.QueryContext(ctx, `SELECT name, value FROM metadata`)
	if err != nil {
		return meta, fmt.Errorf("reading metadata table: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return meta, err
		}
		switch name {
		case "name":
			meta.Name = value
		case "format":
			meta.Format = value
		case "scheme":
			meta.Scheme = value
		case "minzoom":
			meta.MinZoom, _ = strconv.Atoi(value)
		case "maxzoom":
			meta.MaxZoom, _ = strconv.Atoi(value)
		case "bounds":
			meta.Bounds = parseBounds(value)
		}
	}
	if err := rows.Err(); err != nil {
		return meta, err
	}

	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tiles`).Scan(&meta.TileCount); err != nil {
		return meta, fmt.Errorf("counting tiles: %w", err)
	}

	// Fall back to observed zoom range when the metadata table omits it.
	if meta.MinZoom == 0 && meta.MaxZoom == 0 {
		_ = db.QueryRowContext(ctx,
			`SELECT COALESCE(MIN(zoom_level), 0), COALESCE(MAX(zoom_level), 0) FROM tiles`).
			Scan(&meta.MinZoom, &meta.MaxZoom)
	}

	return meta, nil
}

// parseBounds parses the MBTiles "west,south,east,north" bounds string.
func parseBounds(value string) domain.BBox {
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return domain.BBox{}
	}

	coords := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return domain.BBox{}
		}
		coords[i] = v
	}
	return domain.BBox{West: coords[0], South: coords[1], East: coords[2], North: coords[3]}
}
