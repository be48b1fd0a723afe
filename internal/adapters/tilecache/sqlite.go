// Package tilecache provides the SQLite-backed incremental tile cache.
package tilecache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ternmaps/tern/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS tiles (
	cache_key  TEXT PRIMARY KEY,
	layer_id   TEXT NOT NULL,
	tile_data  BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tiles_layer ON tiles(layer_id);

CREATE TABLE IF NOT EXISTS layer_meta (
	layer_id         TEXT PRIMARY KEY,
	total_tiles      INTEGER NOT NULL,
	downloaded_tiles INTEGER NOT NULL,
	status           TEXT NOT NULL,
	last_updated     INTEGER NOT NULL
);
`

// Cache implements the TileCache port on a single SQLite file. Writes are
// idempotent upserts keyed by cache key, so concurrent batch workers never
// need coordination beyond the driver's own serialization.
type Cache struct {
	db *sql.DB
}

// New opens (or creates) the cache database at path.
func New(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	// WAL keeps readers live while a batch of writers is flushing.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Operation: "migrate", Key: path, Err: err}
	}

	return &Cache{db: db}, nil
}

// Put stores a tile, replacing any previous bytes under the same key.
func (c *Cache) Put(ctx context.Context, key string, data []byte, layerID string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO tiles (cache_key, layer_id, tile_data, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			tile_data = excluded.tile_data,
			created_at = excluded.created_at`,
		key, layerID, data, time.Now().Unix())
	if err != nil {
		return &domain.StorageError{Operation: "put", Key: key, Err: err}
	}
	return nil
}

// Get returns the tile bytes for a key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT tile_data FROM tiles WHERE cache_key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTileNotFound
	}
	if err != nil {
		return nil, &domain.StorageError{Operation: "get", Key: key, Err: err}
	}
	return data, nil
}

// Has reports presence without loading the blob.
func (c *Cache) Has(ctx context.Context, key string) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx,
		`SELECT 1 FROM tiles WHERE cache_key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &domain.StorageError{Operation: "has", Key: key, Err: err}
	}
	return true, nil
}

// Count returns the number of cached tiles for a layer.
func (c *Cache) Count(ctx context.Context, layerID string) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tiles WHERE layer_id = ?`, layerID).Scan(&count)
	if err != nil {
		return 0, &domain.StorageError{Operation: "count", Key: layerID, Err: err}
	}
	return count, nil
}

// IsCached reports whether a layer has at least one cached tile.
func (c *Cache) IsCached(ctx context.Context, layerID string) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx,
		`SELECT 1 FROM tiles WHERE layer_id = ? LIMIT 1`, layerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &domain.StorageError{Operation: "is_cached", Key: layerID, Err: err}
	}
	return true, nil
}

// SetLayerMeta stores the per-layer download summary.
func (c *Cache) SetLayerMeta(ctx context.Context, meta domain.LayerMeta) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO layer_meta (layer_id, total_tiles, downloaded_tiles, status, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(layer_id) DO UPDATE SET
			total_tiles = excluded.total_tiles,
			downloaded_tiles = excluded.downloaded_tiles,
			status = excluded.status,
			last_updated = excluded.last_updated`,
		meta.LayerID, meta.TotalTiles, meta.DownloadedTiles, meta.Status, meta.LastUpdated)
	if err != nil {
		return &domain.StorageError{Operation: "set_layer_meta", Key: meta.LayerID, Err: err}
	}
	return nil
}

// LayerMeta returns the stored summary for a layer.
func (c *Cache) LayerMeta(ctx context.Context, layerID string) (domain.LayerMeta, error) {
	var meta domain.LayerMeta
	err := c.db.QueryRowContext(ctx, `
		SELECT layer_id, total_tiles, downloaded_tiles, status, last_updated
		FROM layer_meta WHERE layer_id = ?`, layerID).
		Scan(&meta.LayerID, &meta.TotalTiles, &meta.DownloadedTiles, &meta.Status, &meta.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LayerMeta{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.LayerMeta{}, &domain.StorageError{Operation: "layer_meta", Key: layerID, Err: err}
	}
	return meta, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
