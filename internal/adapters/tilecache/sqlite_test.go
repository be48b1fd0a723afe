package tilecache

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternmaps/tern/internal/domain"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(filepath.Join(t.TempDir(), "tiles.db"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPutGetRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	data := []byte{0x89, 0x50, 0x4E, 0x47, 1, 2, 3}
	if err := c.Put(ctx, "t0000000000000001", data, "vfr"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := c.Get(ctx, "t0000000000000001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get = %v, want %v", got, data)
	}
}

func TestGetMissingKey(t *testing.T) {
	c := newTestCache(t)

	_, err := c.Get(context.Background(), "absent")
	if !errors.Is(err, domain.ErrTileNotFound) {
		t.Errorf("Get error = %v, want ErrTileNotFound", err)
	}
}

func TestPutIsIdempotent(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := c.Put(ctx, "tkey", []byte("same-bytes"), "vfr"); err != nil {
			t.Fatalf("Put #%d failed: %v", i, err)
		}
	}

	count, err := c.Count(ctx, "vfr")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Count = %d, want 1 after repeated Put of same key", count)
	}
}

func TestCountAndIsCachedPerLayer(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Put(ctx, "a1", []byte("x"), "layer-a")
	_ = c.Put(ctx, "a2", []byte("y"), "layer-a")
	_ = c.Put(ctx, "b1", []byte("z"), "layer-b")

	if n, _ := c.Count(ctx, "layer-a"); n != 2 {
		t.Errorf("Count(layer-a) = %d, want 2", n)
	}
	if n, _ := c.Count(ctx, "layer-c"); n != 0 {
		t.Errorf("Count(layer-c) = %d, want 0", n)
	}

	if ok, _ := c.IsCached(ctx, "layer-b"); !ok {
		t.Error("IsCached(layer-b) = false, want true")
	}
	if ok, _ := c.IsCached(ctx, "layer-c"); ok {
		t.Error("IsCached(layer-c) = true, want false")
	}
}

func TestHas(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Put(ctx, "present", []byte("x"), "l")

	if ok, err := c.Has(ctx, "present"); err != nil || !ok {
		t.Errorf("Has(present) = %v, %v; want true, nil", ok, err)
	}
	if ok, err := c.Has(ctx, "missing"); err != nil || ok {
		t.Errorf("Has(missing) = %v, %v; want false, nil", ok, err)
	}
}

func TestLayerMetaRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if _, err := c.LayerMeta(ctx, "vfr"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("LayerMeta on empty store = %v, want ErrNotFound", err)
	}

	meta := domain.LayerMeta{
		LayerID:         "vfr",
		TotalTiles:      1200,
		DownloadedTiles: 1130,
		Status:          "complete",
		LastUpdated:     time.Now().Unix(),
	}
	if err := c.SetLayerMeta(ctx, meta); err != nil {
		t.Fatalf("SetLayerMeta failed: %v", err)
	}

	got, err := c.LayerMeta(ctx, "vfr")
	if err != nil {
		t.Fatalf("LayerMeta failed: %v", err)
	}
	if got.TotalTiles != 1200 || got.DownloadedTiles != 1130 || got.Status != "complete" {
		t.Errorf("LayerMeta = %+v, want %+v", got, meta)
	}
	if got.LastUpdated != meta.LastUpdated {
		t.Errorf("LastUpdated = %v, want %v", got.LastUpdated, meta.LastUpdated)
	}

	meta.DownloadedTiles = 1200
	if err := c.SetLayerMeta(ctx, meta); err != nil {
		t.Fatalf("SetLayerMeta update failed: %v", err)
	}
	got, _ = c.LayerMeta(ctx, "vfr")
	if got.DownloadedTiles != 1200 {
		t.Errorf("DownloadedTiles after update = %d, want 1200", got.DownloadedTiles)
	}
}
