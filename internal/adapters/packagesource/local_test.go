package packagesource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ternmaps/tern/internal/domain"
)

func writeFile(t *testing.T, dir, name string, size int) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func TestLocalList(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ed-vfr-1.mbtiles", 1024)
	writeFile(t, dir, "ed-vfr-2.mbtiles", 2048)
	writeFile(t, dir, "osm-base.mbtiles", 512)
	writeFile(t, dir, "notes.txt", 10)

	infos, err := NewLocal(dir).List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("len(List) = %d, want 3 (txt file excluded)", len(infos))
	}

	byID := make(map[string]string)
	for _, info := range infos {
		byID[info.ID] = info.ChartID
		if info.Status != "complete" || info.TotalSize == 0 {
			t.Errorf("local package %s: status=%s size=%d", info.ID, info.Status, info.TotalSize)
		}
	}
	if byID["ed-vfr-1"] != "ed-vfr" || byID["ed-vfr-2"] != "ed-vfr" {
		t.Errorf("numbered files should share chart id: %v", byID)
	}
	if byID["osm-base"] != "osm-base" {
		t.Errorf("single file chart id = %s, want osm-base", byID["osm-base"])
	}
}

func TestLocalListMissingDirectory(t *testing.T) {
	infos, err := NewLocal(filepath.Join(t.TempDir(), "missing")).List(context.Background())
	if err != nil {
		t.Fatalf("List of missing dir = %v, want nil error", err)
	}
	if len(infos) != 0 {
		t.Errorf("List of missing dir returned %d entries", len(infos))
	}
}

func TestLocalResolve(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ed-vfr-1.mbtiles", 1024)
	src := NewLocal(dir)

	path, err := src.Resolve(context.Background(), "ed-vfr-1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if path != filepath.Join(dir, "ed-vfr-1.mbtiles") {
		t.Errorf("Resolve = %s", path)
	}

	if _, err := src.Resolve(context.Background(), "absent"); !errors.Is(err, domain.ErrPackageNotFound) {
		t.Errorf("Resolve(absent) = %v, want ErrPackageNotFound", err)
	}
}

func TestLocalGetMeta(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "osm-base.mbtiles", 512)
	src := NewLocal(dir)

	meta, err := src.GetMeta(context.Background(), "osm-base")
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	if meta.FileName != "osm-base.mbtiles" || meta.TotalSize != 512 {
		t.Errorf("GetMeta = %+v", meta)
	}

	if _, err := src.GetMeta(context.Background(), "absent"); !errors.Is(err, domain.ErrPackageNotFound) {
		t.Errorf("GetMeta(absent) = %v, want ErrPackageNotFound", err)
	}
}

func TestDeriveChartID(t *testing.T) {
	tests := []struct {
		fileID string
		want   string
	}{
		{"ed-vfr-1", "ed-vfr"},
		{"ed-vfr-12", "ed-vfr"},
		{"osm-base", "osm-base"},
		{"plain", "plain"},
		{"x-1a", "x-1a"},
	}
	for _, tt := range tests {
		if got := DeriveChartID(tt.fileID); got != tt.want {
			t.Errorf("DeriveChartID(%s) = %s, want %s", tt.fileID, got, tt.want)
		}
	}
}
