// Package domain contains the core business entities and value objects.
package domain

import (
	"fmt"
	"math"
)

// MaxLatitude is the Web-Mercator latitude limit. Inputs beyond it are
// clamped so tile indices stay inside the valid grid.
const MaxLatitude = 85.0511287798

// TileSize is the edge length in pixels of every raster tile.
const TileSize = 256

// TileCoord addresses a single tile in the slippy-map scheme
// (row increases southward).
type TileCoord struct {
	Zoom int
	Col  int
	Row  int
}

// String returns the z/x/y form used in logs and URLs.
func (t TileCoord) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Zoom, t.Col, t.Row)
}

// Valid reports whether the coordinate lies inside the grid for its zoom.
func (t TileCoord) Valid() bool {
	if t.Zoom < 0 || t.Zoom > 30 {
		return false
	}
	max := 1 << t.Zoom
	return t.Col >= 0 && t.Col < max && t.Row >= 0 && t.Row < max
}

// FlippedRow returns the row index in the complementary scheme
// (row increasing northward): 2^zoom - 1 - row.
func (t TileCoord) FlippedRow() int {
	return (1 << t.Zoom) - 1 - t.Row
}

// BBox is a geographic bounding box in WGS84 degrees.
type BBox struct {
	West  float64 `yaml:"west" json:"west"`
	South float64 `yaml:"south" json:"south"`
	East  float64 `yaml:"east" json:"east"`
	North float64 `yaml:"north" json:"north"`
}

// Contains reports whether the point (lat, lng) lies inside the box.
func (b BBox) Contains(lat, lng float64) bool {
	return lng >= b.West && lng <= b.East && lat >= b.South && lat <= b.North
}

// IsValid reports whether the box has non-negative extent.
func (b BBox) IsValid() bool {
	return b.West <= b.East && b.South <= b.North
}

// String formats the box in (west,south,east,north) order, the order the
// WMS bbox parameter uses.
func (b BBox) String() string {
	return fmt.Sprintf("%f,%f,%f,%f", b.West, b.South, b.East, b.North)
}

// ToTile projects a WGS84 point onto the tile grid at the given zoom.
// Latitude is clamped to ±MaxLatitude and the resulting indices to the
// grid, so every input maps to a real tile.
func ToTile(lat, lng float64, zoom int) TileCoord {
	if lat > MaxLatitude {
		lat = MaxLatitude
	}
	if lat < -MaxLatitude {
		lat = -MaxLatitude
	}

	n := math.Exp2(float64(zoom))
	col := int(math.Floor((lng + 180.0) / 360.0 * n))
	latRad := lat * math.Pi / 180.0
	row := int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	max := int(n) - 1
	if col < 0 {
		col = 0
	} else if col > max {
		col = max
	}
	if row < 0 {
		row = 0
	} else if row > max {
		row = max
	}

	return TileCoord{Zoom: zoom, Col: col, Row: row}
}

// ToBBox returns the geographic bounds of a tile.
func ToBBox(col, row, zoom int) BBox {
	n := math.Exp2(float64(zoom))

	west := float64(col)/n*360.0 - 180.0
	east := float64(col+1)/n*360.0 - 180.0

	northRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(row)/n)))
	southRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(row+1)/n)))

	return BBox{
		West:  west,
		South: southRad * 180.0 / math.Pi,
		East:  east,
		North: northRad * 180.0 / math.Pi,
	}
}

// TileGrid enumerates the full rectangle of tiles enclosing bounds at the
// given zoom. The rectangle spans the tiles of the two extreme corners, so
// it over-covers the bounds rather than clipping to them.
func TileGrid(bounds BBox, zoom int) []TileCoord {
	topLeft := ToTile(bounds.North, bounds.West, zoom)
	bottomRight := ToTile(bounds.South, bounds.East, zoom)

	cols := bottomRight.Col - topLeft.Col + 1
	rows := bottomRight.Row - topLeft.Row + 1

	tiles := make([]TileCoord, 0, cols*rows)
	for col := topLeft.Col; col <= bottomRight.Col; col++ {
		for row := topLeft.Row; row <= bottomRight.Row; row++ {
			tiles = append(tiles, TileCoord{Zoom: zoom, Col: col, Row: row})
		}
	}

	return tiles
}
