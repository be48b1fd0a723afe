package domain

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// BuildWMSURL constructs the GetMap request URL for one tile. The
// parameter order is fixed so the URL, and therefore the cache key derived
// from it, is deterministic for identical render parameters.
func BuildWMSURL(baseURL string, subLayers []string, srs string, b BBox) string {
	q := url.Values{}
	q.Set("service", "WMS")
	q.Set("request", "GetMap")
	q.Set("layers", strings.Join(subLayers, ","))
	q.Set("bbox", fmt.Sprintf("%s,%s,%s,%s",
		formatCoord(b.West), formatCoord(b.South), formatCoord(b.East), formatCoord(b.North)))
	q.Set("width", strconv.Itoa(TileSize))
	q.Set("height", strconv.Itoa(TileSize))
	q.Set("srs", srs)
	q.Set("format", "image/png")
	q.Set("transparent", "true")

	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	return baseURL + sep + q.Encode()
}

// formatCoord trims float noise so equal coordinates always print equal.
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// NewTileRequest resolves one tile of a layer into a fetchable request.
func NewTileRequest(layer *Layer, baseURL string, coord TileCoord) TileRequest {
	remoteURL := BuildWMSURL(baseURL, layer.SubLayers, layer.SRS, ToBBox(coord.Col, coord.Row, coord.Zoom))
	return TileRequest{
		LayerID:   layer.ID,
		Coord:     coord,
		RemoteURL: remoteURL,
		CacheKey:  CacheKeyFor(remoteURL),
	}
}
