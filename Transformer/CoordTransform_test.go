package Transformer

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var chongqing = orb.Point{106.58828259, 29.56782092}

func TestParseProjection(t *testing.T) {
	tests := []struct {
		code string
		want Projection
	}{
		{"EPSG:4326", EPSG4326},
		{"epsg:4326", EPSG4326},
		{"EPSG:3857", EPSG3857},
		{" EPSG:900913 ", EPSG3857},
	}

	for _, tt := range tests {
		got, err := ParseProjection(tt.code)
		require.NoError(t, err, tt.code)
		assert.Equal(t, tt.want, got, tt.code)
	}

	_, err := ParseProjection("EPSG:2000")
	assert.ErrorIs(t, err, ErrUnknownProjection)
}

func TestProjection_Dir(t *testing.T) {
	assert.Equal(t, "epsg4326", EPSG4326.Dir())
	assert.Equal(t, "epsg3857", EPSG3857.Dir())
	assert.Equal(t, "epsg3857", EPSG900913.Dir())
	assert.Equal(t, 3857, EPSG900913.SRID())
}

func TestLngLatToMercator(t *testing.T) {
	got := LngLatToMercator(chongqing)

	assert.InDelta(t, 11865353.340796677, got[0], 1e-6)
	assert.InDelta(t, 3448117.34158821, got[1], 1e-6)

	back := MercatorToLngLat(got)
	assert.InDelta(t, chongqing[0], back[0], 1e-9)
	assert.InDelta(t, chongqing[1], back[1], 1e-9)
}

func TestMetersPerPixel(t *testing.T) {
	assert.InDelta(t, 4.777314267823516, MetersPerPixel(15), 1e-12)
	assert.InDelta(t, MetersPerPixel(14)/2, MetersPerPixel(15), 1e-12)
}

func TestLngLatToTile(t *testing.T) {
	got := LngLatToTile(chongqing, 15)

	assert.Equal(t, Tile{Row: 5500, Col: 26085, Zoom: 15}, got)

	origin := TileToLngLat(got.Row, got.Col, got.Zoom)
	assert.InDelta(t, 106.578369140625, origin[0], 1e-12)
	assert.InDelta(t, 29.5751953125, origin[1], 1e-12)
}

func TestMercatorToTile(t *testing.T) {
	got := MercatorToTile(LngLatToMercator(chongqing), 15)

	assert.Equal(t, Tile{Row: 13564, Col: 26085, Zoom: 15}, got)

	origin := TileToMercator(got.Row, got.Col, got.Zoom)
	assert.InDelta(t, 11864249.782311961, origin[0], 1e-6)
	assert.InDelta(t, 3448838.7162271086, origin[1], 1e-6)
}

func TestTileToMercator_BackToLngLat(t *testing.T) {
	merc := TileToMercator(13563, 26086, 15)
	assert.InDelta(t, 11865472.774764527, merc[0], 1e-6)
	assert.InDelta(t, 3450061.7086796705, merc[1], 1e-6)

	lngLat := MercatorToLngLat(merc)
	assert.InDelta(t, 106.58935548358777, lngLat[0], 1e-9)
	assert.InDelta(t, 29.583011694128924, lngLat[1], 1e-9)

	assert.Equal(t, lngLat, OriginOf(EPSG3857, 13563, 26086, 15))
}

func TestTileOf_RoundTrip(t *testing.T) {
	points := []orb.Point{
		chongqing,
		{0.5, 0.5},
		{-73.9857, 40.7484},
		{151.2093, -33.8688},
		{-0.1276, 51.5072},
	}

	for _, proj := range []Projection{EPSG4326, EPSG3857} {
		for zoom := 1; zoom <= 18; zoom++ {
			for _, p := range points {
				tile := TileOf(proj, p, zoom)
				origin := OriginOf(proj, tile.Row, tile.Col, zoom)

				assert.LessOrEqual(t, origin[0], p[0]+1e-9, "%s z%d %v", proj, zoom, p)
				assert.GreaterOrEqual(t, origin[1], p[1]-1e-9, "%s z%d %v", proj, zoom, p)

				// 向格网内偏移极小量，避免浮点落在边界上
				nudged := orb.Point{origin[0] + 1e-9, origin[1] - 1e-9}
				assert.Equal(t, tile, TileOf(proj, nudged, zoom), "%s z%d %v", proj, zoom, p)
			}
		}
	}
}

func TestTileRange(t *testing.T) {
	r := TileRange{StartRow: 10, EndRow: 12, StartCol: 20, EndCol: 23}

	assert.Equal(t, 3, r.Rows())
	assert.Equal(t, 4, r.Cols())
	assert.Equal(t, 12, r.Total())

	seen := make(map[[2]int]bool)
	for i := 0; i < r.Total(); i++ {
		row, col := r.Cell(i)
		require.True(t, r.Contains(row, col))
		assert.Equal(t, i, r.Index(row, col))
		seen[[2]int{row, col}] = true
	}
	assert.Len(t, seen, r.Total())

	row, col := r.Cell(4)
	assert.Equal(t, 11, row)
	assert.Equal(t, 20, col)

	row, col = r.Last()
	assert.Equal(t, r.Total()-1, r.Index(row, col))
	assert.False(t, r.Contains(13, 20))
}

func TestRectangleOf_Geographic(t *testing.T) {
	corners := Corners{
		NW: orb.Point{106.50, 29.60},
		NE: orb.Point{106.52, 29.60},
		SE: orb.Point{106.52, 29.58},
		SW: orb.Point{106.50, 29.58},
	}

	rect := RectangleOf(EPSG4326, corners, 15)

	assert.Equal(t, Tile{5497, 26077, 15}, rect.Tile.NW)
	assert.Equal(t, Tile{5499, 26079, 15}, rect.Tile.SE)
	assert.Equal(t, TileRange{StartRow: 5497, EndRow: 5499, StartCol: 26077, EndCol: 26079}, rect.Range())
	assert.Equal(t, 9, rect.Range().Total())

	assert.Equal(t, TileToLngLat(5497, 26077, 15), rect.Coordinate.NW)
	assert.Equal(t, TileToLngLat(5497, 26080, 15), rect.Coordinate.NE)
	assert.Equal(t, TileToLngLat(5500, 26080, 15), rect.Coordinate.SE)
	assert.Equal(t, TileToLngLat(5500, 26077, 15), rect.Coordinate.SW)
}

func TestRectangleOf_Mercator(t *testing.T) {
	corners := Corners{
		NW: orb.Point{106.50, 29.60},
		NE: orb.Point{106.52, 29.60},
		SE: orb.Point{106.52, 29.58},
		SW: orb.Point{106.50, 29.58},
	}

	rect := RectangleOf(EPSG3857, corners, 15)

	assert.Equal(t, TileRange{StartRow: 13561, EndRow: 13563, StartCol: 26077, EndCol: 26079}, rect.Range())
	assert.Equal(t, MercatorToLngLat(TileToMercator(13564, 26080, 15)), rect.Coordinate.SE)

	nw, se := Origins(EPSG3857, rect.Range(), 15)
	assert.Equal(t, TileToMercator(13561, 26077, 15), nw)
	assert.Equal(t, TileToMercator(13564, 26080, 15), se)
}

func TestRectangle_RangeNormalizesSwappedCorners(t *testing.T) {
	corners := Corners{
		NW: orb.Point{106.52, 29.58},
		NE: orb.Point{106.50, 29.58},
		SE: orb.Point{106.50, 29.60},
		SW: orb.Point{106.52, 29.60},
	}

	rect := RectangleOf(EPSG4326, corners, 15)

	assert.Equal(t, TileRange{StartRow: 5497, EndRow: 5499, StartCol: 26077, EndCol: 26079}, rect.Range())
}

func TestRectangle_JSON(t *testing.T) {
	rect := RectangleOf(EPSG4326, Corners{
		NW: chongqing, NE: chongqing, SE: chongqing, SW: chongqing,
	}, 15)

	b, err := json.Marshal(rect)
	require.NoError(t, err)

	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &got))
	assert.JSONEq(t, `15`, string(got["zoom"]))

	var tiles map[string][3]int
	require.NoError(t, json.Unmarshal(got["tile"], &tiles))
	assert.Equal(t, [3]int{5500, 26085, 15}, tiles["nw"])

	var tile Tile
	require.NoError(t, json.Unmarshal([]byte(`[1,2,3]`), &tile))
	assert.Equal(t, Tile{1, 2, 3}, tile)
}

func TestRectangle_FeatureAndBound(t *testing.T) {
	rect := RectangleOf(EPSG4326, Corners{
		NW: orb.Point{106.50, 29.60},
		NE: orb.Point{106.52, 29.60},
		SE: orb.Point{106.52, 29.58},
		SW: orb.Point{106.50, 29.58},
	}, 15)

	bound := rect.Bound()
	assert.Equal(t, rect.Coordinate.NW[0], bound.Min[0])
	assert.Equal(t, rect.Coordinate.SE[1], bound.Min[1])
	assert.Equal(t, rect.Coordinate.SE[0], bound.Max[0])
	assert.Equal(t, rect.Coordinate.NW[1], bound.Max[1])

	feature := rect.Feature()
	poly, ok := feature.Geometry.(orb.Polygon)
	require.True(t, ok)
	assert.Len(t, poly[0], 5)
	assert.Equal(t, 9, feature.Properties["tiles"])
	assert.Equal(t, "EPSG:4326", feature.Properties["projection"])
}
