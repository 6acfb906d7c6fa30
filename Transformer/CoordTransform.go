package Transformer

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

// 投影与瓦片切分常量，数值需与瓦片服务保持一致
const (
	// ProjectionShift 经纬度与米坐标互转使用的半周长
	ProjectionShift = 20037508.34
	// MercatorOrigin 墨卡托瓦片切分原点（左上角取负/正值）
	MercatorOrigin = 20037508.3427892
	// EarthRadius 地球半径（米）
	EarthRadius = 6378137.0
	// TileSize 瓦片像素尺寸
	TileSize = 256
)

// EarthCircumference 地球周长（米）
var EarthCircumference = 2 * math.Pi * EarthRadius

// Projection 投影代码
type Projection string

const (
	EPSG4326 Projection = "EPSG:4326"
	EPSG3857 Projection = "EPSG:3857"
	// EPSG900913 旧版墨卡托代码，解析时归一为 EPSG3857
	EPSG900913 Projection = "EPSG:900913"
)

// ErrUnknownProjection 不支持的投影代码
var ErrUnknownProjection = errors.New("unknown projection")

// ParseProjection 解析投影代码
func ParseProjection(code string) (Projection, error) {
	switch Projection(strings.ToUpper(strings.TrimSpace(code))) {
	case EPSG4326:
		return EPSG4326, nil
	case EPSG3857, EPSG900913:
		return EPSG3857, nil
	}
	return "", errors.Wrapf(ErrUnknownProjection, "%q", code)
}

// Dir 投影对应的存储目录名
func (p Projection) Dir() string {
	if p.IsMercator() {
		return "epsg3857"
	}
	return "epsg4326"
}

// SRID 投影的EPSG编号
func (p Projection) SRID() int {
	if p.IsMercator() {
		return 3857
	}
	return 4326
}

// IsMercator 是否为墨卡托投影
func (p Projection) IsMercator() bool {
	return p == EPSG3857 || p == EPSG900913
}

// Tile 瓦片行列号，JSON 形式为 [row, col, zoom]
type Tile struct {
	Row  int
	Col  int
	Zoom int
}

func (t Tile) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]int{t.Row, t.Col, t.Zoom})
}

func (t *Tile) UnmarshalJSON(data []byte) error {
	var v [3]int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	t.Row, t.Col, t.Zoom = v[0], v[1], v[2]
	return nil
}

// LngLatToMercator 经纬度转米坐标
func LngLatToMercator(p orb.Point) orb.Point {
	x := p[0] * ProjectionShift / 180
	y := math.Log(math.Tan((90+p[1])*math.Pi/360)) / (math.Pi / 180)
	y = y * ProjectionShift / 180
	return orb.Point{x, y}
}

// MercatorToLngLat 米坐标转经纬度
func MercatorToLngLat(p orb.Point) orb.Point {
	lng := p[0] / ProjectionShift * 180
	lat := p[1] / ProjectionShift * 180
	lat = 180 / math.Pi * (2*math.Atan(math.Exp(lat*math.Pi/180)) - math.Pi/2)
	return orb.Point{lng, lat}
}

// MetersPerPixel 指定层级下每像素代表的米数
func MetersPerPixel(zoom int) float64 {
	return EarthCircumference / (TileSize * math.Pow(2, float64(zoom)))
}

// LngLatToTile 经纬度切分方案下坐标所在瓦片
func LngLatToTile(p orb.Point, zoom int) Tile {
	row := math.Floor((90 - p[1]) / (180 / math.Pow(2, float64(zoom-1))))
	col := math.Floor((p[0] + 180) / (360 / math.Pow(2, float64(zoom))))
	return Tile{Row: int(row), Col: int(col), Zoom: zoom}
}

// TileToLngLat 经纬度切分方案下瓦片左上角坐标
func TileToLngLat(row, col, zoom int) orb.Point {
	lng := -180 + float64(col)*(360/math.Pow(2, float64(zoom)))
	lat := 90 - float64(row)*(180/math.Pow(2, float64(zoom-1)))
	return orb.Point{lng, lat}
}

// MercatorToTile 墨卡托切分方案下米坐标所在瓦片
func MercatorToTile(p orb.Point, zoom int) Tile {
	span := MetersPerPixel(zoom) * TileSize
	row := math.Floor((MercatorOrigin - p[1]) / span)
	col := math.Floor((p[0] + MercatorOrigin) / span)
	return Tile{Row: int(row), Col: int(col), Zoom: zoom}
}

// TileToMercator 墨卡托切分方案下瓦片左上角米坐标
func TileToMercator(row, col, zoom int) orb.Point {
	span := MetersPerPixel(zoom) * TileSize
	return orb.Point{-MercatorOrigin + float64(col)*span, MercatorOrigin - float64(row)*span}
}

// TileOf 经纬度坐标在指定投影切分方案下所在瓦片
func TileOf(projection Projection, lngLat orb.Point, zoom int) Tile {
	if projection.IsMercator() {
		return MercatorToTile(LngLatToMercator(lngLat), zoom)
	}
	return LngLatToTile(lngLat, zoom)
}

// NativeOrigin 瓦片左上角在投影原生单位（度或米）下的坐标
func NativeOrigin(projection Projection, row, col, zoom int) orb.Point {
	if projection.IsMercator() {
		return TileToMercator(row, col, zoom)
	}
	return TileToLngLat(row, col, zoom)
}

// OriginOf 瓦片左上角的经纬度坐标
func OriginOf(projection Projection, row, col, zoom int) orb.Point {
	if projection.IsMercator() {
		return MercatorToLngLat(TileToMercator(row, col, zoom))
	}
	return TileToLngLat(row, col, zoom)
}

// TileRange 闭区间瓦片窗口
type TileRange struct {
	StartRow int `json:"startRow"`
	EndRow   int `json:"endRow"`
	StartCol int `json:"startCol"`
	EndCol   int `json:"endCol"`
}

func (r TileRange) Rows() int { return r.EndRow - r.StartRow + 1 }

func (r TileRange) Cols() int { return r.EndCol - r.StartCol + 1 }

// Total 窗口内瓦片总数
func (r TileRange) Total() int { return r.Rows() * r.Cols() }

// Cell 按行优先顺序将线性下标转换为行列号
func (r TileRange) Cell(i int) (row, col int) {
	cols := r.Cols()
	return r.StartRow + i/cols, r.StartCol + i%cols
}

// Index 行列号对应的线性下标
func (r TileRange) Index(row, col int) int {
	return (row-r.StartRow)*r.Cols() + (col - r.StartCol)
}

func (r TileRange) Contains(row, col int) bool {
	return row >= r.StartRow && row <= r.EndRow && col >= r.StartCol && col <= r.EndCol
}

// Last 窗口最后一个瓦片（右下角）
func (r TileRange) Last() (row, col int) {
	return r.EndRow, r.EndCol
}

// Origins 覆盖窗口左上角与右下角在投影原生单位下的坐标，用于地理配准
func Origins(projection Projection, r TileRange, zoom int) (nw, se orb.Point) {
	nw = NativeOrigin(projection, r.StartRow, r.StartCol, zoom)
	se = NativeOrigin(projection, r.EndRow+1, r.EndCol+1, zoom)
	return nw, se
}

// Corners 矩形四角坐标，顺序为左上、右上、右下、左下
type Corners struct {
	NW orb.Point `json:"nw"`
	NE orb.Point `json:"ne"`
	SE orb.Point `json:"se"`
	SW orb.Point `json:"sw"`
}

// TileCorners 矩形四角所在瓦片
type TileCorners struct {
	NW Tile `json:"nw"`
	NE Tile `json:"ne"`
	SE Tile `json:"se"`
	SW Tile `json:"sw"`
}

// Rectangle 矩形选区信息
type Rectangle struct {
	Zoom       int         `json:"zoom"`
	Coordinate Corners     `json:"coordinate"`
	Tile       TileCorners `json:"tile"`
	Projection Projection  `json:"-"`
}

// RectangleOf 计算矩形选区的瓦片窗口及其四个原点坐标
func RectangleOf(projection Projection, corners Corners, zoom int) Rectangle {
	tiles := TileCorners{
		NW: TileOf(projection, corners.NW, zoom),
		NE: TileOf(projection, corners.NE, zoom),
		SE: TileOf(projection, corners.SE, zoom),
		SW: TileOf(projection, corners.SW, zoom),
	}
	return Rectangle{
		Zoom: zoom,
		Coordinate: Corners{
			NW: OriginOf(projection, tiles.NW.Row, tiles.NW.Col, zoom),
			NE: OriginOf(projection, tiles.NE.Row, tiles.NE.Col+1, zoom),
			SE: OriginOf(projection, tiles.SE.Row+1, tiles.SE.Col+1, zoom),
			SW: OriginOf(projection, tiles.SW.Row+1, tiles.SW.Col, zoom),
		},
		Tile:       tiles,
		Projection: projection,
	}
}

// Range 由左上角与右下角瓦片得到的下载窗口，角点颠倒时自动纠正
func (r Rectangle) Range() TileRange {
	nw, se := r.Tile.NW, r.Tile.SE
	return TileRange{
		StartRow: min(nw.Row, se.Row),
		EndRow:   max(nw.Row, se.Row),
		StartCol: min(nw.Col, se.Col),
		EndCol:   max(nw.Col, se.Col),
	}
}

// Bound 覆盖窗口的经纬度外包框
func (r Rectangle) Bound() orb.Bound {
	return orb.MultiPoint{r.Coordinate.NW, r.Coordinate.NE, r.Coordinate.SE, r.Coordinate.SW}.Bound()
}

// Feature 覆盖窗口的 GeoJSON 面要素
func (r Rectangle) Feature() *geojson.Feature {
	c := r.Coordinate
	ring := orb.Ring{c.NW, c.NE, c.SE, c.SW, c.NW}
	feature := geojson.NewFeature(orb.Polygon{ring})
	feature.Properties["zoom"] = r.Zoom
	feature.Properties["projection"] = string(r.Projection)
	feature.Properties["tiles"] = r.Range().Total()
	return feature
}
