package tile_proxy

import (
	"strings"
	"time"

	"github.com/GrainArc/MapPack/Transformer"
	"github.com/pkg/errors"
)

// Layer 图层类型
type Layer string

const (
	LayerImagery Layer = "img" // 影像
	LayerVector  Layer = "vec" // 矢量
)

// ErrUnknownLayer 不支持的图层类型
var ErrUnknownLayer = errors.New("unknown layer")

// ParseLayer 解析图层类型
func ParseLayer(s string) (Layer, error) {
	switch Layer(strings.ToLower(strings.TrimSpace(s))) {
	case LayerImagery:
		return LayerImagery, nil
	case LayerVector:
		return LayerVector, nil
	}
	return "", errors.Wrapf(ErrUnknownLayer, "%q", s)
}

// JobState 任务状态
type JobState string

const (
	StateDownloading JobState = "downloading"
	StateCompleted   JobState = "completed"
	StateCancelled   JobState = "cancelled"
)

// Cursor 下载循环最后访问的瓦片
type Cursor struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// FailedTile 下载失败的瓦片
type FailedTile struct {
	Zoom int `json:"zoom"`
	Row  int `json:"row"`
	Col  int `json:"col"`
}

// Job 瓦片批量下载任务
type Job struct {
	ID         string                 `json:"uuid"`
	Projection Transformer.Projection `json:"projection"`
	Layer      Layer                  `json:"type"`
	Zoom       int                    `json:"zoom"`
	Range      Transformer.TileRange  `json:"tileRange"`
	State      JobState               `json:"state"`
	Cursor     Cursor                 `json:"cursor"`
	Total      int                    `json:"total"`
	Current    int                    `json:"current"`
	Failed     []FailedTile           `json:"failed"`
	Message    string                 `json:"message,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

func newJob(id string, projection Transformer.Projection, layer Layer, zoom int, r Transformer.TileRange) Job {
	now := time.Now()
	return Job{
		ID:         id,
		Projection: projection,
		Layer:      layer,
		Zoom:       zoom,
		Range:      r,
		State:      StateDownloading,
		Cursor:     Cursor{Row: r.StartRow, Col: r.StartCol},
		Total:      r.Total(),
		Failed:     []FailedTile{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// clone 复制快照，失败列表不与存储共享
func (j Job) clone() Job {
	failed := make([]FailedTile, len(j.Failed))
	copy(failed, j.Failed)
	j.Failed = failed
	return j
}

// Succeeded 全部瓦片下载成功且任务已完成
func (j Job) Succeeded() bool {
	return j.State == StateCompleted && len(j.Failed) == 0
}

// Progress 完成比例，0~1
func (j Job) Progress() float64 {
	if j.Total == 0 {
		return 0
	}
	return float64(j.Current) / float64(j.Total)
}

// TileSet 任务对应的瓦片集合
func (j Job) TileSet() TileSet {
	return TileSet{Projection: j.Projection, Layer: j.Layer, Zoom: j.Zoom, Range: j.Range}
}

// TileSet 同一投影、图层与层级下的瓦片窗口
type TileSet struct {
	Projection Transformer.Projection
	Layer      Layer
	Zoom       int
	Range      Transformer.TileRange
}

// Tile 集合内线性下标对应的瓦片
func (s TileSet) Tile(i int) TileRequest {
	row, col := s.Range.Cell(i)
	return TileRequest{Projection: s.Projection, Layer: s.Layer, Zoom: s.Zoom, Row: row, Col: col}
}

// TileRequest 单个瓦片的定位信息
type TileRequest struct {
	Projection Transformer.Projection
	Layer      Layer
	Zoom       int
	Row        int
	Col        int
}
