package models

import (
	"time"

	"gorm.io/datatypes"
)

// BundleRecord 已完成下载的拼接成果
type BundleRecord struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UUID        string         `gorm:"column:uuid;size:64;uniqueIndex" json:"uuid"`       // 任务标识
	Projection  string         `gorm:"column:projection;size:16;index" json:"projection"` // 投影方式
	Layer       string         `gorm:"column:layer;size:8" json:"type"`                   // 图层类型
	Zoom        int            `gorm:"column:zoom" json:"zoom"`
	StartRow    int            `gorm:"column:start_row" json:"startRow"`
	EndRow      int            `gorm:"column:end_row" json:"endRow"`
	StartCol    int            `gorm:"column:start_col" json:"startCol"`
	EndCol      int            `gorm:"column:end_col" json:"endCol"`
	Total       int            `gorm:"column:total" json:"total"`                    // 瓦片总数
	FailedTiles datatypes.JSON `gorm:"column:failed_tiles" json:"failedTiles"`       // 失败瓦片 [{zoom,row,col}]
	BundleKey   string         `gorm:"column:bundle_key;type:text" json:"bundleKey"` // 拼接大图存储路径
	PreviewKey  string         `gorm:"column:preview_key;type:text" json:"previewKey"`
	GeoTiffKey  string         `gorm:"column:geotiff_key;type:text" json:"geotiffKey"`
	Width       int            `gorm:"column:width" json:"width"`
	Height      int            `gorm:"column:height" json:"height"`
	SRID        int            `gorm:"column:srid" json:"srid"`
	// 覆盖范围左上角与右下角，单位随 SRID
	MinX      float64   `gorm:"column:min_x" json:"minX"`
	MaxY      float64   `gorm:"column:max_y" json:"maxY"`
	MaxX      float64   `gorm:"column:max_x" json:"maxX"`
	MinY      float64   `gorm:"column:min_y" json:"minY"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (BundleRecord) TableName() string {
	return "bundle_record"
}
