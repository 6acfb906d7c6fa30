package services

import (
	"context"
	"encoding/json"

	"github.com/GrainArc/MapPack/models"
	"github.com/GrainArc/MapPack/tile_proxy"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrBundleNotFound 成果记录不存在
var ErrBundleNotFound = errors.New("bundle not found")

// BundleService 成果目录
type BundleService struct {
	db     *gorm.DB
	logger hclog.Logger
}

func NewBundleService(db *gorm.DB, logger hclog.Logger) *BundleService {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &BundleService{db: db, logger: logger}
}

// BundlePage 分页结果
type BundlePage struct {
	List      []models.BundleRecord `json:"list"`
	Total     int64                 `json:"total"`
	Page      int                   `json:"page"`
	PageSize  int                   `json:"pageSize"`
	TotalPage int64                 `json:"totalPage"`
}

// RecordBundle 保存成果，同一任务重复下载时覆盖
func (s *BundleService) RecordBundle(ctx context.Context, result tile_proxy.BundleResult) error {
	job := result.Job
	failed, err := json.Marshal(job.Failed)
	if err != nil {
		return errors.Wrap(err, "marshal failed tiles")
	}

	record := models.BundleRecord{
		UUID:        job.ID,
		Projection:  string(job.Projection),
		Layer:       string(job.Layer),
		Zoom:        job.Zoom,
		StartRow:    job.Range.StartRow,
		EndRow:      job.Range.EndRow,
		StartCol:    job.Range.StartCol,
		EndCol:      job.Range.EndCol,
		Total:       job.Total,
		FailedTiles: datatypes.JSON(failed),
		BundleKey:   result.Mosaic.Key,
		PreviewKey:  result.Mosaic.PreviewKey,
		GeoTiffKey:  result.GeoTiffKey,
		Width:       result.Mosaic.Width,
		Height:      result.Mosaic.Height,
		SRID:        job.Projection.SRID(),
		MinX:        result.NW[0],
		MaxY:        result.NW[1],
		MaxX:        result.SE[0],
		MinY:        result.SE[1],
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uuid"}},
		DoUpdates: clause.AssignmentColumns(bundleUpdateColumns),
	}).Create(&record).Error
	if err != nil {
		return errors.Wrapf(err, "save bundle %s", job.ID)
	}
	s.logger.Info("bundle recorded", "uuid", job.ID, "bundle", record.BundleKey, "geotiff", record.GeoTiffKey)
	return nil
}

var bundleUpdateColumns = []string{
	"projection", "layer", "zoom", "start_row", "end_row", "start_col", "end_col", "total",
	"failed_tiles", "bundle_key", "preview_key", "geotiff_key", "width", "height", "srid",
	"min_x", "max_y", "max_x", "min_y", "updated_at",
}

// List 按创建时间倒序分页
func (s *BundleService) List(ctx context.Context, page, pageSize int, projection string) (BundlePage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}

	query := s.db.WithContext(ctx).Model(&models.BundleRecord{})
	if projection != "" {
		query = query.Where("projection = ?", projection)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return BundlePage{}, errors.Wrap(err, "count bundles")
	}

	list := make([]models.BundleRecord, 0, pageSize)
	err := query.Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).Find(&list).Error
	if err != nil {
		return BundlePage{}, errors.Wrap(err, "list bundles")
	}

	return BundlePage{
		List:      list,
		Total:     total,
		Page:      page,
		PageSize:  pageSize,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	}, nil
}

// Get 按任务标识查询
func (s *BundleService) Get(ctx context.Context, uuid string) (models.BundleRecord, error) {
	var record models.BundleRecord
	err := s.db.WithContext(ctx).Where("uuid = ?", uuid).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return record, ErrBundleNotFound
	}
	return record, errors.Wrapf(err, "get bundle %s", uuid)
}
