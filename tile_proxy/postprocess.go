package tile_proxy

import (
	"context"
	"image"
	"io"
	"strings"

	"github.com/GrainArc/MapPack/ImgHandler"
	"github.com/GrainArc/MapPack/Transformer"
	"github.com/hashicorp/go-hclog"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

// Mosaicker 将任务窗口内的瓦片拼接为一张大图
type Mosaicker interface {
	Mosaic(ctx context.Context, set TileSet) (MosaicResult, error)
}

// GeoReferencer 为拼接大图附加空间参考，nw 与 se 为窗口两角的投影原生坐标
type GeoReferencer interface {
	GeoReference(ctx context.Context, set TileSet, nw, se orb.Point) (string, error)
}

// MosaicResult 拼接结果
type MosaicResult struct {
	Key        string `json:"key"`
	PreviewKey string `json:"previewKey"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	ImgHandler.MosaicStats
}

// BundleMosaicker 从存储读取瓦片并写出 bundle.jpg 与 preview.jpg
type BundleMosaicker struct {
	storage *TileStorage
	logger  hclog.Logger
}

// NewBundleMosaicker 创建拼接器
func NewBundleMosaicker(storage *TileStorage, logger hclog.Logger) *BundleMosaicker {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &BundleMosaicker{storage: storage, logger: logger}
}

// Mosaic 按行列偏移拼接窗口内全部瓦片，缺失瓦片留空
func (m *BundleMosaicker) Mosaic(ctx context.Context, set TileSet) (MosaicResult, error) {
	r := set.Range
	img, stats, err := ImgHandler.Mosaic(ctx, r.Rows(), r.Cols(), Transformer.TileSize,
		func(ctx context.Context, rowOffset, colOffset int) ([]byte, error) {
			return m.storage.ReadTile(ctx, TileRequest{
				Projection: set.Projection,
				Layer:      set.Layer,
				Zoom:       set.Zoom,
				Row:        r.StartRow + rowOffset,
				Col:        r.StartCol + colOffset,
			})
		})
	if err != nil {
		return MosaicResult{}, err
	}

	key := BundleKey(set)
	if err := writeObject(ctx, m.storage, key, "image/jpeg", func(w io.Writer) error {
		return ImgHandler.EncodeJPEG(w, img)
	}); err != nil {
		return MosaicResult{}, err
	}

	preview := PreviewKey(set)
	if err := writeObject(ctx, m.storage, preview, "image/jpeg", func(w io.Writer) error {
		return ImgHandler.EncodeJPEG(w, ImgHandler.Thumbnail(img, ImgHandler.PreviewSide))
	}); err != nil {
		return MosaicResult{}, err
	}

	m.logger.Info("bundle written", "key", key, "placed", stats.Placed, "missing", stats.Missing)
	return MosaicResult{
		Key:         key,
		PreviewKey:  preview,
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		MosaicStats: stats,
	}, nil
}

// GeoRefMethod 地理配准方式
type GeoRefMethod string

const (
	GeoRefAffine GeoRefMethod = "affine" // 仿射变换
	GeoRefGCP    GeoRefMethod = "gcp"    // 四角控制点
)

// ParseGeoRefMethod 解析配准方式，空值为仿射变换
func ParseGeoRefMethod(s string) (GeoRefMethod, error) {
	switch GeoRefMethod(strings.ToLower(strings.TrimSpace(s))) {
	case "", GeoRefAffine:
		return GeoRefAffine, nil
	case GeoRefGCP:
		return GeoRefGCP, nil
	}
	return "", errors.Errorf("unknown georeference method %q", s)
}

// BundleGeoReferencer 读取 bundle.jpg 并写出 bundle.tif
type BundleGeoReferencer struct {
	storage *TileStorage
	method  GeoRefMethod
	logger  hclog.Logger
}

// NewBundleGeoReferencer 创建地理配准器
func NewBundleGeoReferencer(storage *TileStorage, method GeoRefMethod, logger hclog.Logger) *BundleGeoReferencer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if method == "" {
		method = GeoRefAffine
	}
	return &BundleGeoReferencer{storage: storage, method: method, logger: logger}
}

// GeoReference 为拼接大图写出 GeoTIFF
func (g *BundleGeoReferencer) GeoReference(ctx context.Context, set TileSet, nw, se orb.Point) (string, error) {
	r, err := g.storage.NewReader(ctx, BundleKey(set))
	if err != nil {
		return "", err
	}
	img, _, err := image.Decode(r)
	r.Close()
	if err != nil {
		return "", errors.Wrap(err, "decode bundle")
	}

	b := img.Bounds()
	ref := ImgHandler.GeoReference{SRID: set.Projection.SRID()}
	switch g.method {
	case GeoRefGCP:
		ne := orb.Point{se[0], nw[1]}
		sw := orb.Point{nw[0], se[1]}
		ref.GCPs = ImgHandler.CornerGCPs(nw, ne, se, sw, b.Dx(), b.Dy())
	default:
		tr := ImgHandler.AffineTransform(nw, se, b.Dx(), b.Dy())
		ref.Transform = &tr
	}

	key := GeoTiffKey(set)
	if err := writeObject(ctx, g.storage, key, "image/tiff", func(w io.Writer) error {
		return ImgHandler.EncodeGeoTIFF(w, img, ref)
	}); err != nil {
		return "", err
	}

	g.logger.Info("geotiff written", "key", key, "method", g.method, "srid", ref.SRID)
	return key, nil
}
