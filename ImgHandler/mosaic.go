package ImgHandler

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// MaxMosaicSide JPEG 单边像素上限
const MaxMosaicSide = 65500

var (
	// ErrEmptyMosaic 没有任何可用瓦片
	ErrEmptyMosaic = errors.New("no tile could be placed")
	// ErrMosaicTooLarge 拼接结果超出 JPEG 边长或 GeoTIFF 数据量上限
	ErrMosaicTooLarge = errors.New("mosaic too large")
)

// TileLoader 按窗口内行列偏移读取瓦片原始数据
type TileLoader func(ctx context.Context, rowOffset, colOffset int) ([]byte, error)

// MosaicStats 拼接统计
type MosaicStats struct {
	Placed  int `json:"placed"`
	Missing int `json:"missing"`
}

// Mosaic 将 rows×cols 个瓦片按行列偏移拼接为一张大图。
// 缺失或无法解码的瓦片位置保持黑色，尺寸不符的瓦片缩放到格网大小。
func Mosaic(ctx context.Context, rows, cols, tileSize int, load TileLoader) (*image.RGBA, MosaicStats, error) {
	var stats MosaicStats

	width, height := cols*tileSize, rows*tileSize
	if width <= 0 || height <= 0 {
		return nil, stats, errors.Errorf("invalid mosaic size %dx%d", width, height)
	}
	if width > MaxMosaicSide || height > MaxMosaicSide || RasterBytes(width, height) > MaxRasterBytes {
		return nil, stats, errors.Wrapf(ErrMosaicTooLarge, "%dx%d", width, height)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.Black, image.Point{}, draw.Src)

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}

			data, err := load(ctx, r, c)
			if err != nil || len(data) == 0 {
				stats.Missing++
				continue
			}
			tile, _, err := image.Decode(bytes.NewReader(data))
			if err != nil {
				stats.Missing++
				continue
			}

			cell := image.Rect(c*tileSize, r*tileSize, (c+1)*tileSize, (r+1)*tileSize)
			if tile.Bounds().Dx() == tileSize && tile.Bounds().Dy() == tileSize {
				draw.Draw(canvas, cell, tile, tile.Bounds().Min, draw.Src)
			} else {
				draw.CatmullRom.Scale(canvas, cell, tile, tile.Bounds(), draw.Src, nil)
			}
			stats.Placed++
		}
	}

	if stats.Placed == 0 {
		return nil, stats, ErrEmptyMosaic
	}
	return canvas, stats, nil
}

// EncodeJPEG 以最高质量输出 JPEG
func EncodeJPEG(w io.Writer, img image.Image) error {
	return errors.Wrap(jpeg.Encode(w, img, &jpeg.Options{Quality: 100}), "encode jpeg")
}
