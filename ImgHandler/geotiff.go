package ImgHandler

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"image"
	"io"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

// MaxRasterBytes 未压缩 RGB 像素数据上限，经典 TIFF 偏移为 32 位，预留头部与 IFD 空间
const MaxRasterBytes = math.MaxUint32 - 1<<20

// ErrRasterTooLarge 像素数据超出经典 TIFF 可寻址范围
var ErrRasterTooLarge = errors.New("raster too large for tiff")

// RasterBytes RGB 像素数据字节数
func RasterBytes(width, height int) uint64 {
	return uint64(width) * uint64(height) * 3
}

// TIFF 数据类型
const (
	tiffShort  = 3
	tiffLong   = 4
	tiffDouble = 12
)

// TIFF 与 GeoTIFF 标签
const (
	tagImageWidth         = 256
	tagImageLength        = 257
	tagBitsPerSample      = 258
	tagCompression        = 259
	tagPhotometric        = 262
	tagStripOffsets       = 273
	tagSamplesPerPixel    = 277
	tagRowsPerStrip       = 278
	tagStripByteCounts    = 279
	tagPlanarConfig       = 284
	tagModelPixelScale    = 33550
	tagModelTiepoint      = 33922
	tagGeoKeyDirectory    = 34735
	geoKeyModelType       = 1024
	geoKeyRasterType      = 1025
	geoKeyGeographicType  = 2048
	geoKeyGeogAngularUnit = 2054
	geoKeyProjectedCSType = 3072
	geoKeyProjLinearUnits = 3076
)

var le = binary.LittleEndian

// GeoTransform 仿射变换，含义同 GDAL：
// 左上角X、像素宽、旋转、左上角Y、旋转、像素高（北向上时为负）
type GeoTransform [6]float64

// AffineTransform 由覆盖窗口左上角与右下角坐标计算仿射变换
func AffineTransform(nw, se orb.Point, width, height int) GeoTransform {
	return GeoTransform{
		nw[0], (se[0] - nw[0]) / float64(width), 0,
		nw[1], 0, (se[1] - nw[1]) / float64(height),
	}
}

// GCP 地面控制点
type GCP struct {
	Pixel float64
	Line  float64
	X     float64
	Y     float64
}

// CornerGCPs 以四角坐标生成控制点，像素位置为 (0,0)、(w-1,0)、(w-1,h-1)、(0,h-1)
func CornerGCPs(nw, ne, se, sw orb.Point, width, height int) []GCP {
	w, h := float64(width-1), float64(height-1)
	return []GCP{
		{Pixel: 0, Line: 0, X: nw[0], Y: nw[1]},
		{Pixel: w, Line: 0, X: ne[0], Y: ne[1]},
		{Pixel: w, Line: h, X: se[0], Y: se[1]},
		{Pixel: 0, Line: h, X: sw[0], Y: sw[1]},
	}
}

// GeoReference 地理配准信息，Transform 与 GCPs 二选一
type GeoReference struct {
	SRID      int
	Transform *GeoTransform
	GCPs      []GCP
}

type ifdEntry struct {
	tag      uint16
	datatype uint16
	count    uint32
	data     []byte
}

func (g GeoReference) entries() ([]ifdEntry, error) {
	var out []ifdEntry
	switch {
	case g.Transform != nil:
		t := g.Transform
		if t[2] != 0 || t[4] != 0 {
			return nil, errors.New("rotated transforms are not supported")
		}
		out = append(out,
			ifdEntry{tagModelPixelScale, tiffDouble, 3, doubles(t[1], -t[5], 0)},
			ifdEntry{tagModelTiepoint, tiffDouble, 6, doubles(0, 0, 0, t[0], t[3], 0)},
		)
	case len(g.GCPs) > 0:
		var points []float64
		for _, p := range g.GCPs {
			points = append(points, p.Pixel, p.Line, 0, p.X, p.Y, 0)
		}
		out = append(out, ifdEntry{tagModelTiepoint, tiffDouble, uint32(len(points)), doubles(points...)})
	default:
		return nil, errors.New("geo reference needs a transform or control points")
	}

	var keys []uint16
	switch g.SRID {
	case 4326:
		keys = []uint16{
			geoKeyModelType, 0, 1, 2,
			geoKeyRasterType, 0, 1, 1,
			geoKeyGeographicType, 0, 1, 4326,
			geoKeyGeogAngularUnit, 0, 1, 9102,
		}
	case 3857:
		keys = []uint16{
			geoKeyModelType, 0, 1, 1,
			geoKeyRasterType, 0, 1, 1,
			geoKeyProjectedCSType, 0, 1, 3857,
			geoKeyProjLinearUnits, 0, 1, 9001,
		}
	default:
		return nil, errors.Errorf("unsupported srid %d", g.SRID)
	}
	dir := append([]uint16{1, 1, 0, uint16(len(keys) / 4)}, keys...)
	out = append(out, ifdEntry{tagGeoKeyDirectory, tiffShort, uint32(len(dir)), shorts(dir...)})
	return out, nil
}

// EncodeGeoTIFF 输出单条带、无压缩的 8 位 RGB GeoTIFF
func EncodeGeoTIFF(w io.Writer, img image.Image, ref GeoReference) error {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width == 0 || height == 0 {
		return errors.New("empty image")
	}
	if RasterBytes(width, height) > MaxRasterBytes {
		return errors.Wrapf(ErrRasterTooLarge, "%dx%d", width, height)
	}
	pixelBytes := uint32(width * height * 3)

	geo, err := ref.entries()
	if err != nil {
		return err
	}
	entries := append([]ifdEntry{
		{tagImageWidth, tiffLong, 1, longs(uint32(width))},
		{tagImageLength, tiffLong, 1, longs(uint32(height))},
		{tagBitsPerSample, tiffShort, 3, shorts(8, 8, 8)},
		{tagCompression, tiffShort, 1, shorts(1)},
		{tagPhotometric, tiffShort, 1, shorts(2)},
		{tagStripOffsets, tiffLong, 1, longs(0)},
		{tagSamplesPerPixel, tiffShort, 1, shorts(3)},
		{tagRowsPerStrip, tiffLong, 1, longs(uint32(height))},
		{tagStripByteCounts, tiffLong, 1, longs(pixelBytes)},
		{tagPlanarConfig, tiffShort, 1, shorts(1)},
	}, geo...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// 头部 8 字节，IFD 紧随其后，超过 4 字节的值放在 IFD 之后，像素数据最后
	ifdSize := 2 + 12*len(entries) + 4
	var extra bytes.Buffer
	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		if len(e.data) > 4 {
			offsets[i] = uint32(8 + ifdSize + extra.Len())
			extra.Write(e.data)
			if extra.Len()%2 == 1 {
				extra.WriteByte(0)
			}
		}
	}
	pixelOffset := uint32(8 + ifdSize + extra.Len())

	bw := bufio.NewWriter(w)
	bw.Write([]byte{'I', 'I', 42, 0, 8, 0, 0, 0})

	var buf [12]byte
	le.PutUint16(buf[:2], uint16(len(entries)))
	bw.Write(buf[:2])
	for i, e := range entries {
		le.PutUint16(buf[0:], e.tag)
		le.PutUint16(buf[2:], e.datatype)
		le.PutUint32(buf[4:], e.count)
		value := buf[8:12]
		clear(value)
		switch {
		case e.tag == tagStripOffsets:
			le.PutUint32(value, pixelOffset)
		case len(e.data) > 4:
			le.PutUint32(value, offsets[i])
		default:
			copy(value, e.data)
		}
		bw.Write(buf[:])
	}
	le.PutUint32(buf[:4], 0)
	bw.Write(buf[:4])
	bw.Write(extra.Bytes())

	if err := writeRGB(bw, img); err != nil {
		return err
	}
	return errors.Wrap(bw.Flush(), "write geotiff")
}

func writeRGB(w *bufio.Writer, img image.Image) error {
	b := img.Bounds()
	row := make([]byte, b.Dx()*3)
	rgba, fast := img.(*image.RGBA)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		if fast {
			start := rgba.PixOffset(b.Min.X, y)
			pix := rgba.Pix[start : start+b.Dx()*4]
			for x := 0; x < b.Dx(); x++ {
				copy(row[x*3:x*3+3], pix[x*4:x*4+3])
			}
		} else {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, _ := img.At(x, y).RGBA()
				i := (x - b.Min.X) * 3
				row[i], row[i+1], row[i+2] = uint8(r>>8), uint8(g>>8), uint8(bl>>8)
			}
		}
		if _, err := w.Write(row); err != nil {
			return errors.Wrap(err, "write pixels")
		}
	}
	return nil
}

func shorts(vs ...uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		le.PutUint16(b[i*2:], v)
	}
	return b
}

func longs(vs ...uint32) []byte {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		le.PutUint32(b[i*4:], v)
	}
	return b
}

func doubles(vs ...float64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		le.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}
