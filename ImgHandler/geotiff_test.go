package ImgHandler

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

type parsedTag struct {
	datatype uint16
	count    uint32
	value    []byte
}

// readIFD 解析首个 IFD，返回标签到原始值的映射
func readIFD(t *testing.T, data []byte) map[uint16]parsedTag {
	t.Helper()

	require.Equal(t, []byte{'I', 'I', 42, 0}, data[:4])
	off := binary.LittleEndian.Uint32(data[4:8])
	n := int(binary.LittleEndian.Uint16(data[off:]))

	sizes := map[uint16]uint32{tiffShort: 2, tiffLong: 4, tiffDouble: 8}
	tags := make(map[uint16]parsedTag, n)
	for i := 0; i < n; i++ {
		e := data[int(off)+2+12*i:]
		tag := binary.LittleEndian.Uint16(e[0:])
		typ := binary.LittleEndian.Uint16(e[2:])
		count := binary.LittleEndian.Uint32(e[4:])
		size := sizes[typ] * count
		value := e[8:12]
		if size > 4 {
			at := binary.LittleEndian.Uint32(e[8:])
			value = data[at : at+size]
		}
		tags[tag] = parsedTag{datatype: typ, count: count, value: value[:min(size, uint32(len(value)))]}
	}
	return tags
}

func tagDoubles(p parsedTag) []float64 {
	out := make([]float64, p.count)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(p.value[i*8:]))
	}
	return out
}

func tagShorts(p parsedTag) []uint16 {
	out := make([]uint16, p.count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(p.value[i*2:])
	}
	return out
}

func TestAffineTransform(t *testing.T) {
	tr := AffineTransform(orb.Point{100, 30}, orb.Point{101, 29}, 512, 256)

	assert.Equal(t, GeoTransform{100, 1.0 / 512, 0, 30, 0, -1.0 / 256}, tr)
}

func TestCornerGCPs(t *testing.T) {
	gcps := CornerGCPs(orb.Point{0, 1}, orb.Point{1, 1}, orb.Point{1, 0}, orb.Point{0, 0}, 10, 20)

	require.Len(t, gcps, 4)
	assert.Equal(t, GCP{Pixel: 9, Line: 19, X: 1, Y: 0}, gcps[2])
	assert.Equal(t, GCP{Pixel: 0, Line: 19, X: 0, Y: 0}, gcps[3])
}

func TestEncodeGeoTIFF_Affine(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(3, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	tr := AffineTransform(orb.Point{106.5, 29.6}, orb.Point{106.6, 29.5}, 4, 2)

	var buf bytes.Buffer
	err := EncodeGeoTIFF(&buf, img, GeoReference{SRID: 4326, Transform: &tr})
	require.NoError(t, err)

	data := buf.Bytes()
	tags := readIFD(t, data)

	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(tags[tagImageWidth].value))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(tags[tagImageLength].value))

	scale := tagDoubles(tags[tagModelPixelScale])
	assert.InDelta(t, 0.025, scale[0], 1e-12)
	assert.InDelta(t, 0.05, scale[1], 1e-12)
	assert.Equal(t, []float64{0, 0, 0, 106.5, 29.6, 0}, tagDoubles(tags[tagModelTiepoint]))

	keys := tagShorts(tags[tagGeoKeyDirectory])
	assert.Equal(t, []uint16{1, 1, 0, 4}, keys[:4])
	assert.Contains(t, keys, uint16(4326))

	start := binary.LittleEndian.Uint32(tags[tagStripOffsets].value)
	count := binary.LittleEndian.Uint32(tags[tagStripByteCounts].value)
	assert.Equal(t, uint32(4*2*3), count)
	require.Equal(t, int(start+count), len(data))
	last := data[len(data)-3:]
	assert.Equal(t, []byte{10, 20, 30}, last)
}

func TestEncodeGeoTIFF_GCP(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 3))
	gcps := CornerGCPs(orb.Point{0, 3}, orb.Point{3, 3}, orb.Point{3, 0}, orb.Point{0, 0}, 3, 3)

	var buf bytes.Buffer
	require.NoError(t, EncodeGeoTIFF(&buf, img, GeoReference{SRID: 3857, GCPs: gcps}))

	tags := readIFD(t, buf.Bytes())
	_, hasScale := tags[tagModelPixelScale]
	assert.False(t, hasScale)
	assert.Len(t, tagDoubles(tags[tagModelTiepoint]), 24)
	assert.Contains(t, tagShorts(tags[tagGeoKeyDirectory]), uint16(3857))
}

func TestEncodeGeoTIFF_Errors(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	tr := GeoTransform{0, 1, 0, 0, 0, -1}

	assert.Error(t, EncodeGeoTIFF(&bytes.Buffer{}, img, GeoReference{SRID: 4326}))
	assert.Error(t, EncodeGeoTIFF(&bytes.Buffer{}, img, GeoReference{SRID: 2000, Transform: &tr}))
	assert.Error(t, EncodeGeoTIFF(&bytes.Buffer{}, image.NewRGBA(image.Rect(0, 0, 0, 0)), GeoReference{SRID: 4326, Transform: &tr}))
}

func TestEncodeGeoTIFF_Decodable(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 5, 3))
	img.Set(4, 2, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	tr := AffineTransform(orb.Point{0, 0}, orb.Point{5, -3}, 5, 3)

	var buf bytes.Buffer
	require.NoError(t, EncodeGeoTIFF(&buf, img, GeoReference{SRID: 3857, Transform: &tr}))

	decoded, err := tiff.Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
	r, g, b, _ := decoded.At(4, 2).RGBA()
	assert.Equal(t, []uint32{200, 100, 50}, []uint32{r >> 8, g >> 8, b >> 8})
}

// hugeImage 只有尺寸没有像素存储
type hugeImage struct{ side int }

func (hugeImage) ColorModel() color.Model   { return color.RGBAModel }
func (h hugeImage) Bounds() image.Rectangle { return image.Rect(0, 0, h.side, h.side) }
func (hugeImage) At(int, int) color.Color   { return color.Black }

func TestEncodeGeoTIFF_TooLarge(t *testing.T) {
	tr := GeoTransform{0, 1, 0, 0, 0, -1}

	// 150x150 个瓦片
	err := EncodeGeoTIFF(&bytes.Buffer{}, hugeImage{side: 38400}, GeoReference{SRID: 4326, Transform: &tr})
	assert.ErrorIs(t, err, ErrRasterTooLarge)

	assert.Greater(t, RasterBytes(38400, 38400), uint64(MaxRasterBytes))
	assert.LessOrEqual(t, RasterBytes(37632, 37632), uint64(MaxRasterBytes))
}
