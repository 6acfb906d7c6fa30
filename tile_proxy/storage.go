package tile_proxy

import (
	"context"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// 存储目录前缀
const (
	tilePrefix    = "tile"
	bundlePrefix  = "bundle"
	geotiffPrefix = "geotiff"
)

// ErrObjectNotFound 存储中不存在该对象
var ErrObjectNotFound = errors.New("object not found")

// TileKey 瓦片存储路径 tile/<投影>/<图层>/<层级>/<行>/<列>.jpg
func TileKey(t TileRequest) string {
	return path.Join(tilePrefix, t.Projection.Dir(), string(t.Layer),
		strconv.Itoa(t.Zoom), strconv.Itoa(t.Row), strconv.Itoa(t.Col)+".jpg")
}

// BundleKey 拼接大图存储路径
func BundleKey(s TileSet) string {
	return path.Join(bundlePrefix, s.Projection.Dir(), string(s.Layer), strconv.Itoa(s.Zoom), "bundle.jpg")
}

// PreviewKey 拼接大图缩略图
func PreviewKey(s TileSet) string {
	return path.Join(bundlePrefix, s.Projection.Dir(), string(s.Layer), strconv.Itoa(s.Zoom), "preview.jpg")
}

// GeoTiffKey 地理配准成果存储路径
func GeoTiffKey(s TileSet) string {
	return path.Join(geotiffPrefix, s.Projection.Dir(), string(s.Layer), strconv.Itoa(s.Zoom), "bundle.tif")
}

// TileStorage 基于 blob 存储桶的瓦片与成果存储
type TileStorage struct {
	bucket *blob.Bucket
}

// NewTileStorage 创建存储
func NewTileStorage(bucket *blob.Bucket) *TileStorage {
	return &TileStorage{bucket: bucket}
}

// WriteTile 保存瓦片
func (s *TileStorage) WriteTile(ctx context.Context, t TileRequest, data []byte) error {
	key := TileKey(t)
	opts := &blob.WriterOptions{ContentType: http.DetectContentType(data)}
	return errors.Wrapf(s.bucket.WriteAll(ctx, key, data, opts), "write %s", key)
}

// ReadTile 读取瓦片
func (s *TileStorage) ReadTile(ctx context.Context, t TileRequest) ([]byte, error) {
	return s.ReadAll(ctx, TileKey(t))
}

// ReadAll 读取对象全部内容
func (s *TileStorage) ReadAll(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, wrapBlobErr(err, key)
	}
	return data, nil
}

// NewReader 打开对象读取流
func (s *TileStorage) NewReader(ctx context.Context, key string) (*blob.Reader, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, wrapBlobErr(err, key)
	}
	return r, nil
}

// NewWriter 打开对象写入流，调用方负责 Close
func (s *TileStorage) NewWriter(ctx context.Context, key, contentType string) (*blob.Writer, error) {
	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return nil, errors.Wrapf(err, "open writer %s", key)
	}
	return w, nil
}

// Exists 对象是否存在
func (s *TileStorage) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.bucket.Exists(ctx, key)
	return ok, errors.Wrapf(err, "stat %s", key)
}

// Delete 删除对象，不存在时忽略
func (s *TileStorage) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return errors.Wrapf(err, "delete %s", key)
	}
	return nil
}

func wrapBlobErr(err error, key string) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return errors.Wrap(ErrObjectNotFound, key)
	}
	return errors.Wrapf(err, "read %s", key)
}

// writeObject 写入对象，fn 出错时放弃本次写入
func writeObject(ctx context.Context, s *TileStorage, key, contentType string, fn func(w io.Writer) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.NewWriter(ctx, key, contentType)
	if err != nil {
		return err
	}
	if err := fn(w); err != nil {
		cancel()
		w.Close()
		return err
	}
	return errors.Wrapf(w.Close(), "close %s", key)
}
