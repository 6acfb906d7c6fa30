package tile_proxy

import (
	"context"
	"io"
	"os"
	"path"
	"time"

	"github.com/mholt/archiver/v3"
	"github.com/pkg/errors"
)

// blobFileInfo 以存储对象属性实现 os.FileInfo
type blobFileInfo struct {
	name    string
	size    int64
	modTime time.Time
}

func (fi blobFileInfo) Name() string       { return fi.name }
func (fi blobFileInfo) Size() int64        { return fi.size }
func (fi blobFileInfo) Mode() os.FileMode  { return 0o644 }
func (fi blobFileInfo) ModTime() time.Time { return fi.modTime }
func (fi blobFileInfo) IsDir() bool        { return false }
func (fi blobFileInfo) Sys() interface{}   { return nil }

// WriteArchive 将任务已下载的瓦片与成果打包为 zip 写入 w，返回写入的文件数
func WriteArchive(ctx context.Context, w io.Writer, storage *TileStorage, job Job) (n int, err error) {
	z := archiver.NewZip()
	if err := z.Create(w); err != nil {
		return 0, errors.Wrap(err, "create zip")
	}
	defer func() {
		if cerr := z.Close(); err == nil {
			err = errors.Wrap(cerr, "close zip")
		}
	}()

	set := job.TileSet()
	keys := make([]string, 0, job.Total+3)
	for i := 0; i < job.Total; i++ {
		keys = append(keys, TileKey(set.Tile(i)))
	}
	keys = append(keys, BundleKey(set), PreviewKey(set), GeoTiffKey(set))

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ok, err := addObject(ctx, z, storage, key)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// addObject 写入单个对象，不存在时跳过
func addObject(ctx context.Context, z *archiver.Zip, storage *TileStorage, key string) (bool, error) {
	r, err := storage.NewReader(ctx, key)
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer r.Close()

	err = z.Write(archiver.File{
		FileInfo: archiver.FileInfo{
			FileInfo:   blobFileInfo{name: path.Base(key), size: r.Size(), modTime: r.ModTime()},
			CustomName: key,
		},
		ReadCloser: r,
	})
	return err == nil, errors.Wrapf(err, "zip %s", key)
}
