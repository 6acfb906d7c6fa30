package tile_proxy

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/GrainArc/MapPack/Transformer"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
)

// testCorners 重庆附近 3x3 瓦片的选区（第15级）
func testCorners() Transformer.Corners {
	return Transformer.Corners{
		NW: orb.Point{106.50, 29.60},
		NE: orb.Point{106.52, 29.60},
		SE: orb.Point{106.52, 29.58},
		SW: orb.Point{106.50, 29.58},
	}
}

func newMemStorage(t *testing.T) *TileStorage {
	t.Helper()
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { bucket.Close() })
	return NewTileStorage(bucket)
}

func pngTile(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, Transformer.TileSize, Transformer.TileSize))
	for y := 0; y < Transformer.TileSize; y++ {
		for x := 0; x < Transformer.TileSize; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeFetcher 记录请求，可在每次调用时注入行为
type fakeFetcher struct {
	mu    sync.Mutex
	calls []TileRequest

	// hook 在返回前调用，i 为调用序号
	hook func(i int, t TileRequest)
	fail func(t TileRequest) error

	storage *TileStorage
	data    []byte
}

func (f *fakeFetcher) FetchTile(ctx context.Context, t TileRequest) error {
	f.mu.Lock()
	i := len(f.calls)
	f.calls = append(f.calls, t)
	f.mu.Unlock()

	if f.hook != nil {
		f.hook(i, t)
	}
	if f.fail != nil {
		if err := f.fail(t); err != nil {
			return err
		}
	}
	if f.storage != nil {
		return f.storage.WriteTile(ctx, t, f.data)
	}
	return nil
}

func (f *fakeFetcher) Calls() []TileRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]TileRequest, len(f.calls))
	copy(out, f.calls)
	return out
}

// fakePostProcess 同时实现 Mosaicker、GeoReferencer 与 BundleRecorder
type fakePostProcess struct {
	mu        sync.Mutex
	mosaics   int
	georefs   int
	records   []BundleResult
	mosaicErr error
}

func (p *fakePostProcess) Mosaic(_ context.Context, set TileSet) (MosaicResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mosaics++
	if p.mosaicErr != nil {
		return MosaicResult{}, p.mosaicErr
	}
	return MosaicResult{Key: BundleKey(set)}, nil
}

func (p *fakePostProcess) GeoReference(_ context.Context, set TileSet, _, _ orb.Point) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.georefs++
	return GeoTiffKey(set), nil
}

func (p *fakePostProcess) RecordBundle(_ context.Context, result BundleResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, result)
	return nil
}

func (p *fakePostProcess) Mosaics() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mosaics
}

// recordingObserver 保存全部快照
type recordingObserver struct {
	mu   sync.Mutex
	jobs []Job
}

func (o *recordingObserver) Publish(job Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobs = append(o.jobs, job)
}

func (o *recordingObserver) Jobs() []Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Job, len(o.jobs))
	copy(out, o.jobs)
	return out
}
