package tile_proxy

import (
	"context"
	"time"

	"github.com/GrainArc/MapPack/Transformer"
	"github.com/hashicorp/go-hclog"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

var (
	// ErrJobNotFound 任务不存在
	ErrJobNotFound = errors.New("job not found")
	// ErrJobRunning 任务正在下载，忽略重复的继续请求
	ErrJobRunning = errors.New("job is downloading")
)

// Observer 接收任务快照变化
type Observer interface {
	Publish(job Job)
}

// BundleResult 一次完整下载的成果
type BundleResult struct {
	Job        Job
	Mosaic     MosaicResult
	GeoTiffKey string
	NW         orb.Point
	SE         orb.Point
}

// BundleRecorder 记录成果
type BundleRecorder interface {
	RecordBundle(ctx context.Context, result BundleResult) error
}

// Option 下载器选项
type Option func(*Downloader)

// WithLogger 设置日志
func WithLogger(logger hclog.Logger) Option {
	return func(d *Downloader) { d.logger = logger }
}

// WithObserver 设置进度订阅者
func WithObserver(o Observer) Option {
	return func(d *Downloader) { d.observer = o }
}

// WithRecorder 设置成果记录
func WithRecorder(r BundleRecorder) Option {
	return func(d *Downloader) { d.recorder = r }
}

// WithProcessor 设置后处理执行器
func WithProcessor(p *SafeProcessor) Option {
	return func(d *Downloader) { d.processor = p }
}

// Downloader 瓦片范围下载调度器。
// 每个任务逐个瓦片顺序下载，取消在下一个瓦片开始前生效，继续从第一个未下载的瓦片开始。
type Downloader struct {
	store     *JobStore
	fetcher   TileFetcher
	mosaicker Mosaicker
	georef    GeoReferencer
	recorder  BundleRecorder
	observer  Observer
	processor *SafeProcessor
	logger    hclog.Logger
}

// NewDownloader 创建下载调度器
func NewDownloader(store *JobStore, fetcher TileFetcher, mosaicker Mosaicker, georef GeoReferencer, opts ...Option) *Downloader {
	d := &Downloader{
		store:     store,
		fetcher:   fetcher,
		mosaicker: mosaicker,
		georef:    georef,
		processor: NewSafeProcessor(2, 10*time.Minute),
		logger:    hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Store 任务注册表
func (d *Downloader) Store() *JobStore {
	return d.store
}

// Start 新建（或覆盖同名）任务并同步执行到结束。
// 返回最终快照，存在失败瓦片或任务被取消时第二个返回值为 false。
func (d *Downloader) Start(ctx context.Context, id string, projection Transformer.Projection, layer Layer, zoom int, corners Transformer.Corners) (Job, bool) {
	e, done, snap := d.create(id, projection, layer, zoom, corners)
	d.publish(snap)
	return d.run(ctx, e, 1, done)
}

// StartAsync 新建任务并在后台执行，立即返回初始快照
func (d *Downloader) StartAsync(ctx context.Context, id string, projection Transformer.Projection, layer Layer, zoom int, corners Transformer.Corners) Job {
	e, done, snap := d.create(id, projection, layer, zoom, corners)
	d.publish(snap)
	go d.run(ctx, e, 1, done)
	return snap
}

func (d *Downloader) create(id string, projection Transformer.Projection, layer Layer, zoom int, corners Transformer.Corners) (*jobEntry, chan struct{}, Job) {
	rect := Transformer.RectangleOf(projection, corners, zoom)
	e, done := d.store.put(newJob(id, projection, layer, zoom, rect.Range()))
	snap := e.snapshot()
	d.logger.Info("job created", "uuid", id, "projection", projection, "type", layer,
		"zoom", zoom, "total", snap.Total)
	return e, done, snap
}

// Cancel 请求取消任务，仅对下载中的任务生效。返回任务是否存在。
func (d *Downloader) Cancel(id string) bool {
	e, ok := d.store.load(id)
	if !ok {
		return false
	}
	changed := false
	snap := e.update(func(job *Job) {
		if job.State == StateDownloading {
			job.State = StateCancelled
			changed = true
		}
	})
	if changed {
		d.logger.Info("job cancel requested", "uuid", id, "current", snap.Current, "total", snap.Total)
		d.publish(snap)
	}
	return true
}

// Resume 继续已取消的任务。
// 任务下载中时返回 ErrJobRunning 且不做任何修改；全部瓦片已下载时直接标记完成。
func (d *Downloader) Resume(ctx context.Context, id string) (Job, bool, error) {
	e, ok := d.store.load(id)
	if !ok {
		return Job{}, false, ErrJobNotFound
	}

	e.mu.Lock()
	job := &e.job
	if job.State == StateDownloading {
		snap := job.clone()
		e.mu.Unlock()
		return snap, false, ErrJobRunning
	}
	if job.Current >= job.Total {
		// 已完成的任务不再重复拼接
		if job.State != StateCompleted {
			e.generation++
		}
		job.State = StateCompleted
		job.Cursor.Row, job.Cursor.Col = job.Range.Last()
		job.UpdatedAt = time.Now()
		snap := job.clone()
		e.mu.Unlock()
		d.publish(snap)
		return snap, true, nil
	}

	job.State = StateDownloading
	job.UpdatedAt = time.Now()
	e.generation++
	gen := e.generation
	prev := e.running
	done := make(chan struct{})
	e.running = done
	snap := job.clone()
	e.mu.Unlock()

	d.logger.Info("job resumed", "uuid", id, "current", snap.Current, "total", snap.Total)
	d.publish(snap)

	// 等待上一轮循环处理完进行中的瓦片后退出
	if prev != nil {
		<-prev
	}
	snap, ok = d.run(ctx, e, gen, done)
	return snap, ok, nil
}

// Progress 获取任务快照
func (d *Downloader) Progress(id string) (Job, bool) {
	return d.store.Get(id)
}

// Delete 删除任务，下载中的任务先取消
func (d *Downloader) Delete(id string) bool {
	e, ok := d.store.remove(id)
	if !ok {
		return false
	}
	e.retire()
	d.logger.Info("job deleted", "uuid", id)
	return true
}

// run 下载循环，以已下载数量作为线性游标
func (d *Downloader) run(ctx context.Context, e *jobEntry, gen uint64, done chan struct{}) (Job, bool) {
	defer close(done)

	var completed Job
	for {
		e.mu.Lock()
		job := &e.job
		if e.generation != gen {
			snap := job.clone()
			e.mu.Unlock()
			return snap, false
		}
		if job.Current >= job.Total {
			completed = complete(job)
			e.mu.Unlock()
			break
		}
		if job.State == StateCancelled {
			snap := job.clone()
			e.mu.Unlock()
			d.logger.Info("job cancelled", "uuid", snap.ID, "current", snap.Current, "total", snap.Total)
			return snap, false
		}
		tile := job.TileSet().Tile(job.Current)
		job.Cursor = Cursor{Row: tile.Row, Col: tile.Col}
		if err := ctx.Err(); err != nil {
			snap := interrupt(job, err)
			e.mu.Unlock()
			d.publish(snap)
			return snap, false
		}
		e.mu.Unlock()

		err := d.fetcher.FetchTile(ctx, tile)

		e.mu.Lock()
		if err != nil && ctx.Err() != nil {
			// 进程退出导致的失败不计入，继续时重新下载该瓦片
			snap := interrupt(job, ctx.Err())
			e.mu.Unlock()
			d.publish(snap)
			return snap, false
		}
		job.Current++
		if err != nil {
			job.Failed = append(job.Failed, FailedTile{Zoom: tile.Zoom, Row: tile.Row, Col: tile.Col})
			d.logger.Warn("tile failed", "uuid", job.ID, "zoom", tile.Zoom, "row", tile.Row, "col", tile.Col, "error", err)
		}
		job.UpdatedAt = time.Now()
		snap := job.clone()
		// 最后一个瓦片与完成状态在同一次加锁内更新，取消只在下一个瓦片开始前生效
		last := job.Current >= job.Total
		if last {
			completed = complete(job)
		}
		e.mu.Unlock()
		d.publish(snap)
		if last {
			break
		}
	}

	d.logger.Info("job completed", "uuid", completed.ID, "total", completed.Total, "failed", len(completed.Failed))
	d.publish(completed)

	snap := completed
	if err := d.postProcess(ctx, completed); err != nil {
		d.logger.Error("post processing failed", "uuid", completed.ID, "error", err)
		snap = e.update(func(job *Job) {
			if e.generation == gen {
				job.Message = err.Error()
			}
		})
		d.publish(snap)
	} else {
		snap = e.snapshot()
	}
	return snap, snap.Succeeded()
}

// complete 标记完成，调用方持有锁
func complete(job *Job) Job {
	job.State = StateCompleted
	job.UpdatedAt = time.Now()
	return job.clone()
}

// interrupt 进程退出时中断任务，调用方持有锁
func interrupt(job *Job, err error) Job {
	job.State = StateCancelled
	job.Message = "interrupted: " + err.Error()
	job.UpdatedAt = time.Now()
	return job.clone()
}

// postProcess 拼接大图并地理配准，失败不影响任务状态
func (d *Downloader) postProcess(ctx context.Context, job Job) error {
	if d.mosaicker == nil || d.georef == nil {
		return nil
	}
	set := job.TileSet()
	nw, se := Transformer.Origins(job.Projection, job.Range, job.Zoom)

	return d.processor.ProcessWithRecover(ctx, func(ctx context.Context) error {
		mosaic, err := d.mosaicker.Mosaic(ctx, set)
		if err != nil {
			return errors.Wrap(err, "mosaic")
		}
		tif, err := d.georef.GeoReference(ctx, set, nw, se)
		if err != nil {
			return errors.Wrap(err, "georeference")
		}
		if d.recorder == nil {
			return nil
		}
		result := BundleResult{Job: job, Mosaic: mosaic, GeoTiffKey: tif, NW: nw, SE: se}
		if err := d.recorder.RecordBundle(ctx, result); err != nil {
			d.logger.Warn("record bundle failed", "uuid", job.ID, "error", err)
		}
		return nil
	})
}

func (d *Downloader) publish(job Job) {
	if d.observer != nil {
		d.observer.Publish(job)
	}
}
