package tile_proxy

import (
	"sort"
	"sync"
	"time"
)

// jobEntry 单个任务记录，同一任务的所有修改都在 mu 下串行进行
type jobEntry struct {
	mu  sync.Mutex
	job Job
	// generation 标识唯一允许修改游标与计数的下载循环
	generation uint64
	// running 当前下载循环结束时关闭
	running chan struct{}
}

// update 在锁内修改任务并返回修改后的快照
func (e *jobEntry) update(fn func(job *Job)) Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.job)
	e.job.UpdatedAt = time.Now()
	return e.job.clone()
}

func (e *jobEntry) snapshot() Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.clone()
}

// retire 使当前下载循环在下一个检查点退出
func (e *jobEntry) retire() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.State == StateDownloading {
		e.job.State = StateCancelled
		e.job.UpdatedAt = time.Now()
	}
	e.generation++
}

// JobStore 任务注册表，不同任务互不阻塞
type JobStore struct {
	jobs sync.Map // id -> *jobEntry
}

// NewJobStore 创建任务注册表
func NewJobStore() *JobStore {
	return &JobStore{}
}

// put 新建或覆盖任务，被覆盖的任务会停止其下载循环。
// 返回的通道由第一轮下载循环结束时关闭。
func (s *JobStore) put(job Job) (*jobEntry, chan struct{}) {
	done := make(chan struct{})
	e := &jobEntry{job: job, generation: 1, running: done}
	if old, loaded := s.jobs.Swap(job.ID, e); loaded {
		old.(*jobEntry).retire()
	}
	return e, done
}

func (s *JobStore) load(id string) (*jobEntry, bool) {
	v, ok := s.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*jobEntry), true
}

func (s *JobStore) remove(id string) (*jobEntry, bool) {
	v, ok := s.jobs.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	return v.(*jobEntry), true
}

// Get 获取任务快照
func (s *JobStore) Get(id string) (Job, bool) {
	e, ok := s.load(id)
	if !ok {
		return Job{}, false
	}
	return e.snapshot(), true
}

// List 按创建时间排序的全部任务快照
func (s *JobStore) List() []Job {
	jobs := make([]Job, 0)
	s.jobs.Range(func(_, v any) bool {
		jobs = append(jobs, v.(*jobEntry).snapshot())
		return true
	})
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

// Len 任务数量
func (s *JobStore) Len() int {
	n := 0
	s.jobs.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
