// safe_tile_processor.go
package tile_proxy

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
)

// ErrProcessTimeout 后处理超时
var ErrProcessTimeout = errors.New("processing timeout")

// SafeProcessor 限制并发并捕获 panic 的后处理执行器
type SafeProcessor struct {
	semaphore chan struct{}
	timeout   time.Duration
}

// NewSafeProcessor 创建执行器，timeout<=0 表示不限时
func NewSafeProcessor(maxConcurrent int, timeout time.Duration) *SafeProcessor {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &SafeProcessor{
		semaphore: make(chan struct{}, maxConcurrent),
		timeout:   timeout,
	}
}

// ProcessWithRecover 在信号量保护下执行 fn，panic 转为错误返回
func (s *SafeProcessor) ProcessWithRecover(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case s.semaphore <- struct{}{}:
		defer func() { <-s.semaphore }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Errorf("panic recovered: %v\nstack: %s", r, debug.Stack())
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrProcessTimeout
		}
		return ctx.Err()
	}
}
