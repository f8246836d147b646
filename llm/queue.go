package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/aigateway/config"
	"github.com/BaSui01/aigateway/types"
)

// requestQueue 给编排器做准入控制:在途请求数低于上限时 acquire 直接
// 放行,否则按 FIFO 排队等待空位。排队被禁用或队列已满时直接放行,
// 属于软降级。release 归还名额并唤醒队首。
type requestQueue struct {
	logger *zap.Logger

	maxConcurrent int
	enabled       bool
	maxSize       int
	waitTimeout   time.Duration

	mu      sync.Mutex
	active  int
	waiters []*queueWaiter
	closed  bool
}

type queueWaiter struct {
	id string
	// ch 收到 nil 表示名额已授予,收到错误表示被关停拒绝。
	ch       chan *types.Error
	resolved bool
}

func newRequestQueue(maxConcurrent int, cfg config.QueueConfig, logger *zap.Logger) *requestQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &requestQueue{
		logger:        logger,
		maxConcurrent: maxConcurrent,
		enabled:       cfg.Enabled,
		maxSize:       cfg.MaxSize,
		waitTimeout:   cfg.Timeout,
	}
}

// acquire 阻塞直到拿到执行名额。返回 nil 表示放行,调用方用完必须
// release;返回错误时没有占用名额。
func (q *requestQueue) acquire(ctx context.Context) *types.Error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return types.NewGeneric(types.ErrShutdown, "gateway is shutting down", false)
	}
	if q.active < q.maxConcurrent || !q.enabled || len(q.waiters) >= q.maxSize {
		q.active++
		q.mu.Unlock()
		return nil
	}
	w := &queueWaiter{id: uuid.NewString(), ch: make(chan *types.Error, 1)}
	q.waiters = append(q.waiters, w)
	depth := len(q.waiters)
	q.mu.Unlock()

	q.logger.Debug("请求入队等待空位",
		zap.String("queue_item", w.id),
		zap.Int("depth", depth))

	timer := time.NewTimer(q.waitTimeout)
	defer timer.Stop()

	select {
	case err := <-w.ch:
		return err
	case <-timer.C:
		if q.cancelWait(w) {
			return types.NewGeneric(types.ErrTimeout,
				fmt.Sprintf("request queued for %s without getting a slot", q.waitTimeout), true)
		}
		// 超时与授予竞态:名额已经是我们的,照常执行。
		return <-w.ch
	case <-ctx.Done():
		if q.cancelWait(w) {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return types.NewGeneric(types.ErrTimeout,
					"context deadline expired while queued", true).WithCause(ctx.Err())
			}
			return types.NewNetwork("", "request cancelled while queued").WithCause(ctx.Err())
		}
		return <-w.ch
	}
}

// release 归还名额,并在有空位时按 FIFO 放行等待者。
func (q *requestQueue) release() {
	q.mu.Lock()
	q.active--
	q.grantLocked()
	q.mu.Unlock()
}

func (q *requestQueue) grantLocked() {
	for q.active < q.maxConcurrent && len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		w.resolved = true
		q.active++
		w.ch <- nil
	}
}

// cancelWait 把 w 摘出等待队列。返回 false 表示结果已定(授予或拒绝),
// 调用方应改从 w.ch 读取。
func (q *requestQueue) cancelWait(w *queueWaiter) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if w.resolved {
		return false
	}
	for i, cand := range q.waiters {
		if cand == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// close 停止放行新请求,并以 SHUTDOWN 拒绝所有排队中的等待者。
func (q *requestQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for _, w := range q.waiters {
		w.resolved = true
		w.ch <- types.NewGeneric(types.ErrShutdown, "gateway is shutting down", false)
	}
	q.waiters = nil
}

// counts 返回 (在途请求数, 排队深度)。
func (q *requestQueue) counts() (int, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active, len(q.waiters)
}
