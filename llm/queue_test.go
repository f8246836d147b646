package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/aigateway/config"
	"github.com/BaSui01/aigateway/types"
)

func newTestQueue(maxConcurrent, maxSize int, timeout time.Duration) *requestQueue {
	return newRequestQueue(maxConcurrent, config.QueueConfig{
		Enabled: true,
		MaxSize: maxSize,
		Timeout: timeout,
	}, nil)
}

func TestQueueAcquireImmediateWhenIdle(t *testing.T) {
	q := newTestQueue(2, 10, time.Second)

	require.Nil(t, q.acquire(context.Background()))
	require.Nil(t, q.acquire(context.Background()))

	active, depth := q.counts()
	assert.Equal(t, 2, active)
	assert.Zero(t, depth)

	q.release()
	q.release()
	active, _ = q.counts()
	assert.Zero(t, active)
}

func TestQueueFIFOGrantOrder(t *testing.T) {
	q := newTestQueue(1, 10, 5*time.Second)
	require.Nil(t, q.acquire(context.Background()))

	var mu sync.Mutex
	var order []string

	enter := func(name string) chan *types.Error {
		res := make(chan *types.Error, 1)
		go func() {
			err := q.acquire(context.Background())
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			res <- err
		}()
		return res
	}

	first := enter("first")
	require.Eventually(t, func() bool {
		_, depth := q.counts()
		return depth == 1
	}, time.Second, 5*time.Millisecond)

	second := enter("second")
	require.Eventually(t, func() bool {
		_, depth := q.counts()
		return depth == 2
	}, time.Second, 5*time.Millisecond)

	q.release()
	require.Nil(t, <-first)
	q.release()
	require.Nil(t, <-second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestQueueWaitTimeout(t *testing.T) {
	q := newTestQueue(1, 10, 40*time.Millisecond)
	require.Nil(t, q.acquire(context.Background()))

	start := time.Now()
	err := q.acquire(context.Background())
	require.NotNil(t, err)
	assert.Equal(t, types.ErrTimeout, err.Code)
	assert.True(t, err.Retryable)
	assert.Less(t, time.Since(start), time.Second)

	// 超时的等待者必须从队列里摘掉
	active, depth := q.counts()
	assert.Equal(t, 1, active)
	assert.Zero(t, depth)
}

func TestQueueFullProceedsImmediately(t *testing.T) {
	q := newTestQueue(1, 1, 5*time.Second)
	require.Nil(t, q.acquire(context.Background()))

	waiting := make(chan *types.Error, 1)
	go func() {
		waiting <- q.acquire(context.Background())
	}()
	require.Eventually(t, func() bool {
		_, depth := q.counts()
		return depth == 1
	}, time.Second, 5*time.Millisecond)

	// 队列已满:不等待,直接放行
	start := time.Now()
	require.Nil(t, q.acquire(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	active, _ := q.counts()
	assert.Equal(t, 2, active)

	q.release()
	q.release()
	require.Nil(t, <-waiting)
	q.release()
}

func TestQueueDisabledNeverWaits(t *testing.T) {
	q := newRequestQueue(1, config.QueueConfig{Enabled: false}, nil)

	require.Nil(t, q.acquire(context.Background()))
	require.Nil(t, q.acquire(context.Background()))
	require.Nil(t, q.acquire(context.Background()))

	active, depth := q.counts()
	assert.Equal(t, 3, active)
	assert.Zero(t, depth)
}

func TestQueueCloseRejectsWaiters(t *testing.T) {
	q := newTestQueue(1, 10, 5*time.Second)
	require.Nil(t, q.acquire(context.Background()))

	got := make(chan *types.Error, 1)
	go func() {
		got <- q.acquire(context.Background())
	}()
	require.Eventually(t, func() bool {
		_, depth := q.counts()
		return depth == 1
	}, time.Second, 5*time.Millisecond)

	q.close()

	select {
	case err := <-got:
		require.NotNil(t, err)
		assert.Equal(t, types.ErrShutdown, err.Code)
		assert.False(t, err.Retryable)
	case <-time.After(time.Second):
		t.Fatal("queued waiter was not rejected on close")
	}

	// 关停后新请求同样被拒
	err := q.acquire(context.Background())
	require.NotNil(t, err)
	assert.Equal(t, types.ErrShutdown, err.Code)
}

func TestQueueContextCancelRemovesWaiter(t *testing.T) {
	q := newTestQueue(1, 10, 5*time.Second)
	require.Nil(t, q.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan *types.Error, 1)
	go func() {
		got <- q.acquire(ctx)
	}()
	require.Eventually(t, func() bool {
		_, depth := q.counts()
		return depth == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-got:
		require.NotNil(t, err)
		assert.Equal(t, types.ErrNetwork, err.Code)
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter did not return")
	}

	_, depth := q.counts()
	assert.Zero(t, depth)
}
