package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, time.Second, p.InitialDelay)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
}

func TestPolicy_DelaySchedule(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxDelay: 30 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // 32s 被 30s 封顶
		{7, 30 * time.Second},
		{0, time.Second}, // 非法输入按首个重试处理
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, p.Delay(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestPolicy_ZeroValuesFallBack(t *testing.T) {
	var p Policy
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 30*time.Second, p.Delay(10))
}

func TestPolicy_DelayProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := Policy{
			InitialDelay: time.Duration(rapid.Int64Range(1, int64(5*time.Second)).Draw(t, "initial")),
			MaxDelay:     time.Duration(rapid.Int64Range(int64(time.Second), int64(60*time.Second)).Draw(t, "max")),
		}
		attempt := rapid.IntRange(1, 40).Draw(t, "attempt")

		d := p.Delay(attempt)
		assert.LessOrEqual(t, d, maxDuration(p.MaxDelay, p.InitialDelay), "delay never exceeds the ceiling")
		assert.GreaterOrEqual(t, d, time.Duration(0))
		// 单调不减
		assert.GreaterOrEqual(t, p.Delay(attempt+1), d)
	})
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func TestSleep_HonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleep_CompletesShortWaits(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))
	require.NoError(t, Sleep(context.Background(), 0))
}
