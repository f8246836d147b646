// Package retry 提供编排器使用的指数退避计划。
package retry

import (
	"context"
	"time"
)

// Policy 退避参数：第 n 次重试前等待 min(InitialDelay·2^(n-1), MaxDelay)。
type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultPolicy 返回 1s 起步、30s 封顶的默认计划。
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// Delay 返回第 attempt 次失败后的等待时长（attempt 从 1 计）。
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := p.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	ceiling := p.MaxDelay
	if ceiling <= 0 {
		ceiling = 30 * time.Second
	}

	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// Sleep 等待 d，期间尊重 ctx 取消。
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
