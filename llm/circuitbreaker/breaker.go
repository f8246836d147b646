// Package circuitbreaker 实现按 Provider 维度的熔断状态机：
// Closed → Open（连续失败达到阈值）→ HalfOpen（恢复窗口后放行单次试探）。
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/aigateway/types"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（单次试探恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// FailureThreshold 监控窗口内的连续失败阈值，达到后熔断
	FailureThreshold int

	// RecoveryTimeout 熔断恢复等待时间（Open → HalfOpen）
	RecoveryTimeout time.Duration

	// Timeout 单次调用硬超时，独立于适配器自身的超时
	Timeout time.Duration

	// MonitoringPeriod 失败计数窗口；距上次失败超过该窗口则计数重置
	MonitoringPeriod time.Duration

	// OnStateChange 状态变更回调
	OnStateChange func(provider string, from, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		Timeout:          30 * time.Second,
		MonitoringPeriod: 60 * time.Second,
	}
}

// Breaker 单个 Provider 的熔断器。
type Breaker struct {
	provider string
	config   *Config
	logger   *zap.Logger

	mu              sync.RWMutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	trialInFlight   bool // 半开状态下是否已放行试探请求
}

// New 创建熔断器。config 为 nil 或字段非法时回落到默认值。
func New(provider string, config *Config, logger *zap.Logger) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MonitoringPeriod <= 0 {
		config.MonitoringPeriod = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Breaker{
		provider: provider,
		config:   config,
		logger:   logger,
		state:    StateClosed,
	}
}

// Execute 在熔断器保护下执行 fn：状态检查 + 失败计数 + 硬超时竞速。
// Open 状态快速失败，绝不触达 fn。
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	if err := b.Allow(); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	resultCh := make(chan callResult, 1)
	go func() {
		result, err := fn(callCtx)
		resultCh <- callResult{result: result, err: err}
	}()

	select {
	case <-callCtx.Done():
		err := types.NewTimeout(b.provider, b.config.Timeout.Milliseconds()).WithCause(callCtx.Err())
		b.Record(false)
		return nil, err

	case res := <-resultCh:
		// 客户端错误（无效请求、鉴权、配额、模型不存在）不计入熔断失败
		success := res.err == nil || IsClientError(res.err)
		b.Record(success)

		if res.err != nil {
			return nil, res.err
		}
		return res.result, nil
	}
}

type callResult struct {
	result any
	err    error
}

// IsClientError 判断是否为不应计入熔断的客户端错误。流式路径在
// Record 前用它做同样的豁免。
func IsClientError(err error) bool {
	switch types.CodeOf(err) {
	case types.ErrInvalidRequest, types.ErrAuthentication, types.ErrQuota, types.ErrModelNotAvailable:
		return true
	default:
		return false
	}
}

// Allow 调用前检查。流式路径单独使用 Allow/Record，
// 因为 SSE 响应无法放进 Execute 的结果竞速里。
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.lastFailureTime) >= b.config.RecoveryTimeout {
			b.setState(StateHalfOpen)
			b.trialInFlight = true
			b.logger.Info("熔断器进入半开状态，放行单次试探",
				zap.String("provider", b.provider))
			return nil
		}
		return types.NewCircuitOpen(b.provider)

	case StateHalfOpen:
		// 半开只允许一个在途试探，其余并发调用照常熔断
		if b.trialInFlight {
			return types.NewCircuitOpen(b.provider)
		}
		b.trialInFlight = true
		return nil

	default:
		return types.NewCircuitOpen(b.provider)
	}
}

// Record 登记调用结果，驱动状态迁移。
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0

	case StateHalfOpen:
		b.logger.Info("熔断器试探成功，恢复正常",
			zap.String("provider", b.provider))
		b.setState(StateClosed)
		b.failureCount = 0
		b.trialInFlight = false
	}
}

func (b *Breaker) onFailure() {
	now := time.Now()
	// 超出监控窗口的历史失败不再累计
	if !b.lastFailureTime.IsZero() && now.Sub(b.lastFailureTime) > b.config.MonitoringPeriod {
		b.failureCount = 0
	}
	b.failureCount++
	b.lastFailureTime = now

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.FailureThreshold {
			b.logger.Warn("熔断器打开",
				zap.String("provider", b.provider),
				zap.Int("failure_count", b.failureCount),
				zap.Int("threshold", b.config.FailureThreshold))
			b.setState(StateOpen)
		}

	case StateHalfOpen:
		b.logger.Warn("熔断器试探失败，重新打开",
			zap.String("provider", b.provider))
		b.setState(StateOpen)
		b.trialInFlight = false
	}
}

// setState 要求持有 b.mu。
func (b *Breaker) setState(newState State) {
	oldState := b.state
	b.state = newState

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(b.provider, oldState, newState)
	}
}

// State 返回当前状态。
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// FailureCount 返回当前失败计数，路由评分以此扣分。
func (b *Breaker) FailureCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failureCount
}

// NextAttempt 返回 Open 状态下允许试探的最早时间；非 Open 返回零值。
func (b *Breaker) NextAttempt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state != StateOpen {
		return time.Time{}
	}
	return b.lastFailureTime.Add(b.config.RecoveryTimeout)
}

// Reset 人工复位到关闭状态。
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.trialInFlight = false

	b.logger.Info("熔断器已重置",
		zap.String("provider", b.provider),
		zap.String("from_state", oldState.String()))

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(b.provider, oldState, StateClosed)
	}
}
