package mock

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/aigateway/llm"
	"github.com/BaSui01/aigateway/llm/catalog"
	"github.com/BaSui01/aigateway/llm/providers"
	"github.com/BaSui01/aigateway/llm/ratelimit"
	"github.com/BaSui01/aigateway/types"
)

// Adapter 是全内存的 Provider 实现。零配置即可用:默认健康、
// 零延迟、对任意请求返回固定文本。
type Adapter struct {
	cfg     providers.Config
	logger  *zap.Logger
	limiter *ratelimit.Limiter

	healthy atomic.Bool
	calls   atomic.Int64
	models  []catalog.Model

	mu           sync.Mutex
	response     string
	streamDeltas []string
	latency      time.Duration
	failuresLeft int
	failWith     *types.Error
	initErr      error
}

// Option 调整 mock 行为。
type Option func(*Adapter)

// WithResponse 设置非流式应答文本。
func WithResponse(text string) Option {
	return func(a *Adapter) { a.response = text }
}

// WithStreamDeltas 设置流式增量序列。
func WithStreamDeltas(deltas ...string) Option {
	return func(a *Adapter) { a.streamDeltas = deltas }
}

// WithLatency 在每次请求前注入固定延迟。
func WithLatency(d time.Duration) Option {
	return func(a *Adapter) { a.latency = d }
}

// WithFailures 让接下来 n 次请求返回 err,之后恢复成功。
func WithFailures(n int, err *types.Error) Option {
	return func(a *Adapter) { a.failuresLeft, a.failWith = n, err }
}

// WithInitError 让 Initialize 返回指定错误。
func WithInitError(err error) Option {
	return func(a *Adapter) { a.initErr = err }
}

// WithUnhealthy 让 HealthCheck 返回 false,直到 SetHealthy(true)。
func WithUnhealthy() Option {
	return func(a *Adapter) { a.healthy.Store(false) }
}

// New 创建 mock 适配器。cfg.APIKey 可以为空。
func New(cfg providers.Config, logger *zap.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{
		cfg:          cfg,
		logger:       logger.With(zap.String("provider", llm.ProviderMock)),
		limiter:      ratelimit.New(cfg.RateLimitPerMin),
		models:       providers.ApplyAllowedModels(catalog.ModelsFor(llm.ProviderMock), cfg.AllowedModels),
		response:     "这是一条模拟应答。",
		streamDeltas: []string{"这是", "一条", "模拟", "流式应答。"},
	}
	a.healthy.Store(true)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string { return llm.ProviderMock }

// Initialize 不触网。脚本化的初始化错误用于工厂测试。
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	err := a.initErr
	a.mu.Unlock()
	if err != nil {
		return types.NewNetwork(a.Name(), "scripted initialization failure").WithCause(err)
	}
	a.logger.Info("provider 初始化完成", zap.Int("catalog_models", len(a.Models())))
	return nil
}

func (a *Adapter) HealthCheck(ctx context.Context) bool { return a.healthy.Load() }

// SetHealthy 切换健康开关,供测试在运行中翻转。
func (a *Adapter) SetHealthy(ok bool) { a.healthy.Store(ok) }

// FailNext 让接下来 n 次请求返回 err。
func (a *Adapter) FailNext(n int, err *types.Error) {
	a.mu.Lock()
	a.failuresLeft, a.failWith = n, err
	a.mu.Unlock()
}

// Calls 返回已处理的请求数(含失败)。
func (a *Adapter) Calls() int64 { return a.calls.Load() }

func (a *Adapter) Models() []catalog.Model {
	out := make([]catalog.Model, len(a.models))
	copy(out, a.models)
	return out
}

// Completion 返回配置的固定文本。失败脚本、延迟与限流先于应答生效。
func (a *Adapter) Completion(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	model := providers.ChooseModel(req, a.cfg.Model, a.Name())
	if err := llm.ValidateRequest(a.Name(), model, req); err != nil {
		return nil, err
	}

	timeout := providers.EffectiveTimeout(a.cfg.Timeout, req.MaxTokens)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := providers.WaitQuota(ctx, a.limiter, a.Name(), a.cfg.Timeout); err != nil {
		return nil, err
	}

	started := time.Now()
	if err := a.beforeRespond(ctx); err != nil {
		return nil, err
	}

	a.mu.Lock()
	text := a.response
	a.mu.Unlock()

	return &llm.Response{
		Content:  text,
		Model:    model,
		Provider: a.Name(),
		Usage:    a.usageFor(req, text),
		Metadata: llm.ResponseMetadata{
			DurationMS:   time.Since(started).Milliseconds(),
			Timestamp:    time.Now(),
			FinishReason: llm.FinishStop,
		},
	}, nil
}

// Stream 按配置的增量序列发送,末块携带用量。
func (a *Adapter) Stream(ctx context.Context, req *llm.Request) (<-chan llm.StreamChunk, error) {
	model := providers.ChooseModel(req, a.cfg.Model, a.Name())
	if err := llm.ValidateRequest(a.Name(), model, req); err != nil {
		return nil, err
	}

	timeout := providers.EffectiveTimeout(a.cfg.Timeout, req.MaxTokens)
	ctx, cancel := context.WithTimeout(ctx, timeout)

	if err := providers.WaitQuota(ctx, a.limiter, a.Name(), a.cfg.Timeout); err != nil {
		cancel()
		return nil, err
	}

	if err := a.beforeRespond(ctx); err != nil {
		cancel()
		return nil, err
	}

	a.mu.Lock()
	deltas := make([]string, len(a.streamDeltas))
	copy(deltas, a.streamDeltas)
	a.mu.Unlock()

	ch := make(chan llm.StreamChunk)
	go func() {
		defer cancel()
		defer close(ch)

		for _, delta := range deltas {
			select {
			case ch <- llm.StreamChunk{Delta: delta, Model: model, Provider: a.Name()}:
			case <-ctx.Done():
				final := llm.StreamChunk{
					Model:    model,
					Provider: a.Name(),
					Err:      providers.MapTransportError(a.Name(), timeout, ctx.Err()),
				}
				select {
				case ch <- final:
				case <-time.After(time.Second):
				}
				return
			}
		}

		usage := a.usageFor(req, strings.Join(deltas, ""))
		final := llm.StreamChunk{Done: true, Model: model, Provider: a.Name(), Usage: &usage}
		select {
		case ch <- final:
		case <-time.After(time.Second):
		}
	}()

	return ch, nil
}

func (a *Adapter) RateLimitStatus() llm.RateLimitStatus {
	limit, remaining, resetAt := a.limiter.Status()
	return llm.RateLimitStatus{Limit: limit, Remaining: remaining, ResetAt: resetAt}
}

// beforeRespond 依序应用延迟注入与失败脚本。
func (a *Adapter) beforeRespond(ctx context.Context) error {
	a.calls.Add(1)

	a.mu.Lock()
	latency := a.latency
	var scripted *types.Error
	if a.failuresLeft > 0 {
		a.failuresLeft--
		scripted = a.failWith
	}
	a.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return providers.MapTransportError(a.Name(), latency, ctx.Err())
		}
	}
	if scripted != nil {
		return scripted
	}
	return nil
}

func (a *Adapter) usageFor(req *llm.Request, output string) llm.Usage {
	in := catalog.EstimateTokens(req.SystemPrompt)
	for _, m := range req.Messages {
		in += catalog.EstimateTokens(m.Content)
	}
	out := catalog.EstimateTokens(output)
	return llm.Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
}
