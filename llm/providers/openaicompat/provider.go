package openaicompat

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/BaSui01/aigateway/internal/tlsutil"
	"github.com/BaSui01/aigateway/llm"
	"github.com/BaSui01/aigateway/llm/catalog"
	"github.com/BaSui01/aigateway/llm/providers"
	"github.com/BaSui01/aigateway/llm/ratelimit"
	"github.com/BaSui01/aigateway/types"
)

const healthCheckTimeout = 5 * time.Second

// Options 是具体 Provider 与基座之间的差异点。
type Options struct {
	// ProviderName 如 "deepseek"、"kimi"。
	ProviderName string

	// EndpointPath 聊天补全路径,默认 "/v1/chat/completions"。
	EndpointPath string

	// ModelsEndpoint 模型列表路径,默认 "/v1/models"。
	ModelsEndpoint string

	// BuildHeaders 自定义请求头。为 nil 时使用 Bearer 认证。
	BuildHeaders func(req *http.Request, apiKey string)

	// RequestHook 在发送前修改线上请求体,用于各家的私有字段。
	RequestHook func(req *llm.Request, body *providers.OpenAIRequest)
}

// Adapter 是 OpenAI 兼容上游的基座适配器,实现 llm.Provider。
// 截止时间逐请求由 context 施加,因此 http.Client 本身不设 Timeout。
type Adapter struct {
	cfg     providers.Config
	opts    Options
	client  *http.Client
	logger  *zap.Logger
	limiter *ratelimit.Limiter

	mu         sync.RWMutex
	models     []catalog.Model
	lastStatus llm.RateLimitStatus
	statusAt   time.Time
}

// New 创建基座适配器。未初始化前 Models 回退到编译内置目录。
func New(cfg providers.Config, opts Options, logger *zap.Logger) *Adapter {
	if opts.EndpointPath == "" {
		opts.EndpointPath = "/v1/chat/completions"
	}
	if opts.ModelsEndpoint == "" {
		opts.ModelsEndpoint = "/v1/models"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		cfg:     cfg,
		opts:    opts,
		client:  tlsutil.SecureHTTPClient(0),
		logger:  logger.With(zap.String("provider", opts.ProviderName)),
		limiter: ratelimit.New(cfg.RateLimitPerMin),
		models:  providers.ApplyAllowedModels(catalog.ModelsFor(opts.ProviderName), cfg.AllowedModels),
	}
}

func (a *Adapter) Name() string { return a.opts.ProviderName }

// Initialize 校验密钥并拉取一次模型列表。按约定只以
// Authentication 或 Network 失败。
func (a *Adapter) Initialize(ctx context.Context) error {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return types.NewAuthentication(a.Name(), "api key is required")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := a.getModels(ctx)
	if err != nil {
		return types.NewNetwork(a.Name(), "initialization probe failed").WithCause(err)
	}
	defer providers.SafeCloseBody(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		msg := providers.ReadErrorMessage(resp.Body)
		return types.NewAuthentication(a.Name(), msg).WithHTTPStatus(resp.StatusCode)
	case resp.StatusCode >= 400:
		msg := providers.ReadErrorMessage(resp.Body)
		return types.NewNetwork(a.Name(), msg).WithHTTPStatus(resp.StatusCode)
	}

	var list providers.OpenAIModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return types.NewNetwork(a.Name(), "malformed model list").WithCause(err)
	}
	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		ids = append(ids, m.ID)
	}

	a.mu.Lock()
	a.models = providers.ApplyAllowedModels(providers.IntersectModels(a.Name(), ids), a.cfg.AllowedModels)
	a.mu.Unlock()

	a.logger.Info("provider 初始化完成",
		zap.Int("upstream_models", len(ids)),
		zap.Int("catalog_models", len(a.models)))
	return nil
}

// HealthCheck 以 5s 截止探测模型列表端点,只返回布尔。
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	resp, err := a.getModels(ctx)
	if err != nil {
		return false
	}
	defer providers.SafeCloseBody(resp.Body)
	return resp.StatusCode < 400
}

func (a *Adapter) getModels(ctx context.Context) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint(a.opts.ModelsEndpoint), nil)
	if err != nil {
		return nil, err
	}
	a.buildHeaders(httpReq)
	return a.client.Do(httpReq)
}

// Models 返回初始化时缓存的目录交集。
func (a *Adapter) Models() []catalog.Model {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]catalog.Model, len(a.models))
	copy(out, a.models)
	return out
}

// Completion 执行一次非流式补全。
func (a *Adapter) Completion(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	model := providers.ChooseModel(req, a.cfg.Model, a.Name())
	if err := llm.ValidateRequest(a.Name(), model, req); err != nil {
		return nil, err
	}

	timeout := providers.EffectiveTimeout(a.cfg.Timeout, req.MaxTokens)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := a.waitQuota(ctx); err != nil {
		return nil, err
	}

	body := a.buildBody(req, model, false)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewInvalidRequest(a.Name(), fmt.Sprintf("marshal request: %v", err))
	}

	started := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(a.opts.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewInvalidRequest(a.Name(), err.Error())
	}
	a.buildHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, providers.MapTransportError(a.Name(), timeout, err)
	}
	defer providers.SafeCloseBody(resp.Body)
	a.recordRateLimit(resp.Header)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(a.Name(), model, resp.StatusCode, msg)
	}

	var oaResp providers.OpenAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, types.NewGeneric(types.ErrUpstreamDecode, "malformed completion body", false).
			WithProvider(a.Name()).WithCause(err)
	}

	return providers.ToResponse(oaResp, a.Name(), model, started), nil
}

// Stream 执行一次 SSE 流式补全。返回后的所有投递都发生在单一
// producer goroutine 内,任何退出路径都会关闭响应体与通道。
func (a *Adapter) Stream(ctx context.Context, req *llm.Request) (<-chan llm.StreamChunk, error) {
	model := providers.ChooseModel(req, a.cfg.Model, a.Name())
	if err := llm.ValidateRequest(a.Name(), model, req); err != nil {
		return nil, err
	}

	timeout := providers.EffectiveTimeout(a.cfg.Timeout, req.MaxTokens)
	ctx, cancel := context.WithTimeout(ctx, timeout)

	if err := a.waitQuota(ctx); err != nil {
		cancel()
		return nil, err
	}

	body := a.buildBody(req, model, true)
	payload, err := json.Marshal(body)
	if err != nil {
		cancel()
		return nil, types.NewInvalidRequest(a.Name(), fmt.Sprintf("marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(a.opts.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, types.NewInvalidRequest(a.Name(), err.Error())
	}
	a.buildHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, providers.MapTransportError(a.Name(), timeout, err)
	}
	a.recordRateLimit(resp.Header)
	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		providers.SafeCloseBody(resp.Body)
		cancel()
		return nil, providers.MapHTTPError(a.Name(), model, resp.StatusCode, msg)
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer cancel()
		defer providers.SafeCloseBody(resp.Body)
		defer close(ch)

		var usage *llm.Usage
		readErr := providers.ForEachSSEData(resp.Body, func(data string) bool {
			var frame providers.OpenAIResponse
			if err := json.Unmarshal([]byte(data), &frame); err != nil {
				a.logger.Warn("丢弃畸形 SSE 帧", zap.Error(err))
				return true
			}
			if frame.Usage != nil {
				usage = &llm.Usage{
					InputTokens:  frame.Usage.PromptTokens,
					OutputTokens: frame.Usage.CompletionTokens,
					TotalTokens:  frame.Usage.TotalTokens,
				}
			}
			for _, choice := range frame.Choices {
				if choice.Delta == nil || choice.Delta.Content == "" {
					continue
				}
				select {
				case ch <- llm.StreamChunk{
					Delta:    choice.Delta.Content,
					Model:    model,
					Provider: a.Name(),
				}:
				case <-ctx.Done():
					return false
				}
			}
			return true
		})

		final := llm.StreamChunk{Done: true, Model: model, Provider: a.Name(), Usage: usage}
		if readErr != nil {
			final = llm.StreamChunk{
				Model:    model,
				Provider: a.Name(),
				Err:      providers.MapTransportError(a.Name(), timeout, readErr),
			}
		} else if ctx.Err() != nil {
			final = llm.StreamChunk{
				Model:    model,
				Provider: a.Name(),
				Err:      providers.MapTransportError(a.Name(), timeout, ctx.Err()),
			}
		}
		select {
		case ch <- final:
		case <-time.After(time.Second):
		}
	}()

	return ch, nil
}

// RateLimitStatus 优先返回 1 分钟内见过的响应头,否则本地合成。
func (a *Adapter) RateLimitStatus() llm.RateLimitStatus {
	a.mu.RLock()
	fresh := time.Since(a.statusAt) < time.Minute
	status := a.lastStatus
	a.mu.RUnlock()
	if fresh {
		return status
	}

	limit, remaining, resetAt := a.limiter.Status()
	return llm.RateLimitStatus{Limit: limit, Remaining: remaining, ResetAt: resetAt}
}

func (a *Adapter) buildBody(req *llm.Request, model string, stream bool) providers.OpenAIRequest {
	body := providers.OpenAIRequest{
		Model:       model,
		Messages:    providers.ConvertMessagesToOpenAI(req),
		Tools:       providers.ConvertFunctionsToOpenAI(req.Functions),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      stream,
	}
	if a.opts.RequestHook != nil {
		a.opts.RequestHook(req, &body)
	}
	return body
}

func (a *Adapter) buildHeaders(req *http.Request) {
	if a.opts.BuildHeaders != nil {
		a.opts.BuildHeaders(req, a.cfg.APIKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

func (a *Adapter) endpoint(path string) string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + path
}

func (a *Adapter) waitQuota(ctx context.Context) error {
	return providers.WaitQuota(ctx, a.limiter, a.Name(), a.cfg.Timeout)
}

func (a *Adapter) recordRateLimit(h http.Header) {
	status, ok := providers.ParseRateLimitHeaders(h)
	if !ok {
		return
	}
	a.mu.Lock()
	a.lastStatus = status
	a.statusAt = time.Now()
	a.mu.Unlock()
}
