package qwen

import (
	"bytes"
	"context"
	"fmt"
	"io"
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

const (
	defaultBaseURL = "https://dashscope.aliyuncs.com"
	generationPath = "/api/v1/services/aigc/text-generation/generation"
)

// Adapter 是通义千问 DashScope 原生协议的 Provider 适配器。
type Adapter struct {
	cfg     providers.Config
	client  *http.Client
	logger  *zap.Logger
	limiter *ratelimit.Limiter

	mu     sync.RWMutex
	models []catalog.Model
}

// New 创建 Qwen 适配器实例。
func New(cfg providers.Config, logger *zap.Logger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		cfg:     cfg,
		client:  tlsutil.SecureHTTPClient(0),
		logger:  logger.With(zap.String("provider", llm.ProviderQwen)),
		limiter: ratelimit.New(cfg.RateLimitPerMin),
		models:  providers.ApplyAllowedModels(catalog.ModelsFor(llm.ProviderQwen), cfg.AllowedModels),
	}
}

func (a *Adapter) Name() string { return llm.ProviderQwen }

// --- 线格式 ---

type qwenMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type qwenInput struct {
	Messages []qwenMessage `json:"messages"`
}

type qwenParameters struct {
	Temperature       float64 `json:"temperature,omitempty"`
	TopP              float64 `json:"top_p,omitempty"`
	MaxTokens         int     `json:"max_tokens,omitempty"`
	IncrementalOutput bool    `json:"incremental_output,omitempty"`
	ResultFormat      string  `json:"result_format,omitempty"`
}

type qwenRequest struct {
	Model      string         `json:"model"`
	Input      qwenInput      `json:"input"`
	Parameters qwenParameters `json:"parameters,omitempty"`
}

type qwenOutput struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

type qwenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type qwenResponse struct {
	Output    qwenOutput `json:"output"`
	Usage     qwenUsage  `json:"usage"`
	RequestID string     `json:"request_id"`
	Code      string     `json:"code,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// --- 生命周期 ---

// Initialize 校验密钥并发送一次空参数探测,失败只返回 Authentication 或 Network。
// DashScope 没有公开的模型列表端点,探测使用最小生成请求。
func (a *Adapter) Initialize(ctx context.Context) error {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return types.NewAuthentication(a.Name(), "api key is required")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := a.probe(ctx)
	if err != nil {
		return types.NewNetwork(a.Name(), "initialization probe failed").WithCause(err)
	}
	defer providers.SafeCloseBody(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.NewAuthentication(a.Name(), readQwenErrMsg(resp.Body)).WithHTTPStatus(resp.StatusCode)
	case resp.StatusCode >= 500:
		return types.NewNetwork(a.Name(), readQwenErrMsg(resp.Body)).WithHTTPStatus(resp.StatusCode)
	}

	// 4xx(比如参数校验失败)说明密钥有效、上游可达,初始化视为成功。
	a.logger.Info("provider 初始化完成", zap.Int("catalog_models", len(a.models)))
	return nil
}

// HealthCheck 以 5s 截止做一次最小探测。
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := a.probe(ctx)
	if err != nil {
		return false
	}
	defer providers.SafeCloseBody(resp.Body)
	return resp.StatusCode < 500 && resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden
}

// probe 发送一条最小消息,max_tokens 压到 1 以减少配额消耗。
func (a *Adapter) probe(ctx context.Context) (*http.Response, error) {
	body := qwenRequest{
		Model:      catalog.DefaultModel(a.Name()),
		Input:      qwenInput{Messages: []qwenMessage{{Role: "user", Content: "ping"}}},
		Parameters: qwenParameters{MaxTokens: 1},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(a.cfg.BaseURL, "/")+generationPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	a.setHeaders(httpReq, false)
	return a.client.Do(httpReq)
}

// Models 返回目录中 Qwen 的模型。DashScope 无列表端点,不做交集。
func (a *Adapter) Models() []catalog.Model {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]catalog.Model, len(a.models))
	copy(out, a.models)
	return out
}

// --- 请求 ---

// Completion 执行一次非流式生成。
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

	payload, err := json.Marshal(a.buildBody(req, model, false))
	if err != nil {
		return nil, types.NewInvalidRequest(a.Name(), fmt.Sprintf("marshal request: %v", err))
	}

	started := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(a.cfg.BaseURL, "/")+generationPath, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewInvalidRequest(a.Name(), err.Error())
	}
	a.setHeaders(httpReq, false)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, providers.MapTransportError(a.Name(), timeout, err)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		return nil, providers.MapHTTPError(a.Name(), model, resp.StatusCode, readQwenErrMsg(resp.Body))
	}

	var qr qwenResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, types.NewGeneric(types.ErrUpstreamDecode, "malformed completion body", false).
			WithProvider(a.Name()).WithCause(err)
	}

	return a.toResponse(qr, model, started), nil
}

// Stream 执行一次 SSE 流式生成,通过 X-DashScope-SSE 头开启。
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

	payload, err := json.Marshal(a.buildBody(req, model, true))
	if err != nil {
		cancel()
		return nil, types.NewInvalidRequest(a.Name(), fmt.Sprintf("marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(a.cfg.BaseURL, "/")+generationPath, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, types.NewInvalidRequest(a.Name(), err.Error())
	}
	a.setHeaders(httpReq, true)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, providers.MapTransportError(a.Name(), timeout, err)
	}
	if resp.StatusCode >= 400 {
		msg := readQwenErrMsg(resp.Body)
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
			var frame qwenResponse
			if err := json.Unmarshal([]byte(data), &frame); err != nil {
				a.logger.Warn("丢弃畸形 SSE 帧", zap.Error(err))
				return true
			}
			if frame.Usage.TotalTokens > 0 {
				usage = &llm.Usage{
					InputTokens:  frame.Usage.InputTokens,
					OutputTokens: frame.Usage.OutputTokens,
					TotalTokens:  frame.Usage.TotalTokens,
				}
			}
			if frame.Output.Text != "" {
				select {
				case ch <- llm.StreamChunk{Delta: frame.Output.Text, Model: model, Provider: a.Name()}:
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

// RateLimitStatus 由本地限流器合成。DashScope 不回传限流响应头。
func (a *Adapter) RateLimitStatus() llm.RateLimitStatus {
	limit, remaining, resetAt := a.limiter.Status()
	return llm.RateLimitStatus{Limit: limit, Remaining: remaining, ResetAt: resetAt}
}

// --- 转换 ---

func (a *Adapter) buildBody(req *llm.Request, model string, stream bool) qwenRequest {
	msgs := make([]qwenMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, qwenMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, qwenMessage{Role: string(m.Role), Content: m.Content})
	}

	body := qwenRequest{
		Model: model,
		Input: qwenInput{Messages: msgs},
		Parameters: qwenParameters{
			Temperature:  req.Temperature,
			TopP:         req.TopP,
			MaxTokens:    req.MaxTokens,
			ResultFormat: "text",
		},
	}
	if stream {
		body.Parameters.IncrementalOutput = true
	}
	return body
}

func (a *Adapter) toResponse(qr qwenResponse, model string, started time.Time) *llm.Response {
	return &llm.Response{
		Content:  qr.Output.Text,
		Model:    model,
		Provider: a.Name(),
		Usage: llm.Usage{
			InputTokens:  qr.Usage.InputTokens,
			OutputTokens: qr.Usage.OutputTokens,
			TotalTokens:  qr.Usage.TotalTokens,
		},
		Metadata: llm.ResponseMetadata{
			DurationMS:   time.Since(started).Milliseconds(),
			Timestamp:    time.Now(),
			FinishReason: providers.NormalizeFinishReason(qr.Output.FinishReason),
		},
	}
}

func (a *Adapter) setHeaders(req *http.Request, stream bool) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	if stream {
		req.Header.Set("X-DashScope-SSE", "enable")
		req.Header.Set("Accept", "text/event-stream")
	}
}

func readQwenErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Message != "" {
		if errResp.Code != "" {
			return fmt.Sprintf("%s (code: %s)", errResp.Message, errResp.Code)
		}
		return errResp.Message
	}
	return strings.TrimSpace(string(data))
}
