package gemini

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
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

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Adapter 是 Google Gemini 的 Provider 适配器。
type Adapter struct {
	cfg     providers.Config
	client  *http.Client
	logger  *zap.Logger
	limiter *ratelimit.Limiter

	mu     sync.RWMutex
	models []catalog.Model
}

// New 创建 Gemini 适配器实例。
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
		logger:  logger.With(zap.String("provider", llm.ProviderGemini)),
		limiter: ratelimit.New(cfg.RateLimitPerMin),
		models:  providers.ApplyAllowedModels(catalog.ModelsFor(llm.ProviderGemini), cfg.AllowedModels),
	}
}

func (a *Adapter) Name() string { return llm.ProviderGemini }

// --- 线格式 ---

type geminiContent struct {
	Role  string       `json:"role,omitempty"` // user / model
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations,omitempty"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
}

type geminiModelList struct {
	Models []struct {
		Name string `json:"name"` // "models/gemini-1.5-pro"
	} `json:"models"`
}

type geminiErrorResp struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// --- 生命周期 ---

// Initialize 校验密钥并拉取模型列表,失败只返回 Authentication 或 Network。
func (a *Adapter) Initialize(ctx context.Context) error {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return types.NewAuthentication(a.Name(), "api key is required")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := a.listModels(ctx)
	if err != nil {
		return types.NewNetwork(a.Name(), "initialization probe failed").WithCause(err)
	}
	defer providers.SafeCloseBody(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.NewAuthentication(a.Name(), readGeminiErrMsg(resp.Body)).WithHTTPStatus(resp.StatusCode)
	case resp.StatusCode >= 400:
		return types.NewNetwork(a.Name(), readGeminiErrMsg(resp.Body)).WithHTTPStatus(resp.StatusCode)
	}

	var list geminiModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return types.NewNetwork(a.Name(), "malformed model list").WithCause(err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, strings.TrimPrefix(m.Name, "models/"))
	}

	a.mu.Lock()
	a.models = providers.ApplyAllowedModels(providers.IntersectModels(a.Name(), ids), a.cfg.AllowedModels)
	a.mu.Unlock()

	a.logger.Info("provider 初始化完成",
		zap.Int("upstream_models", len(ids)),
		zap.Int("catalog_models", len(a.models)))
	return nil
}

// HealthCheck 以 5s 截止探测模型列表端点。
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := a.listModels(ctx)
	if err != nil {
		return false
	}
	defer providers.SafeCloseBody(resp.Body)
	return resp.StatusCode < 400
}

func (a *Adapter) listModels(ctx context.Context) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint("/v1beta/models", nil), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
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

	payload, err := json.Marshal(a.buildBody(req))
	if err != nil {
		return nil, types.NewInvalidRequest(a.Name(), fmt.Sprintf("marshal request: %v", err))
	}

	started := time.Now()
	endpoint := a.endpoint(fmt.Sprintf("/v1beta/models/%s:generateContent", model), nil)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewInvalidRequest(a.Name(), err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, providers.MapTransportError(a.Name(), timeout, err)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		return nil, providers.MapHTTPError(a.Name(), model, resp.StatusCode, readGeminiErrMsg(resp.Body))
	}

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, types.NewGeneric(types.ErrUpstreamDecode, "malformed completion body", false).
			WithProvider(a.Name()).WithCause(err)
	}

	return a.toResponse(gr, model, started), nil
}

// Stream 执行一次 SSE 流式生成。
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

	payload, err := json.Marshal(a.buildBody(req))
	if err != nil {
		cancel()
		return nil, types.NewInvalidRequest(a.Name(), fmt.Sprintf("marshal request: %v", err))
	}

	endpoint := a.endpoint(fmt.Sprintf("/v1beta/models/%s:streamGenerateContent", model), url.Values{"alt": {"sse"}})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, types.NewInvalidRequest(a.Name(), err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, providers.MapTransportError(a.Name(), timeout, err)
	}
	if resp.StatusCode >= 400 {
		msg := readGeminiErrMsg(resp.Body)
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
			var frame geminiResponse
			if err := json.Unmarshal([]byte(data), &frame); err != nil {
				a.logger.Warn("丢弃畸形 SSE 帧", zap.Error(err))
				return true
			}
			if frame.UsageMetadata != nil {
				usage = &llm.Usage{
					InputTokens:  frame.UsageMetadata.PromptTokenCount,
					OutputTokens: frame.UsageMetadata.CandidatesTokenCount,
					TotalTokens:  frame.UsageMetadata.TotalTokenCount,
				}
			}
			for _, cand := range frame.Candidates {
				for _, part := range cand.Content.Parts {
					if part.Text == "" {
						continue
					}
					select {
					case ch <- llm.StreamChunk{Delta: part.Text, Model: model, Provider: a.Name()}:
					case <-ctx.Done():
						return false
					}
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

// RateLimitStatus 由本地限流器合成。Gemini 不回传限流响应头。
func (a *Adapter) RateLimitStatus() llm.RateLimitStatus {
	limit, remaining, resetAt := a.limiter.Status()
	return llm.RateLimitStatus{Limit: limit, Remaining: remaining, ResetAt: resetAt}
}

// --- 转换 ---

// buildBody 将统一请求翻译为 Gemini 线格式:assistant → model,
// system 上提为 systemInstruction。
func (a *Adapter) buildBody(req *llm.Request) geminiRequest {
	var systemParts []geminiPart
	if req.SystemPrompt != "" {
		systemParts = append(systemParts, geminiPart{Text: req.SystemPrompt})
	}

	contents := make([]geminiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, geminiPart{Text: m.Content})
			continue
		case llm.RoleFunction:
			name := ""
			if m.FunctionCall != nil {
				name = m.FunctionCall.Name
			}
			contents = append(contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{FunctionResponse: &geminiFunctionResponse{
					Name:     name,
					Response: map[string]any{"result": m.Content},
				}}},
			})
			continue
		}

		role := string(m.Role)
		if role == "assistant" {
			role = "model"
		}
		content := geminiContent{Role: role}
		if m.Content != "" {
			content.Parts = append(content.Parts, geminiPart{Text: m.Content})
		}
		if m.FunctionCall != nil {
			var args map[string]any
			if err := json.Unmarshal([]byte(m.FunctionCall.Arguments), &args); err == nil {
				content.Parts = append(content.Parts, geminiPart{
					FunctionCall: &geminiFunctionCall{Name: m.FunctionCall.Name, Args: args},
				})
			}
		}
		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}

	body := geminiRequest{Contents: contents, Tools: convertTools(req.Functions)}
	if len(systemParts) > 0 {
		body.SystemInstruction = &geminiContent{Parts: systemParts}
	}
	if req.Temperature > 0 || req.TopP > 0 || req.MaxTokens > 0 {
		body.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
		}
	}
	return body
}

func convertTools(fns []llm.FunctionDef) []geminiTool {
	if len(fns) == 0 {
		return nil
	}
	decls := make([]geminiFunctionDeclaration, 0, len(fns))
	for _, f := range fns {
		var params map[string]any
		if len(f.Parameters) > 0 {
			if err := json.Unmarshal(f.Parameters, &params); err != nil {
				continue
			}
		}
		decls = append(decls, geminiFunctionDeclaration{
			Name:        f.Name,
			Description: f.Description,
			Parameters:  params,
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []geminiTool{{FunctionDeclarations: decls}}
}

func (a *Adapter) toResponse(gr geminiResponse, model string, started time.Time) *llm.Response {
	resp := &llm.Response{
		Model:    model,
		Provider: a.Name(),
		Metadata: llm.ResponseMetadata{
			DurationMS:   time.Since(started).Milliseconds(),
			Timestamp:    time.Now(),
			FinishReason: llm.FinishStop,
		},
	}

	if len(gr.Candidates) > 0 {
		cand := gr.Candidates[0]
		for _, part := range cand.Content.Parts {
			resp.Content += part.Text
			if part.FunctionCall != nil {
				argsJSON, _ := json.Marshal(part.FunctionCall.Args)
				resp.Metadata.FunctionCall = &llm.FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: string(argsJSON),
				}
			}
		}
		resp.Metadata.FinishReason = mapFinishReason(cand.FinishReason)
		if resp.Metadata.FunctionCall != nil {
			resp.Metadata.FinishReason = llm.FinishFunctionCall
		}
	}

	if gr.UsageMetadata != nil {
		resp.Usage = llm.Usage{
			InputTokens:  gr.UsageMetadata.PromptTokenCount,
			OutputTokens: gr.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  gr.UsageMetadata.TotalTokenCount,
		}
	}
	return resp
}

// mapFinishReason 按 Gemini 的枚举归一结束原因。
func mapFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "", "STOP":
		return llm.FinishStop
	case "MAX_TOKENS":
		return llm.FinishLength
	case "SAFETY", "RECITATION", "OTHER":
		return llm.FinishError
	default:
		return llm.FinishStop
	}
}

// endpoint 组装带 key 查询参数的完整 URL。Gemini 的认证走查询串。
func (a *Adapter) endpoint(path string, extra url.Values) string {
	q := url.Values{"key": {a.cfg.APIKey}}
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return strings.TrimRight(a.cfg.BaseURL, "/") + path + "?" + q.Encode()
}

func readGeminiErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
	var errResp geminiErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Status != "" {
			return fmt.Sprintf("%s (status: %s)", errResp.Error.Message, errResp.Error.Status)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}
