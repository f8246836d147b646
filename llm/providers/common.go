package providers

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/BaSui01/aigateway/llm"
	"github.com/BaSui01/aigateway/llm/catalog"
	"github.com/BaSui01/aigateway/llm/ratelimit"
	"github.com/BaSui01/aigateway/types"
)

// MapHTTPError 将上游 HTTP 状态统一映射为网关错误。
// 所有适配器共用同一张映射表,保证异构上游的错误语义一致:
//
//	401/403          → Authentication(不可重试)
//	404              → ModelNotAvailable
//	429              → RateLimit(reset 取 now+60s 的保守值)
//	4xx + 配额关键字  → Quota
//	其余 4xx         → InvalidRequest
//	≥500             → Network(可重试)
func MapHTTPError(provider, model string, status int, msg string) *types.Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewAuthentication(provider, msg).WithHTTPStatus(status)
	case status == http.StatusNotFound:
		return types.NewModelNotAvailable(provider, model).WithHTTPStatus(status)
	case status == http.StatusTooManyRequests:
		return types.NewRateLimit(provider, msg, time.Now().Add(time.Minute)).WithHTTPStatus(status)
	case status >= 500:
		return types.NewNetwork(provider, msg).WithHTTPStatus(status)
	case isQuotaMessage(msg):
		// DeepSeek 用 402 "Insufficient Balance",Gemini 用 400 带 quota 字样
		return types.NewQuota(provider, msg).WithHTTPStatus(status)
	default:
		return types.NewInvalidRequest(provider, msg).WithHTTPStatus(status)
	}
}

func isQuotaMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "quota") ||
		strings.Contains(lower, "credit") ||
		strings.Contains(lower, "balance")
}

// MapTransportError 将 client.Do 的失败映射为网关错误:
// 截止时间触发归为 Timeout,其余传输层故障归为 Network。
func MapTransportError(provider string, timeout time.Duration, err error) *types.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewTimeout(provider, timeout.Milliseconds()).WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		// 调用方主动取消,重试没有意义
		return types.NewNetwork(provider, "request cancelled").WithCause(err).WithRetryable(false)
	}
	return types.NewNetwork(provider, "transport failure").WithCause(err)
}

// ReadErrorMessage 尽力从错误包体中取出人类可读的消息。
// 先按 OpenAI 风格的 error 包裹解析,失败则回退原始文本。
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}

	return strings.TrimSpace(string(data))
}

// ChooseModel 按 请求 → 适配器配置 → catalog 默认 的顺序选定模型。
func ChooseModel(req *llm.Request, cfgModel, provider string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if cfgModel != "" {
		return cfgModel
	}
	return catalog.DefaultModel(provider)
}

// EffectiveTimeout 取 max(配置超时, MaxTokens·50ms),长输出请求获得
// 与其成比例的截止时间。
func EffectiveTimeout(base time.Duration, maxTokens int) time.Duration {
	if base <= 0 {
		base = 30 * time.Second
	}
	if d := time.Duration(maxTokens) * 50 * time.Millisecond; d > base {
		return d
	}
	return base
}

// NormalizeFinishReason 统一各家的结束原因:tool_calls/function_call
// 归并为 function_call,max_tokens 归并为 length,未知值原样透传。
func NormalizeFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "", "stop":
		return llm.FinishStop
	case "length", "max_tokens":
		return llm.FinishLength
	case "tool_calls", "function_call":
		return llm.FinishFunctionCall
	default:
		return llm.FinishReason(reason)
	}
}

// IntersectModels 以编译内置表为准,用上游列表刷新 Available 位。
// 上游列表为空时全部视为可用(探测失败不应清空目录)。
func IntersectModels(provider string, upstream []string) []catalog.Model {
	models := catalog.ModelsFor(provider)
	if len(upstream) == 0 {
		return models
	}
	seen := make(map[string]bool, len(upstream))
	for _, id := range upstream {
		seen[id] = true
	}
	for i := range models {
		models[i].Available = seen[models[i].ID]
	}
	return models
}

// ApplyAllowedModels 将模型列表收窄到 allowed 集合。allowed 为空表示不限。
func ApplyAllowedModels(models []catalog.Model, allowed []string) []catalog.Model {
	if len(allowed) == 0 {
		return models
	}
	keep := make(map[string]bool, len(allowed))
	for _, id := range allowed {
		keep[id] = true
	}
	out := models[:0]
	for _, m := range models {
		if keep[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// ParseRateLimitHeaders 解析 OpenAI 风格的限流响应头。
// 任一字段缺失都返回 ok=false,由调用方回退到本地合成值。
func ParseRateLimitHeaders(h http.Header) (llm.RateLimitStatus, bool) {
	limit := firstHeaderInt(h, "X-Ratelimit-Limit-Requests", "X-Ratelimit-Limit")
	remaining := firstHeaderInt(h, "X-Ratelimit-Remaining-Requests", "X-Ratelimit-Remaining")
	if limit <= 0 || remaining < 0 {
		return llm.RateLimitStatus{}, false
	}

	status := llm.RateLimitStatus{Limit: limit, Remaining: remaining}
	if raw := firstHeader(h, "X-Ratelimit-Reset-Requests", "X-Ratelimit-Reset"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			status.ResetAt = time.Now().Add(d)
		} else if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
			if secs > 1e9 { // unix 时间戳
				status.ResetAt = time.Unix(secs, 0)
			} else {
				status.ResetAt = time.Now().Add(time.Duration(secs) * time.Second)
			}
		}
	}
	if status.ResetAt.IsZero() {
		status.ResetAt = time.Now().Add(time.Minute)
	}
	return status, true
}

func firstHeader(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return ""
}

func firstHeaderInt(h http.Header, keys ...string) int {
	raw := firstHeader(h, keys...)
	if raw == "" {
		return -1
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}

// ForEachSSEData 按行读取 SSE 流,对每个 "data:" 载荷调用 fn。
// 规则与各家一致:空行与非 data 行跳过,[DONE] 终止,EOF 前的
// 尾部残行照常处理。fn 返回 false 表示消费方要求提前停止。
func ForEachSSEData(r io.Reader, fn func(data string) bool) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
			if data == "[DONE]" {
				return nil
			}
			if data != "" && !fn(data) {
				return nil
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// SafeCloseBody 关闭响应体并忽略错误。
func SafeCloseBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}

// WaitQuota 在请求截止时间内等待本地限流令牌。ctx 自身出错走传输
// 错误映射,令牌等不到则以 RateLimit 返回,让编排层转投其他家。
func WaitQuota(ctx context.Context, l *ratelimit.Limiter, provider string, baseTimeout time.Duration) error {
	if err := l.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return MapTransportError(provider, baseTimeout, ctx.Err())
		}
		_, _, resetAt := l.Status()
		return types.NewRateLimit(provider, "client-side rate limit exhausted", resetAt)
	}
	return nil
}
