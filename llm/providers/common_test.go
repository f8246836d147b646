package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/aigateway/llm"
	"github.com/BaSui01/aigateway/types"
)

// --- HTTP 错误映射 ---

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		msg       string
		wantCode  types.ErrorCode
		wantRetry bool
	}{
		{"401 invalid key", http.StatusUnauthorized, "Invalid API key", types.ErrAuthentication, false},
		{"403 region blocked", http.StatusForbidden, "not available in your region", types.ErrAuthentication, false},
		{"404 unknown model", http.StatusNotFound, "model not found", types.ErrModelNotAvailable, false},
		{"429 throttled", http.StatusTooManyRequests, "Rate limit exceeded", types.ErrRateLimit, true},
		{"400 plain bad request", http.StatusBadRequest, "invalid temperature", types.ErrInvalidRequest, false},
		{"400 quota keyword", http.StatusBadRequest, "Quota exceeded for this project", types.ErrQuota, false},
		{"402 deepseek balance", http.StatusPaymentRequired, "Insufficient Balance", types.ErrQuota, false},
		{"403 comes before quota sniffing", http.StatusForbidden, "quota", types.ErrAuthentication, false},
		{"418 odd client error", http.StatusTeapot, "odd", types.ErrInvalidRequest, false},
		{"500 internal", http.StatusInternalServerError, "boom", types.ErrNetwork, true},
		{"502 bad gateway", http.StatusBadGateway, "upstream unavailable", types.ErrNetwork, true},
		{"503 overloaded", http.StatusServiceUnavailable, "try again later", types.ErrNetwork, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapHTTPError("deepseek", "deepseek-chat", tt.status, tt.msg)
			require.NotNil(t, err)
			assert.Equal(t, tt.wantCode, err.Code)
			assert.Equal(t, tt.wantRetry, err.Retryable)
			assert.Equal(t, tt.status, err.HTTPStatus)
			assert.Equal(t, "deepseek", err.Provider)
		})
	}
}

func TestMapHTTPError404CarriesModelID(t *testing.T) {
	err := MapHTTPError("gemini", "gemini-9.9-ultra", http.StatusNotFound, "not found")
	assert.Equal(t, "gemini-9.9-ultra", err.ModelID)
}

func TestMapHTTPError429SetsReset(t *testing.T) {
	before := time.Now()
	err := MapHTTPError("qwen", "qwen-max", http.StatusTooManyRequests, "slow down")
	assert.WithinDuration(t, before.Add(time.Minute), err.ResetAt, 2*time.Second)
}

func TestMapTransportError(t *testing.T) {
	err := MapTransportError("kimi", 5*time.Second, context.DeadlineExceeded)
	assert.Equal(t, types.ErrTimeout, err.Code)
	assert.EqualValues(t, 5000, err.TimeoutMS)
	assert.True(t, err.Retryable)

	err = MapTransportError("kimi", 5*time.Second, errors.New("connection refused"))
	assert.Equal(t, types.ErrNetwork, err.Code)
	assert.True(t, err.Retryable)

	// 调用方取消不可重试
	err = MapTransportError("kimi", 5*time.Second, context.Canceled)
	assert.Equal(t, types.ErrNetwork, err.Code)
	assert.False(t, err.Retryable)
}

// --- 错误包体解析 ---

func TestReadErrorMessage(t *testing.T) {
	oa := `{"error":{"message":"Invalid API key","type":"authentication_error"}}`
	assert.Equal(t, "Invalid API key (type: authentication_error)", ReadErrorMessage(strings.NewReader(oa)))

	noType := `{"error":{"message":"boom"}}`
	assert.Equal(t, "boom", ReadErrorMessage(strings.NewReader(noType)))

	raw := `upstream exploded`
	assert.Equal(t, "upstream exploded", ReadErrorMessage(strings.NewReader(raw)))
}

// --- 模型与超时选择 ---

func TestChooseModel(t *testing.T) {
	req := &llm.Request{Model: "deepseek-coder"}
	assert.Equal(t, "deepseek-coder", ChooseModel(req, "deepseek-chat", "deepseek"))
	assert.Equal(t, "deepseek-chat", ChooseModel(&llm.Request{}, "deepseek-chat", "deepseek"))
	assert.Equal(t, "deepseek-chat", ChooseModel(nil, "", "deepseek"))
	assert.Equal(t, "moonshot-v1-8k", ChooseModel(nil, "", "kimi"))
}

func TestEffectiveTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, EffectiveTimeout(30*time.Second, 100))
	// 4096 tokens · 50ms = 204.8s > 30s
	assert.Equal(t, 4096*50*time.Millisecond, EffectiveTimeout(30*time.Second, 4096))
	assert.Equal(t, 30*time.Second, EffectiveTimeout(0, 0))
}

// --- 结束原因归一 ---

func TestNormalizeFinishReason(t *testing.T) {
	assert.Equal(t, llm.FinishStop, NormalizeFinishReason("stop"))
	assert.Equal(t, llm.FinishStop, NormalizeFinishReason(""))
	assert.Equal(t, llm.FinishLength, NormalizeFinishReason("length"))
	assert.Equal(t, llm.FinishLength, NormalizeFinishReason("max_tokens"))
	assert.Equal(t, llm.FinishFunctionCall, NormalizeFinishReason("tool_calls"))
	assert.Equal(t, llm.FinishFunctionCall, NormalizeFinishReason("function_call"))
	assert.Equal(t, llm.FinishReason("content_filter"), NormalizeFinishReason("content_filter"))
}

// --- 目录交集 ---

func TestIntersectModels(t *testing.T) {
	models := IntersectModels("kimi", []string{"moonshot-v1-8k", "moonshot-v1-128k"})
	byID := map[string]bool{}
	for _, m := range models {
		byID[m.ID] = m.Available
	}
	assert.True(t, byID["moonshot-v1-8k"])
	assert.True(t, byID["moonshot-v1-128k"])
	assert.False(t, byID["moonshot-v1-32k"])
}

func TestIntersectModelsEmptyUpstreamKeepsAll(t *testing.T) {
	models := IntersectModels("kimi", nil)
	require.NotEmpty(t, models)
	for _, m := range models {
		assert.True(t, m.Available, m.ID)
	}
}

// --- 限流响应头 ---

func TestParseRateLimitHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("X-Ratelimit-Limit-Requests", "60")
	h.Set("X-Ratelimit-Remaining-Requests", "42")
	h.Set("X-Ratelimit-Reset-Requests", "30s")

	status, ok := ParseRateLimitHeaders(h)
	require.True(t, ok)
	assert.Equal(t, 60, status.Limit)
	assert.Equal(t, 42, status.Remaining)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), status.ResetAt, 2*time.Second)
}

func TestParseRateLimitHeadersSecondsReset(t *testing.T) {
	h := http.Header{}
	h.Set("X-Ratelimit-Limit", "100")
	h.Set("X-Ratelimit-Remaining", "5")
	h.Set("X-Ratelimit-Reset", "45")

	status, ok := ParseRateLimitHeaders(h)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(45*time.Second), status.ResetAt, 2*time.Second)
}

func TestParseRateLimitHeadersMissing(t *testing.T) {
	_, ok := ParseRateLimitHeaders(http.Header{})
	assert.False(t, ok)

	h := http.Header{}
	h.Set("X-Ratelimit-Limit-Requests", "not-a-number")
	_, ok = ParseRateLimitHeaders(h)
	assert.False(t, ok)
}

// --- SSE 读取 ---

func TestForEachSSEData(t *testing.T) {
	raw := "event: ping\n" +
		"\n" +
		"data: {\"a\":1}\n" +
		"data: {\"b\":2}\n" +
		"\n" +
		"data: [DONE]\n" +
		"data: {\"never\":true}\n"

	var got []string
	err := ForEachSSEData(strings.NewReader(raw), func(data string) bool {
		got = append(got, data)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, got)
}

func TestForEachSSEDataKeepsTrailingPartialLine(t *testing.T) {
	// 最后一行没有换行符,EOF 前仍须处理
	raw := "data: {\"a\":1}\ndata: {\"tail\":true}"

	var got []string
	err := ForEachSSEData(strings.NewReader(raw), func(data string) bool {
		got = append(got, data)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1}`, `{"tail":true}`}, got)
}

func TestForEachSSEDataEarlyStop(t *testing.T) {
	raw := "data: one\ndata: two\ndata: three\n"

	var got []string
	err := ForEachSSEData(strings.NewReader(raw), func(data string) bool {
		got = append(got, data)
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, got)
}
