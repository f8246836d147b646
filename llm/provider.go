package llm

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/BaSui01/aigateway/llm/catalog"
	"github.com/BaSui01/aigateway/types"
)

// 已支持的 Provider 标识。路由、配置与统计均以此为键。
const (
	ProviderGemini   = "gemini"
	ProviderDeepSeek = "deepseek"
	ProviderQwen     = "qwen"
	ProviderKimi     = "kimi"
	ProviderMock     = "mock"
)

// KnownProviders 按默认优先级从高到低排列。
func KnownProviders() []string {
	return []string{ProviderGemini, ProviderDeepSeek, ProviderQwen, ProviderKimi, ProviderMock}
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// FunctionDef 描述一个可供模型调用的函数（JSON Schema 参数）。
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// FunctionCall 是模型发起的函数调用，Arguments 为原始 JSON。
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Message struct {
	Role         Role              `json:"role"`
	Content      string            `json:"content,omitempty"`
	FunctionCall *FunctionCall     `json:"function_call,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"` // 不上送上游
}

// Request 是网关的统一请求。适配器负责翻译为各家协议。
type Request struct {
	Messages     []Message     `json:"messages"`
	Model        string        `json:"model,omitempty"`
	MaxTokens    int           `json:"max_tokens,omitempty"`
	Temperature  float64       `json:"temperature,omitempty"` // [0,1]
	TopP         float64       `json:"top_p,omitempty"`       // [0,1]
	Stream       bool          `json:"stream,omitempty"`
	Functions    []FunctionDef `json:"functions,omitempty"`
	SystemPrompt string        `json:"system_prompt,omitempty"`
}

// Usage 统一为 input/output/total 三元组，OpenAI 风格的
// prompt/completion 字段由适配器换算。
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type FinishReason string

const (
	FinishStop         FinishReason = "stop"
	FinishLength       FinishReason = "length"
	FinishFunctionCall FinishReason = "function_call"
	FinishError        FinishReason = "error"
)

type ResponseMetadata struct {
	DurationMS   int64         `json:"duration_ms"`
	Timestamp    time.Time     `json:"timestamp"`
	FinishReason FinishReason  `json:"finish_reason"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

type Response struct {
	Content  string           `json:"content"`
	Model    string           `json:"model"`
	Provider string           `json:"provider"`
	Usage    Usage            `json:"usage"`
	Metadata ResponseMetadata `json:"metadata"`
}

// StreamChunk 为流式增量。约束：按上游顺序发送；成功流恰有一个
// Done=true 的末块；中途失败以 Err 非空的末块收尾，随后关闭通道。
type StreamChunk struct {
	Delta    string       `json:"delta"`
	Done     bool         `json:"done"`
	Model    string       `json:"model,omitempty"`
	Provider string       `json:"provider,omitempty"`
	Usage    *Usage       `json:"usage,omitempty"` // 仅在 Done 且上游上报时出现
	Err      *types.Error `json:"error,omitempty"`
}

// RateLimitStatus 是尽力而为的限流视图：有响应头用响应头，
// 否则由本地限流器合成保守值。
type RateLimitStatus struct {
	Limit     int       `json:"limit"`     // 每分钟请求数
	Remaining int       `json:"remaining"` // 当前窗口剩余
	ResetAt   time.Time `json:"reset_at"`
}

// ProviderHealth 记录一次健康巡检的结果。
type ProviderHealth struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Provider 定义了统一的上游适配接口。
//
// 实现约定：
//   - Initialize 校验密钥并做一次最小上游探测，缓存模型列表；
//     失败返回 Authentication 或 Network 错误。
//   - HealthCheck 是 ≤5s 的轻量探活，只返回布尔，从不返回错误。
//   - Completion/Stream 先做 catalog 校验，再套用
//     max(配置超时, MaxTokens·50ms) 的截止时间。
//   - Stream 由单一 producer goroutine 投递，取消时必须关闭 HTTP body。
type Provider interface {
	Name() string

	Initialize(ctx context.Context) error

	HealthCheck(ctx context.Context) bool

	// Models 返回初始化时缓存的模型列表。
	Models() []catalog.Model

	Completion(ctx context.Context, req *Request) (*Response, error)

	Stream(ctx context.Context, req *Request) (<-chan StreamChunk, error)

	RateLimitStatus() RateLimitStatus
}
