package providers

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/BaSui01/aigateway/llm"
)

// OpenAI 兼容线格式。DeepSeek 与 Kimi 直接共用;Qwen 走 DashScope
// 原生协议,在其适配器内自带线类型。

type OpenAIMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []OpenAIToolCall `json:"tool_calls,omitempty"`
}

type OpenAIToolCall struct {
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type"`
	Function OpenAIFunction `json:"function"`
}

// OpenAIFunction 的 Arguments 在线格式中是内嵌 JSON 的字符串。
type OpenAIFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type OpenAIToolDef struct {
	Type     string            `json:"type"`
	Function OpenAIFunctionDef `json:"function"`
}

type OpenAIFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type OpenAIRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	Tools       []OpenAIToolDef `json:"tools,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	TopP        float64         `json:"top_p,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type OpenAIChoice struct {
	Index        int            `json:"index"`
	FinishReason string         `json:"finish_reason"`
	Message      OpenAIMessage  `json:"message"`
	Delta        *OpenAIMessage `json:"delta,omitempty"`
}

type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type OpenAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   *OpenAIUsage   `json:"usage,omitempty"`
	Created int64          `json:"created,omitempty"`
}

type OpenAIModelList struct {
	Object string `json:"object"`
	Data   []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ConvertMessagesToOpenAI 将统一请求转换为 OpenAI 兼容消息序列。
// SystemPrompt 作为首条 system 消息前置;assistant 消息携带的
// FunctionCall 转回 tool_calls。
func ConvertMessagesToOpenAI(req *llm.Request) []OpenAIMessage {
	out := make([]OpenAIMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, OpenAIMessage{Role: string(llm.RoleSystem), Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		oa := OpenAIMessage{Role: string(m.Role), Content: m.Content}
		if m.FunctionCall != nil {
			oa.ToolCalls = []OpenAIToolCall{{
				Type: "function",
				Function: OpenAIFunction{
					Name:      m.FunctionCall.Name,
					Arguments: m.FunctionCall.Arguments,
				},
			}}
		}
		out = append(out, oa)
	}
	return out
}

// ConvertFunctionsToOpenAI 将函数定义转换为 tools 数组。
func ConvertFunctionsToOpenAI(fns []llm.FunctionDef) []OpenAIToolDef {
	if len(fns) == 0 {
		return nil
	}
	out := make([]OpenAIToolDef, 0, len(fns))
	for _, f := range fns {
		out = append(out, OpenAIToolDef{
			Type: "function",
			Function: OpenAIFunctionDef{
				Name:        f.Name,
				Description: f.Description,
				Parameters:  f.Parameters,
			},
		})
	}
	return out
}

// ToResponse 将 OpenAI 兼容响应折叠为统一响应。多 choice 时只取首个,
// tool_calls 的首个调用映射为 FunctionCall。
func ToResponse(oa OpenAIResponse, provider, model string, started time.Time) *llm.Response {
	resp := &llm.Response{
		Model:    model,
		Provider: provider,
		Metadata: llm.ResponseMetadata{
			DurationMS:   time.Since(started).Milliseconds(),
			Timestamp:    time.Now(),
			FinishReason: llm.FinishStop,
		},
	}
	if oa.Model != "" {
		resp.Model = oa.Model
	}
	if len(oa.Choices) > 0 {
		choice := oa.Choices[0]
		resp.Content = choice.Message.Content
		resp.Metadata.FinishReason = NormalizeFinishReason(choice.FinishReason)
		if len(choice.Message.ToolCalls) > 0 {
			tc := choice.Message.ToolCalls[0]
			resp.Metadata.FunctionCall = &llm.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}
			resp.Metadata.FinishReason = llm.FinishFunctionCall
		}
	}
	if oa.Usage != nil {
		resp.Usage = llm.Usage{
			InputTokens:  oa.Usage.PromptTokens,
			OutputTokens: oa.Usage.CompletionTokens,
			TotalTokens:  oa.Usage.TotalTokens,
		}
	}
	return resp
}
