package llm

import (
	"fmt"
	"unicode/utf8"

	"github.com/BaSui01/aigateway/llm/catalog"
	"github.com/BaSui01/aigateway/types"
)

// ValidateRequest 在任何网络调用之前按模型能力表校验请求。
// 违反约束返回 ErrInvalidRequest,未知模型返回 ErrModelNotAvailable。
func ValidateRequest(provider, modelID string, req *Request) error {
	model, ok := catalog.Lookup(modelID)
	if !ok {
		return types.NewModelNotAvailable(provider, modelID)
	}

	if req == nil || len(req.Messages) == 0 {
		return types.NewInvalidRequest(provider, "messages must not be empty")
	}
	if req.Temperature < 0 || req.Temperature > 1 {
		return types.NewInvalidRequest(provider,
			fmt.Sprintf("temperature %.2f out of range [0,1]", req.Temperature))
	}
	if req.TopP < 0 || req.TopP > 1 {
		return types.NewInvalidRequest(provider,
			fmt.Sprintf("top_p %.2f out of range [0,1]", req.TopP))
	}

	caps := model.Capabilities
	if est := estimateInputTokens(req); caps.MaxContextTokens > 0 && est > caps.MaxContextTokens {
		return types.NewInvalidRequest(provider,
			fmt.Sprintf("estimated input of %d tokens exceeds %s context window of %d",
				est, modelID, caps.MaxContextTokens))
	}
	if req.MaxTokens > 0 && caps.MaxOutputTokens > 0 && req.MaxTokens > caps.MaxOutputTokens {
		return types.NewInvalidRequest(provider,
			fmt.Sprintf("max_tokens %d exceeds %s output limit of %d",
				req.MaxTokens, modelID, caps.MaxOutputTokens))
	}
	if req.Stream && !caps.SupportsStreaming {
		return types.NewInvalidRequest(provider,
			fmt.Sprintf("model %s does not support streaming", modelID))
	}
	if len(req.Functions) > 0 && !caps.SupportsFunctionCalling {
		return types.NewInvalidRequest(provider,
			fmt.Sprintf("model %s does not support function calling", modelID))
	}
	return nil
}

// estimateInputTokens 对所有消息内容与系统提示词做全局 ⌈chars/4⌉ 估算,
// 与 catalog.EstimateTokens 保持同一启发式。
func estimateInputTokens(req *Request) int {
	total := 0
	for _, m := range req.Messages {
		total += utf8.RuneCountInString(m.Content)
	}
	total += utf8.RuneCountInString(req.SystemPrompt)
	if total == 0 {
		return 0
	}
	return (total + 3) / 4
}
