package deepseek

import (
	"go.uber.org/zap"

	"github.com/BaSui01/aigateway/llm"
	"github.com/BaSui01/aigateway/llm/providers"
	"github.com/BaSui01/aigateway/llm/providers/openaicompat"
)

// Adapter 是 DeepSeek 的 Provider 适配器。
type Adapter struct {
	*openaicompat.Adapter
}

// New 创建 DeepSeek 适配器实例。
func New(cfg providers.Config, logger *zap.Logger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepseek.com"
	}
	return &Adapter{
		Adapter: openaicompat.New(cfg, openaicompat.Options{
			ProviderName: llm.ProviderDeepSeek,
		}, logger),
	}
}
