package factory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/aigateway/config"
	"github.com/BaSui01/aigateway/llm"
	"github.com/BaSui01/aigateway/llm/providers"
	"github.com/BaSui01/aigateway/llm/providers/deepseek"
	"github.com/BaSui01/aigateway/llm/providers/gemini"
	"github.com/BaSui01/aigateway/llm/providers/kimi"
	"github.com/BaSui01/aigateway/llm/providers/mock"
	"github.com/BaSui01/aigateway/llm/providers/qwen"
)

// New 按名称创建适配器实例。未知名称返回错误。
func New(name string, cfg config.ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pc := providers.Config{
		APIKey:          cfg.APIKey,
		BaseURL:         cfg.BaseURL,
		Model:           cfg.Model,
		Timeout:         cfg.Timeout,
		RateLimitPerMin: cfg.RateLimit,
		AllowedModels:   cfg.AllowedModelIDs,
	}

	switch name {
	case llm.ProviderGemini:
		return gemini.New(pc, logger), nil
	case llm.ProviderDeepSeek:
		return deepseek.New(pc, logger), nil
	case llm.ProviderQwen:
		return qwen.New(pc, logger), nil
	case llm.ProviderKimi:
		return kimi.New(pc, logger), nil
	case llm.ProviderMock:
		return mock.New(pc, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// BuildRegistry 依照配置创建并初始化全部启用的适配器。
// 注册顺序即配置优先级顺序,路由的稳定排序依赖它。
// 初始化失败的 Provider 记 Warn 后跳过;一个都没成功则启动失败。
func BuildRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*llm.Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := llm.NewRegistry()
	for _, pc := range cfg.EnabledProviders() {
		p, err := New(pc.Provider, pc, logger)
		if err != nil {
			logger.Warn("跳过无法构造的 provider",
				zap.String("provider", pc.Provider),
				zap.Error(err))
			continue
		}
		if err := p.Initialize(ctx); err != nil {
			logger.Warn("provider 初始化失败,跳过",
				zap.String("provider", pc.Provider),
				zap.Error(err))
			continue
		}
		reg.Register(pc.Provider, p)
		logger.Info("provider 已注册",
			zap.String("provider", pc.Provider),
			zap.Int("priority", pc.Priority))
	}

	if reg.Len() == 0 {
		return nil, fmt.Errorf("no provider could be initialized")
	}

	if first := reg.Ordered(); len(first) > 0 {
		_ = reg.SetDefault(first[0].Name())
	}
	return reg, nil
}
