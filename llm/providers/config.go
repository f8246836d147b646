package providers

import "time"

// Config 所有适配器共享的配置字段。四家上游的差异只剩默认 BaseURL
// 与默认模型，由具体适配器在构造时补齐，这里不再按家拆分结构体。
type Config struct {
	APIKey          string        `json:"api_key" yaml:"api_key"`
	BaseURL         string        `json:"base_url" yaml:"base_url"`
	Model           string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout         time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RateLimitPerMin int           `json:"rate_limit_per_min,omitempty" yaml:"rate_limit_per_min,omitempty"`

	// AllowedModels 非空时,模型列表进一步收窄到该集合。
	AllowedModels []string `json:"allowed_models,omitempty" yaml:"allowed_models,omitempty"`
}
