package config

import (
	"time"
)

// 负载均衡策略取值。
const (
	StrategyPriority     = "priority"
	StrategyRoundRobin   = "round-robin"
	StrategyRandom       = "random"
	StrategyLeastLatency = "least-latency"
)

// KnownStrategies 返回合法的负载均衡策略。
func KnownStrategies() []string {
	return []string{StrategyPriority, StrategyRoundRobin, StrategyRandom, StrategyLeastLatency}
}

// Config 是网关的完整配置。
type Config struct {
	// LoadBalancingStrategy 路由兜底策略:priority | round-robin | random | least-latency
	LoadBalancingStrategy string `yaml:"load_balancing_strategy" env:"LOAD_BALANCING_STRATEGY"`

	// DefaultTimeout 单次尝试的编排层预算
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`

	// MaxRetries 尝试总数上限(首次尝试计入)
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`

	// RetryDelay 指数退避的起始间隔
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`

	CircuitBreaker BreakerConfig `yaml:"circuit_breaker" env:"CIRCUIT_BREAKER"`
	Cache          CacheConfig   `yaml:"cache" env:"CACHE"`
	Queue          QueueConfig   `yaml:"queue" env:"QUEUE"`

	Gemini   ProviderConfig `yaml:"gemini" env:"GEMINI"`
	DeepSeek ProviderConfig `yaml:"deepseek" env:"DEEPSEEK"`
	Qwen     ProviderConfig `yaml:"qwen" env:"QWEN"`
	Kimi     ProviderConfig `yaml:"kimi" env:"KIMI"`
	Mock     ProviderConfig `yaml:"mock" env:"MOCK"`
}

// BreakerConfig 熔断器参数。
type BreakerConfig struct {
	// FailureThreshold 监控窗口内的连续失败阈值
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// RecoveryTimeout Open → HalfOpen 的恢复等待
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" env:"RECOVERY_TIMEOUT"`
	// Timeout 熔断器自身的单次调用硬超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// MonitoringPeriod 失败计数窗口
	MonitoringPeriod time.Duration `yaml:"monitoring_period" env:"MONITORING_PERIOD"`
}

// CacheConfig 响应缓存参数。
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	TTL     time.Duration `yaml:"ttl" env:"TTL"`
	MaxSize int           `yaml:"max_size" env:"MAX_SIZE"`
}

// QueueConfig 请求排队参数。
type QueueConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	MaxSize int           `yaml:"max_size" env:"MAX_SIZE"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// ProviderConfig 单家 Provider 的配置。不变式:Enabled 蕴含
// APIKey 非空(mock 除外,它不触网)。
type ProviderConfig struct {
	// Provider 名称由 Providers() 填充,不参与加载
	Provider string `yaml:"-" env:"-"`

	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	APIKey  string `yaml:"api_key" env:"API_KEY"`
	// BaseURL 为空时用各家默认端点
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Model   string        `yaml:"model" env:"MODEL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// RateLimit 每分钟请求预算,0 表示不限
	RateLimit int `yaml:"rate_limit" env:"RATE_LIMIT"`
	// Priority 越大越优先
	Priority        int      `yaml:"priority" env:"PRIORITY"`
	AllowedModelIDs []string `yaml:"allowed_model_ids" env:"ALLOWED_MODEL_IDS"`
}

// Providers 返回按名称索引的 Provider 配置,Provider 字段已填。
func (c *Config) Providers() map[string]ProviderConfig {
	out := map[string]ProviderConfig{
		"gemini":   c.Gemini,
		"deepseek": c.DeepSeek,
		"qwen":     c.Qwen,
		"kimi":     c.Kimi,
		"mock":     c.Mock,
	}
	for name, p := range out {
		p.Provider = name
		out[name] = p
	}
	return out
}

// EnabledProviders 返回启用的 Provider 配置,按 Priority 从高到低、
// 同优先级按名称稳定排序。
func (c *Config) EnabledProviders() []ProviderConfig {
	all := c.Providers()
	out := make([]ProviderConfig, 0, len(all))
	for _, name := range []string{"gemini", "deepseek", "qwen", "kimi", "mock"} {
		if p := all[name]; p.Enabled {
			out = append(out, p)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Priority > out[j-1].Priority; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
