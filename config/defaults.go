package config

import "time"

// Default 返回内置默认配置。所有 Provider 默认关闭,启用与密钥
// 必须显式给出。
func Default() *Config {
	return &Config{
		LoadBalancingStrategy: StrategyPriority,
		DefaultTimeout:        30 * time.Second,
		MaxRetries:            3,
		RetryDelay:            time.Second,
		CircuitBreaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
			Timeout:          30 * time.Second,
			MonitoringPeriod: 60 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     5 * time.Minute,
			MaxSize: 1000,
		},
		Queue: QueueConfig{
			Enabled: true,
			MaxSize: 100,
			Timeout: 30 * time.Second,
		},
		Gemini:   defaultProvider(4),
		DeepSeek: defaultProvider(3),
		Qwen:     defaultProvider(2),
		Kimi:     defaultProvider(1),
		Mock:     defaultProvider(0),
	}
}

func defaultProvider(priority int) ProviderConfig {
	return ProviderConfig{
		Enabled:   false,
		Timeout:   30 * time.Second,
		RateLimit: 60,
		Priority:  priority,
	}
}
