package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "AI"

// Load 按 默认值 → YAML(AI_CONFIG_PATH) → 环境变量 的优先级合并配置,
// 然后校验。任何校验违例都会让启动失败。
func Load() (*Config, error) {
	return NewLoader().WithConfigPath(os.Getenv("AI_CONFIG_PATH")).Load()
}

// Loader 配置加载器(Builder 模式)。
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建加载器,默认环境变量前缀 AI。
func NewLoader() *Loader {
	return &Loader{envPrefix: envPrefix}
}

// WithConfigPath 设置 YAML 文件路径。空路径与不存在的文件都被忽略。
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 覆盖环境变量前缀。
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 追加自定义校验器,在内置校验之后运行。
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 执行加载与校验。
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := loadFromFile(cfg, l.configPath); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := setFieldsFromEnv(field, key); err != nil {
				return err
			}
			continue
		}

		raw, ok := os.LookupEnv(key)
		if !ok || raw == "" {
			continue
		}
		if err := setFieldValue(field, raw); err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := parseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := parts[:0]
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}
	return nil
}

// parseDuration 接受 Go 时长字符串;裸整数按秒解释。
func parseDuration(value string) (time.Duration, error) {
	if d, err := time.ParseDuration(value); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a duration or integer seconds: %q", value)
	}
	return time.Duration(secs) * time.Second, nil
}

// Validate 校验配置,收集所有违例后拼成一个错误返回。
func (c *Config) Validate() error {
	var violations []string

	if !contains(KnownStrategies(), c.LoadBalancingStrategy) {
		violations = append(violations, fmt.Sprintf("unknown load balancing strategy %q", c.LoadBalancingStrategy))
	}
	if c.DefaultTimeout <= 0 {
		violations = append(violations, "default_timeout must be positive")
	}
	if c.MaxRetries <= 0 {
		violations = append(violations, "max_retries must be positive")
	}
	if c.RetryDelay <= 0 {
		violations = append(violations, "retry_delay must be positive")
	}

	if c.CircuitBreaker.FailureThreshold <= 0 {
		violations = append(violations, "circuit_breaker.failure_threshold must be positive")
	}
	if c.CircuitBreaker.RecoveryTimeout <= 0 {
		violations = append(violations, "circuit_breaker.recovery_timeout must be positive")
	}
	if c.CircuitBreaker.Timeout <= 0 {
		violations = append(violations, "circuit_breaker.timeout must be positive")
	}
	if c.CircuitBreaker.MonitoringPeriod <= 0 {
		violations = append(violations, "circuit_breaker.monitoring_period must be positive")
	}

	if c.Cache.Enabled {
		if c.Cache.TTL <= 0 {
			violations = append(violations, "cache.ttl must be positive")
		}
		if c.Cache.MaxSize <= 0 {
			violations = append(violations, "cache.max_size must be positive")
		}
	}
	if c.Queue.Enabled {
		if c.Queue.MaxSize <= 0 {
			violations = append(violations, "queue.max_size must be positive")
		}
		if c.Queue.Timeout <= 0 {
			violations = append(violations, "queue.timeout must be positive")
		}
	}

	enabled := 0
	for _, name := range []string{"gemini", "deepseek", "qwen", "kimi", "mock"} {
		p := c.Providers()[name]
		if !p.Enabled {
			continue
		}
		enabled++
		if name != "mock" && strings.TrimSpace(p.APIKey) == "" {
			violations = append(violations, fmt.Sprintf("%s is enabled but has no api key", name))
		}
		if p.Timeout <= 0 {
			violations = append(violations, fmt.Sprintf("%s.timeout must be positive", name))
		}
		if p.RateLimit < 0 {
			violations = append(violations, fmt.Sprintf("%s.rate_limit must not be negative", name))
		}
	}
	if enabled == 0 {
		violations = append(violations, "at least one provider must be enabled")
	}

	if len(violations) > 0 {
		return errors.New("invalid configuration: " + strings.Join(violations, "; "))
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
