package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/aigateway/config"
	"github.com/BaSui01/aigateway/llm/circuitbreaker"
	"github.com/BaSui01/aigateway/types"
)

func orchestratorConfig() *config.Config {
	return &config.Config{
		LoadBalancingStrategy: config.StrategyPriority,
		DefaultTimeout:        2 * time.Second,
		MaxRetries:            3,
		RetryDelay:            time.Millisecond,
		CircuitBreaker: config.BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  time.Second,
			Timeout:          2 * time.Second,
			MonitoringPeriod: time.Minute,
		},
		Cache: config.CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 64},
		Queue: config.QueueConfig{Enabled: true, MaxSize: 16, Timeout: time.Second},
		Gemini: config.ProviderConfig{
			Enabled: true, APIKey: "test", Model: "gemini-1.5-flash", Priority: 9,
		},
		DeepSeek: config.ProviderConfig{
			Enabled: true, APIKey: "test", Model: "deepseek-chat", Priority: 5,
		},
	}
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, providers ...*fakeProvider) *Orchestrator {
	t.Helper()
	registry := NewRegistry()
	for _, p := range providers {
		registry.Register(p.Name(), p)
	}
	o, err := NewOrchestrator(cfg, registry, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, o.Shutdown(ctx))
	})
	return o
}

func chatAbout(content string) *Request {
	return &Request{Messages: []Message{{Role: RoleUser, Content: content}}}
}

func TestNewOrchestratorRequiresProviders(t *testing.T) {
	_, err := NewOrchestrator(orchestratorConfig(), NewRegistry(), zap.NewNop())
	require.Error(t, err)
}

func TestExecuteSingleProviderSuccess(t *testing.T) {
	gemini := newFakeProvider(ProviderGemini)
	o := newTestOrchestrator(t, orchestratorConfig(), gemini)

	res, err := o.Execute(context.Background(), chatRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, res.Provider)
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.FailoverUsed)
	assert.False(t, res.Cached)
	assert.Equal(t, []string{ProviderGemini}, res.ProvidersAttempted)
	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, "ok from gemini", res.Response.Content)

	snap := o.Stats()
	assert.Equal(t, int64(1), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.SuccessfulRequests)
	assert.Equal(t, int64(0), snap.FailedRequests)
	assert.Equal(t, int64(1), snap.Providers[ProviderGemini].Requests)
}

func TestExecuteRejectsEmptyRequest(t *testing.T) {
	o := newTestOrchestrator(t, orchestratorConfig(), newFakeProvider(ProviderGemini))

	for _, req := range []*Request{nil, {Messages: []Message{}}} {
		_, err := o.Execute(context.Background(), req, nil)
		ge, ok := types.AsError(err)
		require.True(t, ok)
		assert.Equal(t, types.ErrInvalidRequest, ge.Code)
	}
	assert.Equal(t, int64(0), o.Stats().TotalRequests)
}

func TestExecuteFailoverOnNetworkError(t *testing.T) {
	gemini := newFakeProvider(ProviderGemini)
	gemini.completeFn = func(ctx context.Context, req *Request) (*Response, error) {
		return nil, types.NewNetwork(ProviderGemini, "connection refused")
	}
	deepseek := newFakeProvider(ProviderDeepSeek)
	o := newTestOrchestrator(t, orchestratorConfig(), gemini, deepseek)

	res, err := o.Execute(context.Background(), chatRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderDeepSeek, res.Provider)
	assert.Equal(t, 2, res.Attempts)
	assert.True(t, res.FailoverUsed)
	assert.Equal(t, []string{ProviderGemini, ProviderDeepSeek}, res.ProvidersAttempted)

	snap := o.Stats()
	assert.Equal(t, int64(1), snap.SuccessfulRequests)
	assert.Equal(t, int64(0), snap.FailedRequests)
	assert.Equal(t, int64(1), snap.Providers[ProviderGemini].Failures)
	assert.Equal(t, int64(1), snap.Providers[ProviderDeepSeek].Successes)
}

func TestExecuteSurfacesAuthenticationError(t *testing.T) {
	gemini := newFakeProvider(ProviderGemini)
	gemini.completeFn = func(ctx context.Context, req *Request) (*Response, error) {
		return nil, types.NewAuthentication(ProviderGemini, "invalid api key")
	}
	deepseek := newFakeProvider(ProviderDeepSeek)
	o := newTestOrchestrator(t, orchestratorConfig(), gemini, deepseek)

	_, err := o.Execute(context.Background(), chatRequest(), nil)
	ge, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrAuthentication, ge.Code)
	assert.Equal(t, int64(0), deepseek.completions.Load())
	assert.Equal(t, int64(1), o.Stats().FailedRequests)
}

func TestExecuteCircuitBreakerOpensAndRecovers(t *testing.T) {
	cfg := orchestratorConfig()
	cfg.MaxRetries = 1
	cfg.CircuitBreaker.FailureThreshold = 2
	cfg.CircuitBreaker.RecoveryTimeout = 150 * time.Millisecond

	// 恰好失败到阈值:第 1、2 次失败触发熔断,恢复窗口后的试探成功
	gemini := newFailingProvider(ProviderGemini, 2, types.NewNetwork(ProviderGemini, "upstream down"))
	o := newTestOrchestrator(t, cfg, gemini)

	for i := 0; i < 2; i++ {
		_, err := o.Execute(context.Background(), chatAbout("熔断测试"), nil)
		require.Error(t, err)
	}
	require.Equal(t, circuitbreaker.StateOpen, o.breakers[ProviderGemini].State())

	// Open 且未到恢复窗口:没有候选可用,也绝不触达 provider
	_, err := o.Execute(context.Background(), chatAbout("熔断测试"), nil)
	ge, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrNoProvidersAvailable, ge.Code)
	assert.Equal(t, int64(2), gemini.completions.Load())

	time.Sleep(200 * time.Millisecond)

	res, err := o.Execute(context.Background(), chatAbout("熔断测试"), nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, res.Provider)
	assert.Equal(t, circuitbreaker.StateClosed, o.breakers[ProviderGemini].State())
}

func TestExecuteCacheHit(t *testing.T) {
	gemini := newFakeProvider(ProviderGemini)
	o := newTestOrchestrator(t, orchestratorConfig(), gemini)

	first, err := o.Execute(context.Background(), chatRequest(), nil)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := o.Execute(context.Background(), chatRequest(), nil)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 0, second.Attempts)
	assert.Equal(t, first.Response.Content, second.Response.Content)
	assert.Equal(t, int64(1), gemini.completions.Load())

	snap := o.Stats()
	assert.Equal(t, int64(2), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.SuccessfulRequests)
	assert.InDelta(t, 0.5, snap.CacheHitRate, 1e-9)
	// 缓存命中不产生 provider 侧的调用记录
	assert.Equal(t, int64(1), snap.Providers[ProviderGemini].Requests)

	o.ClearCache()
	third, err := o.Execute(context.Background(), chatRequest(), nil)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, int64(2), gemini.completions.Load())
}

func TestExecuteRateLimitFailover(t *testing.T) {
	gemini := newFakeProvider(ProviderGemini)
	gemini.completeFn = func(ctx context.Context, req *Request) (*Response, error) {
		return nil, types.NewRateLimit(ProviderGemini, "quota window exhausted", time.Now().Add(time.Minute))
	}
	deepseek := newFakeProvider(ProviderDeepSeek)
	o := newTestOrchestrator(t, orchestratorConfig(), gemini, deepseek)

	res, err := o.Execute(context.Background(), chatRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderDeepSeek, res.Provider)
	assert.True(t, res.FailoverUsed)
	// 限流计入熔断失败,后续评分会吃到扣分
	assert.GreaterOrEqual(t, o.breakers[ProviderGemini].FailureCount(), 1)
}

func TestExecuteAllProvidersFail(t *testing.T) {
	networkDown := func(name string) func(ctx context.Context, req *Request) (*Response, error) {
		return func(ctx context.Context, req *Request) (*Response, error) {
			return nil, types.NewNetwork(name, "connection reset")
		}
	}
	gemini := newFakeProvider(ProviderGemini)
	gemini.completeFn = networkDown(ProviderGemini)
	deepseek := newFakeProvider(ProviderDeepSeek)
	deepseek.completeFn = networkDown(ProviderDeepSeek)
	o := newTestOrchestrator(t, orchestratorConfig(), gemini, deepseek)

	_, err := o.Execute(context.Background(), chatRequest(), nil)
	ge, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrAllAttemptsFailed, ge.Code)
	assert.False(t, ge.Retryable)
	assert.Contains(t, ge.Message, ProviderGemini)
	assert.Contains(t, ge.Message, ProviderDeepSeek)
	assert.Equal(t, types.ErrNetwork, types.CodeOf(ge.Cause))

	assert.Equal(t, int64(1), gemini.completions.Load())
	assert.Equal(t, int64(1), deepseek.completions.Load())

	snap := o.Stats()
	assert.Equal(t, int64(1), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.FailedRequests)
	assert.Equal(t, int64(0), snap.SuccessfulRequests)
}

func TestExecuteStreamDelivery(t *testing.T) {
	gemini := newFakeProvider(ProviderGemini)
	o := newTestOrchestrator(t, orchestratorConfig(), gemini)

	ch, err := o.ExecuteStream(context.Background(), chatRequest(), nil)
	require.NoError(t, err)

	var deltas string
	var last StreamChunk
	for chunk := range ch {
		require.Nil(t, chunk.Err)
		deltas += chunk.Delta
		last = chunk
	}
	assert.Equal(t, "hello world", deltas)
	assert.True(t, last.Done)
	require.NotNil(t, last.Usage)
	assert.Equal(t, 12, last.Usage.TotalTokens)

	snap := o.Stats()
	assert.Equal(t, int64(1), snap.SuccessfulRequests)
	assert.Equal(t, int64(12), snap.Providers[ProviderGemini].TotalTokens)
}

func TestExecuteStreamFailover(t *testing.T) {
	gemini := newFakeProvider(ProviderGemini)
	gemini.streamFn = func(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
		return nil, types.NewNetwork(ProviderGemini, "tls handshake failed")
	}
	deepseek := newFakeProvider(ProviderDeepSeek)
	o := newTestOrchestrator(t, orchestratorConfig(), gemini, deepseek)

	ch, err := o.ExecuteStream(context.Background(), chatRequest(), nil)
	require.NoError(t, err)

	var chunks []StreamChunk
	for chunk := range ch {
		require.Nil(t, chunk.Err)
		assert.Equal(t, ProviderDeepSeek, chunk.Provider)
		chunks = append(chunks, chunk)
	}
	require.Len(t, chunks, 3)
	assert.Equal(t, "hello ", chunks[0].Delta)
	assert.Equal(t, "world", chunks[1].Delta)
	assert.True(t, chunks[2].Done)

	assert.Equal(t, int64(1), gemini.streams.Load())
	assert.Equal(t, int64(1), deepseek.streams.Load())

	snap := o.Stats()
	assert.Equal(t, int64(1), snap.SuccessfulRequests)
	assert.Equal(t, int64(1), snap.Providers[ProviderGemini].Failures)
}

func TestExecuteStreamAuthErrorNoFailover(t *testing.T) {
	gemini := newFakeProvider(ProviderGemini)
	gemini.streamFn = func(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
		return nil, types.NewAuthentication(ProviderGemini, "invalid api key")
	}
	deepseek := newFakeProvider(ProviderDeepSeek)
	o := newTestOrchestrator(t, orchestratorConfig(), gemini, deepseek)

	_, err := o.ExecuteStream(context.Background(), chatRequest(), nil)
	ge, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrAuthentication, ge.Code)
	assert.Equal(t, int64(0), deepseek.streams.Load())
	// 客户端错误不计入熔断
	assert.Equal(t, 0, o.breakers[ProviderGemini].FailureCount())
}

func TestExecuteStreamConsumerCancel(t *testing.T) {
	gemini := newFakeProvider(ProviderGemini)
	gemini.streamFn = func(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
		ch := make(chan StreamChunk)
		go func() {
			defer close(ch)
			for {
				select {
				case ch <- StreamChunk{Delta: "x", Provider: ProviderGemini}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch, nil
	}
	o := newTestOrchestrator(t, orchestratorConfig(), gemini)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := o.ExecuteStream(ctx, chatRequest(), nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		<-ch
	}
	cancel()
	for range ch {
	}

	require.Eventually(t, func() bool {
		return o.Stats().FailedRequests == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), o.Stats().SuccessfulRequests)
}

func TestExecuteAfterShutdownRejected(t *testing.T) {
	o := newTestOrchestrator(t, orchestratorConfig(), newFakeProvider(ProviderGemini))
	require.NoError(t, o.Shutdown(context.Background()))

	_, err := o.Execute(context.Background(), chatRequest(), nil)
	ge, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrShutdown, ge.Code)

	_, err = o.ExecuteStream(context.Background(), chatRequest(), nil)
	ge, ok = types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrShutdown, ge.Code)
}

func TestShutdownDrainsInFlightRequests(t *testing.T) {
	gemini := newFakeProvider(ProviderGemini)
	gemini.latency = 150 * time.Millisecond
	o := newTestOrchestrator(t, orchestratorConfig(), gemini)

	done := make(chan error, 1)
	go func() {
		_, err := o.Execute(context.Background(), chatRequest(), nil)
		done <- err
	}()
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, o.Shutdown(context.Background()))
	require.NoError(t, <-done)
	assert.Equal(t, int64(1), o.Stats().SuccessfulRequests)
}

func TestResetCircuitBreaker(t *testing.T) {
	cfg := orchestratorConfig()
	cfg.MaxRetries = 1
	cfg.CircuitBreaker.FailureThreshold = 1
	gemini := newFakeProvider(ProviderGemini)
	gemini.completeFn = func(ctx context.Context, req *Request) (*Response, error) {
		return nil, types.NewNetwork(ProviderGemini, "down")
	}
	o := newTestOrchestrator(t, cfg, gemini)

	_, err := o.Execute(context.Background(), chatRequest(), nil)
	require.Error(t, err)
	require.Equal(t, circuitbreaker.StateOpen, o.breakers[ProviderGemini].State())

	require.NoError(t, o.ResetCircuitBreaker(ProviderGemini))
	assert.Equal(t, circuitbreaker.StateClosed, o.breakers[ProviderGemini].State())

	assert.Error(t, o.ResetCircuitBreaker("nonexistent"))
}

func TestHealthSweepRoutesAroundUnhealthy(t *testing.T) {
	gemini := newFakeProvider(ProviderGemini)
	gemini.healthy.Store(false)
	deepseek := newFakeProvider(ProviderDeepSeek)
	o := newTestOrchestrator(t, orchestratorConfig(), gemini, deepseek)
	o.sweepHealth()

	status := o.HealthStatus()
	assert.False(t, status[ProviderGemini])
	assert.True(t, status[ProviderDeepSeek])

	details := o.HealthDetails()
	assert.False(t, details[ProviderGemini].Healthy)
	assert.False(t, details[ProviderGemini].CheckedAt.IsZero())

	res, err := o.Execute(context.Background(), chatRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderDeepSeek, res.Provider)
	assert.Equal(t, 1, res.Attempts)
}

func TestModelsAggregatesAllProviders(t *testing.T) {
	gemini := newFakeProvider(ProviderGemini, "gemini-a", "gemini-b")
	deepseek := newFakeProvider(ProviderDeepSeek, "deepseek-a")
	o := newTestOrchestrator(t, orchestratorConfig(), gemini, deepseek)

	models := o.Models()
	require.Len(t, models, 3)
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []string{"gemini-a", "gemini-b", "deepseek-a"}, ids)
}

func TestRoundRobinStrategyAlternates(t *testing.T) {
	cfg := orchestratorConfig()
	cfg.LoadBalancingStrategy = config.StrategyRoundRobin
	gemini := newFakeProvider(ProviderGemini)
	deepseek := newFakeProvider(ProviderDeepSeek)
	o := newTestOrchestrator(t, cfg, gemini, deepseek)

	var order []string
	for i, msg := range []string{"第一问", "第二问", "第三问", "第四问"} {
		res, err := o.Execute(context.Background(), chatAbout(msg), nil)
		require.NoError(t, err, "request %d", i)
		order = append(order, res.Provider)
	}
	assert.Equal(t, []string{ProviderGemini, ProviderDeepSeek, ProviderGemini, ProviderDeepSeek}, order)
}

func TestExecuteHonorsRoutingCriteria(t *testing.T) {
	gemini := newFakeProvider(ProviderGemini)
	deepseek := newFakeProvider(ProviderDeepSeek)
	o := newTestOrchestrator(t, orchestratorConfig(), gemini, deepseek)

	res, err := o.Execute(context.Background(), chatRequest(), &RoutingCriteria{
		PreferredProvider: ProviderDeepSeek,
	})
	require.NoError(t, err)
	assert.Equal(t, ProviderDeepSeek, res.Provider)

	res, err = o.Execute(context.Background(), chatAbout("排除测试"), &RoutingCriteria{
		ExcludedProviders: []string{ProviderGemini},
	})
	require.NoError(t, err)
	assert.Equal(t, ProviderDeepSeek, res.Provider)
}
