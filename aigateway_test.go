package aigateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/aigateway/config"
	"github.com/BaSui01/aigateway/llm"
)

func mockOnlyConfig() *config.Config {
	cfg := config.Default()
	cfg.Mock.Enabled = true
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func mockChat(content string) *llm.Request {
	return &llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: content}}}
}

func TestNewGatewayServesRequests(t *testing.T) {
	ctx := context.Background()
	gw, err := New(ctx, mockOnlyConfig())
	require.NoError(t, err)
	defer func() { require.NoError(t, gw.Shutdown(ctx)) }()

	res, err := gw.Request(ctx, mockChat("你好"))
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderMock, res.Provider)
	assert.Equal(t, 1, res.Attempts)
	assert.NotEmpty(t, res.Response.Content)

	models := gw.Models()
	require.NotEmpty(t, models)
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	assert.Contains(t, ids, "mock-model")

	assert.True(t, gw.HealthStatus()[llm.ProviderMock])
	detail := gw.HealthDetails()[llm.ProviderMock]
	assert.True(t, detail.Healthy)
	assert.False(t, detail.CheckedAt.IsZero())
	assert.Equal(t, int64(1), gw.Stats().TotalRequests)

	require.NoError(t, gw.ResetCircuitBreaker(llm.ProviderMock))
	assert.Error(t, gw.ResetCircuitBreaker("nonexistent"))
	gw.ClearCache()

	assert.Same(t, gw.Config(), gw.Config())
}

func TestGatewayRequestWithCriteria(t *testing.T) {
	ctx := context.Background()
	gw, err := New(ctx, mockOnlyConfig())
	require.NoError(t, err)
	defer func() { require.NoError(t, gw.Shutdown(ctx)) }()

	res, err := gw.RequestWithCriteria(ctx, mockChat("带路由约束"), &llm.RoutingCriteria{
		PreferredProvider: llm.ProviderMock,
	})
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderMock, res.Provider)

	// 唯一可用的 provider 被排除:无候选
	_, err = gw.RequestWithCriteria(ctx, mockChat("全排除"), &llm.RoutingCriteria{
		ExcludedProviders: []string{llm.ProviderMock},
	})
	require.Error(t, err)
}

func TestNewFailsWithoutEnabledProviders(t *testing.T) {
	_, err := New(context.Background(), config.Default())
	require.Error(t, err)
}

func TestGatewayStreamRequest(t *testing.T) {
	ctx := context.Background()
	gw, err := New(ctx, mockOnlyConfig())
	require.NoError(t, err)
	defer func() { require.NoError(t, gw.Shutdown(ctx)) }()

	ch, err := gw.StreamRequest(ctx, mockChat("流式"))
	require.NoError(t, err)

	var parts []string
	var last llm.StreamChunk
	for chunk := range ch {
		require.Nil(t, chunk.Err)
		if chunk.Delta != "" {
			parts = append(parts, chunk.Delta)
		}
		last = chunk
	}
	assert.True(t, last.Done)
	assert.Equal(t, "这是一条模拟流式应答。", strings.Join(parts, ""))

	// 带路由约束的流式入口
	ch, err = gw.StreamRequestWithCriteria(ctx, mockChat("约束流式"), &llm.RoutingCriteria{
		PreferredProvider: llm.ProviderMock,
	})
	require.NoError(t, err)
	for chunk := range ch {
		require.Nil(t, chunk.Err)
	}
}

func TestDefaultGatewayLifecycle(t *testing.T) {
	ctx := context.Background()

	_, err := Default()
	require.Error(t, err)
	_, err = Request(ctx, mockChat("未初始化"))
	require.ErrorContains(t, err, "not initialized")

	require.NoError(t, Initialize(ctx, mockOnlyConfig()))
	// 重复初始化是幂等的,nil 配置也不会触发环境加载
	require.NoError(t, Initialize(ctx, nil))

	res, err := Request(ctx, mockChat("默认实例"))
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderMock, res.Provider)

	res, err = RequestWithCriteria(ctx, mockChat("默认实例带约束"), &llm.RoutingCriteria{
		PreferredProvider: llm.ProviderMock,
	})
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderMock, res.Provider)

	ch, err := StreamRequest(ctx, mockChat("默认实例流式"))
	require.NoError(t, err)
	for chunk := range ch {
		require.Nil(t, chunk.Err)
	}

	models, err := Models()
	require.NoError(t, err)
	assert.NotEmpty(t, models)

	health, err := HealthStatus()
	require.NoError(t, err)
	assert.True(t, health[llm.ProviderMock])

	snap, err := Stats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, snap.TotalRequests, int64(1))

	require.NoError(t, ClearCache())
	require.NoError(t, ResetCircuitBreaker(llm.ProviderMock))

	require.NoError(t, Shutdown(ctx))
	_, err = Default()
	require.Error(t, err)
	// 释放后再次关停是空操作
	require.NoError(t, Shutdown(ctx))

	// 释放后允许重新初始化
	require.NoError(t, Initialize(ctx, mockOnlyConfig()))
	require.NoError(t, Shutdown(ctx))
}
