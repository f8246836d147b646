package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/aigateway/config"
	"github.com/BaSui01/aigateway/internal/metrics"
	"github.com/BaSui01/aigateway/llm/cache"
	"github.com/BaSui01/aigateway/llm/catalog"
	"github.com/BaSui01/aigateway/llm/circuitbreaker"
	"github.com/BaSui01/aigateway/llm/retry"
	"github.com/BaSui01/aigateway/types"
)

const (
	// 健康巡检周期与单次探测预算。巡检只记录结论,从不改熔断状态。
	healthSweepInterval = 60 * time.Second
	healthProbeTimeout  = 5 * time.Second
	// 统计聚合周期,刷新派生均值与 Prometheus 仪表。
	statsFlushInterval = 30 * time.Second
	// 关停时等待在途请求排空的上限。
	shutdownDrainTimeout = 30 * time.Second
	shutdownPollInterval = 100 * time.Millisecond
	// 流式请求在首块之前允许的最大尝试次数上限。
	streamAttemptCap = 2

	streamRelayBuffer = 8
)

// Result 是一次非流式请求的执行结果信封。
type Result struct {
	Response           *Response     `json:"response"`
	Provider           string        `json:"provider"`
	Attempts           int           `json:"attempts"`
	Duration           time.Duration `json:"duration"`
	FailoverUsed       bool          `json:"failover_used"`
	ProvidersAttempted []string      `json:"providers_attempted"`
	Cached             bool          `json:"cached"`
	RequestID          string        `json:"request_id"`
}

// Orchestrator 把网关的执行管线串起来:缓存查找 → 准入排队 → 选路 →
// 熔断保护下的调用 → 重试与故障转移 → 统计。后台运行健康巡检与统计
// 聚合,Shutdown 负责排空与回收。
type Orchestrator struct {
	cfg         *config.Config
	registry    *Registry
	router      *Router
	breakers    map[string]*circuitbreaker.Breaker
	cache       *cache.Cache
	stats       *StatsCollector
	metrics     *metrics.Collector
	queue       *requestQueue
	retryPolicy retry.Policy
	logger      *zap.Logger

	providerCfg map[string]config.ProviderConfig

	healthMu sync.RWMutex
	health   map[string]ProviderHealth

	shuttingDown atomic.Bool
	stopCh       chan struct{}
	bg           sync.WaitGroup
}

// OrchestratorOption 调整编排器的可选依赖。
type OrchestratorOption func(*Orchestrator)

// WithMetrics 挂接 Prometheus 指标收集器,不挂接时指标为空操作。
func WithMetrics(m *metrics.Collector) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator 基于已初始化的注册表构建编排器并启动后台任务。
// 注册表为空时返回错误。
func NewOrchestrator(cfg *config.Config, registry *Registry, logger *zap.Logger, opts ...OrchestratorOption) (*Orchestrator, error) {
	if registry == nil || registry.Len() == 0 {
		return nil, fmt.Errorf("orchestrator requires at least one initialized provider")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	retryPolicy := retry.DefaultPolicy()
	if cfg.RetryDelay > 0 {
		retryPolicy.InitialDelay = cfg.RetryDelay
	}

	o := &Orchestrator{
		cfg:         cfg,
		registry:    registry,
		breakers:    make(map[string]*circuitbreaker.Breaker),
		cache:       cache.New(cfg.Cache.MaxSize, cfg.Cache.TTL, cfg.Cache.Enabled),
		stats:       NewStatsCollector(),
		retryPolicy: retryPolicy,
		logger:      logger,
		providerCfg: cfg.Providers(),
		health:      make(map[string]ProviderHealth),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}

	breakerCfg := cfg.CircuitBreaker
	for _, p := range registry.Ordered() {
		name := p.Name()
		o.breakers[name] = circuitbreaker.New(name, &circuitbreaker.Config{
			FailureThreshold: breakerCfg.FailureThreshold,
			RecoveryTimeout:  breakerCfg.RecoveryTimeout,
			Timeout:          breakerCfg.Timeout,
			MonitoringPeriod: breakerCfg.MonitoringPeriod,
			OnStateChange: func(provider string, from, to circuitbreaker.State) {
				logger.Warn("熔断器状态变化",
					zap.String("provider", provider),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}, logger)
		// 首轮巡检完成前先乐观标记:能注册进来的 provider 都通过了初始化
		o.health[name] = ProviderHealth{Healthy: true, CheckedAt: time.Now()}
	}

	maxConcurrent := max(1, 3*registry.Len())
	o.queue = newRequestQueue(maxConcurrent, cfg.Queue, logger)
	o.router = NewRouter(registry, &routerSignals{o: o}, logger)

	o.bg.Add(2)
	go o.healthLoop()
	go o.statsLoop()

	logger.Info("编排器已启动",
		zap.Int("providers", registry.Len()),
		zap.Int("max_concurrent", maxConcurrent),
		zap.String("strategy", cfg.LoadBalancingStrategy),
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.Bool("queue", cfg.Queue.Enabled))
	return o, nil
}

// routerSignals 把编排器持有的运行状态以只读视图喂给路由器。
type routerSignals struct {
	o *Orchestrator
}

func (s *routerSignals) Healthy(provider string) bool {
	s.o.healthMu.RLock()
	defer s.o.healthMu.RUnlock()
	h, ok := s.o.health[provider]
	return !ok || h.Healthy
}

func (s *routerSignals) BreakerOpen(provider string) bool {
	b, ok := s.o.breakers[provider]
	if !ok || b.State() != circuitbreaker.StateOpen {
		return false
	}
	// 恢复窗口已过的 Open 等价于可试探:放进候选池,
	// 让 Allow 在调用时完成 Open → HalfOpen 的迁移
	return time.Now().Before(b.NextAttempt())
}

func (s *routerSignals) BreakerFailures(provider string) int {
	b, ok := s.o.breakers[provider]
	if !ok {
		return 0
	}
	return b.FailureCount()
}

func (s *routerSignals) SuccessRate(provider string) (float64, int64) {
	return s.o.stats.SuccessRate(provider)
}

func (s *routerSignals) AvgLatency(provider string) time.Duration {
	return s.o.stats.AvgLatency(provider)
}

func (s *routerSignals) Priority(provider string) int {
	return s.o.providerCfg[provider].Priority
}

func (s *routerSignals) ConfiguredModel(provider string) string {
	return s.o.providerCfg[provider].Model
}

// Execute 执行一次非流式请求,走完整管线。
func (o *Orchestrator) Execute(ctx context.Context, req *Request, criteria *RoutingCriteria) (*Result, error) {
	if o.shuttingDown.Load() {
		return nil, types.NewGeneric(types.ErrShutdown, "gateway is shutting down", false)
	}
	if req == nil || len(req.Messages) == 0 {
		return nil, types.NewInvalidRequest("", "messages must not be empty")
	}

	requestID := uuid.NewString()
	logger := o.logger.With(zap.String("request_id", requestID))
	started := time.Now()

	o.stats.RecordRequest()

	cacheable := !req.Stream && o.cache.Enabled()
	key := cache.Fingerprint(cacheIdentity(req))
	if cacheable {
		if entry, ok := o.cache.Get(key); ok {
			if resp, isResp := entry.Response.(*Response); isResp {
				o.stats.RecordCacheHit()
				o.metrics.RecordCacheHit()
				logger.Debug("缓存命中", zap.String("provider", resp.Provider))
				return &Result{
					Response:           resp,
					Provider:           resp.Provider,
					Attempts:           0,
					Duration:           time.Since(started),
					ProvidersAttempted: []string{},
					Cached:             true,
					RequestID:          requestID,
				}, nil
			}
		}
		o.stats.RecordCacheMiss()
		o.metrics.RecordCacheMiss()
	}

	if qErr := o.queue.acquire(ctx); qErr != nil {
		o.stats.RecordRequestFailure()
		logger.Warn("请求未能获得执行名额", zap.String("code", string(qErr.Code)))
		return nil, qErr
	}
	o.refreshGauges()
	defer func() {
		o.queue.release()
		o.refreshGauges()
	}()

	maxAttempts := max(1, o.cfg.MaxRetries)
	attempted := make([]string, 0, maxAttempts)
	var lastErr *types.Error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sel, selErr := o.selectFor(req, criteria, attempted, attempt)
		if selErr != nil {
			if lastErr != nil {
				// 候选池耗尽:以既有失败收尾,而不是报无可用 provider
				break
			}
			o.stats.RecordRequestFailure()
			return nil, selErr
		}
		attempted = append(attempted, sel.Provider)
		logger.Debug("选路完成",
			zap.String("provider", sel.Provider),
			zap.String("model", sel.Model),
			zap.Float64("confidence", sel.Confidence),
			zap.Int("attempt", attempt))

		attemptStart := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.DefaultTimeout)
		resp, execErr := circuitbreaker.ExecuteTyped(o.breakers[sel.Provider], attemptCtx,
			func(c context.Context) (*Response, error) {
				return sel.Adapter.Completion(c, req)
			})
		cancel()
		attemptLatency := time.Since(attemptStart)

		if execErr == nil {
			if cacheable {
				o.cache.Put(key, resp)
			}
			o.stats.RecordSuccess(sel.Provider, resp.Model, attemptLatency, resp.Usage)
			o.metrics.RecordRequest(sel.Provider, resp.Model, metrics.StatusSuccess, attemptLatency,
				resp.Usage.InputTokens, resp.Usage.OutputTokens,
				catalog.EstimateCost(resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens))
			if attempt > 1 {
				logger.Info("故障转移后成功",
					zap.String("provider", sel.Provider),
					zap.Strings("providers_attempted", attempted))
			}
			return &Result{
				Response:           resp,
				Provider:           sel.Provider,
				Attempts:           attempt,
				Duration:           time.Since(started),
				FailoverUsed:       attempt > 1,
				ProvidersAttempted: attempted,
				RequestID:          requestID,
			}, nil
		}

		lastErr = asGatewayError(sel.Provider, execErr)
		o.stats.RecordAttemptFailure(sel.Provider, attemptLatency)
		o.metrics.RecordRequest(sel.Provider, sel.Model, metrics.StatusFailure, attemptLatency, 0, 0, 0)
		logger.Warn("provider 调用失败",
			zap.String("provider", sel.Provider),
			zap.String("code", string(lastErr.Code)),
			zap.Bool("retryable", lastErr.Retryable),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		if lastErr.Code == types.ErrCircuitOpen {
			// 熔断打开不消耗退避,直接换下一家
			continue
		}
		if !lastErr.Retryable {
			o.stats.RecordRequestFailure()
			return nil, lastErr
		}
		if attempt == maxAttempts {
			break
		}
		if sleepErr := retry.Sleep(ctx, o.retryPolicy.Delay(attempt)); sleepErr != nil {
			lastErr = ctxFailure(sel.Provider, sleepErr)
			break
		}
	}

	o.stats.RecordRequestFailure()
	final := types.NewGeneric(types.ErrAllAttemptsFailed,
		fmt.Sprintf("all attempts failed after trying %s", strings.Join(attempted, ", ")), false).
		WithCause(lastErr)
	logger.Error("请求最终失败",
		zap.Strings("providers_attempted", attempted),
		zap.Error(final))
	return nil, final
}

// ExecuteStream 执行一次流式请求。通道建立之前允许在 Network/Timeout
// 失败上换路重试,次数不超过 min(MaxRetries, 2);通道一旦建立即绑定
// 该 provider,后续失败只会以带 Err 的终止块收尾。
func (o *Orchestrator) ExecuteStream(ctx context.Context, req *Request, criteria *RoutingCriteria) (<-chan StreamChunk, error) {
	if o.shuttingDown.Load() {
		return nil, types.NewGeneric(types.ErrShutdown, "gateway is shutting down", false)
	}
	if req == nil || len(req.Messages) == 0 {
		return nil, types.NewInvalidRequest("", "messages must not be empty")
	}

	requestID := uuid.NewString()
	logger := o.logger.With(zap.String("request_id", requestID))
	started := time.Now()

	o.stats.RecordRequest()

	if qErr := o.queue.acquire(ctx); qErr != nil {
		o.stats.RecordRequestFailure()
		logger.Warn("流式请求未能获得执行名额", zap.String("code", string(qErr.Code)))
		return nil, qErr
	}
	o.refreshGauges()

	maxAttempts := max(1, min(o.cfg.MaxRetries, streamAttemptCap))
	attempted := make([]string, 0, maxAttempts)
	var lastErr *types.Error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sel, selErr := o.selectFor(req, criteria, attempted, attempt)
		if selErr != nil {
			if lastErr != nil {
				break
			}
			o.releaseSlot()
			o.stats.RecordRequestFailure()
			return nil, selErr
		}
		attempted = append(attempted, sel.Provider)

		breaker := o.breakers[sel.Provider]
		if allowErr := breaker.Allow(); allowErr != nil {
			lastErr = asGatewayError(sel.Provider, allowErr)
			continue
		}

		attemptStart := time.Now()
		upstream, streamErr := sel.Adapter.Stream(ctx, req)
		if streamErr != nil {
			lastErr = asGatewayError(sel.Provider, streamErr)
			breaker.Record(circuitbreaker.IsClientError(lastErr))
			o.stats.RecordAttemptFailure(sel.Provider, time.Since(attemptStart))
			o.metrics.RecordRequest(sel.Provider, sel.Model, metrics.StatusFailure, time.Since(attemptStart), 0, 0, 0)
			logger.Warn("流式通道建立失败",
				zap.String("provider", sel.Provider),
				zap.String("code", string(lastErr.Code)),
				zap.Int("attempt", attempt))

			retryableHere := lastErr.Code == types.ErrNetwork || lastErr.Code == types.ErrTimeout
			if !retryableHere {
				o.releaseSlot()
				o.stats.RecordRequestFailure()
				return nil, lastErr
			}
			if attempt < maxAttempts {
				if sleepErr := retry.Sleep(ctx, o.retryPolicy.Delay(attempt)); sleepErr != nil {
					lastErr = ctxFailure(sel.Provider, sleepErr)
					break
				}
			}
			continue
		}

		logger.Debug("流式通道已建立",
			zap.String("provider", sel.Provider),
			zap.Int("attempt", attempt))
		out := make(chan StreamChunk, streamRelayBuffer)
		go o.relayStream(ctx, logger, sel, req, upstream, out, started)
		return out, nil
	}

	o.releaseSlot()
	o.stats.RecordRequestFailure()
	if lastErr == nil {
		lastErr = types.NewGeneric(types.ErrNoProvidersAvailable,
			"no provider passed availability and capability filtering", false)
	}
	final := types.NewGeneric(types.ErrAllAttemptsFailed,
		fmt.Sprintf("all attempts failed after trying %s", strings.Join(attempted, ", ")), false).
		WithCause(lastErr)
	return nil, final
}

// relayStream 把上游块转发给消费者,并在流结束时一次性落账:
// 熔断记录、统计、指标。消费者取消时停止转发,生产者靠自身的 ctx
// 感知退出。
func (o *Orchestrator) relayStream(ctx context.Context, logger *zap.Logger, sel *Selection, req *Request, upstream <-chan StreamChunk, out chan<- StreamChunk, started time.Time) {
	defer func() {
		close(out)
		o.releaseSlot()
	}()

	var usage Usage
	model := req.Model
	consumerGone := false
	var streamErr *types.Error
	completed := false

relay:
	for chunk := range upstream {
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if chunk.Err != nil {
			streamErr = chunk.Err
		}
		if chunk.Done {
			completed = true
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			consumerGone = true
			break relay
		}
	}

	latency := time.Since(started)
	switch {
	case consumerGone:
		// 消费者走了不算 provider 的账,但请求本身没有完成
		o.breakers[sel.Provider].Record(true)
		o.stats.RecordAttemptFailure(sel.Provider, latency)
		o.stats.RecordRequestFailure()
		o.metrics.RecordRequest(sel.Provider, model, metrics.StatusFailure, latency, 0, 0, 0)
		logger.Debug("流式消费者取消", zap.String("provider", sel.Provider))
	case streamErr != nil || !completed:
		if streamErr == nil {
			streamErr = types.NewNetwork(sel.Provider, "stream closed without completion")
		}
		o.breakers[sel.Provider].Record(circuitbreaker.IsClientError(streamErr))
		o.stats.RecordAttemptFailure(sel.Provider, latency)
		o.stats.RecordRequestFailure()
		o.metrics.RecordRequest(sel.Provider, model, metrics.StatusFailure, latency, 0, 0, 0)
		logger.Warn("流式请求以错误收尾",
			zap.String("provider", sel.Provider),
			zap.String("code", string(streamErr.Code)))
	default:
		o.breakers[sel.Provider].Record(true)
		o.stats.RecordSuccess(sel.Provider, model, latency, usage)
		o.metrics.RecordRequest(sel.Provider, model, metrics.StatusSuccess, latency,
			usage.InputTokens, usage.OutputTokens,
			catalog.EstimateCost(model, usage.InputTokens, usage.OutputTokens))
	}
	o.refreshGauges()
}

// selectFor 为第 attempt 次尝试选路。首次尝试且调用方没有给出
// criteria 时尊重配置的负载均衡策略;重试路径一律走打分选路,
// 并把已尝试过的 provider 加进排除集。
func (o *Orchestrator) selectFor(req *Request, criteria *RoutingCriteria, attempted []string, attempt int) (*Selection, error) {
	if criteria == nil && attempt == 1 && o.cfg.LoadBalancingStrategy != config.StrategyPriority {
		if sel, err := o.router.SelectByStrategy(o.cfg.LoadBalancingStrategy); err == nil {
			return sel, nil
		}
		// 策略路径无健康集合时落回打分路径,让它给出统一的错误
	}
	merged := RoutingCriteria{}
	if criteria != nil {
		merged = *criteria
	}
	if len(attempted) > 0 {
		merged.ExcludedProviders = append(append([]string{}, merged.ExcludedProviders...), attempted...)
	}
	return o.router.SelectProvider(req, &merged)
}

func (o *Orchestrator) releaseSlot() {
	o.queue.release()
	o.refreshGauges()
}

func (o *Orchestrator) refreshGauges() {
	active, depth := o.queue.counts()
	o.metrics.SetActiveRequests(active)
	o.metrics.SetQueueDepth(depth)
}

// healthLoop 启动即巡检一次,之后每 60 秒一轮。
func (o *Orchestrator) healthLoop() {
	defer o.bg.Done()

	o.sweepHealth()
	ticker := time.NewTicker(healthSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.sweepHealth()
		case <-o.stopCh:
			return
		}
	}
}

// sweepHealth 并发探测全部 provider,只记录结论与指标,不碰熔断器。
func (o *Orchestrator) sweepHealth() {
	providers := o.registry.Ordered()
	results := make(map[string]ProviderHealth, len(providers))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(context.Background())
	for _, p := range providers {
		p := p
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
			defer cancel()

			probeStart := time.Now()
			ok := p.HealthCheck(probeCtx)
			latency := time.Since(probeStart)
			o.metrics.RecordHealthCheck(p.Name(), ok, latency)

			mu.Lock()
			results[p.Name()] = ProviderHealth{Healthy: ok, Latency: latency, CheckedAt: time.Now()}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	o.healthMu.Lock()
	for name, h := range results {
		if prev, seen := o.health[name]; seen && prev.Healthy != h.Healthy {
			o.logger.Info("provider 健康状态变化",
				zap.String("provider", name),
				zap.Bool("healthy", h.Healthy))
		}
		o.health[name] = h
	}
	o.healthMu.Unlock()
}

// statsLoop 周期性刷新派生统计与仪表。
func (o *Orchestrator) statsLoop() {
	defer o.bg.Done()

	ticker := time.NewTicker(statsFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snap := o.stats.Snapshot()
			o.refreshGauges()
			o.logger.Debug("统计聚合",
				zap.Int64("total", snap.TotalRequests),
				zap.Int64("success", snap.SuccessfulRequests),
				zap.Int64("failed", snap.FailedRequests),
				zap.Float64("cache_hit_rate", snap.CacheHitRate))
		case <-o.stopCh:
			return
		}
	}
}

// Models 返回所有已注册 provider 的模型视图。
func (o *Orchestrator) Models() []catalog.Model {
	var out []catalog.Model
	for _, p := range o.registry.Ordered() {
		out = append(out, p.Models()...)
	}
	return out
}

// HealthStatus 返回最近一轮巡检的结论副本。
func (o *Orchestrator) HealthStatus() map[string]bool {
	o.healthMu.RLock()
	defer o.healthMu.RUnlock()
	out := make(map[string]bool, len(o.health))
	for name, h := range o.health {
		out[name] = h.Healthy
	}
	return out
}

// HealthDetails 返回每个 provider 最近一次巡检的完整记录。
func (o *Orchestrator) HealthDetails() map[string]ProviderHealth {
	o.healthMu.RLock()
	defer o.healthMu.RUnlock()
	out := make(map[string]ProviderHealth, len(o.health))
	for name, h := range o.health {
		out[name] = h
	}
	return out
}

// Stats 返回当前统计快照。
func (o *Orchestrator) Stats() Stats {
	return o.stats.Snapshot()
}

// ResetCircuitBreaker 手动把指定 provider 的熔断器复位到关闭状态。
func (o *Orchestrator) ResetCircuitBreaker(provider string) error {
	b, ok := o.breakers[provider]
	if !ok {
		return fmt.Errorf("unknown provider %q", provider)
	}
	b.Reset()
	o.logger.Info("熔断器已手动复位", zap.String("provider", provider))
	return nil
}

// ClearCache 清空响应缓存。
func (o *Orchestrator) ClearCache() {
	o.cache.Clear()
	o.logger.Info("响应缓存已清空")
}

// Shutdown 停止接收新请求,轮询等待在途请求排空(上限 30 秒),
// 然后以 SHUTDOWN 拒绝仍在排队的请求并停掉后台任务。重复调用无害。
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if !o.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	o.logger.Info("网关开始关停")

	drainDeadline := time.NewTimer(shutdownDrainTimeout)
	defer drainDeadline.Stop()
	poll := time.NewTicker(shutdownPollInterval)
	defer poll.Stop()

	var callerErr error
drain:
	for {
		active, _ := o.queue.counts()
		if active == 0 {
			break
		}
		select {
		case <-poll.C:
		case <-drainDeadline.C:
			o.logger.Warn("关停排空超时,放弃剩余在途请求", zap.Int("active", active))
			break drain
		case <-ctx.Done():
			callerErr = ctx.Err()
			o.logger.Warn("关停被调用方截断", zap.Int("active", active))
			break drain
		}
	}

	o.queue.close()
	close(o.stopCh)
	o.bg.Wait()

	o.logger.Info("网关已关停")
	return callerErr
}

// asGatewayError 保证错误是带标签的网关错误;适配器之外冒出来的
// 未知错误按可重试的网络故障处理。
func asGatewayError(provider string, err error) *types.Error {
	if ge, ok := types.AsError(err); ok {
		if ge.Provider == "" {
			return ge.WithProvider(provider)
		}
		return ge
	}
	return types.NewNetwork(provider, "unexpected adapter failure").WithCause(err)
}

// ctxFailure 把 ctx 的终止原因映射为网关错误。
func ctxFailure(provider string, err error) *types.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewGeneric(types.ErrTimeout, "request deadline expired during backoff", true).WithCause(err)
	}
	return types.NewNetwork(provider, "request cancelled").WithCause(err)
}

// cacheIdentity 抽取参与缓存指纹的请求字段。
func cacheIdentity(req *Request) cache.Identity {
	msgs := make([]cache.IdentityMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = cache.IdentityMessage{Role: string(m.Role), Content: m.Content}
	}
	return cache.Identity{
		Messages:     msgs,
		Model:        req.Model,
		Temperature:  req.Temperature,
		TopP:         req.TopP,
		MaxTokens:    req.MaxTokens,
		SystemPrompt: req.SystemPrompt,
	}
}
