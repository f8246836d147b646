package llm

import (
	"sync"
	"time"

	"github.com/BaSui01/aigateway/llm/catalog"
)

// rollingWindow 是路由打分用的滑动窗口大小:SuccessRate 与 AvgLatency
// 只看每个 provider 最近这么多次调用,生命周期计数器不受影响。
const rollingWindow = 100

// ProviderStats 是单个 provider 的统计快照。
type ProviderStats struct {
	Requests         int64     `json:"requests"`
	Successes        int64     `json:"successes"`
	Failures         int64     `json:"failures"`
	AverageLatencyMS float64   `json:"average_latency_ms"`
	LastUsed         time.Time `json:"last_used,omitempty"`
	TotalTokens      int64     `json:"total_tokens"`
	EstimatedCost    float64   `json:"estimated_cost"`
}

// Stats 是整个网关的统计快照。守恒关系:
// TotalRequests = SuccessfulRequests + FailedRequests + 缓存命中数,
// 每个 provider 的 Requests = Successes + Failures。
type Stats struct {
	TotalRequests         int64                    `json:"total_requests"`
	SuccessfulRequests    int64                    `json:"successful_requests"`
	FailedRequests        int64                    `json:"failed_requests"`
	AverageResponseTimeMS float64                  `json:"average_response_time_ms"`
	CacheHitRate          float64                  `json:"cache_hit_rate"`
	TotalTokensUsed       int64                    `json:"total_tokens_used"`
	EstimatedCost         float64                  `json:"estimated_cost"`
	Providers             map[string]ProviderStats `json:"providers"`
}

type outcome struct {
	ok      bool
	latency time.Duration
}

type providerRecord struct {
	requests   int64
	successes  int64
	failures   int64
	latencySum time.Duration
	lastUsed   time.Time
	tokens     int64
	cost       float64

	window [rollingWindow]outcome
	size   int
	next   int
}

func (r *providerRecord) push(o outcome) {
	r.window[r.next] = o
	r.next = (r.next + 1) % rollingWindow
	if r.size < rollingWindow {
		r.size++
	}
}

// StatsCollector 聚合网关的运行统计。所有方法并发安全;读取方法在
// 无数据时返回零值。路由器通过 SuccessRate/AvgLatency 消费滑动窗口,
// Snapshot 输出生命周期计数。
type StatsCollector struct {
	mu sync.RWMutex

	totalRequests int64
	cacheHits     int64
	cacheMisses   int64
	successes     int64
	failures      int64
	// 成功请求的累计耗时,平均响应时间只统计拿到应答的请求。
	responseTime time.Duration

	providers map[string]*providerRecord
}

// NewStatsCollector 创建空的统计收集器。
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{providers: make(map[string]*providerRecord)}
}

func (s *StatsCollector) record(provider string) *providerRecord {
	rec, ok := s.providers[provider]
	if !ok {
		rec = &providerRecord{}
		s.providers[provider] = rec
	}
	return rec
}

// RecordRequest 在请求进入编排器时计数,缓存命中与真实调用都包含在内。
func (s *StatsCollector) RecordRequest() {
	s.mu.Lock()
	s.totalRequests++
	s.mu.Unlock()
}

// RecordCacheHit 记录一次由缓存直接应答的请求。
func (s *StatsCollector) RecordCacheHit() {
	s.mu.Lock()
	s.cacheHits++
	s.mu.Unlock()
}

// RecordCacheMiss 记录一次缓存未命中。
func (s *StatsCollector) RecordCacheMiss() {
	s.mu.Lock()
	s.cacheMisses++
	s.mu.Unlock()
}

// RecordSuccess 记录一次成功调用及其用量,成本按 catalog 单价估算。
func (s *StatsCollector) RecordSuccess(provider, model string, latency time.Duration, usage Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.successes++
	s.responseTime += latency

	rec := s.record(provider)
	rec.requests++
	rec.successes++
	rec.latencySum += latency
	rec.lastUsed = time.Now()
	rec.tokens += int64(usage.TotalTokens)
	rec.cost += catalog.EstimateCost(model, usage.InputTokens, usage.OutputTokens)
	rec.push(outcome{ok: true, latency: latency})
}

// RecordAttemptFailure 记录一次对具体 provider 的失败调用。一个请求
// 在故障转移中可能产生多次 attempt 失败,聚合层的失败数由
// RecordRequestFailure 单独计。
func (s *StatsCollector) RecordAttemptFailure(provider string, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(provider)
	rec.requests++
	rec.failures++
	rec.latencySum += latency
	rec.lastUsed = time.Now()
	rec.push(outcome{ok: false, latency: latency})
}

// RecordRequestFailure 记录一个最终失败的请求,不归属任何 provider。
func (s *StatsCollector) RecordRequestFailure() {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
}

// SuccessRate 返回滑动窗口内的成功率与样本数,无样本时 (0, 0)。
func (s *StatsCollector) SuccessRate(provider string) (float64, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.providers[provider]
	if !ok || rec.size == 0 {
		return 0, 0
	}
	oks := 0
	for i := 0; i < rec.size; i++ {
		if rec.window[i].ok {
			oks++
		}
	}
	return float64(oks) / float64(rec.size), int64(rec.size)
}

// AvgLatency 返回滑动窗口内的平均时延,无样本时为 0。
func (s *StatsCollector) AvgLatency(provider string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.providers[provider]
	if !ok || rec.size == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < rec.size; i++ {
		sum += rec.window[i].latency
	}
	return sum / time.Duration(rec.size)
}

// Snapshot 返回当前统计的一致性快照。
func (s *StatsCollector) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Stats{
		TotalRequests:      s.totalRequests,
		SuccessfulRequests: s.successes,
		FailedRequests:     s.failures,
		Providers:          make(map[string]ProviderStats, len(s.providers)),
	}
	if s.successes > 0 {
		snap.AverageResponseTimeMS = float64(s.responseTime.Milliseconds()) / float64(s.successes)
	}
	if lookups := s.cacheHits + s.cacheMisses; lookups > 0 {
		snap.CacheHitRate = float64(s.cacheHits) / float64(lookups)
	}
	for name, rec := range s.providers {
		ps := ProviderStats{
			Requests:      rec.requests,
			Successes:     rec.successes,
			Failures:      rec.failures,
			LastUsed:      rec.lastUsed,
			TotalTokens:   rec.tokens,
			EstimatedCost: rec.cost,
		}
		if rec.requests > 0 {
			ps.AverageLatencyMS = float64(rec.latencySum.Milliseconds()) / float64(rec.requests)
		}
		snap.Providers[name] = ps
		snap.TotalTokensUsed += rec.tokens
		snap.EstimatedCost += rec.cost
	}
	return snap
}

// CacheHits 返回缓存直接应答的请求数,守恒校验用。
func (s *StatsCollector) CacheHits() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cacheHits
}
