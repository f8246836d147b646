package llm

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/aigateway/config"
	"github.com/BaSui01/aigateway/llm/catalog"
	"github.com/BaSui01/aigateway/types"
)

// RoutingCriteria.RequiredCapabilities 接受的能力名。
const (
	CapabilityStreaming       = "streaming"
	CapabilityFunctionCalling = "function-calling"
	CapabilityImages          = "images"
	CapabilityDocuments       = "documents"
)

// RoutingCriteria 是调用方附加的路由约束,零值表示无约束。
type RoutingCriteria struct {
	// RequiredCapabilities 列出候选模型必须支持的能力名,未知名字被忽略。
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	// CostPreference 倾向的成本档位,匹配时加分,不匹配不扣分。
	CostPreference catalog.CostTier `json:"cost_preference,omitempty"`
	// ReliabilityLevel 期望的可靠性档位(high | medium | low)。只随
	// 决策记录,不做硬过滤:打分用的是 provider 自身的滚动成功率档位。
	ReliabilityLevel string `json:"reliability_level,omitempty"`
	// Performance 期望的性能取向(speed | quality | balanced),只记录。
	Performance string `json:"performance,omitempty"`
	// PreferredProvider 命中时 +15 分,但不保证选中。
	PreferredProvider string `json:"preferred_provider,omitempty"`
	// ExcludedProviders 在可用性过滤阶段被直接剔除。
	ExcludedProviders []string `json:"excluded_providers,omitempty"`
	// MinContextTokens 非零时要求候选模型上下文窗口不低于该值。
	MinContextTokens int `json:"min_context_tokens,omitempty"`
}

// Selection 是一次路由决策。Fallbacks 按得分次序最多给出三个备选,
// 供编排器在当前 provider 失败后换路。
type Selection struct {
	Provider   string   `json:"provider"`
	Adapter    Provider `json:"-"`
	Model      string   `json:"model"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason"`
	Fallbacks  []string `json:"fallbacks,omitempty"`
}

// RouterEnv 提供打分所需的运行时信号。编排器是生产实现,测试注入桩。
// 读取操作不得带来副作用,尤其 BreakerOpen 不能触发熔断状态迁移。
type RouterEnv interface {
	// Healthy 返回最近一次健康巡检的结论。
	Healthy(provider string) bool
	// BreakerOpen 为 true 时该 provider 在可用性过滤阶段被剔除。
	BreakerOpen(provider string) bool
	// BreakerFailures 返回熔断器当前累计的连续失败数。
	BreakerFailures(provider string) int
	// SuccessRate 返回滚动成功率与样本数,无样本时 (0, 0)。
	SuccessRate(provider string) (rate float64, samples int64)
	// AvgLatency 返回滚动平均时延,无样本时为 0。
	AvgLatency(provider string) time.Duration
	// Priority 返回配置的静态优先级,数值越大越优先。
	Priority(provider string) int
	// ConfiguredModel 返回配置里固定的模型 id,可为空。
	ConfiguredModel(provider string) string
}

// Router 在注册表之上做两类选路:SelectProvider 按可用性、能力与
// 运行状态加权打分,SelectByStrategy 按负载均衡策略直接选取。
type Router struct {
	registry *Registry
	env      RouterEnv
	logger   *zap.Logger

	rrCursor atomic.Uint64
}

// NewRouter 构造路由器。logger 为 nil 时使用空 logger。
func NewRouter(registry *Registry, env RouterEnv, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{registry: registry, env: env, logger: logger}
}

// routeNeeds 汇总请求本身与 criteria 共同要求的模型能力。
type routeNeeds struct {
	stream     bool
	functions  bool
	images     bool
	documents  bool
	minContext int
}

func buildNeeds(req *Request, criteria *RoutingCriteria) routeNeeds {
	var n routeNeeds
	if req != nil {
		n.stream = req.Stream
		n.functions = len(req.Functions) > 0
	}
	if criteria == nil {
		return n
	}
	n.minContext = criteria.MinContextTokens
	for _, c := range criteria.RequiredCapabilities {
		switch strings.ToLower(strings.TrimSpace(c)) {
		case CapabilityStreaming:
			n.stream = true
		case CapabilityFunctionCalling:
			n.functions = true
		case CapabilityImages:
			n.images = true
		case CapabilityDocuments:
			n.documents = true
		}
	}
	return n
}

func (n routeNeeds) satisfiedBy(caps catalog.ModelCapabilities) bool {
	if n.stream && !caps.SupportsStreaming {
		return false
	}
	if n.functions && !caps.SupportsFunctionCalling {
		return false
	}
	if n.images && !caps.SupportsImages {
		return false
	}
	if n.documents && !caps.SupportsDocuments {
		return false
	}
	if n.minContext > 0 && caps.MaxContextTokens < n.minContext {
		return false
	}
	return true
}

type scoredCandidate struct {
	name     string
	adapter  Provider
	model    catalog.Model
	score    float64
	priority int
	position int
	reason   string
}

// SelectProvider 分三步选路:可用性过滤(已注册、健康、熔断未打开、
// 未被排除)、能力过滤(候选模型满足请求与 criteria 的要求)、加权
// 打分。过滤后无候选时返回 NO_PROVIDERS_AVAILABLE。
func (r *Router) SelectProvider(req *Request, criteria *RoutingCriteria) (*Selection, error) {
	needs := buildNeeds(req, criteria)

	excluded := make(map[string]bool)
	var preferred, performance string
	var costPref catalog.CostTier
	if criteria != nil {
		for _, name := range criteria.ExcludedProviders {
			excluded[name] = true
		}
		preferred = criteria.PreferredProvider
		costPref = criteria.CostPreference
		performance = criteria.Performance
	}

	var candidates []scoredCandidate
	for _, p := range r.registry.Ordered() {
		name := p.Name()
		if excluded[name] || !r.env.Healthy(name) || r.env.BreakerOpen(name) {
			continue
		}
		model, ok := r.servingModel(p, req)
		if !ok || !needs.satisfiedBy(model.Capabilities) {
			continue
		}
		score, reason := r.score(p, model, req, needs, costPref, preferred)
		candidates = append(candidates, scoredCandidate{
			name:     name,
			adapter:  p,
			model:    model,
			score:    score,
			priority: r.env.Priority(name),
			position: r.registry.Position(name),
			reason:   reason,
		})
	}
	if len(candidates) == 0 {
		return nil, types.NewGeneric(types.ErrNoProvidersAvailable,
			"no provider passed availability and capability filtering", false)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		return candidates[i].position < candidates[j].position
	})

	best := candidates[0]
	sel := &Selection{
		Provider:   best.name,
		Adapter:    best.adapter,
		Model:      best.model.ID,
		Confidence: math.Min(best.score/100, 1),
		Reason:     best.reason,
	}
	for _, c := range candidates[1:] {
		if len(sel.Fallbacks) == 3 {
			break
		}
		sel.Fallbacks = append(sel.Fallbacks, c.name)
	}

	r.logger.Debug("路由选择完成",
		zap.String("provider", best.name),
		zap.String("model", best.model.ID),
		zap.Float64("confidence", sel.Confidence),
		zap.String("performance", performance),
		zap.Strings("fallbacks", sel.Fallbacks))
	return sel, nil
}

// score 按加法模型打分,构成见 reason。负分截断为 0。
func (r *Router) score(p Provider, model catalog.Model, req *Request, needs routeNeeds, costPref catalog.CostTier, preferred string) (float64, string) {
	name := p.Name()
	score := 30.0 // 通过可用性过滤的基础分

	rate, samples := r.env.SuccessRate(name)
	tier, multiplier := reliabilityTier(rate, samples)
	score += 25 * multiplier
	parts := []string{"reliability " + tier}

	caps := model.Capabilities
	if costPref != "" && caps.CostTier == costPref {
		switch costPref {
		case catalog.CostLow:
			score += 20
		case catalog.CostMedium:
			score += 15
		case catalog.CostHigh:
			score += 10
		}
		parts = append(parts, "cost "+string(costPref))
	}

	if needs.stream && caps.SupportsStreaming {
		score += 3
	}
	if needs.functions && caps.SupportsFunctionCalling {
		score += 5
	}
	if needs.images && caps.SupportsImages {
		score += 4
	}
	if needs.documents && caps.SupportsDocuments {
		score += 3
	}

	if req != nil && req.Model != "" {
		bonus, note := r.modelBonus(p, req)
		score += bonus
		parts = append(parts, note)
	}

	if preferred != "" && preferred == name {
		score += 15
		parts = append(parts, "preferred")
	}

	if penalty := math.Min(float64(2*r.env.BreakerFailures(name)), 10); penalty > 0 {
		score -= penalty
		parts = append(parts, fmt.Sprintf("breaker -%d", int(penalty)))
	}

	if score < 0 {
		score = 0
	}
	return score, fmt.Sprintf("score %.1f: %s", score, strings.Join(parts, ", "))
}

// modelBonus 对显式请求的模型加减分:适配器持有且通过完整请求校验
// +10,持有但只部分满足 +5,不持有 -2。
func (r *Router) modelBonus(p Provider, req *Request) (float64, string) {
	var entry catalog.Model
	carried := false
	for _, m := range p.Models() {
		if m.ID == req.Model {
			entry, carried = m, true
			break
		}
	}
	if !carried {
		return -2, "model unknown"
	}
	if entry.Available && ValidateRequest(p.Name(), entry.ID, req) == nil {
		return 10, "model valid"
	}
	return 5, "model partial"
}

// servingModel 返回该 provider 实际会服务的模型条目。顺序:请求模型、
// 配置模型、catalog 默认模型,兜底取列表中第一个可用条目;全部不可用
// 时返回 false。
func (r *Router) servingModel(p Provider, req *Request) (catalog.Model, bool) {
	models := p.Models()
	if len(models) == 0 {
		return catalog.Model{}, false
	}
	byID := make(map[string]catalog.Model, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}
	if req != nil && req.Model != "" {
		if m, ok := byID[req.Model]; ok && m.Available {
			return m, true
		}
	}
	if cfg := r.env.ConfiguredModel(p.Name()); cfg != "" {
		if m, ok := byID[cfg]; ok && m.Available {
			return m, true
		}
	}
	if def := catalog.DefaultModel(p.Name()); def != "" {
		if m, ok := byID[def]; ok && m.Available {
			return m, true
		}
	}
	for _, m := range models {
		if m.Available {
			return m, true
		}
	}
	return catalog.Model{}, false
}

// reliabilityTier 由滚动成功率映射可靠性档位。样本不足 5 条时按 high
// 处理,避免冷启动的 provider 被压到队尾。
func reliabilityTier(rate float64, samples int64) (string, float64) {
	switch {
	case samples < 5 || rate >= 0.95:
		return "high", 1.0
	case rate >= 0.80:
		return "medium", 0.7
	default:
		return "low", 0.4
	}
}

// SelectByStrategy 不打分,在健康集合(健康且熔断未打开,按注册序)
// 上按负载均衡策略直接选取。未知策略按 priority 处理,与配置校验的
// 兜底保持一致。
func (r *Router) SelectByStrategy(strategy string) (*Selection, error) {
	healthy := r.healthySet()
	if len(healthy) == 0 {
		return nil, types.NewGeneric(types.ErrNoProvidersAvailable,
			"no healthy provider for load balancing", false)
	}

	var idx int
	switch strategy {
	case config.StrategyRoundRobin:
		idx = int((r.rrCursor.Add(1) - 1) % uint64(len(healthy)))
	case config.StrategyRandom:
		idx = rand.Intn(len(healthy))
	case config.StrategyLeastLatency:
		idx = r.leastLatencyIndex(healthy)
	default:
		idx = r.highestPriorityIndex(healthy)
	}

	picked := healthy[idx]
	sel := &Selection{
		Provider:   picked.Name(),
		Adapter:    picked,
		Confidence: 1,
		Reason:     "strategy " + strategy,
	}
	if m, ok := r.servingModel(picked, nil); ok {
		sel.Model = m.ID
	}
	for off := 1; off < len(healthy) && len(sel.Fallbacks) < 3; off++ {
		sel.Fallbacks = append(sel.Fallbacks, healthy[(idx+off)%len(healthy)].Name())
	}
	return sel, nil
}

// healthySet 返回注册序下健康且熔断未打开的 provider 列表。
func (r *Router) healthySet() []Provider {
	var out []Provider
	for _, p := range r.registry.Ordered() {
		name := p.Name()
		if r.env.Healthy(name) && !r.env.BreakerOpen(name) {
			out = append(out, p)
		}
	}
	return out
}

// leastLatencyIndex 取滚动平均时延最小者;没有任何样本时退回 priority。
func (r *Router) leastLatencyIndex(healthy []Provider) int {
	best, bestLatency := -1, time.Duration(0)
	for i, p := range healthy {
		lat := r.env.AvgLatency(p.Name())
		if lat <= 0 {
			continue
		}
		if best == -1 || lat < bestLatency {
			best, bestLatency = i, lat
		}
	}
	if best == -1 {
		return r.highestPriorityIndex(healthy)
	}
	return best
}

// highestPriorityIndex 取优先级最大者,平手保留注册序靠前的。
func (r *Router) highestPriorityIndex(healthy []Provider) int {
	best := 0
	for i := 1; i < len(healthy); i++ {
		if r.env.Priority(healthy[i].Name()) > r.env.Priority(healthy[best].Name()) {
			best = i
		}
	}
	return best
}
