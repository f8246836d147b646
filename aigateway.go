// Package aigateway is the top-level entry point for the multi-provider
// AI gateway. It wires configuration, provider adapters, routing,
// circuit breaking, caching and statistics into a single facade.
//
// Usage:
//
//	import "github.com/BaSui01/aigateway"
//
//	cfg := config.Default()
//	cfg.Mock.Enabled = true
//
//	gw, err := aigateway.New(ctx, cfg)
//	res, err := gw.Request(ctx, &llm.Request{
//		Messages: []llm.Message{{Role: llm.RoleUser, Content: "你好"}},
//	})
//
// Processes that want a single shared instance can use the package-level
// functions instead:
//
//	err := aigateway.Initialize(ctx, nil) // nil loads AI_* env config
//	res, err := aigateway.Request(ctx, req)
//
// Every blocking operation honors its context. Shut the gateway down
// with [Gateway.Shutdown] before process exit so in-flight requests can
// drain.
package aigateway

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/aigateway/config"
	"github.com/BaSui01/aigateway/internal/metrics"
	"github.com/BaSui01/aigateway/llm"
	"github.com/BaSui01/aigateway/llm/catalog"
	"github.com/BaSui01/aigateway/llm/factory"
)

// Gateway is a fully wired gateway instance. Create one with [New].
type Gateway struct {
	cfg    *config.Config
	orch   *llm.Orchestrator
	logger *zap.Logger
}

type options struct {
	logger  *zap.Logger
	metrics *metrics.Collector
}

// Option configures the gateway created by [New].
type Option func(*options)

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics attaches a Prometheus collector. Without it the gateway
// records no metrics.
func WithMetrics(collector *metrics.Collector) Option {
	return func(o *options) { o.metrics = collector }
}

// New builds a gateway from cfg. A nil cfg loads configuration from
// AI_* environment variables. All enabled providers are initialized up
// front; providers that fail to initialize are skipped, and New fails
// only when none survive.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Gateway, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	registry, err := factory.BuildRegistry(ctx, cfg, o.logger)
	if err != nil {
		return nil, fmt.Errorf("build provider registry: %w", err)
	}

	var orchOpts []llm.OrchestratorOption
	if o.metrics != nil {
		orchOpts = append(orchOpts, llm.WithMetrics(o.metrics))
	}
	orch, err := llm.NewOrchestrator(cfg, registry, o.logger, orchOpts...)
	if err != nil {
		return nil, err
	}

	return &Gateway{cfg: cfg, orch: orch, logger: o.logger}, nil
}

// Request executes a non-streaming request with default routing.
func (g *Gateway) Request(ctx context.Context, req *llm.Request) (*llm.Result, error) {
	return g.orch.Execute(ctx, req, nil)
}

// RequestWithCriteria executes a non-streaming request with explicit
// routing constraints.
func (g *Gateway) RequestWithCriteria(ctx context.Context, req *llm.Request, criteria *llm.RoutingCriteria) (*llm.Result, error) {
	return g.orch.Execute(ctx, req, criteria)
}

// StreamRequest executes a streaming request. The returned channel is
// closed after the final chunk; a chunk with a non-nil Err terminates
// the stream early.
func (g *Gateway) StreamRequest(ctx context.Context, req *llm.Request) (<-chan llm.StreamChunk, error) {
	return g.orch.ExecuteStream(ctx, req, nil)
}

// StreamRequestWithCriteria is [Gateway.StreamRequest] with explicit
// routing constraints.
func (g *Gateway) StreamRequestWithCriteria(ctx context.Context, req *llm.Request, criteria *llm.RoutingCriteria) (<-chan llm.StreamChunk, error) {
	return g.orch.ExecuteStream(ctx, req, criteria)
}

// Models returns the models served by all registered providers.
func (g *Gateway) Models() []catalog.Model {
	return g.orch.Models()
}

// HealthStatus returns the latest health sweep conclusion per provider.
func (g *Gateway) HealthStatus() map[string]bool {
	return g.orch.HealthStatus()
}

// HealthDetails returns the full record of each provider's most recent
// health probe, including probe latency and timestamp.
func (g *Gateway) HealthDetails() map[string]llm.ProviderHealth {
	return g.orch.HealthDetails()
}

// Stats returns a point-in-time snapshot of gateway statistics.
func (g *Gateway) Stats() llm.Stats {
	return g.orch.Stats()
}

// ResetCircuitBreaker manually closes the named provider's breaker.
func (g *Gateway) ResetCircuitBreaker(provider string) error {
	return g.orch.ResetCircuitBreaker(provider)
}

// ClearCache drops all cached responses.
func (g *Gateway) ClearCache() {
	g.orch.ClearCache()
}

// Shutdown stops accepting new requests, waits for in-flight requests
// to drain and stops background tasks. Safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.orch.Shutdown(ctx)
}

// Config returns the configuration the gateway was built with.
func (g *Gateway) Config() *config.Config {
	return g.cfg
}

var (
	defaultMu sync.RWMutex
	defaultGW *Gateway
)

// Initialize builds the process-wide default gateway. The first
// successful call wins; later calls are no-ops. A failed call leaves
// the default unset so it can be retried.
func Initialize(ctx context.Context, cfg *config.Config, opts ...Option) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultGW != nil {
		return nil
	}
	gw, err := New(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defaultGW = gw
	return nil
}

// Default returns the gateway set up by [Initialize].
func Default() (*Gateway, error) {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	if defaultGW == nil {
		return nil, fmt.Errorf("aigateway: not initialized, call Initialize first")
	}
	return defaultGW, nil
}

// Request executes a non-streaming request on the default gateway.
func Request(ctx context.Context, req *llm.Request) (*llm.Result, error) {
	gw, err := Default()
	if err != nil {
		return nil, err
	}
	return gw.Request(ctx, req)
}

// RequestWithCriteria executes a constrained request on the default
// gateway.
func RequestWithCriteria(ctx context.Context, req *llm.Request, criteria *llm.RoutingCriteria) (*llm.Result, error) {
	gw, err := Default()
	if err != nil {
		return nil, err
	}
	return gw.RequestWithCriteria(ctx, req, criteria)
}

// StreamRequest executes a streaming request on the default gateway.
func StreamRequest(ctx context.Context, req *llm.Request) (<-chan llm.StreamChunk, error) {
	gw, err := Default()
	if err != nil {
		return nil, err
	}
	return gw.StreamRequest(ctx, req)
}

// Models lists models served by the default gateway.
func Models() ([]catalog.Model, error) {
	gw, err := Default()
	if err != nil {
		return nil, err
	}
	return gw.Models(), nil
}

// HealthStatus reports provider health from the default gateway.
func HealthStatus() (map[string]bool, error) {
	gw, err := Default()
	if err != nil {
		return nil, err
	}
	return gw.HealthStatus(), nil
}

// Stats snapshots statistics from the default gateway.
func Stats() (llm.Stats, error) {
	gw, err := Default()
	if err != nil {
		return llm.Stats{}, err
	}
	return gw.Stats(), nil
}

// ResetCircuitBreaker closes a provider breaker on the default gateway.
func ResetCircuitBreaker(provider string) error {
	gw, err := Default()
	if err != nil {
		return err
	}
	return gw.ResetCircuitBreaker(provider)
}

// ClearCache drops cached responses on the default gateway.
func ClearCache() error {
	gw, err := Default()
	if err != nil {
		return err
	}
	gw.ClearCache()
	return nil
}

// Shutdown drains and releases the default gateway. After it returns
// the default is unset and [Initialize] may be called again.
func Shutdown(ctx context.Context) error {
	defaultMu.Lock()
	gw := defaultGW
	defaultGW = nil
	defaultMu.Unlock()
	if gw == nil {
		return nil
	}
	return gw.Shutdown(ctx)
}
