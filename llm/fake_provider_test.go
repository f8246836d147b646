package llm

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/BaSui01/aigateway/llm/catalog"
	"github.com/BaSui01/aigateway/types"
)

// fakeProvider is the configurable in-memory adapter used across the llm
// package tests. Zero value answers every completion with a canned response.
type fakeProvider struct {
	name    string
	models  []catalog.Model
	healthy atomic.Bool
	latency time.Duration

	initErr    error
	completeFn func(ctx context.Context, req *Request) (*Response, error)
	streamFn   func(ctx context.Context, req *Request) (<-chan StreamChunk, error)

	completions atomic.Int64
	streams     atomic.Int64
	healthCalls atomic.Int64
}

func newFakeProvider(name string, modelIDs ...string) *fakeProvider {
	p := &fakeProvider{name: name}
	p.healthy.Store(true)
	if len(modelIDs) == 0 {
		modelIDs = []string{name + "-model"}
	}
	for _, id := range modelIDs {
		p.models = append(p.models, catalog.Model{
			ID:          id,
			DisplayName: id,
			Provider:    name,
			Capabilities: catalog.ModelCapabilities{
				MaxContextTokens:        32768,
				MaxOutputTokens:         4096,
				SupportsStreaming:       true,
				SupportsFunctionCalling: true,
				CostTier:                catalog.CostLow,
			},
			Available: true,
		})
	}
	return p
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Initialize(ctx context.Context) error { return p.initErr }

func (p *fakeProvider) HealthCheck(ctx context.Context) bool {
	p.healthCalls.Add(1)
	return p.healthy.Load()
}

func (p *fakeProvider) Models() []catalog.Model { return p.models }

func (p *fakeProvider) Completion(ctx context.Context, req *Request) (*Response, error) {
	p.completions.Add(1)
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return nil, types.NewTimeout(p.name, p.latency.Milliseconds()).WithCause(ctx.Err())
		}
	}
	if p.completeFn != nil {
		return p.completeFn(ctx, req)
	}
	model := req.Model
	if model == "" && len(p.models) > 0 {
		model = p.models[0].ID
	}
	return &Response{
		Content:  "ok from " + p.name,
		Model:    model,
		Provider: p.name,
		Usage:    Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		Metadata: ResponseMetadata{
			DurationMS:   p.latency.Milliseconds(),
			Timestamp:    time.Now(),
			FinishReason: FinishStop,
		},
	}, nil
}

func (p *fakeProvider) Stream(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	p.streams.Add(1)
	if p.streamFn != nil {
		return p.streamFn(ctx, req)
	}
	ch := make(chan StreamChunk, 4)
	go func() {
		defer close(ch)
		ch <- StreamChunk{Delta: "hello ", Model: req.Model, Provider: p.name}
		ch <- StreamChunk{Delta: "world", Model: req.Model, Provider: p.name}
		ch <- StreamChunk{
			Done:     true,
			Model:    req.Model,
			Provider: p.name,
			Usage:    &Usage{InputTokens: 10, OutputTokens: 2, TotalTokens: 12},
		}
	}()
	return ch, nil
}

func (p *fakeProvider) RateLimitStatus() RateLimitStatus {
	return RateLimitStatus{Limit: 60, Remaining: 60, ResetAt: time.Now().Add(time.Minute)}
}

// failingProvider wraps fakeProvider to fail a fixed number of times before
// succeeding, for retry and failover scenarios.
func newFailingProvider(name string, failures int, err error) *fakeProvider {
	p := newFakeProvider(name)
	var remaining atomic.Int64
	remaining.Store(int64(failures))
	p.completeFn = func(ctx context.Context, req *Request) (*Response, error) {
		if remaining.Add(-1) >= 0 {
			return nil, err
		}
		return &Response{
			Content:  "recovered from " + name,
			Model:    req.Model,
			Provider: name,
			Usage:    Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
			Metadata: ResponseMetadata{Timestamp: time.Now(), FinishReason: FinishStop},
		}, nil
	}
	return p
}
