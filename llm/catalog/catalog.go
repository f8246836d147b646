// Package catalog is the compiled-in model capability table. The router
// scores against it, adapters validate against it, and stats price usage
// with it. Entries are static; upstream model listings are intersected with
// this table at adapter initialization.
package catalog

import (
	"sort"
	"unicode/utf8"
)

// CostTier buckets a model's published price for routing purposes.
type CostTier string

const (
	CostLow    CostTier = "low"
	CostMedium CostTier = "medium"
	CostHigh   CostTier = "high"
)

// ModelCapabilities describes what a model can do and what it costs.
// Rates are USD per 1K tokens.
type ModelCapabilities struct {
	MaxContextTokens        int      `json:"max_context_tokens"`
	MaxOutputTokens         int      `json:"max_output_tokens"`
	SupportsStreaming       bool     `json:"supports_streaming"`
	SupportsFunctionCalling bool     `json:"supports_function_calling"`
	SupportsImages          bool     `json:"supports_images"`
	SupportsDocuments       bool     `json:"supports_documents"`
	CostPer1KInput          float64  `json:"cost_per_1k_input"`
	CostPer1KOutput         float64  `json:"cost_per_1k_output"`
	CostTier                CostTier `json:"cost_tier"`
}

// Model is one catalog entry. Available is flipped by adapters when the
// upstream listing omits a compiled-in model.
type Model struct {
	ID           string            `json:"id"`
	DisplayName  string            `json:"display_name"`
	Provider     string            `json:"provider"`
	Capabilities ModelCapabilities `json:"capabilities"`
	Available    bool              `json:"available"`
}

var table = map[string]Model{
	"gemini-1.5-pro": {
		ID: "gemini-1.5-pro", DisplayName: "Gemini 1.5 Pro", Provider: "gemini", Available: true,
		Capabilities: ModelCapabilities{
			MaxContextTokens: 2097152, MaxOutputTokens: 8192,
			SupportsStreaming: true, SupportsFunctionCalling: true,
			SupportsImages: true, SupportsDocuments: true,
			CostPer1KInput: 0.00125, CostPer1KOutput: 0.005, CostTier: CostHigh,
		},
	},
	"gemini-1.5-flash": {
		ID: "gemini-1.5-flash", DisplayName: "Gemini 1.5 Flash", Provider: "gemini", Available: true,
		Capabilities: ModelCapabilities{
			MaxContextTokens: 1048576, MaxOutputTokens: 8192,
			SupportsStreaming: true, SupportsFunctionCalling: true,
			SupportsImages: true, SupportsDocuments: true,
			CostPer1KInput: 0.000075, CostPer1KOutput: 0.0003, CostTier: CostLow,
		},
	},
	"gemini-1.0-pro": {
		ID: "gemini-1.0-pro", DisplayName: "Gemini 1.0 Pro", Provider: "gemini", Available: true,
		Capabilities: ModelCapabilities{
			MaxContextTokens: 32768, MaxOutputTokens: 2048,
			SupportsStreaming: true, SupportsFunctionCalling: true,
			SupportsImages: false, SupportsDocuments: false,
			CostPer1KInput: 0.0005, CostPer1KOutput: 0.0015, CostTier: CostMedium,
		},
	},
	"deepseek-chat": {
		ID: "deepseek-chat", DisplayName: "DeepSeek Chat", Provider: "deepseek", Available: true,
		Capabilities: ModelCapabilities{
			MaxContextTokens: 32768, MaxOutputTokens: 4096,
			SupportsStreaming: true, SupportsFunctionCalling: true,
			SupportsImages: false, SupportsDocuments: false,
			CostPer1KInput: 0.00014, CostPer1KOutput: 0.00028, CostTier: CostLow,
		},
	},
	"deepseek-coder": {
		ID: "deepseek-coder", DisplayName: "DeepSeek Coder", Provider: "deepseek", Available: true,
		Capabilities: ModelCapabilities{
			MaxContextTokens: 32768, MaxOutputTokens: 4096,
			SupportsStreaming: true, SupportsFunctionCalling: false,
			SupportsImages: false, SupportsDocuments: false,
			CostPer1KInput: 0.00014, CostPer1KOutput: 0.00028, CostTier: CostLow,
		},
	},
	// Qwen declares function calling (and images on qwen-max) even though the
	// DashScope adapter does not put either on the wire yet; the router
	// consults these flags, the adapter does not.
	"qwen-max": {
		ID: "qwen-max", DisplayName: "Qwen Max", Provider: "qwen", Available: true,
		Capabilities: ModelCapabilities{
			MaxContextTokens: 32768, MaxOutputTokens: 8192,
			SupportsStreaming: true, SupportsFunctionCalling: true,
			SupportsImages: true, SupportsDocuments: false,
			CostPer1KInput: 0.0016, CostPer1KOutput: 0.0064, CostTier: CostHigh,
		},
	},
	"qwen-plus": {
		ID: "qwen-plus", DisplayName: "Qwen Plus", Provider: "qwen", Available: true,
		Capabilities: ModelCapabilities{
			MaxContextTokens: 32768, MaxOutputTokens: 8192,
			SupportsStreaming: true, SupportsFunctionCalling: true,
			SupportsImages: false, SupportsDocuments: false,
			CostPer1KInput: 0.0004, CostPer1KOutput: 0.0012, CostTier: CostMedium,
		},
	},
	"qwen-turbo": {
		ID: "qwen-turbo", DisplayName: "Qwen Turbo", Provider: "qwen", Available: true,
		Capabilities: ModelCapabilities{
			MaxContextTokens: 8192, MaxOutputTokens: 1536,
			SupportsStreaming: true, SupportsFunctionCalling: true,
			SupportsImages: false, SupportsDocuments: false,
			CostPer1KInput: 0.00008, CostPer1KOutput: 0.00024, CostTier: CostLow,
		},
	},
	"moonshot-v1-8k": {
		ID: "moonshot-v1-8k", DisplayName: "Moonshot v1 8K", Provider: "kimi", Available: true,
		Capabilities: ModelCapabilities{
			MaxContextTokens: 8192, MaxOutputTokens: 2048,
			SupportsStreaming: true, SupportsFunctionCalling: true,
			SupportsImages: false, SupportsDocuments: true,
			CostPer1KInput: 0.0017, CostPer1KOutput: 0.0017, CostTier: CostMedium,
		},
	},
	"moonshot-v1-32k": {
		ID: "moonshot-v1-32k", DisplayName: "Moonshot v1 32K", Provider: "kimi", Available: true,
		Capabilities: ModelCapabilities{
			MaxContextTokens: 32768, MaxOutputTokens: 8192,
			SupportsStreaming: true, SupportsFunctionCalling: true,
			SupportsImages: false, SupportsDocuments: true,
			CostPer1KInput: 0.0034, CostPer1KOutput: 0.0034, CostTier: CostMedium,
		},
	},
	"moonshot-v1-128k": {
		ID: "moonshot-v1-128k", DisplayName: "Moonshot v1 128K", Provider: "kimi", Available: true,
		Capabilities: ModelCapabilities{
			MaxContextTokens: 131072, MaxOutputTokens: 8192,
			SupportsStreaming: true, SupportsFunctionCalling: true,
			SupportsImages: false, SupportsDocuments: true,
			CostPer1KInput: 0.0085, CostPer1KOutput: 0.0085, CostTier: CostHigh,
		},
	},
	"mock-model": {
		ID: "mock-model", DisplayName: "Mock Model", Provider: "mock", Available: true,
		Capabilities: ModelCapabilities{
			MaxContextTokens: 32768, MaxOutputTokens: 4096,
			SupportsStreaming: true, SupportsFunctionCalling: true,
			SupportsImages: true, SupportsDocuments: true,
			CostTier: CostLow,
		},
	},
	"mock-model-large": {
		ID: "mock-model-large", DisplayName: "Mock Model Large", Provider: "mock", Available: true,
		Capabilities: ModelCapabilities{
			MaxContextTokens: 131072, MaxOutputTokens: 8192,
			SupportsStreaming: true, SupportsFunctionCalling: true,
			SupportsImages: true, SupportsDocuments: true,
			CostTier: CostLow,
		},
	},
}

var defaultModels = map[string]string{
	"gemini":   "gemini-1.5-flash",
	"deepseek": "deepseek-chat",
	"qwen":     "qwen-turbo",
	"kimi":     "moonshot-v1-8k",
	"mock":     "mock-model",
}

// Lookup returns the catalog entry for a model id.
func Lookup(modelID string) (Model, bool) {
	m, ok := table[modelID]
	return m, ok
}

// ModelsFor returns the compiled-in models of one provider, sorted by id.
func ModelsFor(provider string) []Model {
	var out []Model
	for _, m := range table {
		if m.Provider == provider {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DefaultModel returns the fallback model id for a provider, or "".
func DefaultModel(provider string) string {
	return defaultModels[provider]
}

// IDs returns every known model id, sorted.
func IDs() []string {
	out := make([]string, 0, len(table))
	for id := range table {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// EstimateTokens estimates the token count of text as ceil(chars/4).
// Deliberately crude: the gateway carries no tokenizer.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// EstimateCost prices usage against the model's published per-1K rates.
// Unknown models price at zero.
func EstimateCost(modelID string, inputTokens, outputTokens int) float64 {
	m, ok := table[modelID]
	if !ok {
		return 0
	}
	in := float64(inputTokens) / 1000 * m.Capabilities.CostPer1KInput
	out := float64(outputTokens) / 1000 * m.Capabilities.CostPer1KOutput
	return in + out
}
