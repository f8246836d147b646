// Package openaicompat is the shared base adapter for every upstream that
// speaks the OpenAI Chat Completions wire format.
//
// DeepSeek and Kimi share the same request/response shapes, Bearer auth and
// SSE framing. Instead of duplicating the HTTP handling, stream parsing,
// message conversion and error mapping per provider, each one wraps an
// openaicompat.Adapter and only supplies what differs:
//
//   - provider name and default base URL
//   - optional custom headers
//   - optional request hook for provider-specific body fields
//
// Usage:
//
//	a := openaicompat.New(cfg, openaicompat.Options{
//	    ProviderName: "deepseek",
//	}, logger)
package openaicompat
