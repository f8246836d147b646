package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode identifies an error variant across the gateway.
type ErrorCode string

const (
	ErrAuthentication    ErrorCode = "AUTHENTICATION"
	ErrRateLimit         ErrorCode = "RATE_LIMIT"
	ErrQuota             ErrorCode = "QUOTA_EXCEEDED"
	ErrNetwork           ErrorCode = "NETWORK"
	ErrTimeout           ErrorCode = "TIMEOUT"
	ErrModelNotAvailable ErrorCode = "MODEL_NOT_AVAILABLE"
	ErrCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"
)

// Generic catch-all codes produced outside the adapter taxonomy.
const (
	ErrNoProvidersAvailable ErrorCode = "NO_PROVIDERS_AVAILABLE"
	ErrAllAttemptsFailed    ErrorCode = "ALL_ATTEMPTS_FAILED"
	ErrShutdown             ErrorCode = "SHUTDOWN"
	// ErrUpstreamDecode marks a 2xx body the adapter could not parse.
	ErrUpstreamDecode ErrorCode = "UPSTREAM_DECODE"
)

// Error is the single structured error value that crosses every boundary of
// the gateway. Adapters map upstream failures into it, the orchestrator
// inspects Retryable to drive retry and failover, and callers receive it
// unchanged.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Provider   string    `json:"provider,omitempty"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`

	// ResetAt is set on rate-limit errors: the earliest time a retry makes sense.
	ResetAt time.Time `json:"reset_at,omitempty"`
	// TimeoutMS is set on timeout errors: the deadline that fired.
	TimeoutMS int64 `json:"timeout_ms,omitempty"`
	// ModelID is set on model-not-available errors.
	ModelID string `json:"model_id,omitempty"`

	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error with the given code and message. Retryability
// defaults to false; the variant constructors below set it per taxonomy.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewAuthentication reports a fatal credential failure. Never retryable.
func NewAuthentication(provider, message string) *Error {
	return &Error{Code: ErrAuthentication, Message: message, Provider: provider}
}

// NewRateLimit reports upstream throttling. Retryable once resetAt passes;
// the orchestrator prefers failover over waiting.
func NewRateLimit(provider, message string, resetAt time.Time) *Error {
	return &Error{Code: ErrRateLimit, Message: message, Provider: provider, Retryable: true, ResetAt: resetAt}
}

// NewQuota reports an exhausted quota or credit balance. Not retryable for
// the current window.
func NewQuota(provider, message string) *Error {
	return &Error{Code: ErrQuota, Message: message, Provider: provider}
}

// NewNetwork reports a transport failure or upstream 5xx. Retryable.
func NewNetwork(provider, message string) *Error {
	return &Error{Code: ErrNetwork, Message: message, Provider: provider, Retryable: true}
}

// NewTimeout reports a client-side deadline that fired after timeoutMS
// milliseconds. Retryable.
func NewTimeout(provider string, timeoutMS int64) *Error {
	return &Error{
		Code:      ErrTimeout,
		Message:   fmt.Sprintf("request timed out after %dms", timeoutMS),
		Provider:  provider,
		Retryable: true,
		TimeoutMS: timeoutMS,
	}
}

// NewModelNotAvailable reports a model id unknown to the provider. Not
// retryable for this request.
func NewModelNotAvailable(provider, modelID string) *Error {
	return &Error{
		Code:     ErrModelNotAvailable,
		Message:  fmt.Sprintf("model %q is not available on %s", modelID, provider),
		Provider: provider,
		ModelID:  modelID,
	}
}

// NewCircuitOpen reports a short-circuited call. Not retryable on this
// provider; the orchestrator fails over instead.
func NewCircuitOpen(provider string) *Error {
	return &Error{
		Code:     ErrCircuitOpen,
		Message:  fmt.Sprintf("circuit breaker for %s is open", provider),
		Provider: provider,
	}
}

// NewInvalidRequest reports a request rejected before any network call.
func NewInvalidRequest(provider, message string) *Error {
	return &Error{Code: ErrInvalidRequest, Message: message, Provider: provider}
}

// NewGeneric is the catch-all constructor for codes without a dedicated
// variant; retryability travels with the value.
func NewGeneric(code ErrorCode, message string, retryable bool) *Error {
	return &Error{Code: code, Message: message, Retryable: retryable}
}

// WithCause attaches the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus records the upstream HTTP status.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithRetryable overrides the retryable flag.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError extracts the gateway error from err's chain.
func AsError(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// IsRetryable reports whether err carries a retryable gateway error.
func IsRetryable(err error) bool {
	if ge, ok := AsError(err); ok {
		return ge.Retryable
	}
	return false
}

// CodeOf extracts the error code, or "" when err is not a gateway error.
func CodeOf(err error) ErrorCode {
	if ge, ok := AsError(err); ok {
		return ge.Code
	}
	return ""
}
