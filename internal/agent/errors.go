package agent

import (
	"errors"
	"fmt"
)

// ErrMaxIterations indicates the agent loop exceeded MaxIterations.
var ErrMaxIterations = errors.New("exceeded max iterations")

// LoopErrorKind categorizes a loop-fatal error so callers can branch on
// kind without string-matching. Tool errors never surface this way — they
// are recovered locally and fed back into history instead.
type LoopErrorKind string

const (
	// KindTransport is an HTTP connection/DNS/TLS failure during a provider call.
	KindTransport LoopErrorKind = "transport"
	// KindProvider is a non-2xx HTTP status from the provider.
	KindProvider LoopErrorKind = "provider"
	// KindStream is a mid-stream decode failure or socket drop.
	KindStream LoopErrorKind = "stream"
	// KindIteration is the loop exceeding its iteration cap.
	KindIteration LoopErrorKind = "iteration"
	// KindCancelled is explicit context cancellation.
	KindCancelled LoopErrorKind = "cancelled"
)

// LoopError is a structured, loop-fatal error. For KindProvider, Err is a
// *ProviderError whose message includes the HTTP status and response body;
// no LoopEvent carries that body.
type LoopError struct {
	Kind LoopErrorKind
	Err  error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *LoopError) Unwrap() error { return e.Err }

// NewLoopError wraps err with a kind.
func NewLoopError(kind LoopErrorKind, err error) *LoopError {
	return &LoopError{Kind: kind, Err: err}
}

// ProviderError carries the HTTP status and response body from a non-2xx
// chat-completions response.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error: HTTP %d: %s", e.StatusCode, e.Body)
}
