// Package fault defines the fault taxonomy shared by the model client and the
// sandbox session, and the retry policy applied at both call boundaries.
//
// Faults are a single struct with an explicit Kind rather than a type
// hierarchy, so the classifier and every handler can switch exhaustively.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind classifies a fault for retry and termination decisions.
type Kind string

const (
	// TransientNetwork covers timeouts, connection resets, and 5xx responses.
	TransientNetwork Kind = "transient-network"
	// RateLimit is a provider throttle, possibly carrying a delay hint.
	RateLimit Kind = "rate-limit"
	// ContextTooLarge means the request exceeded the model context window.
	// Not retried as-is; the caller tightens history windowing first.
	ContextTooLarge Kind = "context-too-large"
	// ContentPolicy is a provider content filter rejection.
	ContentPolicy Kind = "content-policy"
	// InvalidRequest covers malformed or unauthorized requests.
	InvalidRequest Kind = "invalid-request"
	// SessionFatal means the sandbox itself died or access was revoked.
	SessionFatal Kind = "session-fatal"
)

// Fault is a classified failure from the model transport or the sandbox.
type Fault struct {
	Kind       Kind
	Message    string
	Cause      error
	Provider   string
	StatusCode int
	// RetryAfter is a provider-supplied delay hint, when present.
	RetryAfter *time.Duration
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.Cause }

// Retryable reports whether the fault is safe to retry at the same boundary.
func (f *Fault) Retryable() bool {
	switch f.Kind {
	case TransientNetwork, RateLimit:
		return true
	default:
		return false
	}
}

// New creates a fault with the given kind and message.
func New(kind Kind, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a fault wrapping an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// FromStatusCode maps an HTTP status to a fault kind.
func FromStatusCode(status int, message, provider string, retryAfter *time.Duration) *Fault {
	f := &Fault{Message: message, Provider: provider, StatusCode: status, RetryAfter: retryAfter}
	switch status {
	case 400, 401, 403, 404, 422:
		f.Kind = InvalidRequest
	case 408:
		f.Kind = TransientNetwork
	case 413:
		f.Kind = ContextTooLarge
	case 429:
		f.Kind = RateLimit
	case 500, 502, 503, 504:
		f.Kind = TransientNetwork
	default:
		// Unknown statuses default to retryable.
		f.Kind = TransientNetwork
	}
	return f
}

// Classify converts an arbitrary error into a Fault. Errors that already are
// faults pass through unchanged.
func Classify(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(TransientNetwork, err, "deadline exceeded")
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(InvalidRequest, err, "cancelled")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(TransientNetwork, err, "network timeout")
		}
		return Wrap(TransientNetwork, err, "network error")
	}
	return Wrap(TransientNetwork, err, "unclassified error")
}

// IsKind reports whether err is (or wraps) a fault of the given kind.
func IsKind(err error, kind Kind) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind == kind
	}
	return false
}

// Retryable reports whether err is a retryable fault. Non-fault errors are
// classified first.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).Retryable()
}
