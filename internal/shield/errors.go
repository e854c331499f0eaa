package shield

import (
	"fmt"
	"net/http"
)

// Kind classifies a failed attempt or a terminal request failure.
type Kind int

const (
	// KindMalformedRequest means the client body could not be parsed as a
	// JSON object. Surfaced immediately, never retried.
	KindMalformedRequest Kind = iota

	// KindConnect means the upstream connection could not be established.
	KindConnect

	// KindTransportAbort means the connection dropped before the upstream
	// finished delivering the response body.
	KindTransportAbort

	// KindHTTPStatus means the upstream answered with a non-2xx status.
	// Retryable for 429 and 5xx, fatal for other 4xx.
	KindHTTPStatus

	// KindErrorMarker means a configured error marker was found in the
	// accumulated response body.
	KindErrorMarker

	// KindResponseTooLarge means the buffered response exceeded the
	// configured cap. Fatal.
	KindResponseTooLarge

	// KindRetriesExhausted means every allowed attempt failed with a
	// retryable error.
	KindRetriesExhausted
)

func (k Kind) String() string {
	switch k {
	case KindMalformedRequest:
		return "malformed_request"
	case KindConnect:
		return "connect_error"
	case KindTransportAbort:
		return "transport_abort"
	case KindHTTPStatus:
		return "http_status"
	case KindErrorMarker:
		return "error_marker"
	case KindResponseTooLarge:
		return "response_too_large"
	case KindRetriesExhausted:
		return "retries_exhausted"
	default:
		return "unknown"
	}
}

// Error is the single error type produced by the shield engine.
type Error struct {
	Kind       Kind
	StatusCode int // set for KindHTTPStatus
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("shield: %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("shield: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether another attempt may be made after this failure.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindConnect, KindTransportAbort, KindErrorMarker:
		return true
	case KindHTTPStatus:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	default:
		return false
	}
}

func errorf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}
