package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies a summarisation outcome. Kinds are mutually exclusive.
type ErrorKind string

const (
	KindNone            ErrorKind = "none"
	KindMissingConfig   ErrorKind = "missing-config"
	KindTimeout         ErrorKind = "timeout"
	KindRateLimit       ErrorKind = "rate-limit"
	KindTransient       ErrorKind = "transient"
	KindProvider        ErrorKind = "provider"
	KindInvalidResponse ErrorKind = "invalid-response"
	KindUnknown         ErrorKind = "unknown"
)

// ProviderError is how a Provider reports a failed call. All fields are
// optional; Status is an HTTP-like code.
type ProviderError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "provider request failed"
	}
	switch {
	case e.Status != 0 && e.Code != "":
		return fmt.Sprintf("%s (status %d, code %s)", msg, e.Status, e.Code)
	case e.Status != 0:
		return fmt.Sprintf("%s (status %d)", msg, e.Status)
	case e.Code != "":
		return fmt.Sprintf("%s (code %s)", msg, e.Code)
	}
	return msg
}

// Error is a classified summarisation failure. It is internal to the engine;
// callers only ever see its Kind and Message inside a Result.
type Error struct {
	Kind       ErrorKind
	Message    string
	Attempts   int
	Retriable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

var rateLimitCodes = map[string]bool{
	"rate_limit":          true,
	"rate_limited":        true,
	"rate_limit_exceeded": true,
	"too_many_requests":   true,
}

// classify maps any error returned from an attempt onto the taxonomy.
// attemptCtx is the per-attempt context; parent is the caller's context.
func classify(err error, parent, attemptCtx context.Context, timeout time.Duration) *Error {
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	if parent.Err() != nil {
		return &Error{Kind: KindUnknown, Message: fmt.Sprintf("summarization cancelled: %v", parent.Err()), Err: err}
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Kind:      KindTimeout,
			Message:   fmt.Sprintf("Summarization exceeded timeout of %dms", timeout.Milliseconds()),
			Retriable: true,
			Err:       err,
		}
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		switch {
		case pe.Status == 429 || rateLimitCodes[strings.ToLower(pe.Code)]:
			return &Error{Kind: KindRateLimit, Message: pe.Error(), Retriable: true, RetryAfter: pe.RetryAfter, Err: err}
		case pe.Status >= 500:
			return &Error{Kind: KindTransient, Message: pe.Error(), Retriable: true, Err: err}
		case pe.Status >= 400:
			return &Error{Kind: KindProvider, Message: pe.Error(), Err: err}
		}
	}

	return &Error{Kind: KindUnknown, Message: err.Error(), Retriable: true, Err: err}
}
