package core

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for dispatch and user-visible reporting.
type Kind string

const (
	KindInvalidInput          Kind = "invalid_input"
	KindAuthFailed            Kind = "auth_failed"
	KindPermissionDenied      Kind = "permission_denied"
	KindRateLimited           Kind = "rate_limited"
	KindQuotaExceeded         Kind = "quota_exceeded"
	KindSaturated             Kind = "saturated"
	KindTimeout               Kind = "timeout"
	KindDependencyUnavailable Kind = "dependency_unavailable"
	KindValidationFailed      Kind = "validation_failed"
	KindSandboxViolation      Kind = "sandbox_violation"
	KindExecutionFailed       Kind = "execution_failed"
	KindNotFound              Kind = "not_found"
	KindCancelled             Kind = "cancelled"
	KindInternal              Kind = "internal"
)

// Error carries a kind alongside a terse user-visible message and an optional
// wrapped cause. Provider internals and stack traces never cross into Message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E creates a new typed error.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from an error chain. Context errors map to their
// corresponding kinds; everything untyped is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Retryable reports whether an error kind indicates transient resource
// pressure worth retrying or falling back on.
func Retryable(kind Kind) bool {
	switch kind {
	case KindRateLimited, KindQuotaExceeded, KindSaturated, KindTimeout, KindDependencyUnavailable:
		return true
	default:
		return false
	}
}
