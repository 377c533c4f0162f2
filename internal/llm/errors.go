package llm

import (
	"context"
	"errors"
	"strings"

	"lalo/core/pkg/core"
)

// classifyError maps raw provider failures onto the core error taxonomy so
// callers can distinguish retryable pressure from hard failures without
// inspecting provider-specific types.
func classifyError(err error) core.Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return core.KindCancelled
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429") || strings.Contains(msg, "throttl"):
		return core.KindRateLimited
	case strings.Contains(msg, "quota") || strings.Contains(msg, "billing") ||
		strings.Contains(msg, "insufficient credit"):
		return core.KindQuotaExceeded
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "authentication") || strings.Contains(msg, "401") ||
		strings.Contains(msg, "403"):
		return core.KindAuthFailed
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return core.KindTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "unavailable") || strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "502") || strings.Contains(msg, "503"):
		return core.KindDependencyUnavailable
	default:
		return core.KindExecutionFailed
	}
}
