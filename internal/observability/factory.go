package observability

import (
	"strings"

	"lalo/core/internal/utils"
)

const (
	ProviderConsole = "console"
	ProviderNoop    = "noop"
)

// GetTracer returns a Tracer implementation based on the provider string.
// Unknown providers fall back to noop.
func GetTracer(provider string, logger utils.ExtendedLogger) Tracer {
	switch strings.ToLower(provider) {
	case ProviderConsole:
		return NewConsoleTracer(logger)
	case ProviderNoop:
		return NoopTracer{}
	default:
		return NoopTracer{}
	}
}
