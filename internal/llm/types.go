package llm

import (
	"context"
)

// Provider identifies an inference backend.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderBedrock    Provider = "bedrock"
	ProviderOpenRouter Provider = "openrouter"
	ProviderLocal      Provider = "local"
	ProviderDemo       Provider = "demo"
)

// Request is a single generation request against a named model.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	UserID      string
}

// Usage reports token consumption for one generation.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Completion is the result of one generation.
type Completion struct {
	Text       string   `json:"text"`
	Model      string   `json:"model"`
	Provider   Provider `json:"provider"`
	Usage      Usage    `json:"usage"`
	DurationMS int64    `json:"duration_ms"`
}

// StreamFunc receives incremental output chunks during streaming generation.
type StreamFunc func(ctx context.Context, chunk []byte) error

// ModelInfo describes a model exposed through the gateway.
type ModelInfo struct {
	Name     string   `json:"name"`
	Provider Provider `json:"provider"`
	// Permissions required to use the model. Empty means unrestricted.
	Permissions []string `json:"permissions,omitempty"`
}

// Gateway is the single entry point for all model inference in the core.
// Routing, planning, scoring and orchestration all generate through it.
type Gateway interface {
	// Generate runs one completion. The request inherits the gateway's
	// configured timeout unless ctx carries a shorter deadline.
	Generate(ctx context.Context, req Request) (*Completion, error)
	// Stream runs one completion, delivering chunks through fn as they
	// arrive. The returned completion holds the assembled text.
	Stream(ctx context.Context, req Request, fn StreamFunc) (*Completion, error)
	// AvailableModels lists the models the given user may call.
	AvailableModels(userID string) []ModelInfo
}
