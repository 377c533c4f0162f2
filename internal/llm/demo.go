package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// DemoModel produces deterministic canned output without touching any
// provider. It backs demo mode, where the whole pipeline runs end to end with
// no API keys configured.
type DemoModel struct {
	modelID string
}

func NewDemoModel(modelID string) *DemoModel {
	return &DemoModel{modelID: modelID}
}

// GenerateContent implements llms.Model.
func (m *DemoModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{Model: m.modelID}
	for _, opt := range options {
		opt(&opts)
	}

	prompt := ""
	for _, msg := range messages {
		if msg.Role != llms.ChatMessageTypeHuman {
			continue
		}
		for _, part := range msg.Parts {
			if tp, ok := part.(llms.TextContent); ok {
				prompt += tp.Text
			}
		}
	}

	text := cannedResponse(prompt, opts.Model)
	if opts.StreamingFunc != nil {
		if err := opts.StreamingFunc(ctx, []byte(text)); err != nil {
			return nil, fmt.Errorf("streaming callback failed: %w", err)
		}
	}

	tokens := len(strings.Fields(prompt))
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:    text,
			StopReason: "stop",
			GenerationInfo: map[string]any{
				"PromptTokens":     tokens,
				"CompletionTokens": len(strings.Fields(text)),
			},
		}},
	}, nil
}

// Call implements the deprecated single-prompt entry point.
func (m *DemoModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func cannedResponse(prompt, model string) string {
	lower := strings.ToLower(prompt)
	switch {
	case strings.Contains(lower, "respond with json") || strings.Contains(lower, "json object"):
		// Structured callers (router, scorer, planner) get parseable output.
		return `{"demo": true}`
	case strings.Contains(lower, "?"):
		return fmt.Sprintf("[demo:%s] This is a canned answer produced in demo mode. No provider was contacted.", model)
	default:
		return fmt.Sprintf("[demo:%s] Acknowledged. Demo mode is active, so this response is canned.", model)
	}
}
