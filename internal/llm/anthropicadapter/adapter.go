package anthropicadapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tmc/langchaingo/llms"

	"lalo/core/internal/utils"
)

const defaultMaxTokens = 4096

// Adapter exposes the Anthropic messages API through the langchaingo Model
// interface.
type Adapter struct {
	client  anthropic.Client
	modelID string
	logger  utils.ExtendedLogger
}

type Config struct {
	APIKey  string
	ModelID string
	Logger  utils.ExtendedLogger
}

func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic adapter requires an API key")
	}
	return &Adapter{
		client:  anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		modelID: cfg.ModelID,
		logger:  cfg.Logger,
	}, nil
}

// GenerateContent implements llms.Model.
func (a *Adapter) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{Model: a.modelID, MaxTokens: defaultMaxTokens}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(opts.Model),
		MaxTokens: int64(opts.MaxTokens),
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}

	system, converted := convertMessages(messages)
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	params.Messages = converted

	if opts.StreamingFunc != nil {
		return a.generateStreaming(ctx, params, opts.StreamingFunc)
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion failed: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:    text.String(),
			StopReason: string(msg.StopReason),
			GenerationInfo: map[string]any{
				"PromptTokens":     int(msg.Usage.InputTokens),
				"CompletionTokens": int(msg.Usage.OutputTokens),
			},
		}},
	}, nil
}

func (a *Adapter) generateStreaming(ctx context.Context, params anthropic.MessageNewParams, fn func(context.Context, []byte) error) (*llms.ContentResponse, error) {
	stream := a.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("failed to accumulate stream event: %w", err)
		}
		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta.Delta.Type == "text_delta" && delta.Delta.Text != "" {
				if err := fn(ctx, []byte(delta.Delta.Text)); err != nil {
					return nil, fmt.Errorf("streaming callback failed: %w", err)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream failed: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:    text.String(),
			StopReason: string(message.StopReason),
			GenerationInfo: map[string]any{
				"PromptTokens":     int(message.Usage.InputTokens),
				"CompletionTokens": int(message.Usage.OutputTokens),
			},
		}},
	}, nil
}

// Call implements the deprecated single-prompt entry point.
func (a *Adapter) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, a, prompt, options...)
}

func convertMessages(messages []llms.MessageContent) (string, []anthropic.MessageParam) {
	var system strings.Builder
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var text strings.Builder
		for _, part := range msg.Parts {
			if tp, ok := part.(llms.TextContent); ok {
				text.WriteString(tp.Text)
			}
		}
		switch msg.Role {
		case llms.ChatMessageTypeSystem:
			system.WriteString(text.String())
		case llms.ChatMessageTypeAI:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text.String())))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(text.String())))
		}
	}
	return system.String(), out
}
