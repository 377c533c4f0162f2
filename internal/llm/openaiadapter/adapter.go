package openaiadapter

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tmc/langchaingo/llms"

	"lalo/core/internal/utils"
)

// Adapter exposes the OpenAI chat completions API through the langchaingo
// Model interface. Pointing BaseURL at an OpenAI-compatible endpoint (for
// example OpenRouter) reuses the same adapter.
type Adapter struct {
	client  openai.Client
	modelID string
	logger  utils.ExtendedLogger
}

// Config holds adapter construction parameters.
type Config struct {
	APIKey  string
	BaseURL string // empty for api.openai.com
	ModelID string
	Logger  utils.ExtendedLogger
}

func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai adapter requires an API key")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Adapter{
		client:  openai.NewClient(opts...),
		modelID: cfg.ModelID,
		logger:  cfg.Logger,
	}, nil
}

// GenerateContent implements llms.Model.
func (a *Adapter) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{Model: a.modelID}
	for _, opt := range options {
		opt(&opts)
	}

	params := openai.ChatCompletionNewParams{
		Model:    opts.Model,
		Messages: convertMessages(messages),
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}

	if opts.StreamingFunc != nil {
		return a.generateStreaming(ctx, params, opts.StreamingFunc)
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	choice := resp.Choices[0]
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:    choice.Message.Content,
			StopReason: string(choice.FinishReason),
			GenerationInfo: map[string]any{
				"PromptTokens":     int(resp.Usage.PromptTokens),
				"CompletionTokens": int(resp.Usage.CompletionTokens),
				"TotalTokens":      int(resp.Usage.TotalTokens),
			},
		}},
	}, nil
}

func (a *Adapter) generateStreaming(ctx context.Context, params openai.ChatCompletionNewParams, fn func(context.Context, []byte) error) (*llms.ContentResponse, error) {
	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			if err := fn(ctx, []byte(chunk.Choices[0].Delta.Content)); err != nil {
				return nil, fmt.Errorf("streaming callback failed: %w", err)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai stream failed: %w", err)
	}
	if len(acc.Choices) == 0 {
		return nil, fmt.Errorf("openai stream returned no choices")
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:    acc.Choices[0].Message.Content,
			StopReason: string(acc.Choices[0].FinishReason),
			GenerationInfo: map[string]any{
				"PromptTokens":     int(acc.Usage.PromptTokens),
				"CompletionTokens": int(acc.Usage.CompletionTokens),
				"TotalTokens":      int(acc.Usage.TotalTokens),
			},
		}},
	}, nil
}

// Call implements the deprecated single-prompt entry point.
func (a *Adapter) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, a, prompt, options...)
}

func convertMessages(messages []llms.MessageContent) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		text := ""
		for _, part := range msg.Parts {
			if tp, ok := part.(llms.TextContent); ok {
				text += tp.Text
			}
		}
		switch msg.Role {
		case llms.ChatMessageTypeSystem:
			out = append(out, openai.SystemMessage(text))
		case llms.ChatMessageTypeAI:
			out = append(out, openai.AssistantMessage(text))
		default:
			out = append(out, openai.UserMessage(text))
		}
	}
	return out
}
