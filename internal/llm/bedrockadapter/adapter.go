package bedrockadapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/tmc/langchaingo/llms"

	"lalo/core/internal/utils"
)

const defaultMaxTokens = 4096

// Adapter exposes AWS Bedrock through the langchaingo Model interface using
// the model-agnostic Converse API.
type Adapter struct {
	client  *bedrockruntime.Client
	modelID string
	logger  utils.ExtendedLogger
}

type Config struct {
	Region  string
	ModelID string
	Logger  utils.ExtendedLogger
}

func New(ctx context.Context, cfg Config) (*Adapter, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &Adapter{
		client:  bedrockruntime.NewFromConfig(awsCfg),
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

	system, converted := convertMessages(messages)
	inferenceCfg := &types.InferenceConfiguration{
		MaxTokens: aws.Int32(int32(opts.MaxTokens)),
	}
	if opts.Temperature > 0 {
		inferenceCfg.Temperature = aws.Float32(float32(opts.Temperature))
	}

	if opts.StreamingFunc != nil {
		return a.generateStreaming(ctx, opts.Model, system, converted, inferenceCfg, opts.StreamingFunc)
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(opts.Model),
		Messages:        converted,
		InferenceConfig: inferenceCfg,
	}
	if system != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}

	out, err := a.client.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock converse failed: %w", err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, fmt.Errorf("bedrock returned unexpected output type %T", out.Output)
	}
	var text strings.Builder
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*types.ContentBlockMemberText); ok {
			text.WriteString(tb.Value)
		}
	}

	info := map[string]any{}
	if out.Usage != nil {
		info["PromptTokens"] = int(aws.ToInt32(out.Usage.InputTokens))
		info["CompletionTokens"] = int(aws.ToInt32(out.Usage.OutputTokens))
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:        text.String(),
			StopReason:     string(out.StopReason),
			GenerationInfo: info,
		}},
	}, nil
}

func (a *Adapter) generateStreaming(ctx context.Context, model, system string, messages []types.Message, inferenceCfg *types.InferenceConfiguration, fn func(context.Context, []byte) error) (*llms.ContentResponse, error) {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(model),
		Messages:        messages,
		InferenceConfig: inferenceCfg,
	}
	if system != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}

	out, err := a.client.ConverseStream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock converse stream failed: %w", err)
	}
	stream := out.GetStream()
	defer stream.Close()

	var text strings.Builder
	info := map[string]any{}
	stopReason := ""
	for event := range stream.Events() {
		switch ev := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockDelta:
			if delta, ok := ev.Value.Delta.(*types.ContentBlockDeltaMemberText); ok && delta.Value != "" {
				text.WriteString(delta.Value)
				if err := fn(ctx, []byte(delta.Value)); err != nil {
					return nil, fmt.Errorf("streaming callback failed: %w", err)
				}
			}
		case *types.ConverseStreamOutputMemberMessageStop:
			stopReason = string(ev.Value.StopReason)
		case *types.ConverseStreamOutputMemberMetadata:
			if ev.Value.Usage != nil {
				info["PromptTokens"] = int(aws.ToInt32(ev.Value.Usage.InputTokens))
				info["CompletionTokens"] = int(aws.ToInt32(ev.Value.Usage.OutputTokens))
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("bedrock stream failed: %w", err)
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:        text.String(),
			StopReason:     stopReason,
			GenerationInfo: info,
		}},
	}, nil
}

// Call implements the deprecated single-prompt entry point.
func (a *Adapter) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, a, prompt, options...)
}

func convertMessages(messages []llms.MessageContent) (string, []types.Message) {
	var system strings.Builder
	out := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		var text strings.Builder
		for _, part := range msg.Parts {
			if tp, ok := part.(llms.TextContent); ok {
				text.WriteString(tp.Text)
			}
		}
		role := types.ConversationRoleUser
		switch msg.Role {
		case llms.ChatMessageTypeSystem:
			system.WriteString(text.String())
			continue
		case llms.ChatMessageTypeAI:
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text.String()}},
		})
	}
	return system.String(), out
}
