package llm

import (
	"context"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// FakeModel is a scripted llms.Model for tests. Responses are consumed in
// order; once exhausted the last one repeats. Errors can be injected per call.
type FakeModel struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func NewFakeModel(responses ...string) *FakeModel {
	return &FakeModel{responses: responses}
}

// FailWith queues errors returned before any scripted responses are served.
func (m *FakeModel) FailWith(errs ...error) *FakeModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
	return m
}

// Calls reports how many generations were attempted.
func (m *FakeModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts returns the user prompts seen so far.
func (m *FakeModel) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// GenerateContent implements llms.Model.
func (m *FakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	m.mu.Lock()
	call := m.calls
	m.calls++
	prompt := ""
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if tp, ok := part.(llms.TextContent); ok {
				prompt += tp.Text
			}
		}
	}
	m.prompts = append(m.prompts, prompt)

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		m.mu.Unlock()
		return nil, err
	}

	text := ""
	if len(m.responses) > 0 {
		idx := call
		if idx >= len(m.responses) {
			idx = len(m.responses) - 1
		}
		text = m.responses[idx]
	}
	m.mu.Unlock()

	if opts.StreamingFunc != nil {
		if err := opts.StreamingFunc(ctx, []byte(text)); err != nil {
			return nil, err
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:    text,
			StopReason: "stop",
			GenerationInfo: map[string]any{
				"PromptTokens":     10,
				"CompletionTokens": 20,
			},
		}},
	}, nil
}

// Call implements the deprecated single-prompt entry point.
func (m *FakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}
