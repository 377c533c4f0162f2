package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"lalo/core/internal/utils"
	"lalo/core/pkg/core"
)

func newTestService(demo bool) *Service {
	return NewService(ServiceConfig{
		DemoMode: demo,
		Logger:   utils.NewTestLogger(),
	})
}

func TestResolveProvider(t *testing.T) {
	s := newTestService(false)

	tests := []struct {
		model string
		want  Provider
	}{
		{"gpt-4.1", ProviderOpenAI},
		{"gpt-4o-mini", ProviderOpenAI},
		{"o3-mini", ProviderOpenAI},
		{"claude-sonnet-4-20250514", ProviderAnthropic},
		{"anthropic.claude-3-5-sonnet-20241022-v2:0", ProviderBedrock},
		{"amazon.nova-pro-v1:0", ProviderBedrock},
		{"google/gemini-2.0-flash", ProviderOpenRouter},
		{"demo-small", ProviderDemo},
		{"unknown-model", ProviderOpenAI},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, s.resolveProvider(tt.model))
		})
	}
}

func TestResolveProviderDemoModeOverridesAll(t *testing.T) {
	s := newTestService(true)
	assert.Equal(t, ProviderDemo, s.resolveProvider("gpt-4.1"))
	assert.Equal(t, ProviderDemo, s.resolveProvider("claude-sonnet-4-20250514"))
}

func TestGenerateDemoMode(t *testing.T) {
	s := newTestService(true)

	comp, err := s.Generate(context.Background(), Request{
		Model:  "demo-small",
		Prompt: "What is two plus two?",
	})
	require.NoError(t, err)
	assert.Contains(t, comp.Text, "demo")
	assert.Equal(t, ProviderDemo, comp.Provider)
	assert.Greater(t, comp.Usage.OutputTokens, 0)
}

func TestGenerateRegisteredFake(t *testing.T) {
	s := newTestService(false)
	fake := NewFakeModel("hello from fake")
	s.Register("fake-model", ProviderLocal, fake)

	comp, err := s.Generate(context.Background(), Request{Model: "fake-model", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello from fake", comp.Text)
	assert.Equal(t, 1, fake.Calls())
}

func TestGenerateClassifiesProviderErrors(t *testing.T) {
	s := newTestService(false)
	fake := NewFakeModel().FailWith(errors.New("429 too many requests"))
	s.Register("flaky", ProviderLocal, fake)

	_, err := s.Generate(context.Background(), Request{Model: "flaky", Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, core.KindRateLimited, core.KindOf(err))
}

func TestGenerateRequiresModel(t *testing.T) {
	s := newTestService(true)
	_, err := s.Generate(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, core.KindInvalidInput, core.KindOf(err))
}

func TestUserModelRestriction(t *testing.T) {
	s := newTestService(true)
	s.SetUserModels("alice", []string{"demo-small"})

	_, err := s.Generate(context.Background(), Request{
		Model: "demo-large", Prompt: "hi", UserID: "alice",
	})
	require.Error(t, err)
	assert.Equal(t, core.KindPermissionDenied, core.KindOf(err))

	_, err = s.Generate(context.Background(), Request{
		Model: "demo-small", Prompt: "hi", UserID: "alice",
	})
	assert.NoError(t, err)

	// Unrestricted users see the full catalog.
	models := s.AvailableModels("bob")
	assert.Len(t, models, 2)
	models = s.AvailableModels("alice")
	assert.Len(t, models, 1)
}

func TestRefreshUserModelsFromCredentials(t *testing.T) {
	s := newTestService(false)
	s.Register("gpt-test", ProviderOpenAI, NewFakeModel("pong"))
	s.Register("gpt-dead", ProviderOpenAI, NewFakeModel().FailWith(errors.New("401 invalid api key")))
	s.Register("claude-test", ProviderAnthropic, NewFakeModel("pong"))

	infos := s.RefreshUserModels(context.Background(), "alice", []string{"openai_api_key", "unrelated_key"})

	// Only the credentialed provider's reachable model survives: the dead
	// model fails the validation ping and anthropic has no credential.
	require.Len(t, infos, 1)
	assert.Equal(t, "gpt-test", infos[0].Name)

	models := s.AvailableModels("alice")
	require.Len(t, models, 1)
	assert.Equal(t, "gpt-test", models[0].Name)

	_, err := s.Generate(context.Background(), Request{
		Model: "claude-test", Prompt: "hi", UserID: "alice",
	})
	require.Error(t, err)
	assert.Equal(t, core.KindPermissionDenied, core.KindOf(err))

	// Deleting the last credential falls back to the unrestricted
	// process-level catalog.
	s.RefreshUserModels(context.Background(), "alice", nil)
	assert.Len(t, s.AvailableModels("alice"), 3)
}

func TestStreamDeliversChunks(t *testing.T) {
	s := newTestService(true)

	var got []byte
	comp, err := s.Stream(context.Background(), Request{
		Model: "demo-small", Prompt: "stream this",
	}, func(ctx context.Context, chunk []byte) error {
		got = append(got, chunk...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, comp.Text, string(got))
}

func TestStreamRequiresCallback(t *testing.T) {
	s := newTestService(true)
	_, err := s.Stream(context.Background(), Request{Model: "demo-small", Prompt: "hi"}, nil)
	require.Error(t, err)
	assert.Equal(t, core.KindInvalidInput, core.KindOf(err))
}

func TestModelCacheEviction(t *testing.T) {
	evicted := []string{}
	cache := NewModelCache(2, func(name string, _ llms.Model) {
		evicted = append(evicted, name)
	})

	load := func() (llms.Model, error) { return NewFakeModel("x"), nil }
	_, err := cache.GetOrLoad("a", load)
	require.NoError(t, err)
	_, err = cache.GetOrLoad("b", load)
	require.NoError(t, err)

	// Touch "a" so "b" becomes the eviction candidate.
	_, err = cache.GetOrLoad("a", load)
	require.NoError(t, err)
	_, err = cache.GetOrLoad("c", load)
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, 2, cache.Len())

	assert.True(t, cache.Unload("a"))
	assert.False(t, cache.Unload("missing"))
	assert.Equal(t, 1, cache.Len())
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want core.Kind
	}{
		{"rate limit", errors.New("429 Too Many Requests"), core.KindRateLimited},
		{"throttle", errors.New("ThrottlingException: rate exceeded"), core.KindRateLimited},
		{"quota", errors.New("you have exceeded your quota"), core.KindQuotaExceeded},
		{"auth", errors.New("401 invalid api key"), core.KindAuthFailed},
		{"timeout", errors.New("request timeout"), core.KindTimeout},
		{"unavailable", errors.New("connection refused"), core.KindDependencyUnavailable},
		{"other", errors.New("something odd"), core.KindExecutionFailed},
		{"context deadline", context.DeadlineExceeded, core.KindTimeout},
		{"context cancel", context.Canceled, core.KindCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyError(tt.err))
		})
	}
}

func TestEstimateCost(t *testing.T) {
	usage := Usage{InputTokens: 1000, OutputTokens: 1000}
	assert.InDelta(t, 0.002+0.008, EstimateCost("gpt-4.1", usage), 1e-9)
	assert.InDelta(t, 0.0004+0.0016, EstimateCost("gpt-4.1-mini", usage), 1e-9)
	assert.InDelta(t, 0.003+0.015, EstimateCost("anthropic/claude-sonnet-4", usage), 1e-9)
	assert.Zero(t, EstimateCost("mystery-model", usage))
}
