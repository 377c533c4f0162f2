package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/llms"

	"lalo/core/internal/llm/anthropicadapter"
	"lalo/core/internal/llm/bedrockadapter"
	"lalo/core/internal/llm/openaiadapter"
	"lalo/core/internal/observability"
	"lalo/core/internal/utils"
	"lalo/core/pkg/core"
	"lalo/core/pkg/events"
)

const (
	defaultTimeout       = 60 * time.Second
	defaultCacheCapacity = 8
	openRouterBaseURL    = "https://openrouter.ai/api/v1"
)

// ServiceConfig configures the inference gateway.
type ServiceConfig struct {
	DemoMode bool
	Timeout  time.Duration

	OpenAIKey     string
	AnthropicKey  string
	OpenRouterKey string
	BedrockRegion string

	// LocalModelsDir holds model artifacts served through an
	// OpenAI-compatible endpoint at LocalBaseURL.
	LocalModelsDir string
	LocalBaseURL   string

	CacheCapacity int

	Logger  utils.ExtendedLogger
	Tracer  observability.Tracer
	Emitter *events.Emitter
}

// Service is the concrete Gateway. One instance serves the whole process;
// all methods are safe for concurrent use.
type Service struct {
	cfg     ServiceConfig
	logger  utils.ExtendedLogger
	tracer  observability.Tracer
	emitter *events.Emitter

	cache    *ModelCache
	breakers map[Provider]*gobreaker.CircuitBreaker

	mu         sync.RWMutex
	userModels map[string][]string // per-user allowlist; absent means all models
	catalog    []ModelInfo
}

// NewService builds the gateway. It never contacts a provider at construction;
// clients are created lazily on first use.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = defaultCacheCapacity
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NoopTracer{}
	}

	s := &Service{
		cfg:        cfg,
		logger:     cfg.Logger,
		tracer:     cfg.Tracer,
		emitter:    cfg.Emitter,
		breakers:   make(map[Provider]*gobreaker.CircuitBreaker),
		userModels: make(map[string][]string),
	}
	s.cache = NewModelCache(cfg.CacheCapacity, func(name string, _ llms.Model) {
		s.logger.Infof("📤 Unloaded model client: %s", name)
	})

	for _, p := range []Provider{ProviderOpenAI, ProviderAnthropic, ProviderBedrock, ProviderOpenRouter, ProviderLocal, ProviderDemo} {
		s.breakers[p] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    string(p),
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}

	s.buildCatalog()
	return s
}

func (s *Service) buildCatalog() {
	var catalog []ModelInfo
	if s.cfg.DemoMode {
		catalog = append(catalog,
			ModelInfo{Name: "demo-small", Provider: ProviderDemo},
			ModelInfo{Name: "demo-large", Provider: ProviderDemo},
		)
	}
	if s.cfg.OpenAIKey != "" {
		catalog = append(catalog,
			ModelInfo{Name: "gpt-4.1", Provider: ProviderOpenAI},
			ModelInfo{Name: "gpt-4.1-mini", Provider: ProviderOpenAI},
			ModelInfo{Name: "gpt-4o", Provider: ProviderOpenAI},
		)
	}
	if s.cfg.AnthropicKey != "" {
		catalog = append(catalog,
			ModelInfo{Name: "claude-sonnet-4-20250514", Provider: ProviderAnthropic},
			ModelInfo{Name: "claude-3-5-haiku-20241022", Provider: ProviderAnthropic},
		)
	}
	for _, name := range ScanLocalModels(s.cfg.LocalModelsDir) {
		catalog = append(catalog, ModelInfo{Name: name, Provider: ProviderLocal})
	}
	s.catalog = catalog
}

// Register installs a prebuilt model client under a fixed name. Used for
// tests and for wiring scripted models.
func (s *Service) Register(name string, provider Provider, model llms.Model) {
	_, _ = s.cache.GetOrLoad(name, func() (llms.Model, error) { return model, nil })
	s.mu.Lock()
	s.catalog = append(s.catalog, ModelInfo{Name: name, Provider: provider})
	s.mu.Unlock()
}

// SetUserModels restricts a user to the named models. An empty list removes
// the restriction.
func (s *Service) SetUserModels(userID string, models []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(models) == 0 {
		delete(s.userModels, userID)
		return
	}
	s.userModels[userID] = models
}

// AvailableModels implements Gateway.
func (s *Service) AvailableModels(userID string) []ModelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed, restricted := s.userModels[userID]
	out := make([]ModelInfo, 0, len(s.catalog))
	for _, info := range s.catalog {
		if restricted && !contains(allowed, info.Name) {
			continue
		}
		out = append(out, info)
	}
	return out
}

// UnloadModel evicts a cached model client, releasing its resources.
func (s *Service) UnloadModel(name string) bool {
	return s.cache.Unload(name)
}

// Generate implements Gateway.
func (s *Service) Generate(ctx context.Context, req Request) (*Completion, error) {
	return s.generate(ctx, req, nil)
}

// Stream implements Gateway.
func (s *Service) Stream(ctx context.Context, req Request, fn StreamFunc) (*Completion, error) {
	if fn == nil {
		return nil, core.E(core.KindInvalidInput, "stream requires a chunk callback")
	}
	return s.generate(ctx, req, fn)
}

func (s *Service) generate(ctx context.Context, req Request, fn StreamFunc) (*Completion, error) {
	if req.Model == "" {
		return nil, core.E(core.KindInvalidInput, "model name is required")
	}
	if err := s.checkAccess(req.UserID, req.Model); err != nil {
		return nil, err
	}

	provider := s.resolveProvider(req.Model)
	model, err := s.clientFor(ctx, provider, req.Model)
	if err != nil {
		return nil, core.Wrap(core.KindDependencyUnavailable, err, "failed to initialize %s client", provider)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	messages := []llms.MessageContent{}
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	traceID := observability.NewTraceID()

	opts := []llms.CallOption{llms.WithModel(req.Model)}
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if fn != nil {
		inner := fn
		opts = append(opts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			s.emitter.Emit(traceID, "", req.UserID, &events.StreamingChunkData{
				Model: req.Model, Bytes: len(chunk),
			})
			return inner(ctx, chunk)
		}))
	}

	spanID := s.tracer.StartSpan(traceID, "llm_generate", map[string]interface{}{
		"model": req.Model, "provider": string(provider),
	})
	s.emitter.Emit(traceID, "", req.UserID, &events.LLMGenerationData{
		Model: req.Model, Provider: string(provider), EventKind: events.LLMGenerationStart,
	})

	start := time.Now()
	result, err := s.breakers[provider].Execute(func() (interface{}, error) {
		return model.GenerateContent(ctx, messages, opts...)
	})
	elapsed := time.Since(start)
	s.tracer.EndSpan(traceID, spanID, err)

	if err != nil {
		kind := classifyError(err)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			kind = core.KindDependencyUnavailable
		}
		s.logger.Warnf("⚠️ Generation failed - model: %s, provider: %s, kind: %s, error: %v", req.Model, provider, kind, err)
		s.emitter.Emit(traceID, "", req.UserID, &events.LLMGenerationData{
			Model: req.Model, Provider: string(provider), Error: err.Error(),
			DurationMS: elapsed.Milliseconds(), EventKind: events.LLMGenerationError,
		})
		return nil, core.Wrap(kind, err, "generation failed for model %s", req.Model)
	}

	resp := result.(*llms.ContentResponse)
	if len(resp.Choices) == 0 {
		return nil, core.E(core.KindExecutionFailed, "model %s returned no output", req.Model)
	}
	choice := resp.Choices[0]

	usage := extractUsage(choice.GenerationInfo)
	if usage.InputTokens == 0 {
		usage.InputTokens = EstimateTokens(req.System + req.Prompt)
	}
	if usage.OutputTokens == 0 {
		usage.OutputTokens = EstimateTokens(choice.Content)
	}

	s.logger.Debugf("✅ Generation complete - model: %s, elapsed: %s, tokens: %d/%d",
		req.Model, elapsed, usage.InputTokens, usage.OutputTokens)
	s.emitter.Emit(traceID, "", req.UserID, &events.LLMGenerationData{
		Model: req.Model, Provider: string(provider),
		InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens,
		DurationMS: elapsed.Milliseconds(), EventKind: events.LLMGenerationEnd,
	})

	return &Completion{
		Text:       choice.Content,
		Model:      req.Model,
		Provider:   provider,
		Usage:      usage,
		DurationMS: elapsed.Milliseconds(),
	}, nil
}

func (s *Service) checkAccess(userID, model string) error {
	if userID == "" {
		return nil
	}
	s.mu.RLock()
	allowed, restricted := s.userModels[userID]
	s.mu.RUnlock()
	if restricted && !contains(allowed, model) {
		return core.E(core.KindPermissionDenied, "user %s may not use model %s", userID, model)
	}
	return nil
}

// resolveProvider maps a model name onto its backend. Demo mode short-circuits
// everything to the canned provider.
func (s *Service) resolveProvider(model string) Provider {
	if s.cfg.DemoMode {
		return ProviderDemo
	}
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "demo"):
		return ProviderDemo
	case strings.Contains(lower, "/"):
		return ProviderOpenRouter
	case strings.HasPrefix(lower, "claude"):
		return ProviderAnthropic
	case strings.HasPrefix(lower, "gpt") || strings.HasPrefix(lower, "o1") ||
		strings.HasPrefix(lower, "o3") || strings.HasPrefix(lower, "o4") ||
		strings.HasPrefix(lower, "text-"):
		return ProviderOpenAI
	case strings.Contains(lower, "anthropic.") || strings.Contains(lower, "amazon.") ||
		strings.Contains(lower, "meta.") || strings.Contains(lower, "mistral."):
		return ProviderBedrock
	case contains(ScanLocalModels(s.cfg.LocalModelsDir), model):
		return ProviderLocal
	default:
		return ProviderOpenAI
	}
}

// clientFor returns a cached client, constructing one on first use.
func (s *Service) clientFor(ctx context.Context, provider Provider, modelName string) (llms.Model, error) {
	return s.cache.GetOrLoad(modelName, func() (llms.Model, error) {
		switch provider {
		case ProviderDemo:
			return NewDemoModel(modelName), nil
		case ProviderOpenAI:
			return openaiadapter.New(openaiadapter.Config{
				APIKey: s.cfg.OpenAIKey, ModelID: modelName, Logger: s.logger,
			})
		case ProviderOpenRouter:
			return openaiadapter.New(openaiadapter.Config{
				APIKey: s.cfg.OpenRouterKey, BaseURL: openRouterBaseURL,
				ModelID: modelName, Logger: s.logger,
			})
		case ProviderAnthropic:
			return anthropicadapter.New(anthropicadapter.Config{
				APIKey: s.cfg.AnthropicKey, ModelID: modelName, Logger: s.logger,
			})
		case ProviderBedrock:
			return bedrockadapter.New(ctx, bedrockadapter.Config{
				Region: s.cfg.BedrockRegion, ModelID: modelName, Logger: s.logger,
			})
		case ProviderLocal:
			if s.cfg.LocalBaseURL == "" {
				return nil, fmt.Errorf("no local inference endpoint configured")
			}
			return openaiadapter.New(openaiadapter.Config{
				APIKey: "local", BaseURL: s.cfg.LocalBaseURL,
				ModelID: modelName, Logger: s.logger,
			})
		default:
			return nil, fmt.Errorf("unsupported provider: %s", provider)
		}
	})
}

func extractUsage(info map[string]any) Usage {
	usage := Usage{}
	if info == nil {
		return usage
	}
	if v, ok := info["PromptTokens"].(int); ok {
		usage.InputTokens = v
	}
	if v, ok := info["CompletionTokens"].(int); ok {
		usage.OutputTokens = v
	}
	return usage
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
