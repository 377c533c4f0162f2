package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lalo/core/internal/llm"
	"lalo/core/internal/utils"
	"lalo/core/pkg/core"
	"lalo/core/pkg/events"
	"lalo/core/pkg/planner"
	"lalo/core/pkg/router"
	"lalo/core/pkg/scorer"
	"lalo/core/pkg/tools"
)

// fakeGateway scripts one response (or error) per model name and records
// every prompt it sees.
type fakeGateway struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	models    []string
	prompts   []llm.Request
}

func (f *fakeGateway) Generate(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, req)
	f.mu.Unlock()
	if err, ok := f.errs[req.Model]; ok {
		return nil, err
	}
	text, ok := f.responses[req.Model]
	if !ok {
		text = "response from " + req.Model
	}
	return &llm.Completion{Text: text, Model: req.Model, Usage: llm.Usage{InputTokens: 10, OutputTokens: 20}}, nil
}

func (f *fakeGateway) AvailableModels(userID string) []llm.ModelInfo {
	infos := make([]llm.ModelInfo, 0, len(f.models))
	for _, m := range f.models {
		infos = append(infos, llm.ModelInfo{Name: m})
	}
	return infos
}

// echoTool returns its query argument uppercased.
type echoTool struct{ fail bool }

func (e *echoTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "echo",
		Description: "echoes the query",
		Parameters: []tools.Parameter{
			{Name: "query", Type: tools.TypeString, Required: true},
		},
	}
}

func (e *echoTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	if e.fail {
		return nil, core.E(core.KindExecutionFailed, "tool exploded")
	}
	q, _ := args["query"].(string)
	return &tools.Result{Success: true, Output: strings.ToUpper(q)}, nil
}

func newTestOrchestrator(t *testing.T, gw *fakeGateway, reg *tools.Registry) *Orchestrator {
	t.Helper()
	logger := utils.NewTestLogger()
	if reg == nil {
		reg = tools.NewRegistry(logger, tools.NewExecPool(4))
	}
	sc := scorer.New(nil, "", logger)
	pl := planner.New(nil, "", logger) // plans come attached to decisions in these tests
	return New(gw, reg, pl, sc, events.NewEmitter(), logger, Config{MaxFallbackAttempts: 3, StepParallelism: 2})
}

func job(request string, d *router.Decision) Job {
	return Job{
		RequestID: "req-1",
		TraceID:   "trace-1",
		Principal: core.Principal{UserID: "alice"},
		Request:   request,
		Decision:  d,
	}
}

const decentAnswer = "A reasonably detailed answer that has enough words to land in the generous middle completeness band for scoring."

func TestSimplePathRecordsEveryAttempt(t *testing.T) {
	gw := &fakeGateway{
		models: []string{"model-a", "model-b", "model-c", "model-d"},
		responses: map[string]string{
			"model-a": "No.",
			"model-b": decentAnswer,
			"model-c": "Maybe.",
		},
	}
	o := newTestOrchestrator(t, gw, nil)

	res, err := o.Execute(context.Background(), job("a question", &router.Decision{Path: router.PathSimple}))
	require.NoError(t, err)

	// Bounded by MaxFallbackAttempts, ordered by the model list.
	require.Len(t, res.FallbackAttempts, 3)
	assert.Equal(t, "model-a", res.FallbackAttempts[0].Model)
	assert.Equal(t, "model-b", res.FallbackAttempts[1].Model)
	assert.Equal(t, "model-c", res.FallbackAttempts[2].Model)

	// Best-scoring output wins even though it was not the last attempt.
	assert.Equal(t, decentAnswer, res.Output)
	assert.Equal(t, "model-b", res.Model)
	assert.Equal(t, 30, res.TokensUsed)
	require.NotNil(t, res.Score)
}

func TestSimplePathRecommendedModelGoesFirst(t *testing.T) {
	gw := &fakeGateway{models: []string{"model-a", "model-b"}}
	o := newTestOrchestrator(t, gw, nil)

	res, err := o.Execute(context.Background(), job("q", &router.Decision{
		Path:             router.PathSimple,
		RecommendedModel: "model-b",
	}))
	require.NoError(t, err)
	assert.Equal(t, "model-b", res.FallbackAttempts[0].Model)
	assert.Equal(t, "model-a", res.FallbackAttempts[1].Model)
}

func TestSimplePathSurvivesProviderErrors(t *testing.T) {
	gw := &fakeGateway{
		models:    []string{"model-a", "model-b"},
		errs:      map[string]error{"model-a": errors.New("provider down")},
		responses: map[string]string{"model-b": decentAnswer},
	}
	o := newTestOrchestrator(t, gw, nil)

	res, err := o.Execute(context.Background(), job("q", &router.Decision{Path: router.PathSimple}))
	require.NoError(t, err)
	assert.Equal(t, "model-b", res.Model)
	require.Len(t, res.FallbackAttempts, 2)
	assert.Contains(t, res.FallbackAttempts[0].Reason, "provider down")
}

func TestSimplePathAllModelsFail(t *testing.T) {
	down := core.E(core.KindDependencyUnavailable, "provider down")
	gw := &fakeGateway{
		models: []string{"model-a", "model-b"},
		errs:   map[string]error{"model-a": down, "model-b": down},
	}
	o := newTestOrchestrator(t, gw, nil)

	_, err := o.Execute(context.Background(), job("q", &router.Decision{Path: router.PathSimple}))
	require.Error(t, err)
	assert.Equal(t, core.KindDependencyUnavailable, core.KindOf(err))
}

func TestSimplePathNoModels(t *testing.T) {
	o := newTestOrchestrator(t, &fakeGateway{}, nil)
	_, err := o.Execute(context.Background(), job("q", &router.Decision{Path: router.PathSimple}))
	require.Error(t, err)
	assert.Equal(t, core.KindDependencyUnavailable, core.KindOf(err))
}

func TestSpecializedPinsRecommendedModel(t *testing.T) {
	gw := &fakeGateway{models: []string{"model-a", "model-b"}}
	o := newTestOrchestrator(t, gw, nil)

	res, err := o.Execute(context.Background(), job("q", &router.Decision{
		Path:             router.PathSpecialized,
		RecommendedModel: "model-b",
	}))
	require.NoError(t, err)
	assert.Equal(t, router.PathSpecialized, res.Path)
	require.Len(t, res.FallbackAttempts, 1)
	assert.Equal(t, "model-b", res.FallbackAttempts[0].Model)
}

func TestSpecializedDelegatesToComplexWithPlan(t *testing.T) {
	gw := &fakeGateway{models: []string{"model-a"}}
	o := newTestOrchestrator(t, gw, nil)

	res, err := o.Execute(context.Background(), job("q", &router.Decision{
		Path: router.PathSpecialized,
		ActionPlan: []planner.Step{
			{ID: 1, Action: "answer the question", Tool: "none"},
		},
	}))
	require.NoError(t, err)
	require.NotNil(t, res.Plan)
	assert.Len(t, res.Steps, 1)
}

func TestComplexExecutesStepsInDependencyOrder(t *testing.T) {
	gw := &fakeGateway{models: []string{"model-a"}}
	o := newTestOrchestrator(t, gw, nil)

	res, err := o.Execute(context.Background(), job("build a report", &router.Decision{
		Path: router.PathComplex,
		ActionPlan: []planner.Step{
			{ID: 1, Action: "collect facts", Tool: "none"},
			{ID: 2, Action: "write the report", Tool: "none", Dependencies: []int{1}},
		},
	}))
	require.NoError(t, err)

	// Final output is the last completed step's output.
	assert.Equal(t, "response from model-a", res.Output)
	require.Len(t, res.Steps, 2)
	assert.True(t, res.Steps[0].Completed())
	assert.True(t, res.Steps[1].Completed())
	require.NotNil(t, res.Score)

	// The second step's prompt embeds the original request and step 1's output.
	require.Len(t, gw.prompts, 2)
	second := gw.prompts[1].Prompt
	assert.Contains(t, second, "Original request: build a report")
	assert.Contains(t, second, "Step 1: response from model-a")
	assert.Contains(t, second, "Task: write the report")
}

func TestStepContextTruncatesPriorOutputs(t *testing.T) {
	longOutput := strings.Repeat("x", 500)
	gw := &fakeGateway{
		models:    []string{"model-a"},
		responses: map[string]string{"model-a": longOutput},
	}
	o := newTestOrchestrator(t, gw, nil)

	_, err := o.Execute(context.Background(), job("q", &router.Decision{
		Path: router.PathComplex,
		ActionPlan: []planner.Step{
			{ID: 1, Action: "produce a lot", Tool: "none"},
			{ID: 2, Action: "summarize", Tool: "none", Dependencies: []int{1}},
		},
	}))
	require.NoError(t, err)

	second := gw.prompts[1].Prompt
	start := strings.Index(second, "Step 1: ")
	require.GreaterOrEqual(t, start, 0)
	line := second[start+len("Step 1: "):]
	line = line[:strings.IndexByte(line, '\n')]
	assert.LessOrEqual(t, len(line), stepContextTruncation+3) // allow the ellipsis
}

func TestComplexToolStep(t *testing.T) {
	logger := utils.NewTestLogger()
	reg := tools.NewRegistry(logger, tools.NewExecPool(4))
	require.NoError(t, reg.Register(&echoTool{}))

	gw := &fakeGateway{models: []string{"model-a"}}
	o := newTestOrchestrator(t, gw, reg)

	res, err := o.Execute(context.Background(), job("shout", &router.Decision{
		Path: router.PathComplex,
		ActionPlan: []planner.Step{
			{ID: 1, Action: "echo it", Tool: "echo", Args: map[string]any{"query": "hello"}},
		},
	}))
	require.NoError(t, err)
	assert.Equal(t, "HELLO", res.Output)
	assert.Equal(t, "echo", res.Steps[0].ToolUsed)
}

func TestCascadingSkip(t *testing.T) {
	logger := utils.NewTestLogger()
	reg := tools.NewRegistry(logger, tools.NewExecPool(4))
	require.NoError(t, reg.Register(&echoTool{fail: true}))

	gw := &fakeGateway{models: []string{"model-a"}}
	o := newTestOrchestrator(t, gw, reg)

	res, err := o.Execute(context.Background(), job("q", &router.Decision{
		Path: router.PathComplex,
		ActionPlan: []planner.Step{
			{ID: 1, Action: "breaks", Tool: "echo", Args: map[string]any{"query": "x"}},
			{ID: 2, Action: "depends on 1", Tool: "none", Dependencies: []int{1}},
			{ID: 3, Action: "independent", Tool: "none"},
		},
	}))
	require.NoError(t, err)

	byID := map[int]*StepResult{}
	for i := range res.Steps {
		byID[res.Steps[i].Step.ID] = &res.Steps[i]
	}
	assert.NotEmpty(t, byID[1].Error)
	assert.True(t, byID[2].Skipped)
	assert.True(t, byID[3].Completed())

	// The independent step still provides a final output.
	assert.Equal(t, "response from model-a", res.Output)
}

func TestComplexAllStepsFail(t *testing.T) {
	gw := &fakeGateway{
		models: []string{"model-a"},
		errs:   map[string]error{"model-a": errors.New("down")},
	}
	o := newTestOrchestrator(t, gw, nil)

	res, err := o.Execute(context.Background(), job("q", &router.Decision{
		Path: router.PathComplex,
		ActionPlan: []planner.Step{
			{ID: 1, Action: "only step", Tool: "none"},
		},
	}))
	require.Error(t, err)
	assert.Equal(t, core.KindExecutionFailed, core.KindOf(err))
	require.NotNil(t, res)
	assert.NotEmpty(t, res.Steps[0].Error)
}

func TestUnknownToolFallsBackToInference(t *testing.T) {
	gw := &fakeGateway{models: []string{"model-a"}}
	o := newTestOrchestrator(t, gw, nil)

	res, err := o.Execute(context.Background(), job("q", &router.Decision{
		Path: router.PathComplex,
		ActionPlan: []planner.Step{
			{ID: 1, Action: "do it", Tool: "does_not_exist"},
		},
	}))
	require.NoError(t, err)
	assert.Empty(t, res.Steps[0].ToolUsed)
	assert.Equal(t, "response from model-a", res.Output)
}

func TestParallelizableWaveCompletes(t *testing.T) {
	gw := &fakeGateway{models: []string{"model-a"}}
	o := newTestOrchestrator(t, gw, nil)

	res, err := o.Execute(context.Background(), job("q", &router.Decision{
		Path: router.PathComplex,
		ActionPlan: []planner.Step{
			{ID: 1, Action: "fan out a", Tool: "none", Parallelizable: true},
			{ID: 2, Action: "fan out b", Tool: "none", Parallelizable: true},
			{ID: 3, Action: "fan out c", Tool: "none", Parallelizable: true},
			{ID: 4, Action: "join", Tool: "none", Dependencies: []int{1, 2, 3}},
		},
	}))
	require.NoError(t, err)
	require.Len(t, res.Steps, 4)
	for _, sr := range res.Steps {
		assert.True(t, sr.Completed(), "step %d", sr.Step.ID)
	}
	// The join step sees all three predecessors.
	joinPrompt := gw.prompts[len(gw.prompts)-1].Prompt
	assert.Contains(t, joinPrompt, "Step 1:")
	assert.Contains(t, joinPrompt, "Step 2:")
	assert.Contains(t, joinPrompt, "Step 3:")
}

func TestWideParallelWaveWithSkips(t *testing.T) {
	logger := utils.NewTestLogger()
	reg := tools.NewRegistry(logger, tools.NewExecPool(4))
	require.NoError(t, reg.Register(&echoTool{fail: true}))

	gw := &fakeGateway{models: []string{"model-a"}}
	o := newTestOrchestrator(t, gw, reg)

	// One failing and one succeeding root, then a wide fan-out wave mixing
	// steps that must be skipped with steps that run concurrently.
	steps := []planner.Step{
		{ID: 1, Action: "breaks", Tool: "echo", Args: map[string]any{"query": "x"}},
		{ID: 2, Action: "works", Tool: "none"},
	}
	for id := 3; id <= 42; id++ {
		step := planner.Step{ID: id, Action: "fan out", Tool: "none", Parallelizable: true}
		if id%2 == 0 {
			step.Dependencies = []int{1}
		} else {
			step.Dependencies = []int{2}
		}
		steps = append(steps, step)
	}

	res, err := o.Execute(context.Background(), job("q", &router.Decision{
		Path:       router.PathComplex,
		ActionPlan: steps,
	}))
	require.NoError(t, err)
	require.Len(t, res.Steps, 42)

	var skipped, completed int
	for i := range res.Steps {
		sr := &res.Steps[i]
		if sr.Step.ID <= 2 {
			continue
		}
		switch {
		case sr.Skipped:
			skipped++
		case sr.Completed():
			completed++
		}
	}
	assert.Equal(t, 20, skipped)
	assert.Equal(t, 20, completed)
}

func TestExecutionWaves(t *testing.T) {
	steps := []planner.Step{
		{ID: 1},
		{ID: 2, Dependencies: []int{1}},
		{ID: 3, Dependencies: []int{1}},
		{ID: 4, Dependencies: []int{2, 3}},
		{ID: 5},
	}
	waves := executionWaves(steps)
	require.Len(t, waves, 3)
	assert.ElementsMatch(t, []int{1, 5}, waveIDs(waves[0]))
	assert.ElementsMatch(t, []int{2, 3}, waveIDs(waves[1]))
	assert.ElementsMatch(t, []int{4}, waveIDs(waves[2]))
}

func waveIDs(wave []planner.Step) []int {
	ids := make([]int, 0, len(wave))
	for _, s := range wave {
		ids = append(ids, s.ID)
	}
	return ids
}
