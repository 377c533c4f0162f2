package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lalo/core/internal/llm"
	"lalo/core/internal/utils"
)

type fakeGen struct {
	text  string
	err   error
	calls int
}

func (f *fakeGen) Generate(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{Text: f.text, Model: req.Model}, nil
}

func heuristicRouter() *Router {
	return New(nil, "", utils.NewTestLogger())
}

func TestArithmeticShortCircuit(t *testing.T) {
	gen := &fakeGen{text: "{}"}
	r := New(gen, "router-model", utils.NewTestLogger())

	d := r.Route(context.Background(), "what is 2 + 2?")
	assert.Equal(t, PathSimple, d.Path)
	assert.Equal(t, 0.1, d.Complexity)
	assert.Equal(t, 0.95, d.Confidence)
	assert.Equal(t, 0, gen.calls, "trivial math must not reach the model")
}

func TestShortCircuitNeedsDigitAndOperator(t *testing.T) {
	r := heuristicRouter()

	// Hyphenated prose contains '-' but no digits.
	d := r.Route(context.Background(), "design a load-balancer")
	assert.NotEqual(t, 0.95, d.Confidence)
	assert.Equal(t, PathComplex, d.Path)

	// Digits without operators.
	d = r.Route(context.Background(), "who is employee 42")
	assert.NotEqual(t, 0.1, d.Complexity)
}

func TestShortCircuitLengthBound(t *testing.T) {
	long := "compute 2 + 2 but first " + strings.Repeat("please ", 12) // ≥80 chars
	require.GreaterOrEqual(t, len(long), 80)

	d := heuristicRouter().Route(context.Background(), long)
	assert.NotEqual(t, 0.95, d.Confidence)
}

func TestModelBasedRouting(t *testing.T) {
	gen := &fakeGen{text: `{"path":"complex","complexity":0.8,"confidence":0.9,"reasoning":"multi-step","recommended_model":"gpt-4.1","requires_tools":true,"requires_workflow":false}`}
	r := New(gen, "router-model", utils.NewTestLogger())

	d := r.Route(context.Background(), "design a microservices architecture for a fintech platform")
	assert.Equal(t, PathComplex, d.Path)
	assert.Equal(t, 0.8, d.Complexity)
	assert.Equal(t, "gpt-4.1", d.RecommendedModel)
	assert.True(t, d.RequiresTools)
	assert.False(t, d.Heuristic)
}

func TestNormalizationForcesComplexAboveThreshold(t *testing.T) {
	gen := &fakeGen{text: `{"path":"simple","complexity":0.9,"confidence":0.5}`}
	r := New(gen, "router-model", utils.NewTestLogger())

	d := r.Route(context.Background(), "some request here")
	assert.Equal(t, PathComplex, d.Path)
}

func TestNormalizationForcesSimpleWhenEasyAndConfident(t *testing.T) {
	gen := &fakeGen{text: `{"path":"complex","complexity":0.1,"confidence":0.95}`}
	r := New(gen, "router-model", utils.NewTestLogger())

	d := r.Route(context.Background(), "some request here")
	assert.Equal(t, PathSimple, d.Path)
}

func TestUnknownPathCoercesToSimple(t *testing.T) {
	gen := &fakeGen{text: `{"path":"turbo","complexity":0.5,"confidence":0.5}`}
	r := New(gen, "router-model", utils.NewTestLogger())

	d := r.Route(context.Background(), "some request here")
	assert.Equal(t, PathSimple, d.Path)
}

func TestModelFailureFallsBackToHeuristic(t *testing.T) {
	gen := &fakeGen{err: errors.New("provider down")}
	r := New(gen, "router-model", utils.NewTestLogger())

	d := r.Route(context.Background(), "explain the theory of relativity")
	assert.True(t, d.Heuristic)
	assert.Equal(t, PathSimple, d.Path)
}

func TestUnparsableModelOutputFallsBack(t *testing.T) {
	gen := &fakeGen{text: "definitely a complex one!"}
	r := New(gen, "router-model", utils.NewTestLogger())

	d := r.Route(context.Background(), "explain the theory of relativity")
	assert.True(t, d.Heuristic)
}

func TestHeuristicKeywordBands(t *testing.T) {
	r := heuristicRouter()

	simple := r.Route(context.Background(), "define osmosis")
	assert.Equal(t, PathSimple, simple.Path)
	assert.Less(t, simple.Complexity, 0.3)

	complexD := r.Route(context.Background(), "design and optimize a distributed cache")
	assert.Equal(t, PathComplex, complexD.Path)
	assert.Greater(t, complexD.Complexity, 0.7)
}

func TestHeuristicLengthAndQuestionFactors(t *testing.T) {
	r := heuristicRouter()

	short := r.Route(context.Background(), "explain gravity")
	long := r.Route(context.Background(), "explain gravity "+strings.Repeat("with details ", 60))
	assert.Greater(t, long.Complexity, short.Complexity)
	// Length factor caps at 0.3.
	assert.InDelta(t, 0.8, long.Complexity, 1e-9)

	questions := r.Route(context.Background(), "explain gravity? and mass? and light? and time?")
	assert.Greater(t, questions.Complexity, short.Complexity)
}

func TestDetectToolNeed(t *testing.T) {
	r := heuristicRouter()

	assert.True(t, r.Route(context.Background(), "search the web for recent papers").RequiresTools)
	assert.True(t, r.Route(context.Background(), "explain the latest kernel release").RequiresTools)
	assert.False(t, r.Route(context.Background(), "explain recursion").RequiresTools)
}

func TestComplexityAlwaysInRange(t *testing.T) {
	r := heuristicRouter()
	inputs := []string{
		"",
		"?",
		"design analyze architect optimize " + strings.Repeat("word ", 200) + "????",
		"define x",
	}
	for _, in := range inputs {
		d := r.Route(context.Background(), in)
		assert.GreaterOrEqual(t, d.Complexity, 0.0, "input=%q", in)
		assert.LessOrEqual(t, d.Complexity, 1.0, "input=%q", in)
	}
}
