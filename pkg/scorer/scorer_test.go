package scorer

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

// fakeGen scripts gateway completions for the scorer.
type fakeGen struct {
	text string
	err  error
}

func (f *fakeGen) Generate(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{Text: f.text, Model: req.Model}, nil
}

func heuristicScorer() *Scorer {
	return New(nil, "", utils.NewTestLogger())
}

func TestHeuristicDeterminism(t *testing.T) {
	s := heuristicScorer()
	in := Input{Output: "The capital of France is Paris, a city of about two million people.", Request: "capital of France?"}

	a := s.Score(context.Background(), in)
	b := s.Score(context.Background(), in)
	assert.Equal(t, a.Overall, b.Overall)
	assert.Equal(t, a, b)
	assert.True(t, a.Heuristic)
}

func TestOverallWeights(t *testing.T) {
	score := &Score{Factual: 1, Consistent: 0.5, Complete: 0.25, Grounded: 0}
	// 0.4*1 + 0.3*0.5 + 0.2*0.25 + 0.1*0 = 0.6
	assert.InDelta(t, 0.6, overall(score), 1e-9)
}

func TestRecommendationThresholds(t *testing.T) {
	tests := []struct {
		overall float64
		want    Recommendation
	}{
		{0.95, RecommendAccept},
		{0.80, RecommendAccept},
		{0.79, RecommendRetry},
		{0.60, RecommendRetry},
		{0.59, RecommendEscalate},
		{0.40, RecommendEscalate},
		{0.39, RecommendHumanReview},
		{0.0, RecommendHumanReview},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, recommendationFor(tt.overall), "overall=%v", tt.overall)
	}
}

func TestHedgingLowersGrounded(t *testing.T) {
	s := heuristicScorer()
	base := strings.Repeat("This answer has plenty of detail about the question asked. ", 4)

	plain := s.Score(context.Background(), Input{Output: base})
	hedged := s.Score(context.Background(), Input{Output: base + " I'm not sure about this."})

	assert.Greater(t, plain.Grounded, hedged.Grounded)
	assert.Greater(t, plain.Overall, hedged.Overall)
}

func TestShortOutputLowersComplete(t *testing.T) {
	s := heuristicScorer()
	short := s.Score(context.Background(), Input{Output: "Yes."})
	full := s.Score(context.Background(), Input{Output: strings.Repeat("word ", 50)})
	assert.Less(t, short.Complete, full.Complete)
}

func TestUnstructuredRamblingLowersFactual(t *testing.T) {
	s := heuristicScorer()
	rambling := strings.Repeat("and then something else happened ", 80) // >300 words, no newlines
	structured := strings.Repeat("A point.\n", 320)

	r := s.Score(context.Background(), Input{Output: rambling})
	st := s.Score(context.Background(), Input{Output: structured})
	assert.Less(t, r.Factual, st.Factual)
}

func TestModelBasedScoring(t *testing.T) {
	gen := &fakeGen{text: "```json\n{\"factual\":0.9,\"consistent\":0.8,\"complete\":1.0,\"grounded\":0.7,\"issues\":[],\"reasoning\":\"solid\"}\n```"}
	s := New(gen, "scorer-model", utils.NewTestLogger())

	score := s.Score(context.Background(), Input{Output: "answer", Request: "question"})
	assert.False(t, score.Heuristic)
	// 0.4*0.9 + 0.3*0.8 + 0.2*1.0 + 0.1*0.7 = 0.87
	assert.InDelta(t, 0.87, score.Overall, 1e-9)
	assert.Equal(t, RecommendAccept, score.Recommendation)
	assert.Equal(t, "solid", score.Reasoning)
}

func TestModelBasedClampsDimensions(t *testing.T) {
	gen := &fakeGen{text: `{"factual":1.7,"consistent":-0.2,"complete":0.5,"grounded":0.5}`}
	s := New(gen, "scorer-model", utils.NewTestLogger())

	score := s.Score(context.Background(), Input{Output: "x"})
	assert.Equal(t, 1.0, score.Factual)
	assert.Equal(t, 0.0, score.Consistent)
}

func TestModelFailureFallsBackToHeuristic(t *testing.T) {
	s := New(&fakeGen{err: errors.New("provider down")}, "scorer-model", utils.NewTestLogger())
	score := s.Score(context.Background(), Input{Output: "some reasonable answer with enough words to pass the short band easily and more"})
	assert.True(t, score.Heuristic)
}

func TestUnparsableModelOutputFallsBack(t *testing.T) {
	s := New(&fakeGen{text: "I think it deserves a 7/10"}, "scorer-model", utils.NewTestLogger())
	score := s.Score(context.Background(), Input{Output: "answer"})
	assert.True(t, score.Heuristic)
}

func TestValidateMultiOutput(t *testing.T) {
	s := heuristicScorer()
	outputs := []string{
		"No.", // short, low complete
		"A fuller answer with plenty of words that lands inside the generous middle band for completeness scoring purposes.",
	}
	winner, best := s.ValidateMultiOutput(context.Background(), outputs, "question")
	require.NotNil(t, best)
	assert.Equal(t, outputs[1], winner)

	winner, best = s.ValidateMultiOutput(context.Background(), nil, "question")
	assert.Empty(t, winner)
	assert.Nil(t, best)
}
