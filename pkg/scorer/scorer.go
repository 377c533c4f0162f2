package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"lalo/core/internal/llm"
	"lalo/core/internal/utils"
)

// Recommendation is the action the caller should take for a scored output.
type Recommendation string

const (
	RecommendAccept      Recommendation = "accept"
	RecommendRetry       Recommendation = "retry"
	RecommendEscalate    Recommendation = "escalate"
	RecommendHumanReview Recommendation = "human_review"
)

// Dimension weights for the overall score.
const (
	weightFactual    = 0.4
	weightConsistent = 0.3
	weightComplete   = 0.2
	weightGrounded   = 0.1

	acceptThreshold   = 0.8
	retryThreshold    = 0.6
	escalateThreshold = 0.4
)

// Score is the full confidence breakdown for one output.
type Score struct {
	Overall        float64        `json:"overall"`
	Factual        float64        `json:"factual"`
	Consistent     float64        `json:"consistent"`
	Complete       float64        `json:"complete"`
	Grounded       float64        `json:"grounded"`
	Issues         []string       `json:"issues,omitempty"`
	Recommendation Recommendation `json:"recommendation"`
	Reasoning      string         `json:"reasoning,omitempty"`
	Heuristic      bool           `json:"heuristic"`
}

// Input carries everything the scorer may consider.
type Input struct {
	Output    string
	Request   string
	Sources   []string
	Context   string
	ModelUsed string
}

// Generator is the slice of the inference gateway the scorer needs.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (*llm.Completion, error)
}

// Scorer evaluates outputs. With a generator it prompts a dedicated model
// against the fixed rubric; without one (or on any model failure) it falls
// back to deterministic heuristics. Score never returns an error.
type Scorer struct {
	gen    Generator
	model  string
	logger utils.ExtendedLogger
}

func New(gen Generator, model string, logger utils.ExtendedLogger) *Scorer {
	return &Scorer{gen: gen, model: model, logger: logger}
}

// scorePayload is the strict-JSON document the scoring model must return.
type scorePayload struct {
	Factual    float64  `json:"factual" jsonschema:"minimum=0,maximum=1"`
	Consistent float64  `json:"consistent" jsonschema:"minimum=0,maximum=1"`
	Complete   float64  `json:"complete" jsonschema:"minimum=0,maximum=1"`
	Grounded   float64  `json:"grounded" jsonschema:"minimum=0,maximum=1"`
	Issues     []string `json:"issues"`
	Reasoning  string   `json:"reasoning"`
}

var scoreSchemaJSON = func() string {
	r := jsonschema.Reflector{DoNotReference: true}
	raw, err := json.Marshal(r.Reflect(&scorePayload{}))
	if err != nil {
		return "{}"
	}
	return string(raw)
}()

// Score evaluates one output against its originating request.
func (s *Scorer) Score(ctx context.Context, in Input) *Score {
	if s.gen == nil || s.model == "" {
		return s.heuristic(in)
	}

	payload, err := s.scoreWithModel(ctx, in)
	if err != nil {
		s.logger.Warnf("⚠️ Model scoring failed, using heuristics: %v", err)
		return s.heuristic(in)
	}

	score := &Score{
		Factual:    clamp01(payload.Factual),
		Consistent: clamp01(payload.Consistent),
		Complete:   clamp01(payload.Complete),
		Grounded:   clamp01(payload.Grounded),
		Issues:     payload.Issues,
		Reasoning:  payload.Reasoning,
	}
	score.Overall = overall(score)
	score.Recommendation = recommendationFor(score.Overall)
	return score
}

func (s *Scorer) scoreWithModel(ctx context.Context, in Input) (*scorePayload, error) {
	var sources string
	if len(in.Sources) > 0 {
		sources = "Sources:\n" + strings.Join(in.Sources, "\n") + "\n"
	}
	prompt := fmt.Sprintf(`Evaluate the response below against the original request on four dimensions, each in [0,1]:
- factual: factual accuracy of the claims made
- consistent: internal consistency, no contradictions
- complete: the request is fully addressed
- grounded: claims are grounded rather than hedged or speculative

Original request:
%s

%sResponse to evaluate:
%s

Respond with JSON only, matching this schema:
%s`, in.Request, sources, in.Output, scoreSchemaJSON)

	comp, err := s.gen.Generate(ctx, llm.Request{
		Model:       s.model,
		System:      "You are a strict response evaluator. Respond with JSON only.",
		Prompt:      prompt,
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}

	var payload scorePayload
	if err := json.Unmarshal([]byte(utils.ExtractJSON(comp.Text)), &payload); err != nil {
		return nil, fmt.Errorf("unparsable scorer output: %w", err)
	}
	return &payload, nil
}

// hedgePhrases lower the grounded dimension in heuristic mode.
var hedgePhrases = []string{"as an ai", "i don't know", "i cannot", "i'm not sure"}

// heuristic is fully deterministic: the same input always yields the same
// score, bitwise.
func (s *Scorer) heuristic(in Input) *Score {
	words := strings.Fields(in.Output)
	wc := len(words)

	// Length bands drive completeness.
	var complete float64
	switch {
	case wc < 5:
		complete = 0.2
	case wc < 20:
		complete = 0.5
	case wc <= 400:
		complete = 0.9
	default:
		complete = 0.7
	}

	grounded := 0.8
	lower := strings.ToLower(in.Output)
	for _, phrase := range hedgePhrases {
		if strings.Contains(lower, phrase) {
			grounded = 0.4
			break
		}
	}

	// Long output with no structure at all reads as rambling.
	factual := 0.75
	if wc > 300 && !strings.ContainsAny(in.Output, "\n") {
		factual = 0.5
	}

	score := &Score{
		Factual:    factual,
		Consistent: 0.7, // neutral default; heuristics cannot judge this
		Complete:   complete,
		Grounded:   grounded,
		Heuristic:  true,
	}
	score.Overall = overall(score)
	score.Recommendation = recommendationFor(score.Overall)
	return score
}

// ValidateMultiOutput scores each candidate and returns the highest-overall
// one together with its score. Ties keep the earliest candidate.
func (s *Scorer) ValidateMultiOutput(ctx context.Context, outputs []string, request string) (string, *Score) {
	if len(outputs) == 0 {
		return "", nil
	}
	winner := outputs[0]
	best := s.Score(ctx, Input{Output: outputs[0], Request: request})
	for i := 1; i < len(outputs); i++ {
		candidate := s.Score(ctx, Input{Output: outputs[i], Request: request})
		if candidate.Overall > best.Overall {
			winner, best = outputs[i], candidate
		}
	}
	return winner, best
}

func overall(s *Score) float64 {
	return weightFactual*s.Factual + weightConsistent*s.Consistent +
		weightComplete*s.Complete + weightGrounded*s.Grounded
}

func recommendationFor(overall float64) Recommendation {
	switch {
	case overall >= acceptThreshold:
		return RecommendAccept
	case overall >= retryThreshold:
		return RecommendRetry
	case overall >= escalateThreshold:
		return RecommendEscalate
	default:
		return RecommendHumanReview
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
