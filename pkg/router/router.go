package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/invopop/jsonschema"

	"lalo/core/internal/llm"
	"lalo/core/internal/utils"
	"lalo/core/pkg/planner"
)

// Path is the execution strategy a request is routed to.
type Path string

const (
	PathSimple      Path = "simple"
	PathComplex     Path = "complex"
	PathSpecialized Path = "specialized"
)

// Decision is the routing verdict for one request.
type Decision struct {
	Path             Path           `json:"path"`
	Complexity       float64        `json:"complexity"`
	Confidence       float64        `json:"confidence"`
	Reasoning        string         `json:"reasoning"`
	RecommendedModel string         `json:"recommended_model,omitempty"`
	RequiresTools    bool           `json:"requires_tools"`
	RequiresWorkflow bool           `json:"requires_workflow"`
	ActionPlan       []planner.Step `json:"action_plan,omitempty"`
	RequiredModels   []string       `json:"required_models,omitempty"`
	Heuristic        bool           `json:"heuristic,omitempty"`
}

// Generator is the slice of the inference gateway the router needs.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (*llm.Completion, error)
}

// Router classifies incoming requests. A dedicated lightweight model does the
// classification; deterministic short-circuits run first and keyword
// heuristics cover model failure. Route never returns an error.
type Router struct {
	gen    Generator
	model  string
	logger utils.ExtendedLogger
}

func New(gen Generator, model string, logger utils.ExtendedLogger) *Router {
	return &Router{gen: gen, model: model, logger: logger}
}

type routePayload struct {
	Path             string  `json:"path" jsonschema:"enum=simple,enum=complex,enum=specialized"`
	Complexity       float64 `json:"complexity" jsonschema:"minimum=0,maximum=1"`
	Confidence       float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Reasoning        string  `json:"reasoning"`
	RecommendedModel string  `json:"recommended_model"`
	RequiresTools    bool    `json:"requires_tools"`
	RequiresWorkflow bool    `json:"requires_workflow"`
}

var routeSchemaJSON = func() string {
	r := jsonschema.Reflector{DoNotReference: true}
	raw, err := json.Marshal(r.Reflect(&routePayload{}))
	if err != nil {
		return "{}"
	}
	return string(raw)
}()

// Route classifies a request into an execution path.
func (r *Router) Route(ctx context.Context, request string) *Decision {
	if d := arithmeticShortCircuit(request); d != nil {
		r.logger.Debugf("Arithmetic short-circuit for request (%d chars)", len(request))
		d.RequiresTools = detectToolNeed(request)
		return d
	}

	if r.gen != nil && r.model != "" {
		if d, err := r.routeWithModel(ctx, request); err == nil {
			d.RequiresTools = d.RequiresTools || detectToolNeed(request)
			return d
		} else {
			r.logger.Warnf("⚠️ Model routing failed, using heuristics: %v", err)
		}
	}

	d := r.heuristic(request)
	d.RequiresTools = detectToolNeed(request)
	return d
}

func (r *Router) routeWithModel(ctx context.Context, request string) (*Decision, error) {
	prompt := fmt.Sprintf(`Classify this request for routing:
- complexity in [0,1]: how much multi-step reasoning and coordination it needs
- confidence in [0,1]: your certainty in the classification
- path: "simple" for direct single-model answers, "complex" for multi-step plans, "specialized" for requests needing one specific tool or model
- requires_tools / requires_workflow: whether external tools or a reviewed workflow are needed

Request:
%s

Respond with JSON only, matching this schema:
%s`, request, routeSchemaJSON)

	comp, err := r.gen.Generate(ctx, llm.Request{
		Model:       r.model,
		System:      "You are a request classifier. Respond with JSON only.",
		Prompt:      prompt,
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}

	var payload routePayload
	if err := json.Unmarshal([]byte(utils.ExtractJSON(comp.Text)), &payload); err != nil {
		return nil, fmt.Errorf("unparsable routing output: %w", err)
	}

	d := &Decision{
		Path:             Path(payload.Path),
		Complexity:       clamp01(payload.Complexity),
		Confidence:       clamp01(payload.Confidence),
		Reasoning:        payload.Reasoning,
		RecommendedModel: payload.RecommendedModel,
		RequiresTools:    payload.RequiresTools,
		RequiresWorkflow: payload.RequiresWorkflow,
	}
	normalize(d)
	return d, nil
}

// normalize enforces the path/complexity invariants regardless of what the
// model claimed.
func normalize(d *Decision) {
	switch d.Path {
	case PathSimple, PathComplex, PathSpecialized:
	default:
		d.Path = PathSimple
	}
	if d.Complexity > 0.7 {
		d.Path = PathComplex
	}
	if d.Complexity < 0.3 && d.Confidence > 0.8 {
		d.Path = PathSimple
	}
}

// arithmeticShortCircuit catches trivial math so it never pays model latency.
// It requires a digit next to an operator to avoid firing on hyphenated prose.
func arithmeticShortCircuit(request string) *Decision {
	if len(request) >= 80 {
		return nil
	}
	hasDigit := strings.ContainsFunc(request, unicode.IsDigit)
	hasOperator := strings.ContainsAny(request, "+-*/")
	if !hasDigit || !hasOperator {
		return nil
	}
	return &Decision{
		Path:       PathSimple,
		Complexity: 0.1,
		Confidence: 0.95,
		Reasoning:  "arithmetic expression",
	}
}

var (
	simpleKeywords  = []string{"what is", "define", "who is", "when was", "where is"}
	mediumKeywords  = []string{"how to", "compare", "explain", "summarize", "translate"}
	complexKeywords = []string{"design", "analyze", "architect", "optimize", "implement", "refactor"}

	toolKeywords = []string{"search", "find information", "calculate", "today", "latest", "current", "look up"}
)

func (r *Router) heuristic(request string) *Decision {
	lower := strings.ToLower(request)

	base := 0.4 // no keyword match
	switch {
	case containsAny(lower, complexKeywords):
		base = 0.8
	case containsAny(lower, mediumKeywords):
		base = 0.5
	case containsAny(lower, simpleKeywords):
		base = 0.2
	}

	wc := len(strings.Fields(request))
	lengthFactor := min(float64(wc)/100, 0.3)
	questionFactor := min(float64(strings.Count(request, "?"))*0.1, 0.2)

	complexity := clamp01(base + lengthFactor + questionFactor)

	d := &Decision{
		Complexity: complexity,
		Confidence: 0.5,
		Reasoning:  "keyword heuristic",
		Heuristic:  true,
	}
	d.Path = PathSimple
	if complexity > 0.7 {
		d.Path = PathComplex
	}
	return d
}

func detectToolNeed(request string) bool {
	return containsAny(strings.ToLower(request), toolKeywords)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
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
