package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"lalo/core/internal/llm"
	"lalo/core/internal/utils"
	"lalo/core/pkg/events"
	"lalo/core/pkg/vectorstore"
)

const (
	defaultMaxIterations = 3
	acceptableConfidence = 0.8
)

// Generator is the slice of the inference gateway the planner needs.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (*llm.Completion, error)
}

// Planner produces self-critiqued plans. Each iteration drafts (or refines) a
// plan, critiques it with a separate prompt, and stops when the critique is
// satisfied or stops improving.
type Planner struct {
	gen           Generator
	model         string
	maxIterations int
	memory        vectorstore.Store // optional: prior-plan retrieval
	emitter       *events.Emitter
	logger        utils.ExtendedLogger
}

type Option func(*Planner)

// WithMemory enables retrieval of prior plans for few-shot grounding.
func WithMemory(store vectorstore.Store) Option {
	return func(p *Planner) { p.memory = store }
}

// WithEmitter publishes per-iteration planning events.
func WithEmitter(emitter *events.Emitter) Option {
	return func(p *Planner) { p.emitter = emitter }
}

// WithMaxIterations overrides the critique-loop bound.
func WithMaxIterations(n int) Option {
	return func(p *Planner) {
		if n >= 1 {
			p.maxIterations = n
		}
	}
}

func New(gen Generator, model string, logger utils.ExtendedLogger, opts ...Option) *Planner {
	p := &Planner{
		gen:           gen,
		model:         model,
		maxIterations: defaultMaxIterations,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// planPayload is the strict-JSON document the planning model must return.
type planPayload struct {
	Steps []struct {
		ID              int    `json:"id"`
		Action          string `json:"action"`
		Tool            string `json:"tool"`
		ExpectedOutcome string `json:"expected_outcome"`
		Dependencies    []int  `json:"dependencies"`
		Parallelizable  bool   `json:"parallelizable"`
	} `json:"steps"`
}

type critiquePayload struct {
	Confidence  float64  `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Critique    string   `json:"critique"`
	Suggestions []string `json:"suggestions"`
}

var (
	planSchemaJSON     = schemaFor(&planPayload{})
	critiqueSchemaJSON = schemaFor(&critiquePayload{})
)

func schemaFor(v any) string {
	r := jsonschema.Reflector{DoNotReference: true}
	raw, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// CreatePlan runs the critique loop and returns the best plan observed. It
// never returns an error: unusable model output degrades to a singleton plan
// with confidence 0.
func (p *Planner) CreatePlan(ctx context.Context, intent string) *Plan {
	examples := p.retrieveExamples(ctx, intent)

	steps, err := p.draft(ctx, intent, examples, nil, "")
	if err != nil {
		p.logger.Warnf("⚠️ Plan drafting failed, returning degraded plan: %v", err)
		return degradedPlan(intent)
	}

	best := &Plan{
		Steps:             steps,
		SourceIntent:      intent,
		RetrievedExamples: examples,
	}
	current := steps

	for iteration := 1; iteration <= p.maxIterations; iteration++ {
		best.Iterations = iteration
		p.emitter.Emit("", "", "", &events.PlanIterationData{
			Iteration: iteration, StepCount: len(current), EventKind: events.PlanIterationStart,
		})

		critique, err := p.critique(ctx, intent, current)
		if err != nil {
			p.logger.Warnf("⚠️ Critique failed at iteration %d, keeping current plan: %v", iteration, err)
			break
		}
		best.Critiques = append(best.Critiques, critique.Critique)
		p.emitter.Emit("", "", "", &events.PlanIterationData{
			Iteration: iteration, StepCount: len(current), Confidence: critique.Confidence,
			EventKind: events.PlanIterationEnd,
		})

		if iteration > 1 && critique.Confidence <= best.Confidence {
			// The refinement did not improve on the last accepted plan; keep
			// the accepted steps and confidence.
			p.logger.Debugf("Plan confidence stalled at %.2f (iteration %d)", critique.Confidence, iteration)
			break
		}
		best.Steps = current
		best.Confidence = critique.Confidence

		if critique.Confidence >= acceptableConfidence {
			p.logger.Infof("📋 Plan accepted with confidence %.2f after %d iteration(s)", critique.Confidence, iteration)
			break
		}
		if iteration == p.maxIterations {
			break
		}

		refined, err := p.draft(ctx, intent, examples, current, critique.Critique)
		if err != nil {
			p.logger.Warnf("⚠️ Refinement failed at iteration %d, keeping current plan: %v", iteration, err)
			break
		}
		current = refined
	}

	return best
}

func (p *Planner) retrieveExamples(ctx context.Context, intent string) []string {
	if p.memory == nil {
		return nil
	}
	result, err := p.memory.Query(ctx, intent, 3, map[string]string{"kind": "plan"})
	if err != nil {
		p.logger.Debugf("Plan retrieval failed: %v", err)
		return nil
	}
	return result.Documents
}

func (p *Planner) draft(ctx context.Context, intent string, examples []string, prior []Step, critique string) ([]Step, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a step-by-step execution plan for this intent:\n%s\n\n", intent)
	if len(examples) > 0 {
		b.WriteString("Prior plans for similar intents:\n")
		for _, ex := range examples {
			b.WriteString(ex)
			b.WriteString("\n---\n")
		}
		b.WriteString("\n")
	}
	if prior != nil {
		priorJSON, _ := json.Marshal(prior)
		fmt.Fprintf(&b, "Previous plan:\n%s\n\nCritique to address:\n%s\n\nProduce an improved plan in the same schema.\n\n", priorJSON, critique)
	}
	fmt.Fprintf(&b, `Rules: steps are numbered from 1; "tool" is a registered tool name, "auto", or "none"; "dependencies" lists step ids that must complete first. Respond with JSON only, matching this schema:
%s`, planSchemaJSON)

	comp, err := p.gen.Generate(ctx, llm.Request{
		Model:       p.model,
		System:      "You are a precise task planner. Respond with JSON only.",
		Prompt:      b.String(),
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}

	var payload planPayload
	if err := json.Unmarshal([]byte(utils.ExtractJSON(comp.Text)), &payload); err != nil {
		return nil, fmt.Errorf("unparsable plan: %w", err)
	}
	if len(payload.Steps) == 0 {
		return nil, fmt.Errorf("plan contains no steps")
	}
	return normalizeSteps(payload), nil
}

func (p *Planner) critique(ctx context.Context, intent string, steps []Step) (*critiquePayload, error) {
	stepsJSON, _ := json.Marshal(steps)
	prompt := fmt.Sprintf(`Critique this execution plan against the intent. Judge coverage, ordering, tool choice, and feasibility. Return confidence in [0,1].

Intent:
%s

Plan:
%s

Respond with JSON only, matching this schema:
%s`, intent, stepsJSON, critiqueSchemaJSON)

	comp, err := p.gen.Generate(ctx, llm.Request{
		Model:       p.model,
		System:      "You are a critical plan reviewer. Respond with JSON only.",
		Prompt:      prompt,
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}

	var payload critiquePayload
	if err := json.Unmarshal([]byte(utils.ExtractJSON(comp.Text)), &payload); err != nil {
		return nil, fmt.Errorf("unparsable critique: %w", err)
	}
	if payload.Confidence < 0 {
		payload.Confidence = 0
	}
	if payload.Confidence > 1 {
		payload.Confidence = 1
	}
	return &payload, nil
}

// normalizeSteps renumbers ids sequentially and guarantees cycle freedom by
// dropping back-edges: a dependency on the step itself or any later step is
// ignored.
func normalizeSteps(payload planPayload) []Step {
	idMap := make(map[int]int, len(payload.Steps))
	for i, s := range payload.Steps {
		idMap[s.ID] = i + 1
	}

	out := make([]Step, 0, len(payload.Steps))
	for i, s := range payload.Steps {
		id := i + 1
		var deps []int
		for _, d := range s.Dependencies {
			mapped, known := idMap[d]
			if !known {
				continue // unknown dependencies are treated as satisfied
			}
			if mapped >= id {
				continue // back-edge or self-edge
			}
			deps = append(deps, mapped)
		}
		tool := s.Tool
		if tool == "" {
			tool = "none"
		}
		out = append(out, Step{
			ID:              id,
			Action:          s.Action,
			Tool:            tool,
			ExpectedOutcome: s.ExpectedOutcome,
			Dependencies:    deps,
			Parallelizable:  s.Parallelizable,
		})
	}
	return out
}

func degradedPlan(intent string) *Plan {
	return &Plan{
		Steps: []Step{{
			ID:              1,
			Action:          intent,
			Tool:            "none",
			ExpectedOutcome: "a direct response to the request",
		}},
		Confidence:   0.0,
		Iterations:   1,
		SourceIntent: intent,
		Degraded:     true,
	}
}
