package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"lalo/core/internal/llm"
	"lalo/core/internal/utils"
	"lalo/core/pkg/core"
	"lalo/core/pkg/database"
	"lalo/core/pkg/events"
	"lalo/core/pkg/planner"
	"lalo/core/pkg/router"
	"lalo/core/pkg/scorer"
	"lalo/core/pkg/tools"
)

const stepContextTruncation = 200

// Config bounds the orchestrator's retry and concurrency behavior.
type Config struct {
	MaxFallbackAttempts int
	StepParallelism     int64
}

func (c *Config) applyDefaults() {
	if c.MaxFallbackAttempts <= 0 {
		c.MaxFallbackAttempts = 3
	}
	if c.StepParallelism <= 0 {
		c.StepParallelism = 4
	}
}

// Orchestrator executes routed jobs: direct model calls with fallback for
// simple requests, planned multi-step execution for complex ones.
type Orchestrator struct {
	gateway  Gateway
	registry *tools.Registry
	planner  *planner.Planner
	scorer   *scorer.Scorer
	emitter  *events.Emitter
	logger   utils.ExtendedLogger
	cfg      Config
}

func New(gateway Gateway, registry *tools.Registry, p *planner.Planner, s *scorer.Scorer, emitter *events.Emitter, logger utils.ExtendedLogger, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		gateway:  gateway,
		registry: registry,
		planner:  p,
		scorer:   s,
		emitter:  emitter,
		logger:   logger,
		cfg:      cfg,
	}
}

// Execute dispatches a job to the strategy chosen by the router.
func (o *Orchestrator) Execute(ctx context.Context, job Job) (*Result, error) {
	start := time.Now()
	o.emitter.Emit(job.TraceID, job.RequestID, job.Principal.UserID, &events.OrchestratorData{
		Path:      string(job.Decision.Path),
		EventKind: events.OrchestratorStart,
	})

	var (
		result *Result
		err    error
	)
	switch job.Decision.Path {
	case router.PathComplex:
		result, err = o.executeComplex(ctx, job)
	case router.PathSpecialized:
		result, err = o.executeSpecialized(ctx, job)
	default:
		result, err = o.executeSimple(ctx, job)
	}

	data := &events.OrchestratorData{
		Path:       string(job.Decision.Path),
		DurationMS: time.Since(start).Milliseconds(),
		EventKind:  events.OrchestratorEnd,
	}
	if err != nil {
		data.EventKind = events.OrchestratorError
		data.Error = err.Error()
	}
	o.emitter.Emit(job.TraceID, job.RequestID, job.Principal.UserID, data)
	return result, err
}

// executeSimple walks a fallback chain of models and returns the best-scoring
// output observed.
func (o *Orchestrator) executeSimple(ctx context.Context, job Job) (*Result, error) {
	return o.runChain(ctx, job, o.fallbackChain(job))
}

func (o *Orchestrator) runChain(ctx context.Context, job Job, chain []string) (*Result, error) {
	if len(chain) == 0 {
		return nil, core.E(core.KindDependencyUnavailable, "no models available for user %s", job.Principal.UserID)
	}

	result := &Result{Path: job.Decision.Path}
	var best *scorer.Score
	var lastErr error

	for attempt, model := range chain {
		comp, err := o.gateway.Generate(ctx, llm.Request{
			Model:  model,
			Prompt: job.Request,
			UserID: job.Principal.UserID,
		})
		if err != nil {
			lastErr = err
			result.FallbackAttempts = append(result.FallbackAttempts, database.FallbackAttempt{
				Model:     model,
				Reason:    err.Error(),
				Timestamp: time.Now(),
			})
			o.emitFallback(job, attempt+1, model, 0, err.Error())
			if ctx.Err() != nil {
				break
			}
			continue
		}

		score := o.scorer.Score(ctx, scorer.Input{
			Output:    comp.Text,
			Request:   job.Request,
			ModelUsed: model,
		})
		result.FallbackAttempts = append(result.FallbackAttempts, database.FallbackAttempt{
			Model:         model,
			Confidence:    score.Overall,
			Reason:        string(score.Recommendation),
			OutputExcerpt: utils.TruncateString(comp.Text, stepContextTruncation),
			Timestamp:     time.Now(),
		})
		o.emitFallback(job, attempt+1, model, score.Overall, string(score.Recommendation))

		if best == nil || score.Overall > best.Overall {
			best = score
			result.Output = comp.Text
			result.Model = model
			result.TokensUsed = comp.Usage.InputTokens + comp.Usage.OutputTokens
			result.Cost = llm.EstimateCost(model, comp.Usage)
		}
		if score.Recommendation == scorer.RecommendAccept {
			break
		}
	}

	if best == nil {
		return nil, core.Wrap(core.KindOf(lastErr), lastErr, "all %d fallback attempts failed", len(result.FallbackAttempts))
	}
	result.Score = best
	o.emitScore(job, best)
	return result, nil
}

// executeSpecialized delegates: multi-model or pre-planned jobs go to the
// complex path, everything else is a simple call pinned to the recommended
// model.
func (o *Orchestrator) executeSpecialized(ctx context.Context, job Job) (*Result, error) {
	if len(job.Decision.ActionPlan) > 0 || len(job.Decision.RequiredModels) > 1 {
		return o.executeComplex(ctx, job)
	}
	chain := o.fallbackChain(job)
	if m := job.Decision.RecommendedModel; m != "" {
		chain = []string{m}
	}
	result, err := o.runChain(ctx, job, chain)
	if result != nil {
		result.Path = router.PathSpecialized
	}
	return result, err
}

// executeComplex acquires a plan and runs its steps in dependency order.
func (o *Orchestrator) executeComplex(ctx context.Context, job Job) (*Result, error) {
	plan := o.acquirePlan(ctx, job)
	o.emitter.Emit(job.TraceID, job.RequestID, job.Principal.UserID, &events.PlanIterationData{
		Iteration:  plan.Iterations,
		StepCount:  len(plan.Steps),
		Confidence: plan.Confidence,
		EventKind:  events.PlanAccepted,
	})

	results := o.runPlan(ctx, job, plan)

	result := &Result{
		Path:  job.Decision.Path,
		Plan:  plan,
		Steps: make([]StepResult, 0, len(plan.Steps)),
	}
	var finalOutput, finalModel string
	for _, step := range plan.Steps {
		sr := results[step.ID]
		if sr == nil {
			continue
		}
		result.Steps = append(result.Steps, *sr)
		if sr.Completed() {
			finalOutput = sr.Output
			finalModel = o.stepModel(job, sr.Step)
		}
	}
	if finalOutput == "" {
		return result, core.E(core.KindExecutionFailed, "no plan step completed")
	}

	result.Output = finalOutput
	result.Model = finalModel
	result.Score = o.scorer.Score(ctx, scorer.Input{
		Output:  finalOutput,
		Request: job.Request,
	})
	o.emitScore(job, result.Score)
	return result, nil
}

func (o *Orchestrator) acquirePlan(ctx context.Context, job Job) *planner.Plan {
	if len(job.Decision.ActionPlan) > 0 {
		return &planner.Plan{
			Steps:        job.Decision.ActionPlan,
			Confidence:   job.Decision.Confidence,
			SourceIntent: job.Request,
		}
	}
	return o.planner.CreatePlan(ctx, job.Request)
}

// runPlan executes steps in topologically sorted waves. Within a wave,
// parallelizable steps run concurrently under the semaphore; the rest run in
// order.
func (o *Orchestrator) runPlan(ctx context.Context, job Job, plan *planner.Plan) map[int]*StepResult {
	results := make(map[int]*StepResult, len(plan.Steps))
	byID := make(map[int]planner.Step, len(plan.Steps))
	for _, s := range plan.Steps {
		byID[s.ID] = s
	}

	sem := semaphore.NewWeighted(o.cfg.StepParallelism)
	var mu sync.Mutex

	for _, wave := range executionWaves(plan.Steps) {
		var parallel []planner.Step
		var sequential []planner.Step
		for _, step := range wave {
			if step.Parallelizable {
				parallel = append(parallel, step)
			} else {
				sequential = append(sequential, step)
			}
		}

		// Skip decisions depend only on earlier waves, so settle them all
		// before any goroutine starts writing into results.
		var runnable []planner.Step
		for _, step := range parallel {
			if skipped := o.skipIfDepFailed(job, step, results, byID); skipped != nil {
				results[step.ID] = skipped
				continue
			}
			runnable = append(runnable, step)
		}

		var wg sync.WaitGroup
		for _, step := range runnable {
			wg.Add(1)
			go func(step planner.Step) {
				defer wg.Done()
				if err := sem.Acquire(ctx, 1); err != nil {
					mu.Lock()
					results[step.ID] = &StepResult{Step: step, Error: err.Error()}
					mu.Unlock()
					return
				}
				defer sem.Release(1)

				mu.Lock()
				prompt := o.stepContext(job.Request, step, results, byID)
				mu.Unlock()

				sr := o.RunStep(ctx, job, step, prompt)
				mu.Lock()
				results[step.ID] = sr
				mu.Unlock()
			}(step)
		}
		wg.Wait()

		for _, step := range sequential {
			if skipped := o.skipIfDepFailed(job, step, results, byID); skipped != nil {
				results[step.ID] = skipped
				continue
			}
			prompt := o.stepContext(job.Request, step, results, byID)
			results[step.ID] = o.RunStep(ctx, job, step, prompt)
		}
	}
	return results
}

// skipIfDepFailed returns a skipped StepResult when any dependency failed or
// was itself skipped. Unknown dependencies are treated as satisfied.
func (o *Orchestrator) skipIfDepFailed(job Job, step planner.Step, results map[int]*StepResult, byID map[int]planner.Step) *StepResult {
	for _, dep := range step.Dependencies {
		if _, known := byID[dep]; !known {
			continue
		}
		if sr, done := results[dep]; done && !sr.Completed() {
			o.emitStep(job, &events.StepData{
				StepID: step.ID, Action: step.Action, Tool: step.Tool,
				Error: fmt.Sprintf("dependency step %d did not complete", dep), EventKind: events.StepSkipped,
			})
			return &StepResult{
				Step:    step,
				Skipped: true,
				Error:   fmt.Sprintf("skipped: dependency step %d did not complete", dep),
			}
		}
	}
	return nil
}

// RunStep executes a single plan step: a tool call when the step names a
// tool, a model call otherwise. It is exported for the workflow executor,
// which wraps step execution with backup/verify semantics.
func (o *Orchestrator) RunStep(ctx context.Context, job Job, step planner.Step, prompt string) *StepResult {
	start := time.Now()
	o.emitStep(job, &events.StepData{
		StepID: step.ID, Action: step.Action, Tool: step.Tool, EventKind: events.StepStarted,
	})

	sr := &StepResult{Step: step}
	toolName := o.resolveTool(step)
	if toolName != "" {
		o.emitter.Emit(job.TraceID, job.RequestID, job.Principal.UserID, &events.ToolCallData{
			Tool: toolName, EventKind: events.ToolCallStart,
		})
		toolStart := time.Now()
		res := o.registry.Execute(ctx, toolName, job.Principal, o.stepArgs(step, prompt))
		sr.ToolUsed = toolName
		call := &events.ToolCallData{
			Tool: toolName, Success: res.Success,
			DurationMS: time.Since(toolStart).Milliseconds(),
			EventKind:  events.ToolCallEnd,
		}
		if !res.Success {
			sr.Error = res.Error
			call.EventKind = events.ToolCallError
			call.Error = res.Error
		} else {
			sr.Output = renderToolOutput(res.Output)
		}
		o.emitter.Emit(job.TraceID, job.RequestID, job.Principal.UserID, call)
	} else {
		comp, err := o.gateway.Generate(ctx, llm.Request{
			Model:  o.stepModel(job, step),
			Prompt: prompt,
			UserID: job.Principal.UserID,
		})
		if err != nil {
			sr.Error = err.Error()
		} else {
			sr.Output = comp.Text
		}
	}

	sr.DurationMS = time.Since(start).Milliseconds()
	data := &events.StepData{
		StepID: step.ID, Action: step.Action, Tool: sr.ToolUsed,
		DurationMS: sr.DurationMS, EventKind: events.StepCompleted,
	}
	if sr.Error != "" {
		data.EventKind = events.StepFailed
		data.Error = sr.Error
	}
	o.emitStep(job, data)
	return sr
}

// resolveTool maps a step's tool field to a registered tool name. "none" and
// "" mean pure inference; "auto" scans the action text for a registered tool
// mention.
func (o *Orchestrator) resolveTool(step planner.Step) string {
	switch step.Tool {
	case "", "none":
		return ""
	case "auto":
		action := strings.ToLower(step.Action)
		for _, def := range o.registry.List() {
			if strings.Contains(action, strings.ReplaceAll(def.Name, "_", " ")) ||
				strings.Contains(action, def.Name) {
				return def.Name
			}
		}
		return ""
	default:
		if _, ok := o.registry.Get(step.Tool); ok {
			return step.Tool
		}
		o.logger.Warnf("⚠️ Step %d names unknown tool %q, falling back to inference", step.ID, step.Tool)
		return ""
	}
}

func (o *Orchestrator) stepArgs(step planner.Step, prompt string) map[string]any {
	if len(step.Args) > 0 {
		return step.Args
	}
	// Without explicit args, pass the step context under the conventional key.
	return map[string]any{"query": prompt}
}

func (o *Orchestrator) stepModel(job Job, step planner.Step) string {
	if step.Model != "" {
		return step.Model
	}
	if job.Decision.RecommendedModel != "" {
		return job.Decision.RecommendedModel
	}
	if models := o.gateway.AvailableModels(job.Principal.UserID); len(models) > 0 {
		return models[0].Name
	}
	return ""
}

// stepContext builds the deterministic prompt for a step from the original
// request and the outputs of its completed predecessors.
func (o *Orchestrator) stepContext(request string, step planner.Step, results map[int]*StepResult, byID map[int]planner.Step) string {
	outputs := make(map[int]string)
	for _, dep := range step.Dependencies {
		if sr, done := results[dep]; done && sr.Completed() {
			outputs[dep] = sr.Output
		}
	}
	return StepPrompt(request, step, outputs)
}

// StepPrompt renders the prompt for one step: the original request, each
// completed predecessor's output truncated to 200 characters, then the task.
// The workflow executor shares this format.
func StepPrompt(request string, step planner.Step, priorOutputs map[int]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original request: %s\n", request)

	deps := append([]int(nil), step.Dependencies...)
	sort.Ints(deps)
	var prior []string
	for _, dep := range deps {
		out, ok := priorOutputs[dep]
		if !ok {
			continue
		}
		prior = append(prior, fmt.Sprintf("Step %d: %s", dep, utils.TruncateString(out, stepContextTruncation)))
	}
	if len(prior) > 0 {
		b.WriteString("Previous steps:\n")
		b.WriteString(strings.Join(prior, "\n"))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nTask: %s", step.Action)
	if step.ExpectedOutcome != "" {
		fmt.Fprintf(&b, "\nExpected outcome: %s", step.ExpectedOutcome)
	}
	return b.String()
}

// StepMutates reports whether a step invokes a tool whose definition demands
// approval, which is the marker for production-mutating work.
func (o *Orchestrator) StepMutates(step planner.Step) bool {
	name := o.resolveTool(step)
	if name == "" {
		return false
	}
	def, ok := o.registry.Get(name)
	return ok && def.RequiresApproval
}

// fallbackChain is the ordered model list for the simple path: the
// recommended model first, then the caller's remaining available models.
func (o *Orchestrator) fallbackChain(job Job) []string {
	var chain []string
	seen := make(map[string]bool)
	if m := job.Decision.RecommendedModel; m != "" {
		chain = append(chain, m)
		seen[m] = true
	}
	for _, info := range o.gateway.AvailableModels(job.Principal.UserID) {
		if seen[info.Name] {
			continue
		}
		chain = append(chain, info.Name)
		seen[info.Name] = true
	}
	if len(chain) > o.cfg.MaxFallbackAttempts {
		chain = chain[:o.cfg.MaxFallbackAttempts]
	}
	return chain
}

// executionWaves groups steps into dependency levels: every step in wave n
// depends only on steps in earlier waves. Dependencies are forward-only by
// plan construction, so the computation is a single pass in id order.
func executionWaves(steps []planner.Step) [][]planner.Step {
	level := make(map[int]int, len(steps))
	var waves [][]planner.Step

	ordered := append([]planner.Step(nil), steps...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	for _, step := range ordered {
		l := 0
		for _, dep := range step.Dependencies {
			if dl, ok := level[dep]; ok && dl+1 > l {
				l = dl + 1
			}
		}
		level[step.ID] = l
		for len(waves) <= l {
			waves = append(waves, nil)
		}
		waves[l] = append(waves[l], step)
	}
	return waves
}

func renderToolOutput(output any) string {
	switch v := output.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

func (o *Orchestrator) emitFallback(job Job, attempt int, model string, confidence float64, reason string) {
	o.emitter.Emit(job.TraceID, job.RequestID, job.Principal.UserID, &events.FallbackAttemptedData{
		Attempt:    attempt,
		Model:      model,
		Confidence: confidence,
		Reason:     reason,
	})
}

func (o *Orchestrator) emitScore(job Job, score *scorer.Score) {
	o.emitter.Emit(job.TraceID, job.RequestID, job.Principal.UserID, &events.ConfidenceScoredData{
		Overall:        score.Overall,
		Factual:        score.Factual,
		Consistent:     score.Consistent,
		Complete:       score.Complete,
		Grounded:       score.Grounded,
		Recommendation: string(score.Recommendation),
	})
}

func (o *Orchestrator) emitStep(job Job, data *events.StepData) {
	o.emitter.Emit(job.TraceID, job.RequestID, job.Principal.UserID, data)
}
