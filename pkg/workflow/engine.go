package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"

	"lalo/core/internal/llm"
	"lalo/core/internal/utils"
	"lalo/core/pkg/core"
	"lalo/core/pkg/database"
	"lalo/core/pkg/events"
	"lalo/core/pkg/orchestrator"
	"lalo/core/pkg/planner"
	"lalo/core/pkg/router"
	"lalo/core/pkg/vectorstore"
)

const (
	interpretationAutoApprove = 0.75
	planAutoApprove           = 0.85

	stageInterpretation = "interpretation"
	stagePlan           = "plan"
	stageResults        = "results"
)

// Generator is the slice of the inference gateway the engine needs for the
// interpretation stage.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (*llm.Completion, error)
}

// Backups captures and restores filesystem snapshots around mutating steps.
type Backups interface {
	Snapshot() (string, error)
	Restore(id string) error
}

// Config tunes the engine's gates and timeouts.
type Config struct {
	AutoApprove bool
	ExecTimeout time.Duration // wall clock for the Executing state
	Model       string        // interpretation model
}

func (c *Config) applyDefaults() {
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 5 * time.Minute
	}
}

// Engine drives durable human-in-the-loop workflows through the state
// machine. Every transition is persisted before it becomes observable.
type Engine struct {
	store   database.Store
	gen     Generator
	planner *planner.Planner
	orch    *orchestrator.Orchestrator
	backups Backups
	memory  vectorstore.Store // optional: summaries committed on finalize
	emitter *events.Emitter
	logger  utils.ExtendedLogger
	cfg     Config
}

func NewEngine(store database.Store, gen Generator, p *planner.Planner, orch *orchestrator.Orchestrator, backups Backups, memory vectorstore.Store, emitter *events.Emitter, logger utils.ExtendedLogger, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		store:   store,
		gen:     gen,
		planner: p,
		orch:    orch,
		backups: backups,
		memory:  memory,
		emitter: emitter,
		logger:  logger,
		cfg:     cfg,
	}
}

// Start creates a session and advances it as far as its approval gates allow.
func (e *Engine) Start(ctx context.Context, principal core.Principal, request string) (*database.WorkflowSession, error) {
	if request == "" {
		return nil, core.E(core.KindInvalidInput, "workflow request must not be empty")
	}
	session := &database.WorkflowSession{
		ID:              uuid.NewString(),
		UserID:          principal.UserID,
		OriginalRequest: request,
		State:           string(StateInterpreting),
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := e.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("creating workflow session: %w", err)
	}
	e.logger.Infof("🔄 Workflow %s started for user %s", session.ID, principal.UserID)

	if err := e.advance(ctx, session, principal); err != nil {
		return session, err
	}
	return session, nil
}

// Get loads a session.
func (e *Engine) Get(ctx context.Context, sessionID string) (*database.WorkflowSession, error) {
	return e.store.GetSession(ctx, sessionID)
}

// SubmitFeedback applies a human decision to the stage the session is
// waiting on, then advances the session. Rating is optional (0 means
// unrated) and only meaningful on results approval.
func (e *Engine) SubmitFeedback(ctx context.Context, principal core.Principal, sessionID, stage string, approved bool, feedback string, rating float64) (*database.WorkflowSession, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if State(session.State).Terminal() {
		return nil, core.E(core.KindInvalidInput, "session %s is %s and accepts no feedback", sessionID, session.State)
	}

	// Reject mismatched submissions before anything is recorded.
	switch stage {
	case stageInterpretation:
		if State(session.State) != StateInterpreting {
			return nil, core.E(core.KindInvalidInput, "session %s is not awaiting interpretation feedback", sessionID)
		}
	case stagePlan:
		if State(session.State) != StatePlanning {
			return nil, core.E(core.KindInvalidInput, "session %s is not awaiting plan feedback", sessionID)
		}
	case stageResults:
		if State(session.State) != StateReviewing {
			return nil, core.E(core.KindInvalidInput, "session %s is not awaiting results feedback", sessionID)
		}
	default:
		return nil, core.E(core.KindInvalidInput, "unknown feedback stage %q", stage)
	}

	e.appendFeedback(session, stage, approved, feedback, rating)
	if err := e.store.AppendFeedbackEvent(ctx, &database.FeedbackEvent{
		SessionID: session.ID,
		UserID:    principal.UserID,
		Stage:     stage,
		Approved:  approved,
		Feedback:  feedback,
		Rating:    rating,
	}); err != nil {
		return nil, fmt.Errorf("recording feedback event: %w", err)
	}
	e.emitter.Emit("", "", session.UserID, &events.HumanFeedbackData{
		SessionID: session.ID,
		Stage:     stage,
		Approved:  approved,
		Feedback:  feedback,
		Rating:    rating,
		EventKind: events.HumanFeedbackGiven,
	})

	switch stage {
	case stageInterpretation:
		if approved {
			session.InterpretationApproval = database.ApprovalApproved
		} else {
			// Refine: drop the draft so the next pass regenerates it with the
			// feedback in context.
			session.InterpretationApproval = database.ApprovalPending
			session.Interpretation = ""
			if err := e.transition(ctx, session, StateInterpreting, "interpretation rejected, refining"); err != nil {
				return nil, err
			}
		}
	case stagePlan:
		if approved {
			session.PlanApproval = database.ApprovalApproved
		} else {
			session.PlanApproval = database.ApprovalPending
			session.PlanJSON = ""
			if err := e.transition(ctx, session, StatePlanning, "plan rejected, re-planning"); err != nil {
				return nil, err
			}
		}
	case stageResults:
		if approved {
			session.ResultsApproval = database.ApprovalApproved
			session.FinalFeedback = feedback
			if rating > 0 {
				session.SuccessRating = clamp01(rating)
			}
		} else {
			// Rejected results send the session back to planning.
			session.ResultsApproval = database.ApprovalRejected
			session.ReviewFeedback = feedback
			session.PlanApproval = database.ApprovalPending
			session.PlanJSON = ""
			if err := e.transition(ctx, session, StatePlanning, "results rejected, re-planning"); err != nil {
				return nil, err
			}
		}
	}

	if err := e.advance(ctx, session, core.Principal{UserID: session.UserID, Permissions: principal.Permissions}); err != nil {
		return session, err
	}
	return session, nil
}

// Cancel moves a non-terminal session to Cancelled.
func (e *Engine) Cancel(ctx context.Context, sessionID, reason string) (*database.WorkflowSession, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if State(session.State).Terminal() {
		return nil, core.E(core.KindInvalidInput, "session %s is already %s", sessionID, session.State)
	}
	if reason == "" {
		reason = "cancelled by user"
	}
	if err := e.transition(ctx, session, StateCancelled, reason); err != nil {
		return nil, err
	}
	return session, nil
}

// advance runs state actions until the session terminates or blocks on a
// human gate.
func (e *Engine) advance(ctx context.Context, session *database.WorkflowSession, principal core.Principal) error {
	for !State(session.State).Terminal() {
		var err error
		var blocked bool
		switch State(session.State) {
		case StateInterpreting:
			blocked, err = e.stepInterpreting(ctx, session)
		case StatePlanning:
			blocked, err = e.stepPlanning(ctx, session)
		case StateBackupVerify:
			err = e.stepBackupVerify(ctx, session)
		case StateExecuting:
			err = e.stepExecuting(ctx, session, principal)
		case StateReviewing:
			blocked, err = e.stepReviewing(ctx, session)
		case StateFinalizing:
			err = e.stepFinalizing(ctx, session)
		default:
			err = core.E(core.KindInternal, "unknown workflow state %q", session.State)
		}
		if err != nil {
			return e.fail(ctx, session, err)
		}
		if blocked {
			return nil
		}
	}
	return nil
}

type interpretationPayload struct {
	Interpretation string  `json:"interpretation"`
	Confidence     float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

var interpretationSchemaJSON = func() string {
	r := jsonschema.Reflector{DoNotReference: true}
	raw, err := json.Marshal(r.Reflect(&interpretationPayload{}))
	if err != nil {
		return "{}"
	}
	return string(raw)
}()

func (e *Engine) stepInterpreting(ctx context.Context, session *database.WorkflowSession) (blocked bool, err error) {
	if session.Interpretation == "" {
		interpretation, confidence := e.interpret(ctx, session)
		session.Interpretation = interpretation
		session.InterpretationConfidence = confidence
		if err := e.transition(ctx, session, StateInterpreting, "interpretation drafted"); err != nil {
			return false, err
		}
	}

	if session.InterpretationApproval != database.ApprovalApproved {
		if e.cfg.AutoApprove || session.InterpretationConfidence >= interpretationAutoApprove {
			session.InterpretationApproval = database.ApprovalApproved
			e.appendFeedback(session, stageInterpretation, true, "auto-approved", 0)
		} else {
			e.requestFeedback(session, stageInterpretation, "Confirm the interpretation of your request")
			return true, nil
		}
	}
	return false, e.transition(ctx, session, StatePlanning, "interpretation approved")
}

func (e *Engine) interpret(ctx context.Context, session *database.WorkflowSession) (string, float64) {
	if e.gen == nil || e.cfg.Model == "" {
		return session.OriginalRequest, 0.5
	}

	prompt := fmt.Sprintf(`Restate the user's request as a precise, actionable intent and rate your confidence that the restatement captures what they want.

Request:
%s
%s
Respond with JSON only, matching this schema:
%s`, session.OriginalRequest, feedbackContext(session, stageInterpretation), interpretationSchemaJSON)

	comp, err := e.gen.Generate(ctx, llm.Request{
		Model:       e.cfg.Model,
		System:      "You interpret user requests. Respond with JSON only.",
		Prompt:      prompt,
		Temperature: 0,
		UserID:      session.UserID,
	})
	if err != nil {
		e.logger.Warnf("⚠️ Interpretation model failed, using the raw request: %v", err)
		return session.OriginalRequest, 0.5
	}

	var payload interpretationPayload
	if err := json.Unmarshal([]byte(utils.ExtractJSON(comp.Text)), &payload); err != nil || payload.Interpretation == "" {
		e.logger.Warnf("⚠️ Unparsable interpretation, using the raw request")
		return session.OriginalRequest, 0.5
	}
	if payload.Confidence < 0 {
		payload.Confidence = 0
	}
	if payload.Confidence > 1 {
		payload.Confidence = 1
	}
	return payload.Interpretation, payload.Confidence
}

func (e *Engine) stepPlanning(ctx context.Context, session *database.WorkflowSession) (blocked bool, err error) {
	if session.PlanJSON == "" {
		intent := session.Interpretation
		if fb := feedbackContext(session, stagePlan); fb != "" {
			intent += "\n" + fb
		}
		if fb := session.ReviewFeedback; fb != "" {
			intent += "\nFeedback on a previous attempt: " + fb
		}
		plan := e.planner.CreatePlan(ctx, intent)
		raw, merr := json.Marshal(plan)
		if merr != nil {
			return false, fmt.Errorf("encoding plan: %w", merr)
		}
		session.PlanJSON = string(raw)
		session.PlanConfidence = plan.Confidence
		if err := e.transition(ctx, session, StatePlanning, "plan drafted"); err != nil {
			return false, err
		}
	}

	if session.PlanApproval != database.ApprovalApproved {
		if e.cfg.AutoApprove || session.PlanConfidence >= planAutoApprove {
			session.PlanApproval = database.ApprovalApproved
			e.appendFeedback(session, stagePlan, true, "auto-approved", 0)
		} else {
			e.requestFeedback(session, stagePlan, "Review the execution plan")
			return true, nil
		}
	}
	return false, e.transition(ctx, session, StateBackupVerify, "plan approved")
}

func (e *Engine) stepBackupVerify(ctx context.Context, session *database.WorkflowSession) error {
	plan, err := e.sessionPlan(session)
	if err != nil {
		return err
	}

	mutates := false
	for _, step := range plan.Steps {
		if e.orch.StepMutates(step) {
			mutates = true
			break
		}
	}
	if mutates && e.backups != nil {
		id, err := e.backups.Snapshot()
		if err != nil {
			return core.Wrap(core.KindExecutionFailed, err, "capturing backup snapshot")
		}
		session.BackupID = id
		e.emitter.Emit("", "", session.UserID, &events.BackupData{
			SessionID: session.ID,
			BackupID:  id,
			EventKind: events.BackupCreated,
		})
		e.logger.Infof("💾 Backup %s captured for workflow %s", id, session.ID)
	}
	return e.transition(ctx, session, StateExecuting, "backup verified")
}

func (e *Engine) stepExecuting(ctx context.Context, session *database.WorkflowSession, principal core.Principal) error {
	plan, err := e.sessionPlan(session)
	if err != nil {
		return err
	}

	execCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecTimeout)
	defer cancel()

	job := orchestrator.Job{
		RequestID: session.ID,
		Principal: principal,
		Request:   session.Interpretation,
		Decision:  &router.Decision{Path: router.PathComplex},
	}

	results := make(map[int]*orchestrator.StepResult, len(plan.Steps))
	outputs := make(map[int]string)
	for _, step := range plan.Steps {
		if skip := dependencyFailure(step, results); skip != "" {
			results[step.ID] = &orchestrator.StepResult{Step: step, Skipped: true, Error: skip}
			continue
		}

		prompt := orchestrator.StepPrompt(session.Interpretation, step, outputs)
		sr := e.orch.RunStep(execCtx, job, step, prompt)

		if !verified(sr) && e.orch.StepMutates(step) && session.BackupID != "" {
			if rerr := e.backups.Restore(session.BackupID); rerr != nil {
				results[step.ID] = sr
				return core.Wrap(core.KindExecutionFailed, rerr, "restoring backup %s after step %d failed verification", session.BackupID, step.ID)
			}
			e.emitter.Emit("", "", session.UserID, &events.BackupData{
				SessionID: session.ID,
				BackupID:  session.BackupID,
				StepID:    step.ID,
				EventKind: events.BackupRestored,
			})
			e.logger.Warnf("⚠️ Step %d failed verification, backup %s restored", step.ID, session.BackupID)
			if sr.Error == "" {
				sr.Error = "output failed verification"
			}
		}

		results[step.ID] = sr
		if sr.Completed() {
			outputs[step.ID] = sr.Output
		}
	}

	ordered := make([]orchestrator.StepResult, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		if sr := results[step.ID]; sr != nil {
			ordered = append(ordered, *sr)
		}
	}
	raw, merr := json.Marshal(ordered)
	if merr != nil {
		return fmt.Errorf("encoding execution results: %w", merr)
	}
	session.ExecutionResultsJSON = string(raw)

	if len(outputs) == 0 {
		return core.E(core.KindExecutionFailed, "no workflow step completed")
	}
	return e.transition(ctx, session, StateReviewing, "execution finished")
}

func (e *Engine) stepReviewing(ctx context.Context, session *database.WorkflowSession) (blocked bool, err error) {
	if session.ResultsApproval != database.ApprovalApproved {
		if e.cfg.AutoApprove {
			session.ResultsApproval = database.ApprovalApproved
			e.appendFeedback(session, stageResults, true, "auto-approved", 0)
		} else {
			e.requestFeedback(session, stageResults, "Review the execution results")
			return true, nil
		}
	}
	return false, e.transition(ctx, session, StateFinalizing, "results approved")
}

func (e *Engine) stepFinalizing(ctx context.Context, session *database.WorkflowSession) error {
	// An explicit reviewer rating survives; otherwise approval implies full marks.
	if session.SuccessRating == 0 {
		session.SuccessRating = 1.0
		if session.ResultsApproval != database.ApprovalApproved {
			session.SuccessRating = 0.5
		}
	}

	if e.memory != nil {
		doc := fmt.Sprintf("Request: %s\nInterpretation: %s\nPlan: %s", session.OriginalRequest, session.Interpretation, session.PlanJSON)
		id := "workflow-" + session.ID
		if err := e.memory.AddDocuments(ctx, []string{doc}, []string{id}, []map[string]string{{"kind": "plan", "session_id": session.ID}}); err != nil {
			// Memory is advisory; a failed commit must not fail the workflow.
			e.logger.Warnf("⚠️ Committing workflow summary to memory failed: %v", err)
		}
	}
	return e.transition(ctx, session, StateCompleted, "workflow committed")
}

// transition validates, persists, and emits one state change.
func (e *Engine) transition(ctx context.Context, session *database.WorkflowSession, to State, reason string) error {
	from := State(session.State)
	if !CanTransition(from, to) {
		return core.E(core.KindInternal, "illegal workflow transition %s → %s", from, to)
	}
	session.State = string(to)
	session.UpdatedAt = time.Now()

	t := &database.Transition{
		SessionID: session.ID,
		FromState: string(from),
		ToState:   string(to),
		Reason:    reason,
		CreatedAt: session.UpdatedAt,
	}
	if err := e.store.UpdateSessionTransition(ctx, session, t); err != nil {
		return fmt.Errorf("persisting transition %s → %s: %w", from, to, err)
	}

	e.emitter.Emit("", "", session.UserID, &events.WorkflowTransitionData{
		SessionID: session.ID,
		From:      string(from),
		To:        string(to),
		Reason:    reason,
	})
	e.logger.Infof("🔀 Workflow %s: %s → %s (%s)", session.ID, from, to, reason)
	return nil
}

// fail moves the session to Error with the cause recorded. A failure while
// persisting the error state is logged and returned.
func (e *Engine) fail(ctx context.Context, session *database.WorkflowSession, cause error) error {
	session.Error = cause.Error()
	if terr := e.transition(ctx, session, StateError, cause.Error()); terr != nil {
		e.logger.Errorf("❌ Workflow %s failed and the error state could not be persisted: %v", session.ID, terr)
	}
	return cause
}

func (e *Engine) appendFeedback(session *database.WorkflowSession, stage string, approved bool, feedback string, rating float64) {
	session.FeedbackHistory = append(session.FeedbackHistory, database.FeedbackEntry{
		Stage:     stage,
		Approved:  approved,
		Feedback:  feedback,
		Rating:    rating,
		Timestamp: time.Now(),
	})
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

func (e *Engine) requestFeedback(session *database.WorkflowSession, stage, prompt string) {
	e.emitter.Emit("", "", session.UserID, &events.HumanFeedbackData{
		SessionID: session.ID,
		Stage:     stage,
		Prompt:    prompt,
		EventKind: events.RequestHumanFeedback,
	})
}

func (e *Engine) sessionPlan(session *database.WorkflowSession) (*planner.Plan, error) {
	var plan planner.Plan
	if err := json.Unmarshal([]byte(session.PlanJSON), &plan); err != nil {
		return nil, fmt.Errorf("decoding session plan: %w", err)
	}
	if len(plan.Steps) == 0 {
		return nil, core.E(core.KindInternal, "session %s has an empty plan", session.ID)
	}
	return &plan, nil
}

// feedbackContext renders rejected-stage feedback for re-prompting.
func feedbackContext(session *database.WorkflowSession, stage string) string {
	var notes []string
	for _, entry := range session.FeedbackHistory {
		if entry.Stage == stage && !entry.Approved && entry.Feedback != "" {
			notes = append(notes, entry.Feedback)
		}
	}
	if len(notes) == 0 {
		return ""
	}
	out := "\nEarlier feedback to incorporate:\n"
	for _, n := range notes {
		out += "- " + n + "\n"
	}
	return out
}

// verified is the MVP output check: the step completed with non-empty,
// error-free output.
func verified(sr *orchestrator.StepResult) bool {
	return sr.Completed() && sr.Output != ""
}

// dependencyFailure returns a skip reason when any dependency of the step
// failed or was skipped.
func dependencyFailure(step planner.Step, results map[int]*orchestrator.StepResult) string {
	for _, dep := range step.Dependencies {
		if sr, done := results[dep]; done && !sr.Completed() {
			return fmt.Sprintf("skipped: dependency step %d did not complete", dep)
		}
	}
	return ""
}
