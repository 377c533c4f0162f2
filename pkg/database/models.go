package database

import (
	"fmt"
	"time"
)

// RequestStatus tracks a persisted request through its lifecycle.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestProcessing RequestStatus = "processing"
	RequestCompleted  RequestStatus = "completed"
	RequestFailed     RequestStatus = "failed"
)

// FallbackAttempt is one model attempt inside a fallback chain. Appended to
// the owning request's audit trail and never mutated.
type FallbackAttempt struct {
	Model         string    `json:"model"`
	Confidence    float64   `json:"confidence"`
	Reason        string    `json:"reason"`
	OutputExcerpt string    `json:"output_excerpt"`
	Timestamp     time.Time `json:"timestamp"`
}

// Request is the persisted record of one inbound request. Created when the
// handler accepts the request, updated exactly once on completion or failure.
type Request struct {
	ID               string            `json:"id" db:"id"`
	UserID           string            `json:"user_id" db:"user_id"`
	Model            string            `json:"model" db:"model"`
	Prompt           string            `json:"prompt" db:"prompt"`
	Response         string            `json:"response" db:"response"`
	Status           RequestStatus     `json:"status" db:"status"`
	Path             string            `json:"path" db:"path"`
	Confidence       float64           `json:"confidence" db:"confidence"`
	TokensUsed       int               `json:"tokens_used" db:"tokens_used"`
	Cost             float64           `json:"cost" db:"cost"`
	Error            string            `json:"error" db:"error"`
	FallbackAttempts []FallbackAttempt `json:"fallback_attempts"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
}

// Validate checks required fields before insertion.
func (r *Request) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("request id is required")
	}
	if r.UserID == "" {
		return fmt.Errorf("request user_id is required")
	}
	if r.Prompt == "" {
		return fmt.Errorf("request prompt is required")
	}
	switch r.Status {
	case RequestPending, RequestProcessing, RequestCompleted, RequestFailed:
	default:
		return fmt.Errorf("invalid request status: %s", r.Status)
	}
	return nil
}

// Approval is a three-state human decision flag.
type Approval int

const (
	ApprovalPending  Approval = 0
	ApprovalApproved Approval = 1
	ApprovalRejected Approval = -1
)

// FeedbackEntry is one append-only entry in a session's feedback history.
// Auto-approvals are recorded here too, so the inline history is the full
// decision trail for the session.
type FeedbackEntry struct {
	Stage     string    `json:"stage"` // interpretation, plan, results
	Approved  bool      `json:"approved"`
	Feedback  string    `json:"feedback,omitempty"`
	Rating    float64   `json:"rating,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FeedbackEvent is the durable record of one human decision. Unlike the
// session's inline history, auto-approvals never produce a row here.
type FeedbackEvent struct {
	ID        int64     `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Stage     string    `json:"stage" db:"stage"`
	Approved  bool      `json:"approved" db:"approved"`
	Feedback  string    `json:"feedback" db:"feedback"`
	Rating    float64   `json:"rating" db:"rating"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// WorkflowSession is the durable record of one human-in-the-loop workflow.
type WorkflowSession struct {
	ID                       string          `json:"id" db:"id"`
	UserID                   string          `json:"user_id" db:"user_id"`
	OriginalRequest          string          `json:"original_request" db:"original_request"`
	State                    string          `json:"state" db:"state"`
	Interpretation           string          `json:"interpretation" db:"interpretation"`
	InterpretationConfidence float64         `json:"interpretation_confidence" db:"interpretation_confidence"`
	InterpretationApproval   Approval        `json:"interpretation_approval" db:"interpretation_approval"`
	PlanJSON                 string          `json:"plan_json" db:"plan_json"`
	PlanConfidence           float64         `json:"plan_confidence" db:"plan_confidence"`
	PlanApproval             Approval        `json:"plan_approval" db:"plan_approval"`
	BackupID                 string          `json:"backup_id" db:"backup_id"`
	ExecutionResultsJSON     string          `json:"execution_results_json" db:"execution_results_json"`
	ReviewFeedback           string          `json:"review_feedback" db:"review_feedback"`
	ResultsApproval          Approval        `json:"results_approval" db:"results_approval"`
	FinalFeedback            string          `json:"final_feedback" db:"final_feedback"`
	SuccessRating            float64         `json:"success_rating" db:"success_rating"`
	FeedbackHistory          []FeedbackEntry `json:"feedback_history"`
	Error                    string          `json:"error" db:"error"`
	CreatedAt                time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at" db:"updated_at"`
}

func (s *WorkflowSession) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if s.UserID == "" {
		return fmt.Errorf("session user_id is required")
	}
	if s.OriginalRequest == "" {
		return fmt.Errorf("session original_request is required")
	}
	if s.State == "" {
		return fmt.Errorf("session state is required")
	}
	return nil
}

// Transition records one workflow state change.
type Transition struct {
	ID        int64     `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	FromState string    `json:"from_state" db:"from_state"`
	ToState   string    `json:"to_state" db:"to_state"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ToolExecution is the audit record of one tool invocation.
type ToolExecution struct {
	ID              int64     `json:"id" db:"id"`
	RequestID       string    `json:"request_id" db:"request_id"`
	SessionID       string    `json:"session_id" db:"session_id"`
	UserID          string    `json:"user_id" db:"user_id"`
	Tool            string    `json:"tool" db:"tool"`
	ArgsJSON        string    `json:"args_json" db:"args_json"`
	Success         bool      `json:"success" db:"success"`
	Output          string    `json:"output" db:"output"`
	Error           string    `json:"error" db:"error"`
	ExecutionTimeMS int64     `json:"execution_time_ms" db:"execution_time_ms"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Agent is a named specialist profile: a pinned model plus a system prompt.
// The catalog is read-only from the engine's point of view; rows are seeded
// by migration and managed out of band.
type Agent struct {
	Name         string    `json:"name" db:"name"`
	Description  string    `json:"description" db:"description"`
	Model        string    `json:"model" db:"model"`
	SystemPrompt string    `json:"system_prompt" db:"system_prompt"`
	Enabled      bool      `json:"enabled" db:"enabled"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// AuditLog is one append-only audit entry.
type AuditLog struct {
	ID        int64     `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	RequestID string    `json:"request_id" db:"request_id"`
	Action    string    `json:"action" db:"action"`
	Detail    string    `json:"detail" db:"detail"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
