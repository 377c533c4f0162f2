package orchestrator

import (
	"context"

	"lalo/core/internal/llm"
	"lalo/core/pkg/core"
	"lalo/core/pkg/database"
	"lalo/core/pkg/planner"
	"lalo/core/pkg/router"
	"lalo/core/pkg/scorer"
)

// Gateway is the slice of the inference service the orchestrator needs.
type Gateway interface {
	Generate(ctx context.Context, req llm.Request) (*llm.Completion, error)
	AvailableModels(userID string) []llm.ModelInfo
}

// Job is one unit of orchestration work: the request text plus the routing
// decision and caller identity.
type Job struct {
	RequestID string
	TraceID   string
	Principal core.Principal
	Request   string
	Decision  *router.Decision
}

// StepResult records the outcome of one plan step.
type StepResult struct {
	Step       planner.Step `json:"step"`
	Output     string       `json:"output,omitempty"`
	Error      string       `json:"error,omitempty"`
	Skipped    bool         `json:"skipped,omitempty"`
	DurationMS int64        `json:"duration_ms"`
	ToolUsed   string       `json:"tool_used,omitempty"`
}

// Completed reports whether the step produced usable output.
func (r *StepResult) Completed() bool {
	return r != nil && !r.Skipped && r.Error == ""
}

// Result is the orchestrator's product for one job.
type Result struct {
	Output           string                     `json:"output"`
	Model            string                     `json:"model"`
	Path             router.Path                `json:"path"`
	Score            *scorer.Score              `json:"score,omitempty"`
	FallbackAttempts []database.FallbackAttempt `json:"fallback_attempts,omitempty"`
	Plan             *planner.Plan              `json:"plan,omitempty"`
	Steps            []StepResult               `json:"steps,omitempty"`
	TokensUsed       int                        `json:"tokens_used"`
	Cost             float64                    `json:"cost"`
}
