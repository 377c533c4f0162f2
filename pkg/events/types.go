package events

import (
	"time"
)

// EventType identifies a lifecycle event emitted by the core.
type EventType string

const (
	// Request lifecycle
	RequestReceived  EventType = "request_received"
	RequestCompleted EventType = "request_completed"
	RequestFailed    EventType = "request_failed"

	// Routing
	RoutingStart   EventType = "routing_start"
	RoutingDecided EventType = "routing_decided"

	// Inference
	LLMGenerationStart EventType = "llm_generation_start"
	LLMGenerationEnd   EventType = "llm_generation_end"
	LLMGenerationError EventType = "llm_generation_error"
	StreamingChunk     EventType = "streaming_chunk"
	FallbackAttempted  EventType = "fallback_attempted"

	// Planning
	PlanIterationStart EventType = "plan_iteration_start"
	PlanIterationEnd   EventType = "plan_iteration_end"
	PlanAccepted       EventType = "plan_accepted"

	// Step execution
	StepStarted   EventType = "step_started"
	StepCompleted EventType = "step_completed"
	StepFailed    EventType = "step_failed"
	StepSkipped   EventType = "step_skipped"

	// Tool execution
	ToolCallStart EventType = "tool_call_start"
	ToolCallEnd   EventType = "tool_call_end"
	ToolCallError EventType = "tool_call_error"

	// Scoring
	ConfidenceScored EventType = "confidence_scored"

	// Workflow
	WorkflowTransition   EventType = "workflow_transition"
	RequestHumanFeedback EventType = "request_human_feedback"
	HumanFeedbackGiven   EventType = "human_feedback_given"
	BackupCreated        EventType = "backup_created"
	BackupRestored       EventType = "backup_restored"

	// Orchestration
	OrchestratorStart EventType = "orchestrator_start"
	OrchestratorEnd   EventType = "orchestrator_end"
	OrchestratorError EventType = "orchestrator_error"
)

// Event is the envelope delivered to listeners.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"trace_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Data      EventData `json:"data"`
}

// EventData is implemented by every typed payload.
type EventData interface {
	GetEventType() EventType
}

// BaseEventData carries the fields shared by all payloads.
type BaseEventData struct {
	Timestamp time.Time              `json:"timestamp"`
	TraceID   string                 `json:"trace_id,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Listener receives events. Implementations must not block; slow consumers
// should buffer internally.
type Listener interface {
	HandleEvent(event *Event)
}

// Emitter fans events out to registered listeners. The zero value is usable
// and drops everything.
type Emitter struct {
	listeners []Listener
}

func NewEmitter(listeners ...Listener) *Emitter {
	return &Emitter{listeners: listeners}
}

// Emit delivers data to every listener. Nil-safe so components can treat the
// emitter as optional.
func (e *Emitter) Emit(traceID, requestID, userID string, data EventData) {
	if e == nil || len(e.listeners) == 0 {
		return
	}
	event := &Event{
		Type:      data.GetEventType(),
		Timestamp: time.Now(),
		TraceID:   traceID,
		RequestID: requestID,
		UserID:    userID,
		Data:      data,
	}
	for _, l := range e.listeners {
		l.HandleEvent(event)
	}
}
