package events

// RequestLifecycleData covers request received/completed/failed.
type RequestLifecycleData struct {
	BaseEventData
	Path       string `json:"path,omitempty"`
	Model      string `json:"model,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	EventKind  EventType
}

func (d *RequestLifecycleData) GetEventType() EventType { return d.EventKind }

// RoutingDecidedData is emitted once per request after path selection.
type RoutingDecidedData struct {
	BaseEventData
	Path          string  `json:"path"`
	Complexity    float64 `json:"complexity"`
	Confidence    float64 `json:"confidence"`
	Reasoning     string  `json:"reasoning"`
	RequiresTools bool    `json:"requires_tools"`
	Heuristic     bool    `json:"heuristic"`
}

func (d *RoutingDecidedData) GetEventType() EventType { return RoutingDecided }

// LLMGenerationData covers generation start/end/error.
type LLMGenerationData struct {
	BaseEventData
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	DurationMS   int64  `json:"duration_ms,omitempty"`
	Error        string `json:"error,omitempty"`
	EventKind    EventType
}

func (d *LLMGenerationData) GetEventType() EventType { return d.EventKind }

// StreamingChunkData carries one streamed output fragment. Only the size is
// recorded; chunk text stays out of the event trail.
type StreamingChunkData struct {
	BaseEventData
	Model string `json:"model"`
	Bytes int    `json:"bytes"`
}

func (d *StreamingChunkData) GetEventType() EventType { return StreamingChunk }

// FallbackAttemptedData records one model attempt inside a fallback chain.
type FallbackAttemptedData struct {
	BaseEventData
	Attempt    int     `json:"attempt"`
	Model      string  `json:"model"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

func (d *FallbackAttemptedData) GetEventType() EventType { return FallbackAttempted }

// PlanIterationData covers one critique cycle of the planner.
type PlanIterationData struct {
	BaseEventData
	Iteration  int     `json:"iteration"`
	StepCount  int     `json:"step_count"`
	Confidence float64 `json:"confidence"`
	EventKind  EventType
}

func (d *PlanIterationData) GetEventType() EventType { return d.EventKind }

// StepData covers step started/completed/failed/skipped.
type StepData struct {
	BaseEventData
	StepID     int    `json:"step_id"`
	Action     string `json:"action"`
	Tool       string `json:"tool,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	EventKind  EventType
}

func (d *StepData) GetEventType() EventType { return d.EventKind }

// ToolCallData covers tool call start/end/error.
type ToolCallData struct {
	BaseEventData
	Tool       string `json:"tool"`
	Success    bool   `json:"success"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	EventKind  EventType
}

func (d *ToolCallData) GetEventType() EventType { return d.EventKind }

// ConfidenceScoredData carries the full score breakdown.
type ConfidenceScoredData struct {
	BaseEventData
	Overall        float64 `json:"overall"`
	Factual        float64 `json:"factual"`
	Consistent     float64 `json:"consistent"`
	Complete       float64 `json:"complete"`
	Grounded       float64 `json:"grounded"`
	Recommendation string  `json:"recommendation"`
}

func (d *ConfidenceScoredData) GetEventType() EventType { return ConfidenceScored }

// WorkflowTransitionData records one state machine transition.
type WorkflowTransitionData struct {
	BaseEventData
	SessionID string `json:"session_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Reason    string `json:"reason,omitempty"`
}

func (d *WorkflowTransitionData) GetEventType() EventType { return WorkflowTransition }

// HumanFeedbackData covers both the request for feedback and the answer.
type HumanFeedbackData struct {
	BaseEventData
	SessionID string `json:"session_id"`
	Stage     string `json:"stage"` // interpretation, plan, results
	Prompt    string `json:"prompt,omitempty"`
	Approved  bool    `json:"approved,omitempty"`
	Feedback  string  `json:"feedback,omitempty"`
	Rating    float64 `json:"rating,omitempty"`
	EventKind EventType
}

func (d *HumanFeedbackData) GetEventType() EventType { return d.EventKind }

// BackupData covers snapshot creation and restoration.
type BackupData struct {
	BaseEventData
	SessionID string `json:"session_id"`
	BackupID  string `json:"backup_id"`
	StepID    int    `json:"step_id,omitempty"`
	EventKind EventType
}

func (d *BackupData) GetEventType() EventType { return d.EventKind }

// OrchestratorData covers orchestrator start/end/error.
type OrchestratorData struct {
	BaseEventData
	Path       string `json:"path"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	EventKind  EventType
}

func (d *OrchestratorData) GetEventType() EventType { return d.EventKind }
