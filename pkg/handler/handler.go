package handler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"lalo/core/internal/llm"
	"lalo/core/internal/observability"
	"lalo/core/internal/utils"
	"lalo/core/pkg/core"
	"lalo/core/pkg/database"
	"lalo/core/pkg/events"
	"lalo/core/pkg/orchestrator"
	"lalo/core/pkg/router"
	"lalo/core/pkg/scorer"
)

// ErrorEnvelope is the structured failure shape returned to callers. The
// handler never raises; every failure becomes one of these.
type ErrorEnvelope struct {
	Kind      core.Kind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// Metadata carries per-request accounting attached to every response.
type Metadata struct {
	ExecutionTimeMS  int64   `json:"execution_time_ms"`
	FallbackAttempts int     `json:"fallback_attempts"`
	TokensUsed       int     `json:"tokens_used"`
	Cost             float64 `json:"cost"`
	UserID           string  `json:"user_id"`
}

// Response is the unified envelope for one handled request.
type Response struct {
	RequestID         string           `json:"request_id"`
	Response          string           `json:"response,omitempty"`
	Model             string           `json:"model,omitempty"`
	Path              string           `json:"path,omitempty"`
	RoutingDecision   *router.Decision `json:"routing_decision,omitempty"`
	Confidence        float64          `json:"confidence"`
	ConfidenceDetails *scorer.Score    `json:"confidence_details,omitempty"`
	Error             *ErrorEnvelope   `json:"error,omitempty"`
	Metadata          Metadata         `json:"metadata"`
}

// Config bounds the handler's backpressure behavior.
type Config struct {
	MaxInflightPerPrincipal int
}

func (c *Config) applyDefaults() {
	if c.MaxInflightPerPrincipal <= 0 {
		c.MaxInflightPerPrincipal = 8
	}
}

// Handler is the top-level entry point: it validates, persists, routes,
// dispatches, and accounts for every inbound request.
type Handler struct {
	store   database.Store
	router  *router.Router
	orch    *orchestrator.Orchestrator
	emitter *events.Emitter
	tracer  observability.Tracer
	logger  utils.ExtendedLogger
	cfg     Config

	mu       sync.Mutex
	inflight map[string]int
}

func New(store database.Store, r *router.Router, orch *orchestrator.Orchestrator, emitter *events.Emitter, tracer observability.Tracer, logger utils.ExtendedLogger, cfg Config) *Handler {
	cfg.applyDefaults()
	if tracer == nil {
		tracer = observability.NoopTracer{}
	}
	return &Handler{
		store:    store,
		router:   r,
		orch:     orch,
		emitter:  emitter,
		tracer:   tracer,
		logger:   logger,
		cfg:      cfg,
		inflight: make(map[string]int),
	}
}

// Handle processes one request end to end. It never returns a Go error;
// failures are reported through the response envelope.
func (h *Handler) Handle(ctx context.Context, principal core.Principal, prompt string) *Response {
	start := time.Now()
	traceID := observability.NewTraceID()

	if prompt == "" {
		return h.failFast(core.KindInvalidInput, "request must not be empty", principal, start)
	}
	if !h.acquire(principal.UserID) {
		return h.failFast(core.KindRateLimited, "too many requests in flight", principal, start)
	}
	defer h.release(principal.UserID)

	requestID := uuid.NewString()
	spanID := h.tracer.StartSpan(traceID, "handle_request", map[string]interface{}{
		"request_id": requestID,
		"user_id":    principal.UserID,
	})

	resp := &Response{
		RequestID: requestID,
		Metadata:  Metadata{UserID: principal.UserID},
	}

	row := &database.Request{
		ID:        requestID,
		UserID:    principal.UserID,
		Prompt:    prompt,
		Status:    database.RequestProcessing,
		CreatedAt: time.Now(),
	}
	if err := h.store.CreateRequest(ctx, row); err != nil {
		h.tracer.EndSpan(traceID, spanID, err)
		return h.fillFailure(resp, err, start)
	}
	h.emitter.Emit(traceID, requestID, principal.UserID, &events.RequestLifecycleData{EventKind: events.RequestReceived})
	h.logger.Infof("📨 Request %s accepted from user %s", requestID, principal.UserID)

	decision := h.router.Route(ctx, prompt)
	resp.RoutingDecision = decision
	resp.Path = string(decision.Path)
	row.Path = string(decision.Path)
	row.Model = decision.RecommendedModel
	h.emitter.Emit(traceID, requestID, principal.UserID, &events.RoutingDecidedData{
		Path:          string(decision.Path),
		Complexity:    decision.Complexity,
		Confidence:    decision.Confidence,
		Reasoning:     decision.Reasoning,
		RequiresTools: decision.RequiresTools,
		Heuristic:     decision.Heuristic,
	})

	result, err := h.orch.Execute(ctx, orchestrator.Job{
		RequestID: requestID,
		TraceID:   traceID,
		Principal: principal,
		Request:   prompt,
		Decision:  decision,
	})
	if result != nil {
		resp.Metadata.FallbackAttempts = len(result.FallbackAttempts)
		row.FallbackAttempts = result.FallbackAttempts
	}
	if err != nil {
		h.persistFailure(ctx, row, err)
		h.emitter.Emit(traceID, requestID, principal.UserID, &events.RequestLifecycleData{
			Path:      resp.Path,
			Error:     err.Error(),
			EventKind: events.RequestFailed,
		})
		h.tracer.EndSpan(traceID, spanID, err)
		return h.fillFailure(resp, err, start)
	}

	resp.Response = result.Output
	resp.Model = result.Model
	if result.Score != nil {
		resp.Confidence = result.Score.Overall
		resp.ConfidenceDetails = result.Score
	}
	resp.Metadata.ExecutionTimeMS = time.Since(start).Milliseconds()
	resp.Metadata.TokensUsed = result.TokensUsed
	resp.Metadata.Cost = result.Cost
	if resp.Metadata.TokensUsed == 0 {
		resp.Metadata.TokensUsed = llm.EstimateTokens(prompt) + llm.EstimateTokens(result.Output)
	}

	row.Response = result.Output
	row.Model = result.Model
	row.Status = database.RequestCompleted
	row.Confidence = resp.Confidence
	row.TokensUsed = resp.Metadata.TokensUsed
	row.Cost = result.Cost
	now := time.Now()
	row.CompletedAt = &now

	if perr := h.store.FinishRequest(ctx, row, h.auditEntry(row)); perr != nil {
		// The caller still gets their answer; the persistence gap is logged.
		h.logger.Errorf("❌ Persisting request %s failed: %v", requestID, perr)
	}

	h.emitter.Emit(traceID, requestID, principal.UserID, &events.RequestLifecycleData{
		Path:       resp.Path,
		Model:      resp.Model,
		DurationMS: resp.Metadata.ExecutionTimeMS,
		EventKind:  events.RequestCompleted,
	})
	h.tracer.EndSpan(traceID, spanID, nil)
	h.logger.Infof("✅ Request %s completed via %s in %dms", requestID, resp.Path, resp.Metadata.ExecutionTimeMS)
	return resp
}

func (h *Handler) persistFailure(ctx context.Context, row *database.Request, cause error) {
	row.Status = database.RequestFailed
	row.Error = cause.Error()
	now := time.Now()
	row.CompletedAt = &now
	if kind := core.KindOf(cause); kind == core.KindCancelled {
		row.Error = "cancelled: " + cause.Error()
	}
	if err := h.store.FinishRequest(ctx, row, h.auditEntry(row)); err != nil {
		h.logger.Errorf("❌ Persisting failed request %s: %v", row.ID, err)
	}
}

// auditEntry serializes the fallback chain so the audit log preserves the
// attempt order.
func (h *Handler) auditEntry(row *database.Request) *database.AuditLog {
	detail, _ := json.Marshal(row.FallbackAttempts)
	return &database.AuditLog{
		UserID:    row.UserID,
		RequestID: row.ID,
		Action:    "request_" + string(row.Status),
		Detail:    string(detail),
		CreatedAt: time.Now(),
	}
}

func (h *Handler) failFast(kind core.Kind, message string, principal core.Principal, start time.Time) *Response {
	return &Response{
		Error: &ErrorEnvelope{Kind: kind, Message: message, Retryable: core.Retryable(kind)},
		Metadata: Metadata{
			ExecutionTimeMS: time.Since(start).Milliseconds(),
			UserID:          principal.UserID,
		},
	}
}

func (h *Handler) fillFailure(resp *Response, err error, start time.Time) *Response {
	kind := core.KindOf(err)
	resp.Error = &ErrorEnvelope{Kind: kind, Message: err.Error(), Retryable: core.Retryable(kind)}
	resp.Metadata.ExecutionTimeMS = time.Since(start).Milliseconds()
	return resp
}

func (h *Handler) acquire(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inflight[userID] >= h.cfg.MaxInflightPerPrincipal {
		return false
	}
	h.inflight[userID]++
	return true
}

func (h *Handler) release(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inflight[userID] <= 1 {
		delete(h.inflight, userID)
	} else {
		h.inflight[userID]--
	}
}
