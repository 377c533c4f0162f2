package observability

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"lalo/core/internal/utils"
)

// Tracer records spans around the stages of a request: routing, inference,
// planning, step execution, scoring. Implementations must be safe for
// concurrent use.
type Tracer interface {
	// StartSpan opens a span and returns its ID for correlation.
	StartSpan(traceID, name string, attrs map[string]interface{}) string
	// EndSpan closes a span, recording its outcome.
	EndSpan(traceID, spanID string, err error)
	// Event records a point-in-time annotation on a trace.
	Event(traceID, name string, attrs map[string]interface{})
}

// NewTraceID returns a fresh trace identifier.
func NewTraceID() string {
	return uuid.New().String()
}

// NoopTracer discards everything.
type NoopTracer struct{}

func (NoopTracer) StartSpan(traceID, name string, attrs map[string]interface{}) string {
	return ""
}
func (NoopTracer) EndSpan(traceID, spanID string, err error)                {}
func (NoopTracer) Event(traceID, name string, attrs map[string]interface{}) {}

// ConsoleTracer logs spans through the injected logger. Useful during
// development and in demo mode where no tracing backend is configured.
type ConsoleTracer struct {
	logger utils.ExtendedLogger

	mu     sync.Mutex
	starts map[string]time.Time
}

func NewConsoleTracer(logger utils.ExtendedLogger) *ConsoleTracer {
	return &ConsoleTracer{logger: logger, starts: make(map[string]time.Time)}
}

func (t *ConsoleTracer) StartSpan(traceID, name string, attrs map[string]interface{}) string {
	spanID := uuid.New().String()[:8]
	t.mu.Lock()
	t.starts[traceID+spanID] = time.Now()
	t.mu.Unlock()
	t.logger.Debugf("🔍 span start trace=%s span=%s name=%s attrs=%v", traceID, spanID, name, attrs)
	return spanID
}

func (t *ConsoleTracer) EndSpan(traceID, spanID string, err error) {
	key := traceID + spanID
	elapsed := time.Duration(0)
	t.mu.Lock()
	if start, ok := t.starts[key]; ok {
		elapsed = time.Since(start)
		delete(t.starts, key)
	}
	t.mu.Unlock()
	if err != nil {
		t.logger.Debugf("🔍 span end trace=%s span=%s elapsed=%s error=%v", traceID, spanID, elapsed, err)
		return
	}
	t.logger.Debugf("🔍 span end trace=%s span=%s elapsed=%s", traceID, spanID, elapsed)
}

func (t *ConsoleTracer) Event(traceID, name string, attrs map[string]interface{}) {
	t.logger.Debugf("🔍 trace event trace=%s name=%s attrs=%v", traceID, name, attrs)
}
