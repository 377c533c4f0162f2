package database

import (
	"context"
	"database/sql"
)

// Store is the persistence contract used by the handler and the workflow
// state machine. All implementations must be safe for concurrent use.
type Store interface {
	// Requests
	CreateRequest(ctx context.Context, req *Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	ListRequests(ctx context.Context, userID string, limit int) ([]*Request, error)
	// FinishRequest writes the final request state and its audit entry in
	// one transaction.
	FinishRequest(ctx context.Context, req *Request, audit *AuditLog) error

	// Workflow sessions
	CreateSession(ctx context.Context, session *WorkflowSession) error
	GetSession(ctx context.Context, id string) (*WorkflowSession, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]*WorkflowSession, error)
	// UpdateSessionTransition persists the session snapshot and its state
	// transition atomically.
	UpdateSessionTransition(ctx context.Context, session *WorkflowSession, t *Transition) error
	ListTransitions(ctx context.Context, sessionID string) ([]*Transition, error)

	// Feedback
	AppendFeedbackEvent(ctx context.Context, event *FeedbackEvent) error
	ListFeedbackEvents(ctx context.Context, sessionID string) ([]*FeedbackEvent, error)

	// Agents
	GetAgent(ctx context.Context, name string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)

	// Audit
	RecordToolExecution(ctx context.Context, exec *ToolExecution) error
	AppendAudit(ctx context.Context, entry *AuditLog) error
	ListAudit(ctx context.Context, requestID string) ([]*AuditLog, error)

	// DB exposes the underlying handle for sibling stores sharing the file
	// (secrets, vector store).
	DB() *sql.DB
	Close() error
}
