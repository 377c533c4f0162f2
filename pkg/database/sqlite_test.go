package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lalo/core/internal/utils"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), utils.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRequestLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	req := &Request{
		ID:        uuid.New().String(),
		UserID:    "alice",
		Prompt:    "what is 2+2",
		Status:    RequestProcessing,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateRequest(ctx, req))

	now := time.Now()
	req.Status = RequestCompleted
	req.Model = "gpt-4.1-mini"
	req.Response = "4"
	req.Path = "simple"
	req.Confidence = 0.95
	req.TokensUsed = 42
	req.Cost = 0.0001
	req.CompletedAt = &now
	req.FallbackAttempts = []FallbackAttempt{
		{Model: "gpt-4.1-mini", Confidence: 0.95, Reason: "accepted", Timestamp: now},
	}
	require.NoError(t, store.FinishRequest(ctx, req, &AuditLog{
		UserID: "alice", RequestID: req.ID, Action: "request_completed",
	}))

	got, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestCompleted, got.Status)
	assert.Equal(t, "4", got.Response)
	assert.Len(t, got.FallbackAttempts, 1)
	assert.Equal(t, "accepted", got.FallbackAttempts[0].Reason)
	assert.NotNil(t, got.CompletedAt)

	audit, err := store.ListAudit(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "request_completed", audit[0].Action)

	list, err := store.ListRequests(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateRequestValidates(t *testing.T) {
	store := newTestStore(t)
	err := store.CreateRequest(context.Background(), &Request{ID: "x", UserID: "u", Status: RequestPending})
	assert.Error(t, err)
}

func TestSessionTransitionAtomicity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := &WorkflowSession{
		ID:              uuid.New().String(),
		UserID:          "bob",
		OriginalRequest: "organize my files",
		State:           "interpreting",
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	require.NoError(t, store.CreateSession(ctx, session))

	session.State = "planning"
	session.Interpretation = "user wants files organized by type"
	session.InterpretationConfidence = 0.9
	session.InterpretationApproval = ApprovalApproved
	session.FeedbackHistory = append(session.FeedbackHistory, FeedbackEntry{
		Stage: "interpretation", Approved: true, Timestamp: time.Now(),
	})
	require.NoError(t, store.UpdateSessionTransition(ctx, session, &Transition{
		SessionID: session.ID, FromState: "interpreting", ToState: "planning", Reason: "auto-approved",
	}))

	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "planning", got.State)
	assert.Equal(t, ApprovalApproved, got.InterpretationApproval)
	require.Len(t, got.FeedbackHistory, 1)
	assert.Equal(t, "interpretation", got.FeedbackHistory[0].Stage)

	transitions, err := store.ListTransitions(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, "interpreting", transitions[0].FromState)
	assert.Equal(t, "planning", transitions[0].ToState)
}

func TestToolExecutionAudit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordToolExecution(ctx, &ToolExecution{
		RequestID: "r1", UserID: "alice", Tool: "file_read",
		ArgsJSON: `{"path":"a.txt"}`, Success: true, Output: "contents",
		ExecutionTimeMS: 3,
	}))
}

func TestFeedbackEventTrail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := &WorkflowSession{
		ID:              uuid.New().String(),
		UserID:          "carol",
		OriginalRequest: "summarize the report",
		State:           "interpreting",
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	require.NoError(t, store.CreateSession(ctx, session))

	require.NoError(t, store.AppendFeedbackEvent(ctx, &FeedbackEvent{
		SessionID: session.ID, UserID: "carol", Stage: "interpretation", Approved: true,
	}))
	require.NoError(t, store.AppendFeedbackEvent(ctx, &FeedbackEvent{
		SessionID: session.ID, UserID: "carol", Stage: "results", Approved: true,
		Feedback: "nice", Rating: 0.9,
	}))

	events, err := store.ListFeedbackEvents(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "interpretation", events[0].Stage)
	assert.Equal(t, "results", events[1].Stage)
	assert.Equal(t, 0.9, events[1].Rating)

	events, err = store.ListFeedbackEvents(ctx, "no-such-session")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSeededAgentCatalog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agents, err := store.ListAgents(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, agents)

	agent, err := store.GetAgent(ctx, "general")
	require.NoError(t, err)
	assert.NotEmpty(t, agent.Model)
	assert.NotEmpty(t, agent.SystemPrompt)

	_, err = store.GetAgent(ctx, "missing")
	assert.Error(t, err)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	store, err := NewSQLiteStore(path, utils.NewTestLogger())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening must not re-run applied migrations.
	store, err = NewSQLiteStore(path, utils.NewTestLogger())
	require.NoError(t, err)

	var version int
	require.NoError(t, store.DB().QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version))
	assert.Equal(t, len(migrations), version)
	store.Close()
}
