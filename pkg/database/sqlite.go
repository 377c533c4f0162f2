package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"lalo/core/internal/utils"
)

// migrations run in order inside transactions; schema_migrations tracks the
// applied version.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		prompt TEXT NOT NULL,
		response TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		path TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		fallback_attempts TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_requests_user ON requests(user_id, created_at);`,

	`CREATE TABLE IF NOT EXISTS workflow_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		original_request TEXT NOT NULL,
		state TEXT NOT NULL,
		interpretation TEXT NOT NULL DEFAULT '',
		interpretation_confidence REAL NOT NULL DEFAULT 0,
		interpretation_approval INTEGER NOT NULL DEFAULT 0,
		plan_json TEXT NOT NULL DEFAULT '',
		plan_confidence REAL NOT NULL DEFAULT 0,
		plan_approval INTEGER NOT NULL DEFAULT 0,
		backup_id TEXT NOT NULL DEFAULT '',
		execution_results_json TEXT NOT NULL DEFAULT '',
		review_feedback TEXT NOT NULL DEFAULT '',
		results_approval INTEGER NOT NULL DEFAULT 0,
		final_feedback TEXT NOT NULL DEFAULT '',
		success_rating REAL NOT NULL DEFAULT 0,
		feedback_history TEXT NOT NULL DEFAULT '[]',
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON workflow_sessions(user_id, created_at);`,

	`CREATE TABLE IF NOT EXISTS workflow_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES workflow_sessions(id),
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transitions_session ON workflow_transitions(session_id, id);`,

	`CREATE TABLE IF NOT EXISTS tool_executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		tool TEXT NOT NULL,
		args_json TEXT NOT NULL DEFAULT '{}',
		success INTEGER NOT NULL DEFAULT 0,
		output TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		execution_time_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL DEFAULT '',
		request_id TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_request ON audit_logs(request_id, id);`,

	`CREATE TABLE IF NOT EXISTS feedback_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES workflow_sessions(id),
		user_id TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL,
		approved INTEGER NOT NULL DEFAULT 0,
		feedback TEXT NOT NULL DEFAULT '',
		rating REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_session ON feedback_events(session_id, id);`,

	`CREATE TABLE IF NOT EXISTS agents (
		name TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		system_prompt TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	INSERT INTO agents (name, description, model, system_prompt) VALUES
		('general', 'General-purpose assistant', 'gpt-4.1-mini', 'You are a helpful, precise assistant.'),
		('research', 'Deep research with web search', 'gpt-4.1', 'You are a thorough researcher. Cite the sources you draw on.'),
		('coder', 'Code generation and review', 'claude-sonnet-4-20250514', 'You are an expert software engineer. Prefer small, tested changes.');`,
}

// SQLiteStore implements Store over a single sqlite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger utils.ExtendedLogger
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// pending migrations.
func NewSQLiteStore(path string, logger utils.ExtendedLogger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Infof("💾 Database ready at %s", path)
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, i+1, time.Now()); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", i+1, err)
		}
		s.logger.Debugf("Applied migration %d", i+1)
	}
	return nil
}

func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error { return s.db.Close() }

// --- Requests ---

func (s *SQLiteStore) CreateRequest(ctx context.Context, req *Request) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	attempts, err := json.Marshal(req.FallbackAttempts)
	if err != nil {
		return fmt.Errorf("failed to marshal fallback attempts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO requests
		(id, user_id, model, prompt, response, status, path, confidence, tokens_used, cost, error, fallback_attempts, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.UserID, req.Model, req.Prompt, req.Response, req.Status, req.Path,
		req.Confidence, req.TokensUsed, req.Cost, req.Error, string(attempts), req.CreatedAt, req.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, user_id, model, prompt, response, status, path,
		confidence, tokens_used, cost, error, fallback_attempts, created_at, completed_at
		FROM requests WHERE id = ?`, id)
	return scanRequest(row)
}

func (s *SQLiteStore) ListRequests(ctx context.Context, userID string, limit int) ([]*Request, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, model, prompt, response, status, path,
		confidence, tokens_used, cost, error, fallback_attempts, created_at, completed_at
		FROM requests WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) FinishRequest(ctx context.Context, req *Request, audit *AuditLog) error {
	attempts, err := json.Marshal(req.FallbackAttempts)
	if err != nil {
		return fmt.Errorf("failed to marshal fallback attempts: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE requests SET model = ?, response = ?, status = ?, path = ?,
		confidence = ?, tokens_used = ?, cost = ?, error = ?, fallback_attempts = ?, completed_at = ?
		WHERE id = ?`,
		req.Model, req.Response, req.Status, req.Path, req.Confidence, req.TokensUsed,
		req.Cost, req.Error, string(attempts), req.CompletedAt, req.ID); err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	if audit != nil {
		if _, err := tx.ExecContext(ctx, `INSERT INTO audit_logs (user_id, request_id, action, detail, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			audit.UserID, audit.RequestID, audit.Action, audit.Detail, time.Now()); err != nil {
			return fmt.Errorf("failed to insert audit entry: %w", err)
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var req Request
	var attempts string
	var completedAt sql.NullTime
	err := row.Scan(&req.ID, &req.UserID, &req.Model, &req.Prompt, &req.Response, &req.Status,
		&req.Path, &req.Confidence, &req.TokensUsed, &req.Cost, &req.Error, &attempts,
		&req.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("request not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan request: %w", err)
	}
	if completedAt.Valid {
		req.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal([]byte(attempts), &req.FallbackAttempts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fallback attempts: %w", err)
	}
	return &req, nil
}

// --- Workflow sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, session *WorkflowSession) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}
	history, err := json.Marshal(session.FeedbackHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback history: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO workflow_sessions
		(id, user_id, original_request, state, interpretation, interpretation_confidence, interpretation_approval,
		 plan_json, plan_confidence, plan_approval, backup_id, execution_results_json, review_feedback,
		 results_approval, final_feedback, success_rating, feedback_history, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.OriginalRequest, session.State,
		session.Interpretation, session.InterpretationConfidence, session.InterpretationApproval,
		session.PlanJSON, session.PlanConfidence, session.PlanApproval, session.BackupID,
		session.ExecutionResultsJSON, session.ReviewFeedback, session.ResultsApproval,
		session.FinalFeedback, session.SuccessRating, string(history), session.Error,
		session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*WorkflowSession, error) {
	row := s.db.QueryRowContext(ctx, sessionSelect+` WHERE id = ?`, id)
	return scanSession(row)
}

func (s *SQLiteStore) ListSessions(ctx context.Context, userID string, limit int) ([]*WorkflowSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, sessionSelect+` WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*WorkflowSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

const sessionSelect = `SELECT id, user_id, original_request, state, interpretation,
	interpretation_confidence, interpretation_approval, plan_json, plan_confidence, plan_approval,
	backup_id, execution_results_json, review_feedback, results_approval, final_feedback,
	success_rating, feedback_history, error, created_at, updated_at FROM workflow_sessions`

func scanSession(row rowScanner) (*WorkflowSession, error) {
	var session WorkflowSession
	var history string
	err := row.Scan(&session.ID, &session.UserID, &session.OriginalRequest, &session.State,
		&session.Interpretation, &session.InterpretationConfidence, &session.InterpretationApproval,
		&session.PlanJSON, &session.PlanConfidence, &session.PlanApproval, &session.BackupID,
		&session.ExecutionResultsJSON, &session.ReviewFeedback, &session.ResultsApproval,
		&session.FinalFeedback, &session.SuccessRating, &history, &session.Error,
		&session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &session.FeedbackHistory); err != nil {
		return nil, fmt.Errorf("failed to unmarshal feedback history: %w", err)
	}
	return &session, nil
}

// UpdateSessionTransition writes the session snapshot and its transition row
// in one transaction, so a crash can never leave the state and its history
// disagreeing.
func (s *SQLiteStore) UpdateSessionTransition(ctx context.Context, session *WorkflowSession, t *Transition) error {
	history, err := json.Marshal(session.FeedbackHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback history: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	session.UpdatedAt = time.Now()
	if _, err := tx.ExecContext(ctx, `UPDATE workflow_sessions SET state = ?, interpretation = ?,
		interpretation_confidence = ?, interpretation_approval = ?, plan_json = ?, plan_confidence = ?,
		plan_approval = ?, backup_id = ?, execution_results_json = ?, review_feedback = ?,
		results_approval = ?, final_feedback = ?, success_rating = ?, feedback_history = ?, error = ?,
		updated_at = ? WHERE id = ?`,
		session.State, session.Interpretation, session.InterpretationConfidence,
		session.InterpretationApproval, session.PlanJSON, session.PlanConfidence,
		session.PlanApproval, session.BackupID, session.ExecutionResultsJSON,
		session.ReviewFeedback, session.ResultsApproval, session.FinalFeedback,
		session.SuccessRating, string(history), session.Error, session.UpdatedAt, session.ID); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if t != nil {
		if _, err := tx.ExecContext(ctx, `INSERT INTO workflow_transitions
			(session_id, from_state, to_state, reason, created_at) VALUES (?, ?, ?, ?, ?)`,
			t.SessionID, t.FromState, t.ToState, t.Reason, time.Now()); err != nil {
			return fmt.Errorf("failed to insert transition: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListTransitions(ctx context.Context, sessionID string) ([]*Transition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, from_state, to_state, reason, created_at
		FROM workflow_transitions WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	var out []*Transition
	for rows.Next() {
		var t Transition
		if err := rows.Scan(&t.ID, &t.SessionID, &t.FromState, &t.ToState, &t.Reason, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// --- Feedback events ---

func (s *SQLiteStore) AppendFeedbackEvent(ctx context.Context, event *FeedbackEvent) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO feedback_events
		(session_id, user_id, stage, approved, feedback, rating, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.SessionID, event.UserID, event.Stage, event.Approved, event.Feedback,
		event.Rating, time.Now())
	if err != nil {
		return fmt.Errorf("failed to append feedback event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListFeedbackEvents(ctx context.Context, sessionID string) ([]*FeedbackEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, user_id, stage, approved, feedback, rating, created_at
		FROM feedback_events WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback events: %w", err)
	}
	defer rows.Close()

	var out []*FeedbackEvent
	for rows.Next() {
		var e FeedbackEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.Stage, &e.Approved, &e.Feedback, &e.Rating, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback event: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- Agents ---

func (s *SQLiteStore) GetAgent(ctx context.Context, name string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, description, model, system_prompt, enabled, created_at
		FROM agents WHERE name = ? AND enabled = 1`, name)
	var a Agent
	err := row.Scan(&a.Name, &a.Description, &a.Model, &a.SystemPrompt, &a.Enabled, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan agent: %w", err)
	}
	return &a, nil
}

func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, description, model, system_prompt, enabled, created_at
		FROM agents WHERE enabled = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var out []*Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.Name, &a.Description, &a.Model, &a.SystemPrompt, &a.Enabled, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// --- Audit ---

func (s *SQLiteStore) RecordToolExecution(ctx context.Context, exec *ToolExecution) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tool_executions
		(request_id, session_id, user_id, tool, args_json, success, output, error, execution_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.RequestID, exec.SessionID, exec.UserID, exec.Tool, exec.ArgsJSON,
		exec.Success, exec.Output, exec.Error, exec.ExecutionTimeMS, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record tool execution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *AuditLog) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_logs (user_id, request_id, action, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.UserID, entry.RequestID, entry.Action, entry.Detail, time.Now())
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAudit(ctx context.Context, requestID string) ([]*AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, request_id, action, detail, created_at
		FROM audit_logs WHERE request_id = ? ORDER BY id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*AuditLog
	for rows.Next() {
		var entry AuditLog
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.RequestID, &entry.Action, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}
