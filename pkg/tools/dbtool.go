package tools

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"lalo/core/pkg/core"
)

// DatabaseTool runs read-only queries against the application database. Only
// single SELECT/WITH statements pass; results are row-capped and the query
// runs under a statement timeout.
type DatabaseTool struct {
	db       *sql.DB
	rowLimit int
	timeout  time.Duration
}

func NewDatabaseTool(db *sql.DB, rowLimit int, timeout time.Duration) *DatabaseTool {
	if rowLimit <= 0 {
		rowLimit = 1000
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DatabaseTool{db: db, rowLimit: rowLimit, timeout: timeout}
}

func (t *DatabaseTool) Definition() Definition {
	return Definition{
		Name:        "database_query",
		Description: "Run a read-only SQL query (SELECT or WITH) against the application database",
		Category:    CategoryDatabase,
		Parameters: []Parameter{
			{Name: "query", Type: TypeString, Required: true},
			{Name: "params", Type: TypeArray, Required: false},
		},
		Returns: "rows as a list of column-keyed objects",
	}
}

// checkStatement enforces the read-only policy: one statement, starting with
// select or with.
func checkStatement(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return core.E(core.KindValidationFailed, "query is empty")
	}

	first := strings.ToLower(strings.Fields(trimmed)[0])
	if first != "select" && first != "with" {
		return core.E(core.KindSandboxViolation, "only SELECT and WITH statements are allowed")
	}

	// Reject multi-statement input; a trailing semicolon alone is fine.
	if idx := strings.IndexByte(trimmed, ';'); idx >= 0 {
		if rest := strings.TrimSpace(trimmed[idx+1:]); rest != "" {
			return core.E(core.KindSandboxViolation, "multiple statements are not allowed")
		}
	}
	return nil
}

func (t *DatabaseTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	query, _ := args["query"].(string)
	if err := checkStatement(query); err != nil {
		return nil, err
	}
	var params []any
	if raw, ok := args["params"].([]any); ok {
		params = raw
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	rows, err := t.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, core.Wrap(core.KindExecutionFailed, err, "query failed")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, core.Wrap(core.KindExecutionFailed, err, "failed to read columns")
	}

	var out []map[string]any
	truncated := false
	for rows.Next() {
		if len(out) >= t.rowLimit {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, core.Wrap(core.KindExecutionFailed, err, "failed to scan row")
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Wrap(core.KindExecutionFailed, err, "query iteration failed")
	}

	return &Result{
		Success: true,
		Output:  out,
		Metadata: map[string]any{
			"rows":      len(out),
			"truncated": truncated,
		},
	}, nil
}
