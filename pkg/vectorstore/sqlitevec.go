package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"lalo/core/internal/utils"
	"lalo/core/pkg/core"
)

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver.
	sqlite_vec.Auto()
}

// SQLiteVec stores chunks in a plain table and their embeddings in a vec0
// virtual table sharing the rowid. Nearest-neighbor queries use
// vec_distance_cosine.
type SQLiteVec struct {
	db       *sql.DB
	embedder Embedder
	logger   utils.ExtendedLogger
}

func NewSQLiteVec(db *sql.DB, embedder Embedder, logger utils.ExtendedLogger) *SQLiteVec {
	return &SQLiteVec{db: db, embedder: embedder, logger: logger}
}

func (s *SQLiteVec) Initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS chunks (
		rowid INTEGER PRIMARY KEY AUTOINCREMENT,
		chunk_id TEXT NOT NULL UNIQUE,
		document TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}'
	)`); err != nil {
		return fmt.Errorf("failed to create chunks table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(embedding float[%d])`,
		s.embedder.Dimension())); err != nil {
		return fmt.Errorf("failed to create vec_chunks table: %w", err)
	}
	s.logger.Infof("📚 Vector store ready (dim=%d)", s.embedder.Dimension())
	return nil
}

func (s *SQLiteVec) AddDocuments(ctx context.Context, docs, ids []string, metadatas []map[string]string) error {
	if len(docs) != len(ids) {
		return core.E(core.KindInvalidInput, "docs and ids length mismatch: %d vs %d", len(docs), len(ids))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range docs {
		metadata := "{}"
		if i < len(metadatas) && metadatas[i] != nil {
			raw, err := json.Marshal(metadatas[i])
			if err != nil {
				return fmt.Errorf("failed to marshal metadata: %w", err)
			}
			metadata = string(raw)
		}

		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO chunks (chunk_id, document, metadata)
			VALUES (?, ?, ?)`, ids[i], docs[i], metadata)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
		// Re-ingesting an existing id is a no-op; only new rows get vectors.
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		rowid, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read rowid: %w", err)
		}
		blob, err := sqlite_vec.SerializeFloat32(s.embedder.Embed(docs[i]))
		if err != nil {
			return fmt.Errorf("failed to serialize embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO vec_chunks (rowid, embedding) VALUES (?, ?)`,
			rowid, blob); err != nil {
			return fmt.Errorf("failed to insert embedding: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteVec) Query(ctx context.Context, text string, topK int, filter map[string]string) (*QueryResult, error) {
	if topK <= 0 {
		topK = 5
	}
	blob, err := sqlite_vec.SerializeFloat32(s.embedder.Embed(text))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query embedding: %w", err)
	}

	// Over-fetch when filtering; the metadata predicate is applied in Go.
	fetch := topK
	if len(filter) > 0 {
		fetch = topK * 4
	}
	rows, err := s.db.QueryContext(ctx, `SELECT c.chunk_id, c.document, c.metadata,
		vec_distance_cosine(v.embedding, ?) AS distance
		FROM vec_chunks v JOIN chunks c ON v.rowid = c.rowid
		ORDER BY distance ASC LIMIT ?`, blob, fetch)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	defer rows.Close()

	result := &QueryResult{}
	for rows.Next() {
		var id, doc, metadata string
		var distance float64
		if err := rows.Scan(&id, &doc, &metadata, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan query row: %w", err)
		}
		var meta map[string]string
		if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		if !matchesFilter(meta, filter) {
			continue
		}
		result.IDs = append(result.IDs, id)
		result.Documents = append(result.Documents, doc)
		result.Metadatas = append(result.Metadatas, meta)
		result.Distances = append(result.Distances, distance)
		if len(result.IDs) >= topK {
			break
		}
	}
	return result, rows.Err()
}

func (s *SQLiteVec) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func (s *SQLiteVec) GetSample(ctx context.Context, limit int) (*QueryResult, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id, document, metadata FROM chunks LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to sample chunks: %w", err)
	}
	defer rows.Close()

	result := &QueryResult{}
	for rows.Next() {
		var id, doc, metadata string
		if err := rows.Scan(&id, &doc, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan sample row: %w", err)
		}
		var meta map[string]string
		if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		result.IDs = append(result.IDs, id)
		result.Documents = append(result.Documents, doc)
		result.Metadatas = append(result.Metadatas, meta)
	}
	return result, rows.Err()
}

func (s *SQLiteVec) Delete(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		var rowid int64
		err := tx.QueryRowContext(ctx, `SELECT rowid FROM chunks WHERE chunk_id = ?`, id).Scan(&rowid)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to look up chunk: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_chunks WHERE rowid = ?`, rowid); err != nil {
			return fmt.Errorf("failed to delete embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE rowid = ?`, rowid); err != nil {
			return fmt.Errorf("failed to delete chunk: %w", err)
		}
	}
	return tx.Commit()
}

func matchesFilter(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}
