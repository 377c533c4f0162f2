package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"io"
	"time"

	"lalo/core/internal/utils"
	"lalo/core/pkg/core"
)

// Provider stores credentials encrypted at rest. Values are scoped per user;
// plaintext leaves the store only through Get.
type Provider interface {
	Set(ctx context.Context, userID, name, value string) error
	Get(ctx context.Context, userID, name string) (string, error)
	List(ctx context.Context, userID string) ([]string, error)
	Delete(ctx context.Context, userID, name string) error
}

// SQLiteProvider encrypts values with AES-256-GCM before writing them into a
// secrets table. The key is derived from the configured encryption key with
// SHA-256, so any passphrase of reasonable length works.
type SQLiteProvider struct {
	db     *sql.DB
	aead   cipher.AEAD
	logger utils.ExtendedLogger
}

func NewSQLiteProvider(db *sql.DB, encryptionKey string, logger utils.ExtendedLogger) (*SQLiteProvider, error) {
	if encryptionKey == "" {
		return nil, fmt.Errorf("encryption key is required")
	}
	key := sha256.Sum256([]byte(encryptionKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS secrets (
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		ciphertext BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, name)
	)`); err != nil {
		return nil, fmt.Errorf("failed to create secrets table: %w", err)
	}

	return &SQLiteProvider{db: db, aead: aead, logger: logger}, nil
}

func (p *SQLiteProvider) Set(ctx context.Context, userID, name, value string) error {
	if userID == "" || name == "" {
		return core.E(core.KindInvalidInput, "secret user and name are required")
	}
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	// Bind ciphertext to its owner and name so rows cannot be swapped.
	aad := []byte(userID + "\x00" + name)
	ciphertext := p.aead.Seal(nonce, nonce, []byte(value), aad)

	_, err := p.db.ExecContext(ctx, `INSERT INTO secrets (user_id, name, ciphertext, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, name) DO UPDATE SET ciphertext = excluded.ciphertext, updated_at = excluded.updated_at`,
		userID, name, ciphertext, time.Now())
	if err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}
	p.logger.Debugf("🔐 Stored secret %s for user %s", name, userID)
	return nil
}

func (p *SQLiteProvider) Get(ctx context.Context, userID, name string) (string, error) {
	var ciphertext []byte
	err := p.db.QueryRowContext(ctx, `SELECT ciphertext FROM secrets WHERE user_id = ? AND name = ?`,
		userID, name).Scan(&ciphertext)
	if err == sql.ErrNoRows {
		return "", core.E(core.KindNotFound, "secret %s not found", name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	if len(ciphertext) < p.aead.NonceSize() {
		return "", core.E(core.KindInternal, "secret %s is corrupted", name)
	}

	nonce, sealed := ciphertext[:p.aead.NonceSize()], ciphertext[p.aead.NonceSize():]
	aad := []byte(userID + "\x00" + name)
	plaintext, err := p.aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return "", core.Wrap(core.KindInternal, err, "failed to decrypt secret %s", name)
	}
	return string(plaintext), nil
}

func (p *SQLiteProvider) List(ctx context.Context, userID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT name FROM secrets WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan secret name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (p *SQLiteProvider) Delete(ctx context.Context, userID, name string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM secrets WHERE user_id = ? AND name = ?`, userID, name)
	if err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.E(core.KindNotFound, "secret %s not found", name)
	}
	return nil
}
