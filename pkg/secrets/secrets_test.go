package secrets

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lalo/core/internal/utils"
	"lalo/core/pkg/core"
	"lalo/core/pkg/database"
)

func newTestProvider(t *testing.T) *SQLiteProvider {
	t.Helper()
	store, err := database.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), utils.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	provider, err := NewSQLiteProvider(store.DB(), "test-encryption-key-32-chars-ok!", utils.NewTestLogger())
	require.NoError(t, err)
	return provider
}

func TestSecretRoundTrip(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.Set(ctx, "alice", "openai_api_key", "sk-test-123"))

	got, err := p.Get(ctx, "alice", "openai_api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", got)

	// Overwrite replaces the value.
	require.NoError(t, p.Set(ctx, "alice", "openai_api_key", "sk-test-456"))
	got, err = p.Get(ctx, "alice", "openai_api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-456", got)
}

func TestSecretsScopedPerUser(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.Set(ctx, "alice", "key", "alice-secret"))

	_, err := p.Get(ctx, "bob", "key")
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))

	names, err := p.List(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"key"}, names)

	names, err = p.List(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCiphertextNotPlaintext(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	require.NoError(t, p.Set(ctx, "alice", "key", "very-secret-value"))

	var ciphertext []byte
	require.NoError(t, p.db.QueryRow(`SELECT ciphertext FROM secrets`).Scan(&ciphertext))
	assert.NotContains(t, string(ciphertext), "very-secret-value")
}

func TestDeleteSecret(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.Set(ctx, "alice", "key", "v"))
	require.NoError(t, p.Delete(ctx, "alice", "key"))

	err := p.Delete(ctx, "alice", "key")
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}
