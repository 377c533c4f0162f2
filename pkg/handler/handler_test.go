package handler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lalo/core/internal/llm"
	"lalo/core/internal/utils"
	"lalo/core/pkg/core"
	"lalo/core/pkg/database"
	"lalo/core/pkg/events"
	"lalo/core/pkg/orchestrator"
	"lalo/core/pkg/planner"
	"lalo/core/pkg/router"
	"lalo/core/pkg/scorer"
	"lalo/core/pkg/tools"
)

// stubGateway answers every model with the same text, or fails everything.
type stubGateway struct {
	text string
	err  error
}

func (s *stubGateway) Generate(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Completion{Text: s.text, Model: req.Model, Usage: llm.Usage{InputTokens: 5, OutputTokens: 7}}, nil
}

func (s *stubGateway) AvailableModels(userID string) []llm.ModelInfo {
	return []llm.ModelInfo{{Name: "test-model"}}
}

func newTestHandler(t *testing.T, gw *stubGateway, cfg Config) (*Handler, database.Store) {
	t.Helper()
	logger := utils.NewTestLogger()

	store, err := database.NewSQLiteStore(filepath.Join(t.TempDir(), "core.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := tools.NewRegistry(logger, tools.NewExecPool(4))
	sc := scorer.New(nil, "", logger)
	pl := planner.New(nil, "", logger) // degraded single-step plans
	orch := orchestrator.New(gw, reg, pl, sc, events.NewEmitter(), logger, orchestrator.Config{})
	rt := router.New(nil, "", logger) // heuristic routing

	return New(store, rt, orch, events.NewEmitter(), nil, logger, cfg), store
}

func alice() core.Principal { return core.Principal{UserID: "alice"} }

const fullAnswer = "Osmosis is the movement of solvent molecules across a selectively permeable membrane toward the region of higher solute concentration."

func TestHandleSimpleRequest(t *testing.T) {
	h, store := newTestHandler(t, &stubGateway{text: fullAnswer}, Config{})

	resp := h.Handle(context.Background(), alice(), "define osmosis")
	require.Nil(t, resp.Error)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, fullAnswer, resp.Response)
	assert.Equal(t, string(router.PathSimple), resp.Path)
	require.NotNil(t, resp.RoutingDecision)
	require.NotNil(t, resp.ConfidenceDetails)
	assert.Equal(t, resp.ConfidenceDetails.Overall, resp.Confidence)
	assert.Equal(t, "alice", resp.Metadata.UserID)
	assert.Greater(t, resp.Metadata.FallbackAttempts, 0)
	assert.Equal(t, 12, resp.Metadata.TokensUsed)

	// Terminal row persisted with its audit entry.
	row, err := store.GetRequest(context.Background(), resp.RequestID)
	require.NoError(t, err)
	assert.Equal(t, database.RequestCompleted, row.Status)
	assert.Equal(t, fullAnswer, row.Response)
	assert.NotNil(t, row.CompletedAt)
	assert.Len(t, row.FallbackAttempts, resp.Metadata.FallbackAttempts)

	audit, err := store.ListAudit(context.Background(), resp.RequestID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "request_completed", audit[0].Action)
}

func TestHandleComplexRequest(t *testing.T) {
	h, _ := newTestHandler(t, &stubGateway{text: fullAnswer}, Config{})

	resp := h.Handle(context.Background(), alice(), "design and optimize a distributed cache for session storage")
	require.Nil(t, resp.Error)
	assert.Equal(t, string(router.PathComplex), resp.Path)
	assert.Equal(t, fullAnswer, resp.Response)
}

func TestHandleEmptyRequest(t *testing.T) {
	h, _ := newTestHandler(t, &stubGateway{text: "x"}, Config{})

	resp := h.Handle(context.Background(), alice(), "")
	require.NotNil(t, resp.Error)
	assert.Equal(t, core.KindInvalidInput, resp.Error.Kind)
	assert.False(t, resp.Error.Retryable)
	assert.Empty(t, resp.RequestID)
}

func TestHandleFailureEnvelope(t *testing.T) {
	down := core.E(core.KindDependencyUnavailable, "provider down")
	h, store := newTestHandler(t, &stubGateway{err: down}, Config{})

	resp := h.Handle(context.Background(), alice(), "define osmosis")
	require.NotNil(t, resp.Error)
	assert.Equal(t, core.KindDependencyUnavailable, resp.Error.Kind)
	assert.True(t, resp.Error.Retryable)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, 1, resp.Metadata.FallbackAttempts)

	row, err := store.GetRequest(context.Background(), resp.RequestID)
	require.NoError(t, err)
	assert.Equal(t, database.RequestFailed, row.Status)
	assert.NotEmpty(t, row.Error)
}

func TestInflightLimit(t *testing.T) {
	h, _ := newTestHandler(t, &stubGateway{text: fullAnswer}, Config{MaxInflightPerPrincipal: 1})

	// Occupy alice's only slot, then try another request.
	require.True(t, h.acquire("alice"))
	defer h.release("alice")

	resp := h.Handle(context.Background(), alice(), "define osmosis")
	require.NotNil(t, resp.Error)
	assert.Equal(t, core.KindRateLimited, resp.Error.Kind)
	assert.True(t, resp.Error.Retryable)

	// Other principals are unaffected.
	other := h.Handle(context.Background(), core.Principal{UserID: "bob"}, "define osmosis")
	assert.Nil(t, other.Error)
}

func TestInflightReleasedAfterHandle(t *testing.T) {
	h, _ := newTestHandler(t, &stubGateway{text: fullAnswer}, Config{MaxInflightPerPrincipal: 1})

	first := h.Handle(context.Background(), alice(), "define osmosis")
	require.Nil(t, first.Error)
	second := h.Handle(context.Background(), alice(), "define osmosis")
	assert.Nil(t, second.Error)
}
