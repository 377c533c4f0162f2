package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lalo/core/internal/utils"
	"lalo/core/pkg/core"
)

// stubTool is a scripted tool for registry tests.
type stubTool struct {
	def     Definition
	execute func(ctx context.Context, args map[string]any) (*Result, error)
}

func (s *stubTool) Definition() Definition { return s.def }
func (s *stubTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	if s.execute != nil {
		return s.execute(ctx, args)
	}
	return &Result{Success: true, Output: "ok"}, nil
}

func echoTool() *stubTool {
	return &stubTool{def: Definition{
		Name:     "echo",
		Category: CategoryNetwork,
		Parameters: []Parameter{
			{Name: "message", Type: TypeString, Required: true},
			{Name: "mode", Type: TypeString, Required: false, Enum: []string{"loud", "quiet"}, Default: "quiet"},
		},
	}}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(utils.NewTestLogger(), NewExecPool(4))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(echoTool()))

	err := r.Register(echoTool())
	require.Error(t, err)
	assert.Equal(t, core.KindInvalidInput, core.KindOf(err))
}

func TestEnableIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(echoTool()))

	require.NoError(t, r.SetEnabled("echo", true))
	require.NoError(t, r.SetEnabled("echo", true))
	require.NoError(t, r.SetEnabled("echo", false))

	res := r.Execute(context.Background(), "echo", core.SystemPrincipal(), map[string]any{"message": "hi"})
	assert.False(t, res.Success)
	assert.Equal(t, string(core.KindNotFound), res.ErrorKind)
}

func TestExecuteUnknownTool(t *testing.T) {
	r := newTestRegistry(t)
	res := r.Execute(context.Background(), "nope", core.SystemPrincipal(), nil)
	assert.False(t, res.Success)
	assert.Equal(t, string(core.KindNotFound), res.ErrorKind)
}

func TestExecutePermissionGate(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(echoTool(), "tools:network"))

	denied := r.Execute(context.Background(), "echo",
		core.Principal{UserID: "alice"}, map[string]any{"message": "hi"})
	assert.False(t, denied.Success)
	assert.Equal(t, string(core.KindPermissionDenied), denied.ErrorKind)

	allowed := r.Execute(context.Background(), "echo",
		core.Principal{UserID: "alice", Permissions: []string{"tools:network"}},
		map[string]any{"message": "hi"})
	assert.True(t, allowed.Success)
}

func TestExecuteSchemaValidation(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(echoTool()))
	ctx := context.Background()
	principal := core.SystemPrincipal()

	// Missing required parameter.
	res := r.Execute(ctx, "echo", principal, map[string]any{})
	assert.False(t, res.Success)
	assert.Equal(t, string(core.KindValidationFailed), res.ErrorKind)

	// Wrong type.
	res = r.Execute(ctx, "echo", principal, map[string]any{"message": 42})
	assert.False(t, res.Success)
	assert.Equal(t, string(core.KindValidationFailed), res.ErrorKind)

	// Enum violation.
	res = r.Execute(ctx, "echo", principal, map[string]any{"message": "hi", "mode": "silent"})
	assert.False(t, res.Success)
	assert.Equal(t, string(core.KindValidationFailed), res.ErrorKind)

	// Unknown argument.
	res = r.Execute(ctx, "echo", principal, map[string]any{"message": "hi", "extra": true})
	assert.False(t, res.Success)
	assert.Equal(t, string(core.KindValidationFailed), res.ErrorKind)
}

func TestExecuteAppliesDefaults(t *testing.T) {
	r := newTestRegistry(t)
	tool := echoTool()
	var seen map[string]any
	tool.execute = func(ctx context.Context, args map[string]any) (*Result, error) {
		seen = args
		return &Result{Success: true}, nil
	}
	require.NoError(t, r.Register(tool))

	res := r.Execute(context.Background(), "echo", core.SystemPrincipal(), map[string]any{"message": "hi"})
	require.True(t, res.Success)
	assert.Equal(t, "quiet", seen["mode"])
}

func TestExecuteWrapsToolErrors(t *testing.T) {
	r := newTestRegistry(t)
	tool := echoTool()
	tool.execute = func(ctx context.Context, args map[string]any) (*Result, error) {
		return nil, core.E(core.KindSandboxViolation, "nope")
	}
	require.NoError(t, r.Register(tool))

	res := r.Execute(context.Background(), "echo", core.SystemPrincipal(), map[string]any{"message": "hi"})
	assert.False(t, res.Success)
	assert.Equal(t, string(core.KindSandboxViolation), res.ErrorKind)
	assert.GreaterOrEqual(t, res.ExecutionTimeMS, int64(0))
}

func TestExecuteContainsPanics(t *testing.T) {
	r := newTestRegistry(t)
	tool := echoTool()
	tool.execute = func(ctx context.Context, args map[string]any) (*Result, error) {
		panic("boom")
	}
	require.NoError(t, r.Register(tool))

	res := r.Execute(context.Background(), "echo", core.SystemPrincipal(), map[string]any{"message": "hi"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "panicked")
	assert.Equal(t, string(core.KindInternal), res.ErrorKind)
}

func TestExecuteUntypedErrorsBecomeInternal(t *testing.T) {
	r := newTestRegistry(t)
	tool := echoTool()
	tool.execute = func(ctx context.Context, args map[string]any) (*Result, error) {
		return nil, errors.New("plain failure")
	}
	require.NoError(t, r.Register(tool))

	res := r.Execute(context.Background(), "echo", core.SystemPrincipal(), map[string]any{"message": "hi"})
	assert.False(t, res.Success)
	assert.Equal(t, string(core.KindInternal), res.ErrorKind)
}
