package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lalo/core/pkg/core"
)

func newFSTool(t *testing.T) (*FilesystemTool, string) {
	t.Helper()
	dir := t.TempDir()
	tool, err := NewFilesystemTool(dir, 1024)
	require.NoError(t, err)
	return tool, dir
}

func TestFilesystemReadWrite(t *testing.T) {
	tool, _ := newFSTool(t)
	ctx := context.Background()

	res, err := tool.Execute(ctx, map[string]any{
		"operation": "write", "path": "notes.txt", "content": "hello",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = tool.Execute(ctx, map[string]any{"operation": "read", "path": "notes.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Output)
}

func TestFilesystemPathTraversal(t *testing.T) {
	tool, _ := newFSTool(t)
	ctx := context.Background()

	for _, path := range []string{
		"../outside.txt",
		"../../etc/passwd",
		"sub/../../escape.txt",
	} {
		t.Run(path, func(t *testing.T) {
			_, err := tool.Execute(ctx, map[string]any{"operation": "read", "path": path})
			require.Error(t, err)
			assert.Equal(t, core.KindSandboxViolation, core.KindOf(err))
		})
	}

	// Interior ".." that stays inside the sandbox is fine.
	_, err := tool.Execute(ctx, map[string]any{
		"operation": "write", "path": "sub/../inside.txt", "content": "ok",
	})
	assert.NoError(t, err)
}

func TestFilesystemExtensionAllowlist(t *testing.T) {
	tool, _ := newFSTool(t)
	_, err := tool.Execute(context.Background(), map[string]any{
		"operation": "write", "path": "binary.exe", "content": "x",
	})
	require.Error(t, err)
	assert.Equal(t, core.KindSandboxViolation, core.KindOf(err))
}

func TestFilesystemByteCap(t *testing.T) {
	tool, _ := newFSTool(t)
	big := make([]byte, 2048)
	_, err := tool.Execute(context.Background(), map[string]any{
		"operation": "write", "path": "big.txt", "content": string(big),
	})
	require.Error(t, err)
	assert.Equal(t, core.KindSandboxViolation, core.KindOf(err))
}

func TestFilesystemNoDirectoryDelete(t *testing.T) {
	tool, dir := newFSTool(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))

	_, err := tool.Execute(context.Background(), map[string]any{
		"operation": "delete", "path": "sub",
	})
	require.Error(t, err)
	assert.Equal(t, core.KindSandboxViolation, core.KindOf(err))
}

func TestFilesystemList(t *testing.T) {
	tool, dir := newFSTool(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))

	res, err := tool.Execute(context.Background(), map[string]any{"operation": "list", "path": "."})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "sub/"}, res.Output)
}
