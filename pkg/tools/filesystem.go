package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lalo/core/pkg/core"
)

// allowedExtensions is the file-type allowlist for the filesystem tool.
var allowedExtensions = map[string]bool{
	".txt": true, ".md": true, ".json": true, ".yaml": true, ".yml": true,
	".csv": true, ".log": true, ".py": true, ".js": true, ".go": true,
	".html": true, ".css": true, ".xml": true, ".toml": true,
}

// FilesystemTool confines read/write/list/delete to a sandbox root with a
// per-file byte cap.
type FilesystemTool struct {
	root     string
	maxBytes int64
}

func NewFilesystemTool(root string, maxBytes int64) (*FilesystemTool, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox root: %w", err)
	}
	return &FilesystemTool{root: abs, maxBytes: maxBytes}, nil
}

func (t *FilesystemTool) Definition() Definition {
	return Definition{
		Name:        "file_operations",
		Description: "Read, write, list and delete files inside the sandbox directory",
		Category:    CategoryFilesystem,
		Parameters: []Parameter{
			{Name: "operation", Type: TypeString, Required: true, Enum: []string{"read", "write", "list", "delete"}},
			{Name: "path", Type: TypeString, Required: true},
			{Name: "content", Type: TypeString, Required: false},
		},
		Returns: "file contents, directory listing, or operation confirmation",
	}
}

// resolve normalizes p and rejects anything escaping the sandbox root.
func (t *FilesystemTool) resolve(p string) (string, error) {
	resolved := filepath.Clean(filepath.Join(t.root, p))
	if resolved != t.root && !strings.HasPrefix(resolved, t.root+string(filepath.Separator)) {
		return "", core.E(core.KindSandboxViolation, "path %q escapes the sandbox root", p)
	}
	return resolved, nil
}

func (t *FilesystemTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	operation, _ := args["operation"].(string)
	rawPath, _ := args["path"].(string)

	path, err := t.resolve(rawPath)
	if err != nil {
		return nil, err
	}

	switch operation {
	case "read":
		return t.read(path)
	case "write":
		content, _ := args["content"].(string)
		return t.write(path, content)
	case "list":
		return t.list(path)
	case "delete":
		return t.delete(path)
	default:
		return nil, core.E(core.KindValidationFailed, "unknown operation %q", operation)
	}
}

func (t *FilesystemTool) checkExtension(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !allowedExtensions[ext] {
		return core.E(core.KindSandboxViolation, "file type %q is not allowed", ext)
	}
	return nil
}

func (t *FilesystemTool) read(path string) (*Result, error) {
	if err := t.checkExtension(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, core.Wrap(core.KindNotFound, err, "cannot read %s", filepath.Base(path))
	}
	if info.Size() > t.maxBytes {
		return nil, core.E(core.KindSandboxViolation, "file exceeds the %d byte cap", t.maxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.Wrap(core.KindExecutionFailed, err, "read failed")
	}
	return &Result{Success: true, Output: string(data), Metadata: map[string]any{"bytes": len(data)}}, nil
}

func (t *FilesystemTool) write(path, content string) (*Result, error) {
	if err := t.checkExtension(path); err != nil {
		return nil, err
	}
	if int64(len(content)) > t.maxBytes {
		return nil, core.E(core.KindSandboxViolation, "content exceeds the %d byte cap", t.maxBytes)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, core.Wrap(core.KindExecutionFailed, err, "failed to create parent directory")
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, core.Wrap(core.KindExecutionFailed, err, "write failed")
	}
	return &Result{Success: true, Output: fmt.Sprintf("wrote %d bytes", len(content))}, nil
}

func (t *FilesystemTool) list(path string) (*Result, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, core.Wrap(core.KindNotFound, err, "cannot list %s", filepath.Base(path))
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return &Result{Success: true, Output: names}, nil
}

func (t *FilesystemTool) delete(path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, core.Wrap(core.KindNotFound, err, "cannot delete %s", filepath.Base(path))
	}
	if info.IsDir() {
		return nil, core.E(core.KindSandboxViolation, "directory deletion is not allowed")
	}
	if err := os.Remove(path); err != nil {
		return nil, core.Wrap(core.KindExecutionFailed, err, "delete failed")
	}
	return &Result{Success: true, Output: "deleted"}, nil
}
