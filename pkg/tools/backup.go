package tools

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"lalo/core/internal/utils"
	"lalo/core/pkg/core"
)

// BackupStore snapshots the filesystem sandbox so workflow execution can be
// rolled back when a step leaves the sandbox in a bad state. Snapshot IDs are
// opaque to callers.
type BackupStore struct {
	sandboxRoot string
	backupRoot  string
	logger      utils.ExtendedLogger
}

func NewBackupStore(sandboxRoot, backupRoot string, logger utils.ExtendedLogger) (*BackupStore, error) {
	absSandbox, err := filepath.Abs(sandboxRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox root: %w", err)
	}
	absBackup, err := filepath.Abs(backupRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backup root: %w", err)
	}
	if err := os.MkdirAll(absBackup, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup root: %w", err)
	}
	return &BackupStore{sandboxRoot: absSandbox, backupRoot: absBackup, logger: logger}, nil
}

// Snapshot copies the sandbox into a new backup directory and returns its id.
func (b *BackupStore) Snapshot() (string, error) {
	id := uuid.New().String()
	dest := filepath.Join(b.backupRoot, id)
	if err := copyTree(b.sandboxRoot, dest); err != nil {
		os.RemoveAll(dest)
		return "", core.Wrap(core.KindExecutionFailed, err, "snapshot failed")
	}
	b.logger.Infof("🗄️ Created sandbox snapshot %s", id)
	return id, nil
}

// Restore replaces the sandbox contents with the named snapshot.
func (b *BackupStore) Restore(id string) error {
	src := filepath.Join(b.backupRoot, id)
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		return core.E(core.KindNotFound, "snapshot %s not found", id)
	}

	if err := os.RemoveAll(b.sandboxRoot); err != nil {
		return core.Wrap(core.KindExecutionFailed, err, "failed to clear sandbox")
	}
	if err := copyTree(src, b.sandboxRoot); err != nil {
		return core.Wrap(core.KindExecutionFailed, err, "restore failed")
	}
	b.logger.Infof("🗄️ Restored sandbox from snapshot %s", id)
	return nil
}

// Delete removes a snapshot.
func (b *BackupStore) Delete(id string) error {
	return os.RemoveAll(filepath.Join(b.backupRoot, id))
}

func copyTree(src, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
