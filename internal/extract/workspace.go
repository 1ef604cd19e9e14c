package extract

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace is the ephemeral per-scan directory extracted entries live
// in. It never outlives the scan: callers defer Close on every path.
type Workspace struct {
	root string
}

// NewWorkspace creates a fresh scan directory under the system temp dir.
func NewWorkspace() (*Workspace, error) {
	root, err := os.MkdirTemp("", "dragonfly-scan-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scan workspace: %w", err)
	}
	return &Workspace{root: root}, nil
}

// Root returns the workspace directory.
func (w *Workspace) Root() string { return w.root }

// Path joins a validated relative path onto the workspace root.
func (w *Workspace) Path(rel string) string {
	return filepath.Join(w.root, filepath.FromSlash(rel))
}

// Close removes the workspace directory and everything in it.
func (w *Workspace) Close() error {
	return os.RemoveAll(w.root)
}
