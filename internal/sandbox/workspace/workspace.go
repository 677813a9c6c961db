// Package workspace manages the per-submission scratch directories.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	appErr "coderunner/pkg/errors"

	"github.com/google/uuid"
)

const (
	dirPrefix       = "ws-"
	defaultDirMode  = 0o755
	defaultFileMode = 0o644
)

// Config controls where workspaces are created.
type Config struct {
	Root string `yaml:"root"`
}

// Workspace is one submission's scratch directory. It is owned by a single
// in-flight execution and must be released exactly once.
type Workspace struct {
	ID  string
	Dir string

	mu         sync.Mutex
	files      []string
	once       sync.Once
	releaseErr error
}

// Files returns the relative paths written so far.
func (w *Workspace) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.files...)
}

// Path joins a relative name onto the workspace directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Manager creates and destroys workspaces under one root.
type Manager struct {
	root string
}

// NewManager creates a workspace manager. The root is created on demand.
func NewManager(cfg Config) (*Manager, error) {
	root := cfg.Root
	if root == "" {
		root = filepath.Join(os.TempDir(), "coderunner")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceIOFailure, "resolve workspace root failed")
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute directory workspaces are created in.
func (m *Manager) Root() string {
	return m.root
}

// Acquire creates a fresh, uniquely named workspace directory.
func (m *Manager) Acquire(ctx context.Context) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceIOFailure, "acquire workspace cancelled")
	}
	if err := os.MkdirAll(m.root, defaultDirMode); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceIOFailure, "create workspace root failed")
	}
	id := uuid.NewString()
	dir := filepath.Join(m.root, dirPrefix+id)
	// Mkdir rather than MkdirAll: an existing directory must fail, never be shared.
	if err := os.Mkdir(dir, defaultDirMode); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceIOFailure, "create workspace failed").
			WithDetail("dir", dir)
	}
	return &Workspace{ID: id, Dir: dir}, nil
}

// Write stores data at a path relative to the workspace.
func (m *Manager) Write(ws *Workspace, name string, data []byte) error {
	if ws == nil {
		return appErr.New(appErr.WorkspaceIOFailure).WithMessage("workspace is nil")
	}
	if name == "" || filepath.IsAbs(name) || !filepath.IsLocal(name) {
		return appErr.Newf(appErr.WorkspaceIOFailure, "invalid workspace path %q", name)
	}
	target := filepath.Join(ws.Dir, name)
	if err := os.MkdirAll(filepath.Dir(target), defaultDirMode); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceIOFailure, "create workspace subdirectory failed")
	}
	if err := os.WriteFile(target, data, defaultFileMode); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceIOFailure, "write workspace file failed").
			WithDetail("file", name)
	}
	ws.mu.Lock()
	ws.files = append(ws.files, name)
	ws.mu.Unlock()
	return nil
}

// Release removes the workspace directory. Only the first call does work;
// later calls return the first result.
func (m *Manager) Release(ctx context.Context, ws *Workspace) error {
	if ws == nil {
		return nil
	}
	ws.once.Do(func() {
		if err := m.remove(ws.Dir); err != nil {
			ws.releaseErr = appErr.Wrapf(err, appErr.CleanupFailure, "remove workspace failed").
				WithDetail("dir", ws.Dir)
		}
	})
	return ws.releaseErr
}

func (m *Manager) remove(dir string) error {
	rel, err := filepath.Rel(m.root, dir)
	if err != nil || !filepath.IsLocal(rel) {
		return fmt.Errorf("workspace %s is outside root %s", dir, m.root)
	}
	if err := os.RemoveAll(dir); err != nil {
		// Programs may leave read-only directories behind; restore write
		// permission and try once more.
		_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr == nil && d.IsDir() {
				_ = os.Chmod(path, defaultDirMode)
			}
			return nil
		})
		return os.RemoveAll(dir)
	}
	return nil
}
