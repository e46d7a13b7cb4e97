package workspace

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/therealutkarshpriyadarshi/clipper/internal/logging"
)

// Manager hands out per-request scratch directories under one root
type Manager struct {
	fs     afero.Fs
	root   string
	logger *logging.Logger
}

// NewManager creates the root directory if needed. External tools read and
// write workspace paths directly, so fs must be backed by the OS filesystem
// outside of tests.
func NewManager(fs afero.Fs, root string, logger *logging.Logger) (*Manager, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}
	return &Manager{fs: fs, root: root, logger: logger.WithComponent("workspace")}, nil
}

// Create makes a fresh, uniquely named workspace
func (m *Manager) Create(prefix string) (*Workspace, error) {
	dir, err := afero.TempDir(m.fs, m.root, "clipper-"+prefix+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{fs: m.fs, dir: dir, logger: m.logger}, nil
}

// Workspace is a scratch directory owned by exactly one request
type Workspace struct {
	fs     afero.Fs
	dir    string
	logger *logging.Logger
	once   sync.Once
	err    error
}

// Dir returns the workspace directory
func (w *Workspace) Dir() string {
	return w.dir
}

// Path returns name joined onto the workspace directory
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Fs returns the filesystem the workspace lives on
func (w *Workspace) Fs() afero.Fs {
	return w.fs
}

// Remove deletes the workspace and everything in it. Safe to call more than once.
func (w *Workspace) Remove() error {
	w.once.Do(func() {
		if err := w.fs.RemoveAll(w.dir); err != nil {
			w.err = fmt.Errorf("failed to remove workspace %s: %w", w.dir, err)
			w.logger.WarnWithErr("Workspace cleanup failed", err)
		}
	})
	return w.err
}

// Detach moves name out of the workspace to dst so it survives Remove
func (w *Workspace) Detach(name, dst string) error {
	src := w.Path(name)
	if err := w.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
	}
	if err := w.fs.Rename(src, dst); err == nil {
		return nil
	}
	// rename fails across devices, e.g. a tmpfs workspace and a disk cache
	return moveByCopy(w.fs, src, dst)
}

func moveByCopy(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := fs.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		fs.Remove(dst)
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		fs.Remove(dst)
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return fs.Remove(src)
}
