// Package workspace stages the inputs of one evaluation on the host.
//
// A Workspace is a uniquely named directory holding the untrusted code and
// the JSON-encoded scope. It is bind-mounted into exactly one sandbox and is
// removed by Destroy once the evaluation is over.
package workspace

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Filenames the in-container runner reads from its data directory.
const (
	CodeFilename  = "user_code.py"
	ScopeFilename = "scope.json"
)

// The sandbox user is not the owner of these files, so they must be world readable.
const (
	DirPermission  = 0o755
	FilePermission = 0o644
)

// DirPrefix prefixes every workspace directory name.
const DirPrefix = "safe-eval-"

// Workspace is one staged evaluation directory
type Workspace struct {
	ID   string
	Path string
}

// CodePath returns the host path of the code file
func (w *Workspace) CodePath() string {
	return filepath.Join(w.Path, CodeFilename)
}

// ScopePath returns the host path of the scope file
func (w *Workspace) ScopePath() string {
	return filepath.Join(w.Path, ScopeFilename)
}

// IOError reports a failure to stage a workspace
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("workspace %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// CleanupObserver is notified of workspace removal failures
type CleanupObserver interface {
	WorkspaceCleanupFailed()
}

// Manager creates and destroys workspaces under a root directory
type Manager struct {
	logger   *zap.Logger
	root     string
	fs       FileSystem
	observer CleanupObserver
	newID    func() (string, error)
}

// Option defines a functional option for Manager
type Option func(*Manager)

// WithFileSystem sets the FileSystem for Manager
func WithFileSystem(fs FileSystem) Option {
	return func(m *Manager) {
		m.fs = fs
	}
}

// WithCleanupObserver sets the observer told about failed removals
func WithCleanupObserver(o CleanupObserver) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// NewManager creates a Manager rooted at root
func NewManager(logger *zap.Logger, root string, opts ...Option) *Manager {
	m := &Manager{
		logger: logger,
		root:   root,
		fs:     RealFileSystem{},
		newID:  randomID,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// randomID returns 32 hex characters from a version 4 UUID, which is read
// from crypto/rand.
func randomID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

// Create stages code and scope in a fresh directory. On error nothing is
// left behind on disk.
func (m *Manager) Create(code string, scope map[string]any) (*Workspace, error) {
	id, err := m.newID()
	if err != nil {
		return nil, &IOError{Op: "generate id", Path: m.root, Err: err}
	}

	ws := &Workspace{
		ID:   id,
		Path: filepath.Join(m.root, DirPrefix+id),
	}

	// Mkdir fails on an existing path, so two requests never share a directory.
	if err := m.fs.Mkdir(ws.Path, DirPermission); err != nil {
		return nil, &IOError{Op: "mkdir", Path: ws.Path, Err: err}
	}

	if err := m.populate(ws, code, scope); err != nil {
		m.Destroy(ws)
		return nil, err
	}

	m.logger.Debug("workspace created",
		zap.String("workspace", ws.ID),
		zap.String("path", ws.Path))

	return ws, nil
}

func (m *Manager) populate(ws *Workspace, code string, scope map[string]any) error {
	// Mkdir is subject to the process umask.
	if err := m.fs.Chmod(ws.Path, DirPermission); err != nil {
		return &IOError{Op: "chmod", Path: ws.Path, Err: err}
	}

	scopeJSON, err := json.Marshal(scope)
	if err != nil {
		return &IOError{Op: "encode scope", Path: ws.ScopePath(), Err: err}
	}

	if err := m.fs.WriteFile(ws.CodePath(), []byte(code), FilePermission); err != nil {
		return &IOError{Op: "write", Path: ws.CodePath(), Err: err}
	}

	if err := m.fs.WriteFile(ws.ScopePath(), scopeJSON, FilePermission); err != nil {
		return &IOError{Op: "write", Path: ws.ScopePath(), Err: err}
	}

	return nil
}

// Destroy removes the workspace directory tree. It never fails: errors are
// logged so they cannot mask the evaluation result.
func (m *Manager) Destroy(ws *Workspace) {
	if ws == nil {
		return
	}

	if err := m.fs.RemoveAll(ws.Path); err != nil {
		m.logger.Error("failed to remove workspace",
			zap.String("workspace", ws.ID),
			zap.String("path", ws.Path),
			zap.Error(err))
		if m.observer != nil {
			m.observer.WorkspaceCleanupFailed()
		}
		return
	}

	m.logger.Debug("workspace removed", zap.String("workspace", ws.ID))
}
