package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/froyodeploy/pkg/engine"
)

// Subdirectories of a project workspace.
const (
	SourceDir  = "source"
	ProgramDir = "program"
)

// Manager owns per-project working directories under a common root.
type Manager struct {
	root string
}

// Dirs are the directories of one prepared attempt.
type Dirs struct {
	Project string
	Source  string
	Program string
}

// NewManager ensures the workspace root exists.
func NewManager(root string) (*Manager, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string {
	return m.root
}

// ProjectDir derives the workspace path of a project from its name alone.
func (m *Manager) ProjectDir(name string) (string, error) {
	if err := engine.ValidateProjectName(name); err != nil {
		return "", engine.NewStageError("invalid workspace name", err)
	}
	dir := filepath.Join(m.root, name)
	if err := m.within(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// Prepare recreates the source and program directories of a project so an
// attempt never reads files left by a previous one.
func (m *Manager) Prepare(name string) (Dirs, error) {
	dir, err := m.ProjectDir(name)
	if err != nil {
		return Dirs{}, err
	}
	dirs := Dirs{
		Project: dir,
		Source:  filepath.Join(dir, SourceDir),
		Program: filepath.Join(dir, ProgramDir),
	}
	for _, d := range []string{dirs.Source, dirs.Program} {
		if err := os.RemoveAll(d); err != nil {
			return Dirs{}, engine.NewStageError("failed to clear workspace", err).WithResource(name)
		}
		if err := os.MkdirAll(d, 0o700); err != nil {
			return Dirs{}, engine.NewStageError("failed to create workspace", err).WithResource(name)
		}
	}
	return dirs, nil
}

// Cleanup removes the workspace of a project. A missing workspace is not an error.
func (m *Manager) Cleanup(name string) error {
	dir, err := m.ProjectDir(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", name, err)
	}
	return nil
}

func (m *Manager) within(path string) error {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || rel == "" || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return engine.NewStageError("refusing to use path outside workspace root", nil).WithResource(path)
	}
	return nil
}
