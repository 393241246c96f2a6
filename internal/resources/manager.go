// Package resources owns the temporary files of one pipeline run.
package resources

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Manager tracks the temp source copy, chunk sub-files and rendered image directories of a run.
// Cleanup removes chunk files and image directories first, then the source copy, then the run
// directory itself. Failures are logged and returned as warnings; they never abort the run.
type Manager struct {
	logger    *slog.Logger
	runDir    string
	source    string
	chunks    []string
	imageDirs []string
	removeAll func(string) error

	mu      sync.Mutex
	cleaned bool
}

// NewManager creates the run directory under the system temp dir.
func NewManager(logger *slog.Logger) (*Manager, error) {
	return NewManagerIn("", logger)
}

// NewManagerIn creates the run directory under base.
func NewManagerIn(base string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir, err := os.MkdirTemp(base, "docproc-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	logger.Debug("Created temp directory.", "path", dir)
	return &Manager{logger: logger, runDir: dir, removeAll: os.RemoveAll}, nil
}

// Dir returns the run directory.
func (m *Manager) Dir() string {
	return m.runDir
}

// SourcePath returns the path of the temp source copy, keeping the original extension.
func (m *Manager) SourcePath(ext string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.source == "" {
		m.source = filepath.Join(m.runDir, "source"+ext)
	}
	return m.source
}

// ChunkPath allocates the path of a chunk sub-document.
func (m *Manager) ChunkPath(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cleaned {
		return "", fmt.Errorf("resource manager already cleaned up")
	}
	p := filepath.Join(m.runDir, fmt.Sprintf("chunk_%s.pdf", key))
	m.chunks = append(m.chunks, p)
	return p, nil
}

// ImageDir creates a directory for the rendered images of one chunk.
func (m *Manager) ImageDir(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cleaned {
		return "", fmt.Errorf("resource manager already cleaned up")
	}
	dir, err := os.MkdirTemp(m.runDir, fmt.Sprintf("images_%s-*", key))
	if err != nil {
		return "", fmt.Errorf("failed to create image dir: %w", err)
	}
	m.imageDirs = append(m.imageDirs, dir)
	return dir, nil
}

// Tracked returns every path the manager will remove, in removal order.
func (m *Manager) Tracked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.chunks)+len(m.imageDirs)+2)
	out = append(out, m.chunks...)
	out = append(out, m.imageDirs...)
	if m.source != "" {
		out = append(out, m.source)
	}
	return append(out, m.runDir)
}

// Cleanup removes every tracked resource. It is safe to call more than once; only the first call
// does any work. The returned errors are warnings and have already been logged.
func (m *Manager) Cleanup() []error {
	m.mu.Lock()
	if m.cleaned {
		m.mu.Unlock()
		return nil
	}
	m.cleaned = true
	m.mu.Unlock()

	var warnings []error
	for _, p := range m.Tracked() {
		if err := m.removeAll(p); err != nil {
			m.logger.Warn("Failed to remove temp resource.", "kind", "resource_cleanup_warning", "path", p, "error", err)
			warnings = append(warnings, fmt.Errorf("remove %s: %w", p, err))
		}
	}
	m.logger.Debug("Temp resources cleaned up.", "path", m.runDir, "warnings", len(warnings))
	return warnings
}
