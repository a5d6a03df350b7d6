package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"

	"flujos-esign/internal/config"
)

// Manager hands out per-session temporary directories
type Manager interface {
	// Open creates a fresh directory for one signing session
	Open(label string) (*Session, error)

	// BasePath returns the parent of every session directory
	BasePath() string
}

type manager struct {
	basePath string
	logger   *zap.Logger
}

func NewManager(cfg *config.Config, logger *zap.Logger) (Manager, error) {
	m := &manager{
		basePath: cfg.Workspace.BasePath,
		logger:   logger,
	}

	if err := os.MkdirAll(m.basePath, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory %s: %w", m.basePath, err)
	}

	logger.Info("Workspace initialized", zap.String("base_path", m.basePath))
	return m, nil
}

func (m *manager) BasePath() string {
	return m.basePath
}

var labelUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

func (m *manager) Open(label string) (*Session, error) {
	dir, err := os.MkdirTemp(m.basePath, "session-"+labelUnsafe.ReplaceAllString(label, "_")+"-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	m.logger.Debug("Session workspace opened", zap.String("dir", dir))
	return &Session{dir: dir, logger: m.logger}, nil
}

// Session owns a temporary directory removed by Close
type Session struct {
	dir    string
	logger *zap.Logger
	closed bool
}

func (s *Session) Dir() string {
	return s.dir
}

// WriteFile stores content under name inside the session and returns its path
func (s *Session) WriteFile(name string, content []byte) (string, error) {
	path := filepath.Join(s.dir, filepath.Base(name))
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return "", fmt.Errorf("failed to write session file %s: %w", name, err)
	}
	return path, nil
}

// Close removes the directory and everything in it. It is safe to call
// more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if err := os.RemoveAll(s.dir); err != nil {
		s.logger.Warn("Failed to remove session workspace",
			zap.String("dir", s.dir),
			zap.Error(err),
		)
		return err
	}

	s.logger.Debug("Session workspace removed", zap.String("dir", s.dir))
	return nil
}
