package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flujos-esign/internal/config"
)

func newTestManager(t *testing.T) Manager {
	t.Helper()
	cfg := &config.Config{Workspace: config.WorkspaceConfig{BasePath: filepath.Join(t.TempDir(), "ws")}}
	m, err := NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestSession_LifeCycle(t *testing.T) {
	m := newTestManager(t)

	s, err := m.Open("req 1/ana")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(s.Dir()), "session-req_1_ana-"))
	assert.Equal(t, m.BasePath(), filepath.Dir(s.Dir()))

	path, err := s.WriteFile("../escape.png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, s.Dir(), filepath.Dir(path))

	require.NoError(t, s.Close())
	_, err = os.Stat(s.Dir())
	assert.True(t, os.IsNotExist(err))

	// second close is a no-op
	assert.NoError(t, s.Close())
}

func TestSessions_AreIsolated(t *testing.T) {
	m := newTestManager(t)

	a, err := m.Open("a")
	require.NoError(t, err)
	defer a.Close()
	b, err := m.Open("a")
	require.NoError(t, err)
	defer b.Close()

	assert.NotEqual(t, a.Dir(), b.Dir())
}
