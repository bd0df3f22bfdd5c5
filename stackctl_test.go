package stackctl

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/stackctl/internal/logger"
	"github.com/loykin/stackctl/internal/process"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"), false)
	require.NoError(t, err)
	assert.Equal(t, "backend", cfg.Backend.Name)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"), true)
	require.Error(t, err)
}

func TestFacadeDownAndStatusOnEmptyStack(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	cfg, err := LoadConfig("", false)
	require.NoError(t, err)
	cfg.PIDDir = filepath.Join(dir, "run")
	cfg.LogDir = filepath.Join(dir, "logs")
	cfg.Backend.BaseURL = "http://127.0.0.1:1"
	cfg.Backend.Signature = ""
	cfg.Dashboard.Signature = ""

	s := New(Deps{Config: cfg, Logger: logger.Discard()})
	defer func() { _ = s.Close() }()

	rep := s.Down(context.Background(), ShutdownOptions{})
	require.False(t, rep.Failed())
	for _, e := range rep.Entries {
		assert.Equal(t, process.OutcomeAlreadyStopped, e.Outcome, e.Component)
	}

	st := s.Status(context.Background())
	assert.False(t, st.Backend.Healthy)
	for _, p := range st.Processes {
		assert.False(t, p.Alive)
	}
}

func TestMetricsTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterMetrics(reg))
	path := filepath.Join(t.TempDir(), "stackctl.prom")
	require.NoError(t, WriteMetricsTextfile(path, reg))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "stackctl_") || len(b) == 0)
}

func TestFacadeUpWithoutCollaborators(t *testing.T) {
	cfg, err := LoadConfig("", false)
	require.NoError(t, err)
	cfg.PIDDir = filepath.Join(t.TempDir(), "run")
	cfg.LogDir = ""

	_, err = New(Deps{Config: cfg, Logger: logger.Discard()}).Up(context.Background(), LaunchOptions{})
	require.ErrorIs(t, err, ErrMissingCollaborator)
}
