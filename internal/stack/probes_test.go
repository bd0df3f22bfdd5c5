package stack

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/stackctl/internal/config"
	"github.com/loykin/stackctl/internal/infra"
	"github.com/loykin/stackctl/internal/logger"
	"github.com/loykin/stackctl/internal/readiness"
)

type stuckRunner struct{}

func (stuckRunner) Run(ctx context.Context, _ string, _ ...string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Second):
		return nil, nil
	}
}

func TestExecProbeHonoursConfiguredTimeout(t *testing.T) {
	l := infra.NewLauncher(infra.Config{}, stuckRunner{}, logger.Discard())
	p, err := buildProbe(config.ProbeConfig{Type: "exec", Service: "postgres", Command: "pg_isready", Timeout: 100 * time.Millisecond}, l)
	require.NoError(t, err)

	start := time.Now()
	err = readiness.WaitUntilReady(context.Background(), p, readiness.PollPolicy{MaxIterations: 1}, logger.Discard())
	var te *readiness.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestBuildProbeUnknownType(t *testing.T) {
	_, err := buildProbe(config.ProbeConfig{Type: "smoke"}, nil)
	require.Error(t, err)
}
