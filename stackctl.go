// Package stackctl launches and tears down a local application stack:
// container images, compose-managed stores, a backend service with a
// health endpoint and an optional dashboard.
package stackctl

import (
	"context"
	"log/slog"

	"github.com/loykin/stackctl/internal/config"
	"github.com/loykin/stackctl/internal/metrics"
	"github.com/loykin/stackctl/internal/stack"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.

type Config = config.Config

type Deps = stack.Deps

type LaunchOptions = stack.LaunchOptions

type LaunchReport = stack.LaunchReport

type ShutdownOptions = stack.ShutdownOptions

type ShutdownReport = stack.ShutdownReport

type StatusReport = stack.StatusReport

var ErrMissingCollaborator = stack.ErrMissingCollaborator

// Stack is a thin facade over internal/stack.
type Stack struct {
	deps *stack.Deps
}

// LoadConfig reads a TOML config file over the built-in defaults. A missing
// file is not an error unless required is set.
func LoadConfig(path string, required bool) (*Config, error) {
	return config.Load(path, required)
}

// Open wires the production collaborators (docker engine, compose CLI,
// history sink) for cfg.
func Open(cfg *Config, logger *slog.Logger) (*Stack, error) {
	d, err := stack.Build(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Stack{deps: d}, nil
}

// New wraps caller-provided collaborators. Config is always required;
// Up also needs Images and Infra and fails with ErrMissingCollaborator
// without them, as does the infra step of Down with TeardownInfra.
func New(d Deps) *Stack { return &Stack{deps: &d} }

func (s *Stack) Up(ctx context.Context, opts LaunchOptions) (*LaunchReport, error) {
	return stack.NewLauncher(*s.deps).Up(ctx, opts)
}

func (s *Stack) Down(ctx context.Context, opts ShutdownOptions) *ShutdownReport {
	return stack.NewCoordinator(*s.deps).Shutdown(ctx, opts)
}

func (s *Stack) Status(ctx context.Context) *StatusReport {
	return stack.Status(ctx, *s.deps)
}

func (s *Stack) Close() error { return s.deps.Close() }

// Metrics helpers

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// WriteMetricsTextfile writes everything g gathers to path for the node
// exporter textfile collector.
func WriteMetricsTextfile(path string, g prometheus.Gatherer) error {
	return metrics.WriteTextfile(path, g)
}
