package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/stackctl"
	"github.com/loykin/stackctl/internal/logger"
)

const defaultConfigPath = "stackctl.toml"

type command struct {
	global   *GlobalFlags
	stdout   io.Writer
	stderr   io.Writer
	registry *prometheus.Registry
	// open wires the stack for a loaded config; tests replace it.
	open func(cfg *stackctl.Config, l *slog.Logger) (*stackctl.Stack, error)
}

func newCommand(stdout, stderr io.Writer) *command {
	return &command{
		global:   &GlobalFlags{ConfigPath: defaultConfigPath},
		stdout:   stdout,
		stderr:   stderr,
		registry: prometheus.NewRegistry(),
		open:     stackctl.Open,
	}
}

// session is one command invocation's config, logger and stack.
type session struct {
	cfg    *stackctl.Config
	log    *slog.Logger
	stack  *stackctl.Stack
	closer io.Closer
	reg    *prometheus.Registry
}

func (c *command) session() (*session, error) {
	// The default path may be absent; an explicitly chosen one must exist.
	required := c.global.ConfigPath != defaultConfigPath
	cfg, err := stackctl.LoadConfig(c.global.ConfigPath, required)
	if err != nil {
		return nil, err
	}
	if c.global.LogLevel != "" {
		if _, err := logger.ParseLevel(c.global.LogLevel); err != nil {
			return nil, err
		}
		cfg.Log.Level = c.global.LogLevel
	}
	l, closer, err := logger.New(cfg.Log, c.stderr)
	if err != nil {
		return nil, err
	}
	if cfg.File != "" {
		l.Debug("config loaded", "file", cfg.File)
	}
	if err := stackctl.RegisterMetrics(c.registry); err != nil {
		l.Warn("metrics registration failed", "error", err)
	}
	st, err := c.open(cfg, l)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	return &session{cfg: cfg, log: l, stack: st, closer: closer, reg: c.registry}, nil
}

// close flushes the metrics textfile and releases the stack and log file.
func (s *session) close() {
	if path := s.cfg.Metrics.Textfile; path != "" {
		if err := stackctl.WriteMetricsTextfile(path, s.reg); err != nil {
			s.log.Warn("write metrics textfile", "path", path, "error", err)
		}
	}
	if err := s.stack.Close(); err != nil {
		s.log.Warn("close", "error", err)
	}
	_ = s.closer.Close()
}

// Up launches the stack and prints the launch report.
func (c *command) Up(ctx context.Context, f UpFlags) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	defer s.close()

	rep, err := s.stack.Up(ctx, stackctl.LaunchOptions{
		WithDashboard:   f.WithDashboard,
		RunVerification: f.Verify,
	})
	if rep != nil {
		printJSON(c.stdout, rep)
	}
	return err
}

// Down runs every shutdown step and prints the report. It fails only when
// a step ended in the failed outcome.
func (c *command) Down(ctx context.Context, f DownFlags) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	defer s.close()

	if f.Volumes && !f.TeardownInfra {
		s.log.Warn("--volumes has no effect without --teardown-infra")
	}
	rep := s.stack.Down(ctx, stackctl.ShutdownOptions{
		TeardownInfra: f.TeardownInfra,
		RemoveVolumes: f.Volumes,
		Grace:         f.Grace,
	})
	printJSON(c.stdout, rep)
	if rep.Failed() {
		return fmt.Errorf("shutdown incomplete: %w", rep.Err())
	}
	return nil
}

// Status prints the current state of the stack.
func (c *command) Status(ctx context.Context) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	defer s.close()

	printJSON(c.stdout, s.stack.Status(ctx))
	return nil
}
