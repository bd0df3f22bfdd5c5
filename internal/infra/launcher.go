// Package infra starts and stops the containerised stores through the
// compose CLI.
package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/stackctl/internal/readiness"
)

const (
	DefaultComposeCommand = "docker compose"
	DefaultComposeFile    = "docker-compose.yml"
	// DefaultSettleDelay is waited once after a successful "up". It is a
	// heuristic grace for containers to bind their ports.
	DefaultSettleDelay = 5 * time.Second
)

// Config selects the compose invocation and the services to manage.
type Config struct {
	ComposeCommand string        `mapstructure:"compose_command"`
	ComposeFile    string        `mapstructure:"compose_file"`
	Project        string        `mapstructure:"project"`
	Services       []string      `mapstructure:"services"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
}

// LaunchError is returned when "compose up" fails.
type LaunchError struct {
	Services []string
	Output   string
	Err      error
}

func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("start infrastructure %s: %v", strings.Join(e.Services, ","), e.Err)
	if out := lastLines(e.Output, 5); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *LaunchError) Unwrap() error { return e.Err }

func (e *LaunchError) Hints() []string {
	return []string{
		"check that the container runtime is running: docker info",
		"check the compose file for errors: docker compose config",
		"inspect container output: docker compose logs " + strings.Join(e.Services, " "),
	}
}

// Launcher drives the compose CLI.
type Launcher struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewLauncher(cfg Config, runner Runner, logger *slog.Logger) *Launcher {
	if cfg.ComposeCommand == "" {
		cfg.ComposeCommand = DefaultComposeCommand
	}
	if cfg.ComposeFile == "" {
		cfg.ComposeFile = DefaultComposeFile
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{cfg: cfg, runner: runner, logger: logger, sleep: sleepCtx}
}

func (l *Launcher) Services() []string { return l.cfg.Services }

// Up starts the configured services detached, then waits the settle delay.
func (l *Launcher) Up(ctx context.Context) error {
	args := append([]string{"up", "-d"}, l.cfg.Services...)
	l.logger.Info("starting infrastructure", "services", l.cfg.Services)
	out, err := l.compose(ctx, args...)
	if err != nil {
		return &LaunchError{Services: l.cfg.Services, Output: string(out), Err: err}
	}
	if l.cfg.SettleDelay > 0 {
		l.logger.Debug("waiting for containers to settle", "delay", l.cfg.SettleDelay)
		return l.sleep(ctx, l.cfg.SettleDelay)
	}
	return nil
}

// Down stops and removes the compose project's containers, and its volumes
// when removeVolumes is set.
func (l *Launcher) Down(ctx context.Context, removeVolumes bool) error {
	args := []string{"down"}
	if removeVolumes {
		args = append(args, "-v")
	}
	l.logger.Info("stopping infrastructure", "remove_volumes", removeVolumes)
	out, err := l.compose(ctx, args...)
	if err != nil {
		return fmt.Errorf("compose down: %w: %s", err, lastLines(string(out), 5))
	}
	return nil
}

// Running lists the services compose reports as running.
func (l *Launcher) Running(ctx context.Context) ([]string, error) {
	out, err := l.compose(ctx, "ps", "--services", "--filter", "status=running")
	if err != nil {
		return nil, fmt.Errorf("compose ps: %w: %s", err, lastLines(string(out), 5))
	}
	var services []string
	for _, line := range strings.Split(string(out), "\n") {
		if s := strings.TrimSpace(line); s != "" {
			services = append(services, s)
		}
	}
	return services, nil
}

// Exec runs cmd inside service without a TTY.
func (l *Launcher) Exec(ctx context.Context, service string, cmd ...string) ([]byte, error) {
	args := append([]string{"exec", "-T", service}, cmd...)
	return l.compose(ctx, args...)
}

// ExecProbe is ready when cmd exits 0 inside service. Each check is bounded
// by timeout, or readiness.DefaultDBTimeout when timeout is not positive.
func (l *Launcher) ExecProbe(service string, cmd []string, timeout time.Duration) readiness.Probe {
	if timeout <= 0 {
		timeout = readiness.DefaultDBTimeout
	}
	return readiness.ProbeFunc{
		Name: "exec:" + service + ":" + strings.Join(cmd, " "),
		Fn: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			out, err := l.Exec(ctx, service, cmd...)
			if err != nil {
				if s := lastLines(string(out), 1); s != "" {
					return fmt.Errorf("%w: %s", err, s)
				}
				return err
			}
			return nil
		},
	}
}

func (l *Launcher) compose(ctx context.Context, args ...string) ([]byte, error) {
	parts := strings.Fields(l.cfg.ComposeCommand)
	if len(parts) == 0 {
		return nil, errors.New("empty compose command")
	}
	full := append([]string{}, parts[1:]...)
	full = append(full, "-f", l.cfg.ComposeFile)
	if l.cfg.Project != "" {
		full = append(full, "-p", l.cfg.Project)
	}
	full = append(full, args...)
	l.logger.Debug("compose", "cmd", parts[0], "args", full)
	return l.runner.Run(ctx, parts[0], full...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
