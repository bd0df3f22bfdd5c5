// Package stack sequences the launch and shutdown of the whole stack:
// images, containerised stores, the backend service and its optional
// dashboard.
package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/stackctl/internal/config"
	"github.com/loykin/stackctl/internal/endpoint"
	"github.com/loykin/stackctl/internal/history"
	"github.com/loykin/stackctl/internal/history/factory"
	"github.com/loykin/stackctl/internal/image"
	"github.com/loykin/stackctl/internal/infra"
	"github.com/loykin/stackctl/internal/process"
	"github.com/loykin/stackctl/internal/readiness"
)

// Images makes container images available locally.
type Images interface {
	EnsureImages(ctx context.Context, refs []image.Ref) ([]image.Result, error)
}

// Infra manages the containerised stores.
type Infra interface {
	Up(ctx context.Context) error
	Down(ctx context.Context, removeVolumes bool) error
	Running(ctx context.Context) ([]string, error)
	ExecProbe(service string, cmd []string, timeout time.Duration) readiness.Probe
}

// Deps are the collaborators shared by Launcher, Coordinator and Status.
type Deps struct {
	Config     *config.Config
	Images     Images
	Infra      Infra
	Supervisor *process.Supervisor
	Endpoint   endpoint.Client
	Sink       history.Sink
	Logger     *slog.Logger
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Sink == nil {
		d.Sink = history.Nop{}
	}
	if d.Supervisor == nil {
		d.Supervisor = process.NewSupervisor(d.Logger)
	}
	if d.Endpoint.BaseURL == "" && d.Config != nil {
		d.Endpoint = d.Config.Endpoint()
	}
}

// ErrMissingCollaborator is returned when a step needs a collaborator the
// Deps were built without.
var ErrMissingCollaborator = errors.New("stack: missing collaborator")

func (d *Deps) requireCollaborators() error {
	var missing []error
	if d.Config == nil {
		missing = append(missing, fmt.Errorf("%w: Config", ErrMissingCollaborator))
	}
	if d.Images == nil {
		missing = append(missing, fmt.Errorf("%w: Images", ErrMissingCollaborator))
	}
	if d.Infra == nil {
		missing = append(missing, fmt.Errorf("%w: Infra", ErrMissingCollaborator))
	}
	return errors.Join(missing...)
}

// Close releases the resources Build opened.
func (d *Deps) Close() error {
	var errs []error
	if d.Sink != nil {
		errs = append(errs, d.Sink.Close())
	}
	if c, ok := d.Images.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Build wires the production collaborators for cfg.
func Build(cfg *config.Config, logger *slog.Logger) (*Deps, error) {
	if logger == nil {
		logger = slog.Default()
	}
	environ, err := cfg.Environment()
	if err != nil {
		return nil, err
	}
	store, err := image.NewDockerStore()
	if err != nil {
		return nil, err
	}
	sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
	if err != nil {
		logger.Warn("history sink unavailable, journaling disabled", "error", err)
		sink = history.Nop{}
	}
	d := &Deps{
		Config:     cfg,
		Images:     &provisioner{p: image.NewProvisioner(store, cfg.Images.RetryPolicy, logger), store: store},
		Infra:      infra.NewLauncher(cfg.Infra.Config, infra.ExecRunner{Env: environ.Merge(nil)}, logger),
		Supervisor: process.NewSupervisor(logger, process.WithEnv(environ)),
		Endpoint:   cfg.Endpoint(),
		Sink:       sink,
		Logger:     logger,
	}
	return d, nil
}

// provisioner ties the docker store's lifetime to the provisioner using it.
type provisioner struct {
	p     *image.Provisioner
	store *image.DockerStore
}

func (p *provisioner) EnsureImages(ctx context.Context, refs []image.Ref) ([]image.Result, error) {
	return p.p.EnsureImages(ctx, refs)
}

func (p *provisioner) Close() error { return p.store.Close() }
