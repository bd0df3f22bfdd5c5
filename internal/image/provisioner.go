// Package image makes sure the container images the infrastructure needs are
// present locally before anything is started.
package image

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/stackctl/internal/metrics"
)

const (
	DefaultMaxAttempts    = 3
	DefaultRetryDelay     = 5 * time.Second
	DefaultAttemptTimeout = 5 * time.Minute
	DefaultInspectTimeout = 30 * time.Second
)

// Store is a local image cache that can fetch missing images.
type Store interface {
	Exists(ctx context.Context, ref Ref) (bool, error)
	Pull(ctx context.Context, ref Ref) error
}

// RetryPolicy bounds pulls of a single image.
type RetryPolicy struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	Delay          time.Duration `mapstructure:"delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = DefaultAttemptTimeout
	}
	return p
}

// ProvisionError reports an image that could not be obtained.
type ProvisionError struct {
	Image    string
	Attempts int
	Err      error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("image %s unavailable after %d pull attempts: %v", e.Image, e.Attempts, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

func (e *ProvisionError) Hints() []string {
	return []string{
		"check that the container runtime is running: docker info",
		"check network and registry connectivity",
		"pull the image manually: docker pull " + e.Image,
	}
}

// Result describes what happened to one image.
type Result struct {
	Image    string `json:"image"`
	Pulled   bool   `json:"pulled"`
	Attempts int    `json:"attempts"`
}

// Provisioner checks and pulls images in order.
type Provisioner struct {
	store  Store
	policy RetryPolicy
	logger *slog.Logger
}

func NewProvisioner(store Store, policy RetryPolicy, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{store: store, policy: policy.withDefaults(), logger: logger}
}

// EnsureImages makes every ref available locally. Present images are skipped.
// The first image that cannot be pulled aborts the call with a
// *ProvisionError; images pulled before it stay cached.
func (p *Provisioner) EnsureImages(ctx context.Context, refs []Ref) ([]Result, error) {
	results := make([]Result, 0, len(refs))
	for _, ref := range refs {
		res, err := p.ensure(ctx, ref)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (p *Provisioner) ensure(ctx context.Context, ref Ref) (Result, error) {
	name := ref.String()
	log := p.logger.With("image", name)
	res := Result{Image: name}

	present, err := p.exists(ctx, ref)
	if err != nil {
		log.Warn("image inspect failed, treating as absent", "error", err)
		present = false
	}
	metrics.IncImageCheck(name, present)
	if present {
		log.Debug("image present")
		return res, nil
	}

	var lastErr error
	for attempt := 1; attempt <= p.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempts = attempt
		log.Info("pulling image", "attempt", attempt, "of", p.policy.MaxAttempts)
		lastErr = p.pullOnce(ctx, ref)
		metrics.IncImagePull(name, lastErr == nil)
		if lastErr == nil {
			res.Pulled = true
			log.Info("image pulled", "attempts", attempt)
			return res, nil
		}
		if errors.Is(lastErr, context.Canceled) && ctx.Err() != nil {
			return res, ctx.Err()
		}
		log.Warn("image pull failed", "attempt", attempt, "error", lastErr)
		if attempt == p.policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(p.policy.Delay):
		}
	}
	return res, &ProvisionError{Image: name, Attempts: res.Attempts, Err: lastErr}
}

// exists bounds the inspect by DefaultInspectTimeout, or by AttemptTimeout
// when that is shorter.
func (p *Provisioner) exists(ctx context.Context, ref Ref) (bool, error) {
	timeout := DefaultInspectTimeout
	if p.policy.AttemptTimeout < timeout {
		timeout = p.policy.AttemptTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.store.Exists(ctx, ref)
}

func (p *Provisioner) pullOnce(ctx context.Context, ref Ref) error {
	ctx, cancel := context.WithTimeout(ctx, p.policy.AttemptTimeout)
	defer cancel()
	return p.store.Pull(ctx, ref)
}
