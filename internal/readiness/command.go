package readiness

import (
	"context"
	"errors"
	"time"

	"github.com/loykin/stackctl/internal/detector"
)

// CommandProbe is ready when Command exits 0 on the host.
type CommandProbe struct {
	Command string
	Timeout time.Duration
}

func (p CommandProbe) Ready(ctx context.Context) error {
	ok, err := detector.CommandDetector{Command: p.Command, Timeout: p.Timeout}.AliveContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("command exited non-zero")
	}
	return nil
}

func (p CommandProbe) Describe() string { return "cmd:" + p.Command }
