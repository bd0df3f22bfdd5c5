package process

import (
	"context"
	"strings"
	"syscall"
	"time"

	"github.com/loykin/stackctl/internal/detector"
)

// SweepResult lists what a signature sweep touched.
type SweepResult struct {
	Signature   string `json:"signature"`
	Terminated  []int  `json:"terminated,omitempty"`
	ForceKilled []int  `json:"force_killed,omitempty"`
	Failed      []int  `json:"failed,omitempty"`
}

// Matched reports whether the sweep found anything at all.
func (r SweepResult) Matched() bool {
	return len(r.Terminated) > 0 || len(r.Failed) > 0
}

// Outcome summarises the sweep the same way Stop reports a single process.
func (r SweepResult) Outcome() StopOutcome {
	switch {
	case len(r.Failed) > 0:
		return OutcomeFailed
	case len(r.ForceKilled) > 0:
		return OutcomeForceKilled
	case len(r.Terminated) > 0:
		return OutcomeStopped
	}
	return OutcomeNotFound
}

// Sweep finds processes whose command line contains signature and stops
// them: SIGTERM first, SIGKILL for anything still alive after grace.
// It catches processes that escaped pid-file tracking. An empty signature
// or no match is not an error.
func (s *Supervisor) Sweep(ctx context.Context, signature string, grace time.Duration) (SweepResult, error) {
	res := SweepResult{Signature: signature}
	if strings.TrimSpace(signature) == "" {
		return res, nil
	}
	pids, err := detector.PatternDetector{Pattern: signature}.Matches(ctx)
	if err != nil {
		return res, err
	}
	if len(pids) == 0 {
		return res, nil
	}
	log := s.logger.With("signature", signature)
	log.Info("sweeping leftover processes", "pids", pids)

	var pending []int
	for _, pid := range pids {
		if err := signalPID(pid, syscall.SIGTERM); err != nil {
			if !s.alive(pid) {
				continue
			}
			log.Warn("SIGTERM failed", "pid", pid, "error", err)
		}
		res.Terminated = append(res.Terminated, pid)
		pending = append(pending, pid)
	}

	deadline := time.Now().Add(grace)
	for len(pending) > 0 && time.Now().Before(deadline) {
		if ctx.Err() != nil {
			break
		}
		pending = s.stillAlive(pending)
		if len(pending) > 0 {
			time.Sleep(s.pollInterval)
		}
	}
	pending = s.stillAlive(pending)

	for _, pid := range pending {
		if err := signalPID(pid, syscall.SIGKILL); err != nil && s.alive(pid) {
			log.Warn("SIGKILL failed", "pid", pid, "error", err)
			res.Failed = append(res.Failed, pid)
			continue
		}
		if !s.waitGone(pid, s.killWait) {
			res.Failed = append(res.Failed, pid)
			continue
		}
		res.ForceKilled = append(res.ForceKilled, pid)
	}
	return res, nil
}

func (s *Supervisor) stillAlive(pids []int) []int {
	out := pids[:0]
	for _, pid := range pids {
		if s.alive(pid) {
			out = append(out, pid)
		}
	}
	return out
}
