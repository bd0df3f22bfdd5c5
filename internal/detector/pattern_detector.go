package detector

import (
	"context"
	"os"
	"slices"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// PatternDetector scans the process table for command lines containing Pattern.
// The calling process is never reported. An empty pattern matches nothing.
type PatternDetector struct {
	Pattern string
	Exclude []int
}

// Matches returns the pids whose full command line contains the pattern.
// Processes that vanish or deny access while being inspected are skipped.
func (d PatternDetector) Matches(ctx context.Context) ([]int, error) {
	pattern := strings.TrimSpace(d.Pattern)
	if pattern == "" {
		return nil, nil
	}
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	self := os.Getpid()
	var out []int
	for _, p := range procs {
		pid := int(p.Pid)
		if pid == self || slices.Contains(d.Exclude, pid) {
			continue
		}
		cl, err := p.CmdlineWithContext(ctx)
		if err != nil || cl == "" {
			continue
		}
		if strings.Contains(cl, pattern) {
			out = append(out, pid)
		}
	}
	return out, nil
}

func (d PatternDetector) Alive() (bool, error) {
	pids, err := d.Matches(context.Background())
	if err != nil {
		return false, err
	}
	return len(pids) > 0, nil
}

func (d PatternDetector) Describe() string { return "pattern:" + d.Pattern }
