package metrics

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessUsage is a resource snapshot of one owned process.
type ProcessUsage struct {
	Component  string    `json:"component"`
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Uptime     string    `json:"uptime,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SampleProcess reads CPU and memory usage for pid and mirrors it into the
// process gauges. Fields that cannot be read are left at zero; only a
// missing process or unreadable memory info is an error.
func SampleProcess(ctx context.Context, component string, pid int32) (ProcessUsage, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ProcessUsage{}, fmt.Errorf("process %d: %w", pid, err)
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return ProcessUsage{}, fmt.Errorf("memory info for %d: %w", pid, err)
	}
	u := ProcessUsage{
		Component: component,
		PID:       pid,
		MemoryMB:  float64(mem.RSS) / 1024 / 1024,
		MemoryRSS: mem.RSS,
		Timestamp: time.Now(),
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		u.CPUPercent = cpu
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		u.NumThreads = n
	}
	if runtime.GOOS != "windows" {
		if n, err := p.NumFDsWithContext(ctx); err == nil {
			u.NumFDs = n
		}
	}
	if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
		u.Uptime = time.Since(time.UnixMilli(ms)).Truncate(time.Second).String()
	}
	SetProcessUsage(component, u.CPUPercent, u.MemoryRSS)
	return u, nil
}
