package stack

import (
	"context"
	"time"

	"github.com/loykin/stackctl/internal/metrics"
	"github.com/loykin/stackctl/internal/process"
)

// ProcessStatus is the observed state of one owned process.
type ProcessStatus struct {
	Name string `json:"name"`
	process.Record
	LogFile string                `json:"log_file,omitempty"`
	Usage   *metrics.ProcessUsage `json:"usage,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// HealthStatus is the result of one backend health request.
type HealthStatus struct {
	URL     string `json:"url"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// StatusReport is a point-in-time view of the stack.
type StatusReport struct {
	Processes []ProcessStatus `json:"processes"`
	Backend   HealthStatus    `json:"backend_health"`
	Infra     []string        `json:"infra_running"`
	InfraErr  string          `json:"infra_error,omitempty"`
	CheckedAt time.Time       `json:"checked_at"`
}

// Status inspects pid files, the backend health endpoint and the running
// compose services. It never changes anything.
func Status(ctx context.Context, d Deps) *StatusReport {
	d.defaults()
	cfg := d.Config
	rep := &StatusReport{CheckedAt: time.Now()}

	specs := []process.Spec{cfg.BackendSpec()}
	if cfg.Dashboard.Command != "" {
		specs = append(specs, cfg.DashboardSpec())
	}
	for _, spec := range specs {
		rep.Processes = append(rep.Processes, inspectProcess(ctx, d.Supervisor, spec))
	}

	rep.Backend.URL = d.Endpoint.HealthURL()
	if err := d.Endpoint.Health(ctx); err != nil {
		rep.Backend.Error = err.Error()
	} else {
		rep.Backend.Healthy = true
	}

	if d.Infra != nil {
		running, err := d.Infra.Running(ctx)
		if err != nil {
			rep.InfraErr = err.Error()
		}
		rep.Infra = running
	}
	return rep
}

func inspectProcess(ctx context.Context, sup *process.Supervisor, spec process.Spec) ProcessStatus {
	st := ProcessStatus{Name: spec.Name, LogFile: spec.LogFile}
	rec, err := sup.Inspect(spec.PIDFile)
	st.Record = rec
	if err != nil {
		st.Error = err.Error()
		return st
	}
	if rec.Alive {
		if u, err := metrics.SampleProcess(ctx, spec.Name, int32(rec.PID)); err == nil {
			st.Usage = &u
		}
	}
	return st
}
