package stack

import (
	"fmt"
	"strings"

	"github.com/loykin/stackctl/internal/config"
	"github.com/loykin/stackctl/internal/readiness"
)

// buildProbe turns a configured check into a probe.
func buildProbe(pc config.ProbeConfig, inf Infra) (readiness.Probe, error) {
	switch pc.Type {
	case "exec":
		return inf.ExecProbe(pc.Service, strings.Fields(pc.Command), pc.Timeout), nil
	case "command":
		return readiness.CommandProbe{Command: pc.Command, Timeout: pc.Timeout}, nil
	case "postgres":
		return readiness.PostgresProbe{DSN: pc.DSN, Timeout: pc.Timeout}, nil
	case "redis":
		return readiness.RedisProbe{Addr: pc.Addr, Password: pc.Password, DB: pc.DB, Timeout: pc.Timeout}, nil
	case "http":
		return readiness.HTTPProbe{URL: pc.URL, Timeout: pc.Timeout}, nil
	}
	return nil, fmt.Errorf("unknown probe type %q", pc.Type)
}
