package readiness

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

const DefaultDBTimeout = 3 * time.Second

// PostgresProbe is ready when a connection to DSN can be opened and pinged.
type PostgresProbe struct {
	DSN     string
	Timeout time.Duration
}

func (p PostgresProbe) Ready(ctx context.Context) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultDBTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := pgx.Connect(ctx, p.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(context.Background()) }()
	return conn.Ping(ctx)
}

// Describe omits the DSN because it may carry a password.
func (p PostgresProbe) Describe() string {
	cfg, err := pgx.ParseConfig(p.DSN)
	if err != nil {
		return "postgres"
	}
	return "postgres:" + cfg.Host + "/" + cfg.Database
}
