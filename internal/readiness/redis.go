package readiness

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisProbe is ready when the server at Addr answers PING.
type RedisProbe struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

func (p RedisProbe) Ready(ctx context.Context) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultDBTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:         p.Addr,
		Password:     p.Password,
		DB:           p.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   -1,
	})
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return client.Ping(ctx).Err()
}

func (p RedisProbe) Describe() string { return "redis:" + p.Addr }
