// Package endpoint talks to the backend service's health and stop routes.
package endpoint

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/stackctl/internal/readiness"
)

const (
	DefaultHealthPath = "/health"
	DefaultStopPath   = "/stop"
	DefaultTimeout    = 5 * time.Second
)

// UnreachableError means no HTTP response was received at all.
type UnreachableError struct {
	URL string
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("no response from %s: %v", e.URL, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// StatusError means the service answered with a non-2xx status.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.URL, e.Code)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.URL, e.Code, e.Body)
}

// Client calls the backend's control routes.
type Client struct {
	BaseURL    string
	HealthPath string
	StopPath   string
	Timeout    time.Duration
	HTTP       *http.Client // optional
}

// Health issues GET <base><health path>.
func (c Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.pathOr(c.HealthPath, DefaultHealthPath))
}

// Stop issues POST <base><stop path>, asking the service to halt its own work.
func (c Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, c.pathOr(c.StopPath, DefaultStopPath))
}

// HealthURL is the absolute URL Health requests.
func (c Client) HealthURL() string {
	return c.url(c.pathOr(c.HealthPath, DefaultHealthPath))
}

// HealthProbe exposes Health as a readiness probe.
func (c Client) HealthProbe() readiness.Probe {
	return readiness.ProbeFunc{Name: "http:" + c.HealthURL(), Fn: c.Health}
}

func (c Client) do(ctx context.Context, method, path string) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := c.url(path)
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return &UnreachableError{URL: u, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{URL: u, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}

func (c Client) url(path string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if u, err := url.JoinPath(base, path); err == nil {
		return u
	}
	return base + path
}

func (c Client) pathOr(p, def string) string {
	if strings.TrimSpace(p) == "" {
		return def
	}
	return p
}
