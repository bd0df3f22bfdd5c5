package readiness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const DefaultHTTPTimeout = 5 * time.Second

// HTTPProbe is ready when a GET on URL answers with a 2xx or 3xx status.
type HTTPProbe struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client // optional
}

func (p HTTPProbe) Ready(ctx context.Context) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	client := p.Client
	if client == nil {
		client = &http.Client{
			// A 3xx is accepted as is; redirects are not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (p HTTPProbe) Describe() string { return "http:" + p.URL }
