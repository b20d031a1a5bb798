// Package chathook posts JSON payloads to chat incoming-webhook URLs.
package chathook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/ChangeGuard/internal/port/notifier"
)

const (
	// DefaultTimeout bounds one delivery when no timeout is configured.
	DefaultTimeout = 10 * time.Second
	maxErrorBody   = 1024
)

// StatusError is returned when the chat service answers with a non-2xx code.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s webhook %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Client delivers payloads for one provider to one webhook URL.
type Client struct {
	provider string
	url      string
	hc       *http.Client
}

// New returns a client for url with DefaultTimeout and a traced transport.
func New(provider, url string) *Client {
	hc := &http.Client{
		Timeout:   DefaultTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return &Client{provider: provider, url: url, hc: hc}
}

// SetTimeout overrides the delivery timeout. Non-positive values are ignored.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.hc.Timeout = d
	}
}

// Timeout returns the delivery timeout.
func (c *Client) Timeout() time.Duration { return c.hc.Timeout }

// Post marshals payload and posts it. It returns notifier.ErrNotConfigured
// when the client has no URL.
func (c *Client) Post(ctx context.Context, payload any) error {
	if c.url == "" {
		return notifier.ErrNotConfigured
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s marshal: %w", c.provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s request: %w", c.provider, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("%s send: %w", c.provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Provider: c.provider, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return nil
}
