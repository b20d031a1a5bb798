package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/ChangeGuard/internal/middleware"
)

// apiClient calls the ChangeGuard HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string, timeout time.Duration) *apiClient {
	return &apiClient{
		base: strings.TrimSuffix(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// apiError is a non-2xx response.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, http.NoBody)
	if err != nil {
		return err
	}
	_, err = c.do(req, out)
	return err
}

// do sends req and decodes a JSON body into out. It returns the status code.
func (c *apiClient) do(req *http.Request, out any) (int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusServiceUnavailable {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		return resp.StatusCode, &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func pullPath(repo string, number int) (string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("repository must be owner/repo, got %q", repo)
	}
	return "/api/v1/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name) + "/pulls/" + strconv.Itoa(number), nil
}

func (c *apiClient) status(ctx context.Context, repo string, number int, out any) error {
	p, err := pullPath(repo, number)
	if err != nil {
		return err
	}
	return c.getJSON(ctx, p+"/status", out)
}

func (c *apiClient) evaluations(ctx context.Context, repo string, number, limit int, out any) error {
	p, err := pullPath(repo, number)
	if err != nil {
		return err
	}
	return c.getJSON(ctx, p+"/evaluations?limit="+strconv.Itoa(limit), out)
}

func (c *apiClient) evaluation(ctx context.Context, key string, out any) error {
	return c.getJSON(ctx, "/api/v1/evaluations/"+url.PathEscape(key), out)
}

func (c *apiClient) health(ctx context.Context, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", http.NoBody)
	if err != nil {
		return 0, err
	}
	return c.do(req, out)
}

// deliver posts a signed webhook payload.
func (c *apiClient) deliver(ctx context.Context, event, delivery, signature string, payload []byte, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/webhooks/github", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", delivery)
	req.Header.Set(middleware.HeaderGitHubSignature, signature)
	return c.do(req, out)
}
