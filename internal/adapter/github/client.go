// Package github implements the source-control ports (evidence fetch, check
// run publishing and policy source) on the GitHub REST API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/bradleyfalzon/ghinstallation/v2"
	gogithub "github.com/google/go-github/v68/github"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/Strob0t/ChangeGuard/internal/config"
	"github.com/Strob0t/ChangeGuard/internal/domain"
	"github.com/Strob0t/ChangeGuard/internal/resilience"
)

// Client hands out go-github clients per app installation. With token
// authentication every installation shares one client.
type Client struct {
	cfg   config.GitHub
	base  http.RoundTripper
	apps  *ghinstallation.AppsTransport
	token *gogithub.Client

	mu      sync.Mutex
	perInst map[int64]*gogithub.Client
	// repoInst caches installation ids looked up by repository.
	repoInst map[string]int64

	breaker *resilience.Breaker
	retry   resilience.RetryPolicy
}

// NewClient builds a Client from configuration. Outbound requests are rate
// limited to cfg.RequestsPerSecond and traced.
func NewClient(cfg config.GitHub, breaker *resilience.Breaker, retry resilience.RetryPolicy) (*Client, error) {
	base := &limitedTransport{
		next:    otelhttp.NewTransport(http.DefaultTransport),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
	c := &Client{
		cfg:      cfg,
		base:     base,
		perInst:  make(map[int64]*gogithub.Client),
		repoInst: make(map[string]int64),
		breaker:  breaker,
		retry:    retry,
	}

	switch {
	case cfg.AppID != 0:
		atr, err := ghinstallation.NewAppsTransportKeyFromFile(base, cfg.AppID, cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("github app transport: %w", err)
		}
		if cfg.APIURL != "" {
			atr.BaseURL = strings.TrimSuffix(cfg.APIURL, "/")
		}
		c.apps = atr
	default:
		gh, err := c.newGitHub(&http.Client{Transport: base, Timeout: cfg.Timeout})
		if err != nil {
			return nil, err
		}
		if cfg.Token != "" {
			gh = gh.WithAuthToken(cfg.Token)
		}
		c.token = gh
	}
	return c, nil
}

// newGitHub creates a go-github client pointing at the configured API URL.
func (c *Client) newGitHub(hc *http.Client) (*gogithub.Client, error) {
	gh := gogithub.NewClient(hc)
	if c.cfg.APIURL == "" || c.cfg.APIURL == "https://api.github.com/" {
		return gh, nil
	}
	gh, err := gh.WithEnterpriseURLs(c.cfg.APIURL, c.cfg.APIURL)
	if err != nil {
		return nil, fmt.Errorf("github api url: %w", err)
	}
	return gh, nil
}

// forInstallation returns the client for an installation.
func (c *Client) forInstallation(id int64) (*gogithub.Client, error) {
	if c.apps == nil {
		return c.token, nil
	}
	if id == 0 {
		return nil, fmt.Errorf("%w: installation id is required for app authentication", domain.ErrValidation)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gh, ok := c.perInst[id]; ok {
		return gh, nil
	}
	tr := ghinstallation.NewFromAppsTransport(c.apps, id)
	if c.cfg.APIURL != "" {
		tr.BaseURL = strings.TrimSuffix(c.cfg.APIURL, "/")
	}
	gh, err := c.newGitHub(&http.Client{Transport: tr, Timeout: c.cfg.Timeout})
	if err != nil {
		return nil, err
	}
	c.perInst[id] = gh
	return gh, nil
}

// forRepo returns a client authorized for owner/repo. With app
// authentication the installation is looked up once per repository.
func (c *Client) forRepo(ctx context.Context, owner, repo string) (*gogithub.Client, error) {
	if c.apps == nil {
		return c.token, nil
	}
	full := owner + "/" + repo
	c.mu.Lock()
	id, ok := c.repoInst[full]
	c.mu.Unlock()
	if !ok {
		appClient, err := c.newGitHub(&http.Client{Transport: c.apps, Timeout: c.cfg.Timeout})
		if err != nil {
			return nil, err
		}
		inst, err := call(ctx, c, func(ctx context.Context) (*gogithub.Installation, *gogithub.Response, error) {
			return appClient.Apps.FindRepositoryInstallation(ctx, owner, repo)
		})
		if err != nil {
			return nil, fmt.Errorf("find installation for %s: %w", full, err)
		}
		id = inst.GetID()
		c.mu.Lock()
		c.repoInst[full] = id
		c.mu.Unlock()
	}
	return c.forInstallation(id)
}

// call runs op with retries and the circuit breaker, classifying GitHub
// errors so client mistakes are not retried.
func call[T any](ctx context.Context, c *Client, op func(context.Context) (T, *gogithub.Response, error)) (T, error) {
	return resilience.Retry(ctx, c.retry, c.breaker, func(ctx context.Context) (T, error) {
		v, resp, err := op(ctx)
		if err != nil {
			return v, classify(resp, err)
		}
		return v, nil
	})
}

// classify maps GitHub failures onto domain errors. 4xx responses other
// than rate limits are permanent.
func classify(resp *gogithub.Response, err error) error {
	var rle *gogithub.RateLimitError
	var abuse *gogithub.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &abuse) {
		return err
	}
	if resp == nil {
		return err
	}
	switch code := resp.StatusCode; {
	case code == http.StatusNotFound:
		return resilience.Permanent(fmt.Errorf("%w: %w", domain.ErrNotFound, err))
	case code == http.StatusTooManyRequests:
		return err
	case code >= 400 && code < 500:
		return resilience.Permanent(err)
	}
	return err
}

// limitedTransport waits on a token bucket before each request.
type limitedTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("github rate limit: %w", err)
	}
	return t.next.RoundTrip(req)
}
