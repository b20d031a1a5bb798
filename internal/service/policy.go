package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/ChangeGuard/internal/domain/policy"
	"github.com/Strob0t/ChangeGuard/internal/port/cache"
	"github.com/Strob0t/ChangeGuard/internal/port/policysource"
)

// PolicyService resolves the policy version in effect for a repository and
// loads compiled rules through a cache keyed by (repo, version). A cached
// version is dropped only when a newer version is observed for its repo.
type PolicyService struct {
	source policysource.Source
	cache  cache.Cache
	group  singleflight.Group

	mu      sync.Mutex
	current map[string]string
}

// NewPolicyService creates a PolicyService.
func NewPolicyService(source policysource.Source, c cache.Cache) *PolicyService {
	return &PolicyService{
		source:  source,
		cache:   c,
		current: make(map[string]string),
	}
}

func policyCacheKey(repo, version string) string {
	return "policy:" + repo + "@" + version
}

// CurrentVersion returns the policy version in effect for repo.
func (s *PolicyService) CurrentVersion(ctx context.Context, repo string) (string, error) {
	v, err := s.source.CurrentVersion(ctx, repo)
	if err != nil {
		var le *policy.LoadError
		if errors.As(err, &le) {
			return "", err
		}
		return "", &policy.LoadError{Repo: repo, Version: policy.UnresolvedVersion, Err: err}
	}
	s.observe(ctx, repo, v)
	return v, nil
}

// observe records v as the current version of repo and evicts the cache
// entry of the version it replaces.
func (s *PolicyService) observe(ctx context.Context, repo, v string) {
	s.mu.Lock()
	old, seen := s.current[repo]
	s.current[repo] = v
	s.mu.Unlock()

	if !seen || old == v {
		return
	}
	slog.InfoContext(ctx, "policy version changed", "repo", repo, "old", old, "new", v)
	if err := s.cache.Delete(ctx, policyCacheKey(repo, old)); err != nil {
		slog.WarnContext(ctx, "policy cache invalidation failed", "repo", repo, "version", old, "error", err)
	}
}

// Load returns the compiled rules of repo at version. Documents that fail
// validation are never cached.
func (s *PolicyService) Load(ctx context.Context, repo, version string) (*policy.Rules, error) {
	key := policyCacheKey(repo, version)

	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "policy cache read failed", "key", key, "error", err)
	}
	if ok {
		rules, err := policy.Parse(data)
		if err == nil {
			return rules, nil
		}
		slog.WarnContext(ctx, "dropping unparsable cached policy", "key", key, "error", err)
		_ = s.cache.Delete(ctx, key)
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.loadSource(ctx, repo, version)
	})
	if err != nil {
		return nil, err
	}
	return v.(*policy.Rules), nil
}

func (s *PolicyService) loadSource(ctx context.Context, repo, version string) (*policy.Rules, error) {
	data, err := s.source.Load(ctx, repo, version)
	if err != nil {
		var le *policy.LoadError
		if errors.As(err, &le) {
			return nil, err
		}
		return nil, &policy.LoadError{Repo: repo, Version: version, Err: err}
	}
	rules, err := policy.Parse(data)
	if err != nil {
		return nil, &policy.LoadError{Repo: repo, Version: version, Err: err}
	}
	if rules.Version != version {
		return nil, &policy.LoadError{
			Repo:    repo,
			Version: version,
			Err:     fmt.Errorf("%w: document declares version %q", policy.ErrInvalidPolicy, rules.Version),
		}
	}
	if err := s.cache.Set(ctx, policyCacheKey(repo, version), data, 0); err != nil {
		slog.WarnContext(ctx, "policy cache write failed", "repo", repo, "version", version, "error", err)
	}
	return rules, nil
}
