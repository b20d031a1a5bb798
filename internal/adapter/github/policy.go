package github

import (
	"context"
	"fmt"
	"strings"

	gogithub "github.com/google/go-github/v68/github"

	"github.com/Strob0t/ChangeGuard/internal/domain"
	"github.com/Strob0t/ChangeGuard/internal/domain/policy"
)

// PolicySource implements policysource.Source by reading the policy file
// from each repository's default branch.
type PolicySource struct {
	client *Client
	path   string
}

// NewPolicySource reads the policy document at path (for example
// .github/changeguard.yaml).
func NewPolicySource(c *Client, path string) *PolicySource {
	return &PolicySource{client: c, path: path}
}

// CurrentVersion returns the policy_version of the document on the default
// branch.
func (s *PolicySource) CurrentVersion(ctx context.Context, repo string) (string, error) {
	data, err := s.fetch(ctx, repo)
	if err != nil {
		return "", err
	}
	v, err := policy.ReadVersion(data)
	if err != nil {
		return "", &policy.LoadError{Repo: repo, Version: policy.UnresolvedVersion, Err: err}
	}
	return v, nil
}

// Load returns the document for repo if the default branch still carries
// version. A document whose version moved on is not returned under the old
// version.
func (s *PolicySource) Load(ctx context.Context, repo, version string) ([]byte, error) {
	data, err := s.fetch(ctx, repo)
	if err != nil {
		return nil, err
	}
	got, err := policy.ReadVersion(data)
	if err != nil {
		return nil, &policy.LoadError{Repo: repo, Version: version, Err: err}
	}
	if got != version {
		return nil, &policy.LoadError{
			Repo:    repo,
			Version: version,
			Err:     fmt.Errorf("%w: default branch carries version %q", domain.ErrConflict, got),
		}
	}
	return data, nil
}

func (s *PolicySource) fetch(ctx context.Context, full string) ([]byte, error) {
	owner, repo, ok := strings.Cut(full, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("%w: repository must be owner/repo, got %q", domain.ErrValidation, full)
	}
	gh, err := s.client.forRepo(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	r, err := call(ctx, s.client, func(ctx context.Context) (*gogithub.Repository, *gogithub.Response, error) {
		return gh.Repositories.Get(ctx, owner, repo)
	})
	if err != nil {
		return nil, fmt.Errorf("get repository %s: %w", full, err)
	}

	file, err := call(ctx, s.client, func(ctx context.Context) (*gogithub.RepositoryContent, *gogithub.Response, error) {
		fc, _, resp, err := gh.Repositories.GetContents(ctx, owner, repo, s.path,
			&gogithub.RepositoryContentGetOptions{Ref: r.GetDefaultBranch()})
		return fc, resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("get %s from %s: %w", s.path, full, err)
	}
	if file == nil {
		return nil, fmt.Errorf("%w: %s in %s is a directory", policy.ErrInvalidPolicy, s.path, full)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode %s from %s: %w", s.path, full, err)
	}
	return []byte(content), nil
}
