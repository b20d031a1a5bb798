// Package policyfile implements policysource.Source on a local directory of
// YAML documents laid out as <dir>/<owner>/<repo>.yaml with an optional
// <dir>/default.yaml fallback.
package policyfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Strob0t/ChangeGuard/internal/domain"
	"github.com/Strob0t/ChangeGuard/internal/domain/policy"
)

// DefaultFile is used for repositories without their own document.
const DefaultFile = "default.yaml"

// Source reads policy documents from a directory.
type Source struct {
	dir string
}

// NewSource creates a Source rooted at dir.
func NewSource(dir string) *Source {
	return &Source{dir: dir}
}

// CurrentVersion returns the policy_version of the document for repo.
func (s *Source) CurrentVersion(_ context.Context, repo string) (string, error) {
	data, err := s.read(repo)
	if err != nil {
		return "", err
	}
	v, err := policy.ReadVersion(data)
	if err != nil {
		return "", &policy.LoadError{Repo: repo, Version: policy.UnresolvedVersion, Err: err}
	}
	return v, nil
}

// Load returns the document for repo if it still carries version.
func (s *Source) Load(_ context.Context, repo, version string) ([]byte, error) {
	data, err := s.read(repo)
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
			Err:     fmt.Errorf("%w: file carries version %q", domain.ErrConflict, got),
		}
	}
	return data, nil
}

func (s *Source) read(repo string) ([]byte, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || !validSegment(owner) || !validSegment(name) {
		return nil, fmt.Errorf("%w: repository must be owner/repo, got %q", domain.ErrValidation, repo)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, owner, name+".yaml"))
	if errors.Is(err, fs.ErrNotExist) {
		data, err = os.ReadFile(filepath.Join(s.dir, DefaultFile))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("policy for %s: %w", repo, domain.ErrNotFound)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("read policy for %s: %w", repo, err)
	}
	return data, nil
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
