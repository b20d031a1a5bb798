// Package snapshot defines PR identities, immutable evaluation inputs and the
// evaluation key that makes webhook processing idempotent.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/ChangeGuard/internal/domain"
	"github.com/Strob0t/ChangeGuard/internal/domain/template"
)

// PRIdentity identifies a pull request for its whole lifetime.
type PRIdentity struct {
	RepoFullName string `json:"repo_full_name"`
	Number       int    `json:"pr_number"`
}

func (p PRIdentity) String() string {
	return p.RepoFullName + "#" + strconv.Itoa(p.Number)
}

// OwnerRepo splits RepoFullName into owner and repository name.
func (p PRIdentity) OwnerRepo() (owner, repo string) {
	owner, repo, _ = strings.Cut(p.RepoFullName, "/")
	return owner, repo
}

// Validate checks that the identity is well-formed.
func (p PRIdentity) Validate() error {
	owner, repo := p.OwnerRepo()
	if owner == "" || repo == "" || strings.Contains(repo, "/") {
		return fmt.Errorf("%w: repo_full_name must be owner/repo, got %q", domain.ErrValidation, p.RepoFullName)
	}
	if p.Number <= 0 {
		return fmt.Errorf("%w: pr_number must be positive", domain.ErrValidation)
	}
	return nil
}

// ChangedFile is one entry of the PR file list in the order GitHub reports it.
type ChangedFile struct {
	Path         string `json:"path"`
	AddedLines   int    `json:"added_lines"`
	RemovedLines int    `json:"removed_lines"`
	Status       string `json:"status,omitempty"`
}

// KeyFields are the mutable PR inputs the staleness check compares.
type KeyFields struct {
	HeadSHA  string `json:"head_sha"`
	BodyHash string `json:"pr_body_hash"`
}

// Key is the evaluation key. Two events with equal keys are the same logical
// evaluation.
type Key struct {
	PR            PRIdentity `json:"pr"`
	HeadSHA       string     `json:"head_sha"`
	BodyHash      string     `json:"pr_body_hash"`
	PolicyVersion string     `json:"policy_version"`
}

// String renders the key as owner/repo:number:head_sha:body_hash:policy_version.
func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%s:%s:%s", k.PR.RepoFullName, k.PR.Number, k.HeadSHA, k.BodyHash, k.PolicyVersion)
}

// Fields returns the parts of the key the staleness check compares.
func (k Key) Fields() KeyFields {
	return KeyFields{HeadSHA: k.HeadSHA, BodyHash: k.BodyHash}
}

// Validate checks that every component of the key is present.
func (k Key) Validate() error {
	if err := k.PR.Validate(); err != nil {
		return err
	}
	if k.HeadSHA == "" {
		return fmt.Errorf("%w: head_sha is required", domain.ErrValidation)
	}
	if k.BodyHash == "" {
		return fmt.Errorf("%w: pr_body_hash is required", domain.ErrValidation)
	}
	if k.PolicyVersion == "" {
		return fmt.Errorf("%w: policy_version is required", domain.ErrValidation)
	}
	return nil
}

// ParseKey parses the String form of a key. The policy version is the last
// component and may itself contain colons.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 5)
	if len(parts) != 5 {
		return Key{}, fmt.Errorf("%w: malformed evaluation key %q", domain.ErrValidation, s)
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return Key{}, fmt.Errorf("%w: malformed pr number in key %q", domain.ErrValidation, s)
	}
	k := Key{
		PR:            PRIdentity{RepoFullName: parts[0], Number: n},
		HeadSHA:       parts[2],
		BodyHash:      parts[3],
		PolicyVersion: parts[4],
	}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// HashBody returns the hex SHA-256 of the normalized PR body.
func HashBody(body string) string {
	sum := sha256.Sum256([]byte(template.Normalize(body)))
	return hex.EncodeToString(sum[:])
}

// Snapshot is the immutable set of inputs one evaluation was computed from.
type Snapshot struct {
	ID           string        `json:"id"`
	Key          Key           `json:"key"`
	Title        string        `json:"pr_title"`
	Body         string        `json:"pr_body"`
	ChangedFiles []ChangedFile `json:"changed_files"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Paths returns the changed file paths in source order.
func (s *Snapshot) Paths() []string {
	out := make([]string, len(s.ChangedFiles))
	for i, f := range s.ChangedFiles {
		out[i] = f.Path
	}
	return out
}
