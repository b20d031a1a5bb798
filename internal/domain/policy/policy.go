// Package policy defines the per-repository change policy document and the
// pure matcher that turns a set of changed paths into a risk level.
package policy

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/Strob0t/ChangeGuard/internal/domain/risk"
)

// UnresolvedVersion stands in for the policy version when the current
// version of a repository's policy could not be determined.
const UnresolvedVersion = "unresolved"

// ErrInvalidPolicy marks a policy document that is missing required fields or
// contains an invalid glob or regex.
var ErrInvalidPolicy = errors.New("invalid policy")

// Document is the YAML policy file as written by repository owners.
type Document struct {
	PolicyVersion string       `yaml:"policy_version"`
	JiraKeyRegex  string       `yaml:"jira_key_regex"`
	HighRiskPaths []string     `yaml:"high_risk_paths"`
	ChangeTypes   []ChangeType `yaml:"change_types,omitempty"`
}

// ChangeType describes a named class of change. Path patterns of HIGH change
// types are matched like high_risk_paths; descriptions are shown to
// reviewers and to the LLM classifier.
type ChangeType struct {
	ID           string     `yaml:"id" json:"id"`
	Risk         risk.Level `yaml:"risk" json:"risk"`
	Description  string     `yaml:"description" json:"description"`
	PathPatterns []string   `yaml:"path_patterns" json:"path_patterns"`
}

// Rules is a validated, compiled policy.
type Rules struct {
	Version       string
	TicketPattern *regexp.Regexp
	HighRiskPaths []string
	ChangeTypes   []ChangeType

	high []highPattern
}

type highPattern struct {
	glob       string
	changeType *ChangeType
}

// LoadError reports a policy that could not be fetched or parsed for a
// repository at a version.
type LoadError struct {
	Repo    string
	Version string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load policy %s@%s: %v", e.Repo, e.Version, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// TicketKey returns the first ticket key found in title. When the regex has
// a capture group the first group is returned.
func (r *Rules) TicketKey(title string) (string, bool) {
	m := r.TicketPattern.FindStringSubmatch(title)
	if m == nil {
		return "", false
	}
	if len(m) > 1 && m[1] != "" {
		return m[1], true
	}
	return m[0], true
}
