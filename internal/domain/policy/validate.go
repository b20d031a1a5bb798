package policy

import (
	"fmt"
	"path"
	"strings"
)

// Validate checks that all required fields are present and every glob is
// well-formed. The ticket regex is checked by Compile.
func (d *Document) Validate() error {
	if strings.TrimSpace(d.PolicyVersion) == "" {
		return fmt.Errorf("%w: policy_version is required", ErrInvalidPolicy)
	}
	if strings.TrimSpace(d.JiraKeyRegex) == "" {
		return fmt.Errorf("%w: jira_key_regex is required", ErrInvalidPolicy)
	}
	if d.HighRiskPaths == nil {
		return fmt.Errorf("%w: high_risk_paths is required", ErrInvalidPolicy)
	}
	for i, p := range d.HighRiskPaths {
		if err := ValidGlob(p); err != nil {
			return fmt.Errorf("%w: high_risk_paths[%d]: %w", ErrInvalidPolicy, i, err)
		}
	}
	for i := range d.ChangeTypes {
		if err := d.ChangeTypes[i].validate(); err != nil {
			return fmt.Errorf("%w: change_types[%d]: %w", ErrInvalidPolicy, i, err)
		}
	}
	return nil
}

func (c *ChangeType) validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !c.Risk.IsDetermined() {
		return fmt.Errorf("%s: risk must be LOW or HIGH, got %q", c.ID, c.Risk)
	}
	for i, p := range c.PathPatterns {
		if err := ValidGlob(p); err != nil {
			return fmt.Errorf("%s: path_patterns[%d]: %w", c.ID, i, err)
		}
	}
	return nil
}

// ValidGlob reports whether pattern is a usable path glob.
func ValidGlob(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("empty glob")
	}
	for _, seg := range strings.Split(pattern, "/") {
		if seg == "**" {
			continue
		}
		if _, err := path.Match(seg, ""); err != nil {
			return fmt.Errorf("glob %q: %w", pattern, err)
		}
	}
	return nil
}
