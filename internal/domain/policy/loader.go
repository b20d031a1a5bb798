package policy

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/ChangeGuard/internal/domain/risk"
)

// Parse decodes, validates and compiles a policy document.
func Parse(data []byte) (*Rules, error) {
	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %w", ErrInvalidPolicy, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d.Compile()
}

// Compile turns a validated document into Rules.
func (d *Document) Compile() (*Rules, error) {
	re, err := regexp.Compile(d.JiraKeyRegex)
	if err != nil {
		return nil, fmt.Errorf("%w: jira_key_regex: %w", ErrInvalidPolicy, err)
	}

	r := &Rules{
		Version:       d.PolicyVersion,
		TicketPattern: re,
		HighRiskPaths: d.HighRiskPaths,
		ChangeTypes:   d.ChangeTypes,
	}
	for _, g := range d.HighRiskPaths {
		r.high = append(r.high, highPattern{glob: g})
	}
	for i := range r.ChangeTypes {
		ct := &r.ChangeTypes[i]
		if ct.Risk != risk.High {
			continue
		}
		for _, g := range ct.PathPatterns {
			r.high = append(r.high, highPattern{glob: g, changeType: ct})
		}
	}
	return r, nil
}

// ReadVersion extracts policy_version from a document without validating
// the rest of it.
func ReadVersion(data []byte) (string, error) {
	var head struct {
		PolicyVersion string `yaml:"policy_version"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("%w: parse yaml: %w", ErrInvalidPolicy, err)
	}
	if head.PolicyVersion == "" {
		return "", fmt.Errorf("%w: policy_version is required", ErrInvalidPolicy)
	}
	return head.PolicyVersion, nil
}
