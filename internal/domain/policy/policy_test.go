package policy

import (
	"errors"
	"testing"

	"github.com/Strob0t/ChangeGuard/internal/domain/risk"
)

const validDoc = `
policy_version: "2024.06"
jira_key_regex: '([A-Z]+-\d+)'
high_risk_paths:
  - "db/migrations/**"
  - "infra/*.tf"
change_types:
  - id: auth
    risk: HIGH
    description: Authentication and session handling
    path_patterns: ["internal/auth/**"]
  - id: docs
    risk: LOW
    description: Documentation only
    path_patterns: ["docs/**"]
`

func mustParse(t *testing.T, doc string) *Rules {
	t.Helper()
	r, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return r
}

func TestParseValid(t *testing.T) {
	r := mustParse(t, validDoc)
	if r.Version != "2024.06" {
		t.Errorf("expected version 2024.06, got %q", r.Version)
	}
	if len(r.HighRiskPaths) != 2 {
		t.Errorf("expected 2 high risk paths, got %d", len(r.HighRiskPaths))
	}
	if len(r.ChangeTypes) != 2 {
		t.Errorf("expected 2 change types, got %d", len(r.ChangeTypes))
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing version", "jira_key_regex: 'X-1'\nhigh_risk_paths: []\n"},
		{"missing jira regex", "policy_version: v1\nhigh_risk_paths: ['a/**']\n"},
		{"missing high risk paths", "policy_version: v1\njira_key_regex: 'X'\n"},
		{"bad regex", "policy_version: v1\njira_key_regex: '([A-Z'\nhigh_risk_paths: []\n"},
		{"bad glob", "policy_version: v1\njira_key_regex: 'X'\nhigh_risk_paths: ['db/[']\n"},
		{"empty glob", "policy_version: v1\njira_key_regex: 'X'\nhigh_risk_paths: ['']\n"},
		{"bad change type risk", "policy_version: v1\njira_key_regex: 'X'\nhigh_risk_paths: []\nchange_types:\n  - id: a\n    risk: MEDIUM\n"},
		{"not yaml", "policy_version: [unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("expected ErrInvalidPolicy, got %v", err)
			}
		})
	}
}

func TestMatch(t *testing.T) {
	r := mustParse(t, validDoc)
	tests := []struct {
		name  string
		paths []string
		want  risk.Level
	}{
		{"migration", []string{"db/migrations/0001.sql"}, risk.High},
		{"nested migration", []string{"README.md", "db/migrations/2024/01/a.sql"}, risk.High},
		{"terraform", []string{"infra/main.tf"}, risk.High},
		{"single star stays in segment", []string{"infra/modules/vpc.tf"}, risk.Low},
		{"high change type", []string{"internal/auth/session.go"}, risk.High},
		{"low change type ignored", []string{"docs/guide.md"}, risk.Low},
		{"case sensitive", []string{"DB/Migrations/0001.sql"}, risk.Low},
		{"no files", nil, risk.Low},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(tt.paths, r); got != tt.want {
				t.Errorf("Match(%v) = %q, want %q", tt.paths, got, tt.want)
			}
		})
	}
}

func TestMatchDeterministic(t *testing.T) {
	r := mustParse(t, validDoc)
	paths := []string{"src/a.go", "db/migrations/0001.sql", "docs/x.md"}
	reversed := []string{"docs/x.md", "db/migrations/0001.sql", "src/a.go"}
	first := Match(paths, r)
	for range 10 {
		if Match(paths, r) != first || Match(reversed, r) != first {
			t.Fatal("Match is not deterministic")
		}
	}
}

func TestExplain(t *testing.T) {
	r := mustParse(t, validDoc)
	got := Explain([]string{"src/a.go", "internal/auth/token.go", "db/migrations/1.sql"}, r)
	if len(got) != 2 {
		t.Fatalf("expected 2 findings, got %d: %+v", len(got), got)
	}
	if got[0].Path != "internal/auth/token.go" || got[0].ChangeType != "auth" {
		t.Errorf("unexpected first finding %+v", got[0])
	}
	if got[1].Pattern != "db/migrations/**" || got[1].ChangeType != "" {
		t.Errorf("unexpected second finding %+v", got[1])
	}
	if len(Explain([]string{"src/a.go"}, r)) != 0 {
		t.Error("expected no findings for a LOW change")
	}
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern, value string
		want           bool
	}{
		{"db/migrations/**", "db/migrations/0001.sql", true},
		{"**/*.sql", "a/b/c.sql", true},
		{"**/*.sql", "c.sql", true},
		{"src/**/secret.go", "src/secret.go", true},
		{"src/**/secret.go", "src/x/y/secret.go", true},
		{"src/**/secret.go", "src/x/y/other.go", false},
		{"*.md", "docs/a.md", false},
		{"Makefile", "Makefile", true},
	}
	for _, tt := range tests {
		if got := MatchGlob(tt.pattern, tt.value); got != tt.want {
			t.Errorf("MatchGlob(%q, %q) = %v, want %v", tt.pattern, tt.value, got, tt.want)
		}
	}
}

func TestTicketKey(t *testing.T) {
	r := mustParse(t, validDoc)
	if k, ok := r.TicketKey("ABC-123: add index"); !ok || k != "ABC-123" {
		t.Errorf("expected ABC-123, got %q %v", k, ok)
	}
	if _, ok := r.TicketKey("Fix bug"); ok {
		t.Error("expected no ticket in 'Fix bug'")
	}
}

func TestReadVersion(t *testing.T) {
	v, err := ReadVersion([]byte(validDoc))
	if err != nil || v != "2024.06" {
		t.Fatalf("ReadVersion = %q, %v", v, err)
	}
	if _, err := ReadVersion([]byte("jira_key_regex: x\n")); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("expected ErrInvalidPolicy, got %v", err)
	}
}
