package litellm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/ChangeGuard/internal/config"
	"github.com/Strob0t/ChangeGuard/internal/domain/policy"
	"github.com/Strob0t/ChangeGuard/internal/domain/risk"
	"github.com/Strob0t/ChangeGuard/internal/domain/snapshot"
	"github.com/Strob0t/ChangeGuard/internal/port/llm"
	"github.com/Strob0t/ChangeGuard/internal/resilience"
)

func chatServer(t *testing.T, status int, content string, seen *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if seen != nil && len(req.Messages) > 1 {
			*seen = req.Messages[1].Content
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"nope","type":"invalid_request_error"}}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "x",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClassifier(url string) *Classifier {
	return NewClassifier(config.LLM{BaseURL: url + "/v1", Model: "test-model", Timeout: 5 * time.Second},
		nil, resilience.RetryPolicy{MaxAttempts: 1})
}

func testEvidence() *llm.Evidence {
	return &llm.Evidence{
		Title: "OPS-1 migrate users table",
		Files: []snapshot.ChangedFile{{Path: "db/migrations/002.sql", AddedLines: 10}},
		Diff:  "diff --git a/db/migrations/002.sql b/db/migrations/002.sql\n",
		ChangeTypes: []policy.ChangeType{
			{ID: "schema", Risk: risk.High, Description: "database schema changes"},
		},
		Truncated:    true,
		OmittedFiles: []string{"vendor/big.go"},
	}
}

func TestClassify(t *testing.T) {
	var prompt string
	srv := chatServer(t, http.StatusOK, `{"risk_level":"HIGH","rationale":"schema change","confidence":0.9}`, &prompt)

	a, err := newTestClassifier(srv.URL).Classify(t.Context(), testEvidence())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if a.Risk != risk.High || a.Confidence != 0.9 || a.Rationale != "schema change" {
		t.Errorf("unexpected assessment: %+v", a)
	}
	if a.Model != "test-model" || a.PromptVersion != PromptVersion {
		t.Errorf("model=%q prompt=%q", a.Model, a.PromptVersion)
	}
	for _, want := range []string{"OPS-1 migrate users table", "db/migrations/002.sql (+10 -0)", "schema (HIGH)", "vendor/big.go"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt lacks %q", want)
		}
	}
}

func TestClassifyRejectsInvalidVerdicts(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "probably high"},
		{"unknown level", `{"risk_level":"MEDIUM","rationale":"x"}`},
		{"missing level", `{"rationale":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, http.StatusOK, tt.content, nil)
			if _, err := newTestClassifier(srv.URL).Classify(t.Context(), testEvidence()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestClassifyClientErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	}))
	t.Cleanup(srv.Close)

	c := newTestClassifier(srv.URL)
	c.retry = resilience.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond}
	if _, err := c.Classify(t.Context(), testEvidence()); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestParseVerdictStripsCodeFence(t *testing.T) {
	v, err := parseVerdict("```json\n{\"risk_level\":\"low\",\"rationale\":\"docs\",\"confidence\":3}\n```")
	if err != nil {
		t.Fatalf("parseVerdict: %v", err)
	}
	if v.RiskLevel != "low" || v.Confidence != 0 {
		t.Errorf("unexpected verdict: %+v", v)
	}
}
