package messagequeue

import (
	"strings"
	"testing"
)

func TestValidateEvaluationRequested(t *testing.T) {
	data := []byte(`{"event":{"action":"opened","pr":{"repo_full_name":"acme/api","pr_number":4},"head_sha":"abc"}}`)
	if err := Validate(SubjectEvaluationRequested, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateEvaluationRequestedMissingSHA(t *testing.T) {
	data := []byte(`{"event":{"action":"opened","pr":{"repo_full_name":"acme/api","pr_number":4}}}`)
	err := Validate(SubjectEvaluationRequested, data)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "schema validation failed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateEvaluationCompleted(t *testing.T) {
	data := []byte(`{"evaluation_key":"acme/api:4:abc:h:v1","repo_full_name":"acme/api","pr_number":4,"status":"COMPLIANT","reason_codes":[]}`)
	if err := Validate(SubjectEvaluationCompleted, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Validate(SubjectEvaluationCompleted, []byte(`{"status":"COMPLIANT"}`)); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	if err := Validate(SubjectEvaluationCompleted, []byte(`{not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestValidateUnknownSubject(t *testing.T) {
	if err := Validate("other.subject", []byte(`{"x":1}`)); err != nil {
		t.Fatalf("unknown subjects should pass: %v", err)
	}
}
