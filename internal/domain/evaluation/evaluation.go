// Package evaluation defines evaluation runs, their terminal outcomes and the
// pure reconciliation and staleness rules applied to them.
package evaluation

import (
	"fmt"
	"slices"
	"time"

	"github.com/Strob0t/ChangeGuard/internal/domain"
	"github.com/Strob0t/ChangeGuard/internal/domain/policy"
	"github.com/Strob0t/ChangeGuard/internal/domain/risk"
	"github.com/Strob0t/ChangeGuard/internal/domain/snapshot"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusProcessing     Status = "PROCESSING"
	StatusActionRequired Status = "ACTION_REQUIRED"
	StatusCompliant      Status = "COMPLIANT"
	StatusError          Status = "ERROR"
	StatusStale          Status = "STALE"
)

// IsTerminal reports whether s can no longer change.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusActionRequired, StatusCompliant, StatusError, StatusStale:
		return true
	}
	return false
}

var validStatuses = map[Status]bool{
	StatusProcessing:     true,
	StatusActionRequired: true,
	StatusCompliant:      true,
	StatusError:          true,
	StatusStale:          true,
}

// ReasonCode is a stable machine-readable explanation of an outcome.
type ReasonCode string

const (
	ReasonMissingTicketNumber ReasonCode = "MISSING_TICKET_NUMBER"
	ReasonMismatchRiskLevel   ReasonCode = "MISMATCH_RISK_LEVEL"
	ReasonMissingBackoutPlan  ReasonCode = "MISSING_BACKOUT_PLAN"
	ReasonGitHubAPIFailed     ReasonCode = "GITHUB_API_FAILED"
	ReasonPolicyLoadFailed    ReasonCode = "POLICY_LOAD_FAILED"
	ReasonLLMCallFailed       ReasonCode = "LLM_CALL_FAILED"
	ReasonPublishFailed       ReasonCode = "PUBLISH_FAILED"
	ReasonPersistenceFailed   ReasonCode = "PERSISTENCE_FAILED"
	ReasonSnapshotSuperseded  ReasonCode = "SNAPSHOT_SUPERSEDED"
	ReasonInvalidEvent        ReasonCode = "INVALID_EVENT"
	ReasonCapacityExceeded    ReasonCode = "CAPACITY_EXCEEDED"

	// ReasonInternalError marks a failure in a stage that makes no external
	// call.
	ReasonInternalError ReasonCode = "INTERNAL_ERROR"
)

// Run is one execution of the pipeline for an evaluation key. Attempt
// increases only when an earlier attempt for the same key ended in ERROR.
type Run struct {
	ID             string           `json:"id"`
	Key            snapshot.Key     `json:"-"`
	EvaluationKey  string           `json:"evaluation_key"`
	Attempt        int              `json:"attempt"`
	Status         Status           `json:"status"`
	ComputedStatus Status           `json:"computed_status,omitempty"`
	ReasonCodes    []ReasonCode     `json:"reason_codes"`
	PolicyRisk     risk.Level       `json:"policy_risk,omitempty"`
	LLMRisk        risk.Level       `json:"llm_risk,omitempty"`
	SystemRisk     risk.Level       `json:"system_risk,omitempty"`
	UserRisk       risk.Level       `json:"user_risk,omitempty"`
	TicketKey      string           `json:"ticket_key,omitempty"`
	Findings       []policy.Finding `json:"findings,omitempty"`
	LLMModel       string           `json:"llm_model,omitempty"`
	PromptVersion  string           `json:"llm_prompt_version,omitempty"`
	LLMRationale   string           `json:"llm_rationale,omitempty"`
	LLMConfidence  float64          `json:"llm_confidence,omitempty"`
	ErrorDetail    string           `json:"error_detail,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	EndedAt        *time.Time       `json:"ended_at,omitempty"`
}

// NewRun returns a PROCESSING run for key.
func NewRun(id string, key snapshot.Key, attempt int, now time.Time) Run {
	return Run{
		ID:            id,
		Key:           key,
		EvaluationKey: key.String(),
		Attempt:       attempt,
		Status:        StatusProcessing,
		StartedAt:     now,
	}
}

// Validate checks run invariants before persistence.
func (r *Run) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: run id is required", domain.ErrValidation)
	}
	if err := r.Key.Validate(); err != nil {
		return err
	}
	if r.Attempt < 1 {
		return fmt.Errorf("%w: attempt must be >= 1", domain.ErrValidation)
	}
	if !validStatuses[r.Status] {
		return fmt.Errorf("%w: invalid status %q", domain.ErrValidation, r.Status)
	}
	if r.Status.IsTerminal() != (r.EndedAt != nil) {
		return fmt.Errorf("%w: ended_at must be set exactly for terminal runs", domain.ErrValidation)
	}
	return nil
}

// Outcome is what submit returns to its caller.
type Outcome struct {
	EvaluationKey string       `json:"evaluation_key"`
	Attempt       int          `json:"attempt,omitempty"`
	Status        Status       `json:"status"`
	ReasonCodes   []ReasonCode `json:"reason_codes"`
	PolicyRisk    risk.Level   `json:"policy_risk,omitempty"`
	LLMRisk       risk.Level   `json:"llm_risk,omitempty"`
	SystemRisk    risk.Level   `json:"system_risk,omitempty"`
	UserRisk      risk.Level   `json:"user_risk,omitempty"`
	// Duplicate is set when this submission did not execute the pipeline
	// itself and reports a run owned by another submission.
	Duplicate bool `json:"duplicate"`
}

// Outcome projects the run to the caller-facing outcome.
func (r *Run) Outcome() Outcome {
	return Outcome{
		EvaluationKey: r.EvaluationKey,
		Attempt:       r.Attempt,
		Status:        r.Status,
		ReasonCodes:   slices.Clone(r.ReasonCodes),
		PolicyRisk:    r.PolicyRisk,
		LLMRisk:       r.LLMRisk,
		SystemRisk:    r.SystemRisk,
		UserRisk:      r.UserRisk,
	}
}

// ErrorOutcome is the outcome of a submission that could not be keyed or
// stored.
func ErrorOutcome(key string, code ReasonCode) Outcome {
	return Outcome{EvaluationKey: key, Status: StatusError, ReasonCodes: []ReasonCode{code}}
}

// AppendReason adds code to codes unless it is already present.
func AppendReason(codes []ReasonCode, code ReasonCode) []ReasonCode {
	if slices.Contains(codes, code) {
		return codes
	}
	return append(slices.Clone(codes), code)
}
