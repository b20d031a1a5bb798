// Package projection defines the latest-status-per-PR read model.
package projection

import (
	"slices"
	"time"

	"github.com/Strob0t/ChangeGuard/internal/domain/evaluation"
	"github.com/Strob0t/ChangeGuard/internal/domain/risk"
	"github.com/Strob0t/ChangeGuard/internal/domain/snapshot"
)

// RunState is the projection row for one PR identity. It only ever reflects
// completed runs.
type RunState struct {
	PR                  snapshot.PRIdentity     `json:"pr"`
	LatestEvaluationKey string                  `json:"latest_evaluation_key"`
	Status              evaluation.Status       `json:"status"`
	ReasonCodes         []evaluation.ReasonCode `json:"reason_codes"`
	SystemRisk          risk.Level              `json:"system_risk,omitempty"`
	UpdatedAt           time.Time               `json:"updated_at"`
}

// FromRun builds the projection row for a terminal run.
func FromRun(r *evaluation.Run) RunState {
	updated := r.StartedAt
	if r.EndedAt != nil {
		updated = *r.EndedAt
	}
	return RunState{
		PR:                  r.Key.PR,
		LatestEvaluationKey: r.EvaluationKey,
		Status:              r.Status,
		ReasonCodes:         slices.Clone(r.ReasonCodes),
		SystemRisk:          r.SystemRisk,
		UpdatedAt:           updated,
	}
}

// Supersedes reports whether next may overwrite current. Later completions
// win; a STALE completion never replaces the row of a different evaluation.
func Supersedes(current *RunState, next *RunState) bool {
	if current == nil {
		return true
	}
	if next.UpdatedAt.Before(current.UpdatedAt) {
		return false
	}
	if next.Status == evaluation.StatusStale && next.LatestEvaluationKey != current.LatestEvaluationKey {
		return false
	}
	return true
}
