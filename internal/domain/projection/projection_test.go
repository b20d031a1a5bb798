package projection

import (
	"testing"
	"time"

	"github.com/Strob0t/ChangeGuard/internal/domain/evaluation"
)

func TestSupersedes(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	current := &RunState{LatestEvaluationKey: "k1", Status: evaluation.StatusCompliant, UpdatedAt: t0}

	tests := []struct {
		name string
		next RunState
		want bool
	}{
		{"newer completion", RunState{LatestEvaluationKey: "k2", Status: evaluation.StatusActionRequired, UpdatedAt: t0.Add(time.Second)}, true},
		{"older completion", RunState{LatestEvaluationKey: "k2", Status: evaluation.StatusCompliant, UpdatedAt: t0.Add(-time.Second)}, false},
		{"equal timestamp", RunState{LatestEvaluationKey: "k2", Status: evaluation.StatusCompliant, UpdatedAt: t0}, true},
		{"stale for other key", RunState{LatestEvaluationKey: "k0", Status: evaluation.StatusStale, UpdatedAt: t0.Add(time.Second)}, false},
		{"stale for same key", RunState{LatestEvaluationKey: "k1", Status: evaluation.StatusStale, UpdatedAt: t0.Add(time.Second)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Supersedes(current, &tt.next); got != tt.want {
				t.Errorf("Supersedes = %v, want %v", got, tt.want)
			}
		})
	}
	if !Supersedes(nil, &RunState{Status: evaluation.StatusStale}) {
		t.Error("first row must always be written")
	}
}
