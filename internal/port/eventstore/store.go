// Package eventstore defines the port interface for the append-only run trail.
package eventstore

import (
	"context"

	"github.com/Strob0t/ChangeGuard/internal/domain/event"
)

// Store appends and loads stage events.
type Store interface {
	// Append persists a new event. Events are never updated.
	Append(ctx context.Context, ev *event.StageEvent) error
	// ListByEvaluation returns every event of an evaluation key across
	// attempts in insertion order.
	ListByEvaluation(ctx context.Context, evaluationKey string) ([]event.StageEvent, error)
}
