package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/ChangeGuard/internal/domain/event"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts a new event into the evaluation_events table.
func (s *EventStore) Append(ctx context.Context, ev *event.StageEvent) error {
	var payload any
	if len(ev.Payload) > 0 {
		payload = ev.Payload
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO evaluation_events (evaluation_key, attempt, event_type, stage, reason_code, payload, request_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.EvaluationKey, ev.Attempt, string(ev.Type), ev.Stage, ev.ReasonCode, payload, ev.RequestID, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListByEvaluation returns all events of an evaluation key ordered by insertion.
func (s *EventStore) ListByEvaluation(ctx context.Context, evaluationKey string) ([]event.StageEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, evaluation_key, attempt, event_type, stage, reason_code, payload, request_id, created_at
		 FROM evaluation_events WHERE evaluation_key = $1 ORDER BY id ASC`, evaluationKey)
	if err != nil {
		return nil, fmt.Errorf("list events %s: %w", evaluationKey, err)
	}
	defer rows.Close()

	events := []event.StageEvent{}
	for rows.Next() {
		var (
			ev  event.StageEvent
			typ string
		)
		if err := rows.Scan(&ev.ID, &ev.EvaluationKey, &ev.Attempt, &typ, &ev.Stage, &ev.ReasonCode,
			&ev.Payload, &ev.RequestID, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = event.Type(typ)
		events = append(events, ev)
	}
	return events, rows.Err()
}
