package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/ChangeGuard/internal/adapter/ws"
	"github.com/Strob0t/ChangeGuard/internal/domain"
	"github.com/Strob0t/ChangeGuard/internal/domain/evaluation"
	"github.com/Strob0t/ChangeGuard/internal/domain/event"
	"github.com/Strob0t/ChangeGuard/internal/domain/projection"
	"github.com/Strob0t/ChangeGuard/internal/domain/snapshot"
	"github.com/Strob0t/ChangeGuard/internal/port/broadcast"
	"github.com/Strob0t/ChangeGuard/internal/port/database"
	"github.com/Strob0t/ChangeGuard/internal/port/eventstore"
	"github.com/Strob0t/ChangeGuard/internal/port/messagequeue"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ProjectionService maintains the latest-status-per-PR read model, fans out
// completion events and serves the read API.
type ProjectionService struct {
	store  database.Store
	events eventstore.Store
	hub    broadcast.Broadcaster
	queue  messagequeue.Queue
	alerts *AlertService
}

// NewProjectionService creates a ProjectionService. queue may be nil when
// no NATS connection is configured.
func NewProjectionService(store database.Store, events eventstore.Store, hub broadcast.Broadcaster, queue messagequeue.Queue) *ProjectionService {
	return &ProjectionService{store: store, events: events, hub: hub, queue: queue}
}

// SetAlerts enables review alerts on projected status changes.
func (s *ProjectionService) SetAlerts(a *AlertService) { s.alerts = a }

// EvaluationDetail is a run together with the snapshot it was computed from
// and its stage trail.
type EvaluationDetail struct {
	Run      *evaluation.Run    `json:"run"`
	Snapshot *snapshot.Snapshot `json:"snapshot,omitempty"`
	Events   []event.StageEvent `json:"events"`
}

// Apply projects a terminal run. The row only changes when the run
// supersedes the stored one; completion events are sent either way.
func (s *ProjectionService) Apply(ctx context.Context, r *evaluation.Run) (bool, error) {
	if !r.Status.IsTerminal() {
		return false, fmt.Errorf("%w: run %s is not terminal", domain.ErrValidation, r.ID)
	}
	st := projection.FromRun(r)
	prev := s.previousState(ctx, r.Key.PR)
	changed, err := s.store.UpsertRunState(ctx, &st)
	if err != nil {
		return false, fmt.Errorf("upsert run state: %w", err)
	}
	if !changed {
		slog.DebugContext(ctx, "projection kept newer row", "pr", r.Key.PR.String(), "status", r.Status)
	} else if s.alerts != nil {
		s.alerts.Notify(ctx, prev, &st)
	}

	reasons := reasonStrings(r.ReasonCodes)
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventEvaluationCompleted, ws.EvaluationCompletedEvent{
			EvaluationKey: r.EvaluationKey,
			RepoFullName:  r.Key.PR.RepoFullName,
			PRNumber:      r.Key.PR.Number,
			Attempt:       r.Attempt,
			Status:        string(r.Status),
			ReasonCodes:   reasons,
			SystemRisk:    string(r.SystemRisk),
			CompletedAt:   st.UpdatedAt,
			Projected:     changed,
		})
	}
	s.publishCompleted(ctx, r, reasons, st)
	return changed, nil
}

// previousState returns the row Apply is about to replace. It is only read
// for alerting; a lookup failure reads as no previous row.
func (s *ProjectionService) previousState(ctx context.Context, pr snapshot.PRIdentity) *projection.RunState {
	if s.alerts == nil {
		return nil
	}
	prev, err := s.store.GetRunState(ctx, pr)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.WarnContext(ctx, "read projection for alerting", "pr", pr.String(), "error", err)
		}
		return nil
	}
	return prev
}

func (s *ProjectionService) publishCompleted(ctx context.Context, r *evaluation.Run, reasons []string, st projection.RunState) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.EvaluationCompletedPayload{
		EvaluationKey: r.EvaluationKey,
		RepoFullName:  r.Key.PR.RepoFullName,
		PRNumber:      r.Key.PR.Number,
		Attempt:       r.Attempt,
		Status:        string(r.Status),
		ReasonCodes:   reasons,
		SystemRisk:    string(r.SystemRisk),
		CompletedAt:   st.UpdatedAt,
	})
	if err != nil {
		slog.ErrorContext(ctx, "marshal completion payload", "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectEvaluationCompleted, data); err != nil {
		slog.WarnContext(ctx, "publish completion event failed", "key", r.EvaluationKey, "error", err)
	}
}

// StageProgress broadcasts a stage transition of an executing run.
func (s *ProjectionService) StageProgress(ctx context.Context, r *evaluation.Run, stage string, status event.Type, reason evaluation.ReasonCode) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastEvent(ctx, ws.EventEvaluationStage, ws.EvaluationStageEvent{
		EvaluationKey: r.EvaluationKey,
		RepoFullName:  r.Key.PR.RepoFullName,
		PRNumber:      r.Key.PR.Number,
		Attempt:       r.Attempt,
		Stage:         stage,
		Status:        string(status),
		ReasonCode:    string(reason),
	})
}

// LatestStatus returns the projection row of the most recently completed
// run of pr.
func (s *ProjectionService) LatestStatus(ctx context.Context, pr snapshot.PRIdentity) (*projection.RunState, error) {
	if err := pr.Validate(); err != nil {
		return nil, err
	}
	return s.store.GetRunState(ctx, pr)
}

// ListEvaluations returns the runs of pr, newest first.
func (s *ProjectionService) ListEvaluations(ctx context.Context, pr snapshot.PRIdentity, limit, offset int) ([]evaluation.Run, error) {
	if err := pr.Validate(); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListRuns(ctx, pr, limit, offset)
}

// GetEvaluation returns the latest attempt for the evaluation key with its
// snapshot and trail.
func (s *ProjectionService) GetEvaluation(ctx context.Context, rawKey string) (*EvaluationDetail, error) {
	key, err := snapshot.ParseKey(rawKey)
	if err != nil {
		return nil, err
	}
	r, err := s.store.LatestRun(ctx, key)
	if err != nil {
		return nil, err
	}
	detail := &EvaluationDetail{Run: r, Events: []event.StageEvent{}}

	snap, err := s.store.GetSnapshot(ctx, key)
	switch {
	case err == nil:
		detail.Snapshot = snap
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	if s.events != nil {
		evs, err := s.events.ListByEvaluation(ctx, key.String())
		if err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		if evs != nil {
			detail.Events = evs
		}
	}
	return detail, nil
}

func reasonStrings(codes []evaluation.ReasonCode) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = string(c)
	}
	return out
}
