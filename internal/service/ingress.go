package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/ChangeGuard/internal/config"
	"github.com/Strob0t/ChangeGuard/internal/domain/evaluation"
	"github.com/Strob0t/ChangeGuard/internal/domain/webhook"
	"github.com/Strob0t/ChangeGuard/internal/logger"
	"github.com/Strob0t/ChangeGuard/internal/port/messagequeue"
)

// ErrQueueUnavailable is returned when queue mode is configured without a
// connected queue.
var ErrQueueUnavailable = errors.New("evaluation queue unavailable")

// IngestResult is the response of the ingress layer to one delivery.
type IngestResult struct {
	// Ignored is set for events that cannot change evaluation inputs.
	Ignored bool
	// Queued is set when the event was handed to the queue consumer.
	Queued  bool
	Outcome *evaluation.Outcome
}

// IngressService hands verified pull request events to the evaluation
// pipeline, either inline or through NATS.
type IngressService struct {
	evaluations *EvaluationService
	queue       messagequeue.Queue
	mode        string
}

// NewIngressService creates an IngressService. queue is only used in queue
// mode.
func NewIngressService(evaluations *EvaluationService, queue messagequeue.Queue, mode string) *IngressService {
	return &IngressService{evaluations: evaluations, queue: queue, mode: mode}
}

// Mode returns the configured ingress mode.
func (s *IngressService) Mode() string { return s.mode }

// Ingest filters ev and either evaluates it or enqueues it.
func (s *IngressService) Ingest(ctx context.Context, ev *webhook.PullRequestEvent) (IngestResult, error) {
	if !ev.Evaluable() {
		slog.DebugContext(ctx, "ignoring pull request event",
			"delivery_id", ev.DeliveryID,
			"action", ev.Action,
			"state", ev.State,
			"merged", ev.Merged,
		)
		return IngestResult{Ignored: true}, nil
	}

	if s.mode != config.IngressQueue {
		out := s.evaluations.Submit(ctx, ev)
		return IngestResult{Outcome: &out}, nil
	}

	if s.queue == nil || !s.queue.IsConnected() {
		return IngestResult{}, ErrQueueUnavailable
	}
	data, err := json.Marshal(messagequeue.EvaluationRequestedPayload{
		RequestID: logger.RequestID(ctx),
		Event:     *ev,
	})
	if err != nil {
		return IngestResult{}, fmt.Errorf("marshal evaluation request: %w", err)
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectEvaluationRequested, data); err != nil {
		return IngestResult{}, fmt.Errorf("enqueue evaluation: %w", err)
	}
	slog.InfoContext(ctx, "evaluation queued", "delivery_id", ev.DeliveryID, "pr", ev.PR.String())
	return IngestResult{Queued: true}, nil
}

// StartConsumer subscribes the evaluation worker to queued requests. An
// ERROR outcome that this worker executed is returned as a handler error
// so the message is redelivered and the key gets another attempt.
func (s *IngressService) StartConsumer(ctx context.Context) (func(), error) {
	if s.queue == nil {
		return nil, ErrQueueUnavailable
	}
	return s.queue.Subscribe(ctx, messagequeue.SubjectEvaluationRequested, s.handleRequested)
}

func (s *IngressService) handleRequested(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.EvaluationRequestedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode evaluation request: %w", err)
	}
	if p.RequestID != "" && logger.RequestID(ctx) == "" {
		ctx = logger.WithRequestID(ctx, p.RequestID)
	}

	out := s.evaluations.Submit(ctx, &p.Event)
	if out.Status == evaluation.StatusError && !out.Duplicate {
		return fmt.Errorf("evaluation %s ended in error: %v", out.EvaluationKey, out.ReasonCodes)
	}
	return nil
}
