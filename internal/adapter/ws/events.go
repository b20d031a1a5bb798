package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Event type constants for WebSocket messages.
const (
	EventEvaluationStage     = "evaluation.stage"
	EventEvaluationCompleted = "evaluation.completed"
)

// repoScoped is implemented by payloads that belong to one repository.
type repoScoped interface {
	Repo() string
}

// BroadcastEvent marshals a typed event and broadcasts it. Payloads that
// implement Repo() only reach clients subscribed to that repository.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	var repo string
	if rs, ok := payload.(repoScoped); ok {
		repo = rs.Repo()
	}
	h.Broadcast(ctx, repo, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

// EvaluationStageEvent reports a pipeline stage transition of a run.
type EvaluationStageEvent struct {
	EvaluationKey string `json:"evaluation_key"`
	RepoFullName  string `json:"repo_full_name"`
	PRNumber      int    `json:"pr_number"`
	Attempt       int    `json:"attempt"`
	Stage         string `json:"stage"`
	Status        string `json:"status"`
	ReasonCode    string `json:"reason_code,omitempty"`
}

// Repo implements repoScoped.
func (e EvaluationStageEvent) Repo() string { return e.RepoFullName }

// EvaluationCompletedEvent is sent after the projection of a terminal run
// was updated.
type EvaluationCompletedEvent struct {
	EvaluationKey string    `json:"evaluation_key"`
	RepoFullName  string    `json:"repo_full_name"`
	PRNumber      int       `json:"pr_number"`
	Attempt       int       `json:"attempt"`
	Status        string    `json:"status"`
	ReasonCodes   []string  `json:"reason_codes"`
	SystemRisk    string    `json:"system_risk,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
	// Projected is false when a later completion already owns the
	// projection row.
	Projected bool `json:"projected"`
}

// Repo implements repoScoped.
func (e EvaluationCompletedEvent) Repo() string { return e.RepoFullName }
