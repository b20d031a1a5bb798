package messagequeue

import (
	"time"

	"github.com/Strob0t/ChangeGuard/internal/domain/webhook"
)

// EvaluationRequestedPayload is the schema for evaluations.requested messages.
type EvaluationRequestedPayload struct {
	RequestID string                   `json:"request_id,omitempty"`
	Event     webhook.PullRequestEvent `json:"event"`
}

// EvaluationCompletedPayload is the schema for evaluations.completed messages.
type EvaluationCompletedPayload struct {
	EvaluationKey string    `json:"evaluation_key"`
	RepoFullName  string    `json:"repo_full_name"`
	PRNumber      int       `json:"pr_number"`
	Attempt       int       `json:"attempt"`
	Status        string    `json:"status"`
	ReasonCodes   []string  `json:"reason_codes"`
	SystemRisk    string    `json:"system_risk,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
}
