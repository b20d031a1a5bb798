// Package event defines the append-only stage trail recorded for every
// evaluation run.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of trail entry.
type Type string

const (
	TypeRunStarted     Type = "run.started"
	TypeStageStarted   Type = "stage.started"
	TypeStageCompleted Type = "stage.completed"
	TypeStageFailed    Type = "stage.failed"
	TypeRunCancelled   Type = "run.cancelled"
	TypeRunCompleted   Type = "run.completed"
)

// StageEvent is one immutable entry of a run's trail.
type StageEvent struct {
	ID            int64           `json:"id"`
	EvaluationKey string          `json:"evaluation_key"`
	Attempt       int             `json:"attempt"`
	Type          Type            `json:"type"`
	Stage         string          `json:"stage,omitempty"`
	ReasonCode    string          `json:"reason_code,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
