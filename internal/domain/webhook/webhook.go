// Package webhook defines the normalized pull request event handed from the
// ingress layer to the evaluation pipeline.
package webhook

import (
	"fmt"
	"time"

	"github.com/Strob0t/ChangeGuard/internal/domain"
	"github.com/Strob0t/ChangeGuard/internal/domain/snapshot"
)

// PullRequestAction is the GitHub pull_request action.
type PullRequestAction string

const (
	ActionOpened         PullRequestAction = "opened"
	ActionReopened       PullRequestAction = "reopened"
	ActionSynchronize    PullRequestAction = "synchronize"
	ActionEdited         PullRequestAction = "edited"
	ActionReadyForReview PullRequestAction = "ready_for_review"
	ActionClosed         PullRequestAction = "closed"
)

// evaluatedActions are the actions that can change the evaluation inputs.
var evaluatedActions = map[PullRequestAction]bool{
	ActionOpened:         true,
	ActionReopened:       true,
	ActionSynchronize:    true,
	ActionEdited:         true,
	ActionReadyForReview: true,
}

// PullRequestEvent is a normalized GitHub pull_request delivery.
type PullRequestEvent struct {
	DeliveryID     string              `json:"delivery_id,omitempty"`
	Action         PullRequestAction   `json:"action"`
	PR             snapshot.PRIdentity `json:"pr"`
	InstallationID int64               `json:"installation_id,omitempty"`
	Title          string              `json:"title"`
	Body           string              `json:"body"`
	HeadSHA        string              `json:"head_sha"`
	HeadBranch     string              `json:"head_branch"`
	BaseBranch     string              `json:"base_branch"`
	State          string              `json:"state"`
	Merged         bool                `json:"merged"`
	Draft          bool                `json:"draft"`
	Sender         string              `json:"sender"`
	ReceivedAt     time.Time           `json:"received_at"`
}

// Evaluable reports whether the event should start an evaluation. Closed and
// merged pull requests are never evaluated.
func (e *PullRequestEvent) Evaluable() bool {
	if e.Merged || e.State == "closed" {
		return false
	}
	return evaluatedActions[e.Action]
}

// Validate checks the fields the evaluation key is built from.
func (e *PullRequestEvent) Validate() error {
	if err := e.PR.Validate(); err != nil {
		return err
	}
	if e.HeadSHA == "" {
		return fmt.Errorf("%w: head sha is required", domain.ErrValidation)
	}
	return nil
}
