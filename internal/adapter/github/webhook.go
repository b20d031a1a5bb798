package github

import (
	"errors"
	"fmt"
	"time"

	gogithub "github.com/google/go-github/v68/github"

	"github.com/Strob0t/ChangeGuard/internal/domain"
	"github.com/Strob0t/ChangeGuard/internal/domain/snapshot"
	"github.com/Strob0t/ChangeGuard/internal/domain/webhook"
)

// GitHub webhook event names handled by the ingress.
const (
	EventPing        = "ping"
	EventPullRequest = "pull_request"
)

// ErrUnsupportedEvent is returned for webhook events other than pull_request.
var ErrUnsupportedEvent = errors.New("unsupported webhook event")

// ParsePullRequestEvent decodes a pull_request webhook payload into the
// normalized event. receivedAt is stamped on the result.
func ParsePullRequestEvent(eventType, deliveryID string, payload []byte, receivedAt time.Time) (*webhook.PullRequestEvent, error) {
	if eventType != EventPullRequest {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, eventType)
	}
	raw, err := gogithub.ParseWebHook(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: parse pull_request payload: %w", domain.ErrValidation, err)
	}
	e, ok := raw.(*gogithub.PullRequestEvent)
	if !ok || e.GetPullRequest() == nil {
		return nil, fmt.Errorf("%w: pull_request payload without pull request", domain.ErrValidation)
	}

	pr := e.GetPullRequest()
	number := e.GetNumber()
	if number == 0 {
		number = pr.GetNumber()
	}
	return &webhook.PullRequestEvent{
		DeliveryID: deliveryID,
		Action:     webhook.PullRequestAction(e.GetAction()),
		PR: snapshot.PRIdentity{
			RepoFullName: e.GetRepo().GetFullName(),
			Number:       number,
		},
		InstallationID: e.GetInstallation().GetID(),
		Title:          pr.GetTitle(),
		Body:           pr.GetBody(),
		HeadSHA:        pr.GetHead().GetSHA(),
		HeadBranch:     pr.GetHead().GetRef(),
		BaseBranch:     pr.GetBase().GetRef(),
		State:          pr.GetState(),
		Merged:         pr.GetMerged(),
		Draft:          pr.GetDraft(),
		Sender:         e.GetSender().GetLogin(),
		ReceivedAt:     receivedAt,
	}, nil
}
