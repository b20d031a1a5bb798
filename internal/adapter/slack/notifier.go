// Package slack implements a notifier.Notifier for Slack incoming webhooks.
package slack

import (
	"context"
	"fmt"

	"github.com/Strob0t/ChangeGuard/internal/adapter/chathook"
	"github.com/Strob0t/ChangeGuard/internal/port/notifier"
)

const providerName = "slack"

// Notifier sends review alerts to a Slack incoming webhook.
type Notifier struct {
	hook *chathook.Client
}

// NewNotifier creates a Slack notifier for webhookURL. An empty URL yields
// a notifier whose Send reports notifier.ErrNotConfigured.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{hook: chathook.New(providerName, webhookURL)}
}

func (n *Notifier) Name() string { return providerName }

// slackMessage is the Slack Block Kit message payload. Text is the fallback
// shown in push notifications.
type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	headerText := fmt.Sprintf("%s %s", levelTag(notification.Level), notification.Title)
	body := notification.Message
	if notification.URL != "" {
		body += fmt.Sprintf("\n<%s|View evaluation>", notification.URL)
	}

	msg := slackMessage{
		Text: headerText,
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: headerText}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: body}},
		},
	}
	if notification.Source != "" {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type:     "context",
			Elements: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("_Source: %s_", notification.Source)}},
		})
	}

	return n.hook.Post(ctx, msg)
}

func levelTag(level string) string {
	switch level {
	case notifier.LevelSuccess:
		return "[OK]"
	case notifier.LevelError:
		return "[ERROR]"
	case notifier.LevelWarning:
		return "[WARN]"
	default:
		return "[INFO]"
	}
}
