// Package discord implements a notifier.Notifier for Discord webhooks.
package discord

import (
	"context"

	"github.com/Strob0t/ChangeGuard/internal/adapter/chathook"
	"github.com/Strob0t/ChangeGuard/internal/port/notifier"
)

const providerName = "discord"

// Notifier sends review alerts to a Discord incoming webhook.
type Notifier struct {
	hook *chathook.Client
}

// NewNotifier creates a Discord notifier for webhookURL. An empty URL yields
// a notifier whose Send reports notifier.ErrNotConfigured.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{hook: chathook.New(providerName, webhookURL)}
}

func (n *Notifier) Name() string { return providerName }

// discordWebhook is the Discord webhook payload with embeds.
type discordWebhook struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	URL         string         `json:"url,omitempty"`
	Color       int            `json:"color"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordFooter struct {
	Text string `json:"text"`
}

func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	embed := discordEmbed{
		Title:       notification.Title,
		Description: notification.Message,
		URL:         notification.URL,
		Color:       levelColor(notification.Level),
	}
	if notification.Source != "" {
		embed.Footer = &discordFooter{Text: "Source: " + notification.Source}
	}

	return n.hook.Post(ctx, discordWebhook{Embeds: []discordEmbed{embed}})
}

// levelColor returns Discord embed color integers for notification levels.
func levelColor(level string) int {
	switch level {
	case notifier.LevelSuccess:
		return 0x2ECC71 // green
	case notifier.LevelError:
		return 0xE74C3C // red
	case notifier.LevelWarning:
		return 0xF39C12 // orange
	default:
		return 0x3498DB // blue (info)
	}
}
