// Package notifier defines the chat notification port used for review
// alerts.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Notification levels.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"`
	Source  string `json:"source"` // e.g. "evaluation.completed"
	// URL links to the evaluation detail, if one is configured.
	URL string `json:"url,omitempty"`
}

// Notifier is the port interface for sending notifications.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "slack").
	Name() string

	// Send delivers a notification.
	Send(ctx context.Context, notification Notification) error
}
