package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Strob0t/ChangeGuard/internal/domain/evaluation"
	"github.com/Strob0t/ChangeGuard/internal/domain/projection"
	"github.com/Strob0t/ChangeGuard/internal/port/notifier"
)

const defaultAlertTimeout = 5 * time.Second

// AlertService notifies chat channels when a pull request's projected
// status changes to one of the watched statuses. Delivery is best effort.
type AlertService struct {
	notifiers  []notifier.Notifier
	statuses   map[evaluation.Status]bool
	detailsURL string
	timeout    time.Duration
}

// NewAlertService creates an AlertService. detailsURL, when set, is the
// prefix the evaluation key is appended to for the alert link.
func NewAlertService(notifiers []notifier.Notifier, statuses []evaluation.Status, detailsURL string, timeout time.Duration) *AlertService {
	set := make(map[evaluation.Status]bool, len(statuses))
	for _, s := range statuses {
		set[s] = true
	}
	if timeout <= 0 {
		timeout = defaultAlertTimeout
	}
	return &AlertService{notifiers: notifiers, statuses: set, detailsURL: detailsURL, timeout: timeout}
}

// shouldAlert reports whether moving from prev to next is worth an alert.
// Repeated completions with an unchanged status stay quiet.
func (a *AlertService) shouldAlert(prev *projection.RunState, next *projection.RunState) bool {
	if !a.statuses[next.Status] {
		return false
	}
	return prev == nil || prev.Status != next.Status
}

// Notify sends the alert for st to every notifier. Failures are logged.
func (a *AlertService) Notify(ctx context.Context, prev *projection.RunState, st *projection.RunState) {
	if len(a.notifiers) == 0 || !a.shouldAlert(prev, st) {
		return
	}
	n := a.build(st)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	for _, nt := range a.notifiers {
		if err := nt.Send(ctx, n); err != nil {
			slog.WarnContext(ctx, "alert delivery failed", "notifier", nt.Name(), "pr", st.PR.String(), "error", err)
			continue
		}
		slog.DebugContext(ctx, "alert sent", "notifier", nt.Name(), "pr", st.PR.String(), "status", st.Status)
	}
}

func (a *AlertService) build(st *projection.RunState) notifier.Notification {
	n := notifier.Notification{
		Source: "evaluation.completed",
		Title:  fmt.Sprintf("%s %s", st.PR.String(), statusPhrase(st.Status)),
	}
	switch st.Status {
	case evaluation.StatusCompliant:
		n.Level = notifier.LevelSuccess
	case evaluation.StatusError:
		n.Level = notifier.LevelError
	case evaluation.StatusActionRequired:
		n.Level = notifier.LevelWarning
	default:
		n.Level = notifier.LevelInfo
	}

	var b strings.Builder
	if len(st.ReasonCodes) > 0 {
		fmt.Fprintf(&b, "Reasons: %s\n", strings.Join(reasonStrings(st.ReasonCodes), ", "))
	}
	if st.SystemRisk != "" {
		fmt.Fprintf(&b, "Risk: %s\n", st.SystemRisk)
	}
	fmt.Fprintf(&b, "Evaluation: %s", st.LatestEvaluationKey)
	n.Message = b.String()

	if a.detailsURL != "" {
		n.URL = a.detailsURL + st.LatestEvaluationKey
	}
	return n
}

func statusPhrase(s evaluation.Status) string {
	switch s {
	case evaluation.StatusActionRequired:
		return "needs action"
	case evaluation.StatusCompliant:
		return "is compliant"
	case evaluation.StatusError:
		return "evaluation failed"
	case evaluation.StatusStale:
		return "result went stale"
	default:
		return strings.ToLower(string(s))
	}
}
