package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Strob0t/ChangeGuard/internal/adapter/github"
	"github.com/Strob0t/ChangeGuard/internal/port/messagequeue"
	"github.com/Strob0t/ChangeGuard/internal/service"
)

const (
	headerGitHubEvent    = "X-GitHub-Event"
	headerGitHubDelivery = "X-GitHub-Delivery"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the services the HTTP routes delegate to.
type Handlers struct {
	Ingress    *service.IngressService
	Projection *service.ProjectionService
	Store      Pinger
	// Queue is nil when NATS is not configured.
	Queue messagequeue.Queue
	Now   func() time.Time
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// webhookResponse is returned for deliveries that did not produce an
// outcome inline.
type webhookResponse struct {
	Status     string `json:"status"`
	Event      string `json:"event,omitempty"`
	DeliveryID string `json:"delivery_id,omitempty"`
}

// HandleGitHubWebhook handles POST /webhooks/github. The signature has
// already been verified by middleware.
func (h *Handlers) HandleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	ctx := r.Context()
	eventType := r.Header.Get(headerGitHubEvent)
	delivery := r.Header.Get(headerGitHubDelivery)

	switch eventType {
	case github.EventPing:
		writeJSON(w, http.StatusOK, webhookResponse{Status: "pong", DeliveryID: delivery})
		return
	case github.EventPullRequest:
	default:
		slog.DebugContext(ctx, "ignoring webhook event", "event", eventType, "delivery_id", delivery)
		writeJSON(w, http.StatusAccepted, webhookResponse{Status: "ignored", Event: eventType, DeliveryID: delivery})
		return
	}

	ev, err := github.ParsePullRequestEvent(eventType, delivery, body, h.now())
	if err != nil {
		writeDomainError(w, err, "invalid payload")
		return
	}

	res, err := h.Ingress.Ingest(ctx, ev)
	switch {
	case errors.Is(err, service.ErrQueueUnavailable):
		writeError(w, http.StatusServiceUnavailable, "evaluation queue unavailable")
		return
	case err != nil:
		writeInternalError(w, err)
		return
	}

	switch {
	case res.Ignored:
		writeJSON(w, http.StatusAccepted, webhookResponse{Status: "ignored", Event: eventType, DeliveryID: delivery})
	case res.Queued:
		writeJSON(w, http.StatusAccepted, webhookResponse{Status: "queued", DeliveryID: delivery})
	default:
		writeJSON(w, http.StatusOK, res.Outcome)
	}
}

// GetPullStatus handles GET /api/v1/repos/{owner}/{repo}/pulls/{number}/status.
func (h *Handlers) GetPullStatus(w http.ResponseWriter, r *http.Request) {
	pr, err := pullFromPath(r)
	if err != nil {
		writeDomainError(w, err, "invalid pull request")
		return
	}
	st, err := h.Projection.LatestStatus(r.Context(), pr)
	if err != nil {
		writeDomainError(w, err, "no completed evaluation for pull request")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListPullEvaluations handles GET /api/v1/repos/{owner}/{repo}/pulls/{number}/evaluations.
func (h *Handlers) ListPullEvaluations(w http.ResponseWriter, r *http.Request) {
	pr, err := pullFromPath(r)
	if err != nil {
		writeDomainError(w, err, "invalid pull request")
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	runs, err := h.Projection.ListEvaluations(r.Context(), pr, limit, offset)
	if err != nil {
		writeDomainError(w, err, "pull request not found")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetEvaluation handles GET /api/v1/evaluations/*. The evaluation key may
// be sent raw or path-escaped.
func (h *Handlers) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	key, err := wildcardParam(r)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	detail, err := h.Projection.GetEvaluation(r.Context(), key)
	if err != nil {
		writeDomainError(w, err, "evaluation not found")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type healthResponse struct {
	Status      string `json:"status"`
	Store       string `json:"store"`
	Queue       string `json:"queue"`
	IngressMode string `json:"ingress_mode"`
}

// Health handles GET /health. It reports 503 when the store is unreachable
// or a configured queue is disconnected.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Store: "ok", Queue: "disabled", IngressMode: h.Ingress.Mode()}
	code := http.StatusOK
	if h.Store != nil {
		if err := h.Store.Ping(ctx); err != nil {
			slog.WarnContext(ctx, "health: store ping failed", "error", err)
			resp.Store = "unavailable"
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	if h.Queue != nil {
		resp.Queue = "ok"
		if !h.Queue.IsConnected() {
			resp.Queue = "disconnected"
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, resp)
}
