package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/ChangeGuard/internal/domain"
	"github.com/Strob0t/ChangeGuard/internal/domain/snapshot"
)

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// pullFromPath reads the {owner}/{repo}/pulls/{number} path parameters.
func pullFromPath(r *http.Request) (snapshot.PRIdentity, error) {
	n, err := strconv.Atoi(urlParam(r, "number"))
	if err != nil {
		return snapshot.PRIdentity{}, fmt.Errorf("%w: pull request number must be an integer", domain.ErrValidation)
	}
	pr := snapshot.PRIdentity{
		RepoFullName: urlParam(r, "owner") + "/" + urlParam(r, "repo"),
		Number:       n,
	}
	if err := pr.Validate(); err != nil {
		return snapshot.PRIdentity{}, err
	}
	return pr, nil
}

// queryInt returns the integer query parameter name, or def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrValidation, name)
	}
	return v, nil
}

// wildcardParam returns the unescaped value of a trailing /* route segment.
func wildcardParam(r *http.Request) (string, error) {
	v, err := url.PathUnescape(urlParam(r, "*"))
	if err != nil {
		return "", fmt.Errorf("%w: malformed path", domain.ErrValidation)
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeDomainError(w http.ResponseWriter, err error, fallbackMsg string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, fallbackMsg)
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "resource was modified by another request")
	case errors.Is(err, domain.ErrValidation):
		msg := strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
		writeError(w, http.StatusBadRequest, msg)
	default:
		writeInternalError(w, err)
	}
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
