// Package middleware provides HTTP middleware for ChangeGuard.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/ChangeGuard/internal/logger"
)

const (
	headerRequestID = "X-Request-ID"
	headerDelivery  = "X-GitHub-Delivery"
)

// RequestID is HTTP middleware that takes the request ID from X-Request-ID,
// falls back to the GitHub delivery ID, and generates one otherwise. The ID
// is stored in the context and set on the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = r.Header.Get(headerDelivery)
		}
		if id == "" {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
