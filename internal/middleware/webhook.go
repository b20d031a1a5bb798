package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// HeaderGitHubSignature carries the HMAC-SHA256 of a GitHub webhook body.
const HeaderGitHubSignature = "X-Hub-Signature-256"

// WebhookHMAC returns middleware that validates HMAC-SHA256 webhook
// signatures in header. Bodies larger than maxBytes are rejected before
// verification.
func WebhookHMAC(secret, header string, maxBytes int64) func(http.Handler) http.Handler {
	return WebhookHMACFunc(func() string { return secret }, header, maxBytes)
}

// WebhookHMACFunc is WebhookHMAC with the secret looked up per request, so a
// rotated secret takes effect without a restart.
func WebhookHMACFunc(secretFn func() string, header string, maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := secretFn()
			if secret == "" {
				writeError(w, http.StatusServiceUnavailable, "webhook secret not configured")
				return
			}

			sig := r.Header.Get(header)
			if sig == "" {
				writeError(w, http.StatusUnauthorized, "missing webhook signature")
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeError(w, http.StatusRequestEntityTooLarge, "webhook body too large")
					return
				}
				writeError(w, http.StatusBadRequest, "failed to read body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !verifyHMAC(body, sig, secret) {
				slog.WarnContext(r.Context(), "webhook signature mismatch", "remote", realIP(r))
				writeError(w, http.StatusUnauthorized, "invalid webhook signature")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// verifyHMAC checks a "sha256=<hex>" signature over payload.
func verifyHMAC(payload []byte, signature, secret string) bool {
	sig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return false
	}
	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(sigBytes, mac.Sum(nil))
}

// Sign returns the X-Hub-Signature-256 value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
