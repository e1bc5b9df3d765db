package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/benmorin/photosync/internal/api"
)

// responseRecorder wraps http.ResponseWriter to capture the status code
// and bytes written for the access log.
type responseRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)

	return n, err
}

// requestLog emits one structured access log line per request after it
// completes. Uploads can run for a while on slow links; the single
// trailing line is intentional.
func requestLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.Int64("response_bytes", rec.written),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// requireSecret returns middleware enforcing the credential boundary:
// requests must present the shared secret in the X-API-Secret header.
// Exactly one of secret / secretHash is expected to be configured.
//
// The plain-secret comparison is constant-time so the middleware does not
// leak how much of a guessed secret matched. The hash variant delegates to
// bcrypt, which is constant-time by construction. Absence or mismatch is
// rejected before any handler runs.
func requireSecret(secret, secretHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(api.SecretHeader)
			if provided == "" {
				writeError(w, http.StatusUnauthorized, "missing API secret")
				return
			}

			ok := false

			if secretHash != "" {
				ok = bcrypt.CompareHashAndPassword([]byte(secretHash), []byte(provided)) == nil
			} else {
				ok = subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) == 1
			}

			if !ok {
				logger.Warn("rejected request with bad API secret",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "invalid API secret")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
