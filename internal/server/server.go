// Package server provides the photosync HTTP API: existence check,
// upload, listing, retrieval, deletion, and the health probe.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/benmorin/photosync/internal/api"
	"github.com/benmorin/photosync/internal/index"
	"github.com/benmorin/photosync/internal/storage"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Index  *index.Index
	Store  *storage.Store
	Logger *slog.Logger

	// Credential boundary. Exactly one of Secret / SecretHash is set.
	Secret     string
	SecretHash string

	// MaxUploadBytes caps the upload request body. Zero disables the cap.
	MaxUploadBytes int64
}

// Handler holds shared dependencies for all HTTP handlers.
type Handler struct {
	index          *index.Index
	store          *storage.Store
	logger         *slog.Logger
	maxUploadBytes int64
}

// NewMux builds the HTTP mux. The health probe stays outside the
// credential boundary so liveness checks work without the secret; every
// other route is wrapped by the secret middleware.
func NewMux(cfg MuxConfig) http.Handler {
	h := &Handler{
		index:          cfg.Index,
		store:          cfg.Store,
		logger:         cfg.Logger,
		maxUploadBytes: cfg.MaxUploadBytes,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.Health)

	authed := http.NewServeMux()
	authed.HandleFunc("POST /api/photos/check", h.CheckHashes)
	authed.HandleFunc("POST /api/photos", h.Upload)
	authed.HandleFunc("GET /api/photos", h.List)
	authed.HandleFunc("GET /api/photos/{id}", h.Get)
	authed.HandleFunc("GET /api/photos/{id}/content", h.Content)
	authed.HandleFunc("DELETE /api/photos/{id}", h.Delete)

	requireAuth := requireSecret(cfg.Secret, cfg.SecretHash, cfg.Logger)
	mux.Handle("/api/", requireAuth(authed))

	return requestLog(cfg.Logger)(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; nothing to do beyond noting it.
		slog.Default().Debug("encoding response", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: msg}) //nolint:errcheck
}
