package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"streamgate/internal/observability/metrics"
	"streamgate/internal/policy"
	"streamgate/internal/reconciler"
	"streamgate/internal/sessions"
	"streamgate/internal/signer"
	"streamgate/internal/store"
)

// Handler carries the wired runtime dependencies for every API endpoint.
type Handler struct {
	Store      store.Repository
	Policy     *policy.Engine
	Signer     *signer.Signer
	Reconciler *reconciler.Engine
	Sessions   sessions.Tracker
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
}

func NewHandler(repo store.Repository, pol *policy.Engine, sig *signer.Signer, rec *reconciler.Engine) *Handler {
	return &Handler{
		Store:      repo,
		Policy:     pol,
		Signer:     sig,
		Reconciler: rec,
		Sessions:   sessions.Unlimited{},
		Metrics:    metrics.Default(),
		Logger:     slog.Default(),
	}
}

func (h *Handler) tracker() sessions.Tracker {
	if h.Sessions == nil {
		return sessions.Unlimited{}
	}
	return h.Sessions
}

func (h *Handler) recorder() *metrics.Recorder {
	if h.Metrics == nil {
		return metrics.Default()
	}
	return h.Metrics
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// WriteError is an exported helper for returning JSON API errors.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
}

// pathParts trims prefix from the request path and splits the remainder,
// dropping trailing empty segments.
func pathParts(r *http.Request, prefix string) []string {
	path := strings.TrimPrefix(r.URL.Path, prefix)
	parts := strings.Split(path, "/")
	for len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// clientIP extracts the viewer address, preferring the first hop of
// X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Health reports liveness plus the reachability of the configured store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	services := map[string]string{"store": "ok"}
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			status = "degraded"
			services["store"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"services": services,
	})
}

// Ready answers 200 once the store responds; load balancers gate traffic on it.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("store not ready: %w", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
