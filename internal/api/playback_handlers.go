package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"streamgate/internal/model"
	"streamgate/internal/policy"
	"streamgate/internal/signer"
	"streamgate/internal/store"
)

// Sign authorizes a playback request and mints a signed LL-HLS URL. Every
// outcome, granted or refused, lands in the sign outcome counters.
func (h *Handler) Sign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}

	var req model.SignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ip := req.IP
	if ip == "" {
		ip = clientIP(r)
	}
	country := req.Country
	if country == "" {
		country = r.Header.Get("X-Viewer-Country")
	}

	client, err := h.Policy.Authorize(req, ip, country)
	if err != nil {
		if reason, ok := policy.DenialReason(err); ok {
			h.recorder().RecordSignOutcome(reason)
			h.logger().Info("playback denied",
				"reason", reason,
				"client_id", req.ClientID,
				"stream_id", req.StreamID,
				"ip", ip,
				"country", country)
			writeError(w, http.StatusForbidden, err)
			return
		}
		h.recorder().RecordSignOutcome("error")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	ttl := time.Duration(client.TokenTTLSeconds) * time.Second
	granted, err := h.tracker().Acquire(r.Context(), client.ID, client.MaxSessions, ttl)
	if err != nil {
		h.recorder().RecordSignOutcome("error")
		writeError(w, http.StatusInternalServerError, fmt.Errorf("session tracking: %w", err))
		return
	}
	if !granted {
		h.recorder().RecordSignOutcome("session_limit")
		writeError(w, http.StatusTooManyRequests, fmt.Errorf("client %s reached its session limit", client.ID))
		return
	}

	stream, ok := h.Store.GetStream(req.StreamID)
	if !ok {
		h.recorder().RecordSignOutcome("error")
		writeError(w, http.StatusNotFound, fmt.Errorf("stream %s not found", req.StreamID))
		return
	}

	expiry := policy.BuildExpiry(client, time.Now())
	signed, err := h.Signer.Sign(client, stream, req, expiry)
	if err != nil {
		h.recorder().RecordSignOutcome("error")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.recorder().RecordSignOutcome("signed")
	writeJSON(w, http.StatusOK, signed)
}

type rotateKeyRequest struct {
	KID        string `json:"kid"`
	Secret     string `json:"secret,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

// RotateKey installs a new signing key and makes it active immediately.
// Callers supply either the raw secret or a passphrase to derive one from.
func (h *Handler) RotateKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}

	var req rotateKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.KID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("kid is required"))
		return
	}

	var key signer.SigningKey
	switch {
	case req.Secret != "":
		key = signer.SigningKey{KID: req.KID, Secret: []byte(req.Secret)}
	case req.Passphrase != "":
		key = signer.KeyFromPassphrase(req.KID, req.Passphrase)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("secret or passphrase is required"))
		return
	}

	if err := h.Signer.Rotate(key); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.recorder().RecordKeyRotation(req.KID)
	h.recorder().SetActiveKID(req.KID)
	h.logger().Info("signing key rotated", "kid", req.KID)
	writeJSON(w, http.StatusOK, map[string]string{"active_kid": req.KID})
}

// Reconcile pushes a stream's declared state to its bound backends.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	parts := pathParts(r, "/v1/reconcile/")
	if len(parts) != 1 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("stream id missing"))
		return
	}
	streamID := parts[0]

	if err := h.Reconciler.Apply(r.Context(), streamID); err != nil {
		if errors.Is(err, store.ErrStreamNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"stream_id": streamID,
		"status":    "reconciled",
	})
}
