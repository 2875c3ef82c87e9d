package api

import (
	"fmt"
	"net/http"

	"streamgate/internal/model"
)

// Clients serves the collection endpoint: list all clients or upsert one.
func (h *Handler) Clients(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"clients": h.Store.ListClients()})
	case http.MethodPost, http.MethodPut:
		var client model.Client
		if err := decodeJSON(r, &client); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		client.Normalize()
		if err := client.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.Store.UpsertClient(client); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, client)
	default:
		methodNotAllowed(w, r, "GET, POST, PUT")
	}
}

func (h *Handler) ClientByID(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r, "/v1/clients/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("client id missing"))
		return
	}
	clientID := parts[0]
	if len(parts) > 1 {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown client resource %q", parts[1]))
		return
	}
	switch r.Method {
	case http.MethodGet:
		client, ok := h.Store.GetClient(clientID)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("client %s not found", clientID))
			return
		}
		writeJSON(w, http.StatusOK, client)
	default:
		methodNotAllowed(w, r, "GET")
	}
}

// Profiles serves the playback profile collection.
func (h *Handler) Profiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"profiles": h.Store.ListProfiles()})
	case http.MethodPost, http.MethodPut:
		var profile model.PlaybackProfile
		if err := decodeJSON(r, &profile); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := profile.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.Store.UpsertProfile(profile); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, profile)
	default:
		methodNotAllowed(w, r, "GET, POST, PUT")
	}
}

func (h *Handler) ProfileByID(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r, "/v1/playback-profiles/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("profile name missing"))
		return
	}
	name := parts[0]
	switch r.Method {
	case http.MethodGet:
		profile, ok := h.Store.GetProfile(name)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("profile %s not found", name))
			return
		}
		writeJSON(w, http.StatusOK, profile)
	default:
		methodNotAllowed(w, r, "GET")
	}
}

// Streams serves the stream collection.
func (h *Handler) Streams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"streams": h.Store.ListStreams()})
	case http.MethodPost, http.MethodPut:
		var stream model.Stream
		if err := decodeJSON(r, &stream); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := stream.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.Store.UpsertStream(stream); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, stream)
	default:
		methodNotAllowed(w, r, "GET, POST, PUT")
	}
}

// StreamByID routes /v1/streams/{id} and /v1/streams/{id}/stats.
func (h *Handler) StreamByID(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r, "/v1/streams/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("stream id missing"))
		return
	}
	streamID := parts[0]

	if len(parts) == 2 && parts[1] == "stats" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, "GET")
			return
		}
		h.streamStats(w, r, streamID)
		return
	}
	if len(parts) > 1 {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown stream resource %q", parts[1]))
		return
	}

	switch r.Method {
	case http.MethodGet:
		stream, ok := h.Store.GetStream(streamID)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("stream %s not found", streamID))
			return
		}
		writeJSON(w, http.StatusOK, stream)
	case http.MethodDelete:
		h.deleteStream(w, r, streamID)
	default:
		methodNotAllowed(w, r, "GET, DELETE")
	}
}

func (h *Handler) streamStats(w http.ResponseWriter, r *http.Request, streamID string) {
	stats, err := h.Reconciler.Stats(r.Context(), streamID)
	if err != nil {
		status := http.StatusBadGateway
		if _, ok := h.Store.GetStream(streamID); !ok {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// deleteStream tears the stream down on its backends before removing the
// declaration. Teardown failures are logged but do not block the delete;
// backends tolerate repeated teardown of the same stream.
func (h *Handler) deleteStream(w http.ResponseWriter, r *http.Request, streamID string) {
	if _, ok := h.Store.GetStream(streamID); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("stream %s not found", streamID))
		return
	}
	if err := h.Reconciler.Teardown(r.Context(), streamID); err != nil {
		h.logger().Warn("stream teardown incomplete", "stream_id", streamID, "error", err)
	}
	if err := h.Store.DeleteStream(streamID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
