// Package mediastub hosts a fake media-server control plane speaking the
// Nimble REST surface. Tests point real adapters at it and assert on the
// recorded operations.
package mediastub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Options describes how the fake backend should behave.
type Options struct {
	// APIKey, when set, is enforced against the X-API-KEY header.
	APIKey string

	// Stats is returned from the stream stats endpoint.
	Stats map[string]interface{}

	// FailInputs causes the first N input requests to return HTTP 503.
	// Subsequent attempts succeed.
	FailInputs int

	// FailTranscodes causes the first N transcode requests to return HTTP 502.
	FailTranscodes int

	// MissingStreams lists stream IDs the delete endpoint answers 404 for.
	MissingStreams []string
}

// Operation is one recorded control-plane interaction.
type Operation struct {
	Kind      string
	StreamID  string
	ClientID  string
	Payload   map[string]interface{}
	Attempt   int
	Status    int
	Timestamp time.Time
}

// Backend hosts a single httptest.Server serving all Nimble endpoints.
type Backend struct {
	server *httptest.Server
	opts   Options

	mu           sync.Mutex
	operations   []Operation
	inputErr     int
	transcodeErr int
}

// Start spins up a new backend stub with the provided options.
func Start(opts Options) *Backend {
	b := &Backend{opts: opts}
	b.server = httptest.NewServer(http.HandlerFunc(b.handle))
	return b
}

// Close shuts down the underlying HTTP server.
func (b *Backend) Close() {
	if b.server != nil {
		b.server.Close()
	}
}

// BaseURL returns the HTTP base URL for all endpoints.
func (b *Backend) BaseURL() string {
	return b.server.URL
}

// Operations returns a copy of all recorded operations in order.
func (b *Backend) Operations() []Operation {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Operation, len(b.operations))
	copy(out, b.operations)
	return out
}

// OperationsOfKind filters the recorded operations by kind.
func (b *Backend) OperationsOfKind(kind string) []Operation {
	var out []Operation
	for _, op := range b.Operations() {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

func (b *Backend) handle(w http.ResponseWriter, r *http.Request) {
	if !b.expectAPIKey(w, r) {
		return
	}
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/inputs":
		b.handleInput(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/transcode":
		b.handleTranscode(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/packaging/ll-hls":
		b.handlePackaging(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/token-policy":
		b.handleTokenPolicy(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/streams/") && strings.HasSuffix(r.URL.Path, "/stats"):
		b.handleStats(w, r)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/streams/"):
		b.handleDelete(w, r)
	default:
		http.Error(w, "unexpected request", http.StatusNotFound)
	}
}

func (b *Backend) handleInput(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}

	b.mu.Lock()
	b.inputErr++
	attempt := b.inputErr
	b.mu.Unlock()

	op := Operation{
		Kind:     "ensure-input",
		StreamID: stringField(payload, "id"),
		Payload:  payload,
		Attempt:  attempt,
		Status:   http.StatusCreated,
	}

	if attempt <= b.opts.FailInputs {
		op.Status = http.StatusServiceUnavailable
		b.record(op)
		http.Error(w, "node unavailable", http.StatusServiceUnavailable)
		return
	}

	b.record(op)
	w.WriteHeader(http.StatusCreated)
}

func (b *Backend) handleTranscode(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}

	b.mu.Lock()
	b.transcodeErr++
	attempt := b.transcodeErr
	b.mu.Unlock()

	op := Operation{
		Kind:     "ensure-transcode",
		StreamID: stringField(payload, "stream_id"),
		Payload:  payload,
		Attempt:  attempt,
		Status:   http.StatusOK,
	}

	if attempt <= b.opts.FailTranscodes {
		op.Status = http.StatusBadGateway
		b.record(op)
		http.Error(w, "transcoder offline", http.StatusBadGateway)
		return
	}

	b.record(op)
	w.WriteHeader(http.StatusOK)
}

func (b *Backend) handlePackaging(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}
	b.record(Operation{
		Kind:     "ensure-packaging",
		StreamID: stringField(payload, "stream_id"),
		Payload:  payload,
		Status:   http.StatusOK,
	})
	w.WriteHeader(http.StatusOK)
}

func (b *Backend) handleTokenPolicy(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}
	b.record(Operation{
		Kind:     "ensure-token-policy",
		ClientID: stringField(payload, "client_id"),
		Payload:  payload,
		Status:   http.StatusOK,
	})
	w.WriteHeader(http.StatusOK)
}

func (b *Backend) handleStats(w http.ResponseWriter, r *http.Request) {
	streamID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/streams/"), "/stats")
	b.record(Operation{Kind: "fetch-stats", StreamID: streamID, Status: http.StatusOK})

	stats := b.opts.Stats
	if stats == nil {
		stats = map[string]interface{}{"ingest_status": "healthy"}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

func (b *Backend) handleDelete(w http.ResponseWriter, r *http.Request) {
	streamID := strings.TrimPrefix(r.URL.Path, "/api/streams/")
	for _, missing := range b.opts.MissingStreams {
		if streamID == missing {
			b.record(Operation{Kind: "delete-stream", StreamID: streamID, Status: http.StatusNotFound})
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
	}
	b.record(Operation{Kind: "delete-stream", StreamID: streamID, Status: http.StatusNoContent})
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) record(op Operation) {
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.operations = append(b.operations, op)
}

func (b *Backend) expectAPIKey(w http.ResponseWriter, r *http.Request) bool {
	expected := strings.TrimSpace(b.opts.APIKey)
	if expected == "" {
		return true
	}
	if r.Header.Get("X-API-KEY") != expected {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func decodePayload(w http.ResponseWriter, r *http.Request) (map[string]interface{}, bool) {
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, false
	}
	return payload, true
}

func stringField(payload map[string]interface{}, key string) string {
	value, _ := payload[key].(string)
	return value
}
