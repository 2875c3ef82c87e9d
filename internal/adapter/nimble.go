package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"streamgate/internal/model"
	"streamgate/internal/observability/metrics"
)

// Nimble manages resources on a Nimble Streamer node through its REST API.
// Requests authenticate with the X-API-KEY header. The adapter performs no
// retries of its own: transport timeouts live on the injected HTTP client and
// retry policy belongs to the caller.
type Nimble struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewNimble constructs a Nimble adapter for the node at baseURL.
func NewNimble(baseURL, apiKey string, opts Options) *Nimble {
	return &Nimble{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  opts.httpClient(),
		logger:  opts.logger().With("backend", "nimble"),
		metrics: opts.metrics(),
	}
}

type nimbleInputRequest struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Port       int    `json:"port"`
	Passphrase string `json:"passphrase"`
}

type nimbleRendition struct {
	Name        string `json:"name"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	BitrateKbps int    `json:"bitrate_kbps"`
	FPS         int    `json:"fps"`
}

type nimbleTranscodeRequest struct {
	StreamID   string            `json:"stream_id"`
	GOP        float64           `json:"gop"`
	Renditions []nimbleRendition `json:"renditions"`
}

type nimblePackagingRequest struct {
	StreamID       string  `json:"stream_id"`
	OutputPath     string  `json:"output_path"`
	SegmentSeconds float64 `json:"segment_seconds"`
	PartSeconds    float64 `json:"part_seconds"`
	LowLatency     bool    `json:"low_latency"`
}

type nimbleTokenPolicyRequest struct {
	ClientID    string `json:"client_id"`
	MaxSessions int    `json:"max_sessions"`
	TTL         int    `json:"ttl"`
	PathPrefix  string `json:"path_prefix"`
}

type nimbleStatsResponse struct {
	IngestStatus string                        `json:"ingest_status"`
	PartAge      *float64                      `json:"part_age"`
	SegmentAge   *float64                      `json:"segment_age"`
	CPU          *float64                      `json:"cpu"`
	HTTPErrors   *float64                      `json:"http_errors"`
	Renditions   map[string]map[string]float64 `json:"renditions"`
}

func (n *Nimble) EnsureInput(ctx context.Context, streamID string, spec model.IngestSpec) error {
	payload := nimbleInputRequest{
		ID:         streamID,
		Type:       "srt_listener",
		Port:       spec.SRT.Port,
		Passphrase: "env:" + spec.SRT.PassphraseEnv,
	}
	n.logger.Debug("ensuring input", "stream_id", streamID, "port", spec.SRT.Port)
	return n.post(ctx, "ensure_input", "/api/inputs", payload)
}

func (n *Nimble) EnsureTranscodeProfile(ctx context.Context, streamID string, profile model.PlaybackProfile) error {
	payload := nimbleTranscodeRequest{
		StreamID:   streamID,
		GOP:        profile.GOPSeconds,
		Renditions: make([]nimbleRendition, 0, len(profile.Renditions)),
	}
	for _, r := range profile.Renditions {
		payload.Renditions = append(payload.Renditions, nimbleRendition{
			Name:        r.Name,
			Width:       r.Width,
			Height:      r.Height,
			BitrateKbps: r.BitrateKbps,
			FPS:         r.FPS,
		})
	}
	n.logger.Debug("ensuring transcode profile", "stream_id", streamID, "profile", profile.Name)
	return n.post(ctx, "ensure_transcode", "/api/transcode", payload)
}

func (n *Nimble) EnsurePackagingLLHLS(ctx context.Context, streamID, path string, profile model.PlaybackProfile) error {
	payload := nimblePackagingRequest{
		StreamID:       streamID,
		OutputPath:     path,
		SegmentSeconds: profile.SegmentSeconds,
		PartSeconds:    profile.PartSeconds,
		LowLatency:     true,
	}
	n.logger.Debug("ensuring LL-HLS packaging", "stream_id", streamID, "path", path)
	return n.post(ctx, "ensure_packaging", "/api/packaging/ll-hls", payload)
}

func (n *Nimble) EnsureTokenPolicy(ctx context.Context, clientID string, rules model.TokenRules) error {
	payload := nimbleTokenPolicyRequest{
		ClientID:    clientID,
		MaxSessions: rules.MaxSessions,
		TTL:         rules.TTLSeconds,
		PathPrefix:  rules.PathPrefix,
	}
	n.logger.Debug("ensuring token policy", "client_id", clientID, "path_prefix", rules.PathPrefix)
	return n.post(ctx, "ensure_token_policy", "/api/token-policy", payload)
}

// FetchStats degrades gracefully: on failure it returns a snapshot with
// ingest status "unknown" carrying the error detail, after logging and
// recording the failure.
func (n *Nimble) FetchStats(ctx context.Context, streamID string) (model.StreamStats, error) {
	var parsed nimbleStatsResponse
	err := n.do(ctx, "fetch_stats", http.MethodGet, "/api/streams/"+streamID+"/stats", nil, &parsed, okDefault)
	if err != nil {
		n.logger.Warn("stats fetch failed", "stream_id", streamID, "error", err)
		return model.StreamStats{StreamID: streamID, IngestStatus: "unknown", Error: err.Error()}, nil
	}
	status := parsed.IngestStatus
	if status == "" {
		status = "unknown"
	}
	return model.StreamStats{
		StreamID:              streamID,
		IngestStatus:          status,
		LastPartAgeSeconds:    parsed.PartAge,
		LastSegmentAgeSeconds: parsed.SegmentAge,
		CPUPercent:            parsed.CPU,
		HTTPErrorRate:         parsed.HTTPErrors,
		Renditions:            parsed.Renditions,
	}, nil
}

// DeleteStream removes the stream's resources. A 404 from the node means the
// stream is already gone and is treated as success.
func (n *Nimble) DeleteStream(ctx context.Context, streamID string) error {
	return n.do(ctx, "delete_stream", http.MethodDelete, "/api/streams/"+streamID, nil,
		nil, []int{http.StatusOK, http.StatusNoContent, http.StatusNotFound})
}

// Close releases pooled connections held by the HTTP client.
func (n *Nimble) Close() error {
	n.client.CloseIdleConnections()
	return nil
}

var okDefault = []int{http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent}

func (n *Nimble) post(ctx context.Context, op, path string, payload interface{}) error {
	return n.do(ctx, op, http.MethodPost, path, payload, nil, okDefault)
}

func (n *Nimble) do(ctx context.Context, op, method, path string, payload, dest interface{}, okStatus []int) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return &Error{Backend: "nimble", Op: op, Detail: "encode request", Err: err}
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, n.baseURL+path, body)
	if err != nil {
		return &Error{Backend: "nimble", Op: op, Detail: "build request", Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-KEY", n.apiKey)

	resp, err := n.client.Do(req)
	if err != nil {
		n.metrics.RecordAdapterCall("nimble", op, false)
		n.logger.Error("request error", "op", op, "error", err)
		return &Error{Backend: "nimble", Op: op, Detail: "connection error", Err: err}
	}
	defer resp.Body.Close()

	if !statusAllowed(resp.StatusCode, okStatus) {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		n.metrics.RecordAdapterCall("nimble", op, false)
		n.logger.Error("unexpected status", "op", op, "status", resp.StatusCode, "body", strings.TrimSpace(string(detail)))
		return &Error{Backend: "nimble", Op: op, Status: resp.StatusCode, Detail: strings.TrimSpace(string(detail))}
	}

	if dest != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			n.metrics.RecordAdapterCall("nimble", op, false)
			return &Error{Backend: "nimble", Op: op, Status: resp.StatusCode, Detail: fmt.Sprintf("decode response: %v", err), Err: err}
		}
	}
	n.metrics.RecordAdapterCall("nimble", op, true)
	return nil
}

func statusAllowed(status int, allowed []int) bool {
	for _, ok := range allowed {
		if status == ok {
			return true
		}
	}
	return false
}
