package adapter

import (
	"context"
	"log/slog"

	"streamgate/internal/model"
)

// Wowza is a placeholder adapter for Wowza Streaming Engine deployments. Like
// AntMedia it accepts ensure calls without touching the backend so streams can
// declare wowza bindings before the REST integration lands.
type Wowza struct {
	baseURL string
	logger  *slog.Logger
}

// NewWowza constructs the placeholder adapter.
func NewWowza(baseURL, apiKey string, opts Options) *Wowza {
	_ = apiKey
	return &Wowza{
		baseURL: baseURL,
		logger:  opts.logger().With("backend", "wowza"),
	}
}

func (w *Wowza) EnsureInput(ctx context.Context, streamID string, spec model.IngestSpec) error {
	w.logger.Info("SRT provisioning not implemented, accepting", "stream_id", streamID)
	return nil
}

func (w *Wowza) EnsureTranscodeProfile(ctx context.Context, streamID string, profile model.PlaybackProfile) error {
	w.logger.Info("transcode provisioning not implemented, accepting", "stream_id", streamID, "profile", profile.Name)
	return nil
}

func (w *Wowza) EnsurePackagingLLHLS(ctx context.Context, streamID, path string, profile model.PlaybackProfile) error {
	w.logger.Info("LL-HLS provisioning not implemented, accepting", "stream_id", streamID, "path", path)
	return nil
}

func (w *Wowza) EnsureTokenPolicy(ctx context.Context, clientID string, rules model.TokenRules) error {
	w.logger.Info("token policy provisioning not implemented, accepting", "client_id", clientID)
	return nil
}

func (w *Wowza) FetchStats(ctx context.Context, streamID string) (model.StreamStats, error) {
	return model.StreamStats{StreamID: streamID, IngestStatus: "unknown"}, nil
}

func (w *Wowza) DeleteStream(ctx context.Context, streamID string) error {
	w.logger.Info("delete not implemented, accepting", "stream_id", streamID)
	return nil
}

func (w *Wowza) Close() error {
	return nil
}
