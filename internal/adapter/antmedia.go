package adapter

import (
	"context"
	"log/slog"

	"streamgate/internal/model"
)

// AntMedia is a placeholder adapter for Ant Media Server deployments.
//
// TODO: wire the Ant Media REST Service API (broadcast create, adaptive
// settings, token security) behind these operations. Until then the adapter
// accepts every ensure call so mixed fleets can be declared ahead of the
// rollout, and reports stats as "unknown".
type AntMedia struct {
	baseURL string
	logger  *slog.Logger
}

// NewAntMedia constructs the placeholder adapter.
func NewAntMedia(baseURL, apiKey string, opts Options) *AntMedia {
	_ = apiKey
	return &AntMedia{
		baseURL: baseURL,
		logger:  opts.logger().With("backend", "antmedia"),
	}
}

func (a *AntMedia) EnsureInput(ctx context.Context, streamID string, spec model.IngestSpec) error {
	a.logger.Info("SRT provisioning not implemented, accepting", "stream_id", streamID)
	return nil
}

func (a *AntMedia) EnsureTranscodeProfile(ctx context.Context, streamID string, profile model.PlaybackProfile) error {
	a.logger.Info("transcode provisioning not implemented, accepting", "stream_id", streamID, "profile", profile.Name)
	return nil
}

func (a *AntMedia) EnsurePackagingLLHLS(ctx context.Context, streamID, path string, profile model.PlaybackProfile) error {
	a.logger.Info("LL-HLS provisioning not implemented, accepting", "stream_id", streamID, "path", path)
	return nil
}

func (a *AntMedia) EnsureTokenPolicy(ctx context.Context, clientID string, rules model.TokenRules) error {
	a.logger.Info("token policy provisioning not implemented, accepting", "client_id", clientID)
	return nil
}

func (a *AntMedia) FetchStats(ctx context.Context, streamID string) (model.StreamStats, error) {
	return model.StreamStats{StreamID: streamID, IngestStatus: "unknown"}, nil
}

func (a *AntMedia) DeleteStream(ctx context.Context, streamID string) error {
	a.logger.Info("delete not implemented, accepting", "stream_id", streamID)
	return nil
}

func (a *AntMedia) Close() error {
	return nil
}
