// Package adapter defines the capability contract every media-server backend
// implementation satisfies, plus the HTTP implementations for the supported
// products. The reconciler drives backends exclusively through this contract;
// wire-level details never leak past it.
package adapter

import (
	"context"
	"fmt"

	"streamgate/internal/model"
)

// Adapter is the capability set a backend exposes. Ensure operations are
// upserts: calling them again with unchanged parameters must converge to the
// same backend state without erroring. Implementations must be safe for
// concurrent use.
type Adapter interface {
	// EnsureInput provisions or validates the stream's ingest endpoint.
	EnsureInput(ctx context.Context, streamID string, spec model.IngestSpec) error

	// EnsureTranscodeProfile provisions or validates the transcode renditions.
	EnsureTranscodeProfile(ctx context.Context, streamID string, profile model.PlaybackProfile) error

	// EnsurePackagingLLHLS provisions or validates low-latency packaging at
	// path with the profile's segment and part durations.
	EnsurePackagingLLHLS(ctx context.Context, streamID, path string, profile model.PlaybackProfile) error

	// EnsureTokenPolicy provisions or validates the per-client session, TTL,
	// and path-prefix policy.
	EnsureTokenPolicy(ctx context.Context, clientID string, rules model.TokenRules) error

	// FetchStats reads the current health snapshot for the stream.
	// Implementations that degrade gracefully return a snapshot with ingest
	// status "unknown" instead of an error, but must still log the failure.
	FetchStats(ctx context.Context, streamID string) (model.StreamStats, error)

	// DeleteStream tears down the stream best-effort. The stream being absent
	// on the backend is not an error.
	DeleteStream(ctx context.Context, streamID string) error

	// Close releases held connections. Called once during process shutdown.
	Close() error
}

// Error is the single classified failure an adapter call raises: transport
// errors and non-success backend responses both land here, carrying the
// backend's status and detail. Callers only need to know the call failed.
type Error struct {
	Backend string
	Op      string
	Status  int
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Backend, e.Op)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.Status)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Noop is an Adapter that performs no external calls and returns benign
// defaults. It serves tests and deployments where a slot is intentionally
// left inert.
type Noop struct{}

func (Noop) EnsureInput(ctx context.Context, streamID string, spec model.IngestSpec) error {
	return nil
}

func (Noop) EnsureTranscodeProfile(ctx context.Context, streamID string, profile model.PlaybackProfile) error {
	return nil
}

func (Noop) EnsurePackagingLLHLS(ctx context.Context, streamID, path string, profile model.PlaybackProfile) error {
	return nil
}

func (Noop) EnsureTokenPolicy(ctx context.Context, clientID string, rules model.TokenRules) error {
	return nil
}

// FetchStats reports ingest status "disabled" so callers can render the slot
// without conditional logic.
func (Noop) FetchStats(ctx context.Context, streamID string) (model.StreamStats, error) {
	return model.StreamStats{StreamID: streamID, IngestStatus: "disabled"}, nil
}

func (Noop) DeleteStream(ctx context.Context, streamID string) error {
	return nil
}

func (Noop) Close() error {
	return nil
}
