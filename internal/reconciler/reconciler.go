// Package reconciler drives primary and backup media-server backends toward
// each stream's declared desired state. Apply is idempotent: ensure calls are
// upserts, so repeating a pass with unchanged configuration converges to the
// same backend state without erroring.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"streamgate/internal/adapter"
	"streamgate/internal/model"
	"streamgate/internal/observability/logging"
	"streamgate/internal/observability/metrics"
	"streamgate/internal/store"
)

// View is the read-only configuration surface one reconciliation pass borrows.
// Entities returned from it are copies and are never mutated here.
type View interface {
	GetClient(id string) (model.Client, bool)
	GetProfile(name string) (model.PlaybackProfile, bool)
	GetStream(id string) (model.Stream, bool)
}

// Engine schedules reconciliation units across adapter slots. Apply calls may
// run fully in parallel; the adapter map is the only shared state and is
// guarded for dynamic binding.
type Engine struct {
	view     View
	mu       sync.Mutex
	adapters map[string]adapter.Adapter
	registry *adapter.Registry
	buildOpt adapter.Options
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

// New constructs an Engine over the configuration view and the adapter set
// keyed by adapter.SlotKey.
func New(view View, adapters map[string]adapter.Adapter, logger *slog.Logger, recorder *metrics.Recorder) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.Default()
	}
	if adapters == nil {
		adapters = make(map[string]adapter.Adapter)
	}
	return &Engine{view: view, adapters: adapters, logger: logger, metrics: recorder}
}

// EnableDynamicBinding lets the engine build adapters for slots that were not
// bound at startup, covering streams declared after boot. Built adapters are
// cached under their slot key and closed with the rest during shutdown.
func (e *Engine) EnableDynamicBinding(registry *adapter.Registry, opts adapter.Options) {
	e.mu.Lock()
	e.registry = registry
	e.buildOpt = opts
	e.mu.Unlock()
}

// resolveAdapter returns the adapter bound to the stream's slot, building one
// on demand when dynamic binding is enabled and the stream declares the slot.
func (e *Engine) resolveAdapter(stream model.Stream, slot string) (adapter.Adapter, bool) {
	key := adapter.SlotKey(stream.ID, slot)
	e.mu.Lock()
	defer e.mu.Unlock()
	if backend, ok := e.adapters[key]; ok {
		return backend, true
	}
	if e.registry == nil {
		return nil, false
	}
	var spec *model.AdapterSpec
	switch slot {
	case model.SlotPrimary:
		spec = stream.Adapters.Primary
	case model.SlotBackup:
		spec = stream.Adapters.Backup
	}
	if spec == nil {
		return nil, false
	}
	backend, err := e.registry.Build(*spec, e.buildOpt)
	if err != nil {
		e.logger.Error("adapter build failed", "stream_id", stream.ID, "slot", slot, "error", err)
		return nil, false
	}
	e.adapters[key] = backend
	return backend, true
}

// Apply converges both backends for the stream. An unknown stream ID is a
// terminal not-found failure raised before any adapter call. Units (bound
// slot x resolved profile, plus one token-policy unit per bound slot) run
// concurrently and fail fast: the first unit
// error cancels the group context and surfaces to the caller, though adapter
// calls already in flight are not forcibly interrupted. The engine applies no
// retry or timeout of its own; transport deadlines belong to the adapters'
// HTTP clients and retry policy to the caller.
func (e *Engine) Apply(ctx context.Context, streamID string) error {
	stream, ok := e.view.GetStream(streamID)
	if !ok {
		e.metrics.RecordReconcile(streamID, false)
		return fmt.Errorf("stream %s: %w", streamID, store.ErrStreamNotFound)
	}

	ctx = logging.ContextWithStreamID(ctx, streamID)
	logger := logging.WithContext(ctx, e.logger)

	profiles := e.profilesForStream(stream, logger)

	group, ctx := errgroup.WithContext(ctx)
	for _, slot := range []string{model.SlotPrimary, model.SlotBackup} {
		backend, ok := e.resolveAdapter(stream, slot)
		if !ok {
			if stream.Adapters.Primary != nil && slot == model.SlotPrimary ||
				stream.Adapters.Backup != nil && slot == model.SlotBackup {
				logger.Warn("adapter missing for slot", "slot", slot)
			}
			continue
		}
		if len(profiles) == 0 {
			continue
		}
		for _, profile := range profiles {
			backend := backend
			profile := profile
			slot := slot
			group.Go(func() error {
				if err := e.reconcileUnit(ctx, backend, stream, profile); err != nil {
					return fmt.Errorf("%s slot, profile %s: %w", slot, profile.Name, err)
				}
				return nil
			})
		}
		slotBackend := backend
		slot := slot
		group.Go(func() error {
			if err := e.ensureTokenPolicies(ctx, slotBackend, stream); err != nil {
				return fmt.Errorf("%s slot, token policy: %w", slot, err)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		e.metrics.RecordReconcile(streamID, false)
		return fmt.Errorf("reconcile stream %s: %w", streamID, err)
	}
	e.metrics.RecordReconcile(streamID, true)
	return nil
}

// profilesForStream resolves the distinct playback profiles the stream's
// clients need, keeping the first occurrence of each profile name in
// assignment order. Stale client or profile references are logged and
// skipped; they never abort the pass.
func (e *Engine) profilesForStream(stream model.Stream, logger *slog.Logger) []model.PlaybackProfile {
	seen := make(map[string]struct{})
	var profiles []model.PlaybackProfile
	for _, clientID := range stream.AssignedClients {
		client, ok := e.view.GetClient(clientID)
		if !ok {
			logger.Warn("client missing during reconciliation", "client_id", clientID)
			continue
		}
		if _, dup := seen[client.PlaybackProfile]; dup {
			continue
		}
		seen[client.PlaybackProfile] = struct{}{}
		profile, ok := e.view.GetProfile(client.PlaybackProfile)
		if !ok {
			logger.Warn("profile missing during reconciliation", "profile", client.PlaybackProfile)
			continue
		}
		profiles = append(profiles, profile)
	}
	return profiles
}

func (e *Engine) reconcileUnit(ctx context.Context, backend adapter.Adapter, stream model.Stream, profile model.PlaybackProfile) error {
	if err := backend.EnsureInput(ctx, stream.ID, stream.Ingest); err != nil {
		return err
	}
	if err := backend.EnsureTranscodeProfile(ctx, stream.ID, profile); err != nil {
		return err
	}
	return backend.EnsurePackagingLLHLS(ctx, stream.ID, stream.Packaging.LLHLSPath, profile)
}

// ensureTokenPolicies installs one token policy per assigned client on the
// slot's backend. It runs once per slot so every client ends up with exactly
// one policy there regardless of how many profiles the slot serves.
func (e *Engine) ensureTokenPolicies(ctx context.Context, backend adapter.Adapter, stream model.Stream) error {
	for _, clientID := range stream.AssignedClients {
		client, ok := e.view.GetClient(clientID)
		if !ok {
			continue
		}
		if err := backend.EnsureTokenPolicy(ctx, clientID, model.TokenRulesFor(stream, client)); err != nil {
			return err
		}
	}
	return nil
}

// Stats reads the health snapshot for the stream from its primary adapter and
// records the reported ingest status.
func (e *Engine) Stats(ctx context.Context, streamID string) (model.StreamStats, error) {
	stream, ok := e.view.GetStream(streamID)
	if !ok {
		return model.StreamStats{}, fmt.Errorf("stream %s: %w", streamID, store.ErrStreamNotFound)
	}
	backend, ok := e.resolveAdapter(stream, model.SlotPrimary)
	if !ok {
		return model.StreamStats{}, fmt.Errorf("stream %s: no primary adapter bound", streamID)
	}
	stats, err := backend.FetchStats(ctx, streamID)
	if err != nil {
		return model.StreamStats{}, err
	}
	e.metrics.SetIngestHealth(streamID, stats.IngestStatus)
	return stats, nil
}

// Teardown deletes the stream on every bound slot, best-effort: each slot is
// attempted and the first error is reported after all have run.
func (e *Engine) Teardown(ctx context.Context, streamID string) error {
	stream, ok := e.view.GetStream(streamID)
	if !ok {
		return fmt.Errorf("stream %s: %w", streamID, store.ErrStreamNotFound)
	}
	var firstErr error
	for _, slot := range []string{model.SlotPrimary, model.SlotBackup} {
		backend, ok := e.resolveAdapter(stream, slot)
		if !ok {
			continue
		}
		if err := backend.DeleteStream(ctx, streamID); err != nil {
			e.logger.Error("stream teardown failed", "stream_id", streamID, "slot", slot, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// CloseAdapters releases every adapter once during shutdown.
func (e *Engine) CloseAdapters() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, backend := range e.adapters {
		if err := backend.Close(); err != nil {
			e.logger.Warn("adapter close failed", "adapter", key, "error", err)
		}
	}
}
