package adapter

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"streamgate/internal/model"
	"streamgate/internal/observability/metrics"
)

// Factory constructs an Adapter for one backend binding.
type Factory func(spec model.AdapterSpec, opts Options) (Adapter, error)

// Options carries the shared collaborators every adapter construction
// receives.
type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) metrics() *metrics.Recorder {
	if o.Metrics != nil {
		return o.Metrics
	}
	return metrics.Default()
}

// Registry maps backend kinds to their factories. Backend selection happens
// once at construction time; there is no runtime type inspection.
type Registry struct {
	factories map[model.AdapterKind]Factory
}

// NewRegistry returns a registry pre-populated with the built-in backends.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[model.AdapterKind]Factory)}
	r.Register(model.KindNimble, func(spec model.AdapterSpec, opts Options) (Adapter, error) {
		return NewNimble(spec.BaseURL, spec.APIKey, opts), nil
	})
	r.Register(model.KindWowza, func(spec model.AdapterSpec, opts Options) (Adapter, error) {
		return NewWowza(spec.BaseURL, spec.APIKey, opts), nil
	})
	r.Register(model.KindAntMedia, func(spec model.AdapterSpec, opts Options) (Adapter, error) {
		return NewAntMedia(spec.BaseURL, spec.APIKey, opts), nil
	})
	return r
}

// Register installs or replaces the factory for a kind.
func (r *Registry) Register(kind model.AdapterKind, factory Factory) {
	r.factories[kind] = factory
}

// Build constructs an adapter for the given binding.
func (r *Registry) Build(spec model.AdapterSpec, opts Options) (Adapter, error) {
	factory, ok := r.factories[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("unsupported adapter kind %q", spec.Kind)
	}
	return factory(spec, opts)
}

// SlotKey is the stable map key for one stream's adapter slot.
func SlotKey(streamID, slot string) string {
	return streamID + ":" + slot
}

// BuildSlots constructs adapters for every bound slot of every stream, keyed
// by SlotKey. Streams may omit either slot.
func (r *Registry) BuildSlots(streams []model.Stream, opts Options) (map[string]Adapter, error) {
	adapters := make(map[string]Adapter)
	for _, stream := range streams {
		for _, binding := range []struct {
			slot string
			spec *model.AdapterSpec
		}{{model.SlotPrimary, stream.Adapters.Primary}, {model.SlotBackup, stream.Adapters.Backup}} {
			if binding.spec == nil {
				continue
			}
			built, err := r.Build(*binding.spec, opts)
			if err != nil {
				closeAll(adapters)
				return nil, fmt.Errorf("stream %s %s adapter: %w", stream.ID, binding.slot, err)
			}
			adapters[SlotKey(stream.ID, binding.slot)] = built
		}
	}
	return adapters, nil
}

func closeAll(adapters map[string]Adapter) {
	for _, a := range adapters {
		_ = a.Close()
	}
}
