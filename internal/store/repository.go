// Package store holds the controller's entity repositories. The in-memory
// repository is seeded from declarative configuration; the Postgres driver
// persists the same entities for deployments where the API manages them.
//
// Readers receive copies: the reconciler and policy engine borrow entities
// for the duration of one operation and must never observe concurrent
// mutation through shared slices.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"streamgate/internal/model"
)

var (
	// ErrClientNotFound indicates an unknown client ID.
	ErrClientNotFound = errors.New("client not found")
	// ErrProfileNotFound indicates an unknown playback profile name.
	ErrProfileNotFound = errors.New("playback profile not found")
	// ErrStreamNotFound indicates an unknown stream ID.
	ErrStreamNotFound = errors.New("stream not found")
)

// Repository exposes the entity operations required by the API layer, the
// policy engine, and the reconciler.
type Repository interface {
	Ping(ctx context.Context) error

	UpsertClient(client model.Client) error
	GetClient(id string) (model.Client, bool)
	ListClients() []model.Client

	UpsertProfile(profile model.PlaybackProfile) error
	GetProfile(name string) (model.PlaybackProfile, bool)
	ListProfiles() []model.PlaybackProfile

	UpsertStream(stream model.Stream) error
	GetStream(id string) (model.Stream, bool)
	ListStreams() []model.Stream
	DeleteStream(id string) error

	Close(ctx context.Context) error
}

// Memory is the in-memory Repository. Safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	clients  map[string]model.Client
	profiles map[string]model.PlaybackProfile
	streams  map[string]model.Stream
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		clients:  make(map[string]model.Client),
		profiles: make(map[string]model.PlaybackProfile),
		streams:  make(map[string]model.Stream),
	}
}

// Ping implements Repository; the in-memory store is always reachable.
func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

// UpsertClient validates, normalizes, and stores the client.
func (m *Memory) UpsertClient(client model.Client) error {
	client.Normalize()
	if err := client.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.clients[client.ID] = cloneClient(client)
	m.mu.Unlock()
	return nil
}

// GetClient returns a copy of the client with the given ID.
func (m *Memory) GetClient(id string) (model.Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, ok := m.clients[id]
	if !ok {
		return model.Client{}, false
	}
	return cloneClient(client), true
}

// ListClients returns copies of all clients sorted by ID.
func (m *Memory) ListClients() []model.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Client, 0, len(m.clients))
	for _, client := range m.clients {
		out = append(out, cloneClient(client))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpsertProfile validates and stores the playback profile.
func (m *Memory) UpsertProfile(profile model.PlaybackProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.profiles[profile.Name] = cloneProfile(profile)
	m.mu.Unlock()
	return nil
}

// GetProfile returns a copy of the named profile.
func (m *Memory) GetProfile(name string) (model.PlaybackProfile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	profile, ok := m.profiles[name]
	if !ok {
		return model.PlaybackProfile{}, false
	}
	return cloneProfile(profile), true
}

// ListProfiles returns copies of all profiles sorted by name.
func (m *Memory) ListProfiles() []model.PlaybackProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.PlaybackProfile, 0, len(m.profiles))
	for _, profile := range m.profiles {
		out = append(out, cloneProfile(profile))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UpsertStream validates and stores the stream.
func (m *Memory) UpsertStream(stream model.Stream) error {
	if err := stream.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.streams[stream.ID] = cloneStream(stream)
	m.mu.Unlock()
	return nil
}

// GetStream returns a copy of the stream with the given ID.
func (m *Memory) GetStream(id string) (model.Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stream, ok := m.streams[id]
	if !ok {
		return model.Stream{}, false
	}
	return cloneStream(stream), true
}

// ListStreams returns copies of all streams sorted by ID.
func (m *Memory) ListStreams() []model.Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Stream, 0, len(m.streams))
	for _, stream := range m.streams {
		out = append(out, cloneStream(stream))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeleteStream removes the stream; deleting an unknown ID returns
// ErrStreamNotFound.
func (m *Memory) DeleteStream(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[id]; !ok {
		return ErrStreamNotFound
	}
	delete(m.streams, id)
	return nil
}

// Close implements Repository; nothing to release.
func (m *Memory) Close(ctx context.Context) error {
	return nil
}

func cloneClient(c model.Client) model.Client {
	c.IPAllowlist = append([]string(nil), c.IPAllowlist...)
	c.Geo.AllowCountries = append([]string(nil), c.Geo.AllowCountries...)
	c.Geo.DenyCountries = append([]string(nil), c.Geo.DenyCountries...)
	return c
}

func cloneProfile(p model.PlaybackProfile) model.PlaybackProfile {
	p.Renditions = append([]model.Rendition(nil), p.Renditions...)
	return p
}

func cloneStream(s model.Stream) model.Stream {
	s.AssignedClients = append([]string(nil), s.AssignedClients...)
	if s.Adapters.Primary != nil {
		primary := *s.Adapters.Primary
		s.Adapters.Primary = &primary
	}
	if s.Adapters.Backup != nil {
		backup := *s.Adapters.Backup
		s.Adapters.Backup = &backup
	}
	return s
}
