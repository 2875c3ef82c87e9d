// Package config loads the controller's declarative entity configuration
// from a directory of YAML files: clients.yaml, playback_profiles.yaml, and
// streams.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"streamgate/internal/model"
	"streamgate/internal/store"
)

// Bundle holds the parsed configuration before it is seeded into a
// repository.
type Bundle struct {
	Clients  []model.Client
	Profiles []model.PlaybackProfile
	Streams  []model.Stream
}

type clientsFile struct {
	Clients []model.Client `yaml:"clients"`
}

type profilesFile struct {
	Profiles []model.PlaybackProfile `yaml:"profiles"`
}

type streamsFile struct {
	Streams []model.Stream `yaml:"streams"`
}

// LoadDirectory parses the three entity files from dir. Missing files are an
// error: a controller with no declared entities should point at an explicit
// empty configuration rather than silently starting blank.
func LoadDirectory(dir string) (*Bundle, error) {
	var clients clientsFile
	if err := loadYAML(filepath.Join(dir, "clients.yaml"), &clients); err != nil {
		return nil, err
	}
	var profiles profilesFile
	if err := loadYAML(filepath.Join(dir, "playback_profiles.yaml"), &profiles); err != nil {
		return nil, err
	}
	var streams streamsFile
	if err := loadYAML(filepath.Join(dir, "streams.yaml"), &streams); err != nil {
		return nil, err
	}

	bundle := &Bundle{
		Clients:  clients.Clients,
		Profiles: profiles.Profiles,
		Streams:  streams.Streams,
	}
	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	return bundle, nil
}

// Validate normalizes every entity and rejects structural problems plus
// duplicate identifiers. Dangling references (a stream assigning an unknown
// client, a client naming an unknown profile) are legal here — the reconciler
// treats them as skippable staleness, not configuration errors.
func (b *Bundle) Validate() error {
	clientIDs := make(map[string]struct{}, len(b.Clients))
	for i := range b.Clients {
		b.Clients[i].Normalize()
		if err := b.Clients[i].Validate(); err != nil {
			return fmt.Errorf("clients.yaml: %w", err)
		}
		if _, dup := clientIDs[b.Clients[i].ID]; dup {
			return fmt.Errorf("clients.yaml: duplicate client id %q", b.Clients[i].ID)
		}
		clientIDs[b.Clients[i].ID] = struct{}{}
	}

	profileNames := make(map[string]struct{}, len(b.Profiles))
	for _, profile := range b.Profiles {
		if err := profile.Validate(); err != nil {
			return fmt.Errorf("playback_profiles.yaml: %w", err)
		}
		if _, dup := profileNames[profile.Name]; dup {
			return fmt.Errorf("playback_profiles.yaml: duplicate profile %q", profile.Name)
		}
		profileNames[profile.Name] = struct{}{}
	}

	streamIDs := make(map[string]struct{}, len(b.Streams))
	for _, stream := range b.Streams {
		if err := stream.Validate(); err != nil {
			return fmt.Errorf("streams.yaml: %w", err)
		}
		if _, dup := streamIDs[stream.ID]; dup {
			return fmt.Errorf("streams.yaml: duplicate stream id %q", stream.ID)
		}
		streamIDs[stream.ID] = struct{}{}
	}
	return nil
}

// Seed writes every entity from the bundle into the repository.
func (b *Bundle) Seed(repo store.Repository) error {
	for _, client := range b.Clients {
		if err := repo.UpsertClient(client); err != nil {
			return fmt.Errorf("seed client %s: %w", client.ID, err)
		}
	}
	for _, profile := range b.Profiles {
		if err := repo.UpsertProfile(profile); err != nil {
			return fmt.Errorf("seed profile %s: %w", profile.Name, err)
		}
	}
	for _, stream := range b.Streams {
		if err := repo.UpsertStream(stream); err != nil {
			return fmt.Errorf("seed stream %s: %w", stream.ID, err)
		}
	}
	return nil
}

func loadYAML(path string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := yaml.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
