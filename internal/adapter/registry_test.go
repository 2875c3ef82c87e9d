package adapter

import (
	"testing"

	"streamgate/internal/model"
)

func TestRegistryBuildUnknownKind(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Build(model.AdapterSpec{Kind: "vlc"}, Options{}); err == nil {
		t.Fatal("expected error for unsupported kind")
	}
}

func TestRegistryBuildSlots(t *testing.T) {
	r := NewRegistry()
	streams := []model.Stream{
		{
			ID: "event-1",
			Adapters: model.StreamAdapters{
				Primary: &model.AdapterSpec{Kind: model.KindNimble, BaseURL: "http://primary.local"},
				Backup:  &model.AdapterSpec{Kind: model.KindWowza, BaseURL: "http://backup.local"},
			},
		},
		{
			ID: "event-2",
			Adapters: model.StreamAdapters{
				Primary: &model.AdapterSpec{Kind: model.KindAntMedia, BaseURL: "http://solo.local"},
			},
		},
	}

	adapters, err := r.BuildSlots(streams, Options{})
	if err != nil {
		t.Fatalf("BuildSlots: %v", err)
	}
	defer closeAll(adapters)

	for _, key := range []string{
		SlotKey("event-1", model.SlotPrimary),
		SlotKey("event-1", model.SlotBackup),
		SlotKey("event-2", model.SlotPrimary),
	} {
		if adapters[key] == nil {
			t.Fatalf("missing adapter for %s", key)
		}
	}
	if len(adapters) != 3 {
		t.Fatalf("built %d adapters, want 3", len(adapters))
	}
}

func TestRegistryBuildSlotsPropagatesError(t *testing.T) {
	r := NewRegistry()
	streams := []model.Stream{{
		ID: "event-1",
		Adapters: model.StreamAdapters{
			Primary: &model.AdapterSpec{Kind: "vlc", BaseURL: "http://primary.local"},
		},
	}}
	if _, err := r.BuildSlots(streams, Options{}); err == nil {
		t.Fatal("expected build error to propagate")
	}
}
