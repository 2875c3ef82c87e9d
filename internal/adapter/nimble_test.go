package adapter

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"streamgate/internal/model"
	"streamgate/internal/testsupport/mediastub"
)

func testProfile() model.PlaybackProfile {
	return model.PlaybackProfile{
		Name:           "hd",
		GOPSeconds:     2,
		PartSeconds:    0.5,
		SegmentSeconds: 4,
		Renditions: []model.Rendition{
			{Name: "720p", Width: 1280, Height: 720, BitrateKbps: 3500, FPS: 30},
			{Name: "360p", Width: 640, Height: 360, BitrateKbps: 900, FPS: 30},
		},
	}
}

func TestNimbleEnsureOperations(t *testing.T) {
	backend := mediastub.Start(mediastub.Options{APIKey: "node-key"})
	defer backend.Close()

	n := NewNimble(backend.BaseURL(), "node-key", Options{})
	ctx := context.Background()

	ingest := model.IngestSpec{SRT: model.IngestSRT{Mode: "listener", Port: 9000, PassphraseEnv: "SRT_PASS_EVENT1"}}
	if err := n.EnsureInput(ctx, "event-1", ingest); err != nil {
		t.Fatalf("EnsureInput: %v", err)
	}
	if err := n.EnsureTranscodeProfile(ctx, "event-1", testProfile()); err != nil {
		t.Fatalf("EnsureTranscodeProfile: %v", err)
	}
	if err := n.EnsurePackagingLLHLS(ctx, "event-1", "/live/event-1/index.m3u8", testProfile()); err != nil {
		t.Fatalf("EnsurePackagingLLHLS: %v", err)
	}
	rules := model.TokenRules{MaxSessions: 3, TTLSeconds: 300, PathPrefix: "/live/event-1"}
	if err := n.EnsureTokenPolicy(ctx, "acme", rules); err != nil {
		t.Fatalf("EnsureTokenPolicy: %v", err)
	}

	inputs := backend.OperationsOfKind("ensure-input")
	if len(inputs) != 1 {
		t.Fatalf("recorded %d input operations, want 1", len(inputs))
	}
	if got := inputs[0].Payload["type"]; got != "srt_listener" {
		t.Fatalf("input type = %v, want srt_listener", got)
	}
	if got := inputs[0].Payload["passphrase"]; got != "env:SRT_PASS_EVENT1" {
		t.Fatalf("input passphrase = %v, want env reference", got)
	}
	if got := inputs[0].Payload["port"]; got != float64(9000) {
		t.Fatalf("input port = %v, want 9000", got)
	}

	transcodes := backend.OperationsOfKind("ensure-transcode")
	if len(transcodes) != 1 || transcodes[0].StreamID != "event-1" {
		t.Fatalf("unexpected transcode operations: %+v", transcodes)
	}
	renditions, _ := transcodes[0].Payload["renditions"].([]interface{})
	if len(renditions) != 2 {
		t.Fatalf("transcode carried %d renditions, want 2", len(renditions))
	}

	packaging := backend.OperationsOfKind("ensure-packaging")
	if len(packaging) != 1 {
		t.Fatalf("recorded %d packaging operations, want 1", len(packaging))
	}
	if got := packaging[0].Payload["low_latency"]; got != true {
		t.Fatalf("packaging low_latency = %v, want true", got)
	}
	if got := packaging[0].Payload["output_path"]; got != "/live/event-1/index.m3u8" {
		t.Fatalf("packaging output_path = %v", got)
	}

	policies := backend.OperationsOfKind("ensure-token-policy")
	if len(policies) != 1 || policies[0].ClientID != "acme" {
		t.Fatalf("unexpected token policy operations: %+v", policies)
	}
	if got := policies[0].Payload["path_prefix"]; got != "/live/event-1" {
		t.Fatalf("token policy path_prefix = %v", got)
	}
}

func TestNimbleRejectedAPIKey(t *testing.T) {
	backend := mediastub.Start(mediastub.Options{APIKey: "node-key"})
	defer backend.Close()

	n := NewNimble(backend.BaseURL(), "wrong-key", Options{})
	err := n.EnsureInput(context.Background(), "event-1", model.IngestSpec{})
	var adapterErr *Error
	if !errors.As(err, &adapterErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if adapterErr.Status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", adapterErr.Status)
	}
	if adapterErr.Backend != "nimble" || adapterErr.Op != "ensure_input" {
		t.Fatalf("unexpected error identity: %+v", adapterErr)
	}
}

func TestNimbleInputFailure(t *testing.T) {
	backend := mediastub.Start(mediastub.Options{FailInputs: 1})
	defer backend.Close()

	n := NewNimble(backend.BaseURL(), "", Options{})
	ctx := context.Background()

	err := n.EnsureInput(ctx, "event-1", model.IngestSpec{})
	var adapterErr *Error
	if !errors.As(err, &adapterErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if adapterErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", adapterErr.Status)
	}

	// The ensure is an upsert: the retry converges.
	if err := n.EnsureInput(ctx, "event-1", model.IngestSpec{}); err != nil {
		t.Fatalf("second EnsureInput: %v", err)
	}
}

func TestNimbleFetchStats(t *testing.T) {
	backend := mediastub.Start(mediastub.Options{Stats: map[string]interface{}{
		"ingest_status": "healthy",
		"part_age":      0.4,
		"cpu":           37.5,
	}})
	defer backend.Close()

	n := NewNimble(backend.BaseURL(), "", Options{})
	stats, err := n.FetchStats(context.Background(), "event-1")
	if err != nil {
		t.Fatalf("FetchStats: %v", err)
	}
	if stats.StreamID != "event-1" || stats.IngestStatus != "healthy" {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.LastPartAgeSeconds == nil || *stats.LastPartAgeSeconds != 0.4 {
		t.Fatalf("part age = %v, want 0.4", stats.LastPartAgeSeconds)
	}
	if stats.CPUPercent == nil || *stats.CPUPercent != 37.5 {
		t.Fatalf("cpu = %v, want 37.5", stats.CPUPercent)
	}
}

func TestNimbleFetchStatsDegrades(t *testing.T) {
	backend := mediastub.Start(mediastub.Options{})
	n := NewNimble(backend.BaseURL(), "", Options{})
	backend.Close()

	stats, err := n.FetchStats(context.Background(), "event-1")
	if err != nil {
		t.Fatalf("FetchStats must not surface the transport error, got %v", err)
	}
	if stats.IngestStatus != "unknown" {
		t.Fatalf("ingest status = %q, want unknown", stats.IngestStatus)
	}
	if stats.Error == "" {
		t.Fatal("degraded snapshot must carry the error detail")
	}
}

func TestNimbleDeleteMissingStream(t *testing.T) {
	backend := mediastub.Start(mediastub.Options{MissingStreams: []string{"gone"}})
	defer backend.Close()

	n := NewNimble(backend.BaseURL(), "", Options{})
	if err := n.DeleteStream(context.Background(), "gone"); err != nil {
		t.Fatalf("deleting an absent stream must succeed, got %v", err)
	}
	if err := n.DeleteStream(context.Background(), "event-1"); err != nil {
		t.Fatalf("DeleteStream: %v", err)
	}
	if ops := backend.OperationsOfKind("delete-stream"); len(ops) != 2 {
		t.Fatalf("recorded %d delete operations, want 2", len(ops))
	}
}
