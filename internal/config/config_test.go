package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"streamgate/internal/store"
)

const clientsYAML = `clients:
  - id: acme
    playback_profile: hd
    token_ttl_seconds: 300
    max_sessions: 3
    ip_allowlist:
      - 203.0.113.0/24
    geo:
      allow_countries: [de, fr]
  - id: beta
    playback_profile: sd
    token_ttl_seconds: 60
`

const profilesYAML = `profiles:
  - name: hd
    gop_seconds: 2
    parts_seconds: 0.5
    segment_seconds: 4
    renditions:
      - name: 720p
        w: 1280
        h: 720
        kbps: 3500
        fps: 30
  - name: sd
    gop_seconds: 2
    parts_seconds: 0.5
    segment_seconds: 4
    renditions:
      - name: 360p
        w: 640
        h: 360
        kbps: 900
        fps: 30
`

const streamsYAML = `streams:
  - id: event-1
    adapters:
      primary:
        kind: nimble
        base_url: http://primary.local
        api_key: node-key
    ingest:
      srt:
        mode: listener
        port: 9000
        passphrase_env: SRT_PASS_EVENT1
    packaging:
      ll_hls_path: /live/event-1/index.m3u8
    assigned_clients: [acme, beta]
`

func writeConfigDir(t *testing.T, clients, profiles, streams string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"clients.yaml":           clients,
		"playback_profiles.yaml": profiles,
		"streams.yaml":           streams,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadDirectory(t *testing.T) {
	dir := writeConfigDir(t, clientsYAML, profilesYAML, streamsYAML)
	bundle, err := LoadDirectory(dir)
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	if len(bundle.Clients) != 2 || len(bundle.Profiles) != 2 || len(bundle.Streams) != 1 {
		t.Fatalf("unexpected bundle sizes: %d clients, %d profiles, %d streams",
			len(bundle.Clients), len(bundle.Profiles), len(bundle.Streams))
	}

	acme := bundle.Clients[0]
	if acme.Geo.AllowCountries[0] != "DE" {
		t.Fatalf("country codes must normalize to uppercase, got %q", acme.Geo.AllowCountries[0])
	}
	if bundle.Clients[1].MaxSessions != 1 {
		t.Fatalf("omitted max_sessions must default to 1, got %d", bundle.Clients[1].MaxSessions)
	}
	if bundle.Streams[0].Adapters.Primary.APIKey != "node-key" {
		t.Fatal("adapter api key did not survive the decode")
	}
}

func TestLoadDirectoryMissingFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "clients.yaml"), []byte(clientsYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadDirectory(dir); err == nil {
		t.Fatal("expected error for missing entity file")
	}
}

func TestLoadDirectoryDuplicateClient(t *testing.T) {
	dup := clientsYAML + `  - id: acme
    playback_profile: hd
    token_ttl_seconds: 300
`
	dir := writeConfigDir(t, dup, profilesYAML, streamsYAML)
	_, err := LoadDirectory(dir)
	if err == nil || !strings.Contains(err.Error(), "duplicate client") {
		t.Fatalf("expected duplicate client error, got %v", err)
	}
}

// A stream assigning an unknown client is legal configuration; the reconciler
// skips the stale reference at run time.
func TestLoadDirectoryDanglingReferenceAllowed(t *testing.T) {
	streams := strings.Replace(streamsYAML, "[acme, beta]", "[acme, ghost]", 1)
	dir := writeConfigDir(t, clientsYAML, profilesYAML, streams)
	if _, err := LoadDirectory(dir); err != nil {
		t.Fatalf("dangling assignment must load, got %v", err)
	}
}

func TestSeed(t *testing.T) {
	dir := writeConfigDir(t, clientsYAML, profilesYAML, streamsYAML)
	bundle, err := LoadDirectory(dir)
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}

	repo := store.NewMemory()
	if err := bundle.Seed(repo); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	if _, ok := repo.GetClient("acme"); !ok {
		t.Fatal("seeded client not resolvable")
	}
	if _, ok := repo.GetProfile("sd"); !ok {
		t.Fatal("seeded profile not resolvable")
	}
	stream, ok := repo.GetStream("event-1")
	if !ok {
		t.Fatal("seeded stream not resolvable")
	}
	if stream.Ingest.SRT.PassphraseEnv != "SRT_PASS_EVENT1" {
		t.Fatalf("ingest spec lost in seeding: %+v", stream.Ingest)
	}
}
