package policy

import (
	"errors"
	"testing"
	"time"

	"streamgate/internal/model"
)

type stubView struct {
	clients map[string]model.Client
	streams map[string]model.Stream
}

func (v *stubView) GetClient(id string) (model.Client, bool) {
	client, ok := v.clients[id]
	return client, ok
}

func (v *stubView) GetStream(id string) (model.Stream, bool) {
	stream, ok := v.streams[id]
	return stream, ok
}

func fixtureView() *stubView {
	return &stubView{
		clients: map[string]model.Client{
			"acme": {
				ID:              "acme",
				PlaybackProfile: "hd",
				TokenTTLSeconds: 300,
				MaxSessions:     2,
				IPAllowlist:     []string{"203.0.113.0/24"},
				Geo:             model.GeoPolicy{AllowCountries: []string{"DE", "FR"}, DenyCountries: []string{"KP"}},
			},
			"open": {ID: "open", PlaybackProfile: "hd", TokenTTLSeconds: 60, MaxSessions: 1},
		},
		streams: map[string]model.Stream{
			"event-1": {ID: "event-1", AssignedClients: []string{"acme"}},
		},
	}
}

func TestAuthorize(t *testing.T) {
	engine := NewEngine(fixtureView())

	cases := []struct {
		name    string
		req     model.SignRequest
		ip      string
		country string
		reason  string
	}{
		{name: "unknown client", req: model.SignRequest{ClientID: "ghost", StreamID: "event-1"}, reason: ReasonUnknownClient},
		{name: "unknown stream", req: model.SignRequest{ClientID: "acme", StreamID: "ghost"}, reason: ReasonUnknownStream},
		{name: "client not assigned", req: model.SignRequest{ClientID: "open", StreamID: "event-1"}, reason: ReasonClientNotAssigned},
		{name: "ip outside allowlist", req: model.SignRequest{ClientID: "acme", StreamID: "event-1"}, ip: "198.51.100.4", country: "DE", reason: ReasonIPNotAllowed},
		{name: "denied country", req: model.SignRequest{ClientID: "acme", StreamID: "event-1"}, ip: "203.0.113.5", country: "KP", reason: ReasonGeoNotAllowed},
		{name: "country outside allow set", req: model.SignRequest{ClientID: "acme", StreamID: "event-1"}, ip: "203.0.113.5", country: "US", reason: ReasonGeoNotAllowed},
		{name: "granted", req: model.SignRequest{ClientID: "acme", StreamID: "event-1"}, ip: "203.0.113.5", country: "DE"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, err := engine.Authorize(tc.req, tc.ip, tc.country)
			if tc.reason == "" {
				if err != nil {
					t.Fatalf("expected grant, got %v", err)
				}
				if client.ID != tc.req.ClientID {
					t.Fatalf("resolved client %q, want %q", client.ID, tc.req.ClientID)
				}
				return
			}
			reason, ok := DenialReason(err)
			if !ok {
				t.Fatalf("expected DenialError, got %v", err)
			}
			if reason != tc.reason {
				t.Fatalf("reason = %q, want %q", reason, tc.reason)
			}
		})
	}
}

// The client check runs before the stream check, so a request that is wrong on
// both counts reports the client.
func TestAuthorizeCheckOrder(t *testing.T) {
	engine := NewEngine(fixtureView())
	_, err := engine.Authorize(model.SignRequest{ClientID: "ghost", StreamID: "also-ghost"}, "", "")
	if reason, _ := DenialReason(err); reason != ReasonUnknownClient {
		t.Fatalf("reason = %q, want %q", reason, ReasonUnknownClient)
	}
}

// An empty IP skips the allowlist check entirely.
func TestAuthorizeEmptyIPSkipsAllowlist(t *testing.T) {
	engine := NewEngine(fixtureView())
	if _, err := engine.Authorize(model.SignRequest{ClientID: "acme", StreamID: "event-1"}, "", "DE"); err != nil {
		t.Fatalf("expected grant without IP, got %v", err)
	}
}

func TestDenialReasonNonDenial(t *testing.T) {
	if _, ok := DenialReason(errors.New("boom")); ok {
		t.Fatal("plain error must not classify as denial")
	}
}

func TestBuildExpiry(t *testing.T) {
	client := model.Client{TokenTTLSeconds: 120}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if got := BuildExpiry(client, now); got != now.Unix()+120 {
		t.Fatalf("BuildExpiry = %d, want %d", got, now.Unix()+120)
	}
}
