package model

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Client represents a playback customer with its access policy. Field names on
// the wire use the controller's snake_case schema so YAML configuration and
// API payloads stay interchangeable.
type Client struct {
	ID              string    `json:"id" yaml:"id"`
	DisplayName     string    `json:"display_name" yaml:"display_name"`
	PlaybackProfile string    `json:"playback_profile" yaml:"playback_profile"`
	TokenTTLSeconds int       `json:"token_ttl_seconds" yaml:"token_ttl_seconds"`
	IPAllowlist     []string  `json:"ip_allowlist,omitempty" yaml:"ip_allowlist"`
	Geo             GeoPolicy `json:"geo" yaml:"geo"`
	MaxSessions     int       `json:"max_sessions" yaml:"max_sessions"`
	Watermark       Watermark `json:"watermark" yaml:"watermark"`
}

// GeoPolicy holds country allow and deny sets. Country codes are normalized to
// uppercase; deny always wins over allow.
type GeoPolicy struct {
	AllowCountries []string `json:"allow_countries,omitempty" yaml:"allow_countries"`
	DenyCountries  []string `json:"deny_countries,omitempty" yaml:"deny_countries"`
}

// Normalize uppercases both country sets in place.
func (g *GeoPolicy) Normalize() {
	for i, c := range g.AllowCountries {
		g.AllowCountries[i] = strings.ToUpper(strings.TrimSpace(c))
	}
	for i, c := range g.DenyCountries {
		g.DenyCountries[i] = strings.ToUpper(strings.TrimSpace(c))
	}
}

// Watermark configures an optional overlay burned into the client's renditions.
type Watermark struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Template string `json:"template,omitempty" yaml:"template"`
}

// Normalize canonicalizes derived fields after decode. Call once when a client
// enters the system (config load or API create).
func (c *Client) Normalize() {
	c.Geo.Normalize()
	if c.MaxSessions <= 0 {
		c.MaxSessions = 1
	}
}

// Validate reports structural problems that would make the client unusable.
func (c Client) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("client id is required")
	}
	if strings.TrimSpace(c.PlaybackProfile) == "" {
		return fmt.Errorf("client %s: playback profile is required", c.ID)
	}
	if c.TokenTTLSeconds <= 0 {
		return fmt.Errorf("client %s: token TTL must be positive", c.ID)
	}
	for _, entry := range c.IPAllowlist {
		if _, err := parseAllowlistEntry(entry); err != nil {
			return fmt.Errorf("client %s: invalid allowlist entry %q: %w", c.ID, entry, err)
		}
	}
	return nil
}

// parseAllowlistEntry accepts either CIDR notation or a bare address, which is
// treated as a single-host prefix.
func parseAllowlistEntry(entry string) (netip.Prefix, error) {
	if prefix, err := netip.ParsePrefix(entry); err == nil {
		return prefix, nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// IsIPAllowed reports whether ip falls inside the client's allowlist. An empty
// allowlist admits every address. Unparsable inputs are rejected.
func (c Client) IsIPAllowed(ip string) bool {
	if len(c.IPAllowlist) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, entry := range c.IPAllowlist {
		prefix, err := parseAllowlistEntry(entry)
		if err != nil {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// IsGeoAllowed evaluates the geo policy for the given ISO country code. Deny
// takes precedence over allow. An empty country passes only when no allow set
// is configured.
func (c Client) IsGeoAllowed(country string) bool {
	if country == "" {
		return len(c.Geo.AllowCountries) == 0
	}
	country = strings.ToUpper(country)
	for _, denied := range c.Geo.DenyCountries {
		if country == denied {
			return false
		}
	}
	if len(c.Geo.AllowCountries) == 0 {
		return true
	}
	for _, allowed := range c.Geo.AllowCountries {
		if country == allowed {
			return true
		}
	}
	return false
}

// TokenExpiry returns the moment a token minted at now should expire. A zero
// now means the current UTC time.
func (c Client) TokenExpiry(now time.Time) time.Time {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return now.Add(time.Duration(c.TokenTTLSeconds) * time.Second)
}

// Rendition describes one output of the encoding ladder.
type Rendition struct {
	Name        string `json:"name" yaml:"name"`
	Width       int    `json:"w" yaml:"w"`
	Height      int    `json:"h" yaml:"h"`
	BitrateKbps int    `json:"kbps" yaml:"kbps"`
	FPS         int    `json:"fps" yaml:"fps"`
}

// PlaybackProfile declares the transcode and packaging parameters shared by
// every client that references it. Profiles are treated as immutable while a
// reconciliation pass that references them is in flight.
type PlaybackProfile struct {
	Name           string      `json:"name" yaml:"name"`
	GOPSeconds     float64     `json:"gop_seconds" yaml:"gop_seconds"`
	PartSeconds    float64     `json:"parts_seconds" yaml:"parts_seconds"`
	SegmentSeconds float64     `json:"segment_seconds" yaml:"segment_seconds"`
	Renditions     []Rendition `json:"renditions" yaml:"renditions"`
}

// Validate reports structural problems with the profile.
func (p PlaybackProfile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile name is required")
	}
	if len(p.Renditions) == 0 {
		return fmt.Errorf("profile %s: at least one rendition is required", p.Name)
	}
	return nil
}

// AdapterKind identifies a media-server backend product.
type AdapterKind string

const (
	KindNimble   AdapterKind = "nimble"
	KindWowza    AdapterKind = "wowza"
	KindAntMedia AdapterKind = "antmedia"
)

// Valid reports whether the kind names a known backend product.
func (k AdapterKind) Valid() bool {
	switch k {
	case KindNimble, KindWowza, KindAntMedia:
		return true
	}
	return false
}

// AdapterSpec binds one adapter slot of a stream to a concrete backend.
type AdapterSpec struct {
	Kind    AdapterKind `json:"kind" yaml:"kind"`
	BaseURL string      `json:"base_url" yaml:"base_url"`
	APIKey  string      `json:"api_key" yaml:"api_key"`
}

// StreamAdapters names the two redundant adapter slots.
type StreamAdapters struct {
	Primary *AdapterSpec `json:"primary,omitempty" yaml:"primary"`
	Backup  *AdapterSpec `json:"backup,omitempty" yaml:"backup"`
}

// SlotPrimary and SlotBackup are the stable slot labels used in adapter keys,
// logs, and metrics.
const (
	SlotPrimary = "primary"
	SlotBackup  = "backup"
)

// IngestSRT describes the SRT listener the backend must expose for the stream.
type IngestSRT struct {
	Mode          string `json:"mode" yaml:"mode"`
	Port          int    `json:"port" yaml:"port"`
	PassphraseEnv string `json:"passphrase_env" yaml:"passphrase_env"`
}

// IngestSpec wraps the transport-specific ingest configuration.
type IngestSpec struct {
	SRT IngestSRT `json:"srt" yaml:"srt"`
}

// PackagingSpec carries the LL-HLS output location for a stream. An empty path
// falls back to the default /live/{stream_id}/index.m3u8 at signing time.
type PackagingSpec struct {
	LLHLSPath string `json:"ll_hls_path" yaml:"ll_hls_path"`
}

// Stream is the declared desired state for one live event: where it ingests,
// how it packages, which backends serve it, and which clients may watch.
// AssignedClients order is significant — profile de-duplication during
// reconciliation keeps the first-seen profile per name.
type Stream struct {
	ID              string         `json:"id" yaml:"id"`
	Description     string         `json:"description,omitempty" yaml:"description"`
	Adapters        StreamAdapters `json:"adapters" yaml:"adapters"`
	Ingest          IngestSpec     `json:"ingest" yaml:"ingest"`
	Packaging       PackagingSpec  `json:"packaging" yaml:"packaging"`
	AssignedClients []string       `json:"assigned_clients" yaml:"assigned_clients"`
}

// Validate reports structural problems with the stream.
func (s Stream) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("stream id is required")
	}
	for _, slot := range []struct {
		label string
		spec  *AdapterSpec
	}{{SlotPrimary, s.Adapters.Primary}, {SlotBackup, s.Adapters.Backup}} {
		if slot.spec == nil {
			continue
		}
		if !slot.spec.Kind.Valid() {
			return fmt.Errorf("stream %s: %s adapter kind %q is unknown", s.ID, slot.label, slot.spec.Kind)
		}
		if strings.TrimSpace(slot.spec.BaseURL) == "" {
			return fmt.Errorf("stream %s: %s adapter base URL is required", s.ID, slot.label)
		}
	}
	return nil
}

// HasClient reports whether clientID appears in the stream's assignment list.
func (s Stream) HasClient(clientID string) bool {
	for _, id := range s.AssignedClients {
		if id == clientID {
			return true
		}
	}
	return false
}

// TokenRules is the per-(stream, client) policy pushed to backends during
// reconciliation. It is derived, never stored.
type TokenRules struct {
	MaxSessions int    `json:"max_sessions"`
	TTLSeconds  int    `json:"ttl_seconds"`
	PathPrefix  string `json:"path_prefix"`
}

// TokenRulesFor computes the token policy for one client on one stream.
func TokenRulesFor(stream Stream, client Client) TokenRules {
	return TokenRules{
		MaxSessions: client.MaxSessions,
		TTLSeconds:  client.TokenTTLSeconds,
		PathPrefix:  "/live/" + stream.ID,
	}
}

// SignRequest is a playback authorization request as received by the API.
type SignRequest struct {
	ClientID  string `json:"client_id"`
	StreamID  string `json:"stream_id"`
	UseBackup bool   `json:"use_backup,omitempty"`
	IP        string `json:"ip,omitempty"`
	Country   string `json:"country,omitempty"`
}

// StreamStats is a read-only health snapshot reported by an adapter.
type StreamStats struct {
	StreamID              string                        `json:"stream_id"`
	IngestStatus          string                        `json:"ingest_status"`
	LastPartAgeSeconds    *float64                      `json:"last_part_age_seconds,omitempty"`
	LastSegmentAgeSeconds *float64                      `json:"last_segment_age_seconds,omitempty"`
	CPUPercent            *float64                      `json:"cpu_percent,omitempty"`
	HTTPErrorRate         *float64                      `json:"http_error_rate,omitempty"`
	Renditions            map[string]map[string]float64 `json:"renditions,omitempty"`
	Error                 string                        `json:"error,omitempty"`
}
