// Package policy evaluates per-client playback authorization. Every denial is
// a classified DenialError with one of five stable reason tokens; callers map
// the reason to a transport response and must never see an unclassified
// failure for an expected policy outcome.
package policy

import (
	"errors"
	"time"

	"streamgate/internal/model"
)

// Denial reasons returned to callers. These tokens are part of the API
// contract and must not change.
const (
	ReasonUnknownClient     = "unknown_client"
	ReasonUnknownStream     = "unknown_stream"
	ReasonClientNotAssigned = "client_not_assigned"
	ReasonIPNotAllowed      = "ip_not_allowed"
	ReasonGeoNotAllowed     = "geo_not_allowed"
)

// DenialError reports a policy check failure with its classified reason.
type DenialError struct {
	Reason string
}

func (e *DenialError) Error() string {
	return "authorization denied: " + e.Reason
}

// Deny constructs a DenialError for the given reason token.
func Deny(reason string) *DenialError {
	return &DenialError{Reason: reason}
}

// DenialReason extracts the reason token when err is a DenialError.
func DenialReason(err error) (string, bool) {
	var denial *DenialError
	if errors.As(err, &denial) {
		return denial.Reason, true
	}
	return "", false
}

// View is the read-only lookup surface the engine needs. The entity store
// satisfies it.
type View interface {
	GetClient(id string) (model.Client, bool)
	GetStream(id string) (model.Stream, bool)
}

// Engine evaluates playback policy against a snapshot view of clients and
// streams. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	view View
}

// NewEngine constructs an Engine over the given lookup view.
func NewEngine(view View) *Engine {
	return &Engine{view: view}
}

// Authorize runs the policy checks for a playback request in order, stopping
// at the first failure: client exists, stream exists, client assigned to
// stream, IP inside the allowlist (when both are present), geo policy. On
// success it returns the resolved client.
func (e *Engine) Authorize(req model.SignRequest, ip, country string) (model.Client, error) {
	client, ok := e.view.GetClient(req.ClientID)
	if !ok {
		return model.Client{}, Deny(ReasonUnknownClient)
	}

	stream, ok := e.view.GetStream(req.StreamID)
	if !ok {
		return model.Client{}, Deny(ReasonUnknownStream)
	}

	if !stream.HasClient(req.ClientID) {
		return model.Client{}, Deny(ReasonClientNotAssigned)
	}

	if ip != "" && !client.IsIPAllowed(ip) {
		return model.Client{}, Deny(ReasonIPNotAllowed)
	}

	if !client.IsGeoAllowed(country) {
		return model.Client{}, Deny(ReasonGeoNotAllowed)
	}

	return client, nil
}

// BuildExpiry returns the unix timestamp at which a token minted now for the
// client expires. A zero now means the current UTC time, keeping the result
// injectable for tests.
func BuildExpiry(client model.Client, now time.Time) int64 {
	return client.TokenExpiry(now).Unix()
}
