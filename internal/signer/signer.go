// Package signer mints and verifies tamper-evident, expiring playback URLs.
//
// The signer owns its key set exclusively. Rotation and signing share the
// current-key pointer under a RWMutex so a concurrent Sign observes either the
// old key or the new key in full, never a partial record. Verification is
// defined against the current key only: rotating the key invalidates
// previously issued signatures even though old keys remain in the map.
// Whether that hard cutover is intended product behaviour is an open question
// carried from the source; retaining the old keys keeps a later multi-key
// verify cheap to add.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"streamgate/internal/model"
)

// DefaultBaseURL is the CDN origin prepended to signed paths when the caller
// does not override it.
const DefaultBaseURL = "https://cdn.example"

const (
	passphraseSaltPrefix = "streamgate-signing-key:"
	passphraseIterations = 120000
	passphraseKeyLength  = 32
)

// SigningKey pairs a key identifier with its HMAC secret.
type SigningKey struct {
	KID    string
	Secret []byte
}

// KeyFromPassphrase derives a signing key from an operator passphrase using
// PBKDF2-SHA256, salted with the kid so two keys sharing a passphrase still
// produce distinct secrets.
func KeyFromPassphrase(kid, passphrase string) SigningKey {
	salt := []byte(passphraseSaltPrefix + kid)
	secret := pbkdf2.Key([]byte(passphrase), salt, passphraseIterations, passphraseKeyLength, sha256.New)
	return SigningKey{KID: kid, Secret: secret}
}

// SignedURL is the result of a successful Sign call.
type SignedURL struct {
	URL string `json:"url"`
	TTL int    `json:"ttl"`
	KID string `json:"kid"`
}

// Signer issues HMAC-SHA256 signed playback URLs and verifies them against the
// currently active key.
type Signer struct {
	mu      sync.RWMutex
	keys    map[string]SigningKey
	current string
	baseURL string
}

// Option adjusts Signer construction.
type Option func(*Signer)

// WithBaseURL overrides the CDN origin used when assembling full URLs.
func WithBaseURL(base string) Option {
	return func(s *Signer) {
		s.baseURL = strings.TrimRight(base, "/")
	}
}

// New constructs a Signer from the given keys. At least one key is required.
//
// The initially active key is the one whose kid sorts greatest by plain string
// comparison — behaviour inherited from the source system. It misorders kids
// like "v2" and "v10", so deployments relying on recency should rotate
// explicitly after startup; Rotate tracks the active key by pointer and never
// re-sorts.
func New(keys []SigningKey, opts ...Option) (*Signer, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one signing key is required")
	}
	s := &Signer{
		keys:    make(map[string]SigningKey, len(keys)),
		baseURL: DefaultBaseURL,
	}
	for _, key := range keys {
		if key.KID == "" {
			return nil, fmt.Errorf("signing key id is required")
		}
		if len(key.Secret) == 0 {
			return nil, fmt.Errorf("signing key %s: secret is required", key.KID)
		}
		s.keys[key.KID] = key
		if key.KID > s.current {
			s.current = key.KID
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CurrentKID returns the identifier of the active signing key.
func (s *Signer) CurrentKID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Rotate inserts or replaces the key under its kid and makes it the active
// key. The swap is atomic with respect to concurrent Sign and Verify calls.
func (s *Signer) Rotate(key SigningKey) error {
	if key.KID == "" {
		return fmt.Errorf("signing key id is required")
	}
	if len(key.Secret) == 0 {
		return fmt.Errorf("signing key %s: secret is required", key.KID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.KID] = key
	s.current = key.KID
	return nil
}

// Sign builds the canonical path and query for the request, signs it with the
// active key, and returns the full playback URL. Two calls with identical
// inputs and the same active key produce byte-identical output.
func (s *Signer) Sign(client model.Client, stream model.Stream, req model.SignRequest, expiry int64) (SignedURL, error) {
	s.mu.RLock()
	key, ok := s.keys[s.current]
	s.mu.RUnlock()
	if !ok {
		return SignedURL{}, fmt.Errorf("current signing key %q is missing", s.current)
	}

	path := stream.Packaging.LLHLSPath
	if path == "" {
		path = "/live/" + stream.ID + "/index.m3u8"
	}

	query := canonicalQuery(client.ID, expiry, key.KID, req.UseBackup)
	canonical := path + "?" + query

	mac := hmac.New(sha256.New, key.Secret)
	mac.Write([]byte(canonical))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return SignedURL{
		URL: s.baseURL + canonical + "&sig=" + sig,
		TTL: client.TokenTTLSeconds,
		KID: key.KID,
	}, nil
}

// Verify recomputes the HMAC over pathAndQuery (the canonical string that was
// signed, without the sig parameter) using the active key and compares it in
// constant time against the provided base64url signature.
func (s *Signer) Verify(pathAndQuery, signature string) bool {
	s.mu.RLock()
	key, ok := s.keys[s.current]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	if pad := len(signature) % 4; pad != 0 {
		signature += strings.Repeat("=", 4-pad)
	}
	provided, err := base64.URLEncoding.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, key.Secret)
	mac.Write([]byte(pathAndQuery))
	expected := mac.Sum(nil)

	return subtle.ConstantTimeCompare(expected, provided) == 1
}

// canonicalQuery renders the signed parameters in their fixed insertion order:
// client, exp, kid, then backup when requested. The verifier depends on this
// byte-for-byte ordering.
func canonicalQuery(clientID string, expiry int64, kid string, backup bool) string {
	var b strings.Builder
	b.WriteString("client=")
	b.WriteString(url.QueryEscape(clientID))
	b.WriteString("&exp=")
	b.WriteString(strconv.FormatInt(expiry, 10))
	b.WriteString("&kid=")
	b.WriteString(url.QueryEscape(kid))
	if backup {
		b.WriteString("&backup=1")
	}
	return b.String()
}
