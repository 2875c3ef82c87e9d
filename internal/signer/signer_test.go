package signer

import (
	"strings"
	"testing"

	"streamgate/internal/model"
)

func testKeys() []SigningKey {
	return []SigningKey{
		{KID: "k1", Secret: []byte("first-secret")},
		{KID: "k2", Secret: []byte("second-secret")},
	}
}

func testClient() model.Client {
	return model.Client{ID: "acme", TokenTTLSeconds: 300}
}

func testStream() model.Stream {
	return model.Stream{ID: "event-1"}
}

// splitSigned slices a signed URL into the canonical path-and-query that was
// signed and the trailing signature.
func splitSigned(t *testing.T, signed SignedURL, base string) (string, string) {
	t.Helper()
	rest, ok := strings.CutPrefix(signed.URL, base)
	if !ok {
		t.Fatalf("url %q does not start with base %q", signed.URL, base)
	}
	canonical, sig, ok := strings.Cut(rest, "&sig=")
	if !ok {
		t.Fatalf("url %q has no sig parameter", signed.URL)
	}
	return canonical, sig
}

func TestNewRequiresKeys(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for empty key set")
	}
	if _, err := New([]SigningKey{{Secret: []byte("x")}}); err == nil {
		t.Fatal("expected error for missing kid")
	}
	if _, err := New([]SigningKey{{KID: "k1"}}); err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestNewPicksGreatestKID(t *testing.T) {
	s, err := New(testKeys())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := s.CurrentKID(); got != "k2" {
		t.Fatalf("CurrentKID = %q, want k2", got)
	}
}

func TestSignDeterministic(t *testing.T) {
	s, err := New(testKeys())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	req := model.SignRequest{ClientID: "acme", StreamID: "event-1"}
	first, err := s.Sign(testClient(), testStream(), req, 1700000300)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	second, err := s.Sign(testClient(), testStream(), req, 1700000300)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if first.URL != second.URL {
		t.Fatalf("signing is not deterministic: %q vs %q", first.URL, second.URL)
	}
	if first.TTL != 300 || first.KID != "k2" {
		t.Fatalf("unexpected metadata: TTL=%d KID=%q", first.TTL, first.KID)
	}
}

func TestSignCanonicalShape(t *testing.T) {
	s, err := New(testKeys())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	signed, err := s.Sign(testClient(), testStream(), model.SignRequest{ClientID: "acme", StreamID: "event-1"}, 1700000300)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	canonical, sig := splitSigned(t, signed, DefaultBaseURL)
	want := "/live/event-1/index.m3u8?client=acme&exp=1700000300&kid=k2"
	if canonical != want {
		t.Fatalf("canonical = %q, want %q", canonical, want)
	}
	if sig == "" || strings.ContainsAny(sig, "+/=") {
		t.Fatalf("signature %q is not unpadded base64url", sig)
	}
}

func TestSignBackupParam(t *testing.T) {
	s, err := New(testKeys())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	signed, err := s.Sign(testClient(), testStream(), model.SignRequest{ClientID: "acme", StreamID: "event-1", UseBackup: true}, 1700000300)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	canonical, _ := splitSigned(t, signed, DefaultBaseURL)
	if !strings.HasSuffix(canonical, "&kid=k2&backup=1") {
		t.Fatalf("backup=1 must be the last signed parameter, got %q", canonical)
	}
}

func TestSignUsesPackagingPath(t *testing.T) {
	s, err := New(testKeys())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stream := testStream()
	stream.Packaging.LLHLSPath = "/ll/event-1/master.m3u8"
	signed, err := s.Sign(testClient(), stream, model.SignRequest{ClientID: "acme", StreamID: "event-1"}, 1700000300)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	canonical, _ := splitSigned(t, signed, DefaultBaseURL)
	if !strings.HasPrefix(canonical, "/ll/event-1/master.m3u8?") {
		t.Fatalf("canonical = %q, want packaging path prefix", canonical)
	}
}

func TestWithBaseURL(t *testing.T) {
	s, err := New(testKeys(), WithBaseURL("https://edge.example.net/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	signed, err := s.Sign(testClient(), testStream(), model.SignRequest{ClientID: "acme", StreamID: "event-1"}, 1700000300)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !strings.HasPrefix(signed.URL, "https://edge.example.net/live/") {
		t.Fatalf("url %q does not use the trimmed base", signed.URL)
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	s, err := New(testKeys())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	signed, err := s.Sign(testClient(), testStream(), model.SignRequest{ClientID: "acme", StreamID: "event-1"}, 1700000300)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	canonical, sig := splitSigned(t, signed, DefaultBaseURL)
	if !s.Verify(canonical, sig) {
		t.Fatal("freshly signed URL must verify")
	}
	if s.Verify(strings.Replace(canonical, "exp=1700000300", "exp=1800000300", 1), sig) {
		t.Fatal("tampered expiry must not verify")
	}
	if s.Verify(canonical, sig[:len(sig)-2]+"xx") {
		t.Fatal("tampered signature must not verify")
	}
}

func TestRotateCutsOverVerification(t *testing.T) {
	s, err := New(testKeys())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	signed, err := s.Sign(testClient(), testStream(), model.SignRequest{ClientID: "acme", StreamID: "event-1"}, 1700000300)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	canonical, sig := splitSigned(t, signed, DefaultBaseURL)

	if err := s.Rotate(SigningKey{KID: "k3", Secret: []byte("third-secret")}); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if got := s.CurrentKID(); got != "k3" {
		t.Fatalf("CurrentKID after rotate = %q, want k3", got)
	}
	if s.Verify(canonical, sig) {
		t.Fatal("signature minted under the old key must fail after rotation")
	}

	rotated, err := s.Sign(testClient(), testStream(), model.SignRequest{ClientID: "acme", StreamID: "event-1"}, 1700000300)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	newCanonical, newSig := splitSigned(t, rotated, DefaultBaseURL)
	if !strings.Contains(newCanonical, "kid=k3") {
		t.Fatalf("rotated canonical %q does not carry the new kid", newCanonical)
	}
	if !s.Verify(newCanonical, newSig) {
		t.Fatal("signature minted under the new key must verify")
	}
}

// Rotate replaces the active key even when its kid sorts below an existing one.
func TestRotateIgnoresKIDOrder(t *testing.T) {
	s, err := New(testKeys())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Rotate(SigningKey{KID: "a0", Secret: []byte("older-looking")}); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if got := s.CurrentKID(); got != "a0" {
		t.Fatalf("CurrentKID = %q, want a0", got)
	}
}

func TestRotateValidation(t *testing.T) {
	s, err := New(testKeys())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Rotate(SigningKey{Secret: []byte("x")}); err == nil {
		t.Fatal("expected error for missing kid")
	}
	if err := s.Rotate(SigningKey{KID: "k9"}); err == nil {
		t.Fatal("expected error for missing secret")
	}
	if got := s.CurrentKID(); got != "k2" {
		t.Fatalf("failed rotation must not change the active key, got %q", got)
	}
}

func TestKeyFromPassphrase(t *testing.T) {
	a := KeyFromPassphrase("k1", "correct horse")
	b := KeyFromPassphrase("k2", "correct horse")
	if a.KID != "k1" || len(a.Secret) != 32 {
		t.Fatalf("unexpected derived key: kid=%q len=%d", a.KID, len(a.Secret))
	}
	if string(a.Secret) == string(b.Secret) {
		t.Fatal("kid must salt the derivation")
	}
	again := KeyFromPassphrase("k1", "correct horse")
	if string(a.Secret) != string(again.Secret) {
		t.Fatal("derivation must be deterministic")
	}
}
