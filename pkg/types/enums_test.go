// pkg/types/enums_test.go
package types

import (
	"encoding/json"
	"testing"

	"github.com/holiman/uint256"
)

func TestSeverity_Valid(t *testing.T) {
	for _, s := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	for _, s := range []Severity{0, 5, 255} {
		if s.Valid() {
			t.Errorf("expected severity %d to be invalid", uint8(s))
		}
	}
}

func TestStatus_Revealable(t *testing.T) {
	cases := map[Status]bool{
		StatusSubmitted:    true,
		StatusAcknowledged: true,
		StatusResolved:     true,
		StatusRevealed:     false,
	}
	for s, want := range cases {
		if got := s.Revealable(); got != want {
			t.Errorf("%s.Revealable() = %v, want %v", s, got, want)
		}
	}
}

func TestResolutionType_NoneIsNotValid(t *testing.T) {
	if ResolutionNone.Valid() {
		t.Fatal("none must not be accepted as a resolution")
	}
	if ResolutionType(4).Valid() {
		t.Fatal("out of range resolution must be rejected")
	}
}

func TestDisclosure_JSONHidesPayload(t *testing.T) {
	d := Disclosure{
		Hacker:           "did:key:z6MkHacker",
		Target:           "did:key:z6MkTarget",
		EncryptedPayload: []byte("secret exploit"),
		Severity:         SeverityHigh,
		Status:           StatusAcknowledged,
	}

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if _, ok := m["encrypted_payload"]; ok {
		t.Error("payload must not be part of the record encoding")
	}
	if m["severity"] != "high" {
		t.Errorf("severity mismatch: got %v", m["severity"])
	}
	if m["status"] != "acknowledged" {
		t.Errorf("status mismatch: got %v", m["status"])
	}
}

func TestParseHash(t *testing.T) {
	var h Hash
	h[0] = 0xab
	parsed, err := ParseHash(h.String())
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if parsed != h {
		t.Errorf("hash mismatch: got %s, want %s", parsed, h)
	}

	if _, err := ParseHash("abcd"); err == nil {
		t.Error("expected short hash to be rejected")
	}
}

func TestRates_For(t *testing.T) {
	r := Rates{
		Low:      uint256.NewInt(1),
		Medium:   uint256.NewInt(2),
		High:     uint256.NewInt(3),
		Critical: uint256.NewInt(4),
	}
	if got := r.For(SeverityHigh); got.Uint64() != 3 {
		t.Errorf("high rate: got %d", got.Uint64())
	}
	if r.For(Severity(9)) != nil {
		t.Error("expected nil rate for undefined severity")
	}
}
