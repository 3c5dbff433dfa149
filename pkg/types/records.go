// pkg/types/records.go
package types

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/holiman/uint256"
)

// Identity is a principal or artifact identifier, normally a did:key string.
// The empty identity is the null identity.
type Identity string

// IsZero reports whether id is the null identity.
func (id Identity) IsZero() bool {
	return id == ""
}

func (id Identity) String() string {
	return string(id)
}

// Hash is a fixed-width 32 byte digest, hex encoded in text form.
type Hash [32]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a 64 character hex string.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decode hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Key is an X25519 public key, base64 encoded in text form.
type Key [32]byte

func (k Key) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKey decodes a base64 encoded 32 byte key.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("decode key: %w", err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("key must be %d bytes, got %d", len(k), len(b))
	}
	copy(k[:], b)
	return k, nil
}

// Protocol is the registered owner of a protected artifact.
type Protocol struct {
	Address          string   `json:"address"`
	Authority        Identity `json:"authority"`
	Artifact         Identity `json:"artifact"`
	Name             string   `json:"name"`
	EncryptionKey    Key      `json:"encryption_key"`
	RegisteredAt     int64    `json:"registered_at"`
	PendingAuthority Identity `json:"pending_authority,omitempty"`
}

// ProtocolPolicy holds optional per-protocol settings.
type ProtocolPolicy struct {
	Address  string `json:"address"`
	Protocol string `json:"protocol"`
	// MinGracePeriod in seconds; 0 defers to the global minimum.
	MinGracePeriod int64 `json:"min_grace_period"`
}

// Disclosure is a single vulnerability report.
type Disclosure struct {
	Address string   `json:"address"`
	Hacker  Identity `json:"hacker"`
	// Protocol is the address of the adopting protocol, empty while unclaimed.
	Protocol string   `json:"protocol,omitempty"`
	Target   Identity `json:"target"`
	// ProofHash is immutable after submission.
	ProofHash Hash `json:"proof_hash"`
	// EncryptedPayload holds ciphertext until reveal and the plaintext afterwards.
	EncryptedPayload []byte         `json:"-"`
	SenderKey        Key            `json:"sender_key"`
	Severity         Severity       `json:"severity"`
	Status           Status         `json:"status"`
	Resolution       ResolutionType `json:"resolution"`
	PaymentRef       Hash           `json:"payment_ref"`
	SubmittedAt      int64          `json:"submitted_at"`
	AcknowledgedAt   int64          `json:"acknowledged_at"`
	ResolvedAt       int64          `json:"resolved_at"`
	GracePeriod      int64          `json:"grace_period"`
	Nonce            uint64         `json:"nonce"`
}

// Claimed reports whether a protocol has adopted the disclosure.
func (d *Disclosure) Claimed() bool {
	return d.Protocol != ""
}

// RevealDeadline is the first unix second at which the hacker may reveal.
func (d *Disclosure) RevealDeadline() int64 {
	return d.SubmittedAt + d.GracePeriod
}

// Rates are the per-severity payout amounts of a vault.
type Rates struct {
	Low      *uint256.Int `json:"low"`
	Medium   *uint256.Int `json:"medium"`
	High     *uint256.Int `json:"high"`
	Critical *uint256.Int `json:"critical"`
}

// For returns the payout for sev, or nil for an undefined severity.
func (r Rates) For(sev Severity) *uint256.Int {
	switch sev {
	case SeverityLow:
		return r.Low
	case SeverityMedium:
		return r.Medium
	case SeverityHigh:
		return r.High
	case SeverityCritical:
		return r.Critical
	default:
		return nil
	}
}

// BountyVault escrows funds for one protocol.
type BountyVault struct {
	Address        string       `json:"address"`
	Protocol       string       `json:"protocol"`
	Rates          Rates        `json:"rates"`
	TotalDeposited *uint256.Int `json:"total_deposited"`
	TotalPaid      *uint256.Int `json:"total_paid"`
	Active         bool         `json:"active"`
	CreatedAt      int64        `json:"created_at"`
}

// Available is the unpaid balance, TotalDeposited - TotalPaid.
func (v *BountyVault) Available() *uint256.Int {
	return new(uint256.Int).Sub(v.TotalDeposited, v.TotalPaid)
}

// ClaimReceipt marks that a disclosure's bounty was paid from a vault.
type ClaimReceipt struct {
	Address    string       `json:"address"`
	Disclosure string       `json:"disclosure"`
	Vault      string       `json:"vault"`
	Amount     *uint256.Int `json:"amount"`
	ClaimedAt  int64        `json:"claimed_at"`
}

// Transfer is a movement of value recorded by the store.
type Transfer struct {
	From   string       `json:"from"`
	To     string       `json:"to"`
	Amount *uint256.Int `json:"amount"`
	Reason string       `json:"reason"`
	At     int64        `json:"at"`
}

// Deployment is what the deployment oracle knows about an artifact.
type Deployment struct {
	Artifact   Identity `json:"artifact"`
	Admin      Identity `json:"admin"`
	Executable bool     `json:"executable"`
	UpdatedAt  int64    `json:"updated_at"`
}
