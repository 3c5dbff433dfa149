// pkg/types/enums.go
package types

import "fmt"

// Severity grades a disclosure. Numeric values are part of the wire format.
type Severity uint8

const (
	SeverityLow      Severity = 1
	SeverityMedium   Severity = 2
	SeverityHigh     Severity = 3
	SeverityCritical Severity = 4
)

// Valid reports whether s is one of the four defined severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", uint8(s))
	}
}

// ParseSeverity parses the lower-case name of a severity.
func ParseSeverity(name string) (Severity, error) {
	for _, s := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", name)
}

func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Status is the lifecycle state of a disclosure.
type Status uint8

const (
	StatusSubmitted    Status = 0
	StatusAcknowledged Status = 1
	StatusResolved     Status = 2
	StatusRevealed     Status = 3
)

func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusAcknowledged, StatusResolved, StatusRevealed:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusSubmitted:
		return "submitted"
	case StatusAcknowledged:
		return "acknowledged"
	case StatusResolved:
		return "resolved"
	case StatusRevealed:
		return "revealed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseStatus parses the lower-case name of a status.
func ParseStatus(name string) (Status, error) {
	for _, s := range []Status{StatusSubmitted, StatusAcknowledged, StatusResolved, StatusRevealed} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// Revealable reports whether a hacker may still publish from this state.
// Every state except Revealed qualifies once the grace deadline has passed.
func (s Status) Revealable() bool {
	switch s {
	case StatusSubmitted, StatusAcknowledged, StatusResolved:
		return true
	default:
		return false
	}
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	v, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ResolutionType records how the protocol says a disclosure was settled.
type ResolutionType uint8

const (
	ResolutionNone                ResolutionType = 0
	ResolutionOffchainAttestation ResolutionType = 1
	ResolutionOnchainBounty       ResolutionType = 2
	ResolutionNoPayment           ResolutionType = 3
)

// Valid reports whether r may be supplied when resolving. None is only the
// initial value and is not a valid resolution.
func (r ResolutionType) Valid() bool {
	switch r {
	case ResolutionOffchainAttestation, ResolutionOnchainBounty, ResolutionNoPayment:
		return true
	default:
		return false
	}
}

func (r ResolutionType) String() string {
	switch r {
	case ResolutionNone:
		return "none"
	case ResolutionOffchainAttestation:
		return "offchain-attestation"
	case ResolutionOnchainBounty:
		return "onchain-bounty"
	case ResolutionNoPayment:
		return "no-payment"
	default:
		return fmt.Sprintf("resolution(%d)", uint8(r))
	}
}

// ParseResolutionType parses the name of a resolution type, including "none".
func ParseResolutionType(name string) (ResolutionType, error) {
	for _, r := range []ResolutionType{ResolutionNone, ResolutionOffchainAttestation, ResolutionOnchainBounty, ResolutionNoPayment} {
		if r.String() == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown resolution type %q", name)
}

func (r ResolutionType) MarshalText() ([]byte, error) {
	if r > ResolutionNoPayment {
		return nil, fmt.Errorf("invalid resolution type %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *ResolutionType) UnmarshalText(text []byte) error {
	v, err := ParseResolutionType(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}
