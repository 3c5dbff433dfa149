package ledger

import (
	"context"
	"errors"
	"math"

	"github.com/relves/vulnlog/internal/storage"
	"github.com/relves/vulnlog/pkg/address"
	"github.com/relves/vulnlog/pkg/commitment"
	"github.com/relves/vulnlog/pkg/envelope"
	"github.com/relves/vulnlog/pkg/oracle"
	"github.com/relves/vulnlog/pkg/types"
)

// Grace period bounds in seconds.
const (
	MinGracePeriod     int64 = 60
	MaxGracePeriod     int64 = 31_536_000
	DefaultGracePeriod int64 = 604_800
)

// Payload bounds in bytes. A non-empty encrypted payload must be large
// enough to hold a sealed box.
const (
	MaxPayloadSize          = envelope.MaxSealedSize
	MinEncryptedPayloadSize = envelope.MinSealedSize
)

// SubmitParams are the inputs of Submit.
type SubmitParams struct {
	Target           types.Identity
	ProofHash        types.Hash
	EncryptedPayload []byte
	SenderKey        types.Key
	Severity         types.Severity
	GracePeriod      int64
	Nonce            uint64
	// ClaimedProtocol optionally links the disclosure to the target's
	// protocol at submission. It must be the protocol derived from Target.
	ClaimedProtocol string
}

// transition reports whether a disclosure may move from one status to the
// next. Status never moves backwards.
func transition(from, to types.Status) bool {
	switch to {
	case types.StatusAcknowledged:
		return from == types.StatusSubmitted
	case types.StatusResolved:
		return from == types.StatusAcknowledged
	case types.StatusRevealed:
		return from.Revealable()
	default:
		return false
	}
}

// Submit records a new disclosure from hacker.
func (s *Service) Submit(ctx context.Context, hacker types.Identity, p SubmitParams) (*types.Disclosure, error) {
	if !p.Severity.Valid() {
		return nil, ErrInvalidSeverity
	}
	if p.GracePeriod < MinGracePeriod {
		return nil, ErrGracePeriodTooShort
	}
	if p.GracePeriod > MaxGracePeriod {
		return nil, ErrGracePeriodTooLong
	}
	if len(p.EncryptedPayload) > MaxPayloadSize {
		return nil, ErrEncryptedProofTooLarge
	}
	if len(p.EncryptedPayload) > 0 && len(p.EncryptedPayload) < MinEncryptedPayloadSize {
		return nil, ErrEncryptedProofTooSmall
	}

	now := s.now()
	derived := address.Protocol(p.Target)

	d := &types.Disclosure{
		Address:          address.Disclosure(hacker, p.Target, p.Nonce),
		Hacker:           hacker,
		Protocol:         p.ClaimedProtocol,
		Target:           p.Target,
		ProofHash:        p.ProofHash,
		EncryptedPayload: p.EncryptedPayload,
		SenderKey:        p.SenderKey,
		Severity:         p.Severity,
		Status:           types.StatusSubmitted,
		Resolution:       types.ResolutionNone,
		SubmittedAt:      now,
		GracePeriod:      p.GracePeriod,
		Nonce:            p.Nonce,
	}

	err := s.update(ctx, func(tx storage.Tx) error {
		// The policy is looked up from the target, never from the claimed
		// protocol, so omitting the link cannot skip the minimum.
		policy, err := tx.GetPolicy(ctx, address.Policy(derived))
		switch {
		case err == nil:
			if policy.MinGracePeriod > 0 && p.GracePeriod < policy.MinGracePeriod {
				return ErrGracePeriodBelowProtocolMinimum.Withf(
					"grace period %d is below the protocol minimum of %d", p.GracePeriod, policy.MinGracePeriod)
			}
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}

		if p.ClaimedProtocol != "" {
			if p.ClaimedProtocol != derived {
				return ErrProtocolMismatch
			}
			if _, err := loadProtocol(ctx, tx, p.ClaimedProtocol); err != nil {
				return err
			}
		}

		executable, err := oracle.Executable(ctx, s.oracle, p.Target)
		if err != nil {
			return err
		}
		if !executable {
			return ErrInvalidTargetArtifact.Withf("target %s is not a deployed, executable artifact", p.Target)
		}

		if now > math.MaxInt64-p.GracePeriod {
			return ErrGracePeriodOverflow
		}

		if err := tx.InsertDisclosure(ctx, d); err != nil {
			return exists(err, "disclosure", d.Address)
		}
		return s.record(ctx, tx, "disclosure/submit", d.Address, hacker, now, d)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("disclosure submitted",
		"disclosure", d.Address,
		"target", d.Target,
		"severity", d.Severity.String(),
		"grace_period", d.GracePeriod)
	return d, nil
}

// Claim links an unclaimed disclosure to the protocol governing its target.
func (s *Service) Claim(ctx context.Context, caller types.Identity, disclosureAddr, protocolAddr string) (*types.Disclosure, error) {
	var d *types.Disclosure
	err := s.update(ctx, func(tx storage.Tx) error {
		var err error
		d, err = loadDisclosure(ctx, tx, disclosureAddr)
		if err != nil {
			return err
		}
		if d.Status != types.StatusSubmitted {
			return ErrInvalidStatus
		}
		if d.Claimed() {
			return ErrAlreadyClaimed
		}
		p, err := loadProtocol(ctx, tx, protocolAddr)
		if err != nil {
			return err
		}
		if d.Target != p.Artifact {
			return ErrProtocolMismatch
		}
		if p.Authority != caller {
			return ErrUnauthorizedProtocolAction
		}

		d.Protocol = protocolAddr
		if err := tx.UpdateDisclosure(ctx, d); err != nil {
			return err
		}
		return s.record(ctx, tx, "disclosure/claim", disclosureAddr, caller, s.now(),
			map[string]string{"protocol": protocolAddr})
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// authorizeProtocol loads the protocol a disclosure belongs to and checks
// that caller is its authority.
func authorizeProtocol(ctx context.Context, tx storage.Tx, d *types.Disclosure, caller types.Identity) error {
	if !d.Claimed() {
		return ErrUnclaimedDisclosure
	}
	p, err := loadProtocol(ctx, tx, d.Protocol)
	if err != nil {
		return err
	}
	if p.Authority != caller {
		return ErrUnauthorizedProtocolAction
	}
	return nil
}

// Acknowledge records that the protocol has received the disclosure.
func (s *Service) Acknowledge(ctx context.Context, caller types.Identity, disclosureAddr string) (*types.Disclosure, error) {
	now := s.now()
	var d *types.Disclosure
	err := s.update(ctx, func(tx storage.Tx) error {
		var err error
		d, err = loadDisclosure(ctx, tx, disclosureAddr)
		if err != nil {
			return err
		}
		if !transition(d.Status, types.StatusAcknowledged) {
			return ErrInvalidStatus
		}
		if err := authorizeProtocol(ctx, tx, d, caller); err != nil {
			return err
		}

		d.Status = types.StatusAcknowledged
		d.AcknowledgedAt = now
		if err := tx.UpdateDisclosure(ctx, d); err != nil {
			return err
		}
		return s.record(ctx, tx, "disclosure/acknowledge", disclosureAddr, caller, now, nil)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("disclosure acknowledged", "disclosure", disclosureAddr, "protocol", d.Protocol)
	return d, nil
}

// Resolve closes an acknowledged disclosure with a payment reference.
func (s *Service) Resolve(ctx context.Context, caller types.Identity, disclosureAddr string, paymentRef types.Hash, resolution types.ResolutionType) (*types.Disclosure, error) {
	if !resolution.Valid() {
		return nil, ErrInvalidResolutionType
	}

	now := s.now()
	var d *types.Disclosure
	err := s.update(ctx, func(tx storage.Tx) error {
		var err error
		d, err = loadDisclosure(ctx, tx, disclosureAddr)
		if err != nil {
			return err
		}
		if !transition(d.Status, types.StatusResolved) {
			return ErrInvalidStatus
		}
		if err := authorizeProtocol(ctx, tx, d, caller); err != nil {
			return err
		}

		d.Status = types.StatusResolved
		d.Resolution = resolution
		d.PaymentRef = paymentRef
		d.ResolvedAt = now
		if err := tx.UpdateDisclosure(ctx, d); err != nil {
			return err
		}
		return s.record(ctx, tx, "disclosure/resolve", disclosureAddr, caller, now, map[string]any{
			"resolution":  resolution,
			"payment_ref": paymentRef,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("disclosure resolved", "disclosure", disclosureAddr, "resolution", resolution.String())
	return d, nil
}

// Reveal publishes the plaintext proof once the grace period has elapsed.
// It is available from every status except Revealed, whether or not the
// protocol ever acknowledged, resolved or paid.
func (s *Service) Reveal(ctx context.Context, caller types.Identity, disclosureAddr string, plaintext []byte) (*types.Disclosure, error) {
	now := s.now()
	var d *types.Disclosure
	err := s.update(ctx, func(tx storage.Tx) error {
		var err error
		d, err = loadDisclosure(ctx, tx, disclosureAddr)
		if err != nil {
			return err
		}
		if d.Hacker != caller {
			return ErrUnauthorizedHackerAction
		}
		if !transition(d.Status, types.StatusRevealed) {
			return ErrInvalidStatus
		}
		if len(plaintext) > MaxPayloadSize {
			return ErrPlaintextProofTooLarge
		}
		if now < d.RevealDeadline() {
			return ErrGracePeriodNotElapsed.Withf("reveal allowed from %d, now %d", d.RevealDeadline(), now)
		}
		if !commitment.Verify(d.ProofHash, plaintext) {
			return ErrProofHashMismatch
		}

		d.EncryptedPayload = plaintext
		d.Status = types.StatusRevealed
		if err := tx.UpdateDisclosure(ctx, d); err != nil {
			return err
		}
		return s.record(ctx, tx, "disclosure/reveal", disclosureAddr, caller, now,
			map[string]any{"proof_hash": d.ProofHash, "size": len(plaintext)})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("disclosure revealed", "disclosure", disclosureAddr, "hacker", caller)
	return d, nil
}

// GetDisclosure returns the disclosure at addr.
func (s *Service) GetDisclosure(ctx context.Context, addr string) (*types.Disclosure, error) {
	var d *types.Disclosure
	err := s.view(ctx, func(tx storage.Tx) error {
		var err error
		d, err = loadDisclosure(ctx, tx, addr)
		return err
	})
	return d, err
}

// ListDisclosures returns disclosures matching f in submission order.
func (s *Service) ListDisclosures(ctx context.Context, f storage.DisclosureFilter) ([]*types.Disclosure, error) {
	var out []*types.Disclosure
	err := s.view(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListDisclosures(ctx, f)
		return err
	})
	return out, err
}

// RevealDeadline returns the first unix second at which the hacker may
// reveal the disclosure at addr.
func (s *Service) RevealDeadline(ctx context.Context, addr string) (int64, error) {
	d, err := s.GetDisclosure(ctx, addr)
	if err != nil {
		return 0, err
	}
	return d.RevealDeadline(), nil
}
