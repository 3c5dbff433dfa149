package ledger

import (
	"context"

	"github.com/relves/vulnlog/internal/storage"
	"github.com/relves/vulnlog/pkg/address"
	"github.com/relves/vulnlog/pkg/oracle"
	"github.com/relves/vulnlog/pkg/types"
)

// MaxProtocolNameLength is the longest accepted protocol name in bytes.
const MaxProtocolNameLength = 64

// RegisterParams are the inputs of Register.
type RegisterParams struct {
	Artifact      types.Identity
	Name          string
	EncryptionKey types.Key
}

// ValidProtocolName reports whether name is 1..64 bytes of printable ASCII.
func ValidProtocolName(name string) bool {
	if len(name) == 0 || len(name) > MaxProtocolNameLength {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 || name[i] > 0x7e {
			return false
		}
	}
	return true
}

// Register creates the protocol for an artifact. The caller must be the
// artifact's administrative controller and becomes the protocol authority.
func (s *Service) Register(ctx context.Context, caller types.Identity, p RegisterParams) (*types.Protocol, error) {
	if !ValidProtocolName(p.Name) {
		return nil, ErrInvalidProtocolName
	}

	executable, err := oracle.Executable(ctx, s.oracle, p.Artifact)
	if err != nil {
		return nil, err
	}
	if !executable {
		return nil, ErrInvalidTargetArtifact.Withf("artifact %s is not a deployed, executable artifact", p.Artifact)
	}
	owner, err := s.oracle.VerifyOwner(ctx, p.Artifact, caller)
	if err != nil {
		return nil, err
	}
	if !owner {
		return nil, ErrNotUpgradeAuthority
	}

	protocol := &types.Protocol{
		Address:       address.Protocol(p.Artifact),
		Authority:     caller,
		Artifact:      p.Artifact,
		Name:          p.Name,
		EncryptionKey: p.EncryptionKey,
		RegisteredAt:  s.now(),
	}

	err = s.update(ctx, func(tx storage.Tx) error {
		if err := tx.InsertProtocol(ctx, protocol); err != nil {
			return exists(err, "protocol", protocol.Address)
		}
		return s.record(ctx, tx, "protocol/register", protocol.Address, caller, protocol.RegisteredAt, protocol)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("protocol registered", "protocol", protocol.Address, "artifact", p.Artifact, "authority", caller)
	return protocol, nil
}

// mutateProtocol loads a protocol, checks that caller is its authority and
// applies fn before writing it back.
func (s *Service) mutateProtocol(ctx context.Context, caller types.Identity, addr, event string, fn func(p *types.Protocol) error) (*types.Protocol, error) {
	var protocol *types.Protocol
	err := s.update(ctx, func(tx storage.Tx) error {
		p, err := loadProtocol(ctx, tx, addr)
		if err != nil {
			return err
		}
		if p.Authority != caller {
			return ErrUnauthorizedProtocolAction
		}
		if err := fn(p); err != nil {
			return err
		}
		if err := tx.UpdateProtocol(ctx, p); err != nil {
			return err
		}
		protocol = p
		return s.record(ctx, tx, event, addr, caller, s.now(), p)
	})
	if err != nil {
		return nil, err
	}
	return protocol, nil
}

// RotateEncryptionKey replaces the protocol's encryption key. Existing
// disclosures stay sealed to the key they were submitted under.
func (s *Service) RotateEncryptionKey(ctx context.Context, caller types.Identity, protocolAddr string, key types.Key) (*types.Protocol, error) {
	return s.mutateProtocol(ctx, caller, protocolAddr, "protocol/rotate-key", func(p *types.Protocol) error {
		p.EncryptionKey = key
		return nil
	})
}

// ProposeTransfer nominates candidate as the next authority. The transfer
// completes only when candidate accepts; a new proposal replaces an old one.
func (s *Service) ProposeTransfer(ctx context.Context, caller types.Identity, protocolAddr string, candidate types.Identity) (*types.Protocol, error) {
	if candidate.IsZero() {
		return nil, ErrInvalidNewAuthority
	}
	return s.mutateProtocol(ctx, caller, protocolAddr, "protocol/transfer/propose", func(p *types.Protocol) error {
		p.PendingAuthority = candidate
		return nil
	})
}

// CancelTransfer withdraws a pending proposal.
func (s *Service) CancelTransfer(ctx context.Context, caller types.Identity, protocolAddr string) (*types.Protocol, error) {
	return s.mutateProtocol(ctx, caller, protocolAddr, "protocol/transfer/cancel", func(p *types.Protocol) error {
		if p.PendingAuthority.IsZero() {
			return ErrNoPendingTransfer
		}
		p.PendingAuthority = ""
		return nil
	})
}

// AcceptTransfer completes a pending transfer. Only the proposed identity
// may accept.
func (s *Service) AcceptTransfer(ctx context.Context, caller types.Identity, protocolAddr string) (*types.Protocol, error) {
	var protocol *types.Protocol
	err := s.update(ctx, func(tx storage.Tx) error {
		p, err := loadProtocol(ctx, tx, protocolAddr)
		if err != nil {
			return err
		}
		if p.PendingAuthority.IsZero() {
			return ErrNoPendingTransfer
		}
		if p.PendingAuthority != caller {
			return ErrNotPendingAuthority
		}
		previous := p.Authority
		p.Authority = caller
		p.PendingAuthority = ""
		if err := tx.UpdateProtocol(ctx, p); err != nil {
			return err
		}
		protocol = p
		return s.record(ctx, tx, "protocol/transfer/accept", protocolAddr, caller, s.now(),
			map[string]types.Identity{"from": previous, "to": caller})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("protocol authority transferred", "protocol", protocolAddr, "authority", caller)
	return protocol, nil
}

// GetProtocol returns the protocol at addr.
func (s *Service) GetProtocol(ctx context.Context, addr string) (*types.Protocol, error) {
	var p *types.Protocol
	err := s.view(ctx, func(tx storage.Tx) error {
		var err error
		p, err = loadProtocol(ctx, tx, addr)
		return err
	})
	return p, err
}

// GetProtocolByArtifact returns the protocol governing artifact.
func (s *Service) GetProtocolByArtifact(ctx context.Context, artifact types.Identity) (*types.Protocol, error) {
	return s.GetProtocol(ctx, address.Protocol(artifact))
}

// ListProtocols returns every registered protocol in registration order.
func (s *Service) ListProtocols(ctx context.Context) ([]*types.Protocol, error) {
	var out []*types.Protocol
	err := s.view(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListProtocols(ctx)
		return err
	})
	return out, err
}
