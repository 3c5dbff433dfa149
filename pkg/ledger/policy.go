package ledger

import (
	"context"

	"github.com/relves/vulnlog/internal/storage"
	"github.com/relves/vulnlog/pkg/address"
	"github.com/relves/vulnlog/pkg/types"
)

func validMinGracePeriod(v int64) bool {
	return v >= 0 && v <= MaxGracePeriod
}

// CreatePolicy creates the policy of a protocol. A zero minimum defers to
// the global minimum grace period.
func (s *Service) CreatePolicy(ctx context.Context, caller types.Identity, protocolAddr string, minGracePeriod int64) (*types.ProtocolPolicy, error) {
	if !validMinGracePeriod(minGracePeriod) {
		return nil, ErrInvalidMinGracePeriod
	}

	policy := &types.ProtocolPolicy{
		Address:        address.Policy(protocolAddr),
		Protocol:       protocolAddr,
		MinGracePeriod: minGracePeriod,
	}
	err := s.update(ctx, func(tx storage.Tx) error {
		p, err := loadProtocol(ctx, tx, protocolAddr)
		if err != nil {
			return err
		}
		if p.Authority != caller {
			return ErrUnauthorizedProtocolAction
		}
		if err := tx.InsertPolicy(ctx, policy); err != nil {
			return exists(err, "policy", policy.Address)
		}
		return s.record(ctx, tx, "policy/create", policy.Address, caller, s.now(), policy)
	})
	if err != nil {
		return nil, err
	}
	return policy, nil
}

// SetMinGracePeriod updates an existing policy. It never creates one.
func (s *Service) SetMinGracePeriod(ctx context.Context, caller types.Identity, protocolAddr string, minGracePeriod int64) (*types.ProtocolPolicy, error) {
	if !validMinGracePeriod(minGracePeriod) {
		return nil, ErrInvalidMinGracePeriod
	}

	var policy *types.ProtocolPolicy
	err := s.update(ctx, func(tx storage.Tx) error {
		p, err := loadProtocol(ctx, tx, protocolAddr)
		if err != nil {
			return err
		}
		if p.Authority != caller {
			return ErrUnauthorizedProtocolAction
		}
		addr := address.Policy(protocolAddr)
		policy, err = tx.GetPolicy(ctx, addr)
		if err != nil {
			return notFound(err, ErrPolicyNotFound, addr)
		}
		policy.MinGracePeriod = minGracePeriod
		if err := tx.UpdatePolicy(ctx, policy); err != nil {
			return err
		}
		return s.record(ctx, tx, "policy/update", addr, caller, s.now(), policy)
	})
	if err != nil {
		return nil, err
	}
	return policy, nil
}

// GetPolicy returns the policy of a protocol.
func (s *Service) GetPolicy(ctx context.Context, protocolAddr string) (*types.ProtocolPolicy, error) {
	var policy *types.ProtocolPolicy
	err := s.view(ctx, func(tx storage.Tx) error {
		addr := address.Policy(protocolAddr)
		var err error
		policy, err = tx.GetPolicy(ctx, addr)
		if err != nil {
			return notFound(err, ErrPolicyNotFound, addr)
		}
		return nil
	})
	return policy, err
}
