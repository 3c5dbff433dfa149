package ledger

import (
	"context"
	"errors"

	"github.com/relves/vulnlog/internal/storage"
	"github.com/relves/vulnlog/pkg/address"
	"github.com/relves/vulnlog/pkg/types"
)

// ArtifactStatus summarizes everything the ledger holds about one artifact.
// Protocol, Policy and Vault are nil when absent.
type ArtifactStatus struct {
	Artifact    types.Identity
	Protocol    *types.Protocol
	Policy      *types.ProtocolPolicy
	Vault       *types.BountyVault
	Disclosures []*types.Disclosure
	ByStatus    map[types.Status]int
	BySeverity  map[types.Severity]int
}

// Registered reports whether a protocol governs the artifact.
func (a *ArtifactStatus) Registered() bool {
	return a.Protocol != nil
}

// ArtifactStatus reads the protocol, policy, vault and disclosures of
// artifact in one snapshot. Disclosures are included whether or not a
// protocol has claimed them.
func (s *Service) ArtifactStatus(ctx context.Context, artifact types.Identity) (*ArtifactStatus, error) {
	st := &ArtifactStatus{
		Artifact:   artifact,
		ByStatus:   map[types.Status]int{},
		BySeverity: map[types.Severity]int{},
	}
	protocolAddr := address.Protocol(artifact)

	err := s.view(ctx, func(tx storage.Tx) error {
		var err error
		if st.Protocol, err = optional(tx.GetProtocol(ctx, protocolAddr)); err != nil {
			return err
		}
		if st.Policy, err = optional(tx.GetPolicy(ctx, address.Policy(protocolAddr))); err != nil {
			return err
		}
		if st.Vault, err = optional(tx.GetVault(ctx, address.Vault(protocolAddr))); err != nil {
			return err
		}
		st.Disclosures, err = tx.ListDisclosures(ctx, storage.DisclosureFilter{Target: artifact})
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, d := range st.Disclosures {
		st.ByStatus[d.Status]++
		st.BySeverity[d.Severity]++
	}
	return st, nil
}

// optional turns storage.ErrNotFound into a nil record.
func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return v, err
}
