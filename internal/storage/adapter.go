package storage

import (
	"context"
	"errors"

	"github.com/holiman/uint256"

	"github.com/relves/vulnlog/pkg/types"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when creating a record whose key is taken.
	ErrExists = errors.New("already exists")
)

// Store is the keyed record store. Update runs fn in a serializable
// read-write transaction that commits only if fn returns nil; View runs fn
// against a consistent read snapshot.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx exposes record access inside a transaction.
type Tx interface {
	// Protocols
	GetProtocol(ctx context.Context, addr string) (*types.Protocol, error)
	InsertProtocol(ctx context.Context, p *types.Protocol) error
	UpdateProtocol(ctx context.Context, p *types.Protocol) error
	ListProtocols(ctx context.Context) ([]*types.Protocol, error)

	// Policies
	GetPolicy(ctx context.Context, addr string) (*types.ProtocolPolicy, error)
	InsertPolicy(ctx context.Context, p *types.ProtocolPolicy) error
	UpdatePolicy(ctx context.Context, p *types.ProtocolPolicy) error

	// Disclosures
	GetDisclosure(ctx context.Context, addr string) (*types.Disclosure, error)
	InsertDisclosure(ctx context.Context, d *types.Disclosure) error
	UpdateDisclosure(ctx context.Context, d *types.Disclosure) error
	ListDisclosures(ctx context.Context, f DisclosureFilter) ([]*types.Disclosure, error)

	// Vaults and receipts
	GetVault(ctx context.Context, addr string) (*types.BountyVault, error)
	InsertVault(ctx context.Context, v *types.BountyVault) error
	UpdateVault(ctx context.Context, v *types.BountyVault) error
	GetReceipt(ctx context.Context, addr string) (*types.ClaimReceipt, error)
	InsertReceipt(ctx context.Context, r *types.ClaimReceipt) error

	// Value transfer
	Transfer(ctx context.Context, t types.Transfer) error
	Balance(ctx context.Context, account string) (*uint256.Int, error)

	// Deployments known to the oracle
	GetDeployment(ctx context.Context, artifact types.Identity) (*types.Deployment, error)
	PutDeployment(ctx context.Context, d *types.Deployment) error

	// Event log leaves and tree state
	AppendLeaf(ctx context.Context, index uint64, leafHash, data []byte) error
	GetLeaf(ctx context.Context, index uint64) (leafHash, data []byte, err error)
	LeafHashes(ctx context.Context, from, to uint64) ([][]byte, error)
	GetTreeState(ctx context.Context) (*TreeState, error)
	SetTreeState(ctx context.Context, s *TreeState) error
}

// DisclosureFilter narrows ListDisclosures. Zero fields do not filter.
type DisclosureFilter struct {
	Hacker   types.Identity
	Protocol string
	Target   types.Identity
	Status   *types.Status
	Limit    int
	Offset   int
}

// TreeState is the persisted compact range of the event log.
type TreeState struct {
	Size   uint64
	Root   []byte
	Hashes [][]byte
}
