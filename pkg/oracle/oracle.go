// Package oracle answers questions about deployed artifacts: whether an
// artifact exists and is executable, and who controls its upgrades.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/relves/vulnlog/internal/storage"
	"github.com/relves/vulnlog/pkg/types"
)

// ErrUnknownArtifact is returned for artifacts the oracle has no record of.
var ErrUnknownArtifact = errors.New("unknown artifact")

// Oracle is the deployment/ownership oracle consulted by the ledger.
type Oracle interface {
	// Deployment returns what is known about artifact, or ErrUnknownArtifact.
	Deployment(ctx context.Context, artifact types.Identity) (*types.Deployment, error)
	// VerifyOwner reports whether identity is the administrative controller
	// of artifact.
	VerifyOwner(ctx context.Context, artifact, identity types.Identity) (bool, error)
}

// Executable reports whether artifact is deployed and executable. Unknown
// artifacts are not executable.
func Executable(ctx context.Context, o Oracle, artifact types.Identity) (bool, error) {
	d, err := o.Deployment(ctx, artifact)
	if errors.Is(err, ErrUnknownArtifact) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return d.Executable, nil
}

func verifyOwner(d *types.Deployment, identity types.Identity) bool {
	return !d.Admin.IsZero() && d.Admin == identity
}

// Static is an in-memory oracle.
type Static struct {
	mu          sync.RWMutex
	deployments map[types.Identity]types.Deployment
}

// NewStatic creates a Static oracle seeded with deployments.
func NewStatic(deployments ...types.Deployment) *Static {
	s := &Static{deployments: make(map[types.Identity]types.Deployment)}
	for _, d := range deployments {
		s.deployments[d.Artifact] = d
	}
	return s
}

// Set records or replaces a deployment.
func (s *Static) Set(d types.Deployment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployments[d.Artifact] = d
}

// Remove forgets an artifact.
func (s *Static) Remove(artifact types.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deployments, artifact)
}

func (s *Static) Deployment(_ context.Context, artifact types.Identity) (*types.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deployments[artifact]
	if !ok {
		return nil, ErrUnknownArtifact
	}
	return &d, nil
}

func (s *Static) VerifyOwner(ctx context.Context, artifact, identity types.Identity) (bool, error) {
	d, err := s.Deployment(ctx, artifact)
	if errors.Is(err, ErrUnknownArtifact) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return verifyOwner(d, identity), nil
}

// StoreOracle reads deployments from the record store.
type StoreOracle struct {
	store storage.Store
	now   func() time.Time
}

// NewStoreOracle creates an oracle backed by the deployments table.
func NewStoreOracle(store storage.Store) *StoreOracle {
	return &StoreOracle{store: store, now: time.Now}
}

func (o *StoreOracle) Deployment(ctx context.Context, artifact types.Identity) (*types.Deployment, error) {
	var d *types.Deployment
	err := o.store.View(ctx, func(tx storage.Tx) error {
		var err error
		d, err = tx.GetDeployment(ctx, artifact)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnknownArtifact
	}
	if err != nil {
		return nil, fmt.Errorf("lookup deployment %s: %w", artifact, err)
	}
	return d, nil
}

func (o *StoreOracle) VerifyOwner(ctx context.Context, artifact, identity types.Identity) (bool, error) {
	d, err := o.Deployment(ctx, artifact)
	if errors.Is(err, ErrUnknownArtifact) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return verifyOwner(d, identity), nil
}

// Put records or replaces deployments in one transaction.
func (o *StoreOracle) Put(ctx context.Context, deployments ...types.Deployment) error {
	now := o.now().Unix()
	return o.store.Update(ctx, func(tx storage.Tx) error {
		for i := range deployments {
			d := deployments[i]
			if d.Artifact.IsZero() {
				return errors.New("deployment without artifact")
			}
			if d.UpdatedAt == 0 {
				d.UpdatedAt = now
			}
			if err := tx.PutDeployment(ctx, &d); err != nil {
				return fmt.Errorf("put deployment %s: %w", d.Artifact, err)
			}
		}
		return nil
	})
}

// LoadManifest reads a JSON array of deployments from path and stores them.
// It returns the number of deployments loaded.
func (o *StoreOracle) LoadManifest(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read manifest: %w", err)
	}
	var deployments []types.Deployment
	if err := json.Unmarshal(data, &deployments); err != nil {
		return 0, fmt.Errorf("parse manifest: %w", err)
	}
	if err := o.Put(ctx, deployments...); err != nil {
		return 0, err
	}
	return len(deployments), nil
}

// Cached wraps an Oracle with an expiring LRU of deployment lookups.
// Unknown artifacts are not cached.
type Cached struct {
	next  Oracle
	cache *expirable.LRU[types.Identity, types.Deployment]
}

// NewCached creates a Cached oracle holding up to size entries for ttl.
func NewCached(next Oracle, size int, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: expirable.NewLRU[types.Identity, types.Deployment](size, nil, ttl),
	}
}

func (c *Cached) Deployment(ctx context.Context, artifact types.Identity) (*types.Deployment, error) {
	if d, ok := c.cache.Get(artifact); ok {
		return &d, nil
	}
	d, err := c.next.Deployment(ctx, artifact)
	if err != nil {
		return nil, err
	}
	c.cache.Add(artifact, *d)
	return d, nil
}

func (c *Cached) VerifyOwner(ctx context.Context, artifact, identity types.Identity) (bool, error) {
	d, err := c.Deployment(ctx, artifact)
	if errors.Is(err, ErrUnknownArtifact) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return verifyOwner(d, identity), nil
}

// Invalidate drops a cached artifact.
func (c *Cached) Invalidate(artifact types.Identity) {
	c.cache.Remove(artifact)
}
