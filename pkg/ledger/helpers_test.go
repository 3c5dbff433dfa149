package ledger_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/storacha/go-ucanto/principal/ed25519/signer"
	"github.com/stretchr/testify/require"

	"github.com/relves/vulnlog/internal/storage/sqlite"
	"github.com/relves/vulnlog/pkg/address"
	"github.com/relves/vulnlog/pkg/commitment"
	"github.com/relves/vulnlog/pkg/eventlog"
	"github.com/relves/vulnlog/pkg/ledger"
	"github.com/relves/vulnlog/pkg/oracle"
	"github.com/relves/vulnlog/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc    *ledger.Service
	clock  *fakeClock
	oracle *oracle.Static
	events *eventlog.Log
	store  *sqlite.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	logSigner, err := eventlog.NewEd25519Signer(priv, "")
	require.NoError(t, err)

	h := &harness{
		clock:  &fakeClock{now: time.Unix(1_700_000_000, 0)},
		oracle: oracle.NewStatic(),
		events: eventlog.New(store, "vulnlog/test", logSigner, nil),
		store:  store,
	}
	h.svc, err = ledger.NewService(ledger.Config{
		Store:    store,
		Oracle:   h.oracle,
		Clock:    h.clock,
		EventLog: h.events,
	})
	require.NoError(t, err)
	return h
}

func newIdentity(t *testing.T) types.Identity {
	t.Helper()
	s, err := signer.Generate()
	require.NoError(t, err)
	return types.Identity(s.DID().String())
}

// deploy makes a fresh executable artifact administered by admin.
func (h *harness) deploy(t *testing.T, admin types.Identity) types.Identity {
	t.Helper()
	artifact := newIdentity(t)
	h.oracle.Set(types.Deployment{Artifact: artifact, Admin: admin, Executable: true})
	return artifact
}

// registered deploys an artifact and registers its protocol under a new
// authority.
func (h *harness) registered(t *testing.T) (*types.Protocol, types.Identity) {
	t.Helper()
	authority := newIdentity(t)
	artifact := h.deploy(t, authority)
	p, err := h.svc.Register(context.Background(), authority, ledger.RegisterParams{
		Artifact: artifact,
		Name:     "Example Protocol",
	})
	require.NoError(t, err)
	return p, authority
}

var samplePlaintext = []byte("reentrancy in withdraw(): call withdraw twice before balance update")

func (h *harness) submit(t *testing.T, hacker types.Identity, target types.Identity, sev types.Severity, nonce uint64) *types.Disclosure {
	t.Helper()
	d, err := h.svc.Submit(context.Background(), hacker, ledger.SubmitParams{
		Target:      target,
		ProofHash:   commitment.Commit(samplePlaintext),
		Severity:    sev,
		GracePeriod: ledger.MinGracePeriod,
		Nonce:       nonce,
	})
	require.NoError(t, err)
	return d
}

// resolved walks a disclosure against p's artifact to Resolved.
func (h *harness) resolved(t *testing.T, p *types.Protocol, authority, hacker types.Identity, sev types.Severity, nonce uint64) *types.Disclosure {
	t.Helper()
	ctx := context.Background()
	d := h.submit(t, hacker, p.Artifact, sev, nonce)
	_, err := h.svc.Claim(ctx, authority, d.Address, p.Address)
	require.NoError(t, err)
	_, err = h.svc.Acknowledge(ctx, authority, d.Address)
	require.NoError(t, err)
	d, err = h.svc.Resolve(ctx, authority, d.Address, types.Hash{1}, types.ResolutionOnchainBounty)
	require.NoError(t, err)
	require.Equal(t, address.Disclosure(hacker, p.Artifact, nonce), d.Address)
	return d
}
