package server

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/storacha/go-ucanto/core/invocation"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/result"
	"github.com/storacha/go-ucanto/principal/ed25519/signer"
	"github.com/storacha/go-ucanto/ucan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/vulnlog/internal/storage/sqlite"
	"github.com/relves/vulnlog/pkg/capabilities"
	"github.com/relves/vulnlog/pkg/commitment"
	"github.com/relves/vulnlog/pkg/eventlog"
	"github.com/relves/vulnlog/pkg/ledger"
	"github.com/relves/vulnlog/pkg/oracle"
	"github.com/relves/vulnlog/pkg/types"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	h      *handlers
	ledger *ledger.Service
	events *eventlog.Log
	vkey   string
	oracle *oracle.Static
	clock  *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	logSigner, err := eventlog.NewEd25519Signer(priv, "")
	require.NoError(t, err)
	vkey, err := logSigner.VerifierKey()
	require.NoError(t, err)

	env := &testEnv{
		oracle: oracle.NewStatic(),
		clock:  &testClock{now: time.Unix(1_700_000_000, 0)},
		events: eventlog.New(store, "vulnlog/test", logSigner, nil),
		vkey:   vkey,
	}
	env.ledger, err = ledger.NewService(ledger.Config{
		Store:    store,
		Oracle:   env.oracle,
		Clock:    env.clock,
		EventLog: env.events,
	})
	require.NoError(t, err)
	env.h = &handlers{ledger: env.ledger, logger: slog.Default()}
	return env
}

func newDID(t *testing.T) string {
	t.Helper()
	s, err := signer.Generate()
	require.NoError(t, err)
	return s.DID().String()
}

// invoke runs op through the ucanto handler adapter as caller.
func invoke[C any, O ipld.Builder](t *testing.T, h *handlers, ability string, op func(context.Context, types.Identity, C) (O, error), caller string, nb C) (O, capabilities.Failure) {
	t.Helper()
	res, effects, err := handle(h, ability, op)(context.Background(), ucan.NewCapability(ability, caller, nb), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, effects)
	return result.Unwrap(res)
}

// registered deploys an artifact and registers it through the handler.
func (e *testEnv) registered(t *testing.T) (capabilities.ProtocolSuccess, string) {
	t.Helper()
	authority := newDID(t)
	artifact := newDID(t)
	e.oracle.Set(types.Deployment{Artifact: types.Identity(artifact), Admin: types.Identity(authority), Executable: true})

	p, f := invoke(t, e.h, capabilities.AbilityProtocolRegister, e.h.register, authority, capabilities.RegisterCaveats{
		Artifact:      artifact,
		Name:          "Example",
		EncryptionKey: types.Key{1}.String(),
	})
	require.Empty(t, f.Name(), f.Error())
	return p, authority
}

func TestHandlers_Register(t *testing.T) {
	e := newTestEnv(t)
	p, authority := e.registered(t)
	assert.Equal(t, authority, p.Authority)
	assert.Equal(t, types.Key{1}.String(), p.EncryptionKey)
	assert.Empty(t, p.PendingAuthority)

	_, f := invoke(t, e.h, capabilities.AbilityProtocolRegister, e.h.register, authority, capabilities.RegisterCaveats{
		Artifact:      p.Artifact,
		Name:          "Again",
		EncryptionKey: types.Key{1}.String(),
	})
	assert.Equal(t, "ALREADY_EXISTS", f.Name())

	_, f = invoke(t, e.h, capabilities.AbilityProtocolRegister, e.h.register, authority, capabilities.RegisterCaveats{
		Artifact:      p.Artifact,
		Name:          "Bad key",
		EncryptionKey: "not base64!",
	})
	assert.Equal(t, FailureInvalidArgument, f.Name())
	assert.Contains(t, f.Error(), "encryption_key")
}

func TestHandlers_AuthorityTransfer(t *testing.T) {
	e := newTestEnv(t)
	p, authority := e.registered(t)
	candidate := newDID(t)

	_, f := invoke(t, e.h, capabilities.AbilityTransferPropose, e.h.proposeTransfer, candidate, capabilities.ProposeCaveats{
		Protocol:  p.Address,
		Candidate: candidate,
	})
	assert.Equal(t, "UNAUTHORIZED_PROTOCOL_ACTION", f.Name())

	proposed, f := invoke(t, e.h, capabilities.AbilityTransferPropose, e.h.proposeTransfer, authority, capabilities.ProposeCaveats{
		Protocol:  p.Address,
		Candidate: candidate,
	})
	require.Empty(t, f.Name())
	assert.Equal(t, candidate, proposed.PendingAuthority)

	accepted, f := invoke(t, e.h, capabilities.AbilityTransferAccept, e.h.acceptTransfer, candidate, capabilities.ProtocolCaveats{Protocol: p.Address})
	require.Empty(t, f.Name())
	assert.Equal(t, candidate, accepted.Authority)

	_, f = invoke(t, e.h, capabilities.AbilityTransferCancel, e.h.cancelTransfer, candidate, capabilities.ProtocolCaveats{Protocol: p.Address})
	assert.Equal(t, "NO_PENDING_TRANSFER", f.Name())

	rotated, f := invoke(t, e.h, capabilities.AbilityProtocolRotate, e.h.rotateKey, candidate, capabilities.RotateKeyCaveats{
		Protocol:      p.Address,
		EncryptionKey: types.Key{2}.String(),
	})
	require.Empty(t, f.Name())
	assert.Equal(t, types.Key{2}.String(), rotated.EncryptionKey)
}

func TestHandlers_Policy(t *testing.T) {
	e := newTestEnv(t)
	p, authority := e.registered(t)

	_, f := invoke(t, e.h, capabilities.AbilityPolicyUpdate, e.h.updatePolicy, authority, capabilities.PolicyCaveats{Protocol: p.Address, MinGracePeriod: 600})
	assert.Equal(t, "POLICY_NOT_FOUND", f.Name())

	created, f := invoke(t, e.h, capabilities.AbilityPolicyCreate, e.h.createPolicy, authority, capabilities.PolicyCaveats{Protocol: p.Address, MinGracePeriod: 600})
	require.Empty(t, f.Name())
	assert.Equal(t, int64(600), created.MinGracePeriod)

	// The minimum applies even when the submission does not link the protocol.
	grace := int64(60)
	_, f = invoke(t, e.h, capabilities.AbilityDisclosureSubmit, e.h.submit, newDID(t), capabilities.SubmitCaveats{
		Target:      p.Artifact,
		ProofHash:   commitment.Commit([]byte("x")).String(),
		Severity:    "low",
		GracePeriod: &grace,
	})
	assert.Equal(t, "GRACE_PERIOD_BELOW_PROTOCOL_MINIMUM", f.Name())
}

func TestHandlers_DisclosureLifecycle(t *testing.T) {
	e := newTestEnv(t)
	p, authority := e.registered(t)
	hacker := newDID(t)
	plaintext := []byte("integer overflow in fee calculation")

	grace := ledger.MinGracePeriod
	submitted, f := invoke(t, e.h, capabilities.AbilityDisclosureSubmit, e.h.submit, hacker, capabilities.SubmitCaveats{
		Target:      p.Artifact,
		ProofHash:   commitment.Commit(plaintext).String(),
		Severity:    "critical",
		GracePeriod: &grace,
		Nonce:       -1,
		Protocol:    &p.Address,
	})
	require.Empty(t, f.Name(), f.Error())
	assert.Equal(t, "submitted", submitted.Status)
	assert.Equal(t, p.Address, submitted.Protocol)
	assert.Equal(t, submitted.SubmittedAt+grace, submitted.RevealDeadline)

	d, err := e.ledger.GetDisclosure(context.Background(), submitted.Address)
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), d.Nonce)

	_, f = invoke(t, e.h, capabilities.AbilityDisclosureClaim, e.h.claim, authority, capabilities.ClaimCaveats{
		Disclosure: submitted.Address,
		Protocol:   p.Address,
	})
	assert.Equal(t, "ALREADY_CLAIMED", f.Name())

	acked, f := invoke(t, e.h, capabilities.AbilityDisclosureAcknowledge, e.h.acknowledge, authority, capabilities.DisclosureCaveats{Disclosure: submitted.Address})
	require.Empty(t, f.Name())
	assert.Equal(t, "acknowledged", acked.Status)

	_, f = invoke(t, e.h, capabilities.AbilityDisclosureResolve, e.h.resolve, authority, capabilities.ResolveCaveats{
		Disclosure: submitted.Address,
		Resolution: "none",
	})
	assert.Equal(t, "INVALID_RESOLUTION_TYPE", f.Name())

	ref := types.Hash{9}.String()
	resolved, f := invoke(t, e.h, capabilities.AbilityDisclosureResolve, e.h.resolve, authority, capabilities.ResolveCaveats{
		Disclosure: submitted.Address,
		PaymentRef: &ref,
		Resolution: "offchain-attestation",
	})
	require.Empty(t, f.Name())
	assert.Equal(t, "resolved", resolved.Status)
	assert.Equal(t, "offchain-attestation", resolved.Resolution)

	reveal := capabilities.RevealCaveats{
		Disclosure: submitted.Address,
		Plaintext:  base64.StdEncoding.EncodeToString(plaintext),
	}
	_, f = invoke(t, e.h, capabilities.AbilityDisclosureReveal, e.h.reveal, hacker, reveal)
	assert.Equal(t, "GRACE_PERIOD_NOT_ELAPSED", f.Name())

	e.clock.Advance(time.Duration(grace) * time.Second)
	_, f = invoke(t, e.h, capabilities.AbilityDisclosureReveal, e.h.reveal, authority, reveal)
	assert.Equal(t, "UNAUTHORIZED_HACKER_ACTION", f.Name())

	revealed, f := invoke(t, e.h, capabilities.AbilityDisclosureReveal, e.h.reveal, hacker, reveal)
	require.Empty(t, f.Name())
	assert.Equal(t, "revealed", revealed.Status)
}

func TestHandlers_SubmitArguments(t *testing.T) {
	e := newTestEnv(t)
	p, _ := e.registered(t)
	hacker := newDID(t)
	valid := commitment.Commit([]byte("x")).String()
	bad := "%%%"

	cases := []struct {
		name string
		nb   capabilities.SubmitCaveats
		want string
	}{
		{"bad proof hash", capabilities.SubmitCaveats{Target: p.Artifact, ProofHash: "abc", Severity: "low"}, FailureInvalidArgument},
		{"unknown severity", capabilities.SubmitCaveats{Target: p.Artifact, ProofHash: valid, Severity: "urgent"}, "INVALID_SEVERITY"},
		{"bad payload", capabilities.SubmitCaveats{Target: p.Artifact, ProofHash: valid, Severity: "low", EncryptedPayload: &bad}, FailureInvalidArgument},
		{"bad sender key", capabilities.SubmitCaveats{Target: p.Artifact, ProofHash: valid, Severity: "low", SenderKey: &bad}, FailureInvalidArgument},
		{"unknown target", capabilities.SubmitCaveats{Target: newDID(t), ProofHash: valid, Severity: "low"}, "INVALID_TARGET_ARTIFACT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, f := invoke(t, e.h, capabilities.AbilityDisclosureSubmit, e.h.submit, hacker, tc.nb)
			assert.Equal(t, tc.want, f.Name())
		})
	}

	// Without an explicit grace period the default week applies.
	d, f := invoke(t, e.h, capabilities.AbilityDisclosureSubmit, e.h.submit, hacker, capabilities.SubmitCaveats{
		Target:    p.Artifact,
		ProofHash: valid,
		Severity:  "medium",
	})
	require.Empty(t, f.Name())
	assert.Equal(t, d.SubmittedAt+ledger.DefaultGracePeriod, d.RevealDeadline)
}

func TestHandlers_Vault(t *testing.T) {
	e := newTestEnv(t)
	p, authority := e.registered(t)
	hacker := newDID(t)

	deposit := "1000"
	v, f := invoke(t, e.h, capabilities.AbilityVaultCreate, e.h.createVault, authority, capabilities.VaultCreateCaveats{
		Protocol:     p.Address,
		RateLow:      "10",
		RateMedium:   "50",
		RateHigh:     "200",
		RateCritical: "800",
		Deposit:      &deposit,
	})
	require.Empty(t, f.Name(), f.Error())
	assert.Equal(t, "1000", v.TotalDeposited)
	assert.Equal(t, "0", v.TotalPaid)
	assert.True(t, v.Active)

	_, f = invoke(t, e.h, capabilities.AbilityVaultFund, e.h.fundVault, hacker, capabilities.VaultAmountCaveats{Vault: v.Address, Amount: "-5"})
	assert.Equal(t, FailureInvalidArgument, f.Name())

	funded, f := invoke(t, e.h, capabilities.AbilityVaultFund, e.h.fundVault, hacker, capabilities.VaultAmountCaveats{Vault: v.Address, Amount: "500"})
	require.Empty(t, f.Name())
	assert.Equal(t, "1500", funded.TotalDeposited)

	grace := ledger.MinGracePeriod
	submitted, f := invoke(t, e.h, capabilities.AbilityDisclosureSubmit, e.h.submit, hacker, capabilities.SubmitCaveats{
		Target:      p.Artifact,
		ProofHash:   commitment.Commit([]byte("x")).String(),
		Severity:    "high",
		GracePeriod: &grace,
		Protocol:    &p.Address,
	})
	require.Empty(t, f.Name())
	_, f = invoke(t, e.h, capabilities.AbilityDisclosureAcknowledge, e.h.acknowledge, authority, capabilities.DisclosureCaveats{Disclosure: submitted.Address})
	require.Empty(t, f.Name())

	claim := capabilities.VaultClaimCaveats{Disclosure: submitted.Address, Vault: v.Address}
	_, f = invoke(t, e.h, capabilities.AbilityVaultClaim, e.h.claimBounty, hacker, claim)
	assert.Equal(t, "DISCLOSURE_NOT_RESOLVED", f.Name())

	_, f = invoke(t, e.h, capabilities.AbilityDisclosureResolve, e.h.resolve, authority, capabilities.ResolveCaveats{
		Disclosure: submitted.Address,
		Resolution: "onchain-bounty",
	})
	require.Empty(t, f.Name())

	receipt, f := invoke(t, e.h, capabilities.AbilityVaultClaim, e.h.claimBounty, hacker, claim)
	require.Empty(t, f.Name(), f.Error())
	assert.Equal(t, "200", receipt.Amount)

	_, f = invoke(t, e.h, capabilities.AbilityVaultClaim, e.h.claimBounty, hacker, claim)
	assert.Equal(t, "BOUNTY_ALREADY_CLAIMED", f.Name())

	_, f = invoke(t, e.h, capabilities.AbilityVaultWithdraw, e.h.withdraw, authority, capabilities.VaultAmountCaveats{Vault: v.Address, Amount: "100"})
	assert.Equal(t, "VAULT_STILL_ACTIVE", f.Name())

	deactivated, f := invoke(t, e.h, capabilities.AbilityVaultDeactivate, e.h.deactivateVault, authority, capabilities.VaultCaveats{Vault: v.Address})
	require.Empty(t, f.Name())
	assert.False(t, deactivated.Active)

	withdrawn, f := invoke(t, e.h, capabilities.AbilityVaultWithdraw, e.h.withdraw, authority, capabilities.VaultAmountCaveats{Vault: v.Address, Amount: "1300"})
	require.Empty(t, f.Name())
	assert.Equal(t, "200", withdrawn.TotalDeposited)
	assert.Equal(t, "200", withdrawn.TotalPaid)
}

type rejectAll struct{ err error }

func (r rejectAll) ValidateRequest(context.Context, invocation.Invocation) error { return r.err }

func TestHandlers_Validator(t *testing.T) {
	e := newTestEnv(t)
	caller := newDID(t)
	nb := capabilities.ProtocolCaveats{Protocol: "bafkmissing"}

	e.h.validator = rejectAll{NewValidationError("ACCOUNT_SUSPENDED", "account suspended")}
	_, f := invoke(t, e.h, capabilities.AbilityTransferAccept, e.h.acceptTransfer, caller, nb)
	assert.Equal(t, "ACCOUNT_SUSPENDED", f.Name())
	assert.Equal(t, "account suspended", f.Error())

	e.h.validator = rejectAll{errors.New("rate limited")}
	_, f = invoke(t, e.h, capabilities.AbilityTransferAccept, e.h.acceptTransfer, caller, nb)
	assert.Equal(t, FailureValidation, f.Name())

	e.h.validator = rejectAll{}
	_, f = invoke(t, e.h, capabilities.AbilityTransferAccept, e.h.acceptTransfer, caller, nb)
	assert.Equal(t, "PROTOCOL_NOT_FOUND", f.Name())
}

func TestHandlers_InternalErrorsAreHidden(t *testing.T) {
	e := newTestEnv(t)
	f := e.h.failure("vault/claim", errors.New("disk on fire"))
	assert.Equal(t, FailureInternal, f.Name())
	assert.NotContains(t, f.Error(), "disk")
}
