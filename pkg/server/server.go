package server

import (
	"errors"

	"github.com/storacha/go-ucanto/principal"
	ucantoServer "github.com/storacha/go-ucanto/server"

	"github.com/relves/vulnlog/pkg/capabilities"
)

// NewServer creates a new vulnlog UCAN server with optional validation.
//
// Parameters:
//   - opts: Configuration options (WithSigner, WithLedger, WithValidator, WithLogger)
//
// Every ability is served with full UCAN authorization: the invocation must
// be issued by the DID in the capability's resource or carry a delegation
// chain from it. That DID is the caller the ledger sees.
func NewServer(opts ...Option) (ucantoServer.ServerView[ucantoServer.Service], error) {
	cfg := applyOptions(opts...)

	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("ledger is required")
	}

	h := &handlers{ledger: cfg.Ledger, validator: cfg.Validator, logger: cfg.Logger}
	return newServerDirect(cfg.Signer, h)
}

func newServerDirect(signer principal.Signer, h *handlers) (ucantoServer.ServerView[ucantoServer.Service], error) {
	return ucantoServer.NewServer(
		signer,
		// Protocol registry
		ucantoServer.WithServiceMethod(
			capabilities.ProtocolRegister.Can(),
			ucantoServer.Provide(capabilities.ProtocolRegister, handle(h, capabilities.AbilityProtocolRegister, h.register)),
		),
		ucantoServer.WithServiceMethod(
			capabilities.ProtocolRotateKey.Can(),
			ucantoServer.Provide(capabilities.ProtocolRotateKey, handle(h, capabilities.AbilityProtocolRotate, h.rotateKey)),
		),
		ucantoServer.WithServiceMethod(
			capabilities.TransferPropose.Can(),
			ucantoServer.Provide(capabilities.TransferPropose, handle(h, capabilities.AbilityTransferPropose, h.proposeTransfer)),
		),
		ucantoServer.WithServiceMethod(
			capabilities.TransferAccept.Can(),
			ucantoServer.Provide(capabilities.TransferAccept, handle(h, capabilities.AbilityTransferAccept, h.acceptTransfer)),
		),
		ucantoServer.WithServiceMethod(
			capabilities.TransferCancel.Can(),
			ucantoServer.Provide(capabilities.TransferCancel, handle(h, capabilities.AbilityTransferCancel, h.cancelTransfer)),
		),
		// Policy
		ucantoServer.WithServiceMethod(
			capabilities.PolicyCreate.Can(),
			ucantoServer.Provide(capabilities.PolicyCreate, handle(h, capabilities.AbilityPolicyCreate, h.createPolicy)),
		),
		ucantoServer.WithServiceMethod(
			capabilities.PolicyUpdate.Can(),
			ucantoServer.Provide(capabilities.PolicyUpdate, handle(h, capabilities.AbilityPolicyUpdate, h.updatePolicy)),
		),
		// Disclosure lifecycle
		ucantoServer.WithServiceMethod(
			capabilities.DisclosureSubmit.Can(),
			ucantoServer.Provide(capabilities.DisclosureSubmit, handle(h, capabilities.AbilityDisclosureSubmit, h.submit)),
		),
		ucantoServer.WithServiceMethod(
			capabilities.DisclosureClaim.Can(),
			ucantoServer.Provide(capabilities.DisclosureClaim, handle(h, capabilities.AbilityDisclosureClaim, h.claim)),
		),
		ucantoServer.WithServiceMethod(
			capabilities.DisclosureAcknowledge.Can(),
			ucantoServer.Provide(capabilities.DisclosureAcknowledge, handle(h, capabilities.AbilityDisclosureAcknowledge, h.acknowledge)),
		),
		ucantoServer.WithServiceMethod(
			capabilities.DisclosureResolve.Can(),
			ucantoServer.Provide(capabilities.DisclosureResolve, handle(h, capabilities.AbilityDisclosureResolve, h.resolve)),
		),
		ucantoServer.WithServiceMethod(
			capabilities.DisclosureReveal.Can(),
			ucantoServer.Provide(capabilities.DisclosureReveal, handle(h, capabilities.AbilityDisclosureReveal, h.reveal)),
		),
		// Bounty vaults
		ucantoServer.WithServiceMethod(
			capabilities.VaultCreate.Can(),
			ucantoServer.Provide(capabilities.VaultCreate, handle(h, capabilities.AbilityVaultCreate, h.createVault)),
		),
		ucantoServer.WithServiceMethod(
			capabilities.VaultFund.Can(),
			ucantoServer.Provide(capabilities.VaultFund, handle(h, capabilities.AbilityVaultFund, h.fundVault)),
		),
		ucantoServer.WithServiceMethod(
			capabilities.VaultDeactivate.Can(),
			ucantoServer.Provide(capabilities.VaultDeactivate, handle(h, capabilities.AbilityVaultDeactivate, h.deactivateVault)),
		),
		ucantoServer.WithServiceMethod(
			capabilities.VaultWithdraw.Can(),
			ucantoServer.Provide(capabilities.VaultWithdraw, handle(h, capabilities.AbilityVaultWithdraw, h.withdraw)),
		),
		ucantoServer.WithServiceMethod(
			capabilities.VaultClaim.Can(),
			ucantoServer.Provide(capabilities.VaultClaim, handle(h, capabilities.AbilityVaultClaim, h.claimBounty)),
		),
	)
}
