package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"
	"github.com/storacha/go-ucanto/core/invocation"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/receipt/fx"
	"github.com/storacha/go-ucanto/core/result"
	"github.com/storacha/go-ucanto/server"
	"github.com/storacha/go-ucanto/ucan"

	"github.com/relves/vulnlog/pkg/capabilities"
	"github.com/relves/vulnlog/pkg/ledger"
	"github.com/relves/vulnlog/pkg/types"
)

// Failure names that do not come from the ledger.
const (
	FailureInvalidArgument = "INVALID_ARGUMENT"
	FailureValidation      = "VALIDATION_ERROR"
	FailureInternal        = "InternalError"
)

type handlers struct {
	ledger    *ledger.Service
	validator RequestValidator
	logger    *slog.Logger
}

// handle adapts op, a ledger call on behalf of the invoking identity, to a
// ucanto handler. The capability resource is the caller; every error becomes
// a failure result.
func handle[C any, O ipld.Builder](h *handlers, ability string, op func(context.Context, types.Identity, C) (O, error)) server.HandlerFunc[C, O, capabilities.Failure] {
	return func(
		ctx context.Context,
		cap ucan.Capability[C],
		inv invocation.Invocation,
		ictx server.InvocationContext,
	) (result.Result[O, capabilities.Failure], fx.Effects, error) {
		// Validate request if validator is configured
		if h.validator != nil {
			if err := h.validator.ValidateRequest(ctx, inv); err != nil {
				var vErr *ValidationError
				if errors.As(err, &vErr) {
					return result.Error[O](capabilities.NewFailure(vErr.Code, vErr.Message)), nil, nil
				}
				return result.Error[O](capabilities.NewFailure(FailureValidation, err.Error())), nil, nil
			}
		}

		out, err := op(ctx, types.Identity(cap.With()), cap.Nb())
		if err != nil {
			return result.Error[O](h.failure(ability, err)), nil, nil
		}
		return result.Ok[O, capabilities.Failure](out), nil, nil
	}
}

// failure maps err to a failure result. Ledger errors keep their code;
// anything unexpected is logged and hidden from the client.
func (h *handlers) failure(ability string, err error) capabilities.Failure {
	var lErr *ledger.Error
	if errors.As(err, &lErr) {
		return capabilities.NewFailure(lErr.Code, lErr.Message)
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return capabilities.NewFailure(vErr.Code, vErr.Message)
	}
	h.logger.Error("invocation failed", "ability", ability, "error", err)
	return capabilities.NewFailure(FailureInternal, "internal error")
}

func invalidArgument(field string, err error) error {
	return NewValidationError(FailureInvalidArgument, fmt.Sprintf("invalid %s: %v", field, err))
}

func decodeBase64(field, s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, invalidArgument(field, err)
	}
	return b, nil
}

func parseKey(field, s string) (types.Key, error) {
	k, err := types.ParseKey(s)
	if err != nil {
		return k, invalidArgument(field, err)
	}
	return k, nil
}

// parseAmount parses a decimal amount. The empty string is zero.
func parseAmount(field, s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, invalidArgument(field, err)
	}
	return v, nil
}

func protocolSuccess(p *types.Protocol) capabilities.ProtocolSuccess {
	return capabilities.ProtocolSuccess{
		Address:          p.Address,
		Authority:        p.Authority.String(),
		Artifact:         p.Artifact.String(),
		Name:             p.Name,
		EncryptionKey:    p.EncryptionKey.String(),
		RegisteredAt:     p.RegisteredAt,
		PendingAuthority: p.PendingAuthority.String(),
	}
}

func policySuccess(p *types.ProtocolPolicy) capabilities.PolicySuccess {
	return capabilities.PolicySuccess{
		Address:        p.Address,
		Protocol:       p.Protocol,
		MinGracePeriod: p.MinGracePeriod,
	}
}

func disclosureSuccess(d *types.Disclosure) capabilities.DisclosureSuccess {
	return capabilities.DisclosureSuccess{
		Address:        d.Address,
		Status:         d.Status.String(),
		Protocol:       d.Protocol,
		Severity:       d.Severity.String(),
		Resolution:     d.Resolution.String(),
		SubmittedAt:    d.SubmittedAt,
		RevealDeadline: d.RevealDeadline(),
	}
}

func vaultSuccess(v *types.BountyVault) capabilities.VaultSuccess {
	return capabilities.VaultSuccess{
		Address:        v.Address,
		Protocol:       v.Protocol,
		TotalDeposited: v.TotalDeposited.Dec(),
		TotalPaid:      v.TotalPaid.Dec(),
		Active:         v.Active,
	}
}

func (h *handlers) register(ctx context.Context, caller types.Identity, nb capabilities.RegisterCaveats) (capabilities.ProtocolSuccess, error) {
	key, err := parseKey("encryption_key", nb.EncryptionKey)
	if err != nil {
		return capabilities.ProtocolSuccess{}, err
	}
	p, err := h.ledger.Register(ctx, caller, ledger.RegisterParams{
		Artifact:      types.Identity(nb.Artifact),
		Name:          nb.Name,
		EncryptionKey: key,
	})
	if err != nil {
		return capabilities.ProtocolSuccess{}, err
	}
	return protocolSuccess(p), nil
}

func (h *handlers) rotateKey(ctx context.Context, caller types.Identity, nb capabilities.RotateKeyCaveats) (capabilities.ProtocolSuccess, error) {
	key, err := parseKey("encryption_key", nb.EncryptionKey)
	if err != nil {
		return capabilities.ProtocolSuccess{}, err
	}
	p, err := h.ledger.RotateEncryptionKey(ctx, caller, nb.Protocol, key)
	if err != nil {
		return capabilities.ProtocolSuccess{}, err
	}
	return protocolSuccess(p), nil
}

func (h *handlers) proposeTransfer(ctx context.Context, caller types.Identity, nb capabilities.ProposeCaveats) (capabilities.ProtocolSuccess, error) {
	p, err := h.ledger.ProposeTransfer(ctx, caller, nb.Protocol, types.Identity(nb.Candidate))
	if err != nil {
		return capabilities.ProtocolSuccess{}, err
	}
	return protocolSuccess(p), nil
}

func (h *handlers) acceptTransfer(ctx context.Context, caller types.Identity, nb capabilities.ProtocolCaveats) (capabilities.ProtocolSuccess, error) {
	p, err := h.ledger.AcceptTransfer(ctx, caller, nb.Protocol)
	if err != nil {
		return capabilities.ProtocolSuccess{}, err
	}
	return protocolSuccess(p), nil
}

func (h *handlers) cancelTransfer(ctx context.Context, caller types.Identity, nb capabilities.ProtocolCaveats) (capabilities.ProtocolSuccess, error) {
	p, err := h.ledger.CancelTransfer(ctx, caller, nb.Protocol)
	if err != nil {
		return capabilities.ProtocolSuccess{}, err
	}
	return protocolSuccess(p), nil
}

func (h *handlers) createPolicy(ctx context.Context, caller types.Identity, nb capabilities.PolicyCaveats) (capabilities.PolicySuccess, error) {
	p, err := h.ledger.CreatePolicy(ctx, caller, nb.Protocol, nb.MinGracePeriod)
	if err != nil {
		return capabilities.PolicySuccess{}, err
	}
	return policySuccess(p), nil
}

func (h *handlers) updatePolicy(ctx context.Context, caller types.Identity, nb capabilities.PolicyCaveats) (capabilities.PolicySuccess, error) {
	p, err := h.ledger.SetMinGracePeriod(ctx, caller, nb.Protocol, nb.MinGracePeriod)
	if err != nil {
		return capabilities.PolicySuccess{}, err
	}
	return policySuccess(p), nil
}

func (h *handlers) submit(ctx context.Context, caller types.Identity, nb capabilities.SubmitCaveats) (capabilities.DisclosureSuccess, error) {
	proofHash, err := types.ParseHash(nb.ProofHash)
	if err != nil {
		return capabilities.DisclosureSuccess{}, invalidArgument("proof_hash", err)
	}
	severity, err := types.ParseSeverity(nb.Severity)
	if err != nil {
		return capabilities.DisclosureSuccess{}, ledger.ErrInvalidSeverity.Withf("%v", err)
	}

	params := ledger.SubmitParams{
		Target:      types.Identity(nb.Target),
		ProofHash:   proofHash,
		Severity:    severity,
		GracePeriod: ledger.DefaultGracePeriod,
		Nonce:       uint64(nb.Nonce),
	}
	if nb.GracePeriod != nil {
		params.GracePeriod = *nb.GracePeriod
	}
	if nb.EncryptedPayload != nil {
		if params.EncryptedPayload, err = decodeBase64("encrypted_payload", *nb.EncryptedPayload); err != nil {
			return capabilities.DisclosureSuccess{}, err
		}
	}
	if nb.SenderKey != nil {
		if params.SenderKey, err = parseKey("sender_key", *nb.SenderKey); err != nil {
			return capabilities.DisclosureSuccess{}, err
		}
	}
	if nb.Protocol != nil {
		params.ClaimedProtocol = *nb.Protocol
	}

	d, err := h.ledger.Submit(ctx, caller, params)
	if err != nil {
		return capabilities.DisclosureSuccess{}, err
	}
	return disclosureSuccess(d), nil
}

func (h *handlers) claim(ctx context.Context, caller types.Identity, nb capabilities.ClaimCaveats) (capabilities.DisclosureSuccess, error) {
	d, err := h.ledger.Claim(ctx, caller, nb.Disclosure, nb.Protocol)
	if err != nil {
		return capabilities.DisclosureSuccess{}, err
	}
	return disclosureSuccess(d), nil
}

func (h *handlers) acknowledge(ctx context.Context, caller types.Identity, nb capabilities.DisclosureCaveats) (capabilities.DisclosureSuccess, error) {
	d, err := h.ledger.Acknowledge(ctx, caller, nb.Disclosure)
	if err != nil {
		return capabilities.DisclosureSuccess{}, err
	}
	return disclosureSuccess(d), nil
}

func (h *handlers) resolve(ctx context.Context, caller types.Identity, nb capabilities.ResolveCaveats) (capabilities.DisclosureSuccess, error) {
	resolution, err := types.ParseResolutionType(nb.Resolution)
	if err != nil {
		return capabilities.DisclosureSuccess{}, ledger.ErrInvalidResolutionType.Withf("%v", err)
	}
	var paymentRef types.Hash
	if nb.PaymentRef != nil {
		if paymentRef, err = types.ParseHash(*nb.PaymentRef); err != nil {
			return capabilities.DisclosureSuccess{}, invalidArgument("payment_ref", err)
		}
	}
	d, err := h.ledger.Resolve(ctx, caller, nb.Disclosure, paymentRef, resolution)
	if err != nil {
		return capabilities.DisclosureSuccess{}, err
	}
	return disclosureSuccess(d), nil
}

func (h *handlers) reveal(ctx context.Context, caller types.Identity, nb capabilities.RevealCaveats) (capabilities.DisclosureSuccess, error) {
	plaintext, err := decodeBase64("plaintext", nb.Plaintext)
	if err != nil {
		return capabilities.DisclosureSuccess{}, err
	}
	d, err := h.ledger.Reveal(ctx, caller, nb.Disclosure, plaintext)
	if err != nil {
		return capabilities.DisclosureSuccess{}, err
	}
	return disclosureSuccess(d), nil
}

func (h *handlers) createVault(ctx context.Context, caller types.Identity, nb capabilities.VaultCreateCaveats) (capabilities.VaultSuccess, error) {
	var (
		rates types.Rates
		err   error
	)
	if rates.Low, err = parseAmount("rate_low", nb.RateLow); err != nil {
		return capabilities.VaultSuccess{}, err
	}
	if rates.Medium, err = parseAmount("rate_medium", nb.RateMedium); err != nil {
		return capabilities.VaultSuccess{}, err
	}
	if rates.High, err = parseAmount("rate_high", nb.RateHigh); err != nil {
		return capabilities.VaultSuccess{}, err
	}
	if rates.Critical, err = parseAmount("rate_critical", nb.RateCritical); err != nil {
		return capabilities.VaultSuccess{}, err
	}
	deposit := new(uint256.Int)
	if nb.Deposit != nil {
		if deposit, err = parseAmount("deposit", *nb.Deposit); err != nil {
			return capabilities.VaultSuccess{}, err
		}
	}

	v, err := h.ledger.CreateVault(ctx, caller, nb.Protocol, rates, deposit)
	if err != nil {
		return capabilities.VaultSuccess{}, err
	}
	return vaultSuccess(v), nil
}

func (h *handlers) fundVault(ctx context.Context, caller types.Identity, nb capabilities.VaultAmountCaveats) (capabilities.VaultSuccess, error) {
	amount, err := parseAmount("amount", nb.Amount)
	if err != nil {
		return capabilities.VaultSuccess{}, err
	}
	v, err := h.ledger.Fund(ctx, caller, nb.Vault, amount)
	if err != nil {
		return capabilities.VaultSuccess{}, err
	}
	return vaultSuccess(v), nil
}

func (h *handlers) deactivateVault(ctx context.Context, caller types.Identity, nb capabilities.VaultCaveats) (capabilities.VaultSuccess, error) {
	v, err := h.ledger.Deactivate(ctx, caller, nb.Vault)
	if err != nil {
		return capabilities.VaultSuccess{}, err
	}
	return vaultSuccess(v), nil
}

func (h *handlers) withdraw(ctx context.Context, caller types.Identity, nb capabilities.VaultAmountCaveats) (capabilities.VaultSuccess, error) {
	amount, err := parseAmount("amount", nb.Amount)
	if err != nil {
		return capabilities.VaultSuccess{}, err
	}
	v, err := h.ledger.Withdraw(ctx, caller, nb.Vault, amount)
	if err != nil {
		return capabilities.VaultSuccess{}, err
	}
	return vaultSuccess(v), nil
}

func (h *handlers) claimBounty(ctx context.Context, caller types.Identity, nb capabilities.VaultClaimCaveats) (capabilities.ReceiptSuccess, error) {
	r, err := h.ledger.ClaimBounty(ctx, caller, nb.Disclosure, nb.Vault)
	if err != nil {
		return capabilities.ReceiptSuccess{}, err
	}
	return capabilities.ReceiptSuccess{
		Address:    r.Address,
		Disclosure: r.Disclosure,
		Vault:      r.Vault,
		Amount:     r.Amount.Dec(),
		ClaimedAt:  r.ClaimedAt,
	}, nil
}
