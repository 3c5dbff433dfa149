// Package capabilities defines the public definitions for vulnlog UCAN capabilities.
package capabilities

import (
	"fmt"

	ipldprime "github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	ipldschema "github.com/ipld/go-ipld-prime/schema"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/schema"
	"github.com/storacha/go-ucanto/validator"
)

// Field order must match the Go structs in types.go.
const caveatsSchema = `
	type RegisterCaveats struct {
		artifact String
		name String
		encryption_key String
	}

	type RotateKeyCaveats struct {
		protocol String
		encryption_key String
	}

	type ProposeCaveats struct {
		protocol String
		candidate String
	}

	type ProtocolCaveats struct {
		protocol String
	}

	type PolicyCaveats struct {
		protocol String
		min_grace_period Int
	}

	type SubmitCaveats struct {
		target String
		proof_hash String
		encrypted_payload optional String
		sender_key optional String
		severity String
		grace_period optional Int
		nonce Int
		protocol optional String
	}

	type ClaimCaveats struct {
		disclosure String
		protocol String
	}

	type DisclosureCaveats struct {
		disclosure String
	}

	type ResolveCaveats struct {
		disclosure String
		payment_ref optional String
		resolution String
	}

	type RevealCaveats struct {
		disclosure String
		plaintext String
	}

	type VaultCreateCaveats struct {
		protocol String
		rate_low String
		rate_medium String
		rate_high String
		rate_critical String
		deposit optional String
	}

	type VaultAmountCaveats struct {
		vault String
		amount String
	}

	type VaultCaveats struct {
		vault String
	}

	type VaultClaimCaveats struct {
		disclosure String
		vault String
	}
`

var caveatsTypes = func() *ipldschema.TypeSystem {
	ts, err := ipldprime.LoadSchemaBytes([]byte(caveatsSchema))
	if err != nil {
		panic(err)
	}
	return ts
}()

func caveatsType(name string) ipldschema.Type {
	typ := caveatsTypes.TypeByName(name)
	if typ == nil {
		panic(fmt.Sprintf("unknown caveats type %q", name))
	}
	return typ
}

type field struct {
	key   string
	value any
}

// buildMap assembles a map node. Values must be string, int64 or bool.
func buildMap(fields ...field) (ipld.Node, error) {
	nb := basicnode.Prototype.Any.NewBuilder()
	ma, err := nb.BeginMap(int64(len(fields)))
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		if err := ma.AssembleKey().AssignString(f.key); err != nil {
			return nil, err
		}
		va := ma.AssembleValue()
		switch v := f.value.(type) {
		case string:
			err = va.AssignString(v)
		case int64:
			err = va.AssignInt(v)
		case bool:
			err = va.AssignBool(v)
		default:
			err = fmt.Errorf("unsupported value %T for %q", v, f.key)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := ma.Finish(); err != nil {
		return nil, err
	}
	return nb.Build(), nil
}

// withOptional appends key when v is set.
func withOptional[T string | int64](fields []field, key string, v *T) []field {
	if v == nil {
		return fields
	}
	return append(fields, field{key, *v})
}

// ToIPLD converts RegisterCaveats to an IPLD node
func (c RegisterCaveats) ToIPLD() (ipld.Node, error) {
	return buildMap(
		field{"artifact", c.Artifact},
		field{"name", c.Name},
		field{"encryption_key", c.EncryptionKey},
	)
}

// ToIPLD converts RotateKeyCaveats to an IPLD node
func (c RotateKeyCaveats) ToIPLD() (ipld.Node, error) {
	return buildMap(
		field{"protocol", c.Protocol},
		field{"encryption_key", c.EncryptionKey},
	)
}

// ToIPLD converts ProposeCaveats to an IPLD node
func (c ProposeCaveats) ToIPLD() (ipld.Node, error) {
	return buildMap(
		field{"protocol", c.Protocol},
		field{"candidate", c.Candidate},
	)
}

// ToIPLD converts ProtocolCaveats to an IPLD node
func (c ProtocolCaveats) ToIPLD() (ipld.Node, error) {
	return buildMap(field{"protocol", c.Protocol})
}

// ToIPLD converts PolicyCaveats to an IPLD node
func (c PolicyCaveats) ToIPLD() (ipld.Node, error) {
	return buildMap(
		field{"protocol", c.Protocol},
		field{"min_grace_period", c.MinGracePeriod},
	)
}

// ToIPLD converts SubmitCaveats to an IPLD node
func (c SubmitCaveats) ToIPLD() (ipld.Node, error) {
	fields := []field{
		{"target", c.Target},
		{"proof_hash", c.ProofHash},
		{"severity", c.Severity},
		{"nonce", c.Nonce},
	}
	fields = withOptional(fields, "encrypted_payload", c.EncryptedPayload)
	fields = withOptional(fields, "sender_key", c.SenderKey)
	fields = withOptional(fields, "grace_period", c.GracePeriod)
	fields = withOptional(fields, "protocol", c.Protocol)
	return buildMap(fields...)
}

// ToIPLD converts ClaimCaveats to an IPLD node
func (c ClaimCaveats) ToIPLD() (ipld.Node, error) {
	return buildMap(
		field{"disclosure", c.Disclosure},
		field{"protocol", c.Protocol},
	)
}

// ToIPLD converts DisclosureCaveats to an IPLD node
func (c DisclosureCaveats) ToIPLD() (ipld.Node, error) {
	return buildMap(field{"disclosure", c.Disclosure})
}

// ToIPLD converts ResolveCaveats to an IPLD node
func (c ResolveCaveats) ToIPLD() (ipld.Node, error) {
	fields := []field{
		{"disclosure", c.Disclosure},
		{"resolution", c.Resolution},
	}
	return buildMap(withOptional(fields, "payment_ref", c.PaymentRef)...)
}

// ToIPLD converts RevealCaveats to an IPLD node
func (c RevealCaveats) ToIPLD() (ipld.Node, error) {
	return buildMap(
		field{"disclosure", c.Disclosure},
		field{"plaintext", c.Plaintext},
	)
}

// ToIPLD converts VaultCreateCaveats to an IPLD node
func (c VaultCreateCaveats) ToIPLD() (ipld.Node, error) {
	fields := []field{
		{"protocol", c.Protocol},
		{"rate_low", c.RateLow},
		{"rate_medium", c.RateMedium},
		{"rate_high", c.RateHigh},
		{"rate_critical", c.RateCritical},
	}
	return buildMap(withOptional(fields, "deposit", c.Deposit)...)
}

// ToIPLD converts VaultAmountCaveats to an IPLD node
func (c VaultAmountCaveats) ToIPLD() (ipld.Node, error) {
	return buildMap(
		field{"vault", c.Vault},
		field{"amount", c.Amount},
	)
}

// ToIPLD converts VaultCaveats to an IPLD node
func (c VaultCaveats) ToIPLD() (ipld.Node, error) {
	return buildMap(field{"vault", c.Vault})
}

// ToIPLD converts VaultClaimCaveats to an IPLD node
func (c VaultClaimCaveats) ToIPLD() (ipld.Node, error) {
	return buildMap(
		field{"disclosure", c.Disclosure},
		field{"vault", c.Vault},
	)
}

// ToIPLD converts ProtocolSuccess to an IPLD node
func (s ProtocolSuccess) ToIPLD() (ipld.Node, error) {
	fields := []field{
		{"address", s.Address},
		{"authority", s.Authority},
		{"artifact", s.Artifact},
		{"name", s.Name},
		{"encryption_key", s.EncryptionKey},
		{"registered_at", s.RegisteredAt},
	}
	if s.PendingAuthority != "" {
		fields = append(fields, field{"pending_authority", s.PendingAuthority})
	}
	return buildMap(fields...)
}

// ToIPLD converts PolicySuccess to an IPLD node
func (s PolicySuccess) ToIPLD() (ipld.Node, error) {
	return buildMap(
		field{"address", s.Address},
		field{"protocol", s.Protocol},
		field{"min_grace_period", s.MinGracePeriod},
	)
}

// ToIPLD converts DisclosureSuccess to an IPLD node
func (s DisclosureSuccess) ToIPLD() (ipld.Node, error) {
	fields := []field{
		{"address", s.Address},
		{"status", s.Status},
		{"severity", s.Severity},
		{"resolution", s.Resolution},
		{"submitted_at", s.SubmittedAt},
		{"reveal_deadline", s.RevealDeadline},
	}
	if s.Protocol != "" {
		fields = append(fields, field{"protocol", s.Protocol})
	}
	return buildMap(fields...)
}

// ToIPLD converts VaultSuccess to an IPLD node
func (s VaultSuccess) ToIPLD() (ipld.Node, error) {
	return buildMap(
		field{"address", s.Address},
		field{"protocol", s.Protocol},
		field{"total_deposited", s.TotalDeposited},
		field{"total_paid", s.TotalPaid},
		field{"active", s.Active},
	)
}

// ToIPLD converts ReceiptSuccess to an IPLD node
func (s ReceiptSuccess) ToIPLD() (ipld.Node, error) {
	return buildMap(
		field{"address", s.Address},
		field{"disclosure", s.Disclosure},
		field{"vault", s.Vault},
		field{"amount", s.Amount},
		field{"claimed_at", s.ClaimedAt},
	)
}

func (f Failure) ToIPLD() (ipld.Node, error) {
	return buildMap(
		field{"name", f.name},
		field{"message", f.message},
	)
}

// Capability parsers
var (
	ProtocolRegister = validator.NewCapability(
		AbilityProtocolRegister,
		schema.DIDString(),
		schema.Struct[RegisterCaveats](caveatsType("RegisterCaveats"), nil),
		nil,
	)

	ProtocolRotateKey = validator.NewCapability(
		AbilityProtocolRotate,
		schema.DIDString(),
		schema.Struct[RotateKeyCaveats](caveatsType("RotateKeyCaveats"), nil),
		nil,
	)

	TransferPropose = validator.NewCapability(
		AbilityTransferPropose,
		schema.DIDString(),
		schema.Struct[ProposeCaveats](caveatsType("ProposeCaveats"), nil),
		nil,
	)

	TransferAccept = validator.NewCapability(
		AbilityTransferAccept,
		schema.DIDString(),
		schema.Struct[ProtocolCaveats](caveatsType("ProtocolCaveats"), nil),
		nil,
	)

	TransferCancel = validator.NewCapability(
		AbilityTransferCancel,
		schema.DIDString(),
		schema.Struct[ProtocolCaveats](caveatsType("ProtocolCaveats"), nil),
		nil,
	)

	PolicyCreate = validator.NewCapability(
		AbilityPolicyCreate,
		schema.DIDString(),
		schema.Struct[PolicyCaveats](caveatsType("PolicyCaveats"), nil),
		nil,
	)

	PolicyUpdate = validator.NewCapability(
		AbilityPolicyUpdate,
		schema.DIDString(),
		schema.Struct[PolicyCaveats](caveatsType("PolicyCaveats"), nil),
		nil,
	)

	DisclosureSubmit = validator.NewCapability(
		AbilityDisclosureSubmit,
		schema.DIDString(),
		schema.Struct[SubmitCaveats](caveatsType("SubmitCaveats"), nil),
		nil,
	)

	DisclosureClaim = validator.NewCapability(
		AbilityDisclosureClaim,
		schema.DIDString(),
		schema.Struct[ClaimCaveats](caveatsType("ClaimCaveats"), nil),
		nil,
	)

	DisclosureAcknowledge = validator.NewCapability(
		AbilityDisclosureAcknowledge,
		schema.DIDString(),
		schema.Struct[DisclosureCaveats](caveatsType("DisclosureCaveats"), nil),
		nil,
	)

	DisclosureResolve = validator.NewCapability(
		AbilityDisclosureResolve,
		schema.DIDString(),
		schema.Struct[ResolveCaveats](caveatsType("ResolveCaveats"), nil),
		nil,
	)

	DisclosureReveal = validator.NewCapability(
		AbilityDisclosureReveal,
		schema.DIDString(),
		schema.Struct[RevealCaveats](caveatsType("RevealCaveats"), nil),
		nil,
	)

	VaultCreate = validator.NewCapability(
		AbilityVaultCreate,
		schema.DIDString(),
		schema.Struct[VaultCreateCaveats](caveatsType("VaultCreateCaveats"), nil),
		nil,
	)

	VaultFund = validator.NewCapability(
		AbilityVaultFund,
		schema.DIDString(),
		schema.Struct[VaultAmountCaveats](caveatsType("VaultAmountCaveats"), nil),
		nil,
	)

	VaultDeactivate = validator.NewCapability(
		AbilityVaultDeactivate,
		schema.DIDString(),
		schema.Struct[VaultCaveats](caveatsType("VaultCaveats"), nil),
		nil,
	)

	VaultWithdraw = validator.NewCapability(
		AbilityVaultWithdraw,
		schema.DIDString(),
		schema.Struct[VaultAmountCaveats](caveatsType("VaultAmountCaveats"), nil),
		nil,
	)

	// VaultClaim pays a resolved disclosure's bounty to its hacker
	VaultClaim = validator.NewCapability(
		AbilityVaultClaim,
		schema.DIDString(),
		schema.Struct[VaultClaimCaveats](caveatsType("VaultClaimCaveats"), nil),
		nil,
	)
)
