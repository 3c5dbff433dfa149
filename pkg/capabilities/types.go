// Package capabilities defines the public types for vulnlog UCAN capabilities.
package capabilities

// Capability ability constants
const (
	AbilityProtocolRegister = "protocol/register"
	AbilityProtocolRotate   = "protocol/rotate-key"
	AbilityTransferPropose  = "protocol/transfer/propose"
	AbilityTransferAccept   = "protocol/transfer/accept"
	AbilityTransferCancel   = "protocol/transfer/cancel"

	AbilityPolicyCreate = "policy/create"
	AbilityPolicyUpdate = "policy/update"

	AbilityDisclosureSubmit      = "disclosure/submit"
	AbilityDisclosureClaim       = "disclosure/claim"
	AbilityDisclosureAcknowledge = "disclosure/acknowledge"
	AbilityDisclosureResolve     = "disclosure/resolve"
	AbilityDisclosureReveal      = "disclosure/reveal"

	AbilityVaultCreate     = "vault/create"
	AbilityVaultFund       = "vault/fund"
	AbilityVaultDeactivate = "vault/deactivate"
	AbilityVaultWithdraw   = "vault/withdraw"
	AbilityVaultClaim      = "vault/claim"
)

// RegisterCaveats represents the caveats for protocol/register
type RegisterCaveats struct {
	// Artifact is the DID of the deployed artifact being protected
	Artifact string `json:"artifact"`
	Name     string `json:"name"`
	// EncryptionKey is the base64-encoded X25519 key hackers seal reports to
	EncryptionKey string `json:"encryption_key"`
}

// RotateKeyCaveats represents the caveats for protocol/rotate-key
type RotateKeyCaveats struct {
	Protocol      string `json:"protocol"`
	EncryptionKey string `json:"encryption_key"`
}

// ProposeCaveats represents the caveats for protocol/transfer/propose
type ProposeCaveats struct {
	Protocol  string `json:"protocol"`
	Candidate string `json:"candidate"`
}

// ProtocolCaveats names a protocol. Used by transfer/accept and
// transfer/cancel.
type ProtocolCaveats struct {
	Protocol string `json:"protocol"`
}

// PolicyCaveats represents the caveats for policy/create and policy/update
type PolicyCaveats struct {
	Protocol string `json:"protocol"`
	// MinGracePeriod in seconds; 0 defers to the global minimum
	MinGracePeriod int64 `json:"min_grace_period"`
}

// SubmitCaveats represents the caveats for disclosure/submit
type SubmitCaveats struct {
	Target string `json:"target"`
	// ProofHash is the hex-encoded SHA-256 commitment to the plaintext
	ProofHash string `json:"proof_hash"`
	// EncryptedPayload is the base64-encoded sealed report (optional)
	EncryptedPayload *string `json:"encrypted_payload,omitempty"`
	// SenderKey is the base64-encoded ephemeral X25519 key (optional)
	SenderKey *string `json:"sender_key,omitempty"`
	Severity  string  `json:"severity"`
	// GracePeriod in seconds, defaults to one week (optional)
	GracePeriod *int64 `json:"grace_period,omitempty"`
	// Nonce carries the full uint64 range in its two's complement form
	Nonce int64 `json:"nonce"`
	// Protocol links the disclosure to the target's protocol at submission (optional)
	Protocol *string `json:"protocol,omitempty"`
}

// ClaimCaveats represents the caveats for disclosure/claim
type ClaimCaveats struct {
	Disclosure string `json:"disclosure"`
	Protocol   string `json:"protocol"`
}

// DisclosureCaveats names a disclosure. Used by disclosure/acknowledge.
type DisclosureCaveats struct {
	Disclosure string `json:"disclosure"`
}

// ResolveCaveats represents the caveats for disclosure/resolve
type ResolveCaveats struct {
	Disclosure string `json:"disclosure"`
	// PaymentRef is a hex-encoded 32 byte reference to an off-ledger payment (optional)
	PaymentRef *string `json:"payment_ref,omitempty"`
	Resolution string  `json:"resolution"`
}

// RevealCaveats represents the caveats for disclosure/reveal
type RevealCaveats struct {
	Disclosure string `json:"disclosure"`
	// Plaintext is the base64-encoded report the commitment was made to
	Plaintext string `json:"plaintext"`
}

// VaultCreateCaveats represents the caveats for vault/create. Amounts are
// decimal strings.
type VaultCreateCaveats struct {
	Protocol     string  `json:"protocol"`
	RateLow      string  `json:"rate_low"`
	RateMedium   string  `json:"rate_medium"`
	RateHigh     string  `json:"rate_high"`
	RateCritical string  `json:"rate_critical"`
	Deposit      *string `json:"deposit,omitempty"`
}

// VaultAmountCaveats represents the caveats for vault/fund and vault/withdraw
type VaultAmountCaveats struct {
	Vault  string `json:"vault"`
	Amount string `json:"amount"`
}

// VaultCaveats names a vault. Used by vault/deactivate.
type VaultCaveats struct {
	Vault string `json:"vault"`
}

// VaultClaimCaveats represents the caveats for vault/claim
type VaultClaimCaveats struct {
	Disclosure string `json:"disclosure"`
	Vault      string `json:"vault"`
}

// ProtocolSuccess is the success result of every protocol/* ability
type ProtocolSuccess struct {
	Address          string `json:"address"`
	Authority        string `json:"authority"`
	Artifact         string `json:"artifact"`
	Name             string `json:"name"`
	EncryptionKey    string `json:"encryption_key"`
	RegisteredAt     int64  `json:"registered_at"`
	PendingAuthority string `json:"pending_authority,omitempty"`
}

// PolicySuccess is the success result of policy/create and policy/update
type PolicySuccess struct {
	Address        string `json:"address"`
	Protocol       string `json:"protocol"`
	MinGracePeriod int64  `json:"min_grace_period"`
}

// DisclosureSuccess is the success result of every disclosure/* ability
type DisclosureSuccess struct {
	Address        string `json:"address"`
	Status         string `json:"status"`
	Protocol       string `json:"protocol,omitempty"`
	Severity       string `json:"severity"`
	Resolution     string `json:"resolution"`
	SubmittedAt    int64  `json:"submitted_at"`
	RevealDeadline int64  `json:"reveal_deadline"`
}

// VaultSuccess is the success result of vault/create, fund, deactivate and withdraw
type VaultSuccess struct {
	Address        string `json:"address"`
	Protocol       string `json:"protocol"`
	TotalDeposited string `json:"total_deposited"`
	TotalPaid      string `json:"total_paid"`
	Active         bool   `json:"active"`
}

// ReceiptSuccess is the success result of vault/claim
type ReceiptSuccess struct {
	Address    string `json:"address"`
	Disclosure string `json:"disclosure"`
	Vault      string `json:"vault"`
	Amount     string `json:"amount"`
	ClaimedAt  int64  `json:"claimed_at"`
}

// Failure is the failure result shared by all abilities. Name carries the
// ledger error code.
type Failure struct {
	name    string
	message string
}

func (f Failure) Name() string {
	return f.name
}

func (f Failure) Error() string {
	return f.message
}

// NewFailure creates a new Failure
func NewFailure(name, message string) Failure {
	return Failure{name: name, message: message}
}
