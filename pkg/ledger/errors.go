package ledger

import (
	"errors"
	"fmt"
)

// Kind classifies ledger errors.
type Kind string

const (
	KindValidation    Kind = "ValidationError"
	KindAuthorization Kind = "AuthorizationError"
	KindState         Kind = "StateError"
	KindIntegrity     Kind = "IntegrityError"
	KindEscrow        Kind = "EscrowError"
	KindNotFound      Kind = "NotFoundError"
	KindOverflow      Kind = "OverflowError"
)

// Error is a typed ledger failure. Code is machine readable and stable;
// errors.Is matches two errors with the same Code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is a ledger error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Withf returns a copy of e with a more specific message.
func (e *Error) Withf(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// NewError creates a new ledger error.
func NewError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// KindOf returns the kind of a ledger error in err's chain, or "" if there
// is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the code of a ledger error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Validation errors
var (
	ErrInvalidProtocolName             = NewError(KindValidation, "INVALID_PROTOCOL_NAME", "protocol name must be 1 to 64 printable ASCII characters")
	ErrInvalidTargetArtifact           = NewError(KindValidation, "INVALID_TARGET_ARTIFACT", "target must be a deployed, executable artifact")
	ErrInvalidNewAuthority             = NewError(KindValidation, "INVALID_NEW_AUTHORITY", "new authority cannot be the null identity")
	ErrInvalidMinGracePeriod           = NewError(KindValidation, "INVALID_MIN_GRACE_PERIOD", "minimum grace period must be between 0 and 1 year")
	ErrInvalidSeverity                 = NewError(KindValidation, "INVALID_SEVERITY", "severity must be between 1 (low) and 4 (critical)")
	ErrEncryptedProofTooLarge          = NewError(KindValidation, "ENCRYPTED_PROOF_TOO_LARGE", "encrypted proof exceeds maximum size of 1024 bytes")
	ErrEncryptedProofTooSmall          = NewError(KindValidation, "ENCRYPTED_PROOF_TOO_SMALL", "encrypted proof is too small to contain a sealed box")
	ErrGracePeriodTooShort             = NewError(KindValidation, "GRACE_PERIOD_TOO_SHORT", "grace period must be at least 60 seconds")
	ErrGracePeriodTooLong              = NewError(KindValidation, "GRACE_PERIOD_TOO_LONG", "grace period exceeds maximum of 1 year")
	ErrGracePeriodBelowProtocolMinimum = NewError(KindValidation, "GRACE_PERIOD_BELOW_PROTOCOL_MINIMUM", "grace period is below the protocol's configured minimum")
	ErrProtocolMismatch                = NewError(KindValidation, "PROTOCOL_MISMATCH", "protocol does not match the disclosure's target")
	ErrInvalidResolutionType           = NewError(KindValidation, "INVALID_RESOLUTION_TYPE", "invalid resolution type")
	ErrPlaintextProofTooLarge          = NewError(KindValidation, "PLAINTEXT_PROOF_TOO_LARGE", "plaintext proof exceeds maximum size of 1024 bytes")
	ErrInvalidAmount                   = NewError(KindValidation, "INVALID_AMOUNT", "amount must be greater than zero")
)

// Authorization errors
var (
	ErrNotUpgradeAuthority        = NewError(KindAuthorization, "NOT_UPGRADE_AUTHORITY", "caller is not the upgrade authority of the target artifact")
	ErrUnauthorizedProtocolAction = NewError(KindAuthorization, "UNAUTHORIZED_PROTOCOL_ACTION", "only the protocol authority can perform this action")
	ErrUnauthorizedHackerAction   = NewError(KindAuthorization, "UNAUTHORIZED_HACKER_ACTION", "only the original hacker can perform this action")
	ErrUnauthorizedVaultAction    = NewError(KindAuthorization, "UNAUTHORIZED_VAULT_ACTION", "only the protocol authority can manage the bounty vault")
	ErrNotPendingAuthority        = NewError(KindAuthorization, "NOT_PENDING_AUTHORITY", "caller is not the proposed authority")
)

// State errors
var (
	ErrAlreadyExists         = NewError(KindState, "ALREADY_EXISTS", "record already exists")
	ErrInvalidStatus         = NewError(KindState, "INVALID_STATUS", "disclosure is not in the expected status for this action")
	ErrAlreadyClaimed        = NewError(KindState, "ALREADY_CLAIMED", "disclosure already claimed by a protocol")
	ErrUnclaimedDisclosure   = NewError(KindState, "UNCLAIMED_DISCLOSURE", "disclosure has not been claimed by a protocol")
	ErrNoPendingTransfer     = NewError(KindState, "NO_PENDING_TRANSFER", "no pending authority transfer")
	ErrGracePeriodNotElapsed = NewError(KindState, "GRACE_PERIOD_NOT_ELAPSED", "grace period has not elapsed yet")
	ErrDisclosureNotResolved = NewError(KindState, "DISCLOSURE_NOT_RESOLVED", "disclosure has not been resolved yet")
)

// Integrity errors
var (
	ErrProofHashMismatch = NewError(KindIntegrity, "PROOF_HASH_MISMATCH", "proof hash does not match the committed hash")
)

// Escrow errors
var (
	ErrVaultNotActive         = NewError(KindEscrow, "VAULT_NOT_ACTIVE", "bounty vault is not active")
	ErrVaultAlreadyInactive   = NewError(KindEscrow, "VAULT_ALREADY_INACTIVE", "bounty vault is already inactive")
	ErrVaultStillActive       = NewError(KindEscrow, "VAULT_STILL_ACTIVE", "bounty vault must be deactivated before withdrawal")
	ErrInsufficientVaultFunds = NewError(KindEscrow, "INSUFFICIENT_VAULT_FUNDS", "insufficient funds in bounty vault")
	ErrBountyAlreadyClaimed   = NewError(KindEscrow, "BOUNTY_ALREADY_CLAIMED", "bounty has already been claimed for this disclosure")
)

// Not found errors
var (
	ErrProtocolNotFound   = NewError(KindNotFound, "PROTOCOL_NOT_FOUND", "protocol not found")
	ErrPolicyNotFound     = NewError(KindNotFound, "POLICY_NOT_FOUND", "protocol policy not found")
	ErrDisclosureNotFound = NewError(KindNotFound, "DISCLOSURE_NOT_FOUND", "disclosure not found")
	ErrVaultNotFound      = NewError(KindNotFound, "VAULT_NOT_FOUND", "bounty vault not found")
	ErrReceiptNotFound    = NewError(KindNotFound, "RECEIPT_NOT_FOUND", "claim receipt not found")
)

// Overflow errors
var (
	ErrGracePeriodOverflow = NewError(KindOverflow, "GRACE_PERIOD_OVERFLOW", "grace period calculation overflow")
	ErrBountyOverflow      = NewError(KindOverflow, "BOUNTY_OVERFLOW", "arithmetic overflow in bounty accounting")
)
