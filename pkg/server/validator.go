package server

import (
	"context"
	"strings"

	"github.com/storacha/go-ucanto/core/invocation"
)

// RequestValidator is consulted before each capability invocation, after
// UCAN authorization succeeded. Returning an error rejects the invocation;
// a *ValidationError keeps its code, anything else is reported as
// VALIDATION_ERROR with the error text.
type RequestValidator interface {
	ValidateRequest(ctx context.Context, inv invocation.Invocation) error
}

// ValidationError represents a validation failure with structured info.
type ValidationError struct {
	Code    string // Machine-readable error code (e.g., "ISSUER_DENIED")
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new validation error.
func NewValidationError(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// FailureIssuerDenied is returned for invocations issued by a denied DID.
const FailureIssuerDenied = "ISSUER_DENIED"

// Chain runs validators in order and stops at the first rejection. Nil
// entries are skipped.
type Chain []RequestValidator

func (c Chain) ValidateRequest(ctx context.Context, inv invocation.Invocation) error {
	for _, v := range c {
		if v == nil {
			continue
		}
		if err := v.ValidateRequest(ctx, inv); err != nil {
			return err
		}
	}
	return nil
}

// DenyList rejects invocations whose issuer is on the list. It is used to
// shut out identities that flood the ledger with submissions.
type DenyList map[string]struct{}

// NewDenyList builds a DenyList from a comma separated list of DIDs.
func NewDenyList(dids string) DenyList {
	d := DenyList{}
	for _, s := range strings.Split(dids, ",") {
		if s = strings.TrimSpace(s); s != "" {
			d[s] = struct{}{}
		}
	}
	return d
}

func (d DenyList) ValidateRequest(_ context.Context, inv invocation.Invocation) error {
	issuer := inv.Issuer().DID().String()
	if _, ok := d[issuer]; ok {
		return NewValidationError(FailureIssuerDenied, "issuer "+issuer+" is not allowed to invoke this service")
	}
	return nil
}
