package engine

import (
	"errors"
	"fmt"
)

// Reason codes attached to a BatchAbortError. These are the only values the
// validation pre-pass produces, so callers can switch on them directly.
const (
	ReasonInvalidSignature    = "invalid-signature"
	ReasonInsufficientBalance = "insufficient-balance"
	ReasonAccountNotDeployed  = "account-not-deployed"
	ReasonInvalidSponsor      = "invalid-sponsor"
)

var (
	ErrInvalidSignature    = errors.New("signature does not recover to an authorized signer")
	ErrAccountNotDeployed  = errors.New("sender account is not deployed and no init code was supplied")
	ErrInsufficientBalance = errors.New("insufficient balance for required prefund")
	ErrUnknownSponsor      = errors.New("sponsor is not registered with the entry point")
	ErrNotWhitelisted      = errors.New("account is not whitelisted by the sponsor")
	ErrUnauthorizedCaller  = errors.New("caller is not authorized for this operation")
	ErrUnknownToken        = errors.New("token is not registered with the sponsor")
	ErrMalformedInitCode   = errors.New("init code is malformed")
)

// BatchAbortError reports a validation failure. Index identifies the first
// failing operation in batch order; Reason is one of the Reason* constants.
type BatchAbortError struct {
	Index  int
	Reason string
	Err    error
}

func (e *BatchAbortError) Error() string {
	return fmt.Sprintf("batch aborted at operation %d (%s): %v", e.Index, e.Reason, e.Err)
}

func (e *BatchAbortError) Unwrap() error {
	return e.Err
}

func abort(index int, reason string, err error) *BatchAbortError {
	return &BatchAbortError{Index: index, Reason: reason, Err: err}
}
