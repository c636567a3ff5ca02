// Package airdrop implements the transfer queue of an ERC-20 airdrop: building,
// signing, nonce bookkeeping and the NEW -> SIGNED -> SENT -> MINED lifecycle.
package airdrop

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	// Input validation errors
	ErrInvalidAddress  = errors.New("invalid checksummed address")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrAmountTooSmall  = errors.New("amount is below one base unit")
	ErrAmountPrecision = errors.New("amount has more decimals than the token")
	ErrAmountOverflow  = errors.New("amount overflows uint256")
	ErrInvalidGasPrice = errors.New("invalid gas price")

	// Chain interaction errors
	ErrDryRunReverted    = errors.New("dry-run reverted")
	ErrEstimateGas       = errors.New("gas estimation failed")
	ErrResyncRequired    = errors.New("nonce out of sync, run 'update'")
	ErrInsufficientFunds = errors.New("insufficient funds for gas * price + value")
	ErrTokenQuery        = errors.New("token balance query failed")

	// Queue errors
	ErrNothingToSend = errors.New("nothing to send")
	ErrNothingToWait = errors.New("no sent transaction awaiting receipt")
	ErrQueueLocked   = errors.New("token settings cannot change once transfers are signed")

	// Fatal errors
	ErrNotInitialized     = errors.New("database is not initialized, run 'init'")
	ErrAlreadyInitialized = errors.New("database is already initialized")
	ErrCorruptedRecord    = errors.New("corrupted record")
	ErrInvalidKey         = errors.New("invalid private key")
	ErrKeyMismatch        = errors.New("private key does not match sender address")
	ErrIllegalTransition  = errors.New("illegal status transition")
)

// PartialFailureError reports a batch operation that stopped part way. Records
// listed in Done were committed; the record with ID FailedID and everything
// after it were left untouched.
type PartialFailureError struct {
	Op       string
	Done     []uint64
	FailedID uint64
	Err      error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s stopped at transaction %d after %d record(s): %v", e.Op, e.FailedID, len(e.Done), e.Err)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}
