package stream

import (
	"errors"
	"fmt"
)

// ErrValidation is the umbrella for every creation precondition failure. The
// specific sentinels below wrap it, so callers can dispatch on either the
// class or the exact condition with errors.Is.
var ErrValidation = errors.New("stream: validation failed")

var (
	ErrInvalidSender    = fmt.Errorf("%w: invalid sender", ErrValidation)
	ErrInvalidRecipient = fmt.Errorf("%w: invalid recipient", ErrValidation)
	ErrZeroDeposit      = fmt.Errorf("%w: deposit must be positive", ErrValidation)
	ErrStartInPast      = fmt.Errorf("%w: start time before current time", ErrValidation)
	ErrStopBeforeStart  = fmt.Errorf("%w: stop time before start time", ErrValidation)
	ErrDepositTooSmall  = fmt.Errorf("%w: deposit smaller than duration", ErrValidation)
	ErrInexactRate      = fmt.Errorf("%w: deposit not a multiple of duration", ErrValidation)
	ErrFeeOutOfRange    = fmt.Errorf("%w: cancel fee out of range", ErrValidation)
)

var (
	// ErrNotFound covers never-created, fully-withdrawn and cancelled ids
	// alike; callers cannot tell the three apart.
	ErrNotFound = errors.New("stream: not found")

	// ErrUnauthorized rejects withdraw/cancel calls from anyone but the
	// stream's sender or recipient.
	ErrUnauthorized = errors.New("stream: caller is neither sender nor recipient")

	// ErrInsufficientBalance rejects zero withdrawals and withdrawals
	// exceeding the recipient's current entitlement.
	ErrInsufficientBalance = errors.New("stream: amount exceeds available balance")

	// ErrReentrancy rejects a protected operation invoked while another is
	// mid-flight. Always fatal to the nested call.
	ErrReentrancy = errors.New("stream: reentrant call rejected")

	// ErrTransferFailed wraps gateway failures; the enclosing operation is
	// rolled back in full.
	ErrTransferFailed = errors.New("stream: transfer failed")

	// ErrInvariantViolated signals corrupted accounting state. It is never
	// reachable through the public call surface; seeing it means the ledger
	// itself is broken.
	ErrInvariantViolated = errors.New("stream: accounting invariant violated")
)
