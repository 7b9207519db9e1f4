package types

import "errors"

// Engine error taxonomy. Every mutation either commits whole or aborts with
// one of these; nothing partially applies.
var (
	// ErrInvalidInput rejects malformed fees, payment counts or percentages
	// before any write happens.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTemplateSumExceeded rejects a template write or a propagation whose
	// per-category percentages would exceed 100 across a deal's brokers.
	ErrTemplateSumExceeded = errors.New("template split percentages exceed 100")

	// ErrPaymentNotFound means the id does not resolve to an active payment.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrDealNotFound means the deal id does not resolve.
	ErrDealNotFound = errors.New("deal not found")

	// ErrInvariantViolation means the written splits do not reconcile to the
	// payment they belong to. It indicates a bug, never a caller error, and
	// is fatal to the enclosing transaction.
	ErrInvariantViolation = errors.New("split amounts do not reconcile to payment")
)
