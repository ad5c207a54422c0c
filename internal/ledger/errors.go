// Package ledger defines the error taxonomy shared by the settlement
// pipeline, the risk engine and the rollup services.
package ledger

import "errors"

var (
	// ErrValidation marks a malformed trade rejected before settlement;
	// the trade stays non-filled.
	ErrValidation = errors.New("trade validation failed")

	// ErrNotionalLimit marks a settlement aborted because an intermediate
	// notional value exceeded the configured ceiling. Not retryable;
	// requires manual correction of the trade.
	ErrNotionalLimit = errors.New("notional value exceeds configured ceiling")

	// ErrLockContention marks a settlement that lost a lock-wait or
	// serialization race. The caller may retry.
	ErrLockContention = errors.New("settlement lock contention")

	// ErrConsistency marks a broken balance or position-sign invariant
	// detected after an update. The enclosing transaction is rolled back.
	ErrConsistency = errors.New("ledger consistency violation")

	ErrAccountNotFound   = errors.New("account not found")
	ErrSymbolNotFound    = errors.New("symbol not found")
	ErrAccountNotActive  = errors.New("account is not active")
	ErrAlreadySettled    = errors.New("trade already settled")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Retryable reports whether a settlement failure is transient and the trade
// may be resubmitted unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrLockContention)
}
