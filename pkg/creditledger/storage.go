package creditledger

import "context"

// Store defines the interface for account persistence.
// Implementations must provide read-your-writes consistency for a single
// account and a conditional write keyed on a monotonically increasing
// version token; that pair is the compare-and-swap primitive the ledger's
// retry loop is built on.
type Store interface {
	// Read retrieves the account and its current version token.
	// Returns ErrAccountNotFound when no record exists. Transient
	// backend failures are wrapped in ErrStorageUnavailable.
	Read(ctx context.Context, accountID string) (*Account, int64, error)

	// ConditionalWrite persists the account if and only if the stored
	// version still equals expectedVersion. expectedVersion 0 means the
	// account must not exist yet (create). Returns ErrVersionConflict
	// when the condition fails, in which case nothing was written.
	ConditionalWrite(ctx context.Context, account *Account, expectedVersion int64) error
}
