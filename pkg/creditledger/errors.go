package creditledger

import "errors"

var (
	// ErrAccountNotFound is returned by Store.Read when no record exists
	// for the account. The ledger treats it as a zero-balance default.
	ErrAccountNotFound = errors.New("account not found")

	// ErrVersionConflict is returned by Store.ConditionalWrite when the
	// stored version no longer matches the expected version.
	ErrVersionConflict = errors.New("version conflict")

	// ErrStorageUnavailable wraps transient store failures (timeouts,
	// connection errors, 5xx-class backend responses). Operations that
	// fail with it are safe to retry.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidGrant is returned for grants that cannot be applied:
	// missing account ID, missing transaction ID, or a negative delta.
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrInvalidStatusChange is returned for status changes with a
	// missing account ID or status.
	ErrInvalidStatusChange = errors.New("invalid status change")
)

// IsRetryable reports whether err is worth retrying with a fresh read:
// a version conflict or a transient storage failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrStorageUnavailable)
}
