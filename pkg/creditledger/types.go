package creditledger

import (
	"time"
)

// PaymentStatus is the billing state of an account.
type PaymentStatus string

const (
	// StatusActive means the account has a paying subscription or credits.
	StatusActive PaymentStatus = "active"
	// StatusPastDue means the last renewal attempt failed but the account is not canceled yet.
	StatusPastDue PaymentStatus = "past_due"
	// StatusCanceled means the subscription was canceled by the user or the provider.
	StatusCanceled PaymentStatus = "canceled"
	// StatusExpired means the subscription lapsed without renewal.
	StatusExpired PaymentStatus = "expired"
)

// expiredPlanLabel is written when a status change tears an account down.
const expiredPlanLabel = "expired"

// TransactionRecord is one applied grant. Records are append-only and
// immutable once written; an account holds at most one record per
// distinct TransactionID.
type TransactionRecord struct {
	// TransactionID is the provider's idempotency key (invoice or
	// checkout-session identifier), never an internally generated ID.
	TransactionID string

	// CreditDelta is the number of credits this transaction granted
	// (0 for unlimited-plan transactions).
	CreditDelta int64

	// AppliedAt is when the ledger applied the grant.
	AppliedAt time.Time
}

// Account is the credited entity as stored in the record store.
type Account struct {
	// AccountID is the opaque external identifier for the account.
	AccountID string

	// Balance is the current credit balance.
	Balance Balance

	// PlanLabel is the human-readable name of the current plan.
	PlanLabel string

	// PaymentStatus is the account's billing state.
	PaymentStatus PaymentStatus

	// Transactions is the ordered history of applied grants. It grows
	// monotonically; nothing in this package ever removes an entry.
	Transactions []TransactionRecord

	// UpdatedAt is when the account was last written.
	UpdatedAt time.Time
}

// HasTransaction reports whether a grant with the given transaction ID
// has already been applied to this account.
func (a *Account) HasTransaction(transactionID string) bool {
	for i := range a.Transactions {
		if a.Transactions[i].TransactionID == transactionID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the account. Store implementations use it
// to keep callers from mutating shared state.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Transactions = make([]TransactionRecord, len(a.Transactions))
	copy(cp.Transactions, a.Transactions)
	return &cp
}

// NewAccount returns the zero-balance default used when no record exists
// yet: empty history, finite zero balance, active status.
func NewAccount(accountID string) *Account {
	return &Account{
		AccountID:     accountID,
		Balance:       Finite(0),
		PaymentStatus: StatusActive,
	}
}

// CreditGrant is the normalized credit effect of one payment event.
type CreditGrant struct {
	// AccountID identifies the account to credit.
	AccountID string

	// TransactionID deduplicates at-least-once deliveries of this grant.
	TransactionID string

	// CreditDelta is the number of credits to add (ignored for balance
	// arithmetic when Unlimited is set, but still recorded in history).
	CreditDelta int64

	// Unlimited marks the grant as coming from an unlimited plan.
	Unlimited bool

	// PlanLabel is the plan name to store on the account.
	PlanLabel string
}

// AccountStatusChange is the normalized effect of a cancellation or
// expiry event. Applying it is a state assertion, not a ledger entry.
type AccountStatusChange struct {
	// AccountID identifies the affected account.
	AccountID string

	// NewStatus is the terminal status to assert.
	NewStatus PaymentStatus
}

// ApplyResult reports the outcome of a ledger operation.
type ApplyResult struct {
	// AlreadyApplied is true when the grant's transaction ID was found
	// in the account history and no write was performed.
	AlreadyApplied bool

	// NewBalance is the account balance after the operation (the
	// unchanged balance when AlreadyApplied is true).
	NewBalance Balance
}

// Config holds ledger configuration.
type Config struct {
	// MaxAttempts bounds the read-check-write loop: version conflicts
	// and transient store failures are retried up to this many times
	// (default: 5).
	MaxAttempts int

	// RetryBackoff is slept between attempts after a transient failure
	// (default: 25ms). Version conflicts retry immediately with a
	// fresh read.
	RetryBackoff time.Duration

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics is used for tracking ledger operations (default: NoopMetrics).
	Metrics Metrics

	// Clock overrides the applied-at timestamp source. Intended for
	// tests; defaults to time.Now in UTC.
	Clock func() time.Time
}
