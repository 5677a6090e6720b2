package billing

import (
	"github.com/grantware/creditledger/pkg/creditledger"
)

// OutcomeKind discriminates the result of normalizing a provider event.
type OutcomeKind string

const (
	// OutcomeGrant means the event carries a credit effect for an account.
	OutcomeGrant OutcomeKind = "grant"

	// OutcomeStatusChange means the event asserts a billing state
	// (cancellation, expiry) for an account.
	OutcomeStatusChange OutcomeKind = "status_change"

	// OutcomeIgnored means the event is recognized but not account-scoped,
	// or not relevant to the ledger. Ignored is a non-error no-op:
	// at-least-once delivery makes many events legitimately irrelevant.
	OutcomeIgnored OutcomeKind = "ignored"
)

// Outcome is the normalized form of one provider event. Exactly one of
// Grant and StatusChange is set for the corresponding kind.
type Outcome struct {
	Kind OutcomeKind

	Grant        *creditledger.CreditGrant
	StatusChange *creditledger.AccountStatusChange

	// Reason explains an ignored event, for logging only.
	Reason string
}

// GrantOutcome wraps a credit grant.
func GrantOutcome(grant creditledger.CreditGrant) Outcome {
	return Outcome{Kind: OutcomeGrant, Grant: &grant}
}

// StatusChangeOutcome wraps an account status change.
func StatusChangeOutcome(change creditledger.AccountStatusChange) Outcome {
	return Outcome{Kind: OutcomeStatusChange, StatusChange: &change}
}

// IgnoredOutcome marks an event as a silent no-op.
func IgnoredOutcome(reason string) Outcome {
	return Outcome{Kind: OutcomeIgnored, Reason: reason}
}
