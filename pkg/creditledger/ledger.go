// Package creditledger applies normalized payment events to per-account
// credit balances exactly once per transaction identifier. Balances live
// in an external record store with no transaction primitives assumed; the
// ledger builds its atomicity from the store's version-conditioned write.
package creditledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Ledger is the single gate through which account balances change.
type Ledger struct {
	store  Store
	config Config
}

// NewLedger creates a ledger backed by the given store.
func NewLedger(store Store, config Config) (*Ledger, error) {
	if store == nil {
		return nil, ErrStorageUnavailable
	}

	// Set defaults
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 25 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &Ledger{
		store:  store,
		config: config,
	}, nil
}

// ApplyGrant applies a credit grant to the account exactly once per
// transaction ID. Repeated delivery of the same transaction returns
// AlreadyApplied without writing. Safe under concurrent invocation for
// the same account: overlapping grants with distinct transaction IDs both
// land, overlapping duplicates land once.
func (l *Ledger) ApplyGrant(ctx context.Context, grant CreditGrant) (*ApplyResult, error) {
	startTime := time.Now()
	if grant.AccountID == "" || grant.TransactionID == "" || grant.CreditDelta < 0 {
		l.config.Metrics.RecordGrant("error")
		return nil, fmt.Errorf("%w: account=%q transaction=%q delta=%d",
			ErrInvalidGrant, grant.AccountID, grant.TransactionID, grant.CreditDelta)
	}

	var lastErr error
	for attempt := 0; attempt < l.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			l.config.Metrics.RecordGrant("error")
			return nil, err
		}

		account, version, err := l.readOrDefault(ctx, grant.AccountID)
		if err != nil {
			lastErr = err
			l.config.Metrics.RecordStoreError("read")
			if !errors.Is(err, ErrStorageUnavailable) {
				l.config.Metrics.RecordGrant("error")
				return nil, err
			}
			if err := l.backoff(ctx); err != nil {
				l.config.Metrics.RecordGrant("error")
				return nil, err
			}
			continue
		}

		// Idempotence boundary: a transaction already in history must
		// never credit again, regardless of arrival order or concurrency.
		if account.HasTransaction(grant.TransactionID) {
			l.config.Logger.Debug("grant already applied",
				Field{Key: "account_id", Value: grant.AccountID},
				Field{Key: "transaction_id", Value: grant.TransactionID})
			l.config.Metrics.RecordGrant("duplicate")
			l.config.Metrics.RecordGrantDuration(time.Since(startTime))
			return &ApplyResult{AlreadyApplied: true, NewBalance: account.Balance}, nil
		}

		now := l.config.Clock()
		account.Balance = account.Balance.Add(grant.CreditDelta).WithUnlimited(grant.Unlimited)
		account.PlanLabel = grant.PlanLabel
		account.PaymentStatus = StatusActive
		account.UpdatedAt = now
		account.Transactions = append(account.Transactions, TransactionRecord{
			TransactionID: grant.TransactionID,
			CreditDelta:   grant.CreditDelta,
			AppliedAt:     now,
		})

		err = l.store.ConditionalWrite(ctx, account, version)
		if err == nil {
			l.config.Logger.Info("grant applied",
				Field{Key: "account_id", Value: grant.AccountID},
				Field{Key: "transaction_id", Value: grant.TransactionID},
				Field{Key: "credit_delta", Value: grant.CreditDelta},
				Field{Key: "balance", Value: account.Balance.Value()})
			l.config.Metrics.RecordGrant("applied")
			l.config.Metrics.RecordGrantDuration(time.Since(startTime))
			return &ApplyResult{NewBalance: account.Balance}, nil
		}

		lastErr = err
		switch {
		case errors.Is(err, ErrVersionConflict):
			// Another writer won the race; re-read and re-check the
			// history before trying again.
			l.config.Metrics.RecordVersionConflict()
		case errors.Is(err, ErrStorageUnavailable):
			l.config.Metrics.RecordStoreError("write")
			if err := l.backoff(ctx); err != nil {
				l.config.Metrics.RecordGrant("error")
				return nil, err
			}
		default:
			l.config.Metrics.RecordStoreError("write")
			l.config.Metrics.RecordGrant("error")
			return nil, err
		}
	}

	l.config.Metrics.RecordGrant("error")
	return nil, fmt.Errorf("apply grant %s for account %s: attempts exhausted: %w",
		grant.TransactionID, grant.AccountID, lastErr)
}

// ApplyStatusChange asserts a terminal billing state: balance reset to
// zero, plan label "expired", payment status from the change. It is not
// subject to the transaction-idempotence check; re-asserting the same
// state is harmless. Transaction history is left untouched.
func (l *Ledger) ApplyStatusChange(ctx context.Context, change AccountStatusChange) (*ApplyResult, error) {
	if change.AccountID == "" || change.NewStatus == "" {
		return nil, fmt.Errorf("%w: account=%q status=%q",
			ErrInvalidStatusChange, change.AccountID, change.NewStatus)
	}

	var lastErr error
	for attempt := 0; attempt < l.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		account, version, err := l.readOrDefault(ctx, change.AccountID)
		if err != nil {
			lastErr = err
			l.config.Metrics.RecordStoreError("read")
			if !errors.Is(err, ErrStorageUnavailable) {
				return nil, err
			}
			if err := l.backoff(ctx); err != nil {
				return nil, err
			}
			continue
		}

		account.Balance = Finite(0)
		account.PlanLabel = expiredPlanLabel
		account.PaymentStatus = change.NewStatus
		account.UpdatedAt = l.config.Clock()

		err = l.store.ConditionalWrite(ctx, account, version)
		if err == nil {
			l.config.Logger.Info("status change applied",
				Field{Key: "account_id", Value: change.AccountID},
				Field{Key: "status", Value: string(change.NewStatus)})
			l.config.Metrics.RecordStatusChange(string(change.NewStatus))
			return &ApplyResult{NewBalance: account.Balance}, nil
		}

		lastErr = err
		switch {
		case errors.Is(err, ErrVersionConflict):
			l.config.Metrics.RecordVersionConflict()
		case errors.Is(err, ErrStorageUnavailable):
			l.config.Metrics.RecordStoreError("write")
			if err := l.backoff(ctx); err != nil {
				return nil, err
			}
		default:
			l.config.Metrics.RecordStoreError("write")
			return nil, err
		}
	}

	return nil, fmt.Errorf("apply status change for account %s: attempts exhausted: %w",
		change.AccountID, lastErr)
}

// GetAccount returns the current account state, or the zero-balance
// default when no record exists yet.
func (l *Ledger) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	account, _, err := l.readOrDefault(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return account, nil
}

// readOrDefault reads the account, substituting the implicit zero-balance
// default (version 0) when no record exists.
func (l *Ledger) readOrDefault(ctx context.Context, accountID string) (*Account, int64, error) {
	account, version, err := l.store.Read(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return NewAccount(accountID), 0, nil
		}
		return nil, 0, err
	}
	return account, version, nil
}

// backoff sleeps for the configured retry backoff, honoring context
// cancellation.
func (l *Ledger) backoff(ctx context.Context) error {
	timer := time.NewTimer(l.config.RetryBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
