// Package postgres provides a PostgreSQL implementation of the
// creditledger.Store interface. Conditional writes use a version column
// guarded by an UPDATE ... WHERE version = $n predicate, so the
// compare-and-swap never needs row locks held across round trips.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grantware/creditledger/pkg/creditledger"
)

// Store implements creditledger.Store using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store and verifies connectivity.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// InitSchema creates the required tables if they don't exist.
// Call this once during application setup.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS credit_accounts (
		account_id     TEXT PRIMARY KEY,
		credits        BIGINT NOT NULL DEFAULT 0,
		unlimited      BOOLEAN NOT NULL DEFAULT FALSE,
		plan_label     TEXT NOT NULL DEFAULT '',
		payment_status TEXT NOT NULL DEFAULT 'active',
		version        BIGINT NOT NULL DEFAULT 1,
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS credit_transactions (
		account_id     TEXT NOT NULL REFERENCES credit_accounts(account_id),
		transaction_id TEXT NOT NULL,
		credit_delta   BIGINT NOT NULL,
		applied_at     TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (account_id, transaction_id)
	);

	CREATE INDEX IF NOT EXISTS idx_credit_transactions_applied_at
		ON credit_transactions(account_id, applied_at);
	`

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Read implements creditledger.Store.
func (s *Store) Read(ctx context.Context, accountID string) (*creditledger.Account, int64, error) {
	account := &creditledger.Account{AccountID: accountID}
	var version int64
	var paymentStatus string

	err := s.pool.QueryRow(ctx, `
		SELECT credits, unlimited, plan_label, payment_status, version, updated_at
		FROM credit_accounts
		WHERE account_id = $1
	`, accountID).Scan(
		&account.Balance.Credits,
		&account.Balance.Unlimited,
		&account.PlanLabel,
		&paymentStatus,
		&version,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, creditledger.ErrAccountNotFound
		}
		return nil, 0, mapError("read account", err)
	}
	account.PaymentStatus = creditledger.PaymentStatus(paymentStatus)

	rows, err := s.pool.Query(ctx, `
		SELECT transaction_id, credit_delta, applied_at
		FROM credit_transactions
		WHERE account_id = $1
		ORDER BY applied_at, transaction_id
	`, accountID)
	if err != nil {
		return nil, 0, mapError("read transactions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var txn creditledger.TransactionRecord
		if err := rows.Scan(&txn.TransactionID, &txn.CreditDelta, &txn.AppliedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}
		account.Transactions = append(account.Transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError("read transactions", err)
	}

	return account, version, nil
}

// ConditionalWrite implements creditledger.Store.
func (s *Store) ConditionalWrite(ctx context.Context, account *creditledger.Account, expectedVersion int64) error {
	if account == nil || account.AccountID == "" {
		return fmt.Errorf("invalid account")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if expectedVersion == 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO credit_accounts
				(account_id, credits, unlimited, plan_label, payment_status, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, 1, $6)
		`, account.AccountID, account.Balance.Credits, account.Balance.Unlimited,
			account.PlanLabel, string(account.PaymentStatus), account.UpdatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
				return creditledger.ErrVersionConflict
			}
			return mapError("create account", err)
		}
	} else {
		tag, err := tx.Exec(ctx, `
			UPDATE credit_accounts
			SET credits = $2, unlimited = $3, plan_label = $4,
				payment_status = $5, version = version + 1, updated_at = $6
			WHERE account_id = $1 AND version = $7
		`, account.AccountID, account.Balance.Credits, account.Balance.Unlimited,
			account.PlanLabel, string(account.PaymentStatus), account.UpdatedAt, expectedVersion)
		if err != nil {
			return mapError("update account", err)
		}
		if tag.RowsAffected() == 0 {
			return creditledger.ErrVersionConflict
		}
	}

	for _, txn := range account.Transactions {
		_, err = tx.Exec(ctx, `
			INSERT INTO credit_transactions (account_id, transaction_id, credit_delta, applied_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (account_id, transaction_id) DO NOTHING
		`, account.AccountID, txn.TransactionID, txn.CreditDelta, txn.AppliedAt)
		if err != nil {
			return mapError("write transaction", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError("commit transaction", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// mapError wraps connectivity failures so the ledger retries them.
func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 = connection exception, 40001 = serialization failure,
		// 40P01 = deadlock detected.
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			return fmt.Errorf("%s: %w: %v", op, creditledger.ErrStorageUnavailable, err)
		}
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return fmt.Errorf("%s: %w: %v", op, creditledger.ErrVersionConflict, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, creditledger.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
