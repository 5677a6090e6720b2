// Package redis provides a Redis implementation of the creditledger.Store
// interface. Conditional writes use a Lua script so the version check and
// the write happen atomically.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/grantware/creditledger/pkg/creditledger"
)

// Store implements creditledger.Store using Redis.
type Store struct {
	client      redis.UniversalClient
	config      Config
	writeScript *redis.Script
}

// Config holds Redis store configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "creditledger:")
	KeyPrefix string

	// AccountTTL is the TTL for account keys (0 = no expiration).
	AccountTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "creditledger:",
		AccountTTL: 0, // Accounts don't expire
	}
}

// accountDocument is the JSON shape stored under the account key.
type accountDocument struct {
	Credits       int64                            `json:"credits"`
	Unlimited     bool                             `json:"unlimited"`
	PlanLabel     string                           `json:"planLabel"`
	PaymentStatus string                           `json:"paymentStatus"`
	Transactions  []creditledger.TransactionRecord `json:"transactions"`
	UpdatedAt     time.Time                        `json:"updatedAt"`
}

// New creates a new Redis store.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "creditledger:"
	}

	s := &Store{
		client: client,
		config: config,
	}

	// The script compares the stored version against ARGV[1] (empty hash
	// counts as version 0) and writes data plus the incremented version
	// only on a match. Returns 1 on success, 0 on conflict.
	s.writeScript = redis.NewScript(`
		local key = KEYS[1]
		local expected = tonumber(ARGV[1])
		local data = ARGV[2]
		local ttl = tonumber(ARGV[3])

		local current = tonumber(redis.call('HGET', key, 'version')) or 0
		if current ~= expected then
			return 0
		end

		redis.call('HSET', key, 'version', expected + 1, 'data', data)
		if ttl > 0 then
			redis.call('PEXPIRE', key, ttl)
		end
		return 1
	`)

	return s, nil
}

// Read implements creditledger.Store.
func (s *Store) Read(ctx context.Context, accountID string) (*creditledger.Account, int64, error) {
	key := s.accountKey(accountID)

	values, err := s.client.HMGet(ctx, key, "version", "data").Result()
	if err != nil {
		return nil, 0, mapError("read account", err)
	}

	versionStr, _ := values[0].(string)
	data, _ := values[1].(string)
	if versionStr == "" || data == "" {
		return nil, 0, creditledger.ErrAccountNotFound
	}

	var version int64
	if _, err := fmt.Sscanf(versionStr, "%d", &version); err != nil {
		return nil, 0, fmt.Errorf("corrupt version for account %s: %w", accountID, err)
	}

	var doc accountDocument
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, 0, fmt.Errorf("failed to decode account %s: %w", accountID, err)
	}

	account := &creditledger.Account{
		AccountID: accountID,
		Balance: creditledger.Balance{
			Credits:   doc.Credits,
			Unlimited: doc.Unlimited,
		},
		PlanLabel:     doc.PlanLabel,
		PaymentStatus: creditledger.PaymentStatus(doc.PaymentStatus),
		Transactions:  doc.Transactions,
		UpdatedAt:     doc.UpdatedAt,
	}
	return account, version, nil
}

// ConditionalWrite implements creditledger.Store.
func (s *Store) ConditionalWrite(ctx context.Context, account *creditledger.Account, expectedVersion int64) error {
	if account == nil || account.AccountID == "" {
		return fmt.Errorf("invalid account")
	}

	doc := accountDocument{
		Credits:       account.Balance.Credits,
		Unlimited:     account.Balance.Unlimited,
		PlanLabel:     account.PlanLabel,
		PaymentStatus: string(account.PaymentStatus),
		Transactions:  account.Transactions,
		UpdatedAt:     account.UpdatedAt,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode account %s: %w", account.AccountID, err)
	}

	result, err := s.writeScript.Run(ctx, s.client,
		[]string{s.accountKey(account.AccountID)},
		expectedVersion, string(data), s.config.AccountTTL.Milliseconds(),
	).Int()
	if err != nil {
		return mapError("write account", err)
	}

	if result == 0 {
		return creditledger.ErrVersionConflict
	}
	return nil
}

func (s *Store) accountKey(accountID string) string {
	return s.config.KeyPrefix + "account:" + accountID
}

// mapError wraps connectivity failures so the ledger retries them.
func mapError(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, creditledger.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
