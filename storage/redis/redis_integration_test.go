//go:build integration
// +build integration

package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantware/creditledger/pkg/creditledger"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	store, err := New(client, Config{KeyPrefix: "creditledger_test:"})
	require.NoError(t, err)
	return store
}

func integrationAccount(accountID string) *creditledger.Account {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &creditledger.Account{
		AccountID:     accountID,
		Balance:       creditledger.Finite(20),
		PlanLabel:     "starter",
		PaymentStatus: creditledger.StatusActive,
		Transactions: []creditledger.TransactionRecord{
			{TransactionID: accountID + "_inv_1", CreditDelta: 20, AppliedAt: now},
		},
		UpdatedAt: now,
	}
}

func TestStore_RoundTrip_Redis(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	accountID := fmt.Sprintf("it_user_%d", time.Now().UnixNano())
	require.NoError(t, store.ConditionalWrite(ctx, integrationAccount(accountID), 0))

	got, version, err := store.Read(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, int64(20), got.Balance.Value())
	assert.Len(t, got.Transactions, 1)
}

func TestStore_ReadMissing_Redis(t *testing.T) {
	store := setupTestStore(t)

	_, _, err := store.Read(context.Background(), fmt.Sprintf("missing_%d", time.Now().UnixNano()))
	assert.True(t, errors.Is(err, creditledger.ErrAccountNotFound))
}

func TestStore_VersionConflict_Redis(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	accountID := fmt.Sprintf("it_user_%d", time.Now().UnixNano())
	require.NoError(t, store.ConditionalWrite(ctx, integrationAccount(accountID), 0))

	err := store.ConditionalWrite(ctx, integrationAccount(accountID), 9)
	assert.True(t, errors.Is(err, creditledger.ErrVersionConflict))

	require.NoError(t, store.ConditionalWrite(ctx, integrationAccount(accountID), 1))

	_, version, err := store.Read(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
}

func TestLedger_ConcurrentDuplicates_Redis(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ledger, err := creditledger.NewLedger(store, creditledger.Config{MaxAttempts: 20})
	require.NoError(t, err)

	accountID := fmt.Sprintf("it_user_%d", time.Now().UnixNano())
	grant := creditledger.CreditGrant{
		AccountID:     accountID,
		TransactionID: accountID + "_inv_race",
		CreditDelta:   20,
		PlanLabel:     "starter",
	}

	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := ledger.ApplyGrant(ctx, grant)
			errs <- err
		}()
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, <-errs)
	}

	account, err := ledger.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), account.Balance.Value())
	assert.Len(t, account.Transactions, 1)
}
