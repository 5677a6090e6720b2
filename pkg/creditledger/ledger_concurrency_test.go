package creditledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/grantware/creditledger/pkg/creditledger"
	"github.com/grantware/creditledger/storage/memory"
)

func TestLedger_ConcurrentDuplicateDelivery(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	// Webhook retries can race: the same transaction delivered on many
	// goroutines must credit exactly once.
	const deliveries = 50
	var g errgroup.Group
	var mu sync.Mutex
	applied := 0

	for i := 0; i < deliveries; i++ {
		g.Go(func() error {
			result, err := ledger.ApplyGrant(ctx, monthlyGrant("user1", "inv_race", 20))
			if err != nil {
				return err
			}
			if !result.AlreadyApplied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent ApplyGrant failed: %v", err)
	}

	if applied != 1 {
		t.Errorf("Expected exactly 1 applied delivery, got %d", applied)
	}

	account, err := ledger.GetAccount(ctx, "user1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if account.Balance.Value() != 20 {
		t.Errorf("Expected balance 20, got %d", account.Balance.Value())
	}
	if len(account.Transactions) != 1 {
		t.Errorf("Expected 1 transaction record, got %d", len(account.Transactions))
	}
}

func TestLedger_ConcurrentDistinctGrants(t *testing.T) {
	store := memory.New()
	// Distinct transactions racing on one account can need more CAS
	// rounds than the default allows.
	ledger, err := creditledger.NewLedger(store, creditledger.Config{MaxAttempts: 50})
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}
	ctx := context.Background()

	const grants = 20
	var g errgroup.Group
	for i := 0; i < grants; i++ {
		txnID := fmt.Sprintf("inv_%d", i)
		g.Go(func() error {
			_, err := ledger.ApplyGrant(ctx, monthlyGrant("user1", txnID, 10))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent ApplyGrant failed: %v", err)
	}

	account, err := ledger.GetAccount(ctx, "user1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if account.Balance.Value() != grants*10 {
		t.Errorf("Expected balance %d, got %d", grants*10, account.Balance.Value())
	}
	if len(account.Transactions) != grants {
		t.Errorf("Expected %d transaction records, got %d", grants, len(account.Transactions))
	}
}

// flakyStore fails the first N operations with a transient error.
type flakyStore struct {
	creditledger.Store
	mu        sync.Mutex
	failures  int
	readFails bool
}

func (f *flakyStore) Read(ctx context.Context, accountID string) (*creditledger.Account, int64, error) {
	if f.readFails && f.takeFailure() {
		return nil, 0, fmt.Errorf("read: %w", creditledger.ErrStorageUnavailable)
	}
	return f.Store.Read(ctx, accountID)
}

func (f *flakyStore) ConditionalWrite(ctx context.Context, account *creditledger.Account, expectedVersion int64) error {
	if !f.readFails && f.takeFailure() {
		return fmt.Errorf("write: %w", creditledger.ErrStorageUnavailable)
	}
	return f.Store.ConditionalWrite(ctx, account, expectedVersion)
}

func (f *flakyStore) takeFailure() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return true
	}
	return false
}

func TestLedger_RetriesTransientWriteFailure(t *testing.T) {
	store := &flakyStore{Store: memory.New(), failures: 2}
	ledger, err := creditledger.NewLedger(store, creditledger.Config{
		MaxAttempts:  5,
		RetryBackoff: 1,
	})
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}

	result, err := ledger.ApplyGrant(context.Background(), monthlyGrant("user1", "inv_1", 20))
	if err != nil {
		t.Fatalf("ApplyGrant failed despite retries: %v", err)
	}
	if result.NewBalance.Value() != 20 {
		t.Errorf("Expected balance 20, got %d", result.NewBalance.Value())
	}
}

func TestLedger_RetriesTransientReadFailure(t *testing.T) {
	store := &flakyStore{Store: memory.New(), failures: 2, readFails: true}
	ledger, err := creditledger.NewLedger(store, creditledger.Config{
		MaxAttempts:  5,
		RetryBackoff: 1,
	})
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}

	if _, err := ledger.ApplyGrant(context.Background(), monthlyGrant("user1", "inv_1", 20)); err != nil {
		t.Fatalf("ApplyGrant failed despite retries: %v", err)
	}
}

func TestLedger_ExhaustsAttempts(t *testing.T) {
	store := &flakyStore{Store: memory.New(), failures: 100}
	ledger, err := creditledger.NewLedger(store, creditledger.Config{
		MaxAttempts:  3,
		RetryBackoff: 1,
	})
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}

	_, err = ledger.ApplyGrant(context.Background(), monthlyGrant("user1", "inv_1", 20))
	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if !errors.Is(err, creditledger.ErrStorageUnavailable) {
		t.Errorf("Expected wrapped ErrStorageUnavailable, got %v", err)
	}
}

func TestLedger_ContextCancellation(t *testing.T) {
	ledger, _ := newTestLedger(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ledger.ApplyGrant(ctx, monthlyGrant("user1", "inv_1", 20))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
