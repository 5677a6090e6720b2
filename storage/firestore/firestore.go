// Package firestore provides a Firestore implementation of the
// creditledger.Store interface. Conditional writes run inside Firestore
// transactions; a version field on the account document carries the
// compare-and-swap token.
package firestore

import (
	"context"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/grantware/creditledger/pkg/creditledger"
)

// Store implements creditledger.Store using Google Cloud Firestore.
type Store struct {
	client             *firestore.Client
	accountsCollection string
}

// Config holds Firestore store configuration.
type Config struct {
	// AccountsCollection is the Firestore collection for account
	// documents. Default: "credit_accounts".
	AccountsCollection string
}

// New creates a new Firestore store.
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.AccountsCollection == "" {
		config.AccountsCollection = "credit_accounts"
	}

	return &Store{
		client:             client,
		accountsCollection: config.AccountsCollection,
	}, nil
}

// Read implements creditledger.Store.
func (s *Store) Read(ctx context.Context, accountID string) (*creditledger.Account, int64, error) {
	doc := s.client.Collection(s.accountsCollection).Doc(accountID)
	snap, err := doc.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, 0, creditledger.ErrAccountNotFound
		}
		return nil, 0, mapError("get account", err)
	}

	if !snap.Exists() {
		return nil, 0, creditledger.ErrAccountNotFound
	}

	data := snap.Data()
	account := decodeAccount(accountID, data)
	return account, getInt64(data, "version"), nil
}

// ConditionalWrite implements creditledger.Store. The transaction reads
// the document's version and only writes when it still matches; Firestore
// aborts the transaction if another writer touched the document, which
// surfaces as a conflict as well.
func (s *Store) ConditionalWrite(ctx context.Context, account *creditledger.Account, expectedVersion int64) error {
	if account == nil || account.AccountID == "" {
		return fmt.Errorf("invalid account")
	}

	doc := s.client.Collection(s.accountsCollection).Doc(account.AccountID)

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)

		currentVersion := int64(0)
		switch {
		case err == nil && snap.Exists():
			currentVersion = getInt64(snap.Data(), "version")
		case err != nil && status.Code(err) != codes.NotFound:
			return err
		}

		if currentVersion != expectedVersion {
			return creditledger.ErrVersionConflict
		}

		return tx.Set(doc, encodeAccount(account, expectedVersion+1))
	})

	if err != nil {
		if err == creditledger.ErrVersionConflict {
			return creditledger.ErrVersionConflict
		}
		// Contended Firestore transactions abort; treat that as a
		// conflict so the ledger re-reads instead of giving up.
		if status.Code(err) == codes.Aborted {
			return creditledger.ErrVersionConflict
		}
		return mapError("write account", err)
	}
	return nil
}

func encodeAccount(account *creditledger.Account, version int64) map[string]interface{} {
	transactions := make([]map[string]interface{}, 0, len(account.Transactions))
	for _, txn := range account.Transactions {
		transactions = append(transactions, map[string]interface{}{
			"transactionId": txn.TransactionID,
			"creditDelta":   txn.CreditDelta,
			"appliedAt":     txn.AppliedAt,
		})
	}

	return map[string]interface{}{
		"credits":       account.Balance.Credits,
		"unlimited":     account.Balance.Unlimited,
		"planLabel":     account.PlanLabel,
		"paymentStatus": string(account.PaymentStatus),
		"transactions":  transactions,
		"updatedAt":     account.UpdatedAt,
		"version":       version,
	}
}

func decodeAccount(accountID string, data map[string]interface{}) *creditledger.Account {
	account := &creditledger.Account{
		AccountID: accountID,
		Balance: creditledger.Balance{
			Credits:   getInt64(data, "credits"),
			Unlimited: getBool(data, "unlimited"),
		},
		PlanLabel:     getString(data, "planLabel"),
		PaymentStatus: creditledger.PaymentStatus(getString(data, "paymentStatus")),
		UpdatedAt:     getTime(data, "updatedAt"),
	}

	if raw, ok := data["transactions"].([]interface{}); ok {
		for _, item := range raw {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			account.Transactions = append(account.Transactions, creditledger.TransactionRecord{
				TransactionID: getString(m, "transactionId"),
				CreditDelta:   getInt64(m, "creditDelta"),
				AppliedAt:     getTime(m, "appliedAt"),
			})
		}
	}

	return account
}

// mapError wraps transient Firestore failures so the ledger retries them.
func mapError(op string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Internal:
		return fmt.Errorf("%s: %w: %v", op, creditledger.ErrStorageUnavailable, err)
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}

// Helper functions for type conversion from Firestore data

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

func getInt64(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(math.Round(v))
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}
