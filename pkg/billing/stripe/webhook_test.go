package stripe

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/grantware/creditledger/pkg/creditledger"
	"github.com/grantware/creditledger/storage/memory"
)

const testWebhookSecret = "whsec_test_secret"

func newTestProvider(t *testing.T, api API) (*Provider, *creditledger.Ledger) {
	t.Helper()
	store := memory.New()
	ledger, err := creditledger.NewLedger(store, creditledger.Config{})
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}

	config := Config{
		StripeWebhookSecret: testWebhookSecret,
		API:                 api,
	}
	config.Ledger = ledger

	provider, err := NewProvider(config)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	return provider, ledger
}

// signPayload produces a Stripe-Signature header value for the payload.
func signPayload(payload []byte, secret string, at time.Time) string {
	ts := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func webhookEventPayload(eventType string, object map[string]interface{}) []byte {
	payload, _ := json.Marshal(map[string]interface{}{
		"id":   "evt_1",
		"type": eventType,
		"data": map[string]interface{}{"object": object},
	})
	return payload
}

func postWebhook(provider *Provider, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	w := httptest.NewRecorder()
	provider.WebhookHandler().ServeHTTP(w, req)
	return w
}

func TestWebhook_InvoicePaidGrantsCredits(t *testing.T) {
	api := newFakeAPI(map[string]string{"credits": "20", "plan": "starter"})
	provider, ledger := newTestProvider(t, api)

	payload := webhookEventPayload("invoice.paid", map[string]interface{}{
		"id":             "inv_1",
		"billing_reason": "subscription_cycle",
		"subscription":   "sub_1",
	})

	w := postWebhook(provider, payload, signPayload(payload, testWebhookSecret, time.Now()))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]bool
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if !resp["received"] {
		t.Error("Expected received=true in response")
	}

	account, err := ledger.GetAccount(context.Background(), "user_42")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if account.Balance.Value() != 20 {
		t.Errorf("Expected balance 20, got %d", account.Balance.Value())
	}
}

func TestWebhook_DuplicateDeliveryIsIdempotent(t *testing.T) {
	api := newFakeAPI(map[string]string{"credits": "20"})
	provider, ledger := newTestProvider(t, api)

	payload := webhookEventPayload("invoice.paid", map[string]interface{}{
		"id":             "inv_1",
		"billing_reason": "subscription_cycle",
		"subscription":   "sub_1",
	})

	for i := 0; i < 3; i++ {
		w := postWebhook(provider, payload, signPayload(payload, testWebhookSecret, time.Now()))
		if w.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, w.Code)
		}
	}

	account, err := ledger.GetAccount(context.Background(), "user_42")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if account.Balance.Value() != 20 {
		t.Errorf("Expected balance 20 after redeliveries, got %d", account.Balance.Value())
	}
	if len(account.Transactions) != 1 {
		t.Errorf("Expected 1 transaction record, got %d", len(account.Transactions))
	}
}

func TestWebhook_BadSignature(t *testing.T) {
	provider, _ := newTestProvider(t, newFakeAPI(nil))

	payload := webhookEventPayload("invoice.paid", map[string]interface{}{"id": "inv_1"})

	w := postWebhook(provider, payload, signPayload(payload, "whsec_wrong_secret", time.Now()))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad signature, got %d", w.Code)
	}
}

func TestWebhook_MissingSignature(t *testing.T) {
	provider, _ := newTestProvider(t, newFakeAPI(nil))

	payload := webhookEventPayload("invoice.paid", map[string]interface{}{"id": "inv_1"})

	w := postWebhook(provider, payload, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing signature, got %d", w.Code)
	}
}

func TestWebhook_StaleTimestamp(t *testing.T) {
	provider, _ := newTestProvider(t, newFakeAPI(nil))

	payload := webhookEventPayload("invoice.paid", map[string]interface{}{"id": "inv_1"})

	// Signed an hour ago, outside the verification tolerance
	w := postWebhook(provider, payload, signPayload(payload, testWebhookSecret, time.Now().Add(-time.Hour)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for stale timestamp, got %d", w.Code)
	}
}

func TestWebhook_ProcessingFailureReturns500(t *testing.T) {
	api := newFakeAPI(nil)
	api.err = fmt.Errorf("stripe is down")
	provider, _ := newTestProvider(t, api)

	payload := webhookEventPayload("invoice.paid", map[string]interface{}{
		"id":             "inv_1",
		"billing_reason": "subscription_cycle",
		"subscription":   "sub_1",
	})

	// 500 tells Stripe to redeliver; idempotence makes that safe
	w := postWebhook(provider, payload, signPayload(payload, testWebhookSecret, time.Now()))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 for processing failure, got %d", w.Code)
	}
}

func TestWebhook_SubscriptionDeletedCancelsAccount(t *testing.T) {
	api := newFakeAPI(map[string]string{"credits": "20"})
	provider, ledger := newTestProvider(t, api)

	// Seed a balance first
	grantPayload := webhookEventPayload("invoice.paid", map[string]interface{}{
		"id":             "inv_1",
		"billing_reason": "subscription_cycle",
		"subscription":   "sub_1",
	})
	if w := postWebhook(provider, grantPayload, signPayload(grantPayload, testWebhookSecret, time.Now())); w.Code != http.StatusOK {
		t.Fatalf("grant delivery failed: %d", w.Code)
	}

	cancelPayload := webhookEventPayload("customer.subscription.deleted", map[string]interface{}{
		"id":       "sub_1",
		"metadata": map[string]interface{}{"user_id": "user_42"},
	})
	if w := postWebhook(provider, cancelPayload, signPayload(cancelPayload, testWebhookSecret, time.Now())); w.Code != http.StatusOK {
		t.Fatalf("cancel delivery failed: %d", w.Code)
	}

	account, err := ledger.GetAccount(context.Background(), "user_42")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if account.Balance.Value() != 0 {
		t.Errorf("Expected zero balance after cancellation, got %d", account.Balance.Value())
	}
	if account.PaymentStatus != creditledger.StatusCanceled {
		t.Errorf("Expected canceled status, got %q", account.PaymentStatus)
	}
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	provider, _ := newTestProvider(t, newFakeAPI(nil))

	req := httptest.NewRequest(http.MethodGet, "/webhooks/stripe", nil)
	w := httptest.NewRecorder()
	provider.WebhookHandler().ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET, got %d", w.Code)
	}
}

func TestWebhook_EmptyBody(t *testing.T) {
	provider, _ := newTestProvider(t, newFakeAPI(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(nil))
	w := httptest.NewRecorder()
	provider.WebhookHandler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty body, got %d", w.Code)
	}
}

func TestWebhook_UnconfiguredSecret(t *testing.T) {
	store := memory.New()
	ledger, err := creditledger.NewLedger(store, creditledger.Config{})
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}

	config := Config{API: newFakeAPI(nil)}
	config.Ledger = ledger
	provider, err := NewProvider(config)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	payload := webhookEventPayload("invoice.paid", map[string]interface{}{"id": "inv_1"})
	w := postWebhook(provider, payload, signPayload(payload, testWebhookSecret, time.Now()))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when webhook secret is missing, got %d", w.Code)
	}
}
