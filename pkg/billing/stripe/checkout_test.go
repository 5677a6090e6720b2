package stripe

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v83"

	"github.com/grantware/creditledger/pkg/billing"
)

// recordingAPI captures the params of the last created checkout session.
type recordingAPI struct {
	fakeAPI
	lastParams *stripe.CheckoutSessionCreateParams
}

func (r *recordingAPI) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	r.lastParams = params
	return r.fakeAPI.CreateCheckoutSession(ctx, params)
}

func TestCheckoutURL(t *testing.T) {
	api := &recordingAPI{}
	provider, _ := newTestProvider(t, api)

	url, err := provider.CheckoutURL(context.Background(), "user_42", "price_1", "https://app.test/ok", "https://app.test/cancel")
	if err != nil {
		t.Fatalf("CheckoutURL failed: %v", err)
	}
	if url == "" {
		t.Fatal("Expected non-empty checkout URL")
	}

	params := api.lastParams
	if params == nil {
		t.Fatal("Expected CreateCheckoutSession to be called")
	}
	if got := stripe.StringValue(params.Mode); got != string(stripe.CheckoutSessionModeSubscription) {
		t.Errorf("Expected subscription mode, got %q", got)
	}
	if got := stripe.StringValue(params.ClientReferenceID); got != "user_42" {
		t.Errorf("Expected client reference user_42, got %q", got)
	}
	// The account ref must land on the subscription so renewal invoices
	// can be attributed later
	if params.SubscriptionData == nil || params.SubscriptionData.Metadata["user_id"] != "user_42" {
		t.Error("Expected account reference in subscription metadata")
	}
}

func TestCheckoutURL_EmptyPrice(t *testing.T) {
	provider, _ := newTestProvider(t, &recordingAPI{})

	_, err := provider.CheckoutURL(context.Background(), "user_42", "", "https://app.test/ok", "https://app.test/cancel")
	if !errors.Is(err, billing.ErrPlanNotConfigured) {
		t.Errorf("Expected ErrPlanNotConfigured, got %v", err)
	}
}

func TestCheckoutURLForPayment(t *testing.T) {
	api := &recordingAPI{}
	provider, _ := newTestProvider(t, api)

	_, err := provider.CheckoutURLForPayment(context.Background(), "user_42", "booster", 499, "https://app.test/ok", "https://app.test/cancel")
	if err != nil {
		t.Fatalf("CheckoutURLForPayment failed: %v", err)
	}

	params := api.lastParams
	if got := stripe.StringValue(params.Mode); got != string(stripe.CheckoutSessionModePayment) {
		t.Errorf("Expected payment mode, got %q", got)
	}
	if params.Metadata["user_id"] != "user_42" {
		t.Error("Expected account reference in session metadata")
	}
	item := params.LineItems[0]
	if got := stripe.Int64Value(item.PriceData.UnitAmount); got != 499 {
		t.Errorf("Expected unit amount 499, got %d", got)
	}
}
