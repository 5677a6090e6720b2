package stripe

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v83"

	"github.com/grantware/creditledger/pkg/billing"
)

// CheckoutURL creates a subscription-mode Stripe Checkout Session for the
// given price and returns its redirect URL. The account reference is
// injected into both the session's client_reference_id and the future
// subscription's metadata so the webhook pipeline can associate every
// later event with the account.
func (p *Provider) CheckoutURL(ctx context.Context, accountID, priceID, successURL, cancelURL string) (string, error) {
	if priceID == "" {
		return "", fmt.Errorf("%w: empty price", billing.ErrPlanNotConfigured)
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(accountID),
	}

	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	params.SubscriptionData.AddMetadata(p.config.AccountRefMetadataKey, accountID)

	session, err := p.api.CreateCheckoutSession(ctx, params)
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// CheckoutURLForPayment creates a one-time-payment Checkout Session for a
// credit pack. The webhook pipeline credits the account when the session
// completes; the session identifier becomes the idempotency key since no
// invoice exists synchronously for payment-mode checkouts.
func (p *Provider) CheckoutURLForPayment(
	ctx context.Context, accountID, packName string, amountCents int64, successURL, cancelURL string,
) (string, error) {
	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripe.String("usd"),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("Credit Pack: %s", packName)),
					},
					UnitAmount: stripe.Int64(amountCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(accountID),
		Metadata: map[string]string{
			p.config.AccountRefMetadataKey: accountID,
		},
	}

	session, err := p.api.CreateCheckoutSession(ctx, params)
	if err != nil {
		return "", err
	}
	return session.URL, nil
}
