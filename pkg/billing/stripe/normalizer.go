package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v83"

	"github.com/grantware/creditledger/pkg/billing"
	"github.com/grantware/creditledger/pkg/creditledger"
)

// Metadata keys read from Stripe product metadata. Only the exact
// unlimitedFlagTrue value switches an account to unlimited; any other
// value, including absence, is treated as false.
const (
	metaKeyCredits   = "credits"
	metaKeyUnlimited = "unlimited"
	metaKeyPlanLabel = "plan"

	unlimitedFlagTrue = "true"
)

// ProductMetadata is the typed form of a product's loosely-typed metadata
// map. Missing or malformed fields degrade to documented defaults instead
// of failing the grant.
type ProductMetadata struct {
	CreditDelta int64
	Unlimited   bool
	PlanLabel   string
}

// NormalizerConfig configures a Normalizer.
type NormalizerConfig struct {
	// AccountRefMetadataKey is the metadata key carrying the internal
	// account reference (default: "user_id").
	AccountRefMetadataKey string

	// DefaultPlanLabel is used when product metadata has no plan label.
	DefaultPlanLabel string

	// Logger is used for structured logging (default: NoopLogger).
	Logger creditledger.Logger
}

// Normalizer maps raw Stripe events, plus auxiliary subscription and
// product lookups, into normalized billing outcomes.
type Normalizer struct {
	api    API
	config NormalizerConfig
}

// NewNormalizer creates a normalizer using the given API for auxiliary
// lookups.
func NewNormalizer(api API, config NormalizerConfig) *Normalizer {
	if config.AccountRefMetadataKey == "" {
		config.AccountRefMetadataKey = defaultAccountRefKey
	}
	if config.DefaultPlanLabel == "" {
		config.DefaultPlanLabel = defaultPlanLabel
	}
	if config.Logger == nil {
		config.Logger = &creditledger.NoopLogger{}
	}
	return &Normalizer{api: api, config: config}
}

// Normalize classifies the event and extracts its ledger effect.
// Errors are retryable lookup failures; a missing account reference is
// not an error but an ignored outcome.
func (n *Normalizer) Normalize(ctx context.Context, event *stripe.Event) (billing.Outcome, error) {
	switch event.Type {
	case "checkout.session.completed":
		return n.normalizeCheckoutCompleted(ctx, event)
	case "invoice.paid":
		return n.normalizeInvoicePaid(ctx, event)
	case "invoice.payment_failed":
		return n.normalizePaymentFailed(event)
	case "customer.subscription.deleted":
		return n.normalizeSubscriptionDeleted(event)
	default:
		return billing.IgnoredOutcome(fmt.Sprintf("unhandled event type %s", event.Type)), nil
	}
}

// normalizeCheckoutCompleted handles checkout.session.completed events.
// The account reference must be caller-supplied on the session; without
// it the event cannot be associated with an account and is ignored.
func (n *Normalizer) normalizeCheckoutCompleted(ctx context.Context, event *stripe.Event) (billing.Outcome, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return billing.Outcome{}, fmt.Errorf("%w: unmarshal checkout session: %v", billing.ErrInvalidWebhookPayload, err)
	}

	accountID := session.ClientReferenceID
	if accountID == "" && session.Metadata != nil {
		accountID = session.Metadata[n.config.AccountRefMetadataKey]
	}
	if accountID == "" {
		n.config.Logger.Warn("checkout session has no account reference",
			creditledger.Field{Key: "session_id", Value: session.ID})
		return billing.IgnoredOutcome("missing account reference"), nil
	}

	// The invoice identifier is the idempotency key when the checkout
	// produced one synchronously; one-time payment flows may not, so
	// fall back to the session identifier.
	transactionID := session.ID
	if session.Invoice != nil && session.Invoice.ID != "" {
		transactionID = session.Invoice.ID
	}

	meta, err := n.resolveSessionProductMetadata(ctx, &session)
	if err != nil {
		return billing.Outcome{}, err
	}

	return billing.GrantOutcome(creditledger.CreditGrant{
		AccountID:     accountID,
		TransactionID: transactionID,
		CreditDelta:   meta.CreditDelta,
		Unlimited:     meta.Unlimited,
		PlanLabel:     meta.PlanLabel,
	}), nil
}

// normalizeInvoicePaid handles invoice.paid events for subscription
// renewals. Initial purchases arrive as checkout.session.completed, so
// only the renewal billing reason grants here.
func (n *Normalizer) normalizeInvoicePaid(ctx context.Context, event *stripe.Event) (billing.Outcome, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return billing.Outcome{}, fmt.Errorf("%w: unmarshal invoice: %v", billing.ErrInvalidWebhookPayload, err)
	}

	if invoice.BillingReason != stripe.InvoiceBillingReasonSubscriptionCycle {
		return billing.IgnoredOutcome(fmt.Sprintf("billing reason %s is not a renewal", invoice.BillingReason)), nil
	}

	subscriptionID := subscriptionIDFromRaw(event.Data.Raw)
	if subscriptionID == "" {
		return billing.IgnoredOutcome("invoice has no subscription"), nil
	}

	sub, err := n.api.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return billing.Outcome{}, err
	}

	accountID := ""
	if sub.Metadata != nil {
		accountID = sub.Metadata[n.config.AccountRefMetadataKey]
	}
	if accountID == "" {
		n.config.Logger.Warn("subscription has no account reference",
			creditledger.Field{Key: "subscription_id", Value: subscriptionID},
			creditledger.Field{Key: "invoice_id", Value: invoice.ID})
		return billing.IgnoredOutcome("missing account reference"), nil
	}

	meta, err := n.resolveSubscriptionProductMetadata(ctx, sub)
	if err != nil {
		return billing.Outcome{}, err
	}

	return billing.GrantOutcome(creditledger.CreditGrant{
		AccountID:     accountID,
		TransactionID: invoice.ID,
		CreditDelta:   meta.CreditDelta,
		Unlimited:     meta.Unlimited,
		PlanLabel:     meta.PlanLabel,
	}), nil
}

// normalizePaymentFailed handles invoice.payment_failed. The subscription
// stays active until Stripe actually cancels it, so the ledger is not
// touched; the event is surfaced through logs and metrics only.
func (n *Normalizer) normalizePaymentFailed(event *stripe.Event) (billing.Outcome, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return billing.Outcome{}, fmt.Errorf("%w: unmarshal invoice: %v", billing.ErrInvalidWebhookPayload, err)
	}

	n.config.Logger.Warn("invoice payment failed",
		creditledger.Field{Key: "invoice_id", Value: invoice.ID})
	return billing.IgnoredOutcome("payment failure does not change the ledger"), nil
}

// normalizeSubscriptionDeleted handles customer.subscription.deleted.
func (n *Normalizer) normalizeSubscriptionDeleted(event *stripe.Event) (billing.Outcome, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return billing.Outcome{}, fmt.Errorf("%w: unmarshal subscription: %v", billing.ErrInvalidWebhookPayload, err)
	}

	accountID := ""
	if sub.Metadata != nil {
		accountID = sub.Metadata[n.config.AccountRefMetadataKey]
	}
	if accountID == "" {
		n.config.Logger.Warn("deleted subscription has no account reference",
			creditledger.Field{Key: "subscription_id", Value: sub.ID})
		return billing.IgnoredOutcome("missing account reference"), nil
	}

	return billing.StatusChangeOutcome(creditledger.AccountStatusChange{
		AccountID: accountID,
		NewStatus: creditledger.StatusCanceled,
	}), nil
}

// resolveSessionProductMetadata finds the product behind a checkout
// session. Subscription checkouts resolve through the subscription; one
// time payments through the session's expanded line items.
func (n *Normalizer) resolveSessionProductMetadata(ctx context.Context, session *stripe.CheckoutSession) (ProductMetadata, error) {
	if session.Subscription != nil && session.Subscription.ID != "" {
		sub, err := n.api.RetrieveSubscription(ctx, session.Subscription.ID)
		if err != nil {
			return ProductMetadata{}, err
		}
		return n.resolveSubscriptionProductMetadata(ctx, sub)
	}

	detail, err := n.api.RetrieveCheckoutSession(ctx, session.ID, []string{"line_items.data.price.product"})
	if err != nil {
		return ProductMetadata{}, err
	}

	productID := ""
	if detail.LineItems != nil && len(detail.LineItems.Data) > 0 {
		item := detail.LineItems.Data[0]
		if item.Price != nil && item.Price.Product != nil {
			productID = item.Price.Product.ID
		}
	}
	return n.productMetadata(ctx, productID)
}

func (n *Normalizer) resolveSubscriptionProductMetadata(ctx context.Context, sub *stripe.Subscription) (ProductMetadata, error) {
	productID := ""
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil && item.Price.Product != nil {
			productID = item.Price.Product.ID
		}
	}
	return n.productMetadata(ctx, productID)
}

// productMetadata fetches and parses product metadata. A missing product
// reference is malformed catalog data, not a lookup failure: the grant
// proceeds with defaults rather than bouncing the whole delivery.
func (n *Normalizer) productMetadata(ctx context.Context, productID string) (ProductMetadata, error) {
	if productID == "" {
		n.config.Logger.Warn("no product reference on payment event, using metadata defaults")
		return ProductMetadata{PlanLabel: n.config.DefaultPlanLabel}, nil
	}

	prod, err := n.api.RetrieveProduct(ctx, productID)
	if err != nil {
		return ProductMetadata{}, err
	}
	return parseProductMetadata(prod.Metadata, n.config.DefaultPlanLabel), nil
}

// parseProductMetadata converts a product metadata map into typed fields.
// A missing or non-numeric credits value defaults to 0, the unlimited
// flag requires exact string equality, and a missing plan label falls
// back to the configured default. Partial metadata never fails a grant.
func parseProductMetadata(meta map[string]string, fallbackPlan string) ProductMetadata {
	out := ProductMetadata{PlanLabel: fallbackPlan}
	if meta == nil {
		return out
	}

	if raw, ok := meta[metaKeyCredits]; ok {
		if credits, err := strconv.ParseInt(raw, 10, 64); err == nil && credits >= 0 {
			out.CreditDelta = credits
		}
	}
	out.Unlimited = meta[metaKeyUnlimited] == unlimitedFlagTrue
	if label := meta[metaKeyPlanLabel]; label != "" {
		out.PlanLabel = label
	}
	return out
}

// subscriptionIDFromRaw extracts the subscription reference from an
// invoice payload. The field is either an ID string or an embedded
// object depending on expansion, so the typed Invoice struct is not
// reliable for it.
func subscriptionIDFromRaw(raw json.RawMessage) string {
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return ""
	}
	switch v := data["subscription"].(type) {
	case string:
		return v
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			return id
		}
	}
	return ""
}
