package stripe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/grantware/creditledger/pkg/billing"
)

// API is the slice of the Stripe client the provider depends on. It is an
// interface so the normalizer and checkout paths can be exercised with
// fakes; the webhook pipeline never touches the Stripe SDK client directly.
type API interface {
	// RetrieveCheckoutSession fetches a checkout session, optionally
	// expanding nested objects (e.g. "line_items.data.price.product").
	RetrieveCheckoutSession(ctx context.Context, id string, expand []string) (*stripe.CheckoutSession, error)

	// RetrieveSubscription fetches a subscription, including its
	// metadata map.
	RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error)

	// RetrieveProduct fetches a product, including its metadata map.
	RetrieveProduct(ctx context.Context, id string) (*stripe.Product, error)

	// CreateCheckoutSession creates a checkout session.
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
}

// apiClient implements API against the real Stripe client, recording
// call metrics the same way for every endpoint.
type apiClient struct {
	sc      *stripe.Client
	metrics billing.Metrics
}

func newAPIClient(apiKey string, httpClient *http.Client, metrics billing.Metrics) *apiClient {
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		HTTPClient: httpClient,
	})
	return &apiClient{
		sc:      stripe.NewClient(apiKey, stripe.WithBackends(backends)),
		metrics: metrics,
	}
}

func (c *apiClient) RetrieveCheckoutSession(ctx context.Context, id string, expand []string) (*stripe.CheckoutSession, error) {
	startTime := time.Now()
	params := &stripe.CheckoutSessionRetrieveParams{}
	for _, e := range expand {
		params.AddExpand(e)
	}

	session, err := c.sc.V1CheckoutSessions.Retrieve(ctx, id, params)
	c.record("/v1/checkout/sessions/{id}", startTime, err)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session %s: %w: %v", id, billing.ErrProviderAPIError, err)
	}
	return session, nil
}

func (c *apiClient) RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	startTime := time.Now()
	sub, err := c.sc.V1Subscriptions.Retrieve(ctx, id, nil)
	c.record("/v1/subscriptions/{id}", startTime, err)
	if err != nil {
		return nil, fmt.Errorf("retrieve subscription %s: %w: %v", id, billing.ErrProviderAPIError, err)
	}
	return sub, nil
}

func (c *apiClient) RetrieveProduct(ctx context.Context, id string) (*stripe.Product, error) {
	startTime := time.Now()
	prod, err := c.sc.V1Products.Retrieve(ctx, id, nil)
	c.record("/v1/products/{id}", startTime, err)
	if err != nil {
		return nil, fmt.Errorf("retrieve product %s: %w: %v", id, billing.ErrProviderAPIError, err)
	}
	return prod, nil
}

func (c *apiClient) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	startTime := time.Now()
	session, err := c.sc.V1CheckoutSessions.Create(ctx, params)
	c.record("/v1/checkout/sessions", startTime, err)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w: %v", billing.ErrProviderAPIError, err)
	}
	return session, nil
}

func (c *apiClient) record(endpoint string, startTime time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordAPICall(providerName, endpoint, status)
	c.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(startTime))
}
