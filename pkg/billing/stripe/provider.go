package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/grantware/creditledger/pkg/billing"
	"github.com/grantware/creditledger/pkg/billing/internal"
	"github.com/grantware/creditledger/pkg/creditledger"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	defaultPlanLabel         = "unknown"
	defaultAccountRefKey     = "user_id"

	maxWebhookBodyBytes = 256 * 1024
)

// Config extends billing.Config with Stripe-specific options.
type Config struct {
	billing.Config // Base config (Ledger, Metrics, Logger, etc.)

	// Stripe-specific
	StripeAPIKey        string
	StripeWebhookSecret string

	// AccountRefMetadataKey is the metadata key carrying the internal
	// account reference on sessions and subscriptions (default: "user_id").
	AccountRefMetadataKey string

	// DefaultPlanLabel is stored when product metadata carries no plan
	// label (default: "unknown").
	DefaultPlanLabel string

	// API overrides the Stripe client, for testing. If nil, a real
	// client is built from StripeAPIKey.
	API API
}

// Provider implements the billing.Provider interface for Stripe.
type Provider struct {
	ledger        *creditledger.Ledger
	config        Config
	api           API
	normalizer    *Normalizer
	rateLimiter   *internal.RateLimiter
	webhookSecret []byte
	metrics       billing.Metrics
	logger        creditledger.Logger
}

// NewProvider creates a new Stripe billing provider.
func NewProvider(config Config) (*Provider, error) {
	if config.Ledger == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	// Stripe-specific fields win; the generic billing.Config fields are
	// fallbacks so provider-agnostic wiring keeps working.
	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(config.APIKey)
	}
	if apiKey == "" && config.API == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = &creditledger.NoopLogger{}
	}
	if config.AccountRefMetadataKey == "" {
		config.AccountRefMetadataKey = defaultAccountRefKey
	}
	if config.DefaultPlanLabel == "" {
		config.DefaultPlanLabel = defaultPlanLabel
	}

	api := config.API
	if api == nil {
		api = newAPIClient(apiKey, httpClient, metrics)
	}

	webhookSecret := strings.TrimSpace(config.StripeWebhookSecret)
	if webhookSecret == "" {
		webhookSecret = strings.TrimSpace(config.WebhookSecret)
	}

	normalizer := NewNormalizer(api, NormalizerConfig{
		AccountRefMetadataKey: config.AccountRefMetadataKey,
		DefaultPlanLabel:      config.DefaultPlanLabel,
		Logger:                logger,
	})

	return &Provider{
		ledger:        config.Ledger,
		config:        config,
		api:           api,
		normalizer:    normalizer,
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		webhookSecret: []byte(webhookSecret),
		metrics:       metrics,
		logger:        logger,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks, wrapped
// with per-IP rate limiting.
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// Normalizer exposes the provider's event normalizer, mainly so callers
// can feed replayed events through the same pipeline.
func (p *Provider) Normalizer() *Normalizer {
	return p.normalizer
}
