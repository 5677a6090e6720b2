package billing

import (
	"net/http"

	"github.com/grantware/creditledger/pkg/creditledger"
)

// Config defines the standard configuration all providers should accept.
type Config struct {
	// Ledger is the creditledger.Ledger instance that normalized events
	// are applied to.
	Ledger *creditledger.Ledger

	// WebhookSecret is used to verify incoming webhook requests (e.g.
	// the Stripe signing secret).
	WebhookSecret string

	// APIKey is used for outbound API calls to the payment provider
	// (metadata lookups, checkout-session creation).
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Metrics is an optional metrics collector for tracking provider
	// operations. If nil, metrics are silently ignored (no-op).
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger).
	Logger creditledger.Logger
}
