package billing

import (
	"net/http"
)

// Provider is the generic interface that any payment backend must implement.
// This allows the application to swap Stripe for another provider with zero
// ledger changes.
type Provider interface {
	// Name returns the provider name (e.g., "stripe").
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time
	// payment events. The implementation handles signature verification,
	// normalization, and ledger updates internally.
	WebhookHandler() http.Handler
}
