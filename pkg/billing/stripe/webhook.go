package stripe

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/grantware/creditledger/pkg/billing"
	"github.com/grantware/creditledger/pkg/billing/internal"
	"github.com/grantware/creditledger/pkg/creditledger"
)

// handleWebhook processes incoming Stripe webhook events. Response codes
// drive Stripe's redelivery: 400 for signature failures (never retried
// internally), 500 for processing failures (Stripe redelivers, and the
// ledger's idempotence makes redelivery safe).
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBody(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}

	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		http.Error(w, "bad signature", http.StatusBadRequest)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	status, err := p.processEvent(r.Context(), &event)
	p.metrics.RecordWebhookEvent(providerName, eventType, status)
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
	if err != nil {
		p.logger.Error("webhook processing failed",
			creditledger.Field{Key: "event_type", Value: eventType},
			creditledger.Field{Key: "error", Value: err.Error()})
		p.metrics.RecordWebhookError(providerName, "processing_error")
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		return
	}

	_ = internal.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// processEvent normalizes an event and applies its ledger effect.
// Returns a status label for metrics and an error when the delivery
// should be retried by Stripe.
func (p *Provider) processEvent(ctx context.Context, event *stripe.Event) (string, error) {
	outcome, err := p.normalizer.Normalize(ctx, event)
	if err != nil {
		return "error", err
	}

	switch outcome.Kind {
	case billing.OutcomeGrant:
		result, err := p.ledger.ApplyGrant(ctx, *outcome.Grant)
		if err != nil {
			return "error", err
		}
		if result.AlreadyApplied {
			return "duplicate", nil
		}
		return "applied", nil

	case billing.OutcomeStatusChange:
		if _, err := p.ledger.ApplyStatusChange(ctx, *outcome.StatusChange); err != nil {
			return "error", err
		}
		return "applied", nil

	default:
		p.logger.Debug("webhook event ignored",
			creditledger.Field{Key: "event_type", Value: string(event.Type)},
			creditledger.Field{Key: "reason", Value: outcome.Reason})
		return "ignored", nil
	}
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
