package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrInvalidWebhook is returned when a webhook payload fails signature verification.
var ErrInvalidWebhook = errors.New("payments: invalid webhook signature")

// Webhook event types handled by the API.
const (
	EventCheckoutSessionCompleted      = "checkout.session.completed"
	EventCheckoutSessionAsyncSucceeded = "checkout.session.async_payment_succeeded"
)

// WebhookEvent is the verified subset of a processor event.
type WebhookEvent struct {
	ID        string
	Type      string
	SessionID string
}

// Settles reports whether the event may complete a checkout session.
func (e WebhookEvent) Settles() bool {
	return e.SessionID != "" && (e.Type == EventCheckoutSessionCompleted || e.Type == EventCheckoutSessionAsyncSucceeded)
}

// StripeWebhookVerifier checks Stripe-Signature headers against the endpoint secret.
type StripeWebhookVerifier struct {
	secret string
}

// NewStripeWebhookVerifier constructs a verifier for secret.
func NewStripeWebhookVerifier(secret string) (*StripeWebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	return &StripeWebhookVerifier{secret: secret}, nil
}

// Verify validates the signature and extracts the checkout session id when present.
func (v *StripeWebhookVerifier) Verify(payload []byte, signature string) (WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	out := WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil || !strings.HasPrefix(out.Type, "checkout.session.") {
		return out, nil
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return WebhookEvent{}, fmt.Errorf("stripe: decode checkout session event: %w", err)
	}
	out.SessionID = session.ID
	return out, nil
}
