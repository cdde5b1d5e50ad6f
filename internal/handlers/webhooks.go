package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/itamarnascimento/shop-dash-catalogue/internal/payments"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/httpx"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/platform/observability"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/services"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	maxWebhookBodyBytes   = 256 * 1024
)

// WebhookVerifier authenticates a processor webhook payload.
type WebhookVerifier interface {
	Verify(payload []byte, signature string) (payments.WebhookEvent, error)
}

// WebhookHandlers receives processor events and reconciles settled checkout sessions.
type WebhookHandlers struct {
	verifier   WebhookVerifier
	reconciler services.PaymentReconciler
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(verifier WebhookVerifier, reconciler services.PaymentReconciler) *WebhookHandlers {
	return &WebhookHandlers{verifier: verifier, reconciler: reconciler}
}

// Routes registers POST /stripe under the webhooks prefix.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

type webhookAck struct {
	Received bool   `json:"received"`
	Status   string `json:"status"`
	OrderID  string `json:"orderId,omitempty"`
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil || h.reconciler == nil {
		writeUnavailable(ctx, w, "webhook")
		return
	}

	payload, err := httpx.ReadBody(r, maxWebhookBodyBytes)
	if err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	signature := strings.TrimSpace(r.Header.Get(stripeSignatureHeader))
	if signature == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "missing signature header", http.StatusBadRequest))
		return
	}
	event, err := h.verifier.Verify(payload, signature)
	if err != nil {
		observability.FromContext(ctx).Warn("webhook signature rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "signature verification failed", http.StatusBadRequest))
		return
	}

	logger := observability.FromContext(ctx).With(zap.String("eventId", event.ID), zap.String("eventType", event.Type))
	if !event.Settles() {
		logger.Debug("webhook event ignored")
		httpx.WriteJSON(w, http.StatusOK, webhookAck{Received: true, Status: "ignored"})
		return
	}

	result, err := h.reconciler.Reconcile(ctx, event.SessionID)
	switch {
	case errors.Is(err, services.ErrPaymentIncomplete):
		// async payment methods complete the session before funds arrive
		logger.Info("webhook session not yet paid", zap.String("sessionId", event.SessionID))
		httpx.WriteJSON(w, http.StatusOK, webhookAck{Received: true, Status: "awaiting_payment"})
		return
	case err != nil:
		logger.Error("webhook reconcile failed", zap.String("sessionId", event.SessionID), zap.Error(err))
		writeServiceError(ctx, w, err)
		return
	}

	status := "created"
	if result.Duplicate {
		status = "already_processed"
	}
	httpx.WriteJSON(w, http.StatusOK, webhookAck{Received: true, Status: status, OrderID: result.OrderID})
}
