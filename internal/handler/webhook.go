package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/botanique-shop/storefront/internal/order"
	"github.com/botanique-shop/storefront/internal/payment"
)

// Stripe webhook payloads are small; anything larger is not a legitimate
// event.
const maxWebhookBodyBytes = 1 << 16

// WebhookHandler receives asynchronous payment lifecycle events from the
// provider. The signature check runs before anything else touches the
// payload; an unverified body is never processed.
type WebhookHandler struct {
	svc      order.Service
	verifier payment.WebhookVerifier
}

func NewWebhookHandler(svc order.Service, verifier payment.WebhookVerifier) *WebhookHandler {
	return &WebhookHandler{svc: svc, verifier: verifier}
}

func (h *WebhookHandler) RegisterRoutes(router chi.Router) {
	router.Post("/api/webhooks/stripe", h.handleStripeEvent)
}

// handleStripeEvent acknowledges every event it handled or deliberately
// ignored with 200 so the provider stops redelivering it. Error statuses are
// reserved for signature failures (400) and internal failures (500), which
// the provider retries.
func (h *WebhookHandler) handleStripeEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	event, err := h.verifier.VerifyEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		log.Warn().Err(err).Msg("Rejected webhook with invalid signature")
		respondWithError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	ctx := r.Context()

	switch event.Type {
	case payment.EventCheckoutSessionCompleted:
		ord, err := h.svc.Reconcile(ctx, event.SessionID)
		if err != nil {
			log.Error().Err(err).Str("session_id", event.SessionID).Msg("Failed to reconcile completed checkout session")
			respondWithError(w, http.StatusInternalServerError, "failed to process event")
			return
		}
		log.Info().Str("session_id", event.SessionID).Stringer("order_id", ord.ID).Msg("Checkout session reconciled")

	case payment.EventPaymentIntentSucceeded:
		ord, err := h.svc.ReconcileByPaymentIntent(ctx, event.PaymentIntentID)
		if err != nil {
			log.Error().Err(err).Str("payment_intent_id", event.PaymentIntentID).Msg("Failed to reconcile succeeded payment intent")
			respondWithError(w, http.StatusInternalServerError, "failed to process event")
			return
		}
		if ord == nil {
			// Not every payment intent belongs to a checkout session in this
			// flow.
			log.Info().Str("payment_intent_id", event.PaymentIntentID).Msg("Payment intent has no checkout session, ignoring")
		}

	case payment.EventPaymentIntentFailed:
		err := h.svc.MarkPaymentFailed(ctx, event.PaymentIntentID)
		if err != nil {
			if errors.Is(err, order.ErrOrderNotFound) {
				// The order may not have been created yet, or never will be.
				log.Info().Str("payment_intent_id", event.PaymentIntentID).Msg("No order for failed payment intent, ignoring")
			} else {
				log.Error().Err(err).Str("payment_intent_id", event.PaymentIntentID).Msg("Failed to mark payment failed")
				respondWithError(w, http.StatusInternalServerError, "failed to process event")
				return
			}
		}

	default:
		log.Info().Str("event_type", event.Type).Msg("Ignoring unhandled webhook event type")
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
}
