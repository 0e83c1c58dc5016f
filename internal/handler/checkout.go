package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/botanique-shop/storefront/internal/order"
)

// CheckoutHandler serves the buyer-facing side of checkout completion: the
// success-page fetch that finalizes an order, and read-only order lookups for
// the confirmation page.
type CheckoutHandler struct {
	svc order.Service
}

func NewCheckoutHandler(svc order.Service) *CheckoutHandler {
	return &CheckoutHandler{svc: svc}
}

func (h *CheckoutHandler) RegisterRoutes(router chi.Router) {
	router.Get("/success", h.handleSuccess)
	router.Get("/orders/{id}", h.handleGetOrderByID)
	router.Get("/orders/session/{sessionID}", h.handleGetOrderBySession)
}

// handleSuccess runs when the buyer's browser returns from the hosted
// checkout. It races against the provider's webhook delivery for the same
// session; reconciliation makes the two converge on one order.
func (h *CheckoutHandler) handleSuccess(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Redirect(w, r, "/cart", http.StatusSeeOther)
		return
	}

	ord, err := h.svc.Reconcile(r.Context(), sessionID)
	if err != nil {
		// Provider and database details stay out of the buyer-facing
		// response.
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to finalize order on success page")
		respondWithError(w, http.StatusInternalServerError, "failed to finalize your order, please contact support")
		return
	}

	respondWithJSON(w, http.StatusOK, ord)
}

func (h *CheckoutHandler) handleGetOrderByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	ord, err := h.svc.GetOrderByID(r.Context(), id)
	if err != nil {
		if !errors.Is(err, order.ErrOrderNotFound) {
			log.Error().Err(err).Stringer("order_id", id).Msg("Failed to get order by id")
		}
		respondWithError(w, mapErrorToStatusCode(err), "failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, ord)
}

func (h *CheckoutHandler) handleGetOrderBySession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		respondWithError(w, http.StatusBadRequest, "session id is required")
		return
	}

	ord, err := h.svc.GetOrderBySessionID(r.Context(), sessionID)
	if err != nil {
		if !errors.Is(err, order.ErrOrderNotFound) {
			log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to get order by session id")
		}
		respondWithError(w, mapErrorToStatusCode(err), "failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, ord)
}
