package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/botanique-shop/storefront/internal/handler"
	"github.com/botanique-shop/storefront/internal/order"
	"github.com/botanique-shop/storefront/internal/payment"
)

func NewRouter(svc order.Service, verifier payment.WebhookVerifier) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	handler.NewCheckoutHandler(svc).RegisterRoutes(r)
	handler.NewWebhookHandler(svc, verifier).RegisterRoutes(r)

	return r
}
