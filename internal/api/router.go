/**
 * @description
 * HTTP router setup for the payout-webhook-service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new Chi router and registers the webhook and operator routes.
func NewRouter(webhooks *WebhookHandler, operators *OperatorHandler, internalJWTSecret string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Payout webhook service is healthy"))
	})

	r.Method(http.MethodPost, "/webhooks/wise", webhooks)

	r.Route("/internal/deliveries", func(r chi.Router) {
		r.Use(InternalJWTMiddleware(internalJWTSecret))
		r.Get("/dead", operators.handleListDead)
		r.Post("/{id}/replay", operators.handleReplay)
	})

	return r
}
