/**
 * @description
 * HTTP router for the lifecycle-service using go-chi. Applies logging,
 * recovery, timeout and CORS middleware, and gates the subscription action
 * routes behind JWT authentication.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new chi router and registers the lifecycle-service routes.
func NewRouter(h *Handler, jwksURL string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Lifecycle service is healthy"))
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		r.Get("/subscriptions/{id}", h.handleGetSubscription)
		r.Post("/subscriptions/{id}/renew", h.handleManualRenew)
		r.Post("/subscriptions/{id}/cancel", h.handleCancel)
		r.Post("/subscriptions/{id}/auto-renew", h.handleSetAutoRenew)
	})

	return r
}
