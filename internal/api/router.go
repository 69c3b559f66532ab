/**
 * @description
 * This file sets up the HTTP router for the payment-service using the
 * go-chi/chi router. It defines the API routes, applies middleware for
 * logging, CORS, and authentication, and maps the routes to their
 * corresponding handler functions. The gateway webhook routes are public:
 * they are authenticated by signature, not by session.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the payment-service routes.
func NewRouter(h *Handler, wh *WebhookHandler, jwtSecret string) *chi.Mux {
	r := chi.NewRouter()

	// Setup middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Payment service is healthy"))
	})

	// Public gateway ingress, authenticated by signature inside the reconciler.
	r.Post("/webhooks/razorpay", wh.HandleRazorpayWebhook)
	r.Post("/webhooks/phonepe", wh.HandlePhonePeCallback)

	// Protected routes that require a user session
	r.Group(func(r chi.Router) {
		r.Use(SessionAuthMiddleware(jwtSecret))

		r.Post("/initiate-plan", h.handleInitiatePlan)
		r.Post("/buy-limit", h.handleBuyLimit)
		r.Post("/verify-razorpay", h.handleVerifyPayment)
		r.Get("/status", h.handleGetStatus)
		r.Post("/usage/consume", h.handleConsumeUsage)
	})

	return r
}
