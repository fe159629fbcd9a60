/**
 * @description
 * This file sets up the HTTP router for the apartment-payment-service. It
 * defines the API endpoints, associates them with their corresponding
 * handlers, and applies middleware. The two VNPay callback endpoints stay
 * outside the auth group: the gateway authenticates with its HMAC signature,
 * not a bearer token.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PaymentRoutes creates and returns a new router for the payment service.
func PaymentRoutes(h *PaymentHandlers, jwksURL string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Public gateway callbacks, authenticated by HMAC signature.
	r.Get("/payments/vnpay/return", h.VNPayReturnHandler)
	r.Get("/payments/vnpay/ipn", h.VNPayIPNHandler)

	// Resident endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		r.Post("/payments/categories/{categoryID}/vnpay", h.CreateVNPayPaymentHandler)
		r.Get("/payments/mine", h.ListMyPaymentsHandler)
		r.Get("/payments/{transactionID}", h.GetMyTransactionHandler)
		r.Get("/payments/categories", h.ListFeeCategoriesHandler)
	})

	// Administrative endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))
		r.Use(RequireRoles(RoleAdmin, RoleManagement))

		r.Post("/payments/{transactionID}/refund", h.RefundPaymentHandler)
		r.Get("/payments/{transactionID}/gateway", h.QueryPaymentHandler)
		r.Patch("/payments/{transactionID}/status", h.OverrideStatusHandler)
		r.Post("/payments/categories", h.CreateFeeCategoryHandler)
		r.Put("/payments/categories/{categoryID}", h.UpdateFeeCategoryHandler)
	})

	return r
}
