/**
 * @description
 * This file sets up the HTTP router for the settlement-service using the chi library.
 * It defines the API routes and splits them across three auth surfaces: an internal
 * server-to-server surface for order ingestion, an admin surface for ledger overrides
 * and payout management, and a read surface for ledger queries.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight, idiomatic router for Go HTTP services.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates and configures a new chi router with all the service's routes.
func NewRouter(handlers *SettlementHandlers, jwksURL, internalAPIKey string) *chi.Mux {
	r := chi.NewRouter()

	// Set up standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Internal endpoints for service-to-service communication
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))
		r.Post("/orders", handlers.CreateOrderSettlementHandler)
	})

	// Read endpoints for ledger queries
	r.Group(func(r chi.Router) {
		r.Get("/transactions/{transactionID}", handlers.GetTransactionHandler)
		r.Get("/sellers/{sellerID}/transactions", handlers.ListSellerTransactionsHandler)
		r.Get("/sellers/{sellerID}/summary", handlers.GetSellerSummaryHandler)
		r.Get("/sellers/{sellerID}/pending-payout", handlers.ListPendingForPayoutHandler)
		r.Get("/virtual-payouts", handlers.ListVirtualPayoutsHandler)
		r.Get("/fee-schedules/{modality}", handlers.GetFeeScheduleHandler)
		r.Get("/payouts/{payoutID}", handlers.GetPayoutHandler)
	})

	// Admin endpoints for overrides and payout management
	r.Group(func(r chi.Router) {
		r.Use(AdminAuthMiddleware(jwksURL))
		r.Put("/fee-schedules/{modality}", handlers.UpdateFeeScheduleHandler)
		r.Post("/transactions/{transactionID}/block", handlers.BlockTransactionHandler)
		r.Post("/transactions/{transactionID}/unblock", handlers.UnblockTransactionHandler)
		r.Post("/transactions/{transactionID}/anticipate", handlers.AnticipateTransactionHandler)
		r.Post("/transactions/{transactionID}/revert-anticipation", handlers.RevertAnticipationHandler)
		r.Post("/payouts", handlers.CreatePayoutHandler)
		r.Delete("/payouts/{payoutID}", handlers.DeletePayoutHandler)
		r.Post("/sweep", handlers.RunSweepHandler)
	})

	return r
}
