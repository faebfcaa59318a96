// Package routes wires handlers onto the router.
package routes

import (
	"github.com/ortegalabs/fieldkeep/internal/auth"
	"github.com/ortegalabs/fieldkeep/internal/handler"
	"github.com/ortegalabs/fieldkeep/internal/middleware"
	"github.com/ortegalabs/fieldkeep/internal/router"
)

// PaymentDeps contains dependencies for the payment routes.
type PaymentDeps struct {
	Handler  *handler.PaymentHandler
	Verifier auth.TokenVerifier
}

// RegisterPaymentRoutes registers the payment engine's HTTP surface.
//
// Webhook and detect-country routes carry NO authentication middleware:
// webhook authenticity is established per-processor inside the ingestor,
// and detect-country is a public diagnostic.
func RegisterPaymentRoutes(r *router.Router, deps PaymentDeps) {
	requireAuth := middleware.RequireBearer(deps.Verifier)

	r.Post("/payments/checkout", deps.Handler.Checkout, requireAuth)
	r.Get("/payments/subscription/{processor}/{id}", deps.Handler.GetSubscription, requireAuth)
	r.Post("/payments/subscription/cancel", deps.Handler.CancelSubscription, requireAuth)

	r.Post("/payments/webhook/{processor}", deps.Handler.Webhook)
	r.Get("/payments/detect-country", deps.Handler.DetectCountry)
}
