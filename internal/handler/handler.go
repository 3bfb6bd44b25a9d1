// Package handler exposes the HTTP surface: the provider webhook endpoint and
// the order-facing checkout, refund, and status endpoints.
package handler

import (
	"net/http"
	"time"

	"github.com/xenking/checkout-bridge/internal/domain/order"
	"github.com/xenking/checkout-bridge/internal/domain/payment"
	"github.com/xenking/checkout-bridge/internal/domain/reconcile"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// WebhookSecret authenticates inbound webhook deliveries.
	WebhookSecret string
	// Tolerance is the accepted age of webhook timestamps; zero selects the
	// verifier default.
	Tolerance time.Duration
	// MaxWebhookBody caps the webhook request body size in bytes.
	MaxWebhookBody int64
}

const defaultMaxWebhookBody = 64 << 10

// Handler routes HTTP requests to the payment service and the webhook
// dispatcher.
type Handler struct {
	cfg        Config
	payments   *payment.Service
	dispatcher *reconcile.Dispatcher
	orders     order.Repository
}

// New constructs a Handler with the required domain dependencies.
func New(cfg Config, payments *payment.Service, dispatcher *reconcile.Dispatcher, orders order.Repository) *Handler {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 5 * time.Minute
	}
	if cfg.MaxWebhookBody <= 0 {
		cfg.MaxWebhookBody = defaultMaxWebhookBody
	}
	return &Handler{
		cfg:        cfg,
		payments:   payments,
		dispatcher: dispatcher,
		orders:     orders,
	}
}

// Register attaches all routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.Webhook)
	mux.HandleFunc("POST /api/orders/{id}/checkout", h.Checkout)
	mux.HandleFunc("POST /api/orders/{id}/refund", h.Refund)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
}
