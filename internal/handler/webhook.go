package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/checkout-bridge/internal/domain/reconcile"
	"github.com/xenking/checkout-bridge/internal/stripe"
)

// Webhook handles provider event deliveries. The body is treated as raw bytes
// and the signature header is passed explicitly into the verifier; no payload
// field is read, and no order is looked up, before verification succeeds.
//
// Status mapping controls provider retries: 400 for deliveries that can never
// succeed (bad signature, stale timestamp, malformed payload), 200 for
// everything handled or intentionally ignored (including unknown orders, so
// the provider stops redelivering events for deleted orders), 500 only for
// store faults, which the provider retries.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	lg := zctx.From(r.Context())

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxWebhookBody))
	if err != nil {
		lg.Warn("Webhook body read failed", zap.Error(err))
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	ev, err := stripe.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.cfg.WebhookSecret, h.cfg.Tolerance)
	if err != nil {
		switch {
		case errors.Is(err, stripe.ErrBadSignature), errors.Is(err, stripe.ErrStalePayload):
			lg.Warn("Webhook rejected", zap.Error(err))
			http.Error(w, "Invalid signature", http.StatusBadRequest)
		default:
			lg.Warn("Webhook payload unparseable", zap.Error(err))
			http.Error(w, "Invalid payload", http.StatusBadRequest)
		}
		return
	}

	outcome, err := h.dispatcher.Dispatch(r.Context(), ev)
	if err != nil {
		http.Error(w, "Error processing webhook", http.StatusInternalServerError)
		return
	}
	if outcome == reconcile.OutcomeMalformed {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Webhook handled"))
}
