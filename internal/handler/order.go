package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-bridge/internal/domain/order"
	"github.com/xenking/checkout-bridge/internal/domain/payment"
)

// Checkout creates a hosted checkout session for the order and returns the
// redirect URL the buyer should be sent to.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	redirect, err := h.payments.Checkout(r.Context(), r.PathValue("id"))
	if err != nil {
		h.mapPaymentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"result":   "success",
		"redirect": redirect,
	})
}

// refundRequest is the body of a refund initiation call. Amount is in major
// currency units.
type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// Refund initiates a provider refund. The response acknowledges the request
// only; the order flips to refunded when the provider's webhook confirms it.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.payments.Refund(r.Context(), r.PathValue("id"), req.Amount, req.Reason); err != nil {
		h.mapPaymentError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"result": "success"})
}

// orderResponse is the JSON projection of an order, audit trail included.
type orderResponse struct {
	ID              string         `json:"id"`
	Total           string         `json:"total"`
	Currency        string         `json:"currency"`
	Status          order.Status   `json:"status"`
	SessionID       string         `json:"session_id,omitempty"`
	PaymentIntentID string         `json:"payment_intent_id,omitempty"`
	Notes           []noteResponse `json:"notes"`
}

type noteResponse struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// GetOrder returns the order's status, correlation metadata, and audit trail.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			respondError(w, http.StatusNotFound, "order not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	notes := make([]noteResponse, len(o.Notes))
	for i, n := range o.Notes {
		notes[i] = noteResponse{Text: n.Text, CreatedAt: n.CreatedAt}
	}
	respondJSON(w, http.StatusOK, orderResponse{
		ID:              o.ID,
		Total:           o.Total.StringFixed(2),
		Currency:        o.Currency,
		Status:          o.Status,
		SessionID:       o.SessionID,
		PaymentIntentID: o.PaymentIntentID,
		Notes:           notes,
	})
}

// mapPaymentError converts payment service errors to API responses.
func (h *Handler) mapPaymentError(w http.ResponseWriter, err error) {
	var provErr *payment.ProviderError
	switch {
	case errors.Is(err, order.ErrNotFound):
		respondError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, payment.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, payment.ErrNoPaymentIntent):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &provErr):
		respondError(w, http.StatusBadGateway, "Payment error: "+provErr.Err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
