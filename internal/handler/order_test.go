package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/checkout-bridge/internal/domain/order"
	"github.com/xenking/checkout-bridge/internal/domain/payment"
	"github.com/xenking/checkout-bridge/internal/domain/reconcile"
	"github.com/xenking/checkout-bridge/internal/stripe"
)

// stubClient answers provider calls with canned responses.
type stubClient struct {
	session    *stripe.CheckoutSession
	sessionErr error
	refund     *stripe.Refund
	refundErr  error
}

func (c *stubClient) CreateCheckoutSession(context.Context, stripe.CheckoutParams) (*stripe.CheckoutSession, error) {
	return c.session, c.sessionErr
}

func (c *stubClient) CreateRefund(context.Context, stripe.RefundParams) (*stripe.Refund, error) {
	return c.refund, c.refundErr
}

func newOrderMux(repo order.Repository, client payment.Client) *http.ServeMux {
	dispatcher := reconcile.NewDispatcher(repo, time.Second)
	payments := payment.NewService(repo, client, payment.Config{
		SuccessURL: "https://shop.example/thanks?order={order_id}",
		CancelURL:  "https://shop.example/cart",
	})
	h := New(Config{WebhookSecret: webhookSecret}, payments, dispatcher, repo)

	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func doRequest(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCheckout_ReturnsRedirect(t *testing.T) {
	repo := newMemRepo(pendingOrder("42"))
	client := &stubClient{session: &stripe.CheckoutSession{
		ID:  "cs_1",
		URL: "https://checkout.stripe.com/pay/cs_1",
	}}
	mux := newOrderMux(repo, client)

	rec := doRequest(mux, http.MethodPost, "/api/orders/42/checkout", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp["result"])
	assert.Equal(t, "https://checkout.stripe.com/pay/cs_1", resp["redirect"])

	o := repo.get("42")
	assert.Equal(t, "cs_1", o.SessionID)
	assert.Equal(t, order.StatusPending, o.Status)
}

func TestCheckout_UnknownOrder(t *testing.T) {
	mux := newOrderMux(newMemRepo(), &stubClient{})

	rec := doRequest(mux, http.MethodPost, "/api/orders/9999/checkout", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckout_ProviderFailure(t *testing.T) {
	repo := newMemRepo(pendingOrder("42"))
	client := &stubClient{sessionErr: errors.New("rate limited")}
	mux := newOrderMux(repo, client)

	rec := doRequest(mux, http.MethodPost, "/api/orders/42/checkout", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Payment error: rate limited")
	assert.Equal(t, order.StatusPending, repo.get("42").Status)
}

func TestRefund_Accepted(t *testing.T) {
	o := pendingOrder("42")
	o.Status = order.StatusPaid
	o.PaymentIntentID = "pi_1"
	repo := newMemRepo(o)
	mux := newOrderMux(repo, &stubClient{refund: &stripe.Refund{ID: "re_1", Status: "succeeded"}})

	rec := doRequest(mux, http.MethodPost, "/api/orders/42/refund",
		`{"amount": "12.50", "reason": "customer request"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)

	// The refund endpoint records an audit note only. The status change
	// arrives over the webhook.
	got := repo.get("42")
	assert.Equal(t, order.StatusPaid, got.Status)
	require.Len(t, got.Notes, 1)
	assert.Contains(t, got.Notes[0].Text, "re_1")
}

func TestRefund_RequiresPaymentIntent(t *testing.T) {
	repo := newMemRepo(pendingOrder("42"))
	mux := newOrderMux(repo, &stubClient{})

	rec := doRequest(mux, http.MethodPost, "/api/orders/42/refund", `{"amount": "12.50"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRefund_RejectsNonPositiveAmount(t *testing.T) {
	repo := newMemRepo(pendingOrder("42"))
	mux := newOrderMux(repo, &stubClient{})

	rec := doRequest(mux, http.MethodPost, "/api/orders/42/refund", `{"amount": "0"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefund_InvalidBody(t *testing.T) {
	mux := newOrderMux(newMemRepo(pendingOrder("42")), &stubClient{})

	rec := doRequest(mux, http.MethodPost, "/api/orders/42/refund", `{"amount": not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrder(t *testing.T) {
	o := pendingOrder("42")
	o.Status = order.StatusPaid
	o.PaymentIntentID = "pi_1"
	o.Notes = []order.Note{{Text: "Customer initiated Stripe payment.", CreatedAt: time.Now()}}
	repo := newMemRepo(o)
	mux := newOrderMux(repo, &stubClient{})

	rec := doRequest(mux, http.MethodGet, "/api/orders/42", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "42", resp.ID)
	assert.Equal(t, "49.99", resp.Total)
	assert.Equal(t, order.StatusPaid, resp.Status)
	assert.Equal(t, "pi_1", resp.PaymentIntentID)
	require.Len(t, resp.Notes, 1)

	rec = doRequest(mux, http.MethodGet, "/api/orders/9999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
