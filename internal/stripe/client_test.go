package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_CreateCheckoutSession(t *testing.T) {
	var gotForm map[string][]string
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		gotAuth = r.Header.Get("Authorization")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "cs_test_1", "url": "https://checkout.stripe.com/pay/cs_test_1"}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{SecretKey: "sk_test_1", BaseURL: srv.URL})
	session, err := c.CreateCheckoutSession(context.Background(), CheckoutParams{
		OrderID:     "42",
		AmountMinor: 4999,
		Currency:    "USD",
		SuccessURL:  "https://shop.example/done?order_id=42",
		CancelURL:   "https://shop.example/cancel",
	})
	require.NoError(t, err)

	assert.Equal(t, "cs_test_1", session.ID)
	assert.Equal(t, "https://checkout.stripe.com/pay/cs_test_1", session.URL)

	assert.Equal(t, "Bearer sk_test_1", gotAuth)
	assert.Equal(t, "payment", gotForm["mode"][0])
	assert.Equal(t, "card", gotForm["payment_method_types[0]"][0])
	assert.Equal(t, "usd", gotForm["line_items[0][price_data][currency]"][0], "currency must be lower-cased")
	assert.Equal(t, "4999", gotForm["line_items[0][price_data][unit_amount]"][0], "amount must be minor units")
	assert.Equal(t, "1", gotForm["line_items[0][quantity]"][0])
	assert.Equal(t, "Order #42", gotForm["line_items[0][price_data][product_data][name]"][0])
	assert.Equal(t, "42", gotForm["metadata[order_id]"][0])
	assert.NotContains(t, gotForm, "payment_intent_data[statement_descriptor_suffix]")
}

func TestClient_CreateCheckoutSession_DescriptorSuffix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "MYSHOP", r.PostForm.Get("payment_intent_data[statement_descriptor_suffix]"))
		_, _ = w.Write([]byte(`{"id": "cs_1", "url": "https://example.com"}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{SecretKey: "sk_test_1", BaseURL: srv.URL})
	_, err := c.CreateCheckoutSession(context.Background(), CheckoutParams{
		OrderID:                   "1",
		AmountMinor:               100,
		Currency:                  "usd",
		StatementDescriptorSuffix: "MYSHOP",
	})
	require.NoError(t, err)
}

func TestClient_CreateRefund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/refunds", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "pi_1", r.PostForm.Get("payment_intent"))
		assert.Equal(t, "1250", r.PostForm.Get("amount"))
		assert.Equal(t, "requested_by_customer", r.PostForm.Get("reason"))
		assert.Equal(t, "42", r.PostForm.Get("metadata[order_id]"))
		assert.Equal(t, "damaged item", r.PostForm.Get("metadata[reason]"))
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))

		_, _ = w.Write([]byte(`{"id": "re_1", "status": "succeeded"}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{SecretKey: "sk_test_1", BaseURL: srv.URL})
	refund, err := c.CreateRefund(context.Background(), RefundParams{
		PaymentIntent: "pi_1",
		AmountMinor:   1250,
		OrderID:       "42",
		Reason:        "damaged item",
	})
	require.NoError(t, err)
	assert.Equal(t, "re_1", refund.ID)
	assert.Equal(t, "succeeded", refund.Status)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error": {"type": "card_error", "code": "card_declined", "message": "Your card was declined."}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{SecretKey: "sk_test_1", BaseURL: srv.URL})
	_, err := c.CreateCheckoutSession(context.Background(), CheckoutParams{OrderID: "1", AmountMinor: 1, Currency: "usd"})
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusPaymentRequired, apiErr.StatusCode)
	assert.Equal(t, "card_declined", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "Your card was declined.")
	assert.NotContains(t, apiErr.Error(), "sk_test_1", "error text must not leak the secret key")
}

func TestClient_APIErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{SecretKey: "sk_test_1", BaseURL: srv.URL})
	_, err := c.CreateRefund(context.Background(), RefundParams{PaymentIntent: "pi_1", AmountMinor: 1})
	require.Error(t, err)

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}
