package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// DefaultAPIBase is the provider's REST API base URL. Overridable in tests
// via ClientConfig.BaseURL.
const DefaultAPIBase = "https://api.stripe.com"

// ClientConfig holds the configuration for creating a Client.
type ClientConfig struct {
	// SecretKey authenticates outbound API calls. Selected from the live or
	// test credential pair by the application config.
	SecretKey string
	// BaseURL overrides the API base URL; defaults to DefaultAPIBase.
	BaseURL string
	// HTTPClient performs the requests. When nil a client with a 20 second
	// timeout is used so no provider call can block a request indefinitely.
	HTTPClient *http.Client
}

// Client is a thin REST client for the two provider calls the service makes:
// creating hosted checkout sessions and creating refunds.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
}

// NewClient creates a Client from cfg, applying defaults for the base URL and
// HTTP client.
func NewClient(cfg ClientConfig) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 20 * time.Second}
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultAPIBase
	}
	return &Client{
		httpClient: hc,
		baseURL:    strings.TrimSuffix(base, "/"),
		secretKey:  cfg.SecretKey,
	}
}

// Error is a decoded provider API error. Its message comes from the provider
// response body and never includes the secret key.
type Error struct {
	StatusCode int
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("stripe: %s (%s)", e.Message, e.Type)
	}
	return fmt.Sprintf("stripe: request failed with status %d", e.StatusCode)
}

// CheckoutParams describes the single-line-item session the checkout flow
// creates for an order. AmountMinor is in integer minor currency units.
type CheckoutParams struct {
	OrderID       string
	AmountMinor   int64
	Currency      string
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
	// StatementDescriptorSuffix is appended to the account descriptor on the
	// buyer's card statement. Omitted from the request when empty.
	StatementDescriptorSuffix string
}

// CreateCheckoutSession creates a hosted checkout session for one order and
// returns its handle, including the redirect URL for the buyer.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(p.Currency))
	form.Set("line_items[0][price_data][product_data][name]", "Order #"+p.OrderID)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(p.AmountMinor, 10))
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	form.Set("metadata[order_id]", p.OrderID)
	if p.CustomerEmail != "" {
		form.Set("metadata[customer_email]", p.CustomerEmail)
	}
	if p.StatementDescriptorSuffix != "" {
		form.Set("payment_intent_data[statement_descriptor_suffix]", p.StatementDescriptorSuffix)
	}

	var session CheckoutSession
	if err := c.do(ctx, "/v1/checkout/sessions", form, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// RefundParams describes a refund against a previously recorded payment.
type RefundParams struct {
	PaymentIntent string
	AmountMinor   int64
	OrderID       string
	Reason        string
}

// Refund is the provider's refund object, trimmed to the fields the service
// records.
type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateRefund creates a refund for the given payment intent. The caller does
// not flip the order to refunded on success; the charge.refunded webhook is
// the single writer of that status.
func (c *Client) CreateRefund(ctx context.Context, p RefundParams) (*Refund, error) {
	form := url.Values{}
	form.Set("payment_intent", p.PaymentIntent)
	form.Set("amount", strconv.FormatInt(p.AmountMinor, 10))
	form.Set("reason", "requested_by_customer")
	form.Set("metadata[order_id]", p.OrderID)
	if p.Reason != "" {
		form.Set("metadata[reason]", p.Reason)
	}

	var refund Refund
	if err := c.do(ctx, "/v1/refunds", form, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

// do POSTs a form-encoded request and decodes the JSON response into out.
// Provider-side failures are returned as *Error.
func (c *Client) do(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Idempotency-Key", uuid.New().String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "stripe request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		var envelope struct {
			Error *Error `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&envelope); decodeErr == nil && envelope.Error != nil {
			envelope.Error.StatusCode = resp.StatusCode
			apiErr = envelope.Error
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode stripe response")
	}
	return nil
}
