// Package payment orchestrates the two synchronous provider flows: sending a
// buyer to hosted checkout and initiating a refund. Neither flow writes a
// terminal order status; that is the webhook dispatcher's job.
package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/checkout-bridge/internal/domain/order"
	"github.com/xenking/checkout-bridge/internal/stripe"
)

// Sentinel errors surfaced to callers.
var (
	ErrNoPaymentIntent = errors.New("payment intent not found for order")
	ErrInvalidAmount   = errors.New("refund amount must be positive")
)

// ProviderError wraps a failed provider call with a message safe to show to
// the buyer.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string { return "payment provider: " + e.Err.Error() }
func (e *ProviderError) Unwrap() error { return e.Err }

// Client is the provider surface the service depends on.
type Client interface {
	CreateCheckoutSession(ctx context.Context, p stripe.CheckoutParams) (*stripe.CheckoutSession, error)
	CreateRefund(ctx context.Context, p stripe.RefundParams) (*stripe.Refund, error)
}

// Config holds the non-dependency settings of the payment service.
type Config struct {
	// SuccessURL and CancelURL are the redirect targets after hosted
	// checkout. The order id is substituted for "{order_id}" in each.
	SuccessURL string
	CancelURL  string
	// StatementDescriptorSuffix is passed through to session creation.
	StatementDescriptorSuffix string
	// StoreTimeout bounds each order store round trip.
	StoreTimeout time.Duration
}

// Service implements checkout and refund initiation against the provider.
type Service struct {
	orders order.Repository
	client Client
	cfg    Config
}

// NewService creates a payment Service.
func NewService(orders order.Repository, client Client, cfg Config) *Service {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &Service{orders: orders, client: client, cfg: cfg}
}

// Checkout creates a hosted checkout session for the order and returns the
// redirect URL. On provider failure the order stays pending, gets a failure
// audit note, and the returned *ProviderError carries a user-facing message.
func (s *Service) Checkout(ctx context.Context, orderID string) (string, error) {
	o, err := s.getOrder(ctx, orderID)
	if err != nil {
		return "", err
	}

	o.AppendNote("Customer initiated Stripe payment.")

	session, err := s.client.CreateCheckoutSession(ctx, stripe.CheckoutParams{
		OrderID:                   o.ID,
		AmountMinor:               order.MinorUnits(o.Total),
		Currency:                  strings.ToLower(o.Currency),
		CustomerEmail:             o.CustomerEmail,
		SuccessURL:                expandURL(s.cfg.SuccessURL, o.ID),
		CancelURL:                 expandURL(s.cfg.CancelURL, o.ID),
		StatementDescriptorSuffix: s.cfg.StatementDescriptorSuffix,
	})
	if err != nil {
		o.AppendNote("Stripe payment failed: " + err.Error())
		if saveErr := s.saveOrder(ctx, o); saveErr != nil {
			zctx.From(ctx).Error("Persisting checkout failure note",
				zap.String("order_id", o.ID), zap.Error(saveErr))
		}
		return "", &ProviderError{Err: err}
	}

	o.SessionID = session.ID
	o.AppendNote(fmt.Sprintf(
		"Stripe checkout session created (ID: %s). Customer redirected to Stripe.",
		session.ID,
	))
	if err := s.saveOrder(ctx, o); err != nil {
		return "", err
	}
	return session.URL, nil
}

// Refund asks the provider to refund the given major-unit amount of the
// order's payment. Success is recorded as an audit note only: the order
// status flips to refunded when the charge.refunded webhook arrives, since
// refunds can also originate from the provider's own dashboard.
func (s *Service) Refund(ctx context.Context, orderID string, amount decimal.Decimal, reason string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	o, err := s.getOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.PaymentIntentID == "" {
		return ErrNoPaymentIntent
	}

	minor := order.MinorUnits(amount)
	refund, err := s.client.CreateRefund(ctx, stripe.RefundParams{
		PaymentIntent: o.PaymentIntentID,
		AmountMinor:   minor,
		OrderID:       o.ID,
		Reason:        reason,
	})
	if err != nil {
		return &ProviderError{Err: err}
	}

	o.AppendNote(fmt.Sprintf(
		"Refunded %s via Stripe - Refund ID: %s",
		order.FormatAmount(minor, o.Currency),
		refund.ID,
	))
	return s.saveOrder(ctx, o)
}

func (s *Service) getOrder(ctx context.Context, id string) (*order.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	return o, nil
}

func (s *Service) saveOrder(ctx context.Context, o *order.Order) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.orders.Update(ctx, o); err != nil {
		return errors.Wrapf(err, "update order %q", o.ID)
	}
	return nil
}

// expandURL substitutes the order id into a redirect URL template.
func expandURL(tmpl, orderID string) string {
	return strings.ReplaceAll(tmpl, "{order_id}", orderID)
}
