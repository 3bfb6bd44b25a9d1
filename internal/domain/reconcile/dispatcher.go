// Package reconcile applies verified webhook events to order state. It is the
// single writer of terminal order statuses: checkout and refund initiation
// only annotate orders, while the event dispatcher here decides transitions.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/checkout-bridge/internal/domain/order"
	"github.com/xenking/checkout-bridge/internal/stripe"
)

// Outcome classifies the result of dispatching one verified event.
type Outcome int

const (
	// OutcomeApplied means the event caused a state transition.
	OutcomeApplied Outcome = iota + 1
	// OutcomeAlreadyApplied means the order is already in (or past) the state
	// the event asks for, so the delivery was a no-op. Covers provider
	// redeliveries and out-of-order notifications.
	OutcomeAlreadyApplied
	// OutcomeOrderNotFound means the event's correlation key does not resolve
	// to an existing order.
	OutcomeOrderNotFound
	// OutcomeUnhandled means the event type is outside the handled set.
	OutcomeUnhandled
	// OutcomeMalformed means a verified payload is missing fields required to
	// apply it. Provider retries with the same payload cannot succeed.
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeAlreadyApplied:
		return "already_applied"
	case OutcomeOrderNotFound:
		return "order_not_found"
	case OutcomeUnhandled:
		return "unhandled"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// StoreError wraps an order store failure so the transport layer can answer
// with a retryable server fault instead of acknowledging the delivery.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string { return "order store: " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

const defaultStoreTimeout = 5 * time.Second

// Dispatcher maps event types to order-state transitions and applies each at
// most once. Concurrent deliveries for the same order serialize on a per-order
// mutex; the loser of a race re-reads the order post-lock and lands in the
// no-op path.
type Dispatcher struct {
	orders       order.Repository
	locks        *keyedMutex
	storeTimeout time.Duration
}

// NewDispatcher creates a Dispatcher over the given order repository.
// storeTimeout bounds each store round trip; zero selects the default.
func NewDispatcher(orders order.Repository, storeTimeout time.Duration) *Dispatcher {
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &Dispatcher{
		orders:       orders,
		locks:        newKeyedMutex(),
		storeTimeout: storeTimeout,
	}
}

// Dispatch applies a verified event to the order it correlates with.
// A non-nil error is always a *StoreError; every other condition is reported
// through the Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, ev stripe.Event) (Outcome, error) {
	var (
		outcome Outcome
		err     error
	)
	switch ev.Type {
	case stripe.EventCheckoutSessionCompleted:
		outcome, err = d.applyCompleted(ctx, ev)
	case stripe.EventChargeRefunded:
		outcome, err = d.applyRefunded(ctx, ev)
	case stripe.EventPaymentIntentFailed:
		outcome, err = d.applyFailed(ctx, ev)
	default:
		outcome = OutcomeUnhandled
	}

	lg := zctx.From(ctx)
	if err != nil {
		lg.Error("Webhook dispatch failed",
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.RawType),
			zap.Error(err),
		)
		return outcome, err
	}
	lg.Info("Webhook dispatched",
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.RawType),
		zap.Stringer("outcome", outcome),
	)
	return outcome, nil
}

func (d *Dispatcher) applyCompleted(ctx context.Context, ev stripe.Event) (Outcome, error) {
	session, err := ev.CheckoutSession()
	if err != nil || session.Metadata.OrderID == "" {
		return OutcomeMalformed, nil
	}

	return d.transition(ctx, string(session.Metadata.OrderID), func(o *order.Order) bool {
		// A paid order is never regressed, and a completed notification for
		// an already-paid order is a redelivery.
		if o.Status != order.StatusPending {
			return false
		}
		o.Status = order.StatusPaid
		o.PaymentIntentID = session.PaymentIntent
		o.AppendNote(fmt.Sprintf(
			"Stripe payment completed successfully. Payment Intent ID: %s | Amount: %s",
			session.PaymentIntent,
			order.FormatAmount(order.MinorUnits(o.Total), o.Currency),
		))
		return true
	})
}

func (d *Dispatcher) applyRefunded(ctx context.Context, ev stripe.Event) (Outcome, error) {
	charge, err := ev.Charge()
	if err != nil || charge.Metadata.OrderID == "" {
		return OutcomeMalformed, nil
	}

	return d.transition(ctx, string(charge.Metadata.OrderID), func(o *order.Order) bool {
		// Refunded is reachable only from pending or paid.
		if o.Status != order.StatusPending && o.Status != order.StatusPaid {
			return false
		}
		o.Status = order.StatusRefunded
		o.AppendNote(fmt.Sprintf(
			"Payment refunded via Stripe. Amount: %s | Refund ID: %s | Reason: %s",
			order.FormatAmount(charge.AmountRefunded, o.Currency),
			charge.RefundID(),
			charge.RefundReason(),
		))
		return true
	})
}

func (d *Dispatcher) applyFailed(ctx context.Context, ev stripe.Event) (Outcome, error) {
	intent, err := ev.PaymentIntent()
	if err != nil || intent.Metadata.OrderID == "" {
		return OutcomeMalformed, nil
	}

	return d.transition(ctx, string(intent.Metadata.OrderID), func(o *order.Order) bool {
		// A failure notification arriving after success is stale and must not
		// downgrade a paid order.
		if o.Status != order.StatusPending {
			return false
		}
		o.Status = order.StatusFailed
		o.AppendNote(fmt.Sprintf("Stripe payment failed. Error: %s", intent.FailureMessage()))
		return true
	})
}

// transition loads the order under its per-order lock, lets apply mutate it,
// and persists status plus audit note as one unit. apply reports false when
// the order already is in (or past) the requested state.
func (d *Dispatcher) transition(ctx context.Context, orderID string, apply func(*order.Order) bool) (Outcome, error) {
	unlock := d.locks.lock(orderID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, d.storeTimeout)
	defer cancel()

	o, err := d.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return OutcomeOrderNotFound, nil
		}
		return OutcomeOrderNotFound, &StoreError{Err: err}
	}

	if !apply(o) {
		return OutcomeAlreadyApplied, nil
	}

	if err := d.orders.Update(ctx, o); err != nil {
		return OutcomeApplied, &StoreError{Err: err}
	}
	return OutcomeApplied, nil
}
