// Package stripe implements the provider-facing surface: the outbound REST
// client for checkout sessions and refunds, and verification plus parsing of
// inbound webhook events.
package stripe

import (
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// EventType enumerates the webhook event types the service reconciles.
// Everything else maps to EventUnknown and is ignored by the dispatcher.
type EventType string

const (
	EventCheckoutSessionCompleted EventType = "checkout.session.completed"
	EventChargeRefunded           EventType = "charge.refunded"
	EventPaymentIntentFailed      EventType = "payment_intent.payment_failed"
	EventUnknown                  EventType = ""
)

// ParseEventType maps a wire event-type string onto the closed enum.
func ParseEventType(s string) EventType {
	switch EventType(s) {
	case EventCheckoutSessionCompleted, EventChargeRefunded, EventPaymentIntentFailed:
		return EventType(s)
	default:
		return EventUnknown
	}
}

// Event is a webhook event whose signature has been verified. The nested
// data.object is kept raw and decoded per type by the accessors below.
type Event struct {
	ID      string
	Type    EventType
	RawType string
	Created int64
	Object  []byte
}

// ErrInvalidPayload indicates the webhook body is not a parseable event.
var ErrInvalidPayload = errors.New("invalid webhook payload")

// parseEvent decodes the event envelope. The payload is provider-controlled
// JSON of unbounded shape, so unknown fields are skipped rather than errored.
func parseEvent(payload []byte) (Event, error) {
	var ev Event
	d := jx.DecodeBytes(payload)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			s, err := d.Str()
			if err != nil {
				return err
			}
			ev.ID = s
		case "type":
			s, err := d.Str()
			if err != nil {
				return err
			}
			ev.RawType = s
			ev.Type = ParseEventType(s)
		case "created":
			n, err := d.Int64()
			if err != nil {
				return err
			}
			ev.Created = n
		case "data":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "object" {
					return d.Skip()
				}
				raw, err := d.Raw()
				if err != nil {
					return err
				}
				ev.Object = raw
				return nil
			})
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return Event{}, errors.Wrap(ErrInvalidPayload, err.Error())
	}
	if ev.RawType == "" {
		return Event{}, errors.Wrap(ErrInvalidPayload, "missing event type")
	}
	return ev, nil
}

// FlexID is a correlation identifier that providers serialize sometimes as a
// JSON string and sometimes as a bare number.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

// Metadata carries the order correlation key the checkout flow stamps onto
// every provider object it creates.
type Metadata struct {
	OrderID       FlexID `json:"order_id"`
	CustomerEmail string `json:"customer_email"`
}

// CheckoutSession is the data.object of a checkout.session.completed event,
// and the response of the create-session call.
type CheckoutSession struct {
	ID            string   `json:"id"`
	URL           string   `json:"url"`
	PaymentIntent string   `json:"payment_intent"`
	AmountTotal   int64    `json:"amount_total"`
	Currency      string   `json:"currency"`
	Metadata      Metadata `json:"metadata"`
}

// Charge is the data.object of a charge.refunded event.
type Charge struct {
	ID             string   `json:"id"`
	AmountRefunded int64    `json:"amount_refunded"`
	Currency       string   `json:"currency"`
	Metadata       Metadata `json:"metadata"`
	Refunds        struct {
		Data []struct {
			ID     string `json:"id"`
			Reason string `json:"reason"`
		} `json:"data"`
	} `json:"refunds"`
}

// RefundID returns the id of the first refund on the charge, falling back to
// the charge id when the refund list was not expanded.
func (c Charge) RefundID() string {
	if len(c.Refunds.Data) > 0 && c.Refunds.Data[0].ID != "" {
		return c.Refunds.Data[0].ID
	}
	return c.ID
}

// RefundReason returns the reason of the first refund on the charge, or a
// placeholder when the provider supplied none.
func (c Charge) RefundReason() string {
	if len(c.Refunds.Data) > 0 && c.Refunds.Data[0].Reason != "" {
		return c.Refunds.Data[0].Reason
	}
	return "not specified"
}

// PaymentIntent is the data.object of a payment_intent.payment_failed event.
type PaymentIntent struct {
	ID               string   `json:"id"`
	Metadata         Metadata `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// FailureMessage returns the provider's failure description, or a placeholder
// when none was attached.
func (p PaymentIntent) FailureMessage() string {
	if p.LastPaymentError != nil && p.LastPaymentError.Message != "" {
		return p.LastPaymentError.Message
	}
	return "unknown error"
}

// CheckoutSession decodes the event object as a checkout session.
func (e Event) CheckoutSession() (CheckoutSession, error) {
	var s CheckoutSession
	if err := json.Unmarshal(e.Object, &s); err != nil {
		return s, errors.Wrap(err, "decode checkout session")
	}
	return s, nil
}

// Charge decodes the event object as a charge.
func (e Event) Charge() (Charge, error) {
	var c Charge
	if err := json.Unmarshal(e.Object, &c); err != nil {
		return c, errors.Wrap(err, "decode charge")
	}
	return c, nil
}

// PaymentIntent decodes the event object as a payment intent.
func (e Event) PaymentIntent() (PaymentIntent, error) {
	var p PaymentIntent
	if err := json.Unmarshal(e.Object, &p); err != nil {
		return p, errors.Wrap(err, "decode payment intent")
	}
	return p, nil
}
