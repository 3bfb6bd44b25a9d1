// Package order defines the order entity shared by the checkout and webhook
// reconciliation flows, and the persistence contract both go through.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the closed set of order payment states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

// ErrNotFound indicates the requested order does not exist.
var ErrNotFound = errors.New("order not found")

// Note is a single entry in an order's append-only audit trail.
type Note struct {
	Text      string
	CreatedAt time.Time
}

// Order represents a customer order and its payment lifecycle state.
//
// SessionID and PaymentIntentID correlate the order with the provider's
// checkout session and payment objects. Status and the audit notes are
// mutated only by the webhook dispatcher and by checkout initiation.
type Order struct {
	ID            string
	Total         decimal.Decimal
	Currency      string
	Status        Status
	CustomerEmail string

	SessionID       string
	PaymentIntentID string

	Notes []Note

	CreatedAt time.Time
	UpdatedAt time.Time

	// pendingNotes holds notes appended since the order was loaded. They are
	// persisted together with the status update so a transition and its audit
	// note commit as one unit.
	pendingNotes []Note
}

// AppendNote records an audit note on the order. The note is persisted by the
// next Repository.Update call, atomically with any status change.
func (o *Order) AppendNote(text string) {
	n := Note{Text: text, CreatedAt: time.Now().UTC()}
	o.Notes = append(o.Notes, n)
	o.pendingNotes = append(o.pendingNotes, n)
}

// PendingNotes returns the notes appended since the order was loaded.
func (o *Order) PendingNotes() []Note {
	return o.pendingNotes
}

// ClearPendingNotes marks all pending notes as persisted.
func (o *Order) ClearPendingNotes() {
	o.pendingNotes = nil
}

// Repository defines persistence operations for orders.
//
// Update must persist the order's status, correlation metadata, and any
// pending audit notes in a single transaction: a transition and its audit
// note are one logical unit.
type Repository interface {
	Get(ctx context.Context, id string) (*Order, error)
	Create(ctx context.Context, o *Order) error
	Update(ctx context.Context, o *Order) error
}
