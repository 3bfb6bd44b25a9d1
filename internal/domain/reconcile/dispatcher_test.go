package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/checkout-bridge/internal/domain/order"
	"github.com/xenking/checkout-bridge/internal/stripe"
)

// --- Mock repository ---

// memRepo is a thread-safe in-memory order store.
type memRepo struct {
	mu        sync.Mutex
	orders    map[string]*order.Order
	getErr    error
	updateErr error
	gets      int
	updates   int
}

func newMemRepo(orders ...*order.Order) *memRepo {
	m := &memRepo{orders: make(map[string]*order.Order)}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *memRepo) Get(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	clone := *o
	clone.Notes = append([]order.Note(nil), o.Notes...)
	return &clone, nil
}

func (m *memRepo) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *memRepo) Update(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updates++
	clone := *o
	clone.Notes = append([]order.Note(nil), o.Notes...)
	m.orders[o.ID] = &clone
	o.ClearPendingNotes()
	return nil
}

func (m *memRepo) get(id string) *order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id]
}

// --- Helpers ---

func pendingOrder(id, total, currency string) *order.Order {
	return &order.Order{
		ID:       id,
		Total:    decimal.RequireFromString(total),
		Currency: currency,
		Status:   order.StatusPending,
	}
}

func completedEvent(orderID, intent string) stripe.Event {
	return stripe.Event{
		ID:      "evt_completed_" + orderID,
		Type:    stripe.EventCheckoutSessionCompleted,
		RawType: string(stripe.EventCheckoutSessionCompleted),
		Object: []byte(fmt.Sprintf(
			`{"id": "cs_1", "payment_intent": %q, "metadata": {"order_id": %q}}`,
			intent, orderID,
		)),
	}
}

func refundedEvent(orderID string, amountMinor int64) stripe.Event {
	return stripe.Event{
		ID:      "evt_refunded_" + orderID,
		Type:    stripe.EventChargeRefunded,
		RawType: string(stripe.EventChargeRefunded),
		Object: []byte(fmt.Sprintf(
			`{"id": "ch_1", "amount_refunded": %d, "metadata": {"order_id": %q}, "refunds": {"data": [{"id": "re_1", "reason": "requested_by_customer"}]}}`,
			amountMinor, orderID,
		)),
	}
}

func failedEvent(orderID, message string) stripe.Event {
	return stripe.Event{
		ID:      "evt_failed_" + orderID,
		Type:    stripe.EventPaymentIntentFailed,
		RawType: string(stripe.EventPaymentIntentFailed),
		Object: []byte(fmt.Sprintf(
			`{"id": "pi_1", "metadata": {"order_id": %q}, "last_payment_error": {"message": %q}}`,
			orderID, message,
		)),
	}
}

// --- Tests ---

func TestDispatch_CompletedMarksPaid(t *testing.T) {
	repo := newMemRepo(pendingOrder("42", "49.99", "USD"))
	d := NewDispatcher(repo, time.Second)

	outcome, err := d.Dispatch(context.Background(), completedEvent("42", "pi_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	o := repo.get("42")
	assert.Equal(t, order.StatusPaid, o.Status)
	assert.Equal(t, "pi_1", o.PaymentIntentID)
	require.Len(t, o.Notes, 1)
	assert.Contains(t, o.Notes[0].Text, "pi_1")
	assert.Contains(t, o.Notes[0].Text, "49.99 USD")
}

func TestDispatch_CompletedIsIdempotent(t *testing.T) {
	repo := newMemRepo(pendingOrder("42", "49.99", "USD"))
	d := NewDispatcher(repo, time.Second)
	ev := completedEvent("42", "pi_1")

	outcome, err := d.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	outcome, err = d.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyApplied, outcome)

	o := repo.get("42")
	assert.Equal(t, order.StatusPaid, o.Status)
	assert.Len(t, o.Notes, 1, "second delivery must not append a second note")
	assert.Equal(t, 1, repo.updates)
}

func TestDispatch_FailedNeverDowngradesPaid(t *testing.T) {
	repo := newMemRepo(pendingOrder("42", "49.99", "USD"))
	d := NewDispatcher(repo, time.Second)

	_, err := d.Dispatch(context.Background(), completedEvent("42", "pi_1"))
	require.NoError(t, err)

	outcome, err := d.Dispatch(context.Background(), failedEvent("42", "card declined"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyApplied, outcome)
	assert.Equal(t, order.StatusPaid, repo.get("42").Status)
}

func TestDispatch_FailedMarksPendingOrder(t *testing.T) {
	repo := newMemRepo(pendingOrder("42", "49.99", "USD"))
	d := NewDispatcher(repo, time.Second)

	outcome, err := d.Dispatch(context.Background(), failedEvent("42", "card declined"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	o := repo.get("42")
	assert.Equal(t, order.StatusFailed, o.Status)
	require.Len(t, o.Notes, 1)
	assert.Contains(t, o.Notes[0].Text, "card declined")
}

func TestDispatch_RefundedFromPaid(t *testing.T) {
	repo := newMemRepo(pendingOrder("42", "49.99", "USD"))
	d := NewDispatcher(repo, time.Second)

	_, err := d.Dispatch(context.Background(), completedEvent("42", "pi_1"))
	require.NoError(t, err)

	outcome, err := d.Dispatch(context.Background(), refundedEvent("42", 4999))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	o := repo.get("42")
	assert.Equal(t, order.StatusRefunded, o.Status)
	require.Len(t, o.Notes, 2)
	assert.Contains(t, o.Notes[1].Text, "49.99 USD")
	assert.Contains(t, o.Notes[1].Text, "re_1")
	assert.Contains(t, o.Notes[1].Text, "requested_by_customer")
}

func TestDispatch_RefundedTransitions(t *testing.T) {
	tests := []struct {
		name        string
		status      order.Status
		wantOutcome Outcome
		wantStatus  order.Status
	}{
		{name: "from pending", status: order.StatusPending, wantOutcome: OutcomeApplied, wantStatus: order.StatusRefunded},
		{name: "from paid", status: order.StatusPaid, wantOutcome: OutcomeApplied, wantStatus: order.StatusRefunded},
		{name: "never from failed", status: order.StatusFailed, wantOutcome: OutcomeAlreadyApplied, wantStatus: order.StatusFailed},
		{name: "noop when already refunded", status: order.StatusRefunded, wantOutcome: OutcomeAlreadyApplied, wantStatus: order.StatusRefunded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := pendingOrder("42", "49.99", "USD")
			o.Status = tt.status
			repo := newMemRepo(o)
			d := NewDispatcher(repo, time.Second)

			outcome, err := d.Dispatch(context.Background(), refundedEvent("42", 4999))
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutcome, outcome)
			assert.Equal(t, tt.wantStatus, repo.get("42").Status)
		})
	}
}

func TestDispatch_OrderNotFound(t *testing.T) {
	repo := newMemRepo()
	d := NewDispatcher(repo, time.Second)

	outcome, err := d.Dispatch(context.Background(), completedEvent("9999", "pi_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeOrderNotFound, outcome)
	assert.Equal(t, 0, repo.updates, "no store mutation for unknown orders")
}

func TestDispatch_UnhandledType(t *testing.T) {
	repo := newMemRepo(pendingOrder("42", "49.99", "USD"))
	d := NewDispatcher(repo, time.Second)

	outcome, err := d.Dispatch(context.Background(), stripe.Event{
		ID:      "evt_x",
		Type:    stripe.EventUnknown,
		RawType: "invoice.paid",
		Object:  []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnhandled, outcome)
	assert.Equal(t, 0, repo.gets, "unhandled events never reach the store")
}

func TestDispatch_MalformedObject(t *testing.T) {
	repo := newMemRepo(pendingOrder("42", "49.99", "USD"))
	d := NewDispatcher(repo, time.Second)

	tests := []struct {
		name   string
		object string
	}{
		{name: "missing order id", object: `{"id": "cs_1", "payment_intent": "pi_1", "metadata": {}}`},
		{name: "missing metadata", object: `{"id": "cs_1", "payment_intent": "pi_1"}`},
		{name: "not an object", object: `[1, 2, 3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := d.Dispatch(context.Background(), stripe.Event{
				ID:      "evt_bad",
				Type:    stripe.EventCheckoutSessionCompleted,
				RawType: string(stripe.EventCheckoutSessionCompleted),
				Object:  []byte(tt.object),
			})
			require.NoError(t, err)
			assert.Equal(t, OutcomeMalformed, outcome)
		})
	}
}

func TestDispatch_StoreFailure(t *testing.T) {
	repo := newMemRepo(pendingOrder("42", "49.99", "USD"))
	repo.getErr = errors.New("connection refused")
	d := NewDispatcher(repo, time.Second)

	_, err := d.Dispatch(context.Background(), completedEvent("42", "pi_1"))
	require.Error(t, err)

	var storeErr *StoreError
	assert.ErrorAs(t, err, &storeErr)
}

func TestDispatch_ConcurrentDeliveries(t *testing.T) {
	const n = 16

	repo := newMemRepo(pendingOrder("42", "49.99", "USD"))
	d := NewDispatcher(repo, time.Second)
	ev := completedEvent("42", "pi_1")

	var mu sync.Mutex
	counts := make(map[Outcome]int)

	g := new(errgroup.Group)
	for range n {
		g.Go(func() error {
			outcome, err := d.Dispatch(context.Background(), ev)
			if err != nil {
				return err
			}
			mu.Lock()
			counts[outcome]++
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, counts[OutcomeApplied], "exactly one delivery applies")
	assert.Equal(t, n-1, counts[OutcomeAlreadyApplied])

	o := repo.get("42")
	assert.Equal(t, order.StatusPaid, o.Status)
	assert.Len(t, o.Notes, 1, "exactly one audit note despite %d deliveries", n)
}
