package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridehub/seat-booking/internal/ledger"
	"github.com/ridehub/seat-booking/internal/lockstore"
	"github.com/ridehub/seat-booking/internal/model"
	"github.com/ridehub/seat-booking/internal/queue"
)

// fakeLocks mimics the lock store's compare-and-swap semantics for a
// single lease per test.
type fakeLocks struct {
	status   map[string]model.LockStatus
	released []string
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{status: map[string]model.LockStatus{}}
}

func (f *fakeLocks) Confirm(_ context.Context, leaseID string) error {
	switch f.status[leaseID] {
	case model.LockHeld:
		f.status[leaseID] = model.LockConfirmed
		return nil
	case model.LockConfirmed:
		return nil // idempotent repeat
	case "":
		return lockstore.ErrLeaseNotFound
	default:
		return lockstore.ErrLeaseExpired
	}
}

func (f *fakeLocks) Release(_ context.Context, leaseID string) error {
	f.released = append(f.released, leaseID)
	if f.status[leaseID] == model.LockHeld {
		f.status[leaseID] = model.LockReleased
	}
	return nil
}

func (f *fakeLocks) LeaseStatus(_ context.Context, leaseID string) (model.LockStatus, error) {
	st, ok := f.status[leaseID]
	if !ok {
		return "", lockstore.ErrLeaseNotFound
	}
	return st, nil
}

func (f *fakeLocks) SeatsByLease(context.Context, string) ([]string, error) {
	return []string{"A1"}, nil
}

// fakeLedger is the booking/payment side of the reconciler's world.
type fakeLedger struct {
	bookings  map[uint64]*model.Booking
	txns      map[string]*model.PaymentTransaction // by order ref
	webhooks  map[string]*model.PaymentWebhookLog  // by payload hash
	processed []uint64
	failed    []uint64
	nextWLID  uint64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		bookings: map[uint64]*model.Booking{},
		txns:     map[string]*model.PaymentTransaction{},
		webhooks: map[string]*model.PaymentWebhookLog{},
	}
}

func (f *fakeLedger) addBooking(b *model.Booking, txn *model.PaymentTransaction) {
	f.bookings[b.ID] = b
	f.txns[txn.OrderRef] = txn
}

func (f *fakeLedger) LogWebhook(_ context.Context, wl *model.PaymentWebhookLog) (bool, error) {
	if existing, ok := f.webhooks[wl.PayloadHash]; ok {
		wl.ID = existing.ID
		return false, nil
	}
	f.nextWLID++
	wl.ID = f.nextWLID
	f.webhooks[wl.PayloadHash] = wl
	return true, nil
}

func (f *fakeLedger) MarkWebhookProcessed(_ context.Context, id uint64) error {
	f.processed = append(f.processed, id)
	return nil
}

func (f *fakeLedger) FindTransactionByOrderRef(_ context.Context, orderRef string) (*model.PaymentTransaction, error) {
	if txn, ok := f.txns[orderRef]; ok {
		return txn, nil
	}
	return nil, ledger.ErrNotFound
}

func (f *fakeLedger) FindTransactionByBookingID(_ context.Context, bookingID uint64) (*model.PaymentTransaction, error) {
	for _, txn := range f.txns {
		if txn.BookingID == bookingID {
			return txn, nil
		}
	}
	return nil, ledger.ErrNotFound
}

func (f *fakeLedger) AttachGatewayTransactionID(_ context.Context, txnID uint64, gatewayTxnID string) error {
	for _, txn := range f.txns {
		if txn.ID == txnID && txn.TransactionID == "" {
			txn.TransactionID = gatewayTxnID
		}
	}
	return nil
}

func (f *fakeLedger) FailTransaction(_ context.Context, txnID uint64, _, note string) error {
	f.failed = append(f.failed, txnID)
	for _, txn := range f.txns {
		if txn.ID == txnID {
			txn.Status = model.PaymentFailed
			txn.GatewayNote = note
		}
	}
	return nil
}

func (f *fakeLedger) FindByID(_ context.Context, id uint64) (*model.Booking, error) {
	if b, ok := f.bookings[id]; ok {
		return b, nil
	}
	return nil, ledger.ErrNotFound
}

func (f *fakeLedger) FindPending(context.Context) ([]model.Booking, error) {
	var out []model.Booking
	for _, b := range f.bookings {
		if b.Status == model.BookingPending {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeLedger) byCode(code string) *model.Booking {
	for _, b := range f.bookings {
		if b.BookingCode == code {
			return b
		}
	}
	return nil
}

func (f *fakeLedger) MarkConfirmed(_ context.Context, code string, txnID uint64) error {
	b := f.byCode(code)
	if b == nil {
		return ledger.ErrNotFound
	}
	if b.Status == model.BookingConfirmed {
		return nil
	}
	if !model.CanTransition(b.Status, model.BookingConfirmed) {
		return ledger.ErrStateConflict
	}
	b.Status = model.BookingConfirmed
	for _, txn := range f.txns {
		if txn.ID == txnID {
			txn.Status = model.PaymentSuccess
		}
	}
	return nil
}

func (f *fakeLedger) MarkExpiredOrCancelled(_ context.Context, code string, target model.BookingStatus, _ string) error {
	b := f.byCode(code)
	if b == nil {
		return ledger.ErrNotFound
	}
	if b.Status == target {
		return nil
	}
	if !model.CanTransition(b.Status, target) {
		return ledger.ErrStateConflict
	}
	b.Status = target
	return nil
}

type fakeCatalog struct {
	settled [][]string
}

func (f *fakeCatalog) SettleBooked(_ context.Context, _ uint64, seatNos []string, _ bool) error {
	f.settled = append(f.settled, seatNos)
	return nil
}

type capturedEvents struct {
	confirmed []queue.BookingConfirmedEvent
	cancelled []queue.BookingCancelledEvent
}

func (c *capturedEvents) BookingConfirmed(_ context.Context, ev queue.BookingConfirmedEvent) error {
	c.confirmed = append(c.confirmed, ev)
	return nil
}

func (c *capturedEvents) BookingCancelled(_ context.Context, ev queue.BookingCancelledEvent) error {
	c.cancelled = append(c.cancelled, ev)
	return nil
}

func setupReconciler() (*Reconciler, *fakeLocks, *fakeLedger, *fakeCatalog, *capturedEvents) {
	locks := newFakeLocks()
	books := newFakeLedger()
	catalog := &fakeCatalog{}
	events := &capturedEvents{}
	r := &Reconciler{Locks: locks, Ledger: books, Catalog: catalog, Events: events}
	return r, locks, books, catalog, events
}

func seedPendingBooking(locks *fakeLocks, books *fakeLedger, id uint64) (*model.Booking, *model.PaymentTransaction) {
	b := &model.Booking{
		ID:          id,
		BookingCode: fmt.Sprintf("BK-%06d", id),
		CustomerID:  "cust-1",
		TripID:      7,
		LeaseID:     fmt.Sprintf("lease-%d", id),
		Status:      model.BookingPending,
		Quantity:    1,
		TotalAmount: decimal.RequireFromString("100"),
		Seats:       []model.BookingSeat{{SeatNo: "A1", FloorNo: 1, Price: decimal.RequireFromString("100")}},
	}
	txn := &model.PaymentTransaction{
		ID:        id * 10,
		BookingID: id,
		OrderRef:  fmt.Sprintf("ref-%d", id),
		Method:    "BANK_QR",
		Status:    model.PaymentInitiated,
		Amount:    b.TotalAmount,
	}
	books.addBooking(b, txn)
	locks.status[b.LeaseID] = model.LockHeld
	return b, txn
}

func successEvent(txn *model.PaymentTransaction) WebhookEvent {
	raw, _ := json.Marshal(map[string]string{"order_ref": txn.OrderRef, "status": "SUCCESS", "transaction_id": "gw-1"})
	return WebhookEvent{
		Provider:      "bank",
		OrderRef:      txn.OrderRef,
		TransactionID: "gw-1",
		Status:        model.PaymentSuccess,
		Amount:        txn.Amount,
		RawPayload:    raw,
	}
}

func TestHandleWebhookSuccessConfirms(t *testing.T) {
	r, locks, books, catalog, events := setupReconciler()
	b, txn := seedPendingBooking(locks, books, 1)

	require.NoError(t, r.HandleWebhook(context.Background(), successEvent(txn)))

	assert.Equal(t, model.LockConfirmed, locks.status[b.LeaseID])
	assert.Equal(t, model.BookingConfirmed, b.Status)
	assert.Equal(t, model.PaymentSuccess, txn.Status)
	assert.Equal(t, "gw-1", txn.TransactionID)
	require.Len(t, catalog.settled, 1)
	assert.Equal(t, []string{"A1"}, catalog.settled[0])
	require.Len(t, events.confirmed, 1)
	assert.Equal(t, b.BookingCode, events.confirmed[0].BookingCode)
	assert.Len(t, books.processed, 1)
}

func TestHandleWebhookReplayIsNoOp(t *testing.T) {
	r, locks, books, catalog, events := setupReconciler()
	_, txn := seedPendingBooking(locks, books, 1)
	ev := successEvent(txn)
	ctx := context.Background()

	require.NoError(t, r.HandleWebhook(ctx, ev))
	// Redeliveries of the same payload acknowledge without reprocessing.
	assert.ErrorIs(t, r.HandleWebhook(ctx, ev), ErrWebhookReplay)
	assert.ErrorIs(t, r.HandleWebhook(ctx, ev), ErrWebhookReplay)

	assert.Len(t, catalog.settled, 1)
	assert.Len(t, events.confirmed, 1)
	assert.Len(t, books.webhooks, 1)
}

func TestHandleWebhookReplayedAfterCrashCompletes(t *testing.T) {
	r, locks, books, _, _ := setupReconciler()
	b, txn := seedPendingBooking(locks, books, 1)
	ev := successEvent(txn)
	ctx := context.Background()

	// Simulate a first delivery that crashed after logging the webhook but
	// before any transition ran.
	_, err := books.LogWebhook(ctx, &model.PaymentWebhookLog{
		PayloadHash: HashPayload(ev.RawPayload), Provider: "bank", Status: ev.Status, Amount: ev.Amount,
	})
	require.NoError(t, err)

	// The redelivery finds the booking still PENDING and finishes the job.
	require.NoError(t, r.HandleWebhook(ctx, ev))
	assert.Equal(t, model.BookingConfirmed, b.Status)
}

func TestHandleWebhookSuccessAfterSweeperWins(t *testing.T) {
	r, locks, books, _, events := setupReconciler()
	b, txn := seedPendingBooking(locks, books, 1)
	// The sweeper reaped the lease before the webhook arrived.
	locks.status[b.LeaseID] = model.LockExpired

	require.NoError(t, r.HandleWebhook(context.Background(), successEvent(txn)))

	assert.Equal(t, model.BookingExpired, b.Status)
	// The customer paid for seats that are gone; the transaction is flagged
	// for refund instead of marked SUCCESS.
	assert.Contains(t, books.failed, txn.ID)
	require.Len(t, events.cancelled, 1)
	assert.Equal(t, "expired", events.cancelled[0].Reason)
}

func TestHandleWebhookFailureCancels(t *testing.T) {
	r, locks, books, _, events := setupReconciler()
	b, txn := seedPendingBooking(locks, books, 1)

	raw, _ := json.Marshal(map[string]string{"order_ref": txn.OrderRef, "status": "FAILED"})
	err := r.HandleWebhook(context.Background(), WebhookEvent{
		Provider: "bank", OrderRef: txn.OrderRef, Status: model.PaymentFailed,
		Amount: txn.Amount, Note: "insufficient funds", RawPayload: raw,
	})
	require.NoError(t, err)

	assert.Equal(t, model.BookingCancelled, b.Status)
	assert.Equal(t, model.LockReleased, locks.status[b.LeaseID])
	assert.Equal(t, model.PaymentFailed, txn.Status)
	require.Len(t, events.cancelled, 1)
	assert.Equal(t, "payment_failed", events.cancelled[0].Reason)
}

func TestHandleWebhookFailureAfterSuccessLeavesSettledRecords(t *testing.T) {
	r, locks, books, _, events := setupReconciler()
	b, txn := seedPendingBooking(locks, books, 1)
	ctx := context.Background()

	require.NoError(t, r.HandleWebhook(ctx, successEvent(txn)))
	require.Equal(t, model.BookingConfirmed, b.Status)
	require.Equal(t, model.PaymentSuccess, txn.Status)

	// A late failure notice with a fresh payload passes the dedup gates
	// but must not unwind the settled booking or its transaction.
	raw, _ := json.Marshal(map[string]string{"order_ref": txn.OrderRef, "status": "FAILED", "note": "late"})
	require.NoError(t, r.HandleWebhook(ctx, WebhookEvent{
		Provider: "bank", OrderRef: txn.OrderRef, Status: model.PaymentFailed,
		Amount: txn.Amount, Note: "late", RawPayload: raw,
	}))

	assert.Equal(t, model.BookingConfirmed, b.Status)
	assert.Equal(t, model.PaymentSuccess, txn.Status)
	assert.Equal(t, model.LockConfirmed, locks.status[b.LeaseID])
	assert.Empty(t, books.failed)
	assert.Empty(t, events.cancelled)
}

func TestHandleWebhookUnknownOrderRef(t *testing.T) {
	r, _, _, _, _ := setupReconciler()

	err := r.HandleWebhook(context.Background(), WebhookEvent{
		OrderRef: "ghost", Status: model.PaymentSuccess, RawPayload: []byte(`{}`),
	})
	assert.ErrorIs(t, err, ErrUnknownOrderRef)
}

func TestRecoverCompletesConfirmedLease(t *testing.T) {
	r, locks, books, _, events := setupReconciler()
	b, txn := seedPendingBooking(locks, books, 1)
	// Crash happened after the lease confirm committed but before the
	// booking flipped.
	locks.status[b.LeaseID] = model.LockConfirmed

	require.NoError(t, r.Recover(context.Background()))

	assert.Equal(t, model.BookingConfirmed, b.Status)
	assert.Equal(t, model.PaymentSuccess, txn.Status)
	assert.Len(t, events.confirmed, 1)
}

func TestRecoverExpiresReapedLease(t *testing.T) {
	r, locks, books, _, _ := setupReconciler()
	b, _ := seedPendingBooking(locks, books, 1)
	locks.status[b.LeaseID] = model.LockExpired

	require.NoError(t, r.Recover(context.Background()))
	assert.Equal(t, model.BookingExpired, b.Status)
}

func TestRecoverCancelsBookingWithMissingLease(t *testing.T) {
	r, locks, books, _, _ := setupReconciler()
	b, _ := seedPendingBooking(locks, books, 1)
	delete(locks.status, b.LeaseID)

	require.NoError(t, r.Recover(context.Background()))
	assert.Equal(t, model.BookingCancelled, b.Status)
}

func TestRecoverLeavesHeldLeasesAlone(t *testing.T) {
	r, locks, books, _, _ := setupReconciler()
	b, _ := seedPendingBooking(locks, books, 1)

	require.NoError(t, r.Recover(context.Background()))
	assert.Equal(t, model.BookingPending, b.Status)
	assert.Equal(t, model.LockHeld, locks.status[b.LeaseID])
}

func TestHashPayloadStableAndDistinct(t *testing.T) {
	a := HashPayload([]byte(`{"order_ref":"r1"}`))
	b := HashPayload([]byte(`{"order_ref":"r1"}`))
	c := HashPayload([]byte(`{"order_ref":"r2"}`))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
