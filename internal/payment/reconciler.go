package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/ridehub/seat-booking/internal/ledger"
	"github.com/ridehub/seat-booking/internal/lockstore"
	"github.com/ridehub/seat-booking/internal/model"
	"github.com/ridehub/seat-booking/internal/monitoring"
	"github.com/ridehub/seat-booking/internal/queue"
)

// ErrWebhookReplay reports a webhook whose payload was already processed
// to completion.  Handlers acknowledge replays with success so the gateway
// stops retrying.
var ErrWebhookReplay = errors.New("webhook already processed")

// ErrUnknownOrderRef reports a webhook for an order reference this service
// never issued.
var ErrUnknownOrderRef = errors.New("unknown order reference")

// Locks is the slice of the seat lock store the reconciler drives.
type Locks interface {
	Confirm(ctx context.Context, leaseID string) error
	Release(ctx context.Context, leaseID string) error
	LeaseStatus(ctx context.Context, leaseID string) (model.LockStatus, error)
	SeatsByLease(ctx context.Context, leaseID string) ([]string, error)
}

// Ledger is the slice of the booking ledger the reconciler drives.
type Ledger interface {
	LogWebhook(ctx context.Context, wl *model.PaymentWebhookLog) (bool, error)
	MarkWebhookProcessed(ctx context.Context, webhookID uint64) error
	FindTransactionByOrderRef(ctx context.Context, orderRef string) (*model.PaymentTransaction, error)
	FindTransactionByBookingID(ctx context.Context, bookingID uint64) (*model.PaymentTransaction, error)
	AttachGatewayTransactionID(ctx context.Context, txnID uint64, gatewayTxnID string) error
	FailTransaction(ctx context.Context, txnID uint64, gatewayTxnID, note string) error
	FindByID(ctx context.Context, id uint64) (*model.Booking, error)
	FindPending(ctx context.Context) ([]model.Booking, error)
	MarkConfirmed(ctx context.Context, bookingCode string, paymentTxnID uint64) error
	MarkExpiredOrCancelled(ctx context.Context, bookingCode string, target model.BookingStatus, reason string) error
}

// Catalog is the display-projection writer invoked after confirmations.
type Catalog interface {
	SettleBooked(ctx context.Context, tripID uint64, seatNos []string, booked bool) error
}

// Events publishes booking lifecycle events.  Publishing is advisory;
// failures are logged and never fail reconciliation.
type Events interface {
	BookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error
	BookingCancelled(ctx context.Context, ev queue.BookingCancelledEvent) error
}

// Reconciler turns gateway webhooks into booking transitions.  The order
// of writes is fixed: lock store first, ledger second, projections and
// events last.  Confirming the lease before the booking means a crash in
// between leaves a CONFIRMED lease with a PENDING booking, which Recover
// detects and completes; the reverse order could lose paid seats to the
// sweeper.
type Reconciler struct {
	Locks   Locks
	Ledger  Ledger
	Catalog Catalog
	Events  Events
	Redis   *redis.Client
}

// webhookSeenKey is the Redis fast-path key for webhook dedup.  The
// payment_webhook_logs unique index remains the source of truth.
const webhookSeenKey = "webhook:seen:%s"

// webhookSeenTTL covers the gateway's retry window with slack.
const webhookSeenTTL = 48 * time.Hour

// WebhookEvent is one parsed gateway notification.
type WebhookEvent struct {
	Provider      string
	OrderRef      string
	TransactionID string // gateway-assigned id
	Status        model.PaymentStatus
	Amount        decimal.Decimal
	Note          string
	RawPayload    []byte
}

// HashPayload returns the dedup key for a raw webhook body.
func HashPayload(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// HandleWebhook processes one gateway delivery.  Replays of a fully
// processed payload return ErrWebhookReplay without touching any state.
// A replay whose first processing did not finish (the log row exists but
// the booking is still PENDING) is processed again; every step below is
// idempotent, so re-running is safe.
func (r *Reconciler) HandleWebhook(ctx context.Context, ev WebhookEvent) error {
	hash := HashPayload(ev.RawPayload)

	txn, err := r.Ledger.FindTransactionByOrderRef(ctx, ev.OrderRef)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			monitoring.WebhookResult("error")
			return fmt.Errorf("order ref %q: %w", ev.OrderRef, ErrUnknownOrderRef)
		}
		monitoring.WebhookResult("error")
		return err
	}
	booking, err := r.Ledger.FindByID(ctx, txn.BookingID)
	if err != nil {
		monitoring.WebhookResult("error")
		return err
	}

	if r.seenInCache(ctx, hash) && booking.Status != model.BookingPending {
		monitoring.WebhookResult("replay")
		return ErrWebhookReplay
	}

	wl := &model.PaymentWebhookLog{
		Provider:      ev.Provider,
		PayloadHash:   hash,
		TransactionID: ev.TransactionID,
		Status:        ev.Status,
		Amount:        ev.Amount,
		RawPayload:    string(ev.RawPayload),
	}
	fresh, err := r.Ledger.LogWebhook(ctx, wl)
	if err != nil {
		monitoring.WebhookResult("error")
		return err
	}
	if !fresh && booking.Status != model.BookingPending {
		// First processing already drove the booking to a terminal or
		// confirmed state; nothing left to do.
		r.markSeen(ctx, hash)
		monitoring.WebhookResult("replay")
		return ErrWebhookReplay
	}

	if ev.TransactionID != "" {
		if err := r.Ledger.AttachGatewayTransactionID(ctx, txn.ID, ev.TransactionID); err != nil {
			log.Printf("webhook %s: attach gateway txn id: %v", ev.OrderRef, err)
		}
	}

	switch ev.Status {
	case model.PaymentSuccess:
		err = r.applySuccess(ctx, booking, txn, ev)
	case model.PaymentFailed:
		err = r.applyFailure(ctx, booking, txn, ev)
	default:
		monitoring.WebhookResult("error")
		return fmt.Errorf("webhook %s: unsupported status %q", ev.OrderRef, ev.Status)
	}
	if err != nil {
		monitoring.WebhookResult("error")
		return err
	}

	if wl.ID != 0 {
		if err := r.Ledger.MarkWebhookProcessed(ctx, wl.ID); err != nil {
			log.Printf("webhook %s: mark processed: %v", ev.OrderRef, err)
		}
	}
	r.markSeen(ctx, hash)
	return nil
}

// applySuccess confirms the lease and the booking.  If the sweeper reaped
// the lease first the payment arrived too late: the booking is expired
// and the transaction annotated for the refund queue.
func (r *Reconciler) applySuccess(ctx context.Context, b *model.Booking, txn *model.PaymentTransaction, ev WebhookEvent) error {
	err := r.Locks.Confirm(ctx, b.LeaseID)
	switch {
	case err == nil:
		if err := r.Ledger.MarkConfirmed(ctx, b.BookingCode, txn.ID); err != nil {
			return fmt.Errorf("webhook %s: confirm booking: %w", ev.OrderRef, err)
		}
		r.settleAndAnnounce(ctx, b, ev.TransactionID)
		monitoring.WebhookResult("confirmed")
		return nil

	case errors.Is(err, lockstore.ErrLeaseExpired):
		// Single-winner race: the sweeper got there first.  The customer
		// paid for seats that are gone, so flag the transaction for refund.
		if err := r.Ledger.MarkExpiredOrCancelled(ctx, b.BookingCode, model.BookingExpired, "paid after hold expiry"); err != nil && !errors.Is(err, ledger.ErrStateConflict) {
			return err
		}
		if err := r.Ledger.FailTransaction(ctx, txn.ID, ev.TransactionID, "paid after hold expiry; refund required"); err != nil {
			log.Printf("webhook %s: flag late payment: %v", ev.OrderRef, err)
		}
		r.publishCancelled(ctx, b, "expired")
		monitoring.WebhookResult("cancelled")
		return nil

	default:
		return fmt.Errorf("webhook %s: confirm lease: %w", ev.OrderRef, err)
	}
}

// applyFailure releases the lease and cancels the booking.
func (r *Reconciler) applyFailure(ctx context.Context, b *model.Booking, txn *model.PaymentTransaction, ev WebhookEvent) error {
	if b.Status == model.BookingConfirmed {
		// Out-of-order delivery: a success already settled this booking and
		// stamped the transaction; a late failure notice must not unwind
		// either record.
		log.Printf("webhook %s: failure after confirmation, ignoring", ev.OrderRef)
		monitoring.WebhookResult("replay")
		return nil
	}
	if err := r.Locks.Release(ctx, b.LeaseID); err != nil {
		return fmt.Errorf("webhook %s: release lease: %w", ev.OrderRef, err)
	}
	if err := r.Ledger.MarkExpiredOrCancelled(ctx, b.BookingCode, model.BookingCancelled, "payment failed"); err != nil && !errors.Is(err, ledger.ErrStateConflict) {
		return err
	}
	if err := r.Ledger.FailTransaction(ctx, txn.ID, ev.TransactionID, ev.Note); err != nil {
		log.Printf("webhook %s: fail transaction: %v", ev.OrderRef, err)
	}
	r.publishCancelled(ctx, b, "payment_failed")
	monitoring.WebhookResult("cancelled")
	return nil
}

// Recover reconciles bookings whose lease state ran ahead of the ledger,
// which happens when a crash lands between the lock-store write and the
// booking transition.  Run once on startup before serving traffic.
func (r *Reconciler) Recover(ctx context.Context) error {
	pending, err := r.Ledger.FindPending(ctx)
	if err != nil {
		return fmt.Errorf("recover: list pending: %w", err)
	}
	for i := range pending {
		b := &pending[i]
		st, err := r.Locks.LeaseStatus(ctx, b.LeaseID)
		if err != nil {
			if errors.Is(err, lockstore.ErrLeaseNotFound) {
				// The lease vanished; without it the booking can never
				// confirm, so close it out.
				if err := r.Ledger.MarkExpiredOrCancelled(ctx, b.BookingCode, model.BookingCancelled, "lease missing"); err != nil {
					log.Printf("recover %s: cancel orphan booking: %v", b.BookingCode, err)
				}
				continue
			}
			return fmt.Errorf("recover %s: lease status: %w", b.BookingCode, err)
		}
		switch st {
		case model.LockConfirmed:
			// The confirm committed but the booking flip did not: finish it.
			var txnID uint64
			if txn, err := r.Ledger.FindTransactionByBookingID(ctx, b.ID); err == nil {
				txnID = txn.ID
			}
			if err := r.Ledger.MarkConfirmed(ctx, b.BookingCode, txnID); err != nil {
				return fmt.Errorf("recover %s: confirm booking: %w", b.BookingCode, err)
			}
			r.settleAndAnnounce(ctx, b, "")
			log.Printf("recover: completed confirmation of %s", b.BookingCode)
		case model.LockExpired, model.LockReleased:
			if err := r.Ledger.MarkExpiredOrCancelled(ctx, b.BookingCode, model.BookingExpired, "hold expired"); err != nil && !errors.Is(err, ledger.ErrStateConflict) {
				return fmt.Errorf("recover %s: expire booking: %w", b.BookingCode, err)
			}
			r.publishCancelled(ctx, b, "expired")
		default:
			// Still HELD; the normal flow will decide its fate.
		}
	}
	return nil
}

// settleAndAnnounce updates the display projection and publishes the
// confirmed event.  Both are best-effort after the durable transitions.
func (r *Reconciler) settleAndAnnounce(ctx context.Context, b *model.Booking, gatewayTxnID string) {
	seats := bookingSeatNos(b)
	if len(seats) == 0 {
		if got, err := r.Locks.SeatsByLease(ctx, b.LeaseID); err == nil {
			seats = got
		}
	}
	if r.Catalog != nil {
		if err := r.Catalog.SettleBooked(ctx, b.TripID, seats, true); err != nil {
			log.Printf("settle seats for %s: %v", b.BookingCode, err)
		}
	}
	if r.Events != nil {
		ev := queue.BookingConfirmedEvent{
			BookingCode:   b.BookingCode,
			CustomerID:    b.CustomerID,
			TripID:        b.TripID,
			SeatNos:       seats,
			TotalAmount:   b.TotalAmount.String(),
			TransactionID: gatewayTxnID,
			ConfirmedAt:   time.Now().UTC().Format(time.RFC3339),
		}
		if err := r.Events.BookingConfirmed(ctx, ev); err != nil {
			log.Printf("publish booking.confirmed for %s: %v", b.BookingCode, err)
		}
	}
}

func (r *Reconciler) publishCancelled(ctx context.Context, b *model.Booking, reason string) {
	if r.Events == nil {
		return
	}
	ev := queue.BookingCancelledEvent{
		BookingCode: b.BookingCode,
		CustomerID:  b.CustomerID,
		TripID:      b.TripID,
		SeatNos:     bookingSeatNos(b),
		Reason:      reason,
		OccurredAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.Events.BookingCancelled(ctx, ev); err != nil {
		log.Printf("publish booking.cancelled for %s: %v", b.BookingCode, err)
	}
}

func (r *Reconciler) seenInCache(ctx context.Context, hash string) bool {
	if r.Redis == nil {
		return false
	}
	n, err := r.Redis.Exists(ctx, fmt.Sprintf(webhookSeenKey, hash)).Result()
	return err == nil && n > 0
}

func (r *Reconciler) markSeen(ctx context.Context, hash string) {
	if r.Redis == nil {
		return
	}
	if err := r.Redis.Set(ctx, fmt.Sprintf(webhookSeenKey, hash), "1", webhookSeenTTL).Err(); err != nil {
		log.Printf("cache webhook hash: %v", err)
	}
}

func bookingSeatNos(b *model.Booking) []string {
	out := make([]string, 0, len(b.Seats))
	for _, seat := range b.Seats {
		out = append(out, seat.SeatNo)
	}
	return out
}
