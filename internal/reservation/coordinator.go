package reservation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ridehub/seat-booking/internal/ledger"
	"github.com/ridehub/seat-booking/internal/lockstore"
	"github.com/ridehub/seat-booking/internal/model"
	"github.com/ridehub/seat-booking/internal/monitoring"
	"github.com/ridehub/seat-booking/internal/pricing"
	"github.com/ridehub/seat-booking/internal/queue"
)

// LockStore is the slice of the seat lock store the coordinator drives.
type LockStore interface {
	Acquire(ctx context.Context, tripID uint64, seatNos []string, userID string, ttl time.Duration, idemKey string) (*lockstore.Lease, error)
	Renew(ctx context.Context, leaseID string, ttl time.Duration) (time.Time, error)
	Release(ctx context.Context, leaseID string) error
}

// Ledger is the slice of the booking ledger the coordinator drives.
type Ledger interface {
	CreatePending(ctx context.Context, p ledger.CreateBookingParams) (*model.Booking, bool, error)
	FindByCode(ctx context.Context, code string) (*model.Booking, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*model.Booking, error)
	MarkExpiredOrCancelled(ctx context.Context, code string, target model.BookingStatus, reason string) error
	UpdateHoldExpiry(ctx context.Context, code string, expiresAt time.Time) error
}

// Catalog supplies read-only trip and seat-map data.
type Catalog interface {
	Trip(ctx context.Context, tripID uint64) (*model.Trip, error)
	SeatsByNo(ctx context.Context, tripID uint64, seatNos []string) (map[string]model.TripSeat, error)
}

// Payments creates the outbound payment attempt for a new booking and
// returns the URL the customer pays at.
type Payments interface {
	InitiatePayment(ctx context.Context, b *model.Booking) (payURL string, err error)
}

// Events publishes booking lifecycle events.  Publishing is advisory;
// failures are logged and never fail the booking flow.
type Events interface {
	BookingCancelled(ctx context.Context, ev queue.BookingCancelledEvent) error
}

// PromotionResolver turns a promotion code into discount terms.  A nil
// resolver means promotion codes are ignored.
type PromotionResolver interface {
	Resolve(ctx context.Context, code string) (*pricing.Promotion, error)
}

// Coordinator orchestrates acquiring and releasing seat leases for
// bookings.  Redis, Events, Payments and Promos may be nil; the
// coordinator degrades to DB-only operation without them.
type Coordinator struct {
	Locks   LockStore
	Ledger  Ledger
	Catalog Catalog

	Payments Payments
	Events   Events
	Promos   PromotionResolver
	Redis    *redis.Client

	HoldTTL time.Duration // how long a hold survives without payment
}

// idemCacheKey is the Redis fast-path key mapping an idempotency key to
// its booking code.  The DB unique index remains the source of truth.
const idemCacheKey = "idem:booking:%s"

// idemCacheTTL keeps replay lookups cheap for the retry window.
const idemCacheTTL = 24 * time.Hour

// ReserveRequest is the input of one reserve call.
type ReserveRequest struct {
	TripID         uint64
	SeatNos        []string
	CustomerID     string
	IdempotencyKey string
	PromotionCode  string
}

// ReserveResult is the outcome of one reserve call.  Replayed is true
// when an existing booking for the idempotency key was returned instead
// of a new acquisition.
type ReserveResult struct {
	Booking  *model.Booking
	PayURL   string
	Replayed bool
}

// Reserve acquires the requested seats and creates a PENDING booking.
//
// The idempotency key is checked first: a key that already has a booking
// returns that booking unchanged, whatever its state, because exactly one
// booking may ever exist per key.  Conflicting seats surface as a
// *lockstore.ConflictError (errors.Is ErrSeatsUnavailable).  If anything
// fails after the lease was taken, the lease is released before
// returning so no orphan hold outlives the call.
func (c *Coordinator) Reserve(ctx context.Context, req ReserveRequest) (*ReserveResult, error) {
	// Dedupe up front so pricing and the booking rows see exactly the
	// seats the lease will hold; the lock store normalizes independently.
	req.SeatNos = dedupeSeats(req.SeatNos)
	if len(req.SeatNos) == 0 {
		return nil, fmt.Errorf("reserve: no seats requested")
	}
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("reserve: idempotency key required")
	}

	if b := c.replayFromCache(ctx, req.IdempotencyKey); b != nil {
		monitoring.ReserveOutcome("replayed")
		return &ReserveResult{Booking: b, Replayed: true}, nil
	}
	existing, err := c.Ledger.FindByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		monitoring.ReserveOutcome("error")
		return nil, err
	}
	if existing != nil {
		c.cacheIdempotencyKey(ctx, req.IdempotencyKey, existing.BookingCode)
		monitoring.ReserveOutcome("replayed")
		return &ReserveResult{Booking: existing, Replayed: true}, nil
	}

	trip, err := c.Catalog.Trip(ctx, req.TripID)
	if err != nil {
		monitoring.ReserveOutcome("error")
		return nil, err
	}
	seatMap, err := c.Catalog.SeatsByNo(ctx, req.TripID, req.SeatNos)
	if err != nil {
		monitoring.ReserveOutcome("error")
		return nil, err
	}
	tripSeats := make([]model.TripSeat, 0, len(req.SeatNos))
	var sold []string
	for _, sn := range req.SeatNos {
		ts, ok := seatMap[sn]
		if !ok {
			monitoring.ReserveOutcome("error")
			return nil, fmt.Errorf("seat %s: %w", sn, ErrUnknownSeat)
		}
		if ts.Booked {
			sold = append(sold, sn)
			continue
		}
		tripSeats = append(tripSeats, ts)
	}
	if len(sold) > 0 {
		// Settled inventory already says these seats are gone; fail before
		// touching the lock space.
		monitoring.ReserveOutcome("conflict")
		monitoring.SeatConflicts(len(sold))
		return nil, &lockstore.ConflictError{Seats: sold}
	}

	var promo *pricing.Promotion
	if req.PromotionCode != "" && c.Promos != nil {
		promo, err = c.Promos.Resolve(ctx, req.PromotionCode)
		if err != nil {
			monitoring.ReserveOutcome("error")
			return nil, fmt.Errorf("resolve promotion %q: %w", req.PromotionCode, err)
		}
	}

	lease, err := c.Locks.Acquire(ctx, req.TripID, req.SeatNos, req.CustomerID, c.HoldTTL, req.IdempotencyKey)
	if err != nil {
		var conflict *lockstore.ConflictError
		if errors.As(err, &conflict) {
			monitoring.ReserveOutcome("conflict")
			monitoring.SeatConflicts(len(conflict.Seats))
		} else {
			monitoring.ReserveOutcome("error")
		}
		return nil, err
	}

	quote := pricing.BuildQuote(trip, tripSeats, promo)
	params := ledger.CreateBookingParams{
		IdempotencyKey: req.IdempotencyKey,
		CustomerID:     req.CustomerID,
		TripID:         req.TripID,
		LeaseID:        lease.ID,
		TotalAmount:    quote.Total,
		HoldExpiresAt:  lease.ExpiresAt,
		Promotion:      quote.Promotion,
	}
	for _, sq := range quote.Seats {
		params.Seats = append(params.Seats, model.BookingSeat{SeatNo: sq.SeatNo, FloorNo: sq.FloorNo, Price: sq.FinalPrice})
		params.Snapshots = append(params.Snapshots, model.PricingSnapshot{
			SeatNo:        sq.SeatNo,
			BaseFare:      sq.BaseFare,
			VehicleFactor: sq.VehicleFactor,
			FloorFactor:   sq.FloorFactor,
			SeatFactor:    sq.SeatFactor,
			FinalPrice:    sq.FinalPrice,
		})
	}

	booking, existed, err := c.Ledger.CreatePending(ctx, params)
	if err != nil {
		// Do not leave an orphan hold behind a failed create.
		if relErr := c.Locks.Release(ctx, lease.ID); relErr != nil {
			log.Printf("reserve: release lease %s after failed create: %v", lease.ID, relErr)
		}
		monitoring.ReserveOutcome("error")
		return nil, err
	}

	var payURL string
	if !existed && c.Payments != nil {
		// A gateway outage must not kill the booking; the hold simply
		// expires if the customer can never pay.
		payURL, err = c.Payments.InitiatePayment(ctx, booking)
		if err != nil {
			log.Printf("reserve: initiate payment for %s: %v", booking.BookingCode, err)
			payURL = ""
		}
	}

	c.cacheIdempotencyKey(ctx, req.IdempotencyKey, booking.BookingCode)
	if existed {
		monitoring.ReserveOutcome("replayed")
	} else {
		monitoring.ReserveOutcome("created")
	}
	return &ReserveResult{Booking: booking, PayURL: payURL, Replayed: existed}, nil
}

// Get loads a booking by code, enforcing ownership when customerID is
// non-empty.
func (c *Coordinator) Get(ctx context.Context, bookingCode, customerID string) (*model.Booking, error) {
	b, err := c.Ledger.FindByCode(ctx, bookingCode)
	if err != nil {
		return nil, err
	}
	if customerID != "" && b.CustomerID != customerID {
		return nil, ErrNotOwner
	}
	return b, nil
}

// Cancel releases the lease of a PENDING booking and marks it CANCELLED.
// Bookings already CANCELLED or EXPIRED are a no-op success; CONFIRMED
// bookings are rejected with ErrAlreadyConfirmed.
func (c *Coordinator) Cancel(ctx context.Context, bookingCode, customerID string) error {
	b, err := c.Get(ctx, bookingCode, customerID)
	if err != nil {
		return err
	}
	switch b.Status {
	case model.BookingConfirmed:
		return ErrAlreadyConfirmed
	case model.BookingCancelled, model.BookingExpired:
		return nil
	}

	if err := c.Locks.Release(ctx, b.LeaseID); err != nil {
		return fmt.Errorf("cancel %s: release lease: %w", bookingCode, err)
	}
	if err := c.Ledger.MarkExpiredOrCancelled(ctx, bookingCode, model.BookingCancelled, "cancelled by customer"); err != nil {
		return err
	}
	c.publishCancelled(ctx, b, "cancelled")
	return nil
}

// Renew extends the hold of a PENDING booking by the coordinator's TTL
// and keeps the booking's own expiry in step with the lease.
func (c *Coordinator) Renew(ctx context.Context, bookingCode, customerID string) (time.Time, error) {
	b, err := c.Get(ctx, bookingCode, customerID)
	if err != nil {
		return time.Time{}, err
	}
	if b.Status != model.BookingPending {
		return time.Time{}, ErrNotRenewable
	}
	expiresAt, err := c.Locks.Renew(ctx, b.LeaseID, c.HoldTTL)
	if err != nil {
		return time.Time{}, err
	}
	if err := c.Ledger.UpdateHoldExpiry(ctx, bookingCode, expiresAt); err != nil {
		return time.Time{}, err
	}
	return expiresAt, nil
}

// Expire marks the booking owning a reaped lease EXPIRED.  Called by the
// sweeper after the lock store's compare-and-swap already won the race
// against any in-flight confirm.  A lease without a booking (reserve
// crashed between acquire and create) has nothing to cancel.
func (c *Coordinator) Expire(ctx context.Context, reaped lockstore.ExpiredLease) error {
	b, err := c.Ledger.FindByIdempotencyKey(ctx, reaped.IdempotencyKey)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil
		}
		return err
	}
	if b.LeaseID != reaped.LeaseID || b.Status != model.BookingPending {
		return nil
	}
	if err := c.Ledger.MarkExpiredOrCancelled(ctx, b.BookingCode, model.BookingExpired, "hold expired"); err != nil {
		if errors.Is(err, ledger.ErrStateConflict) {
			// Lost a race with the reconciler; its transition stands.
			log.Printf("expire %s: state conflict, leaving booking as-is", b.BookingCode)
			return nil
		}
		return err
	}
	c.publishCancelled(ctx, b, "expired")
	return nil
}

func (c *Coordinator) publishCancelled(ctx context.Context, b *model.Booking, reason string) {
	if c.Events == nil {
		return
	}
	seats := make([]string, 0, len(b.Seats))
	for _, seat := range b.Seats {
		seats = append(seats, seat.SeatNo)
	}
	ev := queue.BookingCancelledEvent{
		BookingCode: b.BookingCode,
		CustomerID:  b.CustomerID,
		TripID:      b.TripID,
		SeatNos:     seats,
		Reason:      reason,
		OccurredAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.Events.BookingCancelled(ctx, ev); err != nil {
		log.Printf("publish booking.cancelled for %s: %v", b.BookingCode, err)
	}
}

// dedupeSeats drops empty and repeated seat numbers, keeping request order.
func dedupeSeats(seatNos []string) []string {
	seen := make(map[string]struct{}, len(seatNos))
	out := make([]string, 0, len(seatNos))
	for _, sn := range seatNos {
		if sn == "" {
			continue
		}
		if _, ok := seen[sn]; !ok {
			seen[sn] = struct{}{}
			out = append(out, sn)
		}
	}
	return out
}

func (c *Coordinator) replayFromCache(ctx context.Context, idemKey string) *model.Booking {
	if c.Redis == nil {
		return nil
	}
	code, err := c.Redis.Get(ctx, fmt.Sprintf(idemCacheKey, idemKey)).Result()
	if err != nil || code == "" {
		return nil
	}
	b, err := c.Ledger.FindByCode(ctx, code)
	if err != nil {
		return nil
	}
	return b
}

func (c *Coordinator) cacheIdempotencyKey(ctx context.Context, idemKey, bookingCode string) {
	if c.Redis == nil {
		return
	}
	if err := c.Redis.Set(ctx, fmt.Sprintf(idemCacheKey, idemKey), bookingCode, idemCacheTTL).Err(); err != nil {
		log.Printf("cache idempotency key: %v", err)
	}
}
