package ledger

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/ridehub/seat-booking/internal/model"
)

// mysqlDupEntry is the MySQL error number for a unique-key violation.
const mysqlDupEntry = 1062

// Store provides access to the bookings table and the rows a booking
// owns: booking_seats, pricing_snapshots and applied_promotions.  All
// timestamps are UTC.
type Store struct {
	db *sql.DB
}

// New returns a Store bound to the provided database.
func New(db *sql.DB) *Store { return &Store{db: db} }

// DB exposes the underlying handle for callers that need to compose
// transactions across repositories.
func (s *Store) DB() *sql.DB { return s.db }

// CreateBookingParams carries everything needed to persist a PENDING
// booking together with the rows it owns.
type CreateBookingParams struct {
	IdempotencyKey string
	CustomerID     string
	TripID         uint64
	LeaseID        string
	TotalAmount    decimal.Decimal
	HoldExpiresAt  time.Time
	Seats          []model.BookingSeat
	Snapshots      []model.PricingSnapshot
	Promotion      *model.AppliedPromotion
}

// CreatePending inserts a PENDING booking with its seats, pricing
// snapshots and optional promotion in one transaction.  The idempotency
// key is unique at the storage layer; when a concurrent retry hits the
// duplicate-key error the pre-existing booking is returned with
// existed=true instead of an error, so two racing retries both end up
// with the same booking.
func (s *Store) CreatePending(ctx context.Context, p CreateBookingParams) (*model.Booking, bool, error) {
	code, err := newBookingCode()
	if err != nil {
		return nil, false, fmt.Errorf("create booking: generate code: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create booking: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const ins = `INSERT INTO bookings
	             (booking_code, idempotency_key, customer_id, trip_id, lease_id, status, quantity, total_amount, hold_expires_at, booked_at)
	             VALUES (?, ?, ?, ?, ?, 'PENDING', ?, ?, ?, UTC_TIMESTAMP())`
	res, err := tx.ExecContext(ctx, ins,
		code, p.IdempotencyKey, p.CustomerID, p.TripID, p.LeaseID,
		len(p.Seats), p.TotalAmount.String(), p.HoldExpiresAt)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDupEntry {
			existing, ferr := s.FindByIdempotencyKey(ctx, p.IdempotencyKey)
			if ferr != nil {
				return nil, false, fmt.Errorf("create booking: load duplicate: %w", ferr)
			}
			return existing, true, nil
		}
		return nil, false, fmt.Errorf("create booking: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, err
	}
	bookingID := uint64(id)

	if len(p.Seats) > 0 {
		q := `INSERT INTO booking_seats (booking_id, seat_no, floor_no, price) VALUES `
		args := make([]interface{}, 0, len(p.Seats)*4)
		for i, seat := range p.Seats {
			if i > 0 {
				q += ","
			}
			q += "(?, ?, ?, ?)"
			args = append(args, bookingID, seat.SeatNo, seat.FloorNo, seat.Price.String())
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return nil, false, fmt.Errorf("create booking: seats: %w", err)
		}
	}
	if len(p.Snapshots) > 0 {
		q := `INSERT INTO pricing_snapshots (booking_id, seat_no, base_fare, vehicle_factor, floor_factor, seat_factor, final_price) VALUES `
		args := make([]interface{}, 0, len(p.Snapshots)*7)
		for i, snap := range p.Snapshots {
			if i > 0 {
				q += ","
			}
			q += "(?, ?, ?, ?, ?, ?, ?)"
			args = append(args, bookingID, snap.SeatNo, snap.BaseFare.String(), snap.VehicleFactor.String(),
				snap.FloorFactor.String(), snap.SeatFactor.String(), snap.FinalPrice.String())
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return nil, false, fmt.Errorf("create booking: snapshots: %w", err)
		}
	}
	if p.Promotion != nil {
		const q = `INSERT INTO applied_promotions
		           (booking_id, promotion_id, promotion_code, policy_type, percent, max_off, discount_amount, applied_at)
		           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, q, bookingID, p.Promotion.PromotionID, p.Promotion.PromotionCode,
			p.Promotion.PolicyType, p.Promotion.Percent, p.Promotion.MaxOff.String(),
			p.Promotion.DiscountAmount.String(), p.Promotion.AppliedAt); err != nil {
			return nil, false, fmt.Errorf("create booking: promotion: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("create booking: commit: %w", err)
	}
	committed = true

	booking, err := s.FindByCode(ctx, code)
	if err != nil {
		return nil, false, err
	}
	return booking, false, nil
}

// MarkConfirmed moves a booking from PENDING to CONFIRMED and stamps the
// winning payment transaction SUCCESS in the same transaction, so the two
// never disagree.  Already-CONFIRMED bookings are a no-op success; any
// other source state is ErrStateConflict.
func (s *Store) MarkConfirmed(ctx context.Context, bookingCode string, paymentTxnID uint64) error {
	return s.transition(ctx, bookingCode, model.BookingConfirmed, func(tx *sql.Tx) error {
		if paymentTxnID == 0 {
			return nil
		}
		const q = `UPDATE payment_transactions SET status = 'SUCCESS', time = UTC_TIMESTAMP(), updated_at = UTC_TIMESTAMP() WHERE id = ?`
		_, err := tx.ExecContext(ctx, q, paymentTxnID)
		return err
	})
}

// MarkExpiredOrCancelled moves a booking from PENDING to CANCELLED or
// EXPIRED.  Reaching the target state again is a no-op success so the
// sweeper and an explicit cancel can race safely.
func (s *Store) MarkExpiredOrCancelled(ctx context.Context, bookingCode string, target model.BookingStatus, reason string) error {
	if target != model.BookingCancelled && target != model.BookingExpired {
		return fmt.Errorf("mark %s: %w", target, ErrStateConflict)
	}
	return s.transition(ctx, bookingCode, target, func(tx *sql.Tx) error {
		if reason == "" {
			return nil
		}
		const q = `UPDATE bookings SET cancel_reason = ? WHERE booking_code = ?`
		_, err := tx.ExecContext(ctx, q, reason, bookingCode)
		return err
	})
}

// transition applies a guarded status change under SELECT ... FOR UPDATE
// and runs extra inside the same transaction after the status flip.
func (s *Store) transition(ctx context.Context, bookingCode string, target model.BookingStatus, extra func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("transition: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var current model.BookingStatus
	const sel = `SELECT status FROM bookings WHERE booking_code = ? FOR UPDATE`
	if err := tx.QueryRowContext(ctx, sel, bookingCode).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("transition: load: %w", err)
	}
	if current == target {
		// Idempotent repeat of a transition that already happened.
		if err := tx.Commit(); err != nil {
			return err
		}
		committed = true
		return nil
	}
	if !model.CanTransition(current, target) {
		return fmt.Errorf("%s -> %s: %w", current, target, ErrStateConflict)
	}

	const upd = `UPDATE bookings SET status = ?, updated_at = UTC_TIMESTAMP() WHERE booking_code = ?`
	if _, err := tx.ExecContext(ctx, upd, string(target), bookingCode); err != nil {
		return fmt.Errorf("transition: update: %w", err)
	}
	if extra != nil {
		if err := extra(tx); err != nil {
			return fmt.Errorf("transition: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("transition: commit: %w", err)
	}
	committed = true
	return nil
}

// UpdateHoldExpiry keeps bookings.hold_expires_at in step with the lease
// after a renew.  PENDING-only by the WHERE clause; renewing a booking
// that left PENDING in the meantime is a harmless no-op.
func (s *Store) UpdateHoldExpiry(ctx context.Context, bookingCode string, expiresAt time.Time) error {
	const q = `UPDATE bookings SET hold_expires_at = ?, updated_at = UTC_TIMESTAMP()
	           WHERE booking_code = ? AND status = 'PENDING'`
	if _, err := s.db.ExecContext(ctx, q, expiresAt, bookingCode); err != nil {
		return fmt.Errorf("update hold expiry: %w", err)
	}
	return nil
}

// FindByCode loads a booking and its seats by public booking code.
func (s *Store) FindByCode(ctx context.Context, bookingCode string) (*model.Booking, error) {
	return s.findOne(ctx, `booking_code = ?`, bookingCode)
}

// FindByID loads a booking and its seats by internal ID.
func (s *Store) FindByID(ctx context.Context, id uint64) (*model.Booking, error) {
	return s.findOne(ctx, `id = ?`, id)
}

// FindByIdempotencyKey loads a booking and its seats by idempotency key.
// Returns ErrNotFound when no booking exists for the key.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*model.Booking, error) {
	return s.findOne(ctx, `idempotency_key = ?`, key)
}

func (s *Store) findOne(ctx context.Context, where string, arg interface{}) (*model.Booking, error) {
	q := `SELECT id, booking_code, idempotency_key, customer_id, trip_id, lease_id, status,
	             quantity, total_amount, hold_expires_at, booked_at, created_at, updated_at
	      FROM bookings WHERE ` + where
	b, err := scanBooking(s.db.QueryRowContext(ctx, q, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	seats, err := s.seatsByBookingID(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	b.Seats = seats
	return b, nil
}

// FindPending returns all PENDING bookings, oldest first.  Used by the
// payment reconciler's crash-recovery scan; the PENDING set is bounded by
// the hold TTL so the full scan stays small.
func (s *Store) FindPending(ctx context.Context) ([]model.Booking, error) {
	const q = `SELECT id, booking_code, idempotency_key, customer_id, trip_id, lease_id, status,
	                  quantity, total_amount, hold_expires_at, booked_at, created_at, updated_at
	           FROM bookings WHERE status = 'PENDING' ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// CountPending returns the number of PENDING bookings.  Feeds the
// pending-bookings gauge.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE status = 'PENDING'`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(r rowScanner) (*model.Booking, error) {
	var b model.Booking
	var status, total string
	if err := r.Scan(&b.ID, &b.BookingCode, &b.IdempotencyKey, &b.CustomerID, &b.TripID, &b.LeaseID,
		&status, &b.Quantity, &total, &b.HoldExpiresAt, &b.BookedAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Status = model.BookingStatus(status)
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("scan booking: total_amount: %w", err)
	}
	b.TotalAmount = amount
	return &b, nil
}

func (s *Store) seatsByBookingID(ctx context.Context, bookingID uint64) ([]model.BookingSeat, error) {
	const q = `SELECT seat_no, floor_no, price FROM booking_seats WHERE booking_id = ? ORDER BY seat_no`
	rows, err := s.db.QueryContext(ctx, q, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.BookingSeat
	for rows.Next() {
		var seat model.BookingSeat
		var price string
		if err := rows.Scan(&seat.SeatNo, &seat.FloorNo, &price); err != nil {
			return nil, err
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			return nil, err
		}
		seat.Price = p
		out = append(out, seat)
	}
	return out, rows.Err()
}

// codeAlphabet avoids 0/O and 1/I so booking codes survive being read out
// over the phone.
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// newBookingCode produces a short public identifier like "BK-7F3K2A".
func newBookingCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, 6)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return "BK-" + string(out), nil
}
