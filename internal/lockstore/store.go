package lockstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ridehub/seat-booking/internal/model"
)

// Lease describes the set of lock rows created atomically by one Acquire
// call.  All rows share the lease ID, idempotency key and expiry.
type Lease struct {
	ID             string
	TripID         uint64
	SeatNos        []string
	IdempotencyKey string
	ExpiresAt      time.Time
}

// ExpiredLease is one lease reaped by ExpireDue, with enough context for
// the coordinator to cancel the owning booking.
type ExpiredLease struct {
	LeaseID        string
	TripID         uint64
	IdempotencyKey string
	SeatNos        []string
}

// Store provides access to the seat_locks table.  All timestamps are UTC;
// expiry comparisons happen in the database against UTC_TIMESTAMP() so a
// skewed application clock cannot revive a lapsed hold.
type Store struct {
	db *sql.DB
}

// New returns a Store bound to the provided database.
func New(db *sql.DB) *Store { return &Store{db: db} }

// lockRow mirrors the columns Acquire needs when classifying existing
// locks for the requested seats.
type lockRow struct {
	id        uint64
	seatNo    string
	leaseID   string
	idemKey   string
	status    model.LockStatus
	expiresAt time.Time
}

// Acquire attempts to create HELD rows for every requested seat under a
// fresh lease.  The call is all-or-nothing: if any seat is held or
// confirmed by a different idempotency key the transaction rolls back and
// a *ConflictError lists the blocking seats.  Re-acquisition with the same
// idempotency key returns the existing lease unchanged, which is what lets
// clients retry after a network timeout without losing their seats.
//
// Seat numbers are deduplicated and sorted before any row is touched, and
// the row-locking SELECT orders by seat_no, so two requests with
// overlapping seat sets always contend in the same order and cannot
// deadlock each other.
func (s *Store) Acquire(ctx context.Context, tripID uint64, seatNos []string, userID string, ttl time.Duration, idemKey string) (*Lease, error) {
	seats := normalizeSeats(seatNos)
	if len(seats) == 0 {
		return nil, fmt.Errorf("acquire: no seats requested")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("acquire: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Lock every existing row for the requested seats.  ORDER BY seat_no
	// fixes the order in which InnoDB takes the row locks.
	query := `SELECT id, seat_no, lease_id, idempotency_key, status, expires_at
	          FROM seat_locks
	          WHERE trip_id = ? AND seat_no IN (` + placeholders(len(seats)) + `)
	          ORDER BY seat_no
	          FOR UPDATE`
	args := make([]interface{}, 0, len(seats)+1)
	args = append(args, tripID)
	for _, sn := range seats {
		args = append(args, sn)
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("acquire: lock rows: %w", err)
	}
	existing := make(map[string]lockRow, len(seats))
	for rows.Next() {
		var r lockRow
		if scanErr := rows.Scan(&r.id, &r.seatNo, &r.leaseID, &r.idemKey, &r.status, &r.expiresAt); scanErr != nil {
			rows.Close()
			return nil, fmt.Errorf("acquire: scan: %w", scanErr)
		}
		existing[r.seatNo] = r
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	// Idempotent retry: if every requested seat is already HELD under one
	// lease carrying our idempotency key, hand that lease back untouched.
	if lease := existingLeaseFor(existing, seats, idemKey, now); lease != nil {
		lease.TripID = tripID
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("acquire: commit: %w", err)
		}
		committed = true
		return lease, nil
	}

	var conflicts []string
	var reuse []lockRow
	var insert []string
	for _, sn := range seats {
		r, ok := existing[sn]
		if !ok {
			insert = append(insert, sn)
			continue
		}
		switch {
		case r.status == model.LockConfirmed:
			conflicts = append(conflicts, sn)
		case r.status == model.LockHeld && r.idemKey != idemKey && r.expiresAt.After(now):
			conflicts = append(conflicts, sn)
		default:
			// Terminal row, lapsed hold, or a partial earlier attempt under
			// our own key: the row is reused under the new lease.
			reuse = append(reuse, r)
		}
	}
	if len(conflicts) > 0 {
		return nil, &ConflictError{Seats: conflicts}
	}

	leaseID := uuid.NewString()
	expiresAt := now.Add(ttl).Truncate(time.Second)
	for _, r := range reuse {
		const upd = `UPDATE seat_locks
		             SET user_id = ?, lease_id = ?, idempotency_key = ?, status = 'HELD', expires_at = ?, updated_at = UTC_TIMESTAMP()
		             WHERE id = ?`
		if _, err := tx.ExecContext(ctx, upd, userID, leaseID, idemKey, expiresAt, r.id); err != nil {
			return nil, fmt.Errorf("acquire: reuse row: %w", err)
		}
	}
	if len(insert) > 0 {
		ins := `INSERT INTO seat_locks (trip_id, seat_no, user_id, lease_id, idempotency_key, status, expires_at) VALUES `
		insArgs := make([]interface{}, 0, len(insert)*7)
		for i, sn := range insert {
			if i > 0 {
				ins += ","
			}
			ins += "(?, ?, ?, ?, ?, 'HELD', ?)"
			insArgs = append(insArgs, tripID, sn, userID, leaseID, idemKey, expiresAt)
		}
		if _, err := tx.ExecContext(ctx, ins, insArgs...); err != nil {
			return nil, fmt.Errorf("acquire: insert rows: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("acquire: commit: %w", err)
	}
	committed = true
	return &Lease{
		ID:             leaseID,
		TripID:         tripID,
		SeatNos:        seats,
		IdempotencyKey: idemKey,
		ExpiresAt:      expiresAt,
	}, nil
}

// Renew extends the expiry of every HELD row in the lease.  It fails with
// ErrLeaseExpired when the sweeper has already reaped the lease and with
// ErrLeaseNotFound when no rows exist for the ID.
func (s *Store) Renew(ctx context.Context, leaseID string, ttl time.Duration) (time.Time, error) {
	expiresAt := time.Now().UTC().Add(ttl).Truncate(time.Second)
	const upd = `UPDATE seat_locks
	             SET expires_at = ?, updated_at = UTC_TIMESTAMP()
	             WHERE lease_id = ? AND status = 'HELD'`
	res, err := s.db.ExecContext(ctx, upd, expiresAt, leaseID)
	if err != nil {
		return time.Time{}, fmt.Errorf("renew: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return time.Time{}, err
	}
	if n == 0 {
		return time.Time{}, s.leaseGoneErr(ctx, leaseID)
	}
	return expiresAt, nil
}

// Confirm transitions every row of the lease from HELD to CONFIRMED.  A
// lease that is already fully CONFIRMED is a no-op success so the payment
// reconciler can safely repeat the call after a crash.  A lease the
// sweeper won first returns ErrLeaseExpired; the single UPDATE statement
// is the compare-and-swap that makes that race one-winner.
func (s *Store) Confirm(ctx context.Context, leaseID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("confirm: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const upd = `UPDATE seat_locks SET status = 'CONFIRMED', updated_at = UTC_TIMESTAMP()
	             WHERE lease_id = ? AND status = 'HELD'`
	if _, err := tx.ExecContext(ctx, upd, leaseID); err != nil {
		return fmt.Errorf("confirm: %w", err)
	}

	// Verify the whole lease ended up CONFIRMED; partial states mean the
	// sweeper reaped some rows first and the confirmation must not stand.
	var total, confirmed int
	const chk = `SELECT COUNT(*), COALESCE(SUM(status = 'CONFIRMED'), 0) FROM seat_locks WHERE lease_id = ?`
	if err := tx.QueryRowContext(ctx, chk, leaseID).Scan(&total, &confirmed); err != nil {
		return fmt.Errorf("confirm: verify: %w", err)
	}
	if total == 0 {
		return ErrLeaseNotFound
	}
	if confirmed != total {
		return ErrLeaseExpired
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("confirm: commit: %w", err)
	}
	committed = true
	return nil
}

// Release transitions HELD rows of the lease to RELEASED.  It is
// idempotent: rows already CONFIRMED, EXPIRED or RELEASED are untouched
// and no error is reported for them.
func (s *Store) Release(ctx context.Context, leaseID string) error {
	const upd = `UPDATE seat_locks SET status = 'RELEASED', updated_at = UTC_TIMESTAMP()
	             WHERE lease_id = ? AND status = 'HELD'`
	if _, err := s.db.ExecContext(ctx, upd, leaseID); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	return nil
}

// ExpireDue reaps HELD locks whose expiry has passed, up to limit leases
// per call, and returns the reaped leases so the sweeper can cancel the
// owning bookings.  The per-lease UPDATE carries the HELD guard, so a
// confirm racing on the same lease leaves this call with zero affected
// rows and the lease is skipped.
func (s *Store) ExpireDue(ctx context.Context, limit int) ([]ExpiredLease, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT DISTINCT lease_id, trip_id, idempotency_key
	           FROM seat_locks
	           WHERE status = 'HELD' AND expires_at <= UTC_TIMESTAMP()
	           LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("expire: scan due: %w", err)
	}
	var due []ExpiredLease
	for rows.Next() {
		var e ExpiredLease
		if scanErr := rows.Scan(&e.LeaseID, &e.TripID, &e.IdempotencyKey); scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		due = append(due, e)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	var reaped []ExpiredLease
	for _, e := range due {
		const upd = `UPDATE seat_locks SET status = 'EXPIRED', updated_at = UTC_TIMESTAMP()
		             WHERE lease_id = ? AND status = 'HELD' AND expires_at <= UTC_TIMESTAMP()`
		res, err := s.db.ExecContext(ctx, upd, e.LeaseID)
		if err != nil {
			return reaped, fmt.Errorf("expire: reap lease %s: %w", e.LeaseID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return reaped, err
		}
		if n == 0 {
			continue // lost the race to a confirm or renew
		}
		seats, err := s.SeatsByLease(ctx, e.LeaseID)
		if err != nil {
			return reaped, err
		}
		e.SeatNos = seats
		reaped = append(reaped, e)
	}
	return reaped, nil
}

// LeaseStatus summarizes the state of a lease: CONFIRMED when every row is
// confirmed, HELD when every row is held, otherwise the terminal state of
// the reaped rows.  Used by crash recovery to detect leases whose
// confirmation committed but whose booking transition did not.
func (s *Store) LeaseStatus(ctx context.Context, leaseID string) (model.LockStatus, error) {
	const q = `SELECT status, COUNT(*) FROM seat_locks WHERE lease_id = ? GROUP BY status`
	rows, err := s.db.QueryContext(ctx, q, leaseID)
	if err != nil {
		return "", fmt.Errorf("lease status: %w", err)
	}
	defer rows.Close()
	counts := make(map[model.LockStatus]int)
	for rows.Next() {
		var st model.LockStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return "", err
		}
		counts[st] = n
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(counts) == 0 {
		return "", ErrLeaseNotFound
	}
	for _, st := range []model.LockStatus{model.LockConfirmed, model.LockHeld, model.LockExpired, model.LockReleased} {
		if len(counts) == 1 && counts[st] > 0 {
			return st, nil
		}
	}
	// Mixed states only occur transiently between the reaper's per-row
	// updates; report the weakest state so callers retry later.
	if counts[model.LockHeld] > 0 {
		return model.LockHeld, nil
	}
	return model.LockExpired, nil
}

// SeatsByLease returns the seat numbers covered by a lease in sorted order.
func (s *Store) SeatsByLease(ctx context.Context, leaseID string) ([]string, error) {
	const q = `SELECT seat_no FROM seat_locks WHERE lease_id = ? ORDER BY seat_no`
	rows, err := s.db.QueryContext(ctx, q, leaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var seats []string
	for rows.Next() {
		var sn string
		if err := rows.Scan(&sn); err != nil {
			return nil, err
		}
		seats = append(seats, sn)
	}
	return seats, rows.Err()
}

// leaseGoneErr distinguishes a missing lease from a reaped one after a
// zero-row CAS update.
func (s *Store) leaseGoneErr(ctx context.Context, leaseID string) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM seat_locks WHERE lease_id = ?`, leaseID).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseNotFound
	}
	return ErrLeaseExpired
}

// existingLeaseFor returns the lease to hand back on an idempotent retry,
// or nil when the rows do not form a complete live lease under idemKey.
func existingLeaseFor(existing map[string]lockRow, seats []string, idemKey string, now time.Time) *Lease {
	var leaseID string
	var expiresAt time.Time
	for _, sn := range seats {
		r, ok := existing[sn]
		if !ok || r.status != model.LockHeld || r.idemKey != idemKey || !r.expiresAt.After(now) {
			return nil
		}
		if leaseID == "" {
			leaseID = r.leaseID
			expiresAt = r.expiresAt
		} else if r.leaseID != leaseID {
			return nil
		}
	}
	return &Lease{
		ID:             leaseID,
		SeatNos:        seats,
		IdempotencyKey: idemKey,
		ExpiresAt:      expiresAt,
	}
}

// normalizeSeats deduplicates and sorts seat numbers.  Deterministic order
// is what prevents circular wait between overlapping acquisitions.
func normalizeSeats(seatNos []string) []string {
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
	sort.Strings(out)
	return out
}

// placeholders builds a "?, ?, ?" list for IN clauses.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ", ?"
	}
	return out
}
