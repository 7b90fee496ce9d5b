package model

import "time"

// LockStatus enumerates the lifecycle states of a seat lock.  A seat with
// no lock row (or only a terminal row) is considered FREE; FREE itself is
// never stored.
type LockStatus string

const (
	LockHeld      LockStatus = "HELD"      // seat is held pending payment
	LockConfirmed LockStatus = "CONFIRMED" // payment settled, seat is sold
	LockExpired   LockStatus = "EXPIRED"   // hold TTL passed without payment
	LockReleased  LockStatus = "RELEASED"  // hold given up explicitly
)

// Terminal reports whether the status permits no further transitions short
// of a new acquisition reusing the row.
func (s LockStatus) Terminal() bool {
	return s == LockExpired || s == LockReleased || s == LockConfirmed
}

// SeatLock is the concurrency primitive of the booking core: at most one
// HELD or CONFIRMED lock may exist per (trip, seat) pair at any time, which
// the storage layer enforces with a unique index and compare-and-swap
// status updates.
//
// Locks acquired by a single reserve call share a LeaseID and an
// IdempotencyKey so that the whole set expires, confirms or releases
// together and client retries can find their earlier acquisition.
type SeatLock struct {
	ID             uint64     // seat_locks.id
	TripID         uint64     // trip the seat belongs to
	SeatNo         string     // seat number within the trip's vehicle, e.g. "A1"
	UserID         string     // customer holding the seat
	LeaseID        string     // groups the locks taken by one acquire call
	IdempotencyKey string     // ties the lock to the booking request that created it
	Status         LockStatus // current lifecycle state
	ExpiresAt      time.Time  // when a HELD lock lapses
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
