// Package lockstore implements the seat lock store, the single source of
// truth for in-flight seat contention.  Lock rows live in the seat_locks
// table with a unique (trip_id, seat_no) index; every state change is a
// compare-and-swap on the status column so concurrent transitions have
// exactly one winner.
package lockstore

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSeatsUnavailable is the sentinel matched by errors.Is when an
// acquisition fails because another party holds one or more of the
// requested seats.  The concrete error is a *ConflictError carrying the
// seat numbers.
var ErrSeatsUnavailable = errors.New("seats unavailable")

// ErrLeaseNotFound is returned when no lock rows exist for a lease ID.
var ErrLeaseNotFound = errors.New("lease not found")

// ErrLeaseExpired is returned when a renew or confirm finds the lease
// already reaped (EXPIRED or RELEASED).
var ErrLeaseExpired = errors.New("lease expired")

// ConflictError reports which seats blocked an acquisition.  Callers
// surface the list so the client can re-pick seats.
type ConflictError struct {
	Seats []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("seats unavailable: %s", strings.Join(e.Seats, ","))
}

// Is makes errors.Is(err, ErrSeatsUnavailable) match a *ConflictError.
func (e *ConflictError) Is(target error) bool {
	return target == ErrSeatsUnavailable
}
