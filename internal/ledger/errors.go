// Package ledger is the durable record of bookings.  It enforces the
// booking invariants at the storage layer: exactly one booking per
// idempotency key, and guarded status transitions where confirmation and
// cancellation are mutually exclusive terminal moves out of PENDING.
package ledger

import "errors"

// ErrNotFound is returned when no booking (or related row) matches the
// requested identifier.
var ErrNotFound = errors.New("booking not found")

// ErrStateConflict is returned when a transition is attempted from an
// incompatible state, e.g. confirming a CANCELLED booking.  It indicates a
// client or reconciler bug and is logged by callers.
var ErrStateConflict = errors.New("booking state conflict")
