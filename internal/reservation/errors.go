// Package reservation orchestrates seat acquisition and booking creation.
// The Coordinator is the only writer of seat leases on the reserve path;
// the expiry sweeper and the payment reconciler drive the other
// transitions through the same stores.
package reservation

import "errors"

// ErrAlreadyConfirmed is returned when a cancel targets a CONFIRMED
// booking; confirmed bookings can only be undone through a refund flow.
var ErrAlreadyConfirmed = errors.New("booking already confirmed")

// ErrUnknownSeat is returned when a requested seat number does not exist
// on the trip's seat map.
var ErrUnknownSeat = errors.New("seat not on trip")

// ErrNotOwner is returned when a customer operates on a booking that
// belongs to someone else.
var ErrNotOwner = errors.New("booking belongs to another customer")

// ErrNotRenewable is returned when a renew targets a booking that is no
// longer PENDING.
var ErrNotRenewable = errors.New("booking hold can no longer be renewed")
