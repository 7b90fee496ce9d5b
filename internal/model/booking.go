package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookingStatus enumerates the lifecycle states of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"   // seats held, awaiting payment
	BookingConfirmed BookingStatus = "CONFIRMED" // payment succeeded
	BookingCancelled BookingStatus = "CANCELLED" // released before payment
	BookingExpired   BookingStatus = "EXPIRED"   // hold TTL passed without payment
)

// validNext encodes the legal booking transitions.  Confirmation and
// cancellation are mutually exclusive terminal moves out of PENDING.
var validNext = map[BookingStatus]map[BookingStatus]bool{
	BookingPending:   {BookingConfirmed: true, BookingCancelled: true, BookingExpired: true},
	BookingConfirmed: {},
	BookingCancelled: {},
	BookingExpired:   {},
}

// CanTransition reports whether a booking may move from one status to
// another.  Same-state "transitions" are not listed here; callers treat
// them as idempotent no-ops.
func CanTransition(from, to BookingStatus) bool {
	return validNext[from][to]
}

// Booking aggregates the seat locks of one lease into a purchasable unit.
// It references its lease and seats by value (lease ID plus seat numbers)
// rather than holding pointers into live lock rows.
type Booking struct {
	ID             uint64          // bookings.id
	BookingCode    string          // short public identifier, e.g. "BK-7F3K2A"
	IdempotencyKey string          // client-supplied, unique per booking
	CustomerID     string          // customer who placed the booking
	TripID         uint64          // trip the seats belong to
	LeaseID        string          // lease created by the seat lock acquisition
	Status         BookingStatus   // current lifecycle state
	Quantity       int             // number of seats
	TotalAmount    decimal.Decimal // final price across all seats after discounts
	HoldExpiresAt  time.Time       // when the underlying lease lapses
	BookedAt       time.Time       // when the booking was created
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Seats []BookingSeat // populated on reads; value copies of the held seats
}

// BookingSeat is the value reference a booking keeps for each held seat.
type BookingSeat struct {
	SeatNo  string          // seat number on the trip
	FloorNo int             // floor of the vehicle the seat sits on
	Price   decimal.Decimal // final per-seat price from the pricing snapshot
}

// PricingSnapshot is the immutable per-seat price breakdown captured at
// booking-creation time.  It is never recomputed, so the customer's price
// survives later catalog changes.
type PricingSnapshot struct {
	ID            uint64
	BookingID     uint64
	SeatNo        string
	BaseFare      decimal.Decimal
	VehicleFactor decimal.Decimal
	FloorFactor   decimal.Decimal
	SeatFactor    decimal.Decimal
	FinalPrice    decimal.Decimal
	CreatedAt     time.Time
}

// AppliedPromotion records a discount applied to a booking at creation
// time.  Owned by the booking and cascade-deleted with it.
type AppliedPromotion struct {
	ID             uint64
	BookingID      uint64
	PromotionID    uint64
	PromotionCode  string
	PolicyType     string // e.g. "PERCENT_OFF"
	Percent        int
	MaxOff         decimal.Decimal
	DiscountAmount decimal.Decimal
	AppliedAt      time.Time
}
