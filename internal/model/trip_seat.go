package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trip is the slice of catalog data the booking core reads: identity,
// base fare and the vehicle-level price factor.  Trips are maintained by
// the external catalog service; this service never writes them.
type Trip struct {
	ID            uint64
	RouteID       uint64
	BaseFare      decimal.Decimal // fare before any factor is applied
	VehicleFactor decimal.Decimal // multiplier for the vehicle class
	DepartureAt   time.Time
}

// TripSeat is the denormalized per-trip seat inventory row.  The Booked
// flag reflects settled state only: it is written after a lock reaches
// CONFIRMED and is never consulted for locking decisions, which the seat
// lock store alone arbitrates.
type TripSeat struct {
	ID          uint64
	TripID      uint64
	SeatNo      string
	FloorNo     int
	Booked      bool
	PriceFactor decimal.Decimal // per-seat multiplier (window, sleeper, ...)
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
