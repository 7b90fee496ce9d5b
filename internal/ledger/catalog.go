package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ridehub/seat-booking/internal/model"
)

// TripCatalog reads the trip and trip_seats tables maintained by the
// external catalog service and owns the one write this core performs on
// them: flipping trip_seats.booked after a confirmation has durably
// committed.  The booked flag is a display projection only; locking
// decisions never consult it.
type TripCatalog struct {
	db *sql.DB
}

// NewTripCatalog returns a TripCatalog bound to the given database.
func NewTripCatalog(db *sql.DB) *TripCatalog { return &TripCatalog{db: db} }

// ErrTripNotFound is returned when a trip ID does not exist in the catalog.
var ErrTripNotFound = errors.New("trip not found")

// Trip loads the pricing inputs for a trip.
func (c *TripCatalog) Trip(ctx context.Context, tripID uint64) (*model.Trip, error) {
	const q = `SELECT id, route_id, base_fare, vehicle_factor, departure_at FROM trips WHERE id = ?`
	var t model.Trip
	var baseFare, vehicleFactor string
	err := c.db.QueryRowContext(ctx, q, tripID).Scan(&t.ID, &t.RouteID, &baseFare, &vehicleFactor, &t.DepartureAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTripNotFound
		}
		return nil, fmt.Errorf("load trip: %w", err)
	}
	if t.BaseFare, err = decimal.NewFromString(baseFare); err != nil {
		return nil, err
	}
	if t.VehicleFactor, err = decimal.NewFromString(vehicleFactor); err != nil {
		return nil, err
	}
	return &t, nil
}

// SeatsByNo loads the trip_seats rows for the requested seat numbers,
// keyed by seat number.  Seat numbers absent from the map do not exist on
// the trip's seat map.
func (c *TripCatalog) SeatsByNo(ctx context.Context, tripID uint64, seatNos []string) (map[string]model.TripSeat, error) {
	if len(seatNos) == 0 {
		return map[string]model.TripSeat{}, nil
	}
	q := `SELECT id, trip_id, seat_no, floor_no, booked, price_factor
	      FROM trip_seats WHERE trip_id = ? AND seat_no IN (` + placeholders(len(seatNos)) + `)`
	args := make([]interface{}, 0, len(seatNos)+1)
	args = append(args, tripID)
	for _, sn := range seatNos {
		args = append(args, sn)
	}
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("load trip seats: %w", err)
	}
	defer rows.Close()
	out := make(map[string]model.TripSeat, len(seatNos))
	for rows.Next() {
		var ts model.TripSeat
		var factor string
		if err := rows.Scan(&ts.ID, &ts.TripID, &ts.SeatNo, &ts.FloorNo, &ts.Booked, &factor); err != nil {
			return nil, err
		}
		if ts.PriceFactor, err = decimal.NewFromString(factor); err != nil {
			return nil, err
		}
		out[ts.SeatNo] = ts
	}
	return out, rows.Err()
}

// SettleBooked flips trip_seats.booked for the given seats.  Called after
// the lock and booking transitions committed, never inside them; a missed
// update here only delays the display projection.
func (c *TripCatalog) SettleBooked(ctx context.Context, tripID uint64, seatNos []string, booked bool) error {
	if len(seatNos) == 0 {
		return nil
	}
	q := `UPDATE trip_seats SET booked = ?, updated_at = UTC_TIMESTAMP()
	      WHERE trip_id = ? AND seat_no IN (` + placeholders(len(seatNos)) + `)`
	args := make([]interface{}, 0, len(seatNos)+2)
	args = append(args, booked, tripID)
	for _, sn := range seatNos {
		args = append(args, sn)
	}
	if _, err := c.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("settle trip seats: %w", err)
	}
	return nil
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
