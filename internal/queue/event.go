// Package queue defines message payloads exchanged over the message broker
// and the publisher/consumer that move them.  Downstream services
// (notifications, analytics) consume these events; this service only
// publishes them and, in the bundled consumer, writes an audit log line.
package queue

// BookingConfirmedEvent is published after a booking reaches CONFIRMED.
// It carries enough information for downstream consumers to notify the
// customer without querying the primary database.
type BookingConfirmedEvent struct {
	BookingCode   string   `json:"booking_code"`
	CustomerID    string   `json:"customer_id"`
	TripID        uint64   `json:"trip_id"`
	SeatNos       []string `json:"seat_nos"`
	TotalAmount   string   `json:"total_amount"`
	TransactionID string   `json:"transaction_id"`
	ConfirmedAt   string   `json:"confirmed_at"`
}

// BookingCancelledEvent is published when a booking is cancelled or
// expires.  Reason is "cancelled" for explicit cancels, "expired" for
// sweeper reaps and "payment_failed" for gateway failures.
type BookingCancelledEvent struct {
	BookingCode string   `json:"booking_code"`
	CustomerID  string   `json:"customer_id"`
	TripID      uint64   `json:"trip_id"`
	SeatNos     []string `json:"seat_nos"`
	Reason      string   `json:"reason"`
	OccurredAt  string   `json:"occurred_at"`
}
