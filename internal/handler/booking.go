package handler

import (
	"errors"   // for errors.Is / errors.As comparisons
	"net/http" // HTTP status codes
	"strconv"  // parsing path parameters

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/ridehub/seat-booking/internal/ledger"
	"github.com/ridehub/seat-booking/internal/lockstore"
	"github.com/ridehub/seat-booking/internal/model"
	"github.com/ridehub/seat-booking/internal/reservation"
)

// BookingHandler exposes the customer-facing booking endpoints.  All
// methods assume JWT authentication ran first; the customer identifier is
// taken from the context the middleware populated.
type BookingHandler struct {
	Coordinator *reservation.Coordinator
	Validate    *validator.Validate
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(coord *reservation.Coordinator) *BookingHandler {
	if coord == nil {
		panic("nil coordinator passed to NewBookingHandler")
	}
	return &BookingHandler{Coordinator: coord, Validate: validator.New()}
}

// reserveRequest is the body of POST /v1/trips/:id/bookings.
type reserveRequest struct {
	SeatNos        []string `json:"seat_nos" validate:"required,min=1,max=10,unique,dive,required"`
	IdempotencyKey string   `json:"idempotency_key" validate:"required,min=8,max=100"`
	PromotionCode  string   `json:"promotion_code" validate:"omitempty,max=40"`
}

// Reserve handles POST /v1/trips/:id/bookings.  It acquires the requested
// seats and creates a PENDING booking.  Repeating the call with the same
// idempotency key returns the original booking with a 200 instead of a
// 201.  When any seat is taken it returns 409 with the blocking seats in
// an "unavailable" array.
func (h *BookingHandler) Reserve(c echo.Context) error {
	customerID, err := getCustomerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	tripID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || tripID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid trip id"})
	}
	var body reserveRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := h.Validate.Struct(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	res, err := h.Coordinator.Reserve(c.Request().Context(), reservation.ReserveRequest{
		TripID:         tripID,
		SeatNos:        body.SeatNos,
		CustomerID:     customerID,
		IdempotencyKey: body.IdempotencyKey,
		PromotionCode:  body.PromotionCode,
	})
	if err != nil {
		var conflict *lockstore.ConflictError
		switch {
		case errors.As(err, &conflict):
			return c.JSON(http.StatusConflict, echo.Map{
				"error":       "some seats are unavailable",
				"unavailable": conflict.Seats,
			})
		case errors.Is(err, ledger.ErrTripNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "trip not found"})
		case errors.Is(err, reservation.ErrUnknownSeat), errors.Is(err, ledger.ErrPromotionNotFound):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		default:
			c.Logger().Errorf("reserve: %v", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to reserve seats"})
		}
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	return c.JSON(status, bookingJSON(res.Booking, res.PayURL))
}

// Get handles GET /v1/bookings/:code.  Customers can only read their own
// bookings.
func (h *BookingHandler) Get(c echo.Context) error {
	customerID, err := getCustomerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	b, err := h.Coordinator.Get(c.Request().Context(), c.Param("code"), customerID)
	if err != nil {
		return bookingErrJSON(c, err)
	}
	return c.JSON(http.StatusOK, bookingJSON(b, ""))
}

// Cancel handles DELETE /v1/bookings/:code.  Cancelling a booking that is
// already CANCELLED or EXPIRED succeeds with no effect; a CONFIRMED
// booking cannot be cancelled here and returns 409.
func (h *BookingHandler) Cancel(c echo.Context) error {
	customerID, err := getCustomerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if err := h.Coordinator.Cancel(c.Request().Context(), c.Param("code"), customerID); err != nil {
		if errors.Is(err, reservation.ErrAlreadyConfirmed) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "booking already confirmed"})
		}
		return bookingErrJSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Renew handles POST /v1/bookings/:code/renew.  It extends the hold of a
// PENDING booking and returns the new expiry.
func (h *BookingHandler) Renew(c echo.Context) error {
	customerID, err := getCustomerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	expiresAt, err := h.Coordinator.Renew(c.Request().Context(), c.Param("code"), customerID)
	if err != nil {
		switch {
		case errors.Is(err, reservation.ErrNotRenewable), errors.Is(err, lockstore.ErrLeaseExpired):
			return c.JSON(http.StatusConflict, echo.Map{"error": "booking hold can no longer be renewed"})
		case errors.Is(err, lockstore.ErrLeaseNotFound):
			return c.JSON(http.StatusConflict, echo.Map{"error": "seat hold no longer exists"})
		default:
			return bookingErrJSON(c, err)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"expires_at": expiresAt})
}

// bookingErrJSON maps the shared booking lookup errors to responses.
func bookingErrJSON(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
	case errors.Is(err, reservation.ErrNotOwner):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	default:
		c.Logger().Errorf("booking: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
}

// bookingJSON shapes a booking for API responses.  payURL is included
// only when non-empty, i.e. on a fresh reservation.
func bookingJSON(b *model.Booking, payURL string) echo.Map {
	seats := make([]echo.Map, 0, len(b.Seats))
	for _, seat := range b.Seats {
		seats = append(seats, echo.Map{
			"seat_no":  seat.SeatNo,
			"floor_no": seat.FloorNo,
			"price":    seat.Price.String(),
		})
	}
	out := echo.Map{
		"booking_code":    b.BookingCode,
		"status":          string(b.Status),
		"trip_id":         b.TripID,
		"quantity":        b.Quantity,
		"total_amount":    b.TotalAmount.String(),
		"hold_expires_at": b.HoldExpiresAt,
		"booked_at":       b.BookedAt,
		"seats":           seats,
	}
	if payURL != "" {
		out["pay_url"] = payURL
	}
	return out
}

// getCustomerID extracts the authenticated customer identifier stored in
// the context by the JWT middleware.
func getCustomerID(c echo.Context) (string, error) {
	if v, ok := c.Get("user_id").(string); ok && v != "" {
		return v, nil
	}
	return "", errors.New("invalid user_id in context")
}
