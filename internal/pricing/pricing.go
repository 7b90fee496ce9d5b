// Package pricing computes the immutable price breakdown captured when a
// booking is created.  The formula is base fare x vehicle factor x floor
// factor x seat factor per seat, summed, minus at most one promotion.
// Inputs come from the catalog and the request; no pricing rules are
// evaluated here beyond the factor product and the discount cap.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ridehub/seat-booking/internal/model"
)

// floorFactors maps a vehicle floor to its price multiplier.  Upper decks
// of sleeper buses sell at a discount.  Unknown floors price at 1.
var floorFactors = map[int]decimal.Decimal{
	1: decimal.NewFromInt(1),
	2: decimal.RequireFromString("0.95"),
}

// FloorFactor returns the multiplier for a floor number.
func FloorFactor(floorNo int) decimal.Decimal {
	if f, ok := floorFactors[floorNo]; ok {
		return f
	}
	return decimal.NewFromInt(1)
}

// Promotion is the discount input resolved by the caller.  PolicyType
// "PERCENT_OFF" takes Percent of the subtotal capped at MaxOff; any other
// policy type is ignored.
type Promotion struct {
	ID         uint64
	Code       string
	PolicyType string
	Percent    int
	MaxOff     decimal.Decimal
}

// SeatQuote is the per-seat line of a quote; it maps one-to-one onto a
// pricing_snapshots row.
type SeatQuote struct {
	SeatNo        string
	FloorNo       int
	BaseFare      decimal.Decimal
	VehicleFactor decimal.Decimal
	FloorFactor   decimal.Decimal
	SeatFactor    decimal.Decimal
	FinalPrice    decimal.Decimal
}

// Quote is the full price breakdown for a booking.
type Quote struct {
	Seats     []SeatQuote
	Subtotal  decimal.Decimal
	Discount  decimal.Decimal
	Total     decimal.Decimal
	Promotion *model.AppliedPromotion
}

// BuildQuote prices the given trip seats.  Per-seat prices round to two
// decimal places before summing so the stored snapshot lines always add up
// to the stored total.
func BuildQuote(trip *model.Trip, seats []model.TripSeat, promo *Promotion) Quote {
	q := Quote{
		Seats:    make([]SeatQuote, 0, len(seats)),
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
	}
	for _, seat := range seats {
		ff := FloorFactor(seat.FloorNo)
		final := trip.BaseFare.
			Mul(trip.VehicleFactor).
			Mul(ff).
			Mul(seat.PriceFactor).
			Round(2)
		q.Seats = append(q.Seats, SeatQuote{
			SeatNo:        seat.SeatNo,
			FloorNo:       seat.FloorNo,
			BaseFare:      trip.BaseFare,
			VehicleFactor: trip.VehicleFactor,
			FloorFactor:   ff,
			SeatFactor:    seat.PriceFactor,
			FinalPrice:    final,
		})
		q.Subtotal = q.Subtotal.Add(final)
	}

	q.Total = q.Subtotal
	if promo != nil && promo.PolicyType == "PERCENT_OFF" && promo.Percent > 0 {
		discount := q.Subtotal.
			Mul(decimal.NewFromInt(int64(promo.Percent))).
			Div(decimal.NewFromInt(100)).
			Round(2)
		if promo.MaxOff.IsPositive() && discount.GreaterThan(promo.MaxOff) {
			discount = promo.MaxOff
		}
		if discount.GreaterThan(q.Subtotal) {
			discount = q.Subtotal
		}
		q.Discount = discount
		q.Total = q.Subtotal.Sub(discount)
		q.Promotion = &model.AppliedPromotion{
			PromotionID:    promo.ID,
			PromotionCode:  promo.Code,
			PolicyType:     promo.PolicyType,
			Percent:        promo.Percent,
			MaxOff:         promo.MaxOff,
			DiscountAmount: discount,
			AppliedAt:      time.Now().UTC(),
		}
	}
	return q
}
