package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ridehub/seat-booking/internal/pricing"
)

// ErrPromotionNotFound is returned for unknown, disabled or lapsed
// promotion codes.
var ErrPromotionNotFound = errors.New("promotion not found or not active")

// PromotionStore resolves promotion codes against the promotions table
// maintained by the marketing service.  Only active codes inside their
// validity window resolve; everything else is ErrPromotionNotFound.
type PromotionStore struct {
	db *sql.DB
}

// NewPromotionStore returns a PromotionStore bound to the given database.
func NewPromotionStore(db *sql.DB) *PromotionStore { return &PromotionStore{db: db} }

// Resolve looks up an active promotion by code.
func (p *PromotionStore) Resolve(ctx context.Context, code string) (*pricing.Promotion, error) {
	const q = `SELECT id, code, policy_type, percent, max_off
	           FROM promotions
	           WHERE code = ? AND active = 1
	             AND valid_from <= UTC_TIMESTAMP() AND valid_until >= UTC_TIMESTAMP()`
	var promo pricing.Promotion
	var maxOff string
	err := p.db.QueryRowContext(ctx, q, code).Scan(&promo.ID, &promo.Code, &promo.PolicyType, &promo.Percent, &maxOff)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPromotionNotFound
		}
		return nil, fmt.Errorf("resolve promotion: %w", err)
	}
	if promo.MaxOff, err = decimal.NewFromString(maxOff); err != nil {
		return nil, err
	}
	return &promo, nil
}
