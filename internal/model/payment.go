package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus enumerates gateway-side outcomes for a transaction.
type PaymentStatus string

const (
	PaymentInitiated PaymentStatus = "INITIATED"
	PaymentSuccess   PaymentStatus = "SUCCESS"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// PaymentTransaction records one outbound payment attempt for a booking.
// OrderRef is the key the gateway echoes back in webhooks.
type PaymentTransaction struct {
	ID            uint64
	BookingID     uint64
	TransactionID string // gateway-assigned id, empty until the first webhook
	OrderRef      string // our reference sent with the create-payment call
	Method        string // e.g. "CARD", "BANK_QR"
	Status        PaymentStatus
	Amount        decimal.Decimal
	GatewayNote   string // free-form note passed through from the gateway
	Time          time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PaymentWebhookLog stores one raw webhook delivery.  The payload hash is
// unique so retried deliveries collapse onto the first row, which is what
// makes reconciliation idempotent.
type PaymentWebhookLog struct {
	ID            uint64
	Provider      string
	PayloadHash   string
	TransactionID string
	Status        PaymentStatus
	Amount        decimal.Decimal
	RawPayload    string
	ReceivedAt    time.Time
	ProcessedAt   *time.Time
}
