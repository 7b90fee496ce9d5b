// Package payment integrates the external payment gateway: the outbound
// create-payment call made when a booking is created, and the reconciler
// that consumes the gateway's webhooks and drives booking transitions.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ridehub/seat-booking/internal/ledger"
	"github.com/ridehub/seat-booking/internal/model"
)

// Gateway is the outbound side of the payment provider.  The provider
// protocol is deliberately thin: one create call keyed by our order
// reference; everything else arrives as webhooks.
type Gateway interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (payURL string, err error)
}

// CreatePaymentRequest is the payload of the outbound create call.
type CreatePaymentRequest struct {
	OrderRef    string          `json:"order_ref"`
	BookingCode string          `json:"booking_code"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// HTTPGateway talks JSON to a gateway endpoint.  The API key travels in a
// header; the gateway echoes order_ref back in its webhooks.
type HTTPGateway struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPGateway returns a gateway client with a bounded request timeout.
func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// CreatePayment posts the create request and returns the hosted pay URL.
func (g *HTTPGateway) CreatePayment(ctx context.Context, req CreatePaymentRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", g.APIKey)

	resp, err := g.Client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gateway create payment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("gateway create payment: status %d", resp.StatusCode)
	}
	var out struct {
		PayURL string `json:"pay_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gateway create payment: decode: %w", err)
	}
	return out.PayURL, nil
}

// Initiator implements the coordinator's Payments port: it records an
// INITIATED transaction row and asks the gateway for a pay URL.
type Initiator struct {
	Ledger  *ledger.Store
	Gateway Gateway
	Method  string // e.g. "BANK_QR"
}

// InitiatePayment creates the payment transaction for a fresh booking.
// The order reference is a UUID so webhook matching never collides across
// retried bookings.
func (i *Initiator) InitiatePayment(ctx context.Context, b *model.Booking) (string, error) {
	txn := &model.PaymentTransaction{
		BookingID: b.ID,
		OrderRef:  uuid.NewString(),
		Method:    i.Method,
		Amount:    b.TotalAmount,
	}
	if err := i.Ledger.CreatePaymentTransaction(ctx, txn); err != nil {
		return "", err
	}
	payURL, err := i.Gateway.CreatePayment(ctx, CreatePaymentRequest{
		OrderRef:    txn.OrderRef,
		BookingCode: b.BookingCode,
		Amount:      b.TotalAmount,
		Description: fmt.Sprintf("trip %d, %d seat(s)", b.TripID, b.Quantity),
	})
	if err != nil {
		return "", err
	}
	return payURL, nil
}
