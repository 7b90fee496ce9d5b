package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/ridehub/seat-booking/internal/model"
	"github.com/ridehub/seat-booking/internal/payment"
)

// WebhookHandler receives payment gateway notifications.  The endpoint is
// unauthenticated HTTP-wise; the shared secret header is what gates it.
type WebhookHandler struct {
	Reconciler *payment.Reconciler
	Secret     string // value the gateway sends in X-Webhook-Secret
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(r *payment.Reconciler, secret string) *WebhookHandler {
	if r == nil {
		panic("nil reconciler passed to NewWebhookHandler")
	}
	return &WebhookHandler{Reconciler: r, Secret: secret}
}

// webhookBody mirrors the gateway's notification payload.
type webhookBody struct {
	OrderRef      string `json:"order_ref"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	Note          string `json:"note"`
}

// Receive handles POST /v1/webhooks/payment/:provider.  Replayed
// deliveries are acknowledged with 200 so the gateway stops retrying;
// anything the reconciler could not apply returns 500 and the gateway
// will redeliver.
func (h *WebhookHandler) Receive(c echo.Context) error {
	got := c.Request().Header.Get("X-Webhook-Secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid webhook secret"})
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}
	var body webhookBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid json payload"})
	}
	if body.OrderRef == "" || body.Status == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order_ref and status are required"})
	}
	status, ok := mapGatewayStatus(body.Status)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unsupported status"})
	}
	amount := decimal.Zero
	if body.Amount != "" {
		if amount, err = decimal.NewFromString(body.Amount); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid amount"})
		}
	}

	err = h.Reconciler.HandleWebhook(c.Request().Context(), payment.WebhookEvent{
		Provider:      c.Param("provider"),
		OrderRef:      body.OrderRef,
		TransactionID: body.TransactionID,
		Status:        status,
		Amount:        amount,
		Note:          body.Note,
		RawPayload:    raw,
	})
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"status": "processed"})
	case errors.Is(err, payment.ErrWebhookReplay):
		return c.JSON(http.StatusOK, echo.Map{"status": "ignored"})
	case errors.Is(err, payment.ErrUnknownOrderRef):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown order reference"})
	default:
		c.Logger().Errorf("webhook: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to process webhook"})
	}
}

// mapGatewayStatus normalizes the status strings gateways use.
func mapGatewayStatus(s string) (model.PaymentStatus, bool) {
	switch s {
	case "SUCCESS", "PAID", "COMPLETED":
		return model.PaymentSuccess, true
	case "FAILED", "DECLINED", "EXPIRED":
		return model.PaymentFailed, true
	default:
		return "", false
	}
}
