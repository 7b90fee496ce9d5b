package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/ridehub/seat-booking/internal/model"
	"github.com/ridehub/seat-booking/internal/payment"
	"github.com/ridehub/seat-booking/internal/reservation"
)

func TestMapGatewayStatus(t *testing.T) {
	for _, s := range []string{"SUCCESS", "PAID", "COMPLETED"} {
		st, ok := mapGatewayStatus(s)
		assert.True(t, ok)
		assert.Equal(t, model.PaymentSuccess, st)
	}
	for _, s := range []string{"FAILED", "DECLINED", "EXPIRED"} {
		st, ok := mapGatewayStatus(s)
		assert.True(t, ok)
		assert.Equal(t, model.PaymentFailed, st)
	}
	_, ok := mapGatewayStatus("PENDING")
	assert.False(t, ok)
}

func webhookRequest(t *testing.T, body, secret string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment/bank", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if secret != "" {
		req.Header.Set("X-Webhook-Secret", secret)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("provider")
	c.SetParamValues("bank")
	return c, rec
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	h := NewWebhookHandler(&payment.Reconciler{}, "topsecret")

	c, rec := webhookRequest(t, `{"order_ref":"r1","status":"SUCCESS"}`, "wrong")
	assert.NoError(t, h.Receive(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	c, rec = webhookRequest(t, `{}`, "")
	assert.NoError(t, h.Receive(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookValidatesBody(t *testing.T) {
	h := NewWebhookHandler(&payment.Reconciler{}, "topsecret")

	// Invalid JSON.
	c, rec := webhookRequest(t, `not-json`, "topsecret")
	assert.NoError(t, h.Receive(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing order_ref.
	c, rec = webhookRequest(t, `{"status":"SUCCESS"}`, "topsecret")
	assert.NoError(t, h.Receive(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Status outside the gateway vocabulary.
	c, rec = webhookRequest(t, `{"order_ref":"r1","status":"MAYBE"}`, "topsecret")
	assert.NoError(t, h.Receive(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Amount that does not parse as a decimal.
	c, rec = webhookRequest(t, `{"order_ref":"r1","status":"SUCCESS","amount":"ten"}`, "topsecret")
	assert.NoError(t, h.Receive(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReserveRequiresAuthenticatedCustomer(t *testing.T) {
	h := NewBookingHandler(&reservation.Coordinator{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/trips/7/bookings", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("7")

	assert.NoError(t, h.Reserve(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReserveValidatesTripIDAndBody(t *testing.T) {
	h := NewBookingHandler(&reservation.Coordinator{})
	e := echo.New()

	newCtx := func(tripID, body string) (echo.Context, *httptest.ResponseRecorder) {
		req := httptest.NewRequest(http.MethodPost, "/v1/trips/"+tripID+"/bookings", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(tripID)
		c.Set("user_id", "cust-1")
		return c, rec
	}

	c, rec := newCtx("abc", `{"seat_nos":["A1"],"idempotency_key":"key-12345"}`)
	assert.NoError(t, h.Reserve(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// No seats.
	c, rec = newCtx("7", `{"seat_nos":[],"idempotency_key":"key-12345"}`)
	assert.NoError(t, h.Reserve(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Idempotency key too short.
	c, rec = newCtx("7", `{"seat_nos":["A1"],"idempotency_key":"k"}`)
	assert.NoError(t, h.Reserve(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
