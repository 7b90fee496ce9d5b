package router // package router defines how HTTP routes are registered for the API

import (
	"database/sql"

	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ridehub/seat-booking/internal/handler"    // import the handlers that implement business logic
	"github.com/ridehub/seat-booking/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance: the health probes and the Prometheus
// metrics endpoint.
func RegisterRoutes(e *echo.Echo, db *sql.DB) {
	// Liveness and readiness probes for load balancers and orchestrators.
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
	// Prometheus scrapes the default registry here.
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterBooking registers the customer booking endpoints under /v1.
// Every route requires a valid access token with the CUSTOMER role; the
// rate limiter, when provided, wraps the whole group.
func RegisterBooking(e *echo.Echo, h *handler.BookingHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1")
	if limiter != nil {
		g.Use(limiter)
	}
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole("CUSTOMER"))

	// Reserve seats on a trip; idempotent via the idempotency_key body field.
	g.POST("/trips/:id/bookings", h.Reserve)
	// Read a booking.  Customers only see their own bookings.
	g.GET("/bookings/:code", h.Get)
	// Cancel a PENDING booking and free its seats.
	g.DELETE("/bookings/:code", h.Cancel)
	// Extend the payment hold of a PENDING booking.
	g.POST("/bookings/:code/renew", h.Renew)
}

// RegisterWebhooks registers the payment gateway callback.  The route is
// outside the JWT group: gateways authenticate with the shared secret
// header, which the handler checks itself.
func RegisterWebhooks(e *echo.Echo, h *handler.WebhookHandler) {
	e.POST("/v1/webhooks/payment/:provider", h.Receive)
}
