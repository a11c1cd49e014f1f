package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// RequestID ensures each request carries a stable identifier for tracing and
// logging. A client-supplied id is kept only when it parses as a UUID;
// anything else is replaced. The id is echoed on the response and stashed in
// Locals for handlers and RequestLogger.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(requestIDHeader)
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
		}

		c.Set(requestIDHeader, reqID)
		c.Locals(requestIDHeader, reqID)

		return c.Next()
	}
}

// FromCtx returns the request id assigned by RequestID, or "" when the
// middleware did not run.
func FromCtx(c *fiber.Ctx) string {
	reqID, _ := c.Locals(requestIDHeader).(string)
	return reqID
}

// RequestLogger derives a logger carrying the request id, so log lines from
// one request correlate with its X-Request-ID header.
func RequestLogger(c *fiber.Ctx, base *slog.Logger) *slog.Logger {
	if reqID := FromCtx(c); reqID != "" {
		return base.With("request_id", reqID)
	}
	return base
}
