package transport

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/email-dispatch/internal/observability"
)

// RequestContext copies the request id assigned by the requestid middleware
// into the user context so loggers downstream can pick it up.
func RequestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if requestID := RequestID(c); requestID != "" {
			c.SetUserContext(observability.WithRequestID(c.UserContext(), requestID))
		}
		return c.Next()
	}
}

func RequestID(c *fiber.Ctx) string {
	if value, ok := c.Locals("requestid").(string); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
}
