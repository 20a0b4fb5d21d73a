package context

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

const (
	RequestIDKey = "request_id"
	// RequestIDHeader is both the header and the fiber local the request id
	// travels under.
	RequestIDHeader = "X-Request-ID"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	requestID, ok := ctx.Value(RequestIDKey).(string)
	if !ok || requestID == "" {
		return "unknown"
	}
	return requestID
}

// FromFiberCtx derives a context carrying the request id from c's user
// context.
func FromFiberCtx(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()

	requestID, ok := c.Locals(RequestIDHeader).(string)
	if !ok || requestID == "" {
		requestID = c.Get(RequestIDHeader)

		if requestID == "" {
			requestID = "unknown"
		}
	}

	return WithRequestID(ctx, requestID)
}
