package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type Middleware interface {
	NewRateLimiter(ctx *fiber.Ctx) error
	NewRequestIDMiddleware() fiber.Handler
	NewLoggingMiddleware() fiber.Handler
	GetRequestID(ctx *fiber.Ctx) string
}

type Config struct {
	// RequestsPerSecond per client IP. Zero disables rate limiting.
	RequestsPerSecond float64
	Burst             int
}

type middleware struct {
	rateLimitter        *rateLimiter
	loggingMiddleware   fiber.Handler
	requestIDMiddleware fiber.Handler
	log                 *logrus.Logger
}

func New(logger *logrus.Logger, cfg Config) Middleware {
	var limiter *rateLimiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RequestsPerSecond) * 2
		}
		limiter = newRateLimiter(rate.Limit(cfg.RequestsPerSecond), max(burst, 1))
	}

	return &middleware{
		rateLimitter:        limiter,
		loggingMiddleware:   LoggerConfig(),
		requestIDMiddleware: NewRequestIDMiddleware(),
		log:                 logger,
	}
}

func (m *middleware) GetRequestID(ctx *fiber.Ctx) string {
	requestID, ok := ctx.Locals(RequestIDKey).(string)
	if !ok || requestID == "" {
		return "unknown"
	}
	return requestID
}

func (m *middleware) NewRequestIDMiddleware() fiber.Handler {
	return m.requestIDMiddleware
}

func (m *middleware) NewLoggingMiddleware() fiber.Handler {
	return m.loggingMiddleware
}
