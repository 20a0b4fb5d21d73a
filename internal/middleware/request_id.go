package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	contextPkg "ImageClassifier/pkg/context"
	"ImageClassifier/pkg/utils"
)

const RequestIDKey = contextPkg.RequestIDHeader

func NewRequestIDMiddleware() fiber.Handler {
	utilsInstance := utils.New(0)

	return func(c *fiber.Ctx) error {
		requestID := c.Get(RequestIDKey)

		if requestID == "" {
			requestID, _ = utilsInstance.NewULIDFromTimestamp(time.Now())
		}

		c.Locals(RequestIDKey, requestID)
		c.Set(RequestIDKey, requestID)

		return c.Next()
	}
}
