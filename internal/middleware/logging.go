package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"

	"ImageClassifier/pkg/log"
)

// maxLoggedBody caps how much of a JSON request body ends up in the log.
const maxLoggedBody = 512

func LoggerConfig() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		requestID, ok := c.Locals(RequestIDKey).(string)
		if !ok || requestID == "" {
			requestID = "unknown"
		}

		c.Locals(log.RequestIDKey, requestID)

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()

		if err != nil && status == fiber.StatusInternalServerError {
			return err
		}

		logFields := log.Fields{
			"request_id":    requestID,
			"method":        c.Method(),
			"path":          c.Path(),
			"status":        status,
			"latency_ms":    latency.Milliseconds(),
			"ip":            c.IP(),
			"host":          c.Hostname(),
			"user_agent":    c.Get("User-Agent"),
			"response_size": len(c.Response().Body()),
		}

		if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) && len(c.Request().Body()) > 0 {
			logFields["request_body"] = sanitizeRequestBody(c.Request().Body())
		}

		if status >= 500 {
			log.Error(logFields, "Server error")
		} else if status >= 400 {
			log.Warn(logFields, "Client error")
		} else {
			log.Info(logFields, "Success")
		}

		return err
	}
}

// sanitizeRequestBody keeps base64 payloads out of the log.
func sanitizeRequestBody(body []byte) string {
	var jsonBody map[string]interface{}
	if err := jsoniter.Unmarshal(body, &jsonBody); err != nil {
		return "[non-JSON body]"
	}

	for field, value := range jsonBody {
		s, ok := value.(string)
		if !ok {
			continue
		}
		if strings.Contains(field, "image") || strings.Contains(field, "base64") {
			jsonBody[field] = "[IMAGE]"
		} else if len(s) > maxLoggedBody {
			jsonBody[field] = s[:maxLoggedBody] + "..."
		}
	}

	sanitized, err := jsoniter.Marshal(jsonBody)
	if err != nil {
		return "[sanitization-failed]"
	}

	return string(sanitized)
}
