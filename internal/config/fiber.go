package config

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"ImageClassifier/pkg/handlerUtil"
)

func NewFiber(logger *logrus.Logger, cfg ServerConfig) *fiber.App {
	app := fiber.New(
		fiber.Config{
			AppName:               cfg.Name,
			BodyLimit:             cfg.BodyLimit,
			DisableKeepalive:      false,
			CaseSensitive:         true,
			DisableStartupMessage: cfg.Env == "test",
			JSONEncoder:           jsoniter.Marshal,
			JSONDecoder:           jsoniter.Unmarshal,
			ErrorHandler:          newErrorHandler(logger),
		})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: cfg.Env != "production",
	}))

	// Wildcard origins cannot be combined with credentials.
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS,HEAD",
		AllowHeaders:     "",
		AllowCredentials: false,
		ExposeHeaders:    "X-Request-ID,X-Trace-ID",
	}))

	return app
}

// newErrorHandler answers errors no handler dealt with (unknown routes, body
// limits, recovered panics) in the same {"detail": ...} shape as the rest of
// the API.
func newErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
		}

		entry := logger.WithFields(logrus.Fields{
			"path":   c.Path(),
			"method": c.Method(),
			"status": code,
			"error":  err.Error(),
		})
		if code >= fiber.StatusInternalServerError {
			entry.Error("Unhandled error")
		} else {
			entry.Debug("Request rejected")
		}

		return c.Status(code).JSON(handlerUtil.ErrorResponse{Detail: err.Error()})
	}
}
