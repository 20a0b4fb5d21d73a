package handlerUtil

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/sirupsen/logrus"

	"ImageClassifier/pkg/log"
	"ImageClassifier/pkg/response"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

type ErrorHandler struct {
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger: logger,
	}
}

// Handle answers err. A *response.Error is answered with its own code, any
// other error is a 500. The message always goes out verbatim as detail.
func (h *ErrorHandler) Handle(c *fiber.Ctx, requestID string, err error, path string, operation string) error {
	var respErr *response.Error
	if errors.As(err, &respErr) {
		h.logger.WithFields(log.Fields{
			"request_id": requestID,
			"error":      err.Error(),
			"code":       respErr.Code,
			"path":       path,
			"operation":  operation,
		}).Warn("Operation failed with error response")
		return c.Status(respErr.Code).JSON(ErrorResponse{Detail: err.Error()})
	}

	traceID := log.ErrorWithTraceID(log.Fields{
		"request_id": requestID,
		"error":      err.Error(),
		"path":       path,
		"operation":  operation,
	}, "Unexpected error")
	c.Set("X-Trace-ID", traceID)

	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Detail: err.Error()})
}

func (h *ErrorHandler) HandleValidationError(c *fiber.Ctx, requestID string, err error, path string) error {
	h.logger.WithFields(log.Fields{
		"request_id": requestID,
		"error":      err.Error(),
		"path":       path,
	}).Warn("Validation failed")

	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Detail: "Validation failed: " + err.Error(),
	})
}

func (h *ErrorHandler) HandleRequestTimeout(c *fiber.Ctx) error {
	return c.Status(fiber.StatusRequestTimeout).JSON(ErrorResponse{
		Detail: utils.StatusMessage(fiber.StatusRequestTimeout),
	})
}

func (h *ErrorHandler) HandleSuccess(c *fiber.Ctx, statusCode int, data interface{}) error {
	if data == nil {
		return c.SendStatus(statusCode)
	}
	return c.Status(statusCode).JSON(data)
}
