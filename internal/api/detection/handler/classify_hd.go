package detectionHandler

import (
	"bytes"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/net/context"

	"ImageClassifier/internal/api/detection"
	contextPkg "ImageClassifier/pkg/context"
	"ImageClassifier/pkg/handlerUtil"
	"ImageClassifier/pkg/imagecodec"
	"ImageClassifier/pkg/log"
	"ImageClassifier/pkg/response"
	"ImageClassifier/pkg/utils"
)

// Classify accepts an image as the multipart field "image" or as a JSON body
// {"image_base64": "..."} and answers with the detected objects and the
// annotated image.
func (h *DetectionHandler) Classify(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := h.withTimeout(contextPkg.FromFiberCtx(ctx))
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"path":       ctx.Path(),
	}).Debug("Processing classify request")

	var data []byte
	var err error
	if isMultipart(ctx) {
		data, err = h.readUpload(ctx)
	} else {
		var req detection.ClassifyRequest
		body := bytes.TrimSpace(ctx.Body())
		if len(body) == 0 {
			return errHandler.Handle(ctx, requestID, detection.ErrInvalidJSON, ctx.Path(), "parse_json")
		}
		if err := jsoniter.Unmarshal(body, &req); err != nil {
			return errHandler.Handle(ctx, requestID, detection.ErrInvalidJSON, ctx.Path(), "parse_json")
		}
		if err := h.validator.Struct(req); err != nil {
			return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
		}
		data, err = imagecodec.DecodeText(req.ImageBase64)
		if err != nil {
			err = response.WithDetail(detection.ErrInvalidImageData, err.Error())
		}
	}
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "read_image")
	}

	result, err := h.detectionService.Classify(c, data)
	if errors.Is(err, context.DeadlineExceeded) && c.Err() != nil {
		return errHandler.HandleRequestTimeout(ctx)
	}
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "classify")
	}

	h.log.WithFields(log.Fields{
		"request_id":   requestID,
		"detection_id": result.DetectionID,
		"objects":      result.ObjectsDetected,
	}).Info("Classify request completed")

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, result)
}

func (h *DetectionHandler) readUpload(ctx *fiber.Ctx) ([]byte, error) {
	file, err := ctx.FormFile("image")
	if err != nil {
		return nil, detection.ErrImageRequired
	}

	h.log.WithFields(log.Fields{
		"request_id": h.middleware.GetRequestID(ctx),
		"file_name":  file.Filename,
		"file_size":  file.Size,
	}).Debug("Processing file upload")

	data, err := h.utils.ReadImageFile(file)
	if errors.Is(err, utils.ErrFileTooLarge) {
		return nil, response.WithDetail(detection.ErrImageTooLarge, err.Error())
	}
	return data, err
}

func (h *DetectionHandler) GetDetection(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := h.withTimeout(contextPkg.FromFiberCtx(ctx))
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	result, err := h.detectionService.GetDetection(c, ctx.Params("id"))
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "get_detection")
	}

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, result)
}

func isMultipart(ctx *fiber.Ctx) bool {
	return strings.HasPrefix(ctx.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm)
}
