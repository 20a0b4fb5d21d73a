package detectionHandler

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	detectionService "ImageClassifier/internal/api/detection/service"
	"ImageClassifier/internal/middleware"
	"ImageClassifier/pkg/utils"
)

type DetectionHandler struct {
	log              *logrus.Logger
	validator        *validator.Validate
	middleware       middleware.Middleware
	detectionService detectionService.IDetectionService
	utils            utils.IUtils
	// requestTimeout bounds each classify call. Zero means no bound.
	requestTimeout   time.Duration
}

func New(
	log *logrus.Logger,
	validator *validator.Validate,
	middleware middleware.Middleware,
	ds detectionService.IDetectionService,
	utils utils.IUtils,
	requestTimeout time.Duration,
) *DetectionHandler {
	return &DetectionHandler{
		detectionService: ds,
		log:              log,
		validator:        validator,
		middleware:       middleware,
		utils:            utils,
		requestTimeout:   requestTimeout,
	}
}

func (h *DetectionHandler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, h.requestTimeout)
}

func (h *DetectionHandler) Start(srv fiber.Router) {
	wsMiddleware := func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}

	srv.Post("/classify", h.Classify)
	srv.Use("/classify/ws", wsMiddleware)
	srv.Get("/classify/ws", websocket.New(h.handleClassifyWebSocket))
	srv.Get("/classify/:id", h.GetDetection)
}
