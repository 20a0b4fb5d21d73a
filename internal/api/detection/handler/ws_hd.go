package detectionHandler

import (
	"time"

	"github.com/gofiber/websocket/v2"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/net/context"

	"ImageClassifier/internal/api/detection"
	contextPkg "ImageClassifier/pkg/context"
	"ImageClassifier/pkg/imagecodec"
	"ImageClassifier/pkg/log"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleClassifyWebSocket answers every frame on its own. Binary frames are
// encoded images, text frames carry {"image_base64": "..."}. A failed frame
// gets {"detail": ...} and the socket stays open.
func (h *DetectionHandler) handleClassifyWebSocket(c *websocket.Conn) {
	requestID, _ := c.Locals(contextPkg.RequestIDHeader).(string)
	logger := h.log.WithField("request_id", requestID)

	logger.Info("Classify WebSocket client connected")
	defer logger.Info("Classify WebSocket client disconnected")

	c.SetPingHandler(func(data string) error {
		if err := c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second)); err != nil {
			logger.Errorf("Error sending pong: %v", err)
		}
		return nil
	})

	for {
		if err := c.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
			logger.Errorf("Error setting read deadline: %v", err)
			break
		}

		messageType, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("Classify WebSocket error: %v", err)
			}
			break
		}

		var reply interface{}
		switch messageType {
		case websocket.BinaryMessage:
			reply = h.classifyFrame(requestID, message)
		case websocket.TextMessage:
			var req detection.ClassifyRequest
			if err := jsoniter.Unmarshal(message, &req); err != nil || req.ImageBase64 == "" {
				reply = detection.ErrorResponse{Detail: detection.ErrInvalidJSON.Error()}
				break
			}
			data, err := imagecodec.DecodeText(req.ImageBase64)
			if err != nil {
				reply = detection.ErrorResponse{Detail: err.Error()}
				break
			}
			reply = h.classifyFrame(requestID, data)
		default:
			logger.Warnf("Received unexpected message type: %d", messageType)
			continue
		}

		if err := c.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			logger.Errorf("Error setting write deadline: %v", err)
			break
		}

		if err := c.WriteJSON(reply); err != nil {
			logger.Errorf("Error writing JSON response: %v", err)
			break
		}

		if err := c.SetWriteDeadline(time.Time{}); err != nil {
			logger.Errorf("Error resetting write deadline: %v", err)
			break
		}
	}
}

func (h *DetectionHandler) classifyFrame(requestID string, frame []byte) interface{} {
	ctx, cancel := h.withTimeout(contextPkg.WithRequestID(context.Background(), requestID))
	defer cancel()

	result, err := h.detectionService.Classify(ctx, frame)
	if err != nil {
		h.log.WithFields(log.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Warn("Error processing classify frame")
		return detection.ErrorResponse{Detail: err.Error()}
	}
	return result
}
