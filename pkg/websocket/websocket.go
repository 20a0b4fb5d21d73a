package websocketPkg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"ImageClassifier/internal/entity"
	"ImageClassifier/pkg/detector"
	"ImageClassifier/pkg/imagecodec"
)

// remoteResponse is the reply of the inference server to one frame.
type remoteResponse struct {
	Detections []remoteDetection `json:"detections"`
	Error      string            `json:"error,omitempty"`
}

type remoteDetection struct {
	Label      string    `json:"label"`
	Box        []float64 `json:"box"`
	Confidence float32   `json:"confidence"`
}

type Config struct {
	URL          string
	JPEGQuality  int
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// remoteDetector sends each image as a JPEG binary frame to an external
// inference server and waits for its JSON answer. One frame is in flight per
// connection at a time.
type remoteDetector struct {
	log  *logrus.Logger
	cfg  Config
	conn *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

func NewRemoteDetector(log *logrus.Logger, cfg Config) (detector.Detector, error) {
	if cfg.URL == "" {
		return nil, errors.New("remote detector URL not configured")
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	c := &remoteDetector{
		log:  log,
		cfg:  cfg,
		done: make(chan struct{}),
	}

	c.mu.Lock()
	err := c.connect()
	c.mu.Unlock()
	if err != nil {
		log.WithFields(logrus.Fields{
			"url":   cfg.URL,
			"error": err.Error(),
		}).Warn("Initial connection to inference server failed, will retry on demand")
	}

	go c.keepAlive()

	return c, nil
}

// connect must be called with mu held.
func (c *remoteDetector) connect() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.cfg.URL, err)
	}

	conn.SetPingHandler(func(appData string) error {
		if err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			c.log.Debugf("Error sending pong: %v", err)
		}
		return nil
	})

	c.conn = conn
	c.log.WithField("url", c.cfg.URL).Info("Connected to inference server")
	return nil
}

func (c *remoteDetector) keepAlive() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.conn != nil {
			err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(c.cfg.WriteTimeout))
			if err != nil {
				c.log.WithField("error", err.Error()).Warn("Ping failed, dropping inference server connection")
				c.conn.Close()
				c.conn = nil
			}
		}
		c.mu.Unlock()
	}
}

func (c *remoteDetector) Detect(ctx context.Context, img image.Image, threshold float32) ([]entity.Detection, error) {
	frame, err := imagecodec.Encode(img, c.cfg.JPEGQuality)
	if err != nil {
		return nil, detector.InferenceError(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	message, err := c.roundTrip(frame)
	if err != nil {
		c.log.WithField("error", err.Error()).Warn("Inference round trip failed, reconnecting")
		if err := c.connect(); err != nil {
			return nil, detector.InferenceError(err)
		}
		message, err = c.roundTrip(frame)
		if err != nil {
			return nil, detector.InferenceError(err)
		}
	}

	dets, err := parseResponse(message, img.Bounds().Dx(), img.Bounds().Dy())
	if err != nil {
		return nil, detector.InferenceError(err)
	}
	return detector.FilterByConfidence(dets, threshold), nil
}

// roundTrip must be called with mu held.
func (c *remoteDetector) roundTrip(frame []byte) ([]byte, error) {
	if c.conn == nil {
		return nil, errors.New("not connected to inference server")
	}
	conn := c.conn

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		conn.Close()
		c.conn = nil
		return nil, fmt.Errorf("error sending frame: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	_, message, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		c.conn = nil
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})
	return message, nil
}

func parseResponse(message []byte, width, height int) ([]entity.Detection, error) {
	var resp remoteResponse
	if err := jsoniter.Unmarshal(message, &resp); err != nil {
		return nil, fmt.Errorf("error unmarshaling response: %w", err)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}

	dets := make([]entity.Detection, 0, len(resp.Detections))
	for _, d := range resp.Detections {
		if len(d.Box) != 4 {
			return nil, fmt.Errorf("detection %q has %d box coordinates, want 4", d.Label, len(d.Box))
		}
		box := entity.BoundingBox{
			XMin: int(d.Box[0]),
			YMin: int(d.Box[1]),
			XMax: int(d.Box[2]),
			YMax: int(d.Box[3]),
		}
		dets = append(dets, entity.Detection{
			Label:      d.Label,
			Box:        detector.ClampBox(box, width, height),
			Confidence: d.Confidence,
		})
	}
	return dets, nil
}

func (c *remoteDetector) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
	})
	return nil
}
