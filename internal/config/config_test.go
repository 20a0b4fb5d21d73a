package config

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"

	"ImageClassifier/internal/api/detection"
	"ImageClassifier/internal/entity"
	"ImageClassifier/pkg/detector"
	"ImageClassifier/pkg/handlerUtil"
	"ImageClassifier/pkg/log"
)

func TestMain(m *testing.M) {
	os.Setenv("APP_ENV", "test")
	log.NewLogger(log.WithLevel("panic"))
	os.Exit(m.Run())
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestLoadConfigDefaults(t *testing.T) {
	v, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	cfg, err := ParseConfig(v, NewValidator())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.App.Address())
	assert.Equal(t, detector.BackendONNX, cfg.Detector.Backend)
	assert.Equal(t, float32(0.5), cfg.Detector.Threshold)
	assert.Equal(t, "model/yolo11n.onnx", cfg.Detector.ModelPath)
	assert.False(t, cfg.Archive.Enabled)
	assert.Equal(t, time.Hour, cfg.Archive.CacheTTL)
	assert.Zero(t, cfg.App.RequestTimeout)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DETECTOR_BACKEND", "remote")
	t.Setenv("DETECTOR_REMOTE_URL", "ws://inference:8765/detect")
	t.Setenv("ARCHIVE_ENABLED", "true")
	t.Setenv("ARCHIVE_CACHE_TTL", "5m")
	t.Setenv("AWS_BUCKET_NAME", "detections")

	v, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg, err := ParseConfig(v, NewValidator())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, detector.BackendRemote, cfg.Detector.Backend)
	assert.Equal(t, "ws://inference:8765/detect", cfg.Detector.RemoteURL)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Archive.CacheTTL)
	assert.Equal(t, "detections", cfg.AWS.BucketName)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "app:\n  port: 7000\ndetector:\n  threshold: 0.25\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	v, err := LoadConfig(dir)
	require.NoError(t, err)
	cfg, err := ParseConfig(v, NewValidator())
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.App.Port)
	assert.Equal(t, float32(0.25), cfg.Detector.Threshold)
}

func TestParseConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"DETECTOR_BACKEND": "tensorflow"}},
		{"threshold above one", map[string]string{"DETECTOR_THRESHOLD": "1.5"}},
		{"port out of range", map[string]string{"APP_PORT": "70000"}},
		{"remote without url", map[string]string{"DETECTOR_BACKEND": "remote"}},
		{"gemini without key", map[string]string{"DETECTOR_BACKEND": "gemini"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			v, err := LoadConfig(t.TempDir())
			require.NoError(t, err)

			_, err = ParseConfig(v, NewValidator())
			assert.Error(t, err)
		})
	}
}

func TestFiberErrorHandler(t *testing.T) {
	app := NewFiber(quietLogger(), ServerConfig{Name: "test", Env: "test", BodyLimit: 1024})
	app.Get("/panic", func(*fiber.Ctx) error {
		panic("kaboom")
	})

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/nowhere", http.StatusNotFound},
		{"/panic", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
		require.NoError(t, err)
		assert.Equal(t, tt.wantStatus, resp.StatusCode)

		var body handlerUtil.ErrorResponse
		require.NoError(t, jsoniter.NewDecoder(resp.Body).Decode(&body))
		assert.NotEmpty(t, body.Detail)
	}
}

func TestFiberCORS(t *testing.T) {
	app := NewFiber(quietLogger(), ServerConfig{Name: "test", Env: "test", BodyLimit: 1024})
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://example.com")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

type stubDetector struct{}

func (stubDetector) Detect(_ context.Context, img image.Image, _ float32) ([]entity.Detection, error) {
	b := img.Bounds()
	return []entity.Detection{{
		Label:      "person",
		Box:        entity.BoundingBox{XMin: b.Dx() / 4, YMin: b.Dy() / 4, XMax: b.Dx() * 3 / 4, YMax: b.Dy() * 3 / 4},
		Confidence: 0.9,
	}}, nil
}

func (stubDetector) Close() error { return nil }

func TestServerClassifyEndToEnd(t *testing.T) {
	logger := quietLogger()
	srv, err := NewServer(
		WithFiber(NewFiber(logger, ServerConfig{Name: "test", Env: "test", BodyLimit: 4 << 20})),
		WithLogger(logger),
		WithValidator(NewValidator()),
		WithMiddleware(RateLimitConfig{}),
		WithUtils(1<<20),
		WithDetector(stubDetector{}),
		WithAnnotator(AnnotatorConfig{LineWidth: 3, FontSize: 24}),
		WithServiceConfig(DetectorConfig{Threshold: 0.5, JPEGQuality: 90}, ArchiveConfig{}, time.Second),
	)
	require.NoError(t, err)
	srv.RegisterHandler()

	img := image.NewRGBA(image.Rect(0, 0, 120, 80))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(0, 0, color.Black)
	var encoded bytes.Buffer
	require.NoError(t, png.Encode(&encoded, img))

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", "photo.png")
	require.NoError(t, err)
	_, err = part.Write(encoded.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/classify", &body)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())

	resp, err := srv.App().Test(req, 10_000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var result detection.DetectionResponse
	require.NoError(t, jsoniter.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, []string{"person"}, result.ObjectsDetected)
	assert.NotEmpty(t, result.ResponseImage)

	resp, err = srv.App().Test(httptest.NewRequest(http.MethodGet, "/classify/"+result.DetectionID, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = srv.App().Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))
}

func TestNewServerRequiresDetector(t *testing.T) {
	logger := quietLogger()
	_, err := NewServer(WithFiber(fiber.New()), WithLogger(logger))
	assert.Error(t, err)
}
