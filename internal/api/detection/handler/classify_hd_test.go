package detectionHandler

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"

	"ImageClassifier/internal/api/detection"
	"ImageClassifier/internal/middleware"
	"ImageClassifier/pkg/imagecodec"
	"ImageClassifier/pkg/log"
	"ImageClassifier/pkg/utils"
)

func TestMain(m *testing.M) {
	os.Setenv("APP_ENV", "test")
	log.NewLogger(log.WithLevel("panic"))
	os.Exit(m.Run())
}

type fakeService struct {
	mu      sync.Mutex
	got     []byte
	err     error
	objects []string
	delay   time.Duration
}

func (f *fakeService) received() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got
}

func (f *fakeService) Classify(ctx context.Context, data []byte) (*detection.DetectionResponse, error) {
	f.mu.Lock()
	f.got = append([]byte(nil), data...)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	resp := &detection.DetectionResponse{
		DetectionID:     "01HZY4M7D6G3ZP7N6V5T8QK2XA",
		Timestamp:       "2024-06-01T10:00:00.000Z",
		ObjectsDetected: []string{},
	}
	if len(f.objects) > 0 {
		resp.ObjectsDetected = f.objects
		resp.ResponseImage = "aW1n"
	}
	return resp, nil
}

func (f *fakeService) GetDetection(_ context.Context, id string) (*detection.DetectionRecordResponse, error) {
	if id == "missing" {
		return nil, detection.ErrDetectionNotFound
	}
	return nil, detection.ErrArchiveDisabled
}

func newTestApp(svc *fakeService) *fiber.App {
	return newTestAppWithTimeout(svc, 0)
}

func newTestAppWithTimeout(svc *fakeService, timeout time.Duration) *fiber.App {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app := fiber.New(fiber.Config{
		JSONEncoder: jsoniter.Marshal,
		JSONDecoder: jsoniter.Unmarshal,
	})
	mw := middleware.New(logger, middleware.Config{})
	app.Use(mw.NewRequestIDMiddleware())

	h := New(logger, validator.New(), mw, svc, utils.New(1<<20), timeout)
	h.Start(app)
	return app
}

func multipartRequest(t *testing.T, field string, content []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, "photo.jpg")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/classify", &body)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	return req
}

func jsonRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/classify", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return req
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, jsoniter.NewDecoder(resp.Body).Decode(v))
}

func TestClassifyMultipart(t *testing.T) {
	svc := &fakeService{objects: []string{"person", "dog"}}
	app := newTestApp(svc)

	resp, err := app.Test(multipartRequest(t, "image", []byte("jpeg bytes")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []byte("jpeg bytes"), svc.received())

	var body map[string]interface{}
	decodeBody(t, resp, &body)
	assert.Equal(t, "01HZY4M7D6G3ZP7N6V5T8QK2XA", body["detection_id"])
	assert.Equal(t, "2024-06-01T10:00:00.000Z", body["timestamp"])
	assert.Equal(t, []interface{}{"person", "dog"}, body["objects_detected"])
	assert.Equal(t, "aW1n", body["response_image"])
}

func TestClassifyNoDetections(t *testing.T) {
	app := newTestApp(&fakeService{})

	resp, err := app.Test(multipartRequest(t, "image", []byte("jpeg bytes")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"objects_detected":[]`)
	assert.Contains(t, string(raw), `"response_image":""`)
}

func TestClassifyJSONBody(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(svc)

	encoded := base64.StdEncoding.EncodeToString([]byte("png bytes"))
	resp, err := app.Test(jsonRequest(fmt.Sprintf(`{"image_base64":"data:image/png;base64,%s"}`, encoded)))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []byte("png bytes"), svc.received())
}

func TestClassifyClientErrors(t *testing.T) {
	tests := []struct {
		name       string
		req        func(t *testing.T) *http.Request
		wantStatus int
		wantDetail string
	}{
		{
			name:       "missing image field",
			req:        func(t *testing.T) *http.Request { return multipartRequest(t, "file", []byte("x")) },
			wantStatus: http.StatusBadRequest,
			wantDetail: detection.ErrImageRequired.Error(),
		},
		{
			name:       "unparseable JSON",
			req:        func(*testing.T) *http.Request { return jsonRequest(`{"image_base64":`) },
			wantStatus: http.StatusBadRequest,
			wantDetail: "Invalid JSON data",
		},
		{
			name:       "empty body",
			req:        func(*testing.T) *http.Request { return jsonRequest(``) },
			wantStatus: http.StatusBadRequest,
			wantDetail: "Invalid JSON data",
		},
		{
			name:       "bad base64",
			req:        func(*testing.T) *http.Request { return jsonRequest(`{"image_base64":"!!!"}`) },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "JSON without image",
			req:        func(*testing.T) *http.Request { return jsonRequest(`{"other":"field"}`) },
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "upload too large",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "image", bytes.Repeat([]byte{1}, 1<<20+1))
			},
			wantStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			resp, err := newTestApp(svc).Test(tt.req(t))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Nil(t, svc.received())

			var body detection.ErrorResponse
			decodeBody(t, resp, &body)
			assert.NotEmpty(t, body.Detail)
			if tt.wantDetail != "" {
				assert.Equal(t, tt.wantDetail, body.Detail)
			}
		})
	}
}

func TestClassifyServerErrorCarriesMessage(t *testing.T) {
	_, decodeErr := imagecodec.Decode([]byte("not an image"))
	require.Error(t, decodeErr)

	tests := []struct {
		name string
		err  error
	}{
		{"decode failure", decodeErr},
		{"inference failure", errors.New("inference failed: session exploded")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(&fakeService{err: tt.err})

			resp, err := app.Test(multipartRequest(t, "image", []byte("not an image")))
			require.NoError(t, err)
			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

			var body detection.ErrorResponse
			decodeBody(t, resp, &body)
			assert.Equal(t, tt.err.Error(), body.Detail)
		})
	}
}

func TestGetDetection(t *testing.T) {
	app := newTestApp(&fakeService{})

	for _, id := range []string{"missing", "01HZY4M7D6G3ZP7N6V5T8QK2XA"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/classify/"+id, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
}

func TestWebSocketRouteRequiresUpgrade(t *testing.T) {
	app := newTestApp(&fakeService{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/classify/ws", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestClassifyWaitsForSlowInference(t *testing.T) {
	svc := &fakeService{objects: []string{"person"}, delay: 300 * time.Millisecond}
	app := newTestApp(svc)

	resp, err := app.Test(multipartRequest(t, "image", []byte("jpeg bytes")), 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decodeBody(t, resp, &body)
	assert.Equal(t, []interface{}{"person"}, body["objects_detected"])
}

func TestClassifyConfiguredTimeout(t *testing.T) {
	svc := &fakeService{objects: []string{"person"}, delay: 2 * time.Second}
	app := newTestAppWithTimeout(svc, 50*time.Millisecond)

	resp, err := app.Test(multipartRequest(t, "image", []byte("jpeg bytes")), 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusRequestTimeout, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "Request Timeout", body["detail"])
}
