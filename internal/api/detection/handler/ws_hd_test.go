package detectionHandler

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ImageClassifier/internal/api/detection"
)

func dialClassifySocket(t *testing.T, svc *fakeService) *websocket.Conn {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	app := newTestApp(svc)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/classify/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestClassifyWebSocketFrames(t *testing.T) {
	svc := &fakeService{objects: []string{"person"}}
	conn := dialClassifySocket(t, svc)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("frame one")))
	var resp detection.DetectionResponse
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, []string{"person"}, resp.ObjectsDetected)
	assert.Equal(t, []byte("frame one"), svc.received())

	// a broken frame is answered and the socket stays usable
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"image_base64":`)))
	var failure detection.ErrorResponse
	require.NoError(t, conn.ReadJSON(&failure))
	assert.Equal(t, "Invalid JSON data", failure.Detail)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"image_base64":"ZnJhbWUgdHdv"}`)))
	resp = detection.DetectionResponse{}
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, []byte("frame two"), svc.received())
}

func TestClassifyWebSocketServiceError(t *testing.T) {
	conn := dialClassifySocket(t, &fakeService{err: errors.New("cannot decode image: unknown format")})

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("junk")))
	var failure detection.ErrorResponse
	require.NoError(t, conn.ReadJSON(&failure))
	assert.Equal(t, "cannot decode image: unknown format", failure.Detail)
}
