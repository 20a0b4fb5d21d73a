package log

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"golang.org/x/net/context"
)

func init() {
	_ = NewLogger(WithLevel("panic"))
}

func TestErrorWithTraceIDUsesRequestID(t *testing.T) {
	id := ErrorWithTraceID(Fields{"request_id": "01HZX"}, "boom")
	assert.Equal(t, "01HZX", id)
}

func TestErrorWithTraceIDGeneratesUUID(t *testing.T) {
	for _, fields := range []Fields{nil, {"request_id": "unknown"}, {"path": "/classify"}} {
		id := ErrorWithTraceID(fields, "boom")
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
	}
}

func TestWithRequestID(t *testing.T) {
	ctx := context.WithValue(context.Background(), RequestIDKey, "abc")
	assert.Equal(t, "abc", WithRequestID(ctx).Data["request_id"])
	assert.Equal(t, "unknown", WithRequestID(context.Background()).Data["request_id"])
}

func TestNewLoggerIsSingleton(t *testing.T) {
	assert.Same(t, NewLogger(), NewLogger(WithLevel("debug")))
}
