package utils

import (
	"bytes"
	"mime/multipart"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileHeader(t *testing.T, content []byte) *multipart.FileHeader {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", "photo.jpg")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))

	return req.MultipartForm.File["image"][0]
}

func TestNewULIDFromTimestamp(t *testing.T) {
	u := New(0)
	now := time.Now()

	a, err := u.NewULIDFromTimestamp(now)
	require.NoError(t, err)
	b, err := u.NewULIDFromTimestamp(now)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)

	parsed, err := ulid.ParseStrict(a)
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(now), parsed.Time())
}

func TestReadImageFile(t *testing.T) {
	u := New(8)

	data, err := u.ReadImageFile(fileHeader(t, []byte("12345678")))
	require.NoError(t, err)
	assert.Equal(t, []byte("12345678"), data)

	_, err = u.ReadImageFile(fileHeader(t, []byte("123456789")))
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = u.ReadImageFile(nil)
	assert.ErrorIs(t, err, ErrNoFile)
}

func TestValidateImageFileIgnoresContentType(t *testing.T) {
	u := New(0)
	fh := fileHeader(t, []byte("not really an image"))
	fh.Header.Set("Content-Type", "text/plain")
	assert.NoError(t, u.ValidateImageFile(fh))
}
