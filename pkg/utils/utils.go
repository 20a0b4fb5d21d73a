package utils

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"time"

	"github.com/oklog/ulid/v2"
)

const DefaultMaxFileSize = 10 * 1024 * 1024

var (
	ErrNoFile       = errors.New("no file uploaded")
	ErrFileTooLarge = errors.New("file size exceeds limit")
)

type IUtils interface {
	NewULIDFromTimestamp(t time.Time) (string, error)
	ValidateImageFile(file *multipart.FileHeader) error
	ReadImageFile(file *multipart.FileHeader) ([]byte, error)
}

type utils struct {
	maxFileSize int64
}

// New returns IUtils limiting uploads to maxFileSize bytes, or
// DefaultMaxFileSize when maxFileSize is not positive.
func New(maxFileSize int64) IUtils {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &utils{
		maxFileSize: maxFileSize,
	}
}

func (u *utils) NewULIDFromTimestamp(t time.Time) (string, error) {
	ms := ulid.Timestamp(t)
	entropy := ulid.Monotonic(rand.Reader, 0)

	id, err := ulid.New(ms, entropy)
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

// ValidateImageFile only checks presence and size. The declared content type
// is not trusted; decoding decides whether the bytes are an image.
func (u *utils) ValidateImageFile(file *multipart.FileHeader) error {
	if file == nil {
		return ErrNoFile
	}

	if file.Size > u.maxFileSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrFileTooLarge, file.Size, u.maxFileSize)
	}

	return nil
}

func (u *utils) ReadImageFile(file *multipart.FileHeader) ([]byte, error) {
	if err := u.ValidateImageFile(file); err != nil {
		return nil, err
	}

	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, u.maxFileSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > u.maxFileSize {
		return nil, fmt.Errorf("%w: max %d bytes", ErrFileTooLarge, u.maxFileSize)
	}

	return data, nil
}
