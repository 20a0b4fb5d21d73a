// Package imagecodec converts between encoded image bytes, in-memory pixel
// grids and the base64 text carried in JSON responses.
package imagecodec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"strings"

	"github.com/disintegration/imaging"
)

const DefaultJPEGQuality = 95

var (
	ErrDecode      = errors.New("cannot decode image")
	ErrEmptyImage  = errors.New("image data is empty")
	ErrInvalidText = errors.New("invalid base64 image data")
)

// Decode sniffs the format from the content and returns an opaque RGBA grid.
// Transparent pixels are composited over black.
func Decode(data []byte) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrDecode, ErrEmptyImage)
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return toOpaqueRGBA(src), nil
}

func toOpaqueRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

// Encode compresses img to JPEG.
func Encode(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeToText returns img as base64 encoded JPEG.
func EncodeToText(img image.Image, quality int) (string, error) {
	data, err := Encode(img, quality)
	if err != nil {
		return "", err
	}
	return ToText(data), nil
}

// ToText is the standard base64 form of already encoded image bytes.
func ToText(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeText reverses EncodeToText. A leading data URL header is ignored.
func DecodeText(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ",")
		if idx == -1 {
			return nil, ErrInvalidText
		}
		s = s[idx+1:]
	}
	if s == "" {
		return nil, ErrInvalidText
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidText, err)
	}
	return data, nil
}
