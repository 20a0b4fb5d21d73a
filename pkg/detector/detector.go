// Package detector wraps pretrained object detection models behind one
// interface. Backends live here (ONNX) and in pkg/websocket and pkg/gemini.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"

	"ImageClassifier/internal/entity"
)

const (
	DefaultConfidenceThreshold = 0.5
	DefaultIoUThreshold        = 0.7
)

const (
	BackendONNX   = "onnx"
	BackendRemote = "remote"
	BackendGemini = "gemini"
)

var ErrInference = errors.New("inference failed")

// Detector is given an image and returns the objects it found, in the model's
// output order, with every confidence >= threshold.
// Implementations must be safe for concurrent use and must not modify img.
type Detector interface {
	Detect(ctx context.Context, img image.Image, threshold float32) ([]entity.Detection, error)
	Close() error
}

// FilterByConfidence drops detections scoring below threshold, keeping order.
func FilterByConfidence(dets []entity.Detection, threshold float32) []entity.Detection {
	out := make([]entity.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out
}

// InferenceError wraps a backend failure so callers can match ErrInference.
func InferenceError(err error) error {
	if err == nil || errors.Is(err, ErrInference) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInference, err)
}

// ClampBox clips b to an image of the given size.
func ClampBox(b entity.BoundingBox, width, height int) entity.BoundingBox {
	return entity.BoundingBox{
		XMin: clamp(b.XMin, 0, width),
		YMin: clamp(b.YMin, 0, height),
		XMax: clamp(b.XMax, 0, width),
		YMax: clamp(b.YMax, 0, height),
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
