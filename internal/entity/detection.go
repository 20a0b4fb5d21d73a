package entity

import (
	"image"
	"time"
)

// BoundingBox is an axis-aligned box in pixel coordinates of the source image.
type BoundingBox struct {
	XMin int `json:"x_min"`
	YMin int `json:"y_min"`
	XMax int `json:"x_max"`
	YMax int `json:"y_max"`
}

func (b BoundingBox) Width() int {
	return b.XMax - b.XMin
}

func (b BoundingBox) Height() int {
	return b.YMax - b.YMin
}

func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.XMin, b.YMin, b.XMax, b.YMax)
}

// Detection is one labelled region found by a detector.
type Detection struct {
	Label      string      `json:"label"`
	Box        BoundingBox `json:"box"`
	Confidence float32     `json:"confidence"`
}

// DetectionRecord is what the archive keeps for a classify call.
type DetectionRecord struct {
	ID         string      `json:"id"`
	Objects    []string    `json:"objects"`
	Detections []Detection `json:"detections"`
	ImageKey   string      `json:"image_key"`
	CreatedAt  time.Time   `json:"created_at"`
}
