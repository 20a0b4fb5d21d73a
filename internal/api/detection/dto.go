package detection

import "ImageClassifier/internal/entity"

// DetectionResponse is the answer to every successful classify call.
// ObjectsDetected and ResponseImage are both empty or both non-empty.
type DetectionResponse struct {
	DetectionID     string   `json:"detection_id"`
	Timestamp       string   `json:"timestamp"`
	ObjectsDetected []string `json:"objects_detected"`
	ResponseImage   string   `json:"response_image"`
}

// ClassifyRequest is the JSON alternative to a multipart upload.
type ClassifyRequest struct {
	ImageBase64 string `json:"image_base64" validate:"required"`
}

type DetectionRecordResponse struct {
	DetectionID     string             `json:"detection_id"`
	Timestamp       string             `json:"timestamp"`
	ObjectsDetected []string           `json:"objects_detected"`
	Detections      []entity.Detection `json:"detections"`
	ImageURL        string             `json:"image_url,omitempty"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}
