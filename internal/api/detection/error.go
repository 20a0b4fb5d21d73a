package detection

import (
	"net/http"

	"ImageClassifier/pkg/response"
)

var (
	ErrImageRequired     = response.NewError(http.StatusBadRequest, "image file is required")
	ErrInvalidJSON       = response.NewError(http.StatusBadRequest, "Invalid JSON data")
	ErrInvalidImageData  = response.NewError(http.StatusBadRequest, "invalid base64 image data")
	ErrImageTooLarge     = response.NewError(http.StatusRequestEntityTooLarge, "image file too large")
	ErrDetectionNotFound = response.NewError(http.StatusNotFound, "detection not found")
	ErrArchiveDisabled   = response.NewError(http.StatusNotFound, "detection archive is disabled")
)
