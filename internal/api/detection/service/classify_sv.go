package detectionService

import (
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"ImageClassifier/internal/api/detection"
	"ImageClassifier/internal/entity"
	contextPkg "ImageClassifier/pkg/context"
	"ImageClassifier/pkg/imagecodec"
	"ImageClassifier/pkg/redis"
)

// TimestampLayout is RFC 3339 with millisecond precision, always in UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

func (s *detectionService) Classify(ctx context.Context, data []byte) (*detection.DetectionResponse, error) {
	requestID := contextPkg.GetRequestID(ctx)

	now := time.Now().UTC()
	detectionID, err := s.utils.NewULIDFromTimestamp(now)
	if err != nil {
		return nil, fmt.Errorf("failed to generate detection id: %w", err)
	}

	img, err := imagecodec.Decode(data)
	if err != nil {
		return nil, err
	}

	dets, err := s.detector.Detect(ctx, img, s.cfg.Threshold)
	if err != nil {
		return nil, err
	}

	resp := &detection.DetectionResponse{
		DetectionID:     detectionID,
		Timestamp:       now.Format(TimestampLayout),
		ObjectsDetected: []string{},
		ResponseImage:   "",
	}

	var annotated []byte
	if len(dets) > 0 {
		s.annotator.Annotate(img, dets)

		annotated, err = imagecodec.Encode(img, s.cfg.JPEGQuality)
		if err != nil {
			return nil, fmt.Errorf("failed to encode annotated image: %w", err)
		}

		resp.ResponseImage = imagecodec.ToText(annotated)
		resp.ObjectsDetected = make([]string, 0, len(dets))
		for _, d := range dets {
			resp.ObjectsDetected = append(resp.ObjectsDetected, d.Label)
		}
	}

	s.log.WithFields(logrus.Fields{
		"request_id":   requestID,
		"detection_id": detectionID,
		"objects":      len(dets),
		"width":        img.Bounds().Dx(),
		"height":       img.Bounds().Dy(),
	}).Debug("Image classified")

	s.archive(ctx, entity.DetectionRecord{
		ID:         detectionID,
		Objects:    resp.ObjectsDetected,
		Detections: dets,
		CreatedAt:  now,
	}, annotated)

	return resp, nil
}

// archive persists record. Failures are only logged: a classify result is
// valid whether or not it could be stored.
func (s *detectionService) archive(ctx context.Context, record entity.DetectionRecord, annotated []byte) {
	if !s.archiveEnabled() {
		return
	}
	requestID := contextPkg.GetRequestID(ctx)

	if s.storage != nil && len(annotated) > 0 {
		key := path.Join(s.cfg.ImagePrefix, record.ID+".jpg")
		if _, err := s.storage.UploadBytes(ctx, key, "image/jpeg", annotated); err != nil {
			s.log.WithFields(logrus.Fields{
				"request_id":   requestID,
				"detection_id": record.ID,
				"error":        err.Error(),
			}).Warn("Failed to store annotated image")
		} else {
			record.ImageKey = key
		}
	}

	client, err := s.repository.NewClient(false)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Warn("Failed to open archive client")
		s.discardImage(requestID, record)
		return
	}

	if err := client.Detections.CreateDetection(ctx, record); err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id":   requestID,
			"detection_id": record.ID,
			"error":        err.Error(),
		}).Warn("Failed to archive detection")
		s.discardImage(requestID, record)
		return
	}

	s.cacheRecord(ctx, record)
}

// discardImage removes an uploaded image whose record was never written.
func (s *detectionService) discardImage(requestID string, record entity.DetectionRecord) {
	if s.storage == nil || record.ImageKey == "" {
		return
	}
	if err := s.storage.DeleteFile(record.ImageKey); err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id":   requestID,
			"detection_id": record.ID,
			"key":          record.ImageKey,
			"error":        err.Error(),
		}).Warn("Failed to remove orphaned annotated image")
	}
}

func (s *detectionService) GetDetection(ctx context.Context, id string) (*detection.DetectionRecordResponse, error) {
	if !s.archiveEnabled() {
		return nil, detection.ErrArchiveDisabled
	}
	requestID := contextPkg.GetRequestID(ctx)

	var record entity.DetectionRecord
	cached := false
	if s.cache != nil {
		err := s.cache.GetJSON(ctx, cacheKey(id), &record)
		switch {
		case err == nil:
			cached = true
		case !errors.Is(err, redis.ErrCacheMiss):
			s.log.WithFields(logrus.Fields{
				"request_id":   requestID,
				"detection_id": id,
				"error":        err.Error(),
			}).Warn("Detection cache unavailable")
		}
	}

	if !cached {
		client, err := s.repository.NewClient(false)
		if err != nil {
			return nil, err
		}

		record, err = client.Detections.GetDetectionByID(ctx, id)
		if err != nil {
			return nil, err
		}
		s.cacheRecord(ctx, record)
	}

	resp := &detection.DetectionRecordResponse{
		DetectionID:     record.ID,
		Timestamp:       record.CreatedAt.UTC().Format(TimestampLayout),
		ObjectsDetected: record.Objects,
		Detections:      record.Detections,
	}
	if resp.ObjectsDetected == nil {
		resp.ObjectsDetected = []string{}
	}
	if resp.Detections == nil {
		resp.Detections = []entity.Detection{}
	}

	if s.storage != nil && record.ImageKey != "" {
		url, err := s.storage.PresignUrl(record.ImageKey)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"request_id":   requestID,
				"detection_id": id,
				"error":        err.Error(),
			}).Warn("Failed to presign annotated image")
		} else {
			resp.ImageURL = url
		}
	}

	return resp, nil
}

func (s *detectionService) cacheRecord(ctx context.Context, record entity.DetectionRecord) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJSON(ctx, cacheKey(record.ID), record, s.cfg.CacheTTL); err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id":   contextPkg.GetRequestID(ctx),
			"detection_id": record.ID,
			"error":        err.Error(),
		}).Warn("Failed to cache detection")
	}
}

func cacheKey(id string) string {
	return "detection:" + id
}
