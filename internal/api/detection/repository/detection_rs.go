package detectionRepository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"ImageClassifier/internal/api/detection"
	"ImageClassifier/internal/entity"
	contextPkg "ImageClassifier/pkg/context"
)

type DetectionDB struct {
	ID        string         `db:"id"`
	Objects   pq.StringArray `db:"objects"`
	Boxes     []byte         `db:"boxes"`
	ImageKey  sql.NullString `db:"image_key"`
	CreatedAt time.Time      `db:"created_at"`
}

func (d DetectionDB) toEntity() (entity.DetectionRecord, error) {
	var dets []entity.Detection
	if len(d.Boxes) > 0 {
		if err := jsoniter.Unmarshal(d.Boxes, &dets); err != nil {
			return entity.DetectionRecord{}, err
		}
	}

	return entity.DetectionRecord{
		ID:         d.ID,
		Objects:    []string(d.Objects),
		Detections: dets,
		ImageKey:   d.ImageKey.String,
		CreatedAt:  d.CreatedAt,
	}, nil
}

func (r *detectionsRepository) CreateDetection(ctx context.Context, record entity.DetectionRecord) error {
	requestID := contextPkg.GetRequestID(ctx)

	dets := record.Detections
	if dets == nil {
		dets = []entity.Detection{}
	}
	boxes, err := jsoniter.Marshal(dets)
	if err != nil {
		return err
	}

	objects := record.Objects
	if objects == nil {
		objects = []string{}
	}

	argsKV := map[string]interface{}{
		"id":         record.ID,
		"objects":    pq.StringArray(objects),
		"boxes":      string(boxes),
		"image_key":  record.ImageKey,
		"created_at": record.CreatedAt,
	}

	query, args, err := sqlx.Named(queryCreateDetection, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to build SQL query for CreateDetection")
		return err
	}
	query = r.q.Rebind(query)

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id":   requestID,
			"detection_id": record.ID,
			"error":        err.Error(),
		}).Error("Database error when creating detection")
		return err
	}

	return nil
}

func (r *detectionsRepository) GetDetectionByID(ctx context.Context, id string) (entity.DetectionRecord, error) {
	requestID := contextPkg.GetRequestID(ctx)
	var row DetectionDB

	query, args, err := sqlx.Named(queryGetDetectionByID, map[string]interface{}{"id": id})
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("GetDetectionByID named query preparation err")
		return entity.DetectionRecord{}, err
	}
	query = r.q.Rebind(query)

	if err := r.q.QueryRowxContext(ctx, query, args...).StructScan(&row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.DetectionRecord{}, detection.ErrDetectionNotFound
		}
		r.log.WithFields(logrus.Fields{
			"request_id":   requestID,
			"detection_id": id,
			"error":        err.Error(),
		}).Error("Database error when fetching detection")
		return entity.DetectionRecord{}, err
	}

	record, err := row.toEntity()
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id":   requestID,
			"detection_id": id,
			"error":        err.Error(),
		}).Error("Corrupt boxes column")
		return entity.DetectionRecord{}, err
	}
	return record, nil
}
