package detectionRepository

const (
	queryCreateDetection = `
		INSERT INTO detections (
			id,
			objects,
			boxes,
			image_key,
			created_at
		) VALUES (
			:id,
			:objects,
			:boxes,
			:image_key,
			:created_at
		)
	`

	queryGetDetectionByID = `
		SELECT
			id,
			objects,
			boxes,
			image_key,
			created_at
		FROM detections
		WHERE id = :id
	`
)
