package sqlite

import (
	"fmt"

	"detectserver/internal/model"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// InsertBatch adds the detections of one artifact in a single transaction.
func (r *DetectionRepository) InsertBatch(artifactID string, detections []model.Detection) error {
	if len(detections) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO detections (artifact_id, class_id, confidence, x_min, y_min, x_max, y_max)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, d := range detections {
		if _, err := stmt.Exec(artifactID, d.ClassID, d.Confidence, d.Box.XMin, d.Box.YMin, d.Box.XMax, d.Box.YMax); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	return tx.Commit()
}

// GetByArtifactID retrieves the detections of an artifact in insertion order.
func (r *DetectionRepository) GetByArtifactID(artifactID string) ([]model.Detection, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT class_id, confidence, x_min, y_min, x_max, y_max
		FROM detections WHERE artifact_id = ? ORDER BY id
	`, artifactID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []model.Detection
	for rows.Next() {
		var d model.Detection
		if err := rows.Scan(&d.ClassID, &d.Confidence, &d.Box.XMin, &d.Box.YMin, &d.Box.XMax, &d.Box.YMax); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, d)
	}

	return detections, rows.Err()
}
