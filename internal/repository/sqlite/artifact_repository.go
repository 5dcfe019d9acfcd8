package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"detectserver/internal/model"
)

// ArtifactRepository implements repository.ArtifactRepository for SQLite.
type ArtifactRepository struct {
	db *DB
}

// NewArtifactRepository creates a new SQLite artifact repository.
func NewArtifactRepository(db *DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

const artifactColumns = `id, kind, filename, content_type, size, summary, source_id, created_at`

// Insert adds a new artifact record to the database.
func (r *ArtifactRepository) Insert(a *model.Artifact) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`
		INSERT INTO artifacts (`+artifactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, string(a.Kind), a.Filename, a.ContentType, a.Size, a.Summary, a.SourceID, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert artifact: %w", err)
	}
	return nil
}

// GetByID retrieves an artifact by its ID. It returns nil, nil when the artifact is unknown.
func (r *ArtifactRepository) GetByID(id string) (*model.Artifact, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRow(`SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return a, nil
}

// ListOlderThan returns artifacts created before cutoff, oldest first.
func (r *ArtifactRepository) ListOlderThan(cutoff time.Time) ([]model.Artifact, error) {
	return r.list(`SELECT `+artifactColumns+` FROM artifacts WHERE created_at < ? ORDER BY created_at ASC`, cutoff.UTC())
}

// ListOldestFirst returns all artifacts, oldest first.
func (r *ArtifactRepository) ListOldestFirst() ([]model.Artifact, error) {
	return r.list(`SELECT ` + artifactColumns + ` FROM artifacts ORDER BY created_at ASC`)
}

func (r *ArtifactRepository) list(query string, args ...interface{}) ([]model.Artifact, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []model.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, *a)
	}
	return artifacts, rows.Err()
}

// TotalSize returns the sum of all stored artifact sizes in bytes.
func (r *ArtifactRepository) TotalSize() (int64, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var total int64
	if err := r.db.Conn().QueryRow(`SELECT COALESCE(SUM(size), 0) FROM artifacts`).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum artifact sizes: %w", err)
	}
	return total, nil
}

// Delete removes an artifact record; its detections are removed by cascade.
func (r *ArtifactRepository) Delete(id string) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM artifacts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArtifact(row rowScanner) (*model.Artifact, error) {
	var a model.Artifact
	var kind string
	if err := row.Scan(&a.ID, &kind, &a.Filename, &a.ContentType, &a.Size, &a.Summary, &a.SourceID, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Kind = model.ArtifactKind(kind)
	return &a, nil
}
