package repository

import (
	"time"

	"detectserver/internal/model"
)

// ArtifactRepository defines the interface for artifact metadata operations.
type ArtifactRepository interface {
	// Create operations
	Insert(artifact *model.Artifact) error

	// Read operations
	GetByID(id string) (*model.Artifact, error)
	ListOlderThan(cutoff time.Time) ([]model.Artifact, error)
	ListOldestFirst() ([]model.Artifact, error)
	TotalSize() (int64, error)

	// Delete operations
	Delete(id string) error
}

// DetectionRepository defines the interface for detections attached to an output artifact.
type DetectionRepository interface {
	InsertBatch(artifactID string, detections []model.Detection) error
	GetByArtifactID(artifactID string) ([]model.Detection, error)
}
