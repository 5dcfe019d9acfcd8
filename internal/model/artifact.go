package model

import "time"

// ArtifactKind distinguishes the stored original upload from the annotated result.
type ArtifactKind string

const (
	ArtifactInput  ArtifactKind = "input"
	ArtifactOutput ArtifactKind = "output"
)

// Artifact describes a stored image. The bytes themselves live in the artifact store.
type Artifact struct {
	ID          string       `json:"id"`
	Kind        ArtifactKind `json:"kind"`
	Filename    string       `json:"filename"`
	ContentType string       `json:"content_type"`
	Size        int64        `json:"size"`
	Summary     string       `json:"summary,omitempty"`
	SourceID    string       `json:"source_id,omitempty"` // input artifact the output was produced from
	CreatedAt   time.Time    `json:"created_at"`
}
