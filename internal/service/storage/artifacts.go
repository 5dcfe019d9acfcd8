package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/metrics"
	"detectserver/internal/model"
	"detectserver/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// ArtifactPathPrefix is the URL prefix artifacts are served under.
const ArtifactPathPrefix = "/artifacts/"

// ErrNotFound is returned when no artifact exists for an id.
var ErrNotFound = errors.New("artifact not found")

var inputExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
}

// ArtifactStore keeps input and output images on disk and indexes them in the repository.
type ArtifactStore struct {
	dir        string
	artifacts  repository.ArtifactRepository
	detections repository.DetectionRepository
	logger     *logger.Logger
	metrics    *metrics.Metrics

	maxAge   time.Duration
	maxBytes int64
	now      func() time.Time
}

// NewArtifactStore creates the upload directory and returns a store rooted in it.
func NewArtifactStore(cfg *config.Config, logger *logger.Logger, m *metrics.Metrics,
	artifacts repository.ArtifactRepository, detections repository.DetectionRepository) (*ArtifactStore, error) {
	if err := os.MkdirAll(cfg.UploadDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	return &ArtifactStore{
		dir:        cfg.UploadDirectory,
		artifacts:  artifacts,
		detections: detections,
		logger:     logger,
		metrics:    m,
		maxAge:     cfg.ArtifactMaxAge,
		maxBytes:   cfg.ArtifactMaxBytes,
		now:        time.Now,
	}, nil
}

// NewID returns a fresh artifact id.
func NewID() string {
	return uuid.NewString()
}

// URI returns the address an artifact is retrievable at.
func URI(id string) string {
	return ArtifactPathPrefix + id
}

// FileName returns the on-disk name for an artifact: <id>.<ext> for inputs and
// <id>-output.jpg for annotated outputs.
func FileName(id string, kind model.ArtifactKind, uploadName string) string {
	if kind == model.ArtifactOutput {
		return id + "-output.jpg"
	}
	ext := strings.ToLower(filepath.Ext(uploadName))
	if !inputExtensions[ext] {
		ext = ".bin"
	}
	return id + ext
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && !strings.ContainsAny(id, `/\`)
}

// Save writes data atomically and indexes the artifact together with its detections.
// It fills in Filename, Size, ContentType and CreatedAt and returns the artifact URI.
func (s *ArtifactStore) Save(ctx context.Context, a *model.Artifact, data []byte, detections []model.Detection) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !validID(a.ID) {
		return "", fmt.Errorf("invalid artifact id %q", a.ID)
	}

	a.Filename = FileName(a.ID, a.Kind, a.Filename)
	a.Size = int64(len(data))
	a.CreatedAt = s.now().UTC()
	if a.ContentType == "" {
		a.ContentType = http.DetectContentType(data)
	}

	path := filepath.Join(s.dir, a.Filename)
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}

	if err := s.artifacts.Insert(a); err != nil {
		return "", multierr.Append(err, removeIfExists(path))
	}
	if err := s.detections.InsertBatch(a.ID, detections); err != nil {
		return "", multierr.Combine(err, s.artifacts.Delete(a.ID), removeIfExists(path))
	}

	return URI(a.ID), nil
}

// writeFileAtomic writes to a temp file in the same directory and renames it into
// place, so readers see either the full file or nothing.
func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close artifact: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to chmod artifact: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}

// Get returns the artifact metadata and its detections.
func (s *ArtifactStore) Get(id string) (*model.Artifact, []model.Detection, error) {
	if !validID(id) {
		return nil, nil, ErrNotFound
	}
	a, err := s.artifacts.GetByID(id)
	if err != nil {
		return nil, nil, err
	}
	if a == nil {
		return nil, nil, ErrNotFound
	}
	detections, err := s.detections.GetByArtifactID(id)
	if err != nil {
		return nil, nil, err
	}
	return a, detections, nil
}

// Open returns the stored file for streaming. The caller closes it.
func (s *ArtifactStore) Open(id string) (*os.File, *model.Artifact, error) {
	if !validID(id) {
		return nil, nil, ErrNotFound
	}
	a, err := s.artifacts.GetByID(id)
	if err != nil {
		return nil, nil, err
	}
	if a == nil {
		return nil, nil, ErrNotFound
	}

	file, err := os.Open(filepath.Join(s.dir, a.Filename))
	if os.IsNotExist(err) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	return file, a, nil
}

// Load returns the stored bytes of an artifact.
func (s *ArtifactStore) Load(id string) ([]byte, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	a, err := s.artifacts.GetByID(id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(filepath.Join(s.dir, a.Filename))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// Delete removes the artifact file and its index entry. Unknown ids return ErrNotFound.
func (s *ArtifactStore) Delete(id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	a, err := s.artifacts.GetByID(id)
	if err != nil {
		return err
	}
	if a == nil {
		return ErrNotFound
	}
	return s.remove(a)
}

func (s *ArtifactStore) remove(a *model.Artifact) error {
	return multierr.Append(
		removeIfExists(filepath.Join(s.dir, a.Filename)),
		s.artifacts.Delete(a.ID),
	)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
	}
	return nil
}
