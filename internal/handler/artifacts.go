package handler

import (
	"errors"
	"net/http"

	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/service/storage"
)

type artifactResponse struct {
	Artifact   *model.Artifact   `json:"artifact"`
	URL        string            `json:"url"`
	Detections []model.Detection `json:"detections"`
}

// ViewArtifactHandler streams a stored artifact.
func ViewArtifactHandler(store *storage.ArtifactStore, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, artifact, err := store.Open(r.PathValue("id"))
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			logger.Error("Error opening artifact %s: %v", r.PathValue("id"), err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		defer file.Close()

		w.Header().Set("Content-Type", artifact.ContentType)
		w.Header().Set("Cache-Control", "private, max-age=3600")
		http.ServeContent(w, r, artifact.Filename, artifact.CreatedAt, file)
	}
}

// DeleteArtifactHandler removes an artifact and its index entry.
func DeleteArtifactHandler(store *storage.ArtifactStore, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		err := store.Delete(id)
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			logger.Error("Error deleting artifact %s: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		logger.Info("Artifact %s deleted", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ArtifactMetadataHandler returns an artifact's metadata and detections as JSON.
func ArtifactMetadataHandler(store *storage.ArtifactStore, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		artifact, detections, err := store.Get(id)
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, logger, http.StatusNotFound, errorResponse{Error: "not_found", Message: "Artifact not found"})
			return
		}
		if err != nil {
			logger.Error("Error reading artifact %s: %v", id, err)
			writeJSON(w, logger, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "Internal server error"})
			return
		}
		if detections == nil {
			detections = []model.Detection{}
		}

		writeJSON(w, logger, http.StatusOK, artifactResponse{
			Artifact:   artifact,
			URL:        storage.URI(artifact.ID),
			Detections: detections,
		})
	}
}
