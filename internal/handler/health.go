package handler

import (
	"net/http"

	"detectserver/internal/logger"
	"detectserver/internal/model"
)

type healthResponse struct {
	Status  string `json:"status"`
	Classes int    `json:"classes"`
}

// HealthHandler reports that the server is up and the model labels are loaded.
func HealthHandler(labels model.ClassLabels, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, healthResponse{Status: "ok", Classes: labels.Len()})
	}
}
