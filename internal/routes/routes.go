package routes

import (
	"net/http"

	"detectserver/internal/config"
	"detectserver/internal/handler"
	"detectserver/internal/logger"
	"detectserver/internal/metrics"
	"detectserver/internal/middleware"
	"detectserver/internal/model"
	"detectserver/internal/service/pipeline"
	"detectserver/internal/service/storage"
	"detectserver/internal/service/websocket"

	"github.com/rs/cors"
)

// Services are the components the HTTP layer serves.
type Services struct {
	Pipeline *pipeline.Pipeline
	Store    *storage.ArtifactStore
	Hub      *websocket.HubService
	Labels   model.ClassLabels
	Metrics  *metrics.Metrics
}

// SetupRoutes registers pages, the detect endpoint, artifact and log endpoints, and
// wraps the mux with CORS and request logging.
func SetupRoutes(s Services, cfg *config.Config, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Static files
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(handler.StaticFiles())))

	// Pages and detection
	mux.HandleFunc("GET /{$}", handler.IndexHandler(cfg, logger))
	mux.HandleFunc("POST /detect", handler.DetectHandler(s.Pipeline, s.Labels, cfg, logger))

	// Artifacts
	mux.HandleFunc("GET "+storage.ArtifactPathPrefix+"{id}", handler.ViewArtifactHandler(s.Store, logger))
	mux.HandleFunc("DELETE "+storage.ArtifactPathPrefix+"{id}", handler.DeleteArtifactHandler(s.Store, logger))

	// API endpoints
	mux.HandleFunc("GET /api/artifacts/{id}", handler.ArtifactMetadataHandler(s.Store, logger))
	if s.Hub != nil {
		mux.HandleFunc("GET /api/feed", handler.FeedWebsocketHandler(s.Hub, logger))
	}

	// Log endpoints
	mux.HandleFunc("GET /logs/{level}", handler.ShowLogsHandler(logger))
	mux.HandleFunc("POST /logs/{level}/clear", handler.ClearLogsHandler(logger))

	mux.HandleFunc("GET /health", handler.HealthHandler(s.Labels, logger))
	mux.Handle("GET /metrics", s.Metrics.Handler())

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-Artifact-ID", "X-Artifact-URL", "X-Detection-Summary"},
	})

	return middleware.LoggingMiddleware(logger)(c.Handler(mux))
}
