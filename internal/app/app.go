package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/metrics"
	"detectserver/internal/model"
	"detectserver/internal/repository/sqlite"
	"detectserver/internal/routes"
	"detectserver/internal/service/ai"
	"detectserver/internal/service/ai/onnx"
	"detectserver/internal/service/ai/opencv"
	"detectserver/internal/service/ingest"
	"detectserver/internal/service/pipeline"
	"detectserver/internal/service/storage"
	"detectserver/internal/service/websocket"

	"go.uber.org/multierr"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config   *config.Config
	logger   *logger.Logger
	metrics  *metrics.Metrics
	db       *sqlite.DB
	store    *storage.ArtifactStore
	engine   *ai.Engine
	hub      *websocket.HubService
	pipeline *pipeline.Pipeline
	labels   model.ClassLabels
	release  func() error
}

// NewApp loads configuration and wires storage, the detection engine and the pipeline.
func NewApp() (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg)
	m := metrics.New()

	labels, err := loadLabels(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store, err := storage.NewArtifactStore(cfg, log, m, sqlite.NewArtifactRepository(db), sqlite.NewDetectionRepository(db))
	if err != nil {
		db.Close()
		return nil, err
	}

	models, release, err := loadModels(cfg, labels, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	engine, err := ai.NewEngine(cfg, labels, models, log, m)
	if err != nil {
		db.Close()
		return nil, err
	}

	hub := websocket.NewHubService(log, m)
	ingestor := ingest.NewIngestor(cfg, nil, store, log)
	p := pipeline.New(cfg, ingestor, engine, store, hub, log, m)

	return &App{
		config:   cfg,
		logger:   log,
		metrics:  m,
		db:       db,
		store:    store,
		engine:   engine,
		hub:      hub,
		pipeline: p,
		labels:   labels,
		release:  release,
	}, nil
}

func loadLabels(cfg *config.Config) (model.ClassLabels, error) {
	if cfg.LabelsPath == "" {
		return model.COCOLabels(), nil
	}
	return model.LoadClassLabels(cfg.LabelsPath)
}

// loadModels creates one model instance per inference worker on the configured backend.
// The returned release function tears down backend-wide state after the models are closed.
func loadModels(cfg *config.Config, labels model.ClassLabels, log *logger.Logger) ([]ai.Model, func() error, error) {
	workers := max(cfg.InferenceWorkers, 1)
	release := func() error { return nil }

	var newModel func() (ai.Model, error)
	switch cfg.ModelBackend {
	case "opencv":
		newModel = func() (ai.Model, error) {
			return opencv.NewDetector(cfg.ModelPath, cfg.ModelInputSize, labels.Len(), log)
		}
	case "onnx":
		if err := onnx.InitEnvironment(cfg.OnnxLibraryPath); err != nil {
			return nil, nil, fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
		}
		release = onnx.Shutdown
		newModel = func() (ai.Model, error) {
			return onnx.NewDetector(cfg.ModelPath, cfg.ModelInputSize, labels.Len(), log)
		}
	default:
		return nil, nil, fmt.Errorf("unknown model backend %q", cfg.ModelBackend)
	}

	models := make([]ai.Model, 0, workers)
	for i := 0; i < workers; i++ {
		mdl, err := newModel()
		if err != nil {
			for _, loaded := range models {
				err = multierr.Append(err, loaded.Close())
			}
			return nil, nil, multierr.Append(err, release())
		}
		models = append(models, mdl)
	}

	log.Info("Loaded %d %s model instance(s) from %s", workers, cfg.ModelBackend, cfg.ModelPath)
	return models, release, nil
}

// Handler returns the HTTP handler with every route registered.
func (a *App) Handler() http.Handler {
	return routes.SetupRoutes(routes.Services{
		Pipeline: a.pipeline,
		Store:    a.store,
		Hub:      a.hub,
		Labels:   a.labels,
		Metrics:  a.metrics,
	}, a.config, a.logger)
}

// Run serves HTTP until SIGINT or SIGTERM, then shuts down gracefully.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start background services
	go a.hub.Run(ctx)
	go a.store.Run(ctx, a.config.RetentionInterval)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("Detection server listening on http://localhost:%d", a.config.Port)
	a.logger.Info("Model: %s (%s backend, %d classes), uploads: %s", a.config.ModelPath,
		a.config.ModelBackend, a.labels.Len(), a.config.UploadDirectory)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return multierr.Append(err, a.Close())
		}
	case <-ctx.Done():
		a.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("Graceful shutdown failed: %v", err)
		}
	}

	return a.Close()
}

// Close releases the models, the database and the log files.
func (a *App) Close() error {
	return multierr.Combine(
		a.engine.Close(),
		a.release(),
		a.db.Close(),
		a.logger.Close(),
	)
}
