package ai

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"time"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/metrics"
	"detectserver/internal/model"

	"github.com/disintegration/imaging"
	"go.uber.org/multierr"
)

// Engine runs detections on a bounded pool of models. A request waits at most
// the queue timeout for a free model before it is rejected as busy.
type Engine struct {
	pool   chan Model
	models []Model
	labels model.ClassLabels

	confidence   float64
	iou          float64
	gain         float64
	offset       float64
	queueTimeout time.Duration

	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewEngine creates an Engine over the given model instances.
func NewEngine(cfg *config.Config, labels model.ClassLabels, models []Model, logger *logger.Logger, m *metrics.Metrics) (*Engine, error) {
	if len(models) == 0 {
		return nil, errors.New("at least one model is required")
	}

	pool := make(chan Model, len(models))
	for _, mdl := range models {
		pool <- mdl
	}

	return &Engine{
		pool:         pool,
		models:       models,
		labels:       labels,
		confidence:   cfg.ConfidenceThreshold,
		iou:          cfg.IoUThreshold,
		gain:         cfg.PreprocessGain,
		offset:       cfg.PreprocessOffset,
		queueTimeout: cfg.QueueTimeout,
		logger:       logger,
		metrics:      m,
	}, nil
}

// Labels returns the class label table of the loaded model.
func (e *Engine) Labels() model.ClassLabels {
	return e.labels
}

// Detect returns the detections in img whose confidence reaches the configured threshold,
// clamped to the image and with overlapping same-class boxes suppressed.
func (e *Engine) Detect(ctx context.Context, img image.Image) ([]model.Detection, error) {
	start := time.Now()

	mdl, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	candidates, err := e.predict(mdl, e.preprocess(img))
	e.pool <- mdl
	e.metrics.ObserveInference(time.Since(start))
	if err != nil {
		return nil, model.NewError(model.KindInferenceFailure, err)
	}

	detections := e.postprocess(candidates, img.Bounds())
	e.logger.Info("Detected %d objects (%d candidates) in %v", len(detections), len(candidates), time.Since(start))
	return detections, nil
}

func (e *Engine) acquire(ctx context.Context) (Model, error) {
	select {
	case mdl := <-e.pool:
		return mdl, nil
	default:
	}

	var timeout <-chan time.Time
	if e.queueTimeout > 0 {
		timer := time.NewTimer(e.queueTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case mdl := <-e.pool:
		return mdl, nil
	case <-timeout:
		return nil, model.Errorf(model.KindBusy, "no model available after %v", e.queueTimeout)
	case <-ctx.Done():
		return nil, model.NewError(model.KindBusy, fmt.Errorf("gave up waiting for a model: %w", ctx.Err()))
	}
}

func (e *Engine) predict(mdl Model, img image.Image) (detections []model.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Model panicked: %v", r)
			err = fmt.Errorf("model panicked: %v", r)
		}
	}()
	return mdl.Predict(img, e.confidence)
}

// preprocess applies the configured linear brightness adjustment. The input is never modified.
func (e *Engine) preprocess(img image.Image) image.Image {
	if e.gain == 1 && e.offset == 0 {
		return img
	}
	gain, offset := e.gain, e.offset
	adjust := func(v uint8) uint8 {
		return uint8(math.Max(0, math.Min(255, math.Round(float64(v)*gain+offset))))
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: adjust(c.R), G: adjust(c.G), B: adjust(c.B), A: c.A}
	})
}

func (e *Engine) postprocess(candidates []model.Detection, bounds image.Rectangle) []model.Detection {
	filtered := make([]model.Detection, 0, len(candidates))
	for _, d := range candidates {
		if math.IsNaN(d.Confidence) || d.Confidence < e.confidence {
			continue
		}
		d.Confidence = math.Min(d.Confidence, 1)
		d.Box = d.Box.Clamp(bounds)
		if d.Box.Area() <= 0 {
			continue
		}
		filtered = append(filtered, d)
	}
	return NonMaxSuppression(filtered, e.iou)
}

// Close releases every model. It waits for in-flight detections to return their models.
func (e *Engine) Close() error {
	var err error
	for range e.models {
		err = multierr.Append(err, (<-e.pool).Close())
	}
	return err
}
