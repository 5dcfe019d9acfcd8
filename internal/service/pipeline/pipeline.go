// Package pipeline runs one detect request from upload to stored artifact.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/metrics"
	"detectserver/internal/model"
	"detectserver/internal/service/annotate"
	"detectserver/internal/service/ingest"
	"detectserver/internal/service/storage"
	"detectserver/internal/service/websocket"

	"github.com/disintegration/imaging"
)

// Detector finds objects in a decoded image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]model.Detection, error)
	Labels() model.ClassLabels
}

// Publisher announces finished detections. It must not block.
type Publisher interface {
	Publish(event websocket.Event)
}

// Result is what a request produced. On failure it still carries the state trace.
type Result struct {
	ArtifactID  string
	URL         string
	InputID     string
	Image       []byte // annotated JPEG
	Width       int
	Height      int
	Detections  []model.Detection
	Summary     model.Summary
	SummaryText string
	States      []State
}

// State returns the last state the request reached.
func (r *Result) State() State {
	if len(r.States) == 0 {
		return Received
	}
	return r.States[len(r.States)-1]
}

func (r *Result) advance(s State) {
	r.States = append(r.States, s)
}

type Pipeline struct {
	ingestor *ingest.Ingestor
	detector Detector
	store    *storage.ArtifactStore
	feed     Publisher
	logger   *logger.Logger
	metrics  *metrics.Metrics

	jpegQuality int
	separator   string
	emptyText   string
}

// New wires the pipeline. feed may be nil.
func New(cfg *config.Config, ingestor *ingest.Ingestor, detector Detector, store *storage.ArtifactStore,
	feed Publisher, logger *logger.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		ingestor:    ingestor,
		detector:    detector,
		store:       store,
		feed:        feed,
		logger:      logger,
		metrics:     m,
		jpegQuality: cfg.JPEGQuality,
		separator:   cfg.SummarySeparator,
		emptyText:   cfg.SummaryEmptyText,
	}
}

// MaxUploadBytes returns the upload size ceiling.
func (p *Pipeline) MaxUploadBytes() int64 {
	return p.ingestor.MaxUploadBytes()
}

// Reject records a request that failed before its upload could be read.
func (p *Pipeline) Reject(err error) {
	kind, _ := model.KindOf(err)
	p.metrics.ObserveRequest(string(kindOrUnknown(kind)))
	p.logger.Warning("Rejected request: %v", err)
}

// Run takes an upload through every stage. The returned Result is never nil.
func (p *Pipeline) Run(ctx context.Context, upload *model.Upload) (*Result, error) {
	start := time.Now()
	result := &Result{States: []State{Received}}

	err := p.run(ctx, upload, result)
	if err != nil {
		result.advance(Errored)
		p.ingestor.DiscardInput(result.InputID)
		result.InputID = ""

		kind, _ := model.KindOf(err)
		p.metrics.ObserveRequest(string(kindOrUnknown(kind)))
		if kind.IsInput() {
			p.logger.Warning("Rejected upload %q: %v", filename(upload), err)
		} else {
			p.logger.Error("Detect request failed after %s: %v", result.States[len(result.States)-2], err)
		}
		return result, err
	}

	result.advance(Responded)
	p.metrics.ObserveRequest("ok")
	p.metrics.ObserveDetections(len(result.Detections))
	p.logger.Info("Processed %q (%dx%d) in %v: %s", filename(upload), result.Width, result.Height,
		time.Since(start), result.SummaryText)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, upload *model.Upload, result *Result) error {
	if err := p.ingestor.Validate(upload); err != nil {
		return err
	}
	result.advance(Validated)

	decoded, err := p.ingestor.Decode(ctx, upload)
	if err != nil {
		return err
	}
	result.InputID = decoded.InputID
	bounds := decoded.Image.Bounds()
	result.Width, result.Height = bounds.Dx(), bounds.Dy()
	result.advance(Decoded)

	detections, err := p.detector.Detect(ctx, decoded.Image)
	if err != nil {
		if _, ok := model.KindOf(err); !ok {
			err = model.NewError(model.KindInferenceFailure, err)
		}
		return err
	}
	result.Detections = detections
	result.advance(Inferred)

	annotated, summary := annotate.Annotate(decoded.Image, detections, p.detector.Labels())
	result.Summary = summary
	result.SummaryText = summary.Text(p.separator, p.emptyText)
	result.advance(Annotated)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, annotated, imaging.JPEG, imaging.JPEGQuality(p.jpegQuality)); err != nil {
		return model.NewError(model.KindStorageFailure, fmt.Errorf("failed to encode output: %w", err))
	}

	output := &model.Artifact{
		ID:          storage.NewID(),
		Kind:        model.ArtifactOutput,
		ContentType: "image/jpeg",
		Summary:     result.SummaryText,
		SourceID:    result.InputID,
	}
	uri, err := p.store.Save(ctx, output, buf.Bytes(), detections)
	if err != nil {
		return model.NewError(model.KindStorageFailure, fmt.Errorf("failed to store output: %w", err))
	}
	result.ArtifactID = output.ID
	result.URL = uri
	result.Image = buf.Bytes()
	result.advance(Stored)

	if p.feed != nil {
		p.feed.Publish(websocket.Event{
			ArtifactID: output.ID,
			URL:        uri,
			Summary:    result.SummaryText,
			Entries:    summary.Entries,
			Count:      summary.Total(),
			CreatedAt:  output.CreatedAt,
		})
	}
	return nil
}

func filename(upload *model.Upload) string {
	if upload == nil {
		return ""
	}
	return upload.Filename
}

func kindOrUnknown(kind model.ErrorKind) model.ErrorKind {
	if kind == "" {
		return "unknown"
	}
	return kind
}
