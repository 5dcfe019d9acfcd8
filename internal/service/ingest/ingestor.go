package ingest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder

	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/webp" // Register WebP decoder

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/service/storage"
)

// Decoder turns raw upload bytes into pixels. DecodeConfig only reads the header.
type Decoder interface {
	DecodeConfig(data []byte) (image.Config, string, error)
	Decode(data []byte) (image.Image, string, error)
}

// StdDecoder decodes with the image package and the registered format decoders.
type StdDecoder struct{}

func (StdDecoder) DecodeConfig(data []byte) (image.Config, string, error) {
	return image.DecodeConfig(bytes.NewReader(data))
}

func (StdDecoder) Decode(data []byte) (image.Image, string, error) {
	return image.Decode(bytes.NewReader(data))
}

// InputStore persists and removes the original upload.
type InputStore interface {
	Save(ctx context.Context, a *model.Artifact, data []byte, detections []model.Detection) (string, error)
	Delete(id string) error
}

// Result is a validated, decoded upload.
type Result struct {
	Image   image.Image
	Format  string
	InputID string // empty when inputs are not kept
}

// Ingestor validates uploads and decodes them into rasters.
type Ingestor struct {
	decoder        Decoder
	inputs         InputStore
	logger         *logger.Logger
	maxUploadBytes int64
	maxDimension   int
	keepInputs     bool
}

// NewIngestor creates an Ingestor. inputs may be nil when originals are not kept.
func NewIngestor(cfg *config.Config, decoder Decoder, inputs InputStore, logger *logger.Logger) *Ingestor {
	if decoder == nil {
		decoder = StdDecoder{}
	}
	return &Ingestor{
		decoder:        decoder,
		inputs:         inputs,
		logger:         logger,
		maxUploadBytes: cfg.MaxUploadBytes,
		maxDimension:   cfg.MaxDimension,
		keepInputs:     cfg.KeepInputs && inputs != nil,
	}
}

// MaxUploadBytes returns the upload size ceiling.
func (in *Ingestor) MaxUploadBytes() int64 {
	return in.maxUploadBytes
}

// Validate runs the checks that need no decoding: presence, filename and size.
func (in *Ingestor) Validate(upload *model.Upload) error {
	if upload == nil || upload.Data == nil {
		return model.Errorf(model.KindMissingFile, "no file in field")
	}
	if upload.Filename == "" {
		return model.Errorf(model.KindEmptyFilename, "upload has no filename")
	}
	if int64(len(upload.Data)) > in.maxUploadBytes {
		return model.Errorf(model.KindPayloadTooLarge, "upload is %d bytes, limit is %d", len(upload.Data), in.maxUploadBytes)
	}
	return nil
}

// Decode persists the original (when enabled), checks the dimensions from the image
// header and decodes the pixels. The persisted original is removed on any failure.
func (in *Ingestor) Decode(ctx context.Context, upload *model.Upload) (*Result, error) {
	result := &Result{}

	if in.keepInputs {
		id := storage.NewID()
		input := &model.Artifact{ID: id, Kind: model.ArtifactInput, Filename: upload.Filename}
		if _, err := in.inputs.Save(ctx, input, upload.Data, nil); err != nil {
			return nil, model.NewError(model.KindStorageFailure, fmt.Errorf("failed to keep input: %w", err))
		}
		result.InputID = id
	}

	img, format, err := in.decode(upload.Data)
	if err != nil {
		in.discardInput(result.InputID)
		return nil, err
	}

	result.Image = img
	result.Format = format
	return result, nil
}

// Ingest validates and decodes an upload in one step.
func (in *Ingestor) Ingest(ctx context.Context, upload *model.Upload) (*Result, error) {
	if err := in.Validate(upload); err != nil {
		return nil, err
	}
	return in.Decode(ctx, upload)
}

func (in *Ingestor) decode(data []byte) (image.Image, string, error) {
	cfg, _, err := in.decoder.DecodeConfig(data)
	if err != nil {
		return nil, "", model.Errorf(model.KindUnreadableImage, "failed to read image header: %v", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", model.Errorf(model.KindUnreadableImage, "image has no pixels (%dx%d)", cfg.Width, cfg.Height)
	}
	if cfg.Width > in.maxDimension || cfg.Height > in.maxDimension {
		return nil, "", model.Errorf(model.KindOversizedDimensions, "image is %dx%d, limit is %dx%d",
			cfg.Width, cfg.Height, in.maxDimension, in.maxDimension)
	}

	img, format, err := in.decoder.Decode(data)
	if err != nil {
		return nil, "", model.Errorf(model.KindUnreadableImage, "failed to decode image: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, "", model.Errorf(model.KindUnreadableImage, "decoded image is empty")
	}
	if bounds.Dx() > in.maxDimension || bounds.Dy() > in.maxDimension {
		return nil, "", model.Errorf(model.KindOversizedDimensions, "image is %dx%d, limit is %dx%d",
			bounds.Dx(), bounds.Dy(), in.maxDimension, in.maxDimension)
	}
	return img, format, nil
}

// DiscardInput removes a kept original; the pipeline calls it when a later stage fails.
func (in *Ingestor) DiscardInput(id string) {
	in.discardInput(id)
}

func (in *Ingestor) discardInput(id string) {
	if id == "" {
		return
	}
	if err := in.inputs.Delete(id); err != nil {
		in.logger.Warning("Failed to remove input artifact %s: %v", id, err)
	}
}
