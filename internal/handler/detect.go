package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/service/pipeline"
)

const (
	// UploadField is the multipart field carrying the image.
	UploadField = "image"

	// multipartSlack covers multipart headers and boundaries around the file part.
	multipartSlack = 64 << 10
)

type detectResponse struct {
	ID         string               `json:"id"`
	URL        string               `json:"url"`
	InputID    string               `json:"input_id,omitempty"`
	Summary    string               `json:"summary"`
	Entries    []model.SummaryEntry `json:"entries"`
	Detections []model.Detection    `json:"detections"`
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// DetectHandler accepts a multipart upload, runs the detect pipeline and answers in
// the configured response mode. Clients asking for JSON always get JSON.
func DetectHandler(p *pipeline.Pipeline, labels model.ClassLabels, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode := responseMode(r, cfg.ResponseMode)

		upload, err := readUpload(w, r, p.MaxUploadBytes())
		if err != nil {
			p.Reject(err)
			writeDetectError(w, logger, mode, err)
			return
		}

		result, err := p.Run(r.Context(), upload)
		if err != nil {
			writeDetectError(w, logger, mode, err)
			return
		}

		switch mode {
		case config.ResponseModeImage:
			w.Header().Set("Content-Type", "image/jpeg")
			w.Header().Set("Content-Length", strconv.Itoa(len(result.Image)))
			w.Header().Set("X-Artifact-ID", result.ArtifactID)
			w.Header().Set("X-Artifact-URL", result.URL)
			w.Header().Set("X-Detection-Summary", result.SummaryText)
			w.WriteHeader(http.StatusOK)
			w.Write(result.Image)
		case config.ResponseModeJSON:
			entries := result.Summary.Entries
			if entries == nil {
				entries = []model.SummaryEntry{}
			}
			detections := result.Detections
			if detections == nil {
				detections = []model.Detection{}
			}
			writeJSON(w, logger, http.StatusOK, detectResponse{
				ID:         result.ArtifactID,
				URL:        result.URL,
				InputID:    result.InputID,
				Summary:    result.SummaryText,
				Entries:    entries,
				Detections: detections,
				Width:      result.Width,
				Height:     result.Height,
			})
		default:
			renderPage(w, logger, "result.html", http.StatusOK,
				newResultPage(result.URL, result.SummaryText, result.Detections, labels))
		}
	}
}

// readUpload streams the multipart body and returns the image part. The body is capped
// slightly above the upload limit and the part at one byte over it, so oversized
// uploads are detected without buffering them.
func readUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (*model.Upload, error) {
	if r.ContentLength > maxBytes+multipartSlack {
		return nil, model.Errorf(model.KindPayloadTooLarge, "request body is %d bytes, limit is %d", r.ContentLength, maxBytes)
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartSlack)

	reader, err := r.MultipartReader()
	if err != nil {
		return nil, model.Errorf(model.KindMissingFile, "expected a multipart upload in field %q", UploadField)
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil, model.Errorf(model.KindMissingFile, "no file in field %q", UploadField)
		}
		if err != nil {
			return nil, uploadReadError(err, maxBytes)
		}
		if part.FormName() != UploadField {
			part.Close()
			continue
		}

		data, err := io.ReadAll(io.LimitReader(part, maxBytes+1))
		part.Close()
		if err != nil {
			return nil, uploadReadError(err, maxBytes)
		}
		return &model.Upload{Filename: part.FileName(), Data: data}, nil
	}
}

func uploadReadError(err error, maxBytes int64) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return model.Errorf(model.KindPayloadTooLarge, "request body exceeds %d bytes", maxBytes)
	}
	return model.Errorf(model.KindMissingFile, "failed to read upload: %v", err)
}

func responseMode(r *http.Request, fallback string) string {
	if wantsJSON(r) {
		return config.ResponseModeJSON
	}
	switch mode := r.URL.Query().Get("mode"); mode {
	case config.ResponseModeImage, config.ResponseModePage, config.ResponseModeJSON:
		return mode
	}
	return fallback
}

func wantsJSON(r *http.Request) bool {
	for _, accept := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(accept))
		if err == nil && mediaType == "application/json" {
			return true
		}
	}
	return false
}

func writeDetectError(w http.ResponseWriter, logger *logger.Logger, mode string, err error) {
	status, message := pipeline.Describe(err)
	kind, _ := model.KindOf(err)

	switch mode {
	case config.ResponseModeJSON:
		writeJSON(w, logger, status, errorResponse{Error: string(kind), Message: message})
	case config.ResponseModePage:
		renderPage(w, logger, "result.html", status, resultPage{Error: message})
	default:
		http.Error(w, message, status)
	}
}

func writeJSON(w http.ResponseWriter, logger *logger.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode JSON response: %v", err)
	}
}
