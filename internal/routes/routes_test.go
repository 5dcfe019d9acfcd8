package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/metrics"
	"detectserver/internal/model"
	"detectserver/internal/repository/sqlite"
	"detectserver/internal/service/ingest"
	"detectserver/internal/service/pipeline"
	"detectserver/internal/service/storage"
	"detectserver/internal/service/websocket"
)

// ========================================
// Test doubles and helpers
// ========================================

type countingDecoder struct {
	ingest.StdDecoder
	calls atomic.Int32
}

func (d *countingDecoder) DecodeConfig(data []byte) (image.Config, string, error) {
	d.calls.Add(1)
	return d.StdDecoder.DecodeConfig(data)
}

func (d *countingDecoder) Decode(data []byte) (image.Image, string, error) {
	d.calls.Add(1)
	return d.StdDecoder.Decode(data)
}

type fakeDetector struct {
	detections []model.Detection
	err        error
}

func (f *fakeDetector) Detect(_ context.Context, _ image.Image) ([]model.Detection, error) {
	return f.detections, f.err
}

func (f *fakeDetector) Labels() model.ClassLabels {
	return model.COCOLabels()
}

// Two people and a car in a 640x480 street scene.
var streetScene = []model.Detection{
	{ClassID: 0, Confidence: 0.91, Box: model.BoundingBox{XMin: 60, YMin: 120, XMax: 160, YMax: 420}},
	{ClassID: 2, Confidence: 0.74, Box: model.BoundingBox{XMin: 330, YMin: 260, XMax: 620, YMax: 440}},
	{ClassID: 0, Confidence: 0.83, Box: model.BoundingBox{XMin: 210, YMin: 130, XMax: 300, YMax: 410}},
}

type testServer struct {
	handler http.Handler
	store   *storage.ArtifactStore
	decoder *countingDecoder
	dir     string
}

func newTestServer(t *testing.T, detector pipeline.Detector) *testServer {
	t.Helper()
	root := t.TempDir()

	cfg := &config.Config{
		MaxUploadBytes:      8 << 20,
		MaxDimension:        3000,
		ConfidenceThreshold: 0.3,
		IoUThreshold:        0.6,
		KeepInputs:          true,
		UploadDirectory:     filepath.Join(root, "tmp"),
		JPEGQuality:         90,
		ResponseMode:        config.ResponseModePage,
		SummarySeparator:    "，",
		SummaryEmptyText:    "未检测到物体",
		ArtifactMaxAge:      time.Hour,
		CORSOrigins:         []string{"*"},
	}

	db, err := sqlite.New(filepath.Join(root, "artifacts.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	log := logger.NewWithOutput(filepath.Join(root, "logs"), io.Discard)
	t.Cleanup(func() {
		db.Close()
		log.Close()
	})

	m := metrics.New()
	store, err := storage.NewArtifactStore(cfg, log, m, sqlite.NewArtifactRepository(db), sqlite.NewDetectionRepository(db))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	decoder := &countingDecoder{}
	hub := websocket.NewHubService(log, m)
	p := pipeline.New(cfg, ingest.NewIngestor(cfg, decoder, store, log), detector, store, hub, log, m)

	return &testServer{
		handler: SetupRoutes(Services{Pipeline: p, Store: store, Hub: hub, Labels: model.COCOLabels(), Metrics: m}, cfg, log),
		store:   store,
		decoder: decoder,
		dir:     cfg.UploadDirectory,
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		t.Fatalf("Failed to list artifacts: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.SetGray(x, height/2, color.Gray{Y: 200})
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("Failed to encode JPEG: %v", err)
	}
	return buf.Bytes()
}

func uploadRequest(t *testing.T, target, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("Failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

type detectJSON struct {
	ID         string            `json:"id"`
	URL        string            `json:"url"`
	Summary    string            `json:"summary"`
	Detections []model.Detection `json:"detections"`
	Error      string            `json:"error"`
	Message    string            `json:"message"`
}

func decodeDetect(t *testing.T, rec *httptest.ResponseRecorder) detectJSON {
	t.Helper()
	var out detectJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return out
}

// ========================================
// Detect endpoint
// ========================================

func TestDetect_StreetSceneJSON(t *testing.T) {
	s := newTestServer(t, &fakeDetector{detections: streetScene})

	req := uploadRequest(t, "/detect", "image", "street.jpg", encodeJPEG(t, 640, 480))
	req.Header.Set("Accept", "application/json")
	rec := s.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decodeDetect(t, rec)
	if !strings.Contains(out.Summary, "person × 2") || !strings.Contains(out.Summary, "car × 1") {
		t.Errorf("Unexpected summary %q", out.Summary)
	}
	if len(out.Detections) != 3 {
		t.Errorf("Expected 3 detections, got %d", len(out.Detections))
	}

	artifact := s.do(httptest.NewRequest(http.MethodGet, out.URL, nil))
	if artifact.Code != http.StatusOK {
		t.Fatalf("Artifact not retrievable at %s: %d", out.URL, artifact.Code)
	}
	if ct := artifact.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %q", ct)
	}
	if _, err := jpeg.Decode(bytes.NewReader(artifact.Body.Bytes())); err != nil {
		t.Errorf("Artifact is not a valid JPEG: %v", err)
	}
}

func TestDetect_ImageMode(t *testing.T) {
	s := newTestServer(t, &fakeDetector{detections: streetScene})

	rec := s.do(uploadRequest(t, "/detect?mode=image", "image", "street.jpg", encodeJPEG(t, 640, 480)))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %q", ct)
	}
	if rec.Header().Get("X-Artifact-ID") == "" {
		t.Error("Expected X-Artifact-ID header")
	}
	if summary := rec.Header().Get("X-Detection-Summary"); !strings.Contains(summary, "person × 2") {
		t.Errorf("Unexpected summary header %q", summary)
	}
	img, err := jpeg.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("Response is not a JPEG: %v", err)
	}
	if img.Bounds().Dx() != 640 || img.Bounds().Dy() != 480 {
		t.Errorf("Annotated image has bounds %v", img.Bounds())
	}
}

func TestDetect_PageMode(t *testing.T) {
	s := newTestServer(t, &fakeDetector{})

	rec := s.do(uploadRequest(t, "/detect", "image", "empty.jpg", encodeJPEG(t, 64, 64)))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "未检测到物体") {
		t.Error("Expected the nothing-detected sentinel in the page")
	}
	if !strings.Contains(body, storage.ArtifactPathPrefix) {
		t.Error("Expected the artifact address in the page")
	}
}

func TestDetect_OversizedDimensions(t *testing.T) {
	s := newTestServer(t, &fakeDetector{detections: streetScene})

	req := uploadRequest(t, "/detect", "image", "huge.jpg", encodeJPEG(t, 4000, 4000))
	req.Header.Set("Accept", "application/json")
	rec := s.do(req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	if out := decodeDetect(t, rec); out.Error != string(model.KindOversizedDimensions) {
		t.Errorf("Expected oversized dimensions, got %q", out.Error)
	}
	if files := s.files(t); len(files) != 0 {
		t.Errorf("Expected no artifacts after rejection, found %v", files)
	}
}

func TestDetect_PayloadTooLarge(t *testing.T) {
	s := newTestServer(t, &fakeDetector{detections: streetScene})

	rec := s.do(uploadRequest(t, "/detect", "image", "big.jpg", make([]byte, 10<<20)))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected 413, got %d", rec.Code)
	}
	if calls := s.decoder.calls.Load(); calls != 0 {
		t.Errorf("Expected zero decode calls, got %d", calls)
	}
	if files := s.files(t); len(files) != 0 {
		t.Errorf("Expected no artifacts, found %v", files)
	}
}

func TestDetect_PayloadJustOverLimit(t *testing.T) {
	s := newTestServer(t, &fakeDetector{})

	rec := s.do(uploadRequest(t, "/detect", "image", "big.jpg", make([]byte, 8<<20+1)))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected 413, got %d", rec.Code)
	}
	if calls := s.decoder.calls.Load(); calls != 0 {
		t.Errorf("Expected zero decode calls, got %d", calls)
	}
}

func TestDetect_InputErrors(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		filename string
		data     []byte
		kind     model.ErrorKind
	}{
		{"wrong field", "file", "a.jpg", []byte("x"), model.KindMissingFile},
		{"empty filename", "image", "", []byte("x"), model.KindEmptyFilename},
		{"not an image", "image", "notes.txt", []byte("hello"), model.KindUnreadableImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeDetector{})
			req := uploadRequest(t, "/detect", tt.field, tt.filename, tt.data)
			req.Header.Set("Accept", "application/json")
			rec := s.do(req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", rec.Code)
			}
			if out := decodeDetect(t, rec); out.Error != string(tt.kind) {
				t.Errorf("Expected %s, got %q", tt.kind, out.Error)
			}
		})
	}
}

func TestDetect_NotMultipart(t *testing.T) {
	s := newTestServer(t, &fakeDetector{})

	req := httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader("raw"))
	req.Header.Set("Content-Type", "text/plain")
	rec := s.do(req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestDetect_Busy(t *testing.T) {
	s := newTestServer(t, &fakeDetector{err: model.Errorf(model.KindBusy, "no model available")})

	req := uploadRequest(t, "/detect", "image", "a.jpg", encodeJPEG(t, 32, 32))
	req.Header.Set("Accept", "application/json")
	rec := s.do(req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}
	if out := decodeDetect(t, rec); strings.Contains(out.Message, "no model available") {
		t.Errorf("Processing errors must not expose their cause: %q", out.Message)
	}
}

// ========================================
// Artifact endpoints
// ========================================

func TestArtifacts_MetadataAndDelete(t *testing.T) {
	s := newTestServer(t, &fakeDetector{detections: streetScene})

	req := uploadRequest(t, "/detect", "image", "street.jpg", encodeJPEG(t, 640, 480))
	req.Header.Set("Accept", "application/json")
	out := decodeDetect(t, s.do(req))

	meta := s.do(httptest.NewRequest(http.MethodGet, "/api/artifacts/"+out.ID, nil))
	if meta.Code != http.StatusOK {
		t.Fatalf("Expected 200 for metadata, got %d", meta.Code)
	}
	var body struct {
		Artifact   model.Artifact    `json:"artifact"`
		Detections []model.Detection `json:"detections"`
	}
	if err := json.Unmarshal(meta.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid metadata JSON: %v", err)
	}
	if body.Artifact.Kind != model.ArtifactOutput || len(body.Detections) != 3 {
		t.Errorf("Unexpected metadata %+v", body)
	}

	if rec := s.do(httptest.NewRequest(http.MethodDelete, out.URL, nil)); rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 on delete, got %d", rec.Code)
	}
	if rec := s.do(httptest.NewRequest(http.MethodGet, out.URL, nil)); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", rec.Code)
	}
}

func TestArtifacts_UnknownID(t *testing.T) {
	s := newTestServer(t, &fakeDetector{})

	for _, path := range []string{
		"/artifacts/" + storage.NewID(),
		"/artifacts/not-a-uuid",
		"/api/artifacts/" + storage.NewID(),
	} {
		if rec := s.do(httptest.NewRequest(http.MethodGet, path, nil)); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s: expected 404, got %d", path, rec.Code)
		}
	}
	if rec := s.do(httptest.NewRequest(http.MethodDelete, "/artifacts/"+storage.NewID(), nil)); rec.Code != http.StatusNotFound {
		t.Errorf("DELETE unknown: expected 404, got %d", rec.Code)
	}
}

// ========================================
// Plumbing
// ========================================

func TestIndexHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, &fakeDetector{})

	index := s.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if index.Code != http.StatusOK || !strings.Contains(index.Body.String(), `name="image"`) {
		t.Errorf("Unexpected index response %d", index.Code)
	}

	health := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if health.Code != http.StatusOK || !strings.Contains(health.Body.String(), `"classes":80`) {
		t.Errorf("Unexpected health response %d %q", health.Code, health.Body.String())
	}

	s.do(uploadRequest(t, "/detect", "image", "a.jpg", encodeJPEG(t, 32, 32)))
	metricsRec := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(metricsRec.Body.String(), `detect_requests_total{outcome="ok"} 1`) {
		t.Errorf("Expected the request to be counted, got:\n%s", metricsRec.Body.String())
	}

	css := s.do(httptest.NewRequest(http.MethodGet, "/static/style.css", nil))
	if css.Code != http.StatusOK {
		t.Errorf("Expected stylesheet, got %d", css.Code)
	}

	if rec := s.do(httptest.NewRequest(http.MethodGet, "/logs/debug", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown log level, got %d", rec.Code)
	}
	if rec := s.do(httptest.NewRequest(http.MethodGet, "/detect", nil)); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET /detect, got %d", rec.Code)
	}
}
