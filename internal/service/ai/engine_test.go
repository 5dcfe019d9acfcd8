package ai

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"
	"testing"
	"time"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/model"
)

type fakeModel struct {
	detections []model.Detection
	err        error
	panicWith  interface{}
	block      chan struct{}

	mu     sync.Mutex
	seen   []color.Color
	closed bool
}

func (f *fakeModel) Predict(img image.Image, _ float64) ([]model.Detection, error) {
	f.mu.Lock()
	f.seen = append(f.seen, img.At(img.Bounds().Min.X, img.Bounds().Min.Y))
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	return f.detections, f.err
}

func (f *fakeModel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		ConfidenceThreshold: 0.3,
		IoUThreshold:        0.6,
		PreprocessGain:      1,
		QueueTimeout:        50 * time.Millisecond,
	}
}

func newTestEngine(t *testing.T, cfg *config.Config, models ...Model) *Engine {
	t.Helper()
	log := logger.NewWithOutput(t.TempDir(), io.Discard)
	t.Cleanup(func() { log.Close() })
	engine, err := NewEngine(cfg, model.COCOLabels(), models, log, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func box(x1, y1, x2, y2 float64) model.BoundingBox {
	return model.BoundingBox{XMin: x1, YMin: y1, XMax: x2, YMax: y2}
}

func TestEngine_FiltersClampsAndSuppresses(t *testing.T) {
	fake := &fakeModel{detections: []model.Detection{
		{ClassID: 0, Confidence: 0.9, Box: box(10, 10, 110, 210)},
		{ClassID: 0, Confidence: 0.8, Box: box(12, 12, 112, 212)}, // duplicate of the first
		{ClassID: 0, Confidence: 0.7, Box: box(300, 10, 400, 210)},
		{ClassID: 2, Confidence: 0.85, Box: box(12, 12, 112, 212)}, // same place, other class
		{ClassID: 2, Confidence: 0.1, Box: box(500, 300, 600, 400)},
		{ClassID: 2, Confidence: 0.5, Box: box(600, 400, 700, 500)},
	}}
	engine := newTestEngine(t, testConfig(), fake)

	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	detections, err := engine.Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(detections) != 4 {
		t.Fatalf("Expected 4 detections, got %d: %+v", len(detections), detections)
	}
	counts := map[int]int{}
	for _, d := range detections {
		counts[d.ClassID]++
		if d.Confidence < 0.3 {
			t.Errorf("Detection below threshold: %+v", d)
		}
		if d.Box.XMin < 0 || d.Box.YMin < 0 || d.Box.XMax > 640 || d.Box.YMax > 480 {
			t.Errorf("Box outside image: %+v", d.Box)
		}
	}
	if counts[0] != 2 || counts[2] != 2 {
		t.Errorf("Unexpected per-class counts %v", counts)
	}
}

func TestEngine_HigherIoUKeepsMoreBoxes(t *testing.T) {
	overlapping := []model.Detection{
		{ClassID: 0, Confidence: 0.9, Box: box(0, 0, 100, 100)},
		{ClassID: 0, Confidence: 0.8, Box: box(30, 0, 130, 100)}, // IoU about 0.54
	}

	strict := NonMaxSuppression(overlapping, 0.5)
	loose := NonMaxSuppression(overlapping, 0.6)
	if len(strict) != 1 || len(loose) != 2 {
		t.Errorf("Expected 1 box at IoU 0.5 and 2 at 0.6, got %d and %d", len(strict), len(loose))
	}
	if strict[0].Confidence != 0.9 {
		t.Errorf("Expected the higher scoring box to survive, got %+v", strict[0])
	}
}

func TestEngine_InferenceFailure(t *testing.T) {
	engine := newTestEngine(t, testConfig(), &fakeModel{err: errors.New("bad tensor")})

	_, err := engine.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 10, 10)))
	if kind, _ := model.KindOf(err); kind != model.KindInferenceFailure {
		t.Errorf("Expected inference failure, got %v", err)
	}
}

func TestEngine_RecoversFromPanic(t *testing.T) {
	fake := &fakeModel{panicWith: "segfault"}
	engine := newTestEngine(t, testConfig(), fake)

	_, err := engine.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 10, 10)))
	if kind, _ := model.KindOf(err); kind != model.KindInferenceFailure {
		t.Fatalf("Expected inference failure, got %v", err)
	}

	// The model must be back in the pool.
	fake.panicWith = nil
	if _, err := engine.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 10, 10))); err != nil {
		t.Errorf("Expected the model to be reusable after a panic: %v", err)
	}
}

func TestEngine_BusyWhenPoolExhausted(t *testing.T) {
	fake := &fakeModel{block: make(chan struct{})}
	engine := newTestEngine(t, testConfig(), fake)

	done := make(chan error, 1)
	go func() {
		_, err := engine.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 10, 10)))
		done <- err
	}()

	// Wait for the first request to hold the only model.
	deadline := time.Now().Add(time.Second)
	for len(engine.pool) != 0 || func() bool { fake.mu.Lock(); defer fake.mu.Unlock(); return len(fake.seen) == 0 }() {
		if time.Now().After(deadline) {
			t.Fatal("First request never acquired the model")
		}
		time.Sleep(time.Millisecond)
	}

	_, err := engine.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 10, 10)))
	if kind, _ := model.KindOf(err); kind != model.KindBusy {
		t.Errorf("Expected busy, got %v", err)
	}

	close(fake.block)
	if err := <-done; err != nil {
		t.Errorf("First request failed: %v", err)
	}
}

func TestEngine_PreprocessDoesNotMutateInput(t *testing.T) {
	cfg := testConfig()
	cfg.PreprocessGain = 2
	cfg.PreprocessOffset = 10
	fake := &fakeModel{}
	engine := newTestEngine(t, cfg, fake)

	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.NRGBA{R: 50, G: 100, B: 200, A: 255})

	if _, err := engine.Detect(context.Background(), img); err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if got := img.NRGBAAt(0, 0); got != (color.NRGBA{R: 50, G: 100, B: 200, A: 255}) {
		t.Errorf("Input image was modified: %+v", got)
	}
	r, g, b, _ := fake.seen[0].RGBA()
	if r>>8 != 110 || g>>8 != 210 || b>>8 != 255 {
		t.Errorf("Unexpected adjusted pixel %d %d %d", r>>8, g>>8, b>>8)
	}
}

func TestEngine_CloseReleasesModels(t *testing.T) {
	a, b := &fakeModel{}, &fakeModel{}
	engine := newTestEngine(t, testConfig(), a, b)

	if err := engine.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("Expected every model to be closed")
	}
}

func TestDecodeYOLO(t *testing.T) {
	layout := OutputLayout{Classes: 2, Anchors: 3}
	output := []float32{
		// cx, cy, w, h per anchor
		100, 200, 300,
		100, 200, 300,
		20, 40, 60,
		20, 40, 60,
		// class 0 scores
		0.9, 0.1, 0.2,
		// class 1 scores
		0.05, 0.7, 0.25,
	}

	detections, err := DecodeYOLO(output, layout, 2, 0.5, 0.3)
	if err != nil {
		t.Fatalf("DecodeYOLO failed: %v", err)
	}
	if len(detections) != 2 {
		t.Fatalf("Expected 2 detections above 0.3, got %d", len(detections))
	}

	first := detections[0]
	if first.ClassID != 0 || first.Confidence < 0.89 {
		t.Errorf("Unexpected first detection %+v", first)
	}
	if first.Box != box(180, 45, 220, 55) {
		t.Errorf("Unexpected scaled box %+v", first.Box)
	}
	if detections[1].ClassID != 1 {
		t.Errorf("Expected class 1 for the second anchor, got %d", detections[1].ClassID)
	}
}

func TestDecodeYOLO_SizeMismatch(t *testing.T) {
	if _, err := DecodeYOLO(make([]float32, 10), OutputLayout{Classes: 80, Anchors: 8400}, 1, 1, 0.3); err == nil {
		t.Error("Expected an error for a truncated output")
	}
}

func TestAnchorsFor(t *testing.T) {
	if got := AnchorsFor(640); got != 8400 {
		t.Errorf("Expected 8400 anchors for 640, got %d", got)
	}
}
