package handler

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// StaticFiles returns the embedded stylesheet and script assets.
func StaticFiles() http.FileSystem {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}

type indexPage struct {
	MaxUploadMiB int64
	MaxDimension int
}

type resultRow struct {
	Name       string
	Confidence float64
	Box        string
}

type resultPage struct {
	URL        string
	Summary    string
	Detections []resultRow
	Error      string
}

// IndexHandler renders the upload form.
func IndexHandler(cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	page := indexPage{
		MaxUploadMiB: cfg.MaxUploadBytes >> 20,
		MaxDimension: cfg.MaxDimension,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		renderPage(w, logger, "index.html", http.StatusOK, page)
	}
}

func newResultPage(url, summary string, detections []model.Detection, labels model.ClassLabels) resultPage {
	rows := make([]resultRow, 0, len(detections))
	for _, d := range detections {
		rows = append(rows, resultRow{
			Name:       labels.Name(d.ClassID),
			Confidence: d.Confidence,
			Box:        d.Box.Rect().String(),
		})
	}
	return resultPage{URL: url, Summary: summary, Detections: rows}
}

func renderPage(w http.ResponseWriter, logger *logger.Logger, name string, status int, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		logger.Error("Failed to render %s: %v", name, err)
	}
}
