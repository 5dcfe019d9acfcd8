package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// ResponseModeImage returns the annotated JPEG bytes directly.
	ResponseModeImage = "image"
	// ResponseModePage renders a result page embedding the artifact address.
	ResponseModePage = "page"
	// ResponseModeJSON returns the artifact address, summary and detections as JSON.
	ResponseModeJSON = "json"
)

type Config struct {
	Port            int
	ModelPath       string
	LabelsPath      string
	ModelBackend    string // opencv or onnx
	OnnxLibraryPath string
	ModelInputSize  int

	ConfidenceThreshold float64
	IoUThreshold        float64
	MaxUploadBytes      int64
	MaxDimension        int

	UploadDirectory string
	KeepInputs      bool // persist the original upload next to the output
	DatabasePath    string
	LogDirectory    string

	InferenceWorkers int           // model instances in the pool
	QueueTimeout     time.Duration // how long a request waits for a free model

	PreprocessGain   float64
	PreprocessOffset float64
	JPEGQuality      int

	ResponseMode     string
	SummarySeparator string
	SummaryEmptyText string

	ArtifactMaxAge    time.Duration
	ArtifactMaxBytes  int64
	RetentionInterval time.Duration

	CORSOrigins []string
}

// Load reads configuration from the environment, after applying an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:                getEnvAsInt("PORT", 10000),
		ModelPath:           getEnv("MODEL_PATH", filepath.Join(".", "models", "yolov8n.onnx")),
		LabelsPath:          getEnv("LABELS_PATH", ""),
		ModelBackend:        getEnv("MODEL_BACKEND", "opencv"),
		OnnxLibraryPath:     getEnv("ONNX_LIBRARY_PATH", filepath.Join(".", "third_party", "onnxruntime.so")),
		ModelInputSize:      getEnvAsInt("MODEL_INPUT_SIZE", 640),
		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.3),
		IoUThreshold:        getEnvAsFloat("IOU_THRESHOLD", 0.6),
		MaxUploadBytes:      getEnvAsInt64("MAX_UPLOAD_BYTES", 8<<20),
		MaxDimension:        getEnvAsInt("MAX_DIMENSION_PX", 3000),
		UploadDirectory:     getEnv("UPLOAD_DIR", filepath.Join(".", "tmp")),
		KeepInputs:          getEnvAsBool("KEEP_INPUTS", true),
		DatabasePath:        getEnv("DB_PATH", filepath.Join(".", "data", "artifacts.db")),
		LogDirectory:        getEnv("LOG_DIR", filepath.Join(".", "logs")),
		InferenceWorkers:    getEnvAsInt("INFERENCE_WORKERS", 1),
		QueueTimeout:        getEnvAsDuration("QUEUE_TIMEOUT", 10*time.Second),
		PreprocessGain:      getEnvAsFloat("PREPROCESS_GAIN", 1.0),
		PreprocessOffset:    getEnvAsFloat("PREPROCESS_OFFSET", 0),
		JPEGQuality:         getEnvAsInt("JPEG_QUALITY", 90),
		ResponseMode:        getEnv("RESPONSE_MODE", ResponseModePage),
		SummarySeparator:    getEnv("SUMMARY_SEPARATOR", "，"),
		SummaryEmptyText:    getEnv("SUMMARY_EMPTY_TEXT", "未检测到物体"),
		ArtifactMaxAge:      getEnvAsDuration("ARTIFACT_MAX_AGE", 24*time.Hour),
		ArtifactMaxBytes:    getEnvAsInt64("ARTIFACT_MAX_BYTES", 512<<20),
		RetentionInterval:   getEnvAsDuration("RETENTION_INTERVAL", 5*time.Minute),
		CORSOrigins:         getEnvAsList("CORS_ORIGINS", []string{"*"}),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("30s", "2h") or plain seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
