// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Lllllllleong/documentextraction/internal/gcp"
	"github.com/Lllllllleong/documentextraction/internal/governor"
	"github.com/Lllllllleong/documentextraction/internal/render"
	"github.com/Lllllllleong/documentextraction/internal/stages"
)

const DefaultDocumentTimeout = 15 * time.Minute

// Config is everything the processor needs at startup.
type Config struct {
	AppEnv string

	ProjectID           string
	FirestoreCollection string
	DatasetsCollection  string
	DatasetsFile        string

	LLMProvider          string
	LLMModel             string
	VertexRegion         string
	OpenAIAPIKey         string
	OllamaBaseURL        string
	LLMMaxOutputTokens   int
	LLMRequestsPerSecond float64

	MaxConcurrentDocuments int
	WorkerPoolSize         int
	DocumentTimeout        time.Duration

	MaxImagesPerChunk int
	MaxImageBytes     int
	ImageDPI          int
	OCRLanguages      string

	WorkflowID       string
	WorkflowLocation string
}

// Load reads the environment and validates the result.
func Load() (Config, error) {
	cfg := Config{
		AppEnv:              gcp.GetEnv("APP_ENV", "dev"),
		ProjectID:           gcp.GetEnv("PROJECT_ID", ""),
		FirestoreCollection: gcp.GetEnv("FIRESTORE_COLLECTION", "documents"),
		DatasetsCollection:  gcp.GetEnv("DATASETS_COLLECTION", "datasets"),
		DatasetsFile:        gcp.GetEnv("DATASETS_FILE", ""),
		LLMProvider:         strings.ToLower(gcp.GetEnv("LLM_PROVIDER", "vertex")),
		LLMModel:            gcp.GetEnv("LLM_MODEL", "gemini-1.5-pro"),
		VertexRegion:        gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		OpenAIAPIKey:        gcp.GetEnv("OPENAI_API_KEY", ""),
		OllamaBaseURL:       gcp.GetEnv("OLLAMA_BASE_URL", ""),
		OCRLanguages:        gcp.GetEnv("OCR_LANGUAGES", "eng"),
		WorkflowID:          gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation:    gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
	}

	var errs []error
	intVar := func(dst *int, key string, fallback int) {
		v, err := gcp.GetEnvInt(key, fallback)
		errs = append(errs, err)
		*dst = v
	}
	intVar(&cfg.LLMMaxOutputTokens, "LLM_MAX_OUTPUT_TOKENS", 8192)
	intVar(&cfg.MaxConcurrentDocuments, "MAX_CONCURRENT_DOCUMENTS", governor.DefaultConcurrency)
	intVar(&cfg.WorkerPoolSize, "WORKER_POOL_SIZE", governor.DefaultPoolSize)
	intVar(&cfg.MaxImagesPerChunk, "MAX_IMAGES_PER_CHUNK", stages.DefaultMaxImagesPerChunk)
	intVar(&cfg.MaxImageBytes, "MAX_IMAGE_BYTES", stages.DefaultMaxImageBytes)
	intVar(&cfg.ImageDPI, "IMAGE_DPI", render.DefaultDPI)

	rps, err := gcp.GetEnvFloat("LLM_REQUESTS_PER_SECOND", 0)
	errs = append(errs, err)
	cfg.LLMRequestsPerSecond = rps

	timeout, err := gcp.GetEnvDuration("DOCUMENT_TIMEOUT", DefaultDocumentTimeout)
	errs = append(errs, err)
	cfg.DocumentTimeout = timeout

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error
	if err := governor.ValidateLimit(c.MaxConcurrentDocuments); err != nil {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_DOCUMENTS: %w", err))
	}
	if c.WorkerPoolSize < 1 {
		errs = append(errs, fmt.Errorf("WORKER_POOL_SIZE must be at least 1"))
	}
	if c.DocumentTimeout <= 0 {
		errs = append(errs, fmt.Errorf("DOCUMENT_TIMEOUT must be positive"))
	}
	switch c.LLMProvider {
	case "vertex":
		if c.ProjectID == "" {
			errs = append(errs, fmt.Errorf("PROJECT_ID environment variable must be set for the vertex provider"))
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, fmt.Errorf("OPENAI_API_KEY environment variable must be set for the openai provider"))
		}
	case "ollama":
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLMProvider))
	}
	return errors.Join(errs...)
}

// UseFirestore reports whether records and dataset configs live in Firestore.
func (c Config) UseFirestore() bool {
	return c.ProjectID != ""
}
