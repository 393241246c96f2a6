package stages

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Lllllllleong/documentextraction/internal/chunker"
	"github.com/Lllllllleong/documentextraction/internal/llm"
	"github.com/Lllllllleong/documentextraction/internal/models"
	"github.com/Lllllllleong/documentextraction/internal/render"
	"github.com/Lllllllleong/documentextraction/internal/repair"
)

const (
	DefaultMaxImagesPerChunk = 50
	DefaultMaxImageBytes     = 20 << 20
)

// OCRProvider extracts plain text from a chunk document.
type OCRProvider interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// ImageRenderer writes page images of a chunk document into a directory.
type ImageRenderer interface {
	Render(ctx context.Context, path, outDir string, limit int) ([]render.PageImage, error)
}

// Config bounds image preparation.
type Config struct {
	MaxImagesPerChunk int
	// MaxImageBytes caps the cumulative base64-encoded size of the images of one chunk.
	MaxImageBytes int
}

// ImageSet holds the prepared images of one chunk, shared by Extraction and Evaluation.
type ImageSet struct {
	Images       []llm.Image
	EncodedBytes int
	// Truncated is set when rendered pages were dropped because of the count or size cap.
	Truncated bool
}

// Len returns the number of images in s; a nil set has none.
func (s *ImageSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Images)
}

func (s *ImageSet) images() []llm.Image {
	if s == nil {
		return nil
	}
	return s.Images
}

// Summary is the document-level output of the summary stage.
type Summary struct {
	Classification string `json:"classification"`
	Summary        string `json:"summary"`
}

// ExtractionInput is everything one extraction call needs.
type ExtractionInput struct {
	Chunk   chunker.Chunk
	OCRText string
	Images  *ImageSet
	Prompt  string
	Schema  string
}

// EvaluationInput is everything one evaluation call needs.
type EvaluationInput struct {
	Chunk      chunker.Chunk
	Images     *ImageSet
	Extraction interface{}
	Schema     string
}

// Runner executes stages against the OCR and LLM providers.
type Runner struct {
	ocr      OCRProvider
	model    llm.Provider
	renderer ImageRenderer
	cfg      Config
}

// NewRunner creates a Runner. Zero config values fall back to the defaults.
func NewRunner(ocr OCRProvider, model llm.Provider, renderer ImageRenderer, cfg Config) *Runner {
	if cfg.MaxImagesPerChunk <= 0 {
		cfg.MaxImagesPerChunk = DefaultMaxImagesPerChunk
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	return &Runner{ocr: ocr, model: model, renderer: renderer, cfg: cfg}
}

// OCR extracts the text of a chunk. Value is the text.
func (r *Runner) OCR(ctx context.Context, chunk chunker.Chunk, opts models.ProcessingOptions) Result {
	if !opts.IncludeOCR {
		return Skipped()
	}
	start := time.Now()
	text, err := r.ocr.ExtractText(ctx, chunk.Path)
	if err != nil {
		return Failed(models.StageError(models.StageOCR, fmt.Sprintf("OCR failed for %s", chunk.Key), err))
	}
	return Completed(strings.TrimSpace(text), time.Since(start))
}

// PrepareImages renders the pages of a chunk into dir and loads them, stopping before either
// the image count or the cumulative encoded size cap would be exceeded. Value is *ImageSet.
func (r *Runner) PrepareImages(ctx context.Context, chunk chunker.Chunk, dir string, opts models.ProcessingOptions) Result {
	if !opts.IncludeImages {
		return Skipped()
	}
	start := time.Now()
	pages, err := r.renderer.Render(ctx, chunk.Path, dir, r.cfg.MaxImagesPerChunk)
	if err != nil {
		return Failed(models.StageError(models.StageExtraction, fmt.Sprintf("image rendering failed for %s", chunk.Key), err))
	}

	set := &ImageSet{}
	if pageCount := chunk.Range.End - chunk.Range.Start + 1; pageCount > r.cfg.MaxImagesPerChunk {
		set.Truncated = true
	}
	for _, p := range pages {
		encoded := base64.StdEncoding.EncodedLen(int(p.Size))
		if set.EncodedBytes+encoded > r.cfg.MaxImageBytes {
			set.Truncated = true
			break
		}
		data, err := os.ReadFile(p.Path)
		if err != nil {
			return Failed(models.StageError(models.StageExtraction, fmt.Sprintf("failed to read rendered page %d", p.Page), err))
		}
		set.Images = append(set.Images, llm.Image{MIMEType: p.MIMEType, Data: data})
		set.EncodedBytes += encoded
	}
	if set.Truncated {
		slog.Warn("Image set truncated by cap.", "chunk", chunk.Key, "images", len(set.Images), "encodedBytes", set.EncodedBytes)
	}
	return Completed(set, time.Since(start))
}

// Extract runs structured extraction over a chunk. Value is the decoded JSON, or a placeholder
// carrying the raw preview when the output could not be repaired (reported as Warning).
func (r *Runner) Extract(ctx context.Context, in ExtractionInput) Result {
	if strings.TrimSpace(in.OCRText) == "" && in.Images.Len() == 0 {
		return Failed(models.NoInputError(fmt.Sprintf("chunk %s has neither OCR text nor images", in.Chunk.Key)))
	}
	start := time.Now()
	resp, err := r.model.Complete(ctx, llm.Request{
		System: ExtractionSystemPrompt,
		Prompt: extractionPrompt(in.Prompt, in.Schema, in.OCRText, in.Images.Len()),
		Images: in.Images.images(),
		JSON:   true,
	})
	if err != nil {
		return Failed(models.StageError(models.StageExtraction, fmt.Sprintf("extraction call failed for %s", in.Chunk.Key), err))
	}
	return r.accept(models.StageExtraction, resp, time.Since(start), func(v interface{}) interface{} { return v })
}

// Evaluate scores an extraction against the chunk images. Value is the extraction with every leaf
// annotated as {"value": original, "confidence": score}.
func (r *Runner) Evaluate(ctx context.Context, in EvaluationInput, opts models.ProcessingOptions) Result {
	if !opts.EnableEvaluation {
		return Skipped()
	}
	if IsPlaceholder(in.Extraction) {
		return Completed(in.Extraction, 0)
	}
	extracted, err := json.Marshal(in.Extraction)
	if err != nil {
		return Failed(models.StageError(models.StageEvaluation, "failed to encode extraction for evaluation", err))
	}

	start := time.Now()
	resp, err := r.model.Complete(ctx, llm.Request{
		System: EvaluationSystemPrompt,
		Prompt: evaluationPrompt(in.Schema, string(extracted)),
		Images: in.Images.images(),
		JSON:   true,
	})
	if err != nil {
		return Failed(models.StageError(models.StageEvaluation, fmt.Sprintf("evaluation call failed for %s", in.Chunk.Key), err))
	}
	res := r.accept(models.StageEvaluation, resp, time.Since(start), func(v interface{}) interface{} {
		return MergeConfidence(in.Extraction, v)
	})
	if res.IsCompleted() && IsPlaceholder(res.Value) {
		// unreadable scores still leave the original values annotated
		res.Value = MergeConfidence(in.Extraction, nil)
	}
	return res
}

// Summarize classifies and summarizes the whole document from text. Value is Summary.
func (r *Runner) Summarize(ctx context.Context, text string, opts models.ProcessingOptions) Result {
	if !opts.EnableSummary {
		return Skipped()
	}
	if strings.TrimSpace(text) == "" {
		return Failed(models.NewError(models.KindNoInput, models.StageSummary, "no document text to summarize", nil))
	}
	start := time.Now()
	resp, err := r.model.Complete(ctx, llm.Request{
		System: SummarySystemPrompt,
		Prompt: summaryPrompt(text),
		JSON:   true,
	})
	if err != nil {
		return Failed(models.StageError(models.StageSummary, "summary call failed", err))
	}
	elapsed := time.Since(start)

	parsed, err := repair.Parse(resp.Content, resp.FinishReason)
	if err != nil {
		withStage(err, models.StageSummary)
		if models.KindOf(err) != models.KindJSONParse {
			return Failed(err).withUsage(resp.Usage)
		}
		// keep the prose so the document still gets a summary
		return Completed(Summary{Summary: strings.TrimSpace(resp.Content)}, elapsed).withUsage(resp.Usage).withWarning(err)
	}

	var out Summary
	if m, ok := parsed.Value.(map[string]interface{}); ok {
		out.Classification, _ = m["classification"].(string)
		out.Summary, _ = m["summary"].(string)
	}
	return Completed(out, elapsed).withUsage(resp.Usage)
}

// accept runs model output through repair. Truncation fails the stage; an unrepairable response
// completes with a placeholder and a json_parse_error warning.
func (r *Runner) accept(stage models.Stage, resp llm.Completion, elapsed time.Duration, transform func(interface{}) interface{}) Result {
	parsed, err := repair.Parse(resp.Content, resp.FinishReason)
	if err != nil {
		withStage(err, stage)
		if models.KindOf(err) != models.KindJSONParse {
			return Failed(err).withUsage(resp.Usage)
		}
		return Completed(Placeholder(err, resp.Content), elapsed).withUsage(resp.Usage).withWarning(err)
	}
	if parsed.RepairedBy != "" {
		slog.Info("Model output repaired.", "stage", stage, "step", parsed.RepairedBy)
	}
	return Completed(transform(parsed.Value), elapsed).withUsage(resp.Usage)
}

func withStage(err error, stage models.Stage) {
	var pe *models.ProcessingError
	if errors.As(err, &pe) && pe.Stage == "" {
		pe.Stage = stage
	}
}

// Placeholder is stored for a chunk whose output could not be parsed.
func Placeholder(err error, raw string) map[string]interface{} {
	return map[string]interface{}{
		"error":       err.Error(),
		"raw_preview": repair.Preview(raw),
	}
}

// IsPlaceholder reports whether v is a value produced by Placeholder.
func IsPlaceholder(v interface{}) bool {
	m, ok := v.(map[string]interface{})
	if !ok || len(m) != 2 {
		return false
	}
	_, hasErr := m["error"]
	_, hasPreview := m["raw_preview"]
	return hasErr && hasPreview
}
