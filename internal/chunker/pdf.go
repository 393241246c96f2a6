package chunker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Chunk is one unit of work: a page range and the file holding those pages.
type Chunk struct {
	Index int
	Key   string
	Range Range
	Path  string
}

// PathFunc allocates the output path for a chunk sub-document.
type PathFunc func(r Range) (string, error)

// PDFSplitter writes chunk sub-documents with pdfcpu.
type PDFSplitter struct {
	conf *model.Configuration
}

// NewPDFSplitter creates a splitter that validates input in relaxed mode.
func NewPDFSplitter() *PDFSplitter {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return &PDFSplitter{conf: cfg}
}

// PageCount returns the number of pages in the PDF at path.
func (s *PDFSplitter) PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return n, nil
}

// Optimize validates the PDF at in and writes an optimized copy to out.
func (s *PDFSplitter) Optimize(in, out string) error {
	if err := api.OptimizeFile(in, out, s.conf); err != nil {
		return fmt.Errorf("failed to validate/optimize PDF: %w", err)
	}
	return nil
}

// Split materializes plan against the PDF at source. A single-chunk plan reuses source directly;
// otherwise each range is trimmed into its own file at the path returned by pathFor.
// Chunks are returned in page order.
func (s *PDFSplitter) Split(ctx context.Context, source string, plan Plan, pathFor PathFunc) ([]Chunk, error) {
	if plan.Single() {
		return []Chunk{{Index: 0, Key: SentinelKey, Range: plan.Ranges[0], Path: source}}, nil
	}

	chunks := make([]Chunk, 0, len(plan.Ranges))
	for i, r := range plan.Ranges {
		if err := ctx.Err(); err != nil {
			return chunks, err
		}
		out, err := pathFor(r)
		if err != nil {
			return chunks, fmt.Errorf("failed to allocate chunk file for %s: %w", r.Key(), err)
		}
		if err := api.TrimFile(source, out, []string{r.Selection()}, s.conf); err != nil {
			return chunks, fmt.Errorf("failed to write chunk %s: %w", r.Key(), err)
		}
		chunks = append(chunks, Chunk{Index: i, Key: plan.Key(i), Range: r, Path: out})
	}
	slog.Debug("PDF split into chunks.", "chunkCount", len(chunks), "pageCount", plan.PageCount)
	return chunks, nil
}
