// Package aggregate combines per-chunk stage outputs into the document record.
package aggregate

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Lllllllleong/documentextraction/internal/chunker"
	"github.com/Lllllllleong/documentextraction/internal/models"
)

type part struct {
	start int
	key   string
	value interface{}
}

// Aggregator collects chunk results keyed by page range. Results are never deep-merged; each
// chunk keeps its own entry so output can be traced back to its pages.
type Aggregator struct {
	mu         sync.Mutex
	ocr        []part
	extraction []part
	evaluation []part
}

// New creates an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// AddOCR records the OCR text of a chunk.
func (a *Aggregator) AddOCR(c chunker.Chunk, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ocr = upsert(a.ocr, part{start: c.Range.Start, key: c.Key, value: text})
}

// AddExtraction records the extraction result of a chunk.
func (a *Aggregator) AddExtraction(c chunker.Chunk, v interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.extraction = upsert(a.extraction, part{start: c.Range.Start, key: c.Key, value: v})
}

// AddEvaluation records the evaluated (confidence annotated) result of a chunk.
func (a *Aggregator) AddEvaluation(c chunker.Chunk, v interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.evaluation = upsert(a.evaluation, part{start: c.Range.Start, key: c.Key, value: v})
}

// Extraction returns the recorded extraction for key.
func (a *Aggregator) Extraction(key string) (interface{}, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.extraction {
		if p.key == key {
			return p.value, true
		}
	}
	return nil, false
}

// OCRText concatenates chunk OCR text in page order, newline separated.
func (a *Aggregator) OCRText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	texts := make([]string, 0, len(a.ocr))
	for _, p := range a.ocr {
		if s, _ := p.value.(string); s != "" {
			texts = append(texts, s)
		}
	}
	return strings.Join(texts, "\n")
}

// ExtractionText renders the extraction results as JSON text in page order, one chunk per line.
// It stands in for OCR text when summarizing a document processed without OCR.
func (a *Aggregator) ExtractionText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	lines := make([]string, 0, len(a.extraction))
	for _, p := range a.extraction {
		b, err := json.Marshal(p.value)
		if err != nil {
			continue
		}
		lines = append(lines, string(b))
	}
	return strings.Join(lines, "\n")
}

// Keys returns the page-range keys with extraction results, in page order.
func (a *Aggregator) Keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.extraction))
	for _, p := range a.extraction {
		keys = append(keys, p.key)
	}
	return keys
}

// Apply writes the aggregated outputs into doc's extracted data. Partial results from chunks that
// finished before a failure are kept.
func (a *Aggregator) Apply(doc *models.Document) {
	doc.ExtractedData.OCROutput = a.OCRText()

	a.mu.Lock()
	defer a.mu.Unlock()
	doc.ExtractedData.GPTExtractionOutput = toMap(a.extraction)
	doc.ExtractedData.GPTExtractionOutputWithEvaluation = toMap(a.evaluation)
}

func toMap(parts []part) map[string]interface{} {
	out := make(map[string]interface{}, len(parts))
	for _, p := range parts {
		out[p.key] = p.value
	}
	return out
}

// upsert keeps parts sorted by start page and replaces an existing entry for the same key.
func upsert(parts []part, p part) []part {
	for i := range parts {
		if parts[i].key == p.key {
			parts[i] = p
			return parts
		}
	}
	parts = append(parts, p)
	sort.SliceStable(parts, func(i, j int) bool { return parts[i].start < parts[j].start })
	return parts
}

// SortedKeys orders page-range keys ("pages_11-20", "pages_1-10", ...) by their first page.
// Keys that do not carry a page range sort first, in lexical order.
func SortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		si, sj := startPage(keys[i]), startPage(keys[j])
		if si != sj {
			return si < sj
		}
		return keys[i] < keys[j]
	})
	return keys
}

func startPage(key string) int {
	rest, ok := strings.CutPrefix(key, "pages_")
	if !ok {
		return 0
	}
	first, _, _ := strings.Cut(rest, "-")
	n, err := strconv.Atoi(first)
	if err != nil {
		return 0
	}
	return n
}
