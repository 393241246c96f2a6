package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/documentextraction/internal/chunker"
	"github.com/Lllllllleong/documentextraction/internal/llm"
	"github.com/Lllllllleong/documentextraction/internal/models"
	"github.com/Lllllllleong/documentextraction/internal/render"
	"github.com/Lllllllleong/documentextraction/internal/stages"
	"github.com/Lllllllleong/documentextraction/internal/store"
)

type fakeDatasets map[string]models.DatasetConfig

func (f fakeDatasets) GetDatasetConfig(_ context.Context, dataset string) (models.DatasetConfig, error) {
	cfg, ok := f[dataset]
	if !ok {
		return models.DatasetConfig{}, models.ConfigurationError(fmt.Sprintf("dataset %q not found", dataset), nil)
	}
	return cfg, nil
}

type fakeFetcher struct{}

func (fakeFetcher) Fetch(_ context.Context, ref, dest string) (int64, error) {
	data := []byte("%PDF-1.7 " + ref)
	if err := os.WriteFile(dest, data, 0o600); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

type fakeSplitter struct {
	pages int
}

func (fakeSplitter) Optimize(string, string) error { return nil }

func (f fakeSplitter) PageCount(string) (int, error) { return f.pages, nil }

func (f fakeSplitter) Split(_ context.Context, source string, plan chunker.Plan, pathFor chunker.PathFunc) ([]chunker.Chunk, error) {
	if plan.Single() {
		return []chunker.Chunk{{Index: 0, Key: chunker.SentinelKey, Range: plan.Ranges[0], Path: source}}, nil
	}
	var chunks []chunker.Chunk
	for i, r := range plan.Ranges {
		out, err := pathFor(r)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(out, []byte(r.Key()), 0o600); err != nil {
			return nil, err
		}
		chunks = append(chunks, chunker.Chunk{Index: i, Key: plan.Key(i), Range: r, Path: out})
	}
	return chunks, nil
}

type fakeOCR struct{}

func (fakeOCR) ExtractText(_ context.Context, path string) (string, error) {
	return "text of " + filepath.Base(path), nil
}

type slowOCR struct {
	delay time.Duration
}

// ExtractText ignores ctx on purpose.
func (s slowOCR) ExtractText(_ context.Context, path string) (string, error) {
	time.Sleep(s.delay)
	return "text of " + filepath.Base(path), nil
}

type fakeRenderer struct {
	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeRenderer) Render(_ context.Context, path string, outDir string, _ int) ([]render.PageImage, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[filepath.Base(path)]++
	f.mu.Unlock()

	data := []byte("png:" + filepath.Base(path))
	p := filepath.Join(outDir, "page_001.png")
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return nil, err
	}
	return []render.PageImage{{Page: 1, Path: p, MIMEType: "image/png", Size: int64(len(data))}}, nil
}

func (f *fakeRenderer) renderCalls() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.calls))
	for k, v := range f.calls {
		out[k] = v
	}
	return out
}

type routedModel struct {
	mu               sync.Mutex
	extractions      int
	failExtractionAt int
	block            bool
	requests         []llm.Request
}

func (m *routedModel) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	if m.block {
		<-ctx.Done()
		return llm.Completion{}, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	usage := models.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	switch req.System {
	case stages.ExtractionSystemPrompt:
		m.extractions++
		if m.extractions == m.failExtractionAt {
			return llm.Completion{}, errors.New("model unavailable")
		}
		return llm.Completion{Content: `{"vendor": "acme", "total": 12.5}`, FinishReason: llm.FinishStop, Usage: usage}, nil
	case stages.EvaluationSystemPrompt:
		return llm.Completion{Content: `{"vendor": 0.9, "total": 0.4}`, FinishReason: llm.FinishStop, Usage: usage}, nil
	case stages.SummarySystemPrompt:
		return llm.Completion{Content: `{"classification": "invoice", "summary": "An invoice from acme."}`, FinishReason: llm.FinishStop, Usage: usage}, nil
	}
	return llm.Completion{}, fmt.Errorf("unexpected system prompt %q", req.System)
}

func (m *routedModel) summaryPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range m.requests {
		if req.System == stages.SummarySystemPrompt {
			return req.Prompt
		}
	}
	return ""
}

type capturingNotifier struct {
	mu   sync.Mutex
	sent []models.CompletionNotification
}

func (c *capturingNotifier) Notify(_ context.Context, n models.CompletionNotification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

type harness struct {
	orch     *Orchestrator
	store    *store.Memory
	model    *routedModel
	renderer *fakeRenderer
	notifier *capturingNotifier
	tempDir  string
}

func newHarness(t *testing.T, pages int, opts models.ProcessingOptions, model *routedModel, timeout time.Duration) *harness {
	t.Helper()
	return newHarnessWithOCR(t, pages, opts, model, timeout, fakeOCR{})
}

func newHarnessWithOCR(t *testing.T, pages int, opts models.ProcessingOptions, model *routedModel, timeout time.Duration, ocr stages.OCRProvider) *harness {
	t.Helper()
	h := &harness{
		store:    store.NewMemory(),
		model:    model,
		renderer: &fakeRenderer{},
		notifier: &capturingNotifier{},
		tempDir:  t.TempDir(),
	}
	datasets := fakeDatasets{
		"invoices": {
			Prompt:           "Extract the invoice header.",
			Schema:           `{"type": "object"}`,
			MaxPagesPerChunk: 10,
			Options:          opts,
		},
	}
	runner := stages.NewRunner(ocr, model, h.renderer, stages.Config{})
	h.orch = New(Deps{
		Datasets: datasets,
		Store:    h.store,
		Fetcher:  fakeFetcher{},
		Splitter: fakeSplitter{pages: pages},
		Runner:   runner,
		Notifier: h.notifier,
	}, Options{DocumentTimeout: timeout, TempDir: h.tempDir})
	return h
}

func (h *harness) assertCleanedUp(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "run directory should be removed")
}

func TestProcess_MultiChunkDocument(t *testing.T) {
	h := newHarness(t, 25, models.DefaultProcessingOptions(), &routedModel{}, time.Minute)

	doc, err := h.orch.Process(context.Background(), "gs://bucket/invoices/acme.pdf", "invoices")
	require.NoError(t, err)

	assert.Equal(t, "bucket__invoices__acme.pdf", doc.ID)
	assert.Equal(t, 25, doc.Properties.PageCount)
	assert.NotEmpty(t, doc.Properties.FileHash)
	assert.NotEmpty(t, doc.RunID)

	for _, stage := range models.PipelineStages {
		assert.Equal(t, models.StatusCompleted, doc.State.Get(stage).Status, stage)
	}
	assert.Equal(t, models.StatusCompleted, doc.State.Processing.Status)
	assert.True(t, doc.State.ProcessingCompleted)
	assert.Empty(t, doc.Errors)

	extraction := doc.ExtractedData.GPTExtractionOutput
	require.Len(t, extraction, 3)
	assert.Contains(t, extraction, "pages_1-10")
	assert.Contains(t, extraction, "pages_11-20")
	assert.Contains(t, extraction, "pages_21-25")

	evaluated, ok := doc.ExtractedData.GPTExtractionOutputWithEvaluation["pages_11-20"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"value": "acme", "confidence": 0.9}, evaluated["vendor"])

	assert.Equal(t, "invoice", doc.ExtractedData.Classification)
	assert.Equal(t, "An invoice from acme.", doc.ExtractedData.Summary)
	assert.Contains(t, doc.ExtractedData.OCROutput, "text of chunk_pages_1-10.pdf")
	// 3 extractions, 3 evaluations, 1 summary
	assert.Equal(t, 7*15, doc.Usage.TotalTokens)
	assert.Equal(t, "Extract the invoice header.", doc.ModelInput.Prompt)

	stored, err := h.store.Read(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.State.Processing.Status)

	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, string(models.StatusCompleted), h.notifier.sent[0].Status)
	h.assertCleanedUp(t)
}

func TestProcess_SingleChunkUsesSentinelKey(t *testing.T) {
	h := newHarness(t, 4, models.DefaultProcessingOptions(), &routedModel{}, time.Minute)

	doc, err := h.orch.Process(context.Background(), "gs://bucket/invoices/short.pdf", "invoices")
	require.NoError(t, err)

	assert.Equal(t, []string{chunker.SentinelKey}, keys(doc.ExtractedData.GPTExtractionOutput))
	h.assertCleanedUp(t)
}

func TestProcess_OCRDisabled(t *testing.T) {
	opts := models.DefaultProcessingOptions()
	opts.IncludeOCR = false
	h := newHarness(t, 3, opts, &routedModel{}, time.Minute)

	doc, err := h.orch.Process(context.Background(), "gs://bucket/invoices/scan.pdf", "invoices")
	require.NoError(t, err)

	assert.Equal(t, models.StatusSkipped, doc.State.OCR.Status)
	assert.Equal(t, models.StatusCompleted, doc.State.Extraction.Status)
	assert.Equal(t, models.StatusCompleted, doc.State.Processing.Status)
	assert.Empty(t, doc.ExtractedData.OCROutput)
	// the summary falls back to the extraction results
	assert.Contains(t, h.model.summaryPrompt(), `"vendor":"acme"`)
	h.assertCleanedUp(t)
}

func TestProcess_OptionalStagesDisabled(t *testing.T) {
	opts := models.DefaultProcessingOptions()
	opts.EnableEvaluation = false
	opts.EnableSummary = false
	h := newHarness(t, 12, opts, &routedModel{}, time.Minute)

	doc, err := h.orch.Process(context.Background(), "gs://bucket/invoices/a.pdf", "invoices")
	require.NoError(t, err)

	assert.Equal(t, models.StatusSkipped, doc.State.Evaluation.Status)
	assert.Equal(t, models.StatusSkipped, doc.State.Summary.Status)
	assert.Equal(t, models.StatusCompleted, doc.State.Processing.Status)
	assert.Empty(t, doc.ExtractedData.GPTExtractionOutputWithEvaluation)
	assert.Empty(t, doc.ExtractedData.Summary)
}

func TestProcess_ChunkFailureKeepsPartialResults(t *testing.T) {
	h := newHarness(t, 25, models.DefaultProcessingOptions(), &routedModel{failExtractionAt: 2}, time.Minute)

	doc, err := h.orch.Process(context.Background(), "gs://bucket/invoices/broken.pdf", "invoices")
	require.Error(t, err)

	assert.Equal(t, models.StatusFailed, doc.State.Extraction.Status)
	assert.Equal(t, models.StatusFailed, doc.State.Processing.Status)
	assert.False(t, doc.State.ProcessingCompleted)
	assert.Equal(t, models.StatusNotStarted, doc.State.Summary.Status)

	assert.Equal(t, []string{"pages_1-10"}, keys(doc.ExtractedData.GPTExtractionOutput))
	require.Len(t, doc.Errors, 1)
	assert.Equal(t, models.KindStage, doc.Errors[0].Kind)
	assert.Equal(t, models.StageExtraction, doc.Errors[0].Stage)

	stored, err := h.store.Read(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.State.Processing.Status)
	assert.Len(t, stored.ExtractedData.GPTExtractionOutput, 1)

	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, string(models.StatusFailed), h.notifier.sent[0].Status)
	h.assertCleanedUp(t)
}

func TestProcess_Timeout(t *testing.T) {
	h := newHarness(t, 5, models.DefaultProcessingOptions(), &routedModel{block: true}, 50*time.Millisecond)

	start := time.Now()
	doc, err := h.orch.Process(context.Background(), "gs://bucket/invoices/slow.pdf", "invoices")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, models.KindTimeout, models.KindOf(err))
	assert.Equal(t, models.StatusFailed, doc.State.Processing.Status)
	require.NotEmpty(t, doc.Errors)
	assert.Equal(t, models.KindTimeout, doc.Errors[len(doc.Errors)-1].Kind)

	stored, err := h.store.Read(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.State.Processing.Status)
	h.assertCleanedUp(t)
}

func TestProcess_TimeoutWithCollaboratorIgnoringContext(t *testing.T) {
	h := newHarnessWithOCR(t, 25, models.DefaultProcessingOptions(), &routedModel{}, 20*time.Millisecond, slowOCR{delay: 60 * time.Millisecond})

	doc, err := h.orch.Process(context.Background(), "gs://bucket/invoices/slow-ocr.pdf", "invoices")
	require.Error(t, err)
	assert.Equal(t, models.KindTimeout, models.KindOf(err))

	assert.Equal(t, models.StatusFailed, doc.State.Processing.Status)
	assert.False(t, doc.State.ProcessingCompleted)
	assert.Equal(t, models.StatusNotStarted, doc.State.Summary.Status)
	require.NotEmpty(t, doc.Errors)
	assert.Equal(t, models.KindTimeout, doc.Errors[len(doc.Errors)-1].Kind)
	// the first chunk finished before the budget was checked again
	assert.Equal(t, []string{"pages_1-10"}, keys(doc.ExtractedData.GPTExtractionOutput))

	stored, err := h.store.Read(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.State.Processing.Status)
	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, string(models.StatusFailed), h.notifier.sent[0].Status)
	h.assertCleanedUp(t)
}

func TestProcess_EvaluationReusesExtractionImages(t *testing.T) {
	h := newHarness(t, 25, models.DefaultProcessingOptions(), &routedModel{}, time.Minute)

	_, err := h.orch.Process(context.Background(), "gs://bucket/invoices/acme.pdf", "invoices")
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		"chunk_pages_1-10.pdf":  1,
		"chunk_pages_11-20.pdf": 1,
		"chunk_pages_21-25.pdf": 1,
	}, h.renderer.renderCalls())

	var extractions, evaluations [][]llm.Image
	for _, req := range h.model.requests {
		switch req.System {
		case stages.ExtractionSystemPrompt:
			extractions = append(extractions, req.Images)
		case stages.EvaluationSystemPrompt:
			evaluations = append(evaluations, req.Images)
		}
	}
	require.Len(t, extractions, 3)
	require.Len(t, evaluations, 3)
	for i := range extractions {
		require.Len(t, extractions[i], 1)
		assert.Equal(t, extractions[i], evaluations[i], "chunk %d", i)
	}
	assert.Equal(t, []byte("png:chunk_pages_11-20.pdf"), evaluations[1][0].Data)
}

func TestProcess_UnknownDataset(t *testing.T) {
	h := newHarness(t, 5, models.DefaultProcessingOptions(), &routedModel{}, time.Minute)

	doc, err := h.orch.Process(context.Background(), "gs://bucket/receipts/a.pdf", "receipts")
	require.Error(t, err)
	assert.Equal(t, models.KindConfiguration, models.KindOf(err))

	assert.True(t, doc.State.FileLanded)
	assert.Equal(t, models.StatusFailed, doc.State.Processing.Status)
	for _, stage := range models.PipelineStages {
		assert.Equal(t, models.StatusNotStarted, doc.State.Get(stage).Status, stage)
	}
	require.Len(t, doc.Errors, 1)
	assert.Equal(t, models.KindConfiguration, doc.Errors[0].Kind)
	assert.Empty(t, h.model.requests)
	h.assertCleanedUp(t)
}

func TestHandle(t *testing.T) {
	h := newHarness(t, 1, models.DefaultProcessingOptions(), &routedModel{}, time.Minute)

	err := h.orch.Handle(context.Background(), models.Event{FileReference: "invoices/local.pdf", Dataset: "invoices"})
	require.NoError(t, err)

	stored, err := h.store.Read(context.Background(), "invoices__local.pdf")
	require.NoError(t, err)
	assert.True(t, stored.State.ProcessingCompleted)
	assert.True(t, strings.HasPrefix(stored.ExtractedData.OCROutput, "text of source"))
}

func keys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
