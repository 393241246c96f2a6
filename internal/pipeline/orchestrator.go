// Package pipeline composes chunking, stages, aggregation and state tracking into the processing
// of one document.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/documentextraction/internal/aggregate"
	"github.com/Lllllllleong/documentextraction/internal/chunker"
	"github.com/Lllllllleong/documentextraction/internal/datasets"
	"github.com/Lllllllleong/documentextraction/internal/models"
	"github.com/Lllllllleong/documentextraction/internal/notify"
	"github.com/Lllllllleong/documentextraction/internal/render"
	"github.com/Lllllllleong/documentextraction/internal/resources"
	"github.com/Lllllllleong/documentextraction/internal/source"
	"github.com/Lllllllleong/documentextraction/internal/stages"
	"github.com/Lllllllleong/documentextraction/internal/state"
)

// Splitter counts and splits source PDFs.
type Splitter interface {
	Optimize(in, out string) error
	PageCount(path string) (int, error)
	Split(ctx context.Context, source string, plan chunker.Plan, pathFor chunker.PathFunc) ([]chunker.Chunk, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Datasets datasets.Provider
	Store    state.Store
	Fetcher  source.Fetcher
	Splitter Splitter
	Runner   *stages.Runner
	// Notifier is optional.
	Notifier notify.Notifier
}

// Options tune a run.
type Options struct {
	DocumentTimeout time.Duration
	// TempDir is the parent of per-run directories; empty means the system temp dir.
	TempDir string
}

// Orchestrator runs the full pipeline for one document at a time. It is safe for concurrent use
// across different documents.
type Orchestrator struct {
	deps  Deps
	opts  Options
	newID func() string
	now   func() time.Time
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if opts.DocumentTimeout <= 0 {
		opts.DocumentTimeout = 15 * time.Minute
	}
	return &Orchestrator{
		deps:  deps,
		opts:  opts,
		newID: uuid.NewString,
		now:   time.Now,
	}
}

// Handle adapts Process to an inbound event.
func (o *Orchestrator) Handle(ctx context.Context, ev models.Event) error {
	_, err := o.Process(ctx, ev.FileReference, ev.Dataset)
	return err
}

// run is the state of one Process call.
type run struct {
	o       *Orchestrator
	logCtx  *slog.Logger
	machine *state.Machine
	doc     *models.Document
	// storeCtx outlives the document deadline so a timed-out run can still persist its failure.
	storeCtx context.Context
	res      *resources.Manager
	agg      *aggregate.Aggregator
	elapsed  map[models.Stage]time.Duration
}

// Process runs every stage for the file at fileReference under dataset's configuration and
// returns the final record. A non-nil error means the document failed; the record then carries
// the error list and any partial results.
func (o *Orchestrator) Process(ctx context.Context, fileReference, dataset string) (doc *models.Document, err error) {
	start := o.now()
	doc = models.NewDocument(fileReference, dataset, start)
	doc.RunID = o.newID()
	logCtx := slog.With("documentId", doc.ID, "dataset", dataset, "runId", doc.RunID)
	logCtx.Info("Processing new document.", "fileReference", fileReference)

	r := &run{
		o:        o,
		logCtx:   logCtx,
		machine:  state.NewMachine(o.deps.Store, doc, logCtx),
		doc:      doc,
		storeCtx: context.WithoutCancel(ctx),
		agg:      aggregate.New(),
		elapsed:  make(map[models.Stage]time.Duration),
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.DocumentTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = r.fail(ctx, models.StageProcessing, models.StageError(models.StageProcessing, "unexpected panic", fmt.Errorf("%v", p)))
		}
		r.finalize(start)
	}()

	return doc, r.execute(ctx)
}

func (r *run) execute(ctx context.Context) error {
	if err := r.machine.Persist(r.storeCtx); err != nil {
		r.logCtx.Warn("Initial record not persisted, continuing.", "error", err)
	}

	cfg, err := r.o.deps.Datasets.GetDatasetConfig(ctx, r.doc.Dataset)
	if err != nil {
		if models.KindOf(err) != models.KindConfiguration {
			err = models.ConfigurationError(fmt.Sprintf("failed to resolve dataset %q", r.doc.Dataset), err)
		}
		return r.fail(ctx, models.StageProcessing, err)
	}
	r.doc.ModelInput = models.ModelInput{Prompt: cfg.Prompt, Schema: cfg.Schema, MaxPagesPerChunk: cfg.MaxPagesPerChunk}
	r.doc.ProcessingOptions = cfg.Options
	opts := cfg.Options

	res, err := resources.NewManagerIn(r.o.opts.TempDir, r.logCtx)
	if err != nil {
		return r.fail(ctx, models.StageProcessing, models.StageError(models.StageProcessing, "failed to prepare working directory", err))
	}
	r.res = res
	defer res.Cleanup()

	chunks, err := r.prepare(ctx, cfg)
	if err != nil {
		return r.fail(ctx, models.StageProcessing, err)
	}

	for _, stage := range []models.Stage{models.StageOCR, models.StageEvaluation, models.StageSummary} {
		if !opts.StageEnabled(stage) {
			if err := r.machine.Skip(r.storeCtx, stage); err != nil && errors.Is(err, state.ErrInvalidTransition) {
				return r.fail(ctx, models.StageProcessing, err)
			}
		}
	}

	var cache chunkCache
	for _, c := range chunks {
		if err := r.checkDeadline(ctx); err != nil {
			return err
		}
		if err := r.processChunk(ctx, c, cfg, &cache); err != nil {
			return err
		}
	}
	if err := r.checkDeadline(ctx); err != nil {
		return err
	}

	for _, stage := range []models.Stage{models.StageOCR, models.StageExtraction, models.StageEvaluation} {
		if opts.StageEnabled(stage) {
			r.complete(stage)
		}
	}

	if opts.EnableSummary {
		if err := r.summarize(ctx, opts); err != nil {
			return err
		}
	}
	return r.checkDeadline(ctx)
}

// checkDeadline fails the document once ctx is done, so collaborators that ignore ctx cannot
// finish a run that has exceeded its budget.
func (r *run) checkDeadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return r.fail(ctx, models.StageProcessing, models.StageError(models.StageProcessing, "document processing interrupted", err))
	}
	return nil
}

// prepare copies the source locally, plans the chunks and writes the chunk sub-documents.
func (r *run) prepare(ctx context.Context, cfg models.DatasetConfig) ([]chunker.Chunk, error) {
	ref := r.doc.Properties.BlobName
	src := r.res.SourcePath(source.Ext(ref))
	size, err := r.o.deps.Fetcher.Fetch(ctx, ref, src)
	if err != nil {
		return nil, models.StageError(models.StageProcessing, "failed to download source file", err)
	}
	r.doc.Properties.BlobSize = size
	if hash, err := source.FileHash(src); err == nil {
		r.doc.Properties.FileHash = hash
	}

	if render.IsImage(src) {
		r.doc.Properties.PageCount = 1
		plan := chunker.NewPlan(1, cfg.MaxPagesPerChunk)
		r.persist()
		return []chunker.Chunk{{Index: 0, Key: chunker.SentinelKey, Range: plan.Ranges[0], Path: src}}, nil
	}

	if err := r.o.deps.Splitter.Optimize(src, src); err != nil {
		r.logCtx.Warn("PDF optimization failed, using the original file.", "error", err)
	}
	pageCount, err := r.o.deps.Splitter.PageCount(src)
	if err != nil {
		return nil, models.StageError(models.StageProcessing, "failed to count pages", err)
	}
	plan := chunker.NewPlan(pageCount, cfg.MaxPagesPerChunk)
	r.doc.Properties.PageCount = pageCount
	r.persist()

	chunks, err := r.o.deps.Splitter.Split(ctx, src, plan, func(rg chunker.Range) (string, error) {
		return r.res.ChunkPath(rg.Key())
	})
	if err != nil {
		return nil, models.StageError(models.StageProcessing, "failed to split document", err)
	}
	r.logCtx.Info("Document chunked.", "pageCount", pageCount, "chunkCount", len(chunks))
	return chunks, nil
}

// chunkCache holds the images of the chunk in flight so Evaluation reuses what Extraction rendered.
type chunkCache struct {
	key    string
	images *stages.ImageSet
}

func (r *run) processChunk(ctx context.Context, c chunker.Chunk, cfg models.DatasetConfig, cache *chunkCache) error {
	opts := cfg.Options
	logCtx := r.logCtx.With("chunk", c.Key)
	logCtx.Info("Processing chunk.", "startPage", c.Range.Start, "endPage", c.Range.End)

	ocr := r.o.deps.Runner.OCR(ctx, c, opts)
	if ocr.IsFailed() {
		return r.fail(ctx, models.StageOCR, ocr.Err)
	}
	if ocr.IsCompleted() {
		r.agg.AddOCR(c, ocr.Text())
		r.elapsed[models.StageOCR] += ocr.Elapsed
	}

	*cache = chunkCache{key: c.Key}
	if opts.IncludeImages {
		dir, err := r.res.ImageDir(c.Key)
		if err != nil {
			return r.fail(ctx, models.StageExtraction, models.StageError(models.StageExtraction, "failed to create image directory", err))
		}
		img := r.o.deps.Runner.PrepareImages(ctx, c, dir, opts)
		if img.IsFailed() {
			return r.fail(ctx, models.StageExtraction, img.Err)
		}
		cache.images, _ = img.Value.(*stages.ImageSet)
		r.elapsed[models.StageExtraction] += img.Elapsed
	}

	ext := r.o.deps.Runner.Extract(ctx, stages.ExtractionInput{
		Chunk:   c,
		OCRText: ocr.Text(),
		Images:  cache.images,
		Prompt:  cfg.Prompt,
		Schema:  cfg.Schema,
	})
	r.doc.Usage.Add(ext.Usage)
	if ext.IsFailed() {
		return r.fail(ctx, models.StageExtraction, ext.Err)
	}
	r.elapsed[models.StageExtraction] += ext.Elapsed
	if ext.Warning != nil {
		r.recordWarning(models.StageExtraction, ext.Warning)
	}
	r.agg.AddExtraction(c, ext.Value)

	eval := r.o.deps.Runner.Evaluate(ctx, stages.EvaluationInput{
		Chunk:      c,
		Images:     cache.images,
		Extraction: ext.Value,
		Schema:     cfg.Schema,
	}, opts)
	r.doc.Usage.Add(eval.Usage)
	if eval.IsFailed() {
		return r.fail(ctx, models.StageEvaluation, eval.Err)
	}
	if eval.IsCompleted() {
		r.elapsed[models.StageEvaluation] += eval.Elapsed
		if eval.Warning != nil {
			r.recordWarning(models.StageEvaluation, eval.Warning)
		}
		r.agg.AddEvaluation(c, eval.Value)
	}

	r.agg.Apply(r.doc)
	r.persist()
	return nil
}

func (r *run) summarize(ctx context.Context, opts models.ProcessingOptions) error {
	text := r.agg.OCRText()
	if !opts.IncludeOCR || text == "" {
		text = r.agg.ExtractionText()
	}
	sum := r.o.deps.Runner.Summarize(ctx, text, opts)
	r.doc.Usage.Add(sum.Usage)
	if sum.IsFailed() {
		return r.fail(ctx, models.StageSummary, sum.Err)
	}
	if s, ok := sum.Value.(stages.Summary); ok {
		r.doc.ExtractedData.Classification = s.Classification
		r.doc.ExtractedData.Summary = s.Summary
	}
	if sum.Warning != nil {
		r.recordWarning(models.StageSummary, sum.Warning)
	}
	r.elapsed[models.StageSummary] += sum.Elapsed
	r.complete(models.StageSummary)
	return nil
}

func (r *run) complete(stage models.Stage) {
	if err := r.machine.Complete(r.storeCtx, stage, r.elapsed[stage]); err != nil && errors.Is(err, state.ErrInvalidTransition) {
		r.logCtx.Error("Stage could not be completed.", "stage", stage, "error", err)
	}
}

// fail records err against stage and returns it. A run that ran out of time is reported as a
// timeout regardless of which call noticed it.
func (r *run) fail(ctx context.Context, stage models.Stage, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && models.KindOf(err) != models.KindTimeout {
		err = models.TimeoutError(fmt.Sprintf("document exceeded its processing budget of %s", r.o.opts.DocumentTimeout), err)
	}
	r.agg.Apply(r.doc)
	if ferr := r.machine.Fail(r.storeCtx, stage, err); ferr != nil && errors.Is(ferr, state.ErrInvalidTransition) {
		// the stage already reached a terminal state; fail the document as a whole
		_ = r.machine.Fail(r.storeCtx, models.StageProcessing, err)
	}
	return err
}

func (r *run) recordWarning(stage models.Stage, err error) {
	_ = r.machine.RecordError(r.storeCtx, stage, err)
}

func (r *run) persist() {
	_ = r.machine.Persist(r.storeCtx)
}

// finalize sets the overall state and hands the document off.
func (r *run) finalize(start time.Time) {
	r.agg.Apply(r.doc)
	_ = r.machine.Finish(r.storeCtx, r.o.now().Sub(start))

	status := string(r.doc.State.Processing.Status)
	r.logCtx.Info("Document finalized.", "status", status, "errorCount", len(r.doc.Errors), "totalTokens", r.doc.Usage.TotalTokens)

	n := models.CompletionNotification{
		DocumentID: r.doc.ID,
		Dataset:    r.doc.Dataset,
		Status:     status,
		ErrorCount: len(r.doc.Errors),
	}
	if err := r.o.deps.Notifier.Notify(r.storeCtx, n); err != nil {
		r.logCtx.Warn("Completion hand-off failed.", "error", err)
	}
}
