// Package app wires the processor's collaborators from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/documentextraction/internal/chunker"
	"github.com/Lllllllleong/documentextraction/internal/config"
	"github.com/Lllllllleong/documentextraction/internal/datasets"
	"github.com/Lllllllleong/documentextraction/internal/gcp"
	"github.com/Lllllllleong/documentextraction/internal/governor"
	"github.com/Lllllllleong/documentextraction/internal/llm"
	"github.com/Lllllllleong/documentextraction/internal/notify"
	"github.com/Lllllllleong/documentextraction/internal/ocr"
	"github.com/Lllllllleong/documentextraction/internal/pipeline"
	"github.com/Lllllllleong/documentextraction/internal/render"
	"github.com/Lllllllleong/documentextraction/internal/source"
	"github.com/Lllllllleong/documentextraction/internal/stages"
	"github.com/Lllllllleong/documentextraction/internal/state"
	"github.com/Lllllllleong/documentextraction/internal/store"
)

// App is a fully wired processor.
type App struct {
	Config       config.Config
	Orchestrator *pipeline.Orchestrator
	Dispatcher   *governor.Dispatcher
	Store        state.Store

	closers []func() error
}

// New builds an App from cfg. Google Cloud clients are only created when a project is configured;
// otherwise records are kept in memory and datasets come from DATASETS_FILE.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var (
		fsClient      *firestore.Client
		storageClient *storage.Client
		err           error
	)
	if cfg.UseFirestore() {
		fsClient, err = gcp.NewFirestoreClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, fsClient.Close)

		storageClient, err = gcp.NewStorageClient(ctx)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, storageClient.Close)
	}

	datasetProvider, err := newDatasets(cfg, fsClient)
	if err != nil {
		return nil, err
	}

	if fsClient != nil {
		a.Store = store.NewFirestore(fsClient, cfg.FirestoreCollection)
	} else {
		slog.Warn("No PROJECT_ID set, document records are kept in memory.")
		a.Store = store.NewMemory()
	}

	fetcher := source.Router{Local: source.Local{}}
	if storageClient != nil {
		fetcher.GCS = source.NewGCS(storageClient)
	}

	model, err := a.newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	notifier, err := a.newNotifier(ctx, cfg)
	if err != nil {
		return nil, err
	}

	renderer := render.NewRenderer(cfg.ImageDPI)
	runner := stages.NewRunner(
		ocr.NewTesseract(renderer, cfg.OCRLanguages, cfg.ImageDPI),
		llm.NewRateLimited(model, cfg.LLMRequestsPerSecond, 1),
		renderer,
		stages.Config{MaxImagesPerChunk: cfg.MaxImagesPerChunk, MaxImageBytes: cfg.MaxImageBytes},
	)

	a.Orchestrator = pipeline.New(pipeline.Deps{
		Datasets: datasetProvider,
		Store:    a.Store,
		Fetcher:  fetcher,
		Splitter: chunker.NewPDFSplitter(),
		Runner:   runner,
		Notifier: notifier,
	}, pipeline.Options{DocumentTimeout: cfg.DocumentTimeout})

	rt, err := governor.NewRuntime(cfg.MaxConcurrentDocuments, cfg.WorkerPoolSize)
	if err != nil {
		return nil, err
	}
	a.Dispatcher = governor.NewDispatcher(rt, a.Orchestrator.Handle)

	slog.Info("Processor initialized.",
		"llmProvider", cfg.LLMProvider,
		"llmModel", cfg.LLMModel,
		"maxConcurrent", rt.Limit(),
		"workerPool", rt.PoolSize(),
		"documentTimeout", cfg.DocumentTimeout.String(),
	)
	ok = true
	return a, nil
}

func newDatasets(cfg config.Config, fsClient *firestore.Client) (datasets.Provider, error) {
	if cfg.DatasetsFile != "" {
		return datasets.LoadFile(cfg.DatasetsFile)
	}
	if fsClient != nil {
		return datasets.NewFirestore(fsClient, cfg.DatasetsCollection, datasets.DefaultCacheTTL), nil
	}
	return nil, errors.New("either DATASETS_FILE or PROJECT_ID must be set to resolve dataset configurations")
}

func (a *App) newProvider(ctx context.Context, cfg config.Config) (llm.Provider, error) {
	switch cfg.LLMProvider {
	case "vertex":
		p, err := llm.NewVertexProvider(ctx, cfg.ProjectID, cfg.VertexRegion, cfg.LLMModel, cfg.LLMMaxOutputTokens)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		return p, nil
	case "openai":
		return llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.LLMModel, cfg.LLMMaxOutputTokens)
	case "ollama":
		return llm.NewOllamaProvider(cfg.OllamaBaseURL, cfg.LLMModel, cfg.LLMMaxOutputTokens)
	}
	return nil, fmt.Errorf("unsupported LLM provider %q", cfg.LLMProvider)
}

func (a *App) newNotifier(ctx context.Context, cfg config.Config) (notify.Notifier, error) {
	if cfg.WorkflowID == "" || cfg.ProjectID == "" {
		return notify.Nop{}, nil
	}
	client, err := gcp.NewExecutionsClient(ctx)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return notify.NewWorkflow(client, cfg.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID), nil
}

// Close waits for in-flight workers and releases every client.
func (a *App) Close() error {
	var errs []error
	if a.Dispatcher != nil {
		a.Dispatcher.Wait()
		errs = append(errs, a.Dispatcher.Runtime().Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
