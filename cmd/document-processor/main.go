package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/documentextraction/internal/app"
	"github.com/Lllllllleong/documentextraction/internal/config"
	"github.com/Lllllllleong/documentextraction/internal/gcp"
	"github.com/Lllllllleong/documentextraction/internal/models"
)

var (
	processor *app.App
	once      sync.Once
	initErr   error
)

func init() {
	slog.SetDefault(gcp.NewLogger(gcp.GetEnv("APP_ENV", "prod")))

	functions.CloudEvent("ProcessDocument", processDocument)
	functions.HTTP("ConcurrencySettings", concurrencySettings)
}

// main is required by the Go Functions Framework.
func main() {}

func initProcessor() error {
	once.Do(func() {
		var cfg config.Config
		cfg, initErr = config.Load()
		if initErr != nil {
			return
		}
		processor, initErr = app.New(context.Background(), cfg)
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
	}
	return initErr
}

// processDocument runs the pipeline for an uploaded object. The invocation returns once the
// document has been finalized.
func processDocument(ctx context.Context, e cloudevents.Event) error {
	if err := initProcessor(); err != nil {
		return err
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	ev, err := gcsEvent.ToEvent()
	if err != nil {
		// not retryable, so acknowledge the event
		slog.Warn("Ignoring upload outside a dataset folder.", "bucket", gcsEvent.Bucket, "name", gcsEvent.Name, "error", err)
		return nil
	}

	// the error is already logged and recorded on the document
	return processor.Dispatcher.Dispatch(ctx, ev)
}

// concurrencySettings reports (GET) or changes (POST) the concurrent-document bound.
func concurrencySettings(w http.ResponseWriter, r *http.Request) {
	if err := initProcessor(); err != nil {
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	rt := processor.Dispatcher.Runtime()

	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req models.ConcurrencySettingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Warn("Could not decode request body", "error", err)
			http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
			return
		}
		if err := rt.Resize(req.MaxConcurrent); err != nil {
			http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
			return
		}
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	res := models.ConcurrencySettingsResponse{MaxConcurrent: rt.Limit(), WorkerPool: rt.PoolSize()}
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
