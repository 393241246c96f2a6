// Command process-local runs the document pipeline over local files or gs:// references.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/documentextraction/internal/app"
	"github.com/Lllllllleong/documentextraction/internal/config"
	"github.com/Lllllllleong/documentextraction/internal/gcp"
	"github.com/Lllllllleong/documentextraction/internal/models"
)

var (
	envFile       string
	dataset       string
	maxConcurrent int
	printRecords  bool
)

var rootCmd = &cobra.Command{
	Use:   "process-local [files...]",
	Short: "Process documents through OCR, extraction, evaluation and summary",
	Long: `process-local runs the full document pipeline for every file given, at most
--max-concurrent at a time, and records the results in the configured store.
Without --dataset the dataset is the name of each file's parent directory.`,
	Args: cobra.MinimumNArgs(1),
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading configuration")
	rootCmd.Flags().StringVarP(&dataset, "dataset", "d", "", "dataset configuration to apply to every file")
	rootCmd.Flags().IntVarP(&maxConcurrent, "max-concurrent", "n", 0, "override MAX_CONCURRENT_DOCUMENTS")
	rootCmd.Flags().BoolVar(&printRecords, "print", false, "print the final document records as JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	slog.SetDefault(gcp.NewLogger(gcp.GetEnv("APP_ENV", "dev")))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if maxConcurrent > 0 {
		if err := a.Dispatcher.Runtime().Resize(maxConcurrent); err != nil {
			return err
		}
	}

	events := make(chan models.Event)
	go func() {
		defer close(events)
		for _, ref := range args {
			ev := models.Event{FileReference: ref, Dataset: datasetFor(ref)}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	if err := a.Dispatcher.Run(ctx, events); err != nil {
		return err
	}

	return report(ctx, a, args)
}

func datasetFor(ref string) string {
	if dataset != "" {
		return dataset
	}
	return filepath.Base(filepath.Dir(ref))
}

func report(ctx context.Context, a *app.App, refs []string) error {
	failed := 0
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, ref := range refs {
		doc, err := a.Store.Read(ctx, models.DocumentID(ref))
		if err != nil {
			slog.Error("Could not read document record.", "fileReference", ref, "error", err)
			failed++
			continue
		}
		if !doc.State.ProcessingCompleted {
			failed++
		}
		slog.Info("Document result.", "documentId", doc.ID, "status", doc.State.Processing.Status, "errors", len(doc.Errors))
		if printRecords {
			if err := enc.Encode(doc); err != nil {
				return err
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents did not complete", failed, len(refs))
	}
	return nil
}
