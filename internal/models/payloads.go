package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Event is the inbound trigger for one document.
type Event struct {
	FileReference string `json:"fileReference"`
	Dataset       string `json:"dataset"`
}

// GCSEvent is the payload of a GCS object-finalized CloudEvent.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
	Size   string `json:"size"`
}

// ToEvent maps a GCS upload to a pipeline event. The dataset is the first path segment of the
// object name, so uploads are expected at "<dataset>/<file>".
func (e GCSEvent) ToEvent() (Event, error) {
	name := strings.TrimPrefix(e.Name, "/")
	dataset, rest, ok := strings.Cut(name, "/")
	if !ok || dataset == "" || rest == "" {
		return Event{}, fmt.Errorf("object %q is not under a dataset folder", e.Name)
	}
	return Event{
		FileReference: fmt.Sprintf("gs://%s/%s", e.Bucket, name),
		Dataset:       dataset,
	}, nil
}

// SizeBytes parses the string-encoded object size, returning 0 when absent.
func (e GCSEvent) SizeBytes() int64 {
	n, err := strconv.ParseInt(e.Size, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ConcurrencySettingsRequest is the body of a concurrency update.
type ConcurrencySettingsRequest struct {
	MaxConcurrent int `json:"maxConcurrent"`
}

// ConcurrencySettingsResponse reports the current concurrency bound.
type ConcurrencySettingsResponse struct {
	MaxConcurrent int `json:"maxConcurrent"`
	WorkerPool    int `json:"workerPool"`
}

// CompletionNotification is handed to the downstream workflow once a document is finalized.
type CompletionNotification struct {
	DocumentID string `json:"documentId"`
	Dataset    string `json:"dataset"`
	Status     string `json:"status"`
	ErrorCount int    `json:"errorCount"`
}
