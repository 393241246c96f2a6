// Package datasets resolves the extraction configuration of a dataset.
package datasets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Lllllllleong/documentextraction/internal/models"
)

// Provider returns the configuration for a dataset. A missing or unusable configuration is a
// configuration_error.
type Provider interface {
	GetDatasetConfig(ctx context.Context, dataset string) (models.DatasetConfig, error)
}

// record is the stored shape of a dataset configuration, shared by Firestore and YAML.
type record struct {
	Prompt            string                        `firestore:"prompt" yaml:"prompt"`
	Schema            interface{}                   `firestore:"schema" yaml:"schema"`
	MaxPagesPerChunk  int                           `firestore:"max_pages_per_chunk" yaml:"max_pages_per_chunk"`
	ProcessingOptions models.ProcessingOptionsInput `firestore:"processing_options" yaml:"processing_options"`
}

func (r record) toConfig(dataset string) (models.DatasetConfig, error) {
	schema, err := schemaText(r.Schema)
	if err != nil {
		return models.DatasetConfig{}, models.ConfigurationError(fmt.Sprintf("dataset %q has an invalid schema", dataset), err)
	}
	if schema == "" {
		return models.DatasetConfig{}, models.ConfigurationError(fmt.Sprintf("dataset %q has no schema", dataset), nil)
	}
	return models.DatasetConfig{
		Prompt:           strings.TrimSpace(r.Prompt),
		Schema:           schema,
		MaxPagesPerChunk: r.MaxPagesPerChunk,
		Options:          r.ProcessingOptions.Resolve(),
	}, nil
}

// schemaText accepts a schema stored either as JSON text or as a nested map.
func schemaText(v interface{}) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(s), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func notFound(dataset string, err error) error {
	return models.ConfigurationError(fmt.Sprintf("no configuration found for dataset %q", dataset), err)
}
