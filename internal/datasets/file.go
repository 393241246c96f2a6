package datasets

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Lllllllleong/documentextraction/internal/models"
)

type fileConfig struct {
	Datasets map[string]record `yaml:"datasets"`
}

// File serves dataset configurations from a YAML file loaded once at startup:
//
//	datasets:
//	  invoices:
//	    prompt: Extract the invoice header and line items.
//	    schema: '{"vendor": "string", "total": "number"}'
//	    max_pages_per_chunk: 10
//	    processing_options:
//	      enable_summary: false
type File struct {
	datasets map[string]record
}

// LoadFile reads and parses path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading datasets file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile parses YAML dataset configurations.
func ParseFile(data []byte) (*File, error) {
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing datasets file: %w", err)
	}
	if cfg.Datasets == nil {
		cfg.Datasets = map[string]record{}
	}
	return &File{datasets: cfg.Datasets}, nil
}

func (f *File) GetDatasetConfig(_ context.Context, dataset string) (models.DatasetConfig, error) {
	rec, ok := f.datasets[dataset]
	if !ok {
		return models.DatasetConfig{}, notFound(dataset, nil)
	}
	return rec.toConfig(dataset)
}
