package models

import (
	"encoding/json"
	"fmt"
)

// ProcessingOptions toggle the optional stages. Every option defaults to true.
type ProcessingOptions struct {
	IncludeOCR       bool `firestore:"includeOcr" json:"include_ocr" yaml:"include_ocr"`
	IncludeImages    bool `firestore:"includeImages" json:"include_images" yaml:"include_images"`
	EnableSummary    bool `firestore:"enableSummary" json:"enable_summary" yaml:"enable_summary"`
	EnableEvaluation bool `firestore:"enableEvaluation" json:"enable_evaluation" yaml:"enable_evaluation"`
}

// DefaultProcessingOptions returns all options enabled.
func DefaultProcessingOptions() ProcessingOptions {
	return ProcessingOptions{
		IncludeOCR:       true,
		IncludeImages:    true,
		EnableSummary:    true,
		EnableEvaluation: true,
	}
}

// StageEnabled reports whether stage runs under these options. Extraction always runs.
func (o ProcessingOptions) StageEnabled(stage Stage) bool {
	switch stage {
	case StageOCR:
		return o.IncludeOCR
	case StageEvaluation:
		return o.EnableEvaluation
	case StageSummary:
		return o.EnableSummary
	}
	return true
}

// ProcessingOptionsInput is the wire shape of the options where absent keys mean "use the default".
// It is decoded from JSON, YAML and Firestore and resolved once into ProcessingOptions.
type ProcessingOptionsInput struct {
	IncludeOCR       *bool `firestore:"include_ocr" json:"include_ocr" yaml:"include_ocr"`
	IncludeImages    *bool `firestore:"include_images" json:"include_images" yaml:"include_images"`
	EnableSummary    *bool `firestore:"enable_summary" json:"enable_summary" yaml:"enable_summary"`
	EnableEvaluation *bool `firestore:"enable_evaluation" json:"enable_evaluation" yaml:"enable_evaluation"`
}

// Resolve fills absent options with their defaults.
func (in ProcessingOptionsInput) Resolve() ProcessingOptions {
	opts := DefaultProcessingOptions()
	if in.IncludeOCR != nil {
		opts.IncludeOCR = *in.IncludeOCR
	}
	if in.IncludeImages != nil {
		opts.IncludeImages = *in.IncludeImages
	}
	if in.EnableSummary != nil {
		opts.EnableSummary = *in.EnableSummary
	}
	if in.EnableEvaluation != nil {
		opts.EnableEvaluation = *in.EnableEvaluation
	}
	return opts
}

// ParseProcessingOptions decodes the JSON wire shape, applying defaults for absent keys.
func ParseProcessingOptions(data []byte) (ProcessingOptions, error) {
	if len(data) == 0 {
		return DefaultProcessingOptions(), nil
	}
	var in ProcessingOptionsInput
	if err := json.Unmarshal(data, &in); err != nil {
		return ProcessingOptions{}, fmt.Errorf("invalid processing options: %w", err)
	}
	return in.Resolve(), nil
}

// DatasetConfig is everything the pipeline needs to know about a dataset.
type DatasetConfig struct {
	Prompt           string
	Schema           string
	MaxPagesPerChunk int
	Options          ProcessingOptions
}
