package models

import (
	"strings"
	"time"
)

// Stage names a step of the per-document pipeline. "processing" is the overall state.
type Stage string

const (
	StageOCR        Stage = "ocr"
	StageExtraction Stage = "extraction"
	StageEvaluation Stage = "evaluation"
	StageSummary    Stage = "summary"
	StageProcessing Stage = "processing"
)

// PipelineStages lists the stages in the order they run.
var PipelineStages = []Stage{StageOCR, StageExtraction, StageEvaluation, StageSummary}

// StageStatus is the terminal state of one stage.
type StageStatus string

const (
	StatusNotStarted StageStatus = "not_started"
	StatusCompleted  StageStatus = "completed"
	StatusSkipped    StageStatus = "skipped"
	StatusFailed     StageStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s StageStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusSkipped || s == StatusFailed
}

// StageState records the status of a stage and how long it ran.
type StageState struct {
	Status         StageStatus `firestore:"status" json:"status"`
	ElapsedSeconds float64     `firestore:"elapsedSeconds" json:"elapsed_seconds"`
}

// State holds one StageState per pipeline stage plus the overall processing state.
type State struct {
	OCR        StageState `firestore:"ocr" json:"ocr"`
	Extraction StageState `firestore:"extraction" json:"extraction"`
	Evaluation StageState `firestore:"evaluation" json:"evaluation"`
	Summary    StageState `firestore:"summary" json:"summary"`
	Processing StageState `firestore:"processing" json:"processing"`

	FileLanded          bool `firestore:"fileLanded" json:"file_landed"`
	ProcessingCompleted bool `firestore:"processingCompleted" json:"processing_completed"`
}

// NewState returns a State with every stage not started.
func NewState() State {
	ns := StageState{Status: StatusNotStarted}
	return State{OCR: ns, Extraction: ns, Evaluation: ns, Summary: ns, Processing: ns}
}

// Get returns a pointer to the StageState for stage, or nil for an unknown stage.
func (s *State) Get(stage Stage) *StageState {
	switch stage {
	case StageOCR:
		return &s.OCR
	case StageExtraction:
		return &s.Extraction
	case StageEvaluation:
		return &s.Evaluation
	case StageSummary:
		return &s.Summary
	case StageProcessing:
		return &s.Processing
	}
	return nil
}

// Properties describe the source file.
type Properties struct {
	BlobName         string    `firestore:"blobName" json:"blob_name"`
	BlobSize         int64     `firestore:"blobSize" json:"blob_size"`
	FileHash         string    `firestore:"fileHash" json:"file_hash"`
	PageCount        int       `firestore:"pageCount" json:"page_count"`
	RequestTimestamp time.Time `firestore:"requestTimestamp" json:"request_timestamp"`
}

// ExtractedData holds stage outputs. Extraction maps are keyed by page range.
type ExtractedData struct {
	OCROutput                         string                 `firestore:"ocrOutput" json:"ocr_output"`
	GPTExtractionOutput               map[string]interface{} `firestore:"gptExtractionOutput" json:"gpt_extraction_output"`
	GPTExtractionOutputWithEvaluation map[string]interface{} `firestore:"gptExtractionOutputWithEvaluation" json:"gpt_extraction_output_with_evaluation"`
	Classification                    string                 `firestore:"classification" json:"classification"`
	Summary                           string                 `firestore:"summary" json:"summary"`
}

// ModelInput is the dataset configuration the document was processed with.
type ModelInput struct {
	Prompt           string `firestore:"prompt" json:"prompt"`
	Schema           string `firestore:"schema" json:"schema"`
	MaxPagesPerChunk int    `firestore:"maxPagesPerChunk" json:"max_pages_per_chunk"`
}

// Usage accumulates LLM token counts across all calls for a document.
type Usage struct {
	PromptTokens     int `firestore:"promptTokens" json:"prompt_tokens"`
	CompletionTokens int `firestore:"completionTokens" json:"completion_tokens"`
	TotalTokens      int `firestore:"totalTokens" json:"total_tokens"`
}

// Add sums o into u.
func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// Document represents the progress record for one processed file in Firestore.
// It is written only by the worker running that document's pipeline, always as a full record.
type Document struct {
	ID                string            `firestore:"id" json:"id"`
	Dataset           string            `firestore:"dataset" json:"dataset"`
	RunID             string            `firestore:"runId,omitempty" json:"run_id,omitempty"`
	Properties        Properties        `firestore:"properties" json:"properties"`
	State             State             `firestore:"state" json:"state"`
	ExtractedData     ExtractedData     `firestore:"extractedData" json:"extracted_data"`
	ModelInput        ModelInput        `firestore:"modelInput" json:"model_input"`
	ProcessingOptions ProcessingOptions `firestore:"processingOptions" json:"processing_options"`
	Usage             Usage             `firestore:"usage" json:"usage"`
	Errors            []ErrorEntry      `firestore:"errors" json:"errors"`
	UpdatedAt         time.Time         `firestore:"updatedAt" json:"updated_at"`
}

// NewDocument creates the initial record for an accepted event.
func NewDocument(fileReference, dataset string, now time.Time) *Document {
	return &Document{
		ID:      DocumentID(fileReference),
		Dataset: dataset,
		Properties: Properties{
			BlobName:         fileReference,
			RequestTimestamp: now,
		},
		State: func() State {
			s := NewState()
			s.FileLanded = true
			return s
		}(),
		ExtractedData: ExtractedData{
			GPTExtractionOutput:               map[string]interface{}{},
			GPTExtractionOutputWithEvaluation: map[string]interface{}{},
		},
		ProcessingOptions: DefaultProcessingOptions(),
		Errors:            []ErrorEntry{},
		UpdatedAt:         now,
	}
}

// DocumentID derives the record id from a file reference. The transform is deterministic so a
// re-upload of the same path overwrites the previous record.
func DocumentID(fileReference string) string {
	ref := fileReference
	if i := strings.Index(ref, "://"); i >= 0 {
		ref = ref[i+3:]
	}
	ref = strings.Trim(ref, "/")
	return strings.ReplaceAll(ref, "/", "__")
}
