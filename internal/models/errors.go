package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a processing failure.
type ErrorKind string

const (
	KindStage          ErrorKind = "stage_error"
	KindTruncation     ErrorKind = "truncation_error"
	KindJSONParse      ErrorKind = "json_parse_error"
	KindNoInput        ErrorKind = "no_input_error"
	KindConfiguration  ErrorKind = "configuration_error"
	KindTimeout        ErrorKind = "timeout_error"
	KindCleanupWarning ErrorKind = "resource_cleanup_warning"
)

// Fatal reports whether an error of this kind aborts the document.
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindJSONParse, KindCleanupWarning:
		return false
	}
	return true
}

// ProcessingError is a classified error carrying enough context to be persisted on the record.
type ProcessingError struct {
	Kind    ErrorKind
	Stage   Stage
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *ProcessingError) Error() string {
	prefix := string(e.Kind)
	if e.Stage != "" {
		prefix = fmt.Sprintf("%s/%s", e.Kind, e.Stage)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// NewError creates a ProcessingError.
func NewError(kind ErrorKind, stage Stage, message string, err error) *ProcessingError {
	return &ProcessingError{Kind: kind, Stage: stage, Message: message, Err: err}
}

// StageError wraps a failed provider call.
func StageError(stage Stage, message string, err error) *ProcessingError {
	return NewError(KindStage, stage, message, err)
}

// NoInputError is returned when a chunk has neither OCR text nor images.
func NoInputError(message string) *ProcessingError {
	return NewError(KindNoInput, StageExtraction, message, nil)
}

// ConfigurationError is returned when a dataset has no usable configuration.
func ConfigurationError(message string, err error) *ProcessingError {
	return NewError(KindConfiguration, "", message, err)
}

// TimeoutError is returned when a document exceeds its wall-clock budget.
func TimeoutError(message string, err error) *ProcessingError {
	return NewError(KindTimeout, StageProcessing, message, err)
}

// WithDetails attaches structured details and returns e.
func (e *ProcessingError) WithDetails(details map[string]interface{}) *ProcessingError {
	if e.Details == nil {
		e.Details = make(map[string]interface{}, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// KindOf returns the kind of err, defaulting to stage_error for unclassified errors.
func KindOf(err error) ErrorKind {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindStage
}

// ErrorEntry is the persisted form of an error on the document record.
type ErrorEntry struct {
	Kind      ErrorKind              `firestore:"kind" json:"kind"`
	Stage     Stage                  `firestore:"stage,omitempty" json:"stage,omitempty"`
	Message   string                 `firestore:"message" json:"message"`
	Details   map[string]interface{} `firestore:"details,omitempty" json:"details,omitempty"`
	Timestamp time.Time              `firestore:"timestamp" json:"timestamp"`
}

// NewErrorEntry converts err into an ErrorEntry. Unclassified errors are recorded against stage.
func NewErrorEntry(err error, stage Stage, now time.Time) ErrorEntry {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		entryStage := pe.Stage
		if entryStage == "" {
			entryStage = stage
		}
		return ErrorEntry{
			Kind:      pe.Kind,
			Stage:     entryStage,
			Message:   pe.Error(),
			Details:   pe.Details,
			Timestamp: now,
		}
	}
	return ErrorEntry{Kind: KindStage, Stage: stage, Message: err.Error(), Timestamp: now}
}
