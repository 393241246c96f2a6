// Package llm wraps the language model backends used by the pipeline stages behind one
// request/response shape with normalized finish reasons and token usage.
package llm

import (
	"context"
	"strings"

	"github.com/Lllllllleong/documentextraction/internal/models"
)

// Normalized finish reasons.
const (
	FinishStop   = "stop"
	FinishLength = "length"
	FinishSafety = "safety"
	FinishOther  = "other"
)

// Image is one inline image attached to a request.
type Image struct {
	MIMEType string
	Data     []byte
}

// Request is a single-turn completion request.
type Request struct {
	System string
	Prompt string
	Images []Image
	// JSON asks the backend to constrain output to JSON where it supports it.
	JSON bool
}

// Completion is a backend response.
type Completion struct {
	Content      string
	FinishReason string
	Usage        models.Usage
}

// Provider is implemented by every model backend.
type Provider interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (Completion, error)

func (f ProviderFunc) Complete(ctx context.Context, req Request) (Completion, error) {
	return f(ctx, req)
}

// NormalizeFinishReason maps backend specific reasons onto the normalized set.
func NormalizeFinishReason(reason string) string {
	r := strings.ToLower(strings.TrimSpace(reason))
	r = strings.TrimPrefix(r, "finish_reason_")
	r = strings.TrimPrefix(r, "finishreason")
	switch r {
	case "", "stop", "end_turn", "stop_sequence", "eos":
		return FinishStop
	case "length", "max_tokens", "maxtokens", "max_output_tokens":
		return FinishLength
	case "safety", "content_filter":
		return FinishSafety
	}
	return FinishOther
}
