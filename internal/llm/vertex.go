package llm

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// VertexProvider calls Gemini models on Vertex AI.
type VertexProvider struct {
	client          *genai.Client
	model           string
	maxOutputTokens int32
}

// NewVertexProvider creates a provider for model in projectID/region.
func NewVertexProvider(ctx context.Context, projectID, region, model string, maxOutputTokens int) (*VertexProvider, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexProvider: projectID and region cannot be empty")
	}
	if model == "" {
		model = "gemini-1.5-pro"
	}

	client, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &VertexProvider{client: client, model: model, maxOutputTokens: int32(maxOutputTokens)}, nil
}

// Complete sends req as a single generate-content call.
func (p *VertexProvider) Complete(ctx context.Context, req Request) (Completion, error) {
	model := p.client.GenerativeModel(p.model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}
	if req.JSON {
		model.GenerationConfig.ResponseMIMEType = "application/json"
	}
	if p.maxOutputTokens > 0 {
		model.GenerationConfig.MaxOutputTokens = genai.Ptr(p.maxOutputTokens)
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	parts := make([]genai.Part, 0, len(req.Images)+1)
	parts = append(parts, genai.Text(req.Prompt))
	for _, img := range req.Images {
		parts = append(parts, genai.Blob{MIMEType: img.MIMEType, Data: img.Data})
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return Completion{}, fmt.Errorf("vertex generate content: %w", err)
	}
	return vertexCompletion(resp), nil
}

func vertexCompletion(resp *genai.GenerateContentResponse) Completion {
	var out Completion
	if resp == nil {
		out.FinishReason = FinishOther
		return out
	}
	if resp.UsageMetadata != nil {
		out.Usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.Usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		out.Usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		out.FinishReason = FinishOther
		return out
	}

	cand := resp.Candidates[0]
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	out.Content = sb.String()

	switch cand.FinishReason {
	case genai.FinishReasonMaxTokens:
		out.FinishReason = FinishLength
	case genai.FinishReasonStop, genai.FinishReasonUnspecified:
		out.FinishReason = FinishStop
	case genai.FinishReasonSafety:
		out.FinishReason = FinishSafety
	default:
		out.FinishReason = FinishOther
	}
	return out
}

// Close releases the underlying client.
func (p *VertexProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
