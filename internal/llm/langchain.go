package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainProvider adapts any langchaingo model.
type LangChainProvider struct {
	name      string
	model     llms.Model
	maxTokens int
}

// NewLangChainProvider wraps an already constructed langchaingo model. name selects the image
// encoding: openai takes data URLs, every other backend takes binary parts.
func NewLangChainProvider(name string, model llms.Model, maxTokens int) *LangChainProvider {
	return &LangChainProvider{name: strings.ToLower(name), model: model, maxTokens: maxTokens}
}

// NewOpenAIProvider creates an OpenAI backed provider.
func NewOpenAIProvider(apiKey, model string, maxTokens int) (*LangChainProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is not set")
	}
	m, err := openai.New(openai.WithModel(model), openai.WithToken(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return NewLangChainProvider("openai", m, maxTokens), nil
}

// NewOllamaProvider creates an Ollama backed provider.
func NewOllamaProvider(baseURL, model string, maxTokens int) (*LangChainProvider, error) {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	m, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return NewLangChainProvider("ollama", m, maxTokens), nil
}

// Complete sends req as a system plus human message pair.
func (p *LangChainProvider) Complete(ctx context.Context, req Request) (Completion, error) {
	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}

	parts := make([]llms.ContentPart, 0, len(req.Images)+1)
	for _, img := range req.Images {
		if p.name == "openai" {
			parts = append(parts, llms.ImageURLPart("data:"+img.MIMEType+";base64,"+base64.StdEncoding.EncodeToString(img.Data)))
		} else {
			parts = append(parts, llms.BinaryPart(img.MIMEType, img.Data))
		}
	}
	parts = append(parts, llms.TextPart(req.Prompt))
	messages = append(messages, llms.MessageContent{Role: llms.ChatMessageTypeHuman, Parts: parts})

	opts := []llms.CallOption{llms.WithTemperature(0)}
	if p.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(p.maxTokens))
	}
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	resp, err := p.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return Completion{}, fmt.Errorf("error getting response from LLM: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Completion{FinishReason: FinishOther}, nil
	}

	choice := resp.Choices[0]
	out := Completion{
		Content:      choice.Content,
		FinishReason: NormalizeFinishReason(choice.StopReason),
	}
	out.Usage.PromptTokens = intInfo(choice.GenerationInfo, "PromptTokens")
	out.Usage.CompletionTokens = intInfo(choice.GenerationInfo, "CompletionTokens")
	out.Usage.TotalTokens = intInfo(choice.GenerationInfo, "TotalTokens")
	if out.Usage.TotalTokens == 0 {
		out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
	}
	return out, nil
}

func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
