package services

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

// GeminiCompleter implements Completer with the Gemini API.
type GeminiCompleter struct {
	client *genai.Client
	model  string
}

func NewGeminiCompleter(ctx context.Context, apiKey, model string) (*GeminiCompleter, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiCompleter{client: client, model: model}, nil
}

func (c *GeminiCompleter) Name() string {
	return "gemini"
}

func (c *GeminiCompleter) Complete(ctx context.Context, request CompletionRequest) (CompletionResult, error) {
	temperature := request.Temperature
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(request.System, genai.RoleUser),
		Temperature:       &temperature,
		MaxOutputTokens:   int32(request.MaxTokens),
	}
	if request.JSON {
		config.ResponseMIMEType = "application/json"
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(request.User), config)
	if err != nil {
		return CompletionResult{}, err
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return CompletionResult{}, errors.New("no candidates in Gemini response")
	}

	var text strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}

	completion := CompletionResult{Text: text.String()}
	if usage := result.UsageMetadata; usage != nil {
		completion.PromptTokens = int(usage.PromptTokenCount)
		completion.CompletionTokens = int(usage.CandidatesTokenCount)
	}
	return completion, nil
}
