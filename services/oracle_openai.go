package services

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible provider. BaseURL selects
// Groq or any other compatible endpoint.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAICompleter implements Completer with the Chat Completions API.
type OpenAICompleter struct {
	client *openai.Client
	model  string
}

func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI-compatible API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("OpenAI-compatible model must be specified")
	}

	var client *openai.Client
	if cfg.BaseURL != "" {
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = cfg.BaseURL
		client = openai.NewClientWithConfig(clientConfig)
	} else {
		client = openai.NewClient(cfg.APIKey)
	}
	return &OpenAICompleter{client: client, model: cfg.Model}, nil
}

func (c *OpenAICompleter) Name() string {
	return "openai"
}

func (c *OpenAICompleter) Complete(ctx context.Context, request CompletionRequest) (CompletionResult, error) {
	chatRequest := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: request.System},
			{Role: openai.ChatMessageRoleUser, Content: request.User},
		},
		Temperature: request.Temperature,
		MaxTokens:   request.MaxTokens,
	}
	if request.JSON {
		chatRequest.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	response, err := c.client.CreateChatCompletion(ctx, chatRequest)
	if err != nil {
		return CompletionResult{}, err
	}
	if len(response.Choices) == 0 {
		return CompletionResult{}, errors.New("no choices in completion response")
	}

	return CompletionResult{
		Text:             response.Choices[0].Message.Content,
		PromptTokens:     response.Usage.PromptTokens,
		CompletionTokens: response.Usage.CompletionTokens,
	}, nil
}
