package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Completion defaults.
const (
	DefaultModel           = openai.GPT4oMini
	DefaultTemperature     = 0.7
	DefaultMaxTokens       = 500
	DefaultAzureAPIVersion = "2023-07-01-preview"
)

// OpenAIConfig configures the chat completer. When AzureEndpoint is set the
// client talks to an Azure OpenAI deployment instead of the OpenAI API.
type OpenAIConfig struct {
	APIKey          string
	Model           string
	BaseURL         string // Overrides the OpenAI API URL
	AzureEndpoint   string
	AzureDeployment string
	AzureAPIVersion string
	Temperature     float32
	MaxTokens       int
}

// OpenAICompleter implements Completer with go-openai.
type OpenAICompleter struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAI creates a completer.
func NewOpenAI(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	var clientCfg openai.ClientConfig
	if cfg.AzureEndpoint != "" {
		if cfg.AzureDeployment == "" {
			return nil, errors.New("openai: azure deployment is required")
		}
		clientCfg = openai.DefaultAzureConfig(cfg.APIKey, strings.TrimSuffix(cfg.AzureEndpoint, "/"))
		clientCfg.APIVersion = cfg.AzureAPIVersion
		if clientCfg.APIVersion == "" {
			clientCfg.APIVersion = DefaultAzureAPIVersion
		}
		deployment := cfg.AzureDeployment
		clientCfg.AzureModelMapperFunc = func(string) string { return deployment }
		if cfg.Model == "" {
			cfg.Model = deployment
		}
	} else {
		clientCfg = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	return &OpenAICompleter{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Complete sends a system and a user message and returns the first choice.
func (c *OpenAICompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
