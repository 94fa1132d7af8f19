package judge

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"

	"github.com/sells-group/search-eval/internal/config"
	"github.com/sells-group/search-eval/internal/resilience"
	"github.com/sells-group/search-eval/pkg/anthropic"
	"github.com/sells-group/search-eval/pkg/ollama"
)

// Judge backends.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// NewGenerator returns the backend named by cfg.Provider.
func NewGenerator(cfg config.JudgeConfig) (Generator, error) {
	switch cfg.Provider {
	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, ollama.WithTimeout(cfg.Timeout))
		}
		return &OllamaGenerator{Client: ollama.NewClient(opts...), Model: cfg.Model}, nil

	case ProviderOpenAI:
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
		}
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
		return &OpenAIGenerator{Client: openai.NewClientWithConfig(oc), Model: cfg.Model, Seed: cfg.Seed}, nil

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, eris.New("judge: anthropic provider needs an api key")
		}
		opts := []anthropic.Option{anthropic.WithMaxRetries(0)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, anthropic.WithRequestTimeout(cfg.Timeout))
		}
		return &AnthropicGenerator{
			Client:    anthropic.NewClient(cfg.APIKey, opts...),
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		}, nil

	default:
		return nil, eris.Errorf("judge: unsupported provider %q", cfg.Provider)
	}
}

// OllamaGenerator calls a local Ollama server in JSON mode at temperature 0.
type OllamaGenerator struct {
	Client ollama.Client
	Model  string
}

func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.Client.Generate(ctx, ollama.GenerateRequest{
		Model:   g.Model,
		Prompt:  prompt,
		Format:  "json",
		Options: &ollama.Options{Temperature: 0},
	})
	if err != nil {
		var se *ollama.StatusError
		if errors.As(err, &se) {
			return "", resilience.FromStatus(err, se.StatusCode)
		}
		return "", err
	}
	return strings.TrimSpace(resp.Response), nil
}

// OpenAIGenerator calls an OpenAI-compatible chat endpoint with a JSON
// object response format.
type OpenAIGenerator struct {
	Client *openai.Client
	Model  string
	Seed   int64
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	seed := int(g.Seed)
	resp, err := g.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0,
		Seed:        &seed,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		err = eris.Wrap(err, "openai: chat completion")
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", resilience.FromStatus(err, apiErr.HTTPStatusCode)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		// An empty reply is recovered by the slot parser like any other.
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// AnthropicGenerator calls the Messages API at temperature 0.
type AnthropicGenerator struct {
	Client    anthropic.Client
	Model     string
	MaxTokens int64
}

func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	maxTokens := g.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}
	temp := 0.0
	resp, err := g.Client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       g.Model,
		MaxTokens:   maxTokens,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return "", resilience.FromStatus(err, anthropic.StatusCode(err))
	}
	resp.Usage.LogCost(g.Model, "judge")
	return strings.TrimSpace(resp.Text()), nil
}
